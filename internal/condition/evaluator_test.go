package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_EmptyExpressionAlwaysMatches(t *testing.T) {
	e := NewEvaluator()

	ok, err := e.Evaluate("", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate("", map[string]any{"status": "error"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_EvaluatesBooleanExpressionsAgainstOutput(t *testing.T) {
	e := NewEvaluator()

	cases := []struct {
		name   string
		expr   string
		output any
		want   bool
	}{
		{"matching map field", `output.status == "ok"`, map[string]any{"status": "ok"}, true},
		{"non-matching map field", `output.status == "ok"`, map[string]any{"status": "error"}, false},
		{"numeric comparison", `output.count > 10`, map[string]any{"count": 42}, true},
		{"negated comparison", `output.count <= 10`, map[string]any{"count": 42}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Evaluate(tc.expr, tc.output)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluator_CompileErrorIsReported(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate("output.status ==", map[string]any{})
	assert.Error(t, err)
}

func TestEvaluator_NonBooleanResultIsRejected(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate("output.count", map[string]any{"count": 42})
	assert.Error(t, err)
}

func TestEvaluator_CachesCompiledPrograms(t *testing.T) {
	e := NewEvaluator()
	expr := `output.status == "ok"`

	_, err := e.Evaluate(expr, map[string]any{"status": "ok"})
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache[expr]
	e.mu.RUnlock()
	assert.True(t, cached, "a previously-compiled expression must be reused from cache")
}
