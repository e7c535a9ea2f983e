// Package ops implements the command engine: the sole path through which
// dataflows, nodes and data records are mutated, whether applied
// immediately (Execute) or deferred through the commit log (Submit).
package ops

import (
	"fmt"

	"github.com/flowcraft/dataflow/internal/models"
)

// CommandError reports which command in a batch failed, so a caller can
// tell a submitter exactly which entry to fix and retry.
type CommandError struct {
	Index int
	Type  models.CommandType
	Err   error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
