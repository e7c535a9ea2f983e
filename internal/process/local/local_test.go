package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcraft/dataflow/internal/process"
)

func TestRegistry_RegisterEnforcesSingleHolder(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	ok, err := r.Register(ctx, "dataflow.wf-1", "pid-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Register(ctx, "dataflow.wf-1", "pid-b")
	require.NoError(t, err)
	assert.False(t, ok, "a second pid must not be able to claim an already-held name")

	// The original holder re-registering its own name is idempotent.
	ok, err = r.Register(ctx, "dataflow.wf-1", "pid-a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistry_LookupAndRelease(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	_, held, err := r.Lookup(ctx, "dataflow.wf-2")
	require.NoError(t, err)
	assert.False(t, held)

	_, err = r.Register(ctx, "dataflow.wf-2", "pid-a")
	require.NoError(t, err)

	pid, held, err := r.Lookup(ctx, "dataflow.wf-2")
	require.NoError(t, err)
	require.True(t, held)
	assert.Equal(t, process.Pid("pid-a"), pid)

	// Releasing with the wrong pid is a no-op.
	require.NoError(t, r.Release(ctx, "dataflow.wf-2", "pid-b"))
	_, held, _ = r.Lookup(ctx, "dataflow.wf-2")
	assert.True(t, held)

	require.NoError(t, r.Release(ctx, "dataflow.wf-2", "pid-a"))
	_, held, _ = r.Lookup(ctx, "dataflow.wf-2")
	assert.False(t, held)

	// And a second claimant can now take the freed name.
	ok, err := r.Register(ctx, "dataflow.wf-2", "pid-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMailbox_FanOutToEveryListener(t *testing.T) {
	ctx := context.Background()
	m := NewMailbox()

	ch1, cancel1 := m.Listen(ctx, "topic-a")
	defer cancel1()
	ch2, cancel2 := m.Listen(ctx, "topic-a")
	defer cancel2()

	require.NoError(t, m.Send(ctx, "topic-a", "hello"))

	for _, ch := range []<-chan process.Message{ch1, ch2} {
		select {
		case msg := <-ch:
			assert.Equal(t, "topic-a", msg.Topic)
			assert.Equal(t, "hello", msg.Payload)
		case <-time.After(time.Second):
			t.Fatal("listener did not receive fanned-out message")
		}
	}
}

func TestMailbox_SendWithNoListenersDoesNotError(t *testing.T) {
	m := NewMailbox()
	assert.NoError(t, m.Send(context.Background(), "nobody-listening", "x"))
}

func TestMailbox_CancelStopsDeliveryAndClosesChannel(t *testing.T) {
	ctx := context.Background()
	m := NewMailbox()

	ch, cancel := m.Listen(ctx, "topic-b")
	cancel()

	_, open := <-ch
	assert.False(t, open, "channel must be closed once cancel is called")

	// Sending after cancel must not panic or block.
	require.NoError(t, m.Send(ctx, "topic-b", "x"))
}

func TestMailbox_FullSubscriberChannelDropsRatherThanBlocks(t *testing.T) {
	ctx := context.Background()
	m := NewMailbox()

	ch, cancel := m.Listen(ctx, "topic-c")
	defer cancel()

	for i := 0; i < mailboxBufferSize+10; i++ {
		require.NoError(t, m.Send(ctx, "topic-c", i))
	}

	assert.Len(t, ch, mailboxBufferSize)
}
