// Package local is the single-process implementation of process.Registry
// and process.Mailbox: a mutex-guarded map of held names and a fan-out table of
// buffered channels per topic. It is the default backend and what the
// integration tests run against.
package local

import (
	"context"
	"sync"

	"github.com/flowcraft/dataflow/internal/process"
)

const mailboxBufferSize = 256

// Registry is an in-memory process.Registry.
type Registry struct {
	mu      sync.Mutex
	holders map[string]process.Pid
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{holders: make(map[string]process.Pid)}
}

// Register implements process.Registry.
func (r *Registry) Register(_ context.Context, name string, pid process.Pid) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, held := r.holders[name]; held && existing != pid {
		return false, nil
	}
	r.holders[name] = pid
	return true, nil
}

// Lookup implements process.Registry.
func (r *Registry) Lookup(_ context.Context, name string) (process.Pid, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid, ok := r.holders[name]
	return pid, ok, nil
}

// Release implements process.Registry.
func (r *Registry) Release(_ context.Context, name string, pid process.Pid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holders[name] == pid {
		delete(r.holders, name)
	}
	return nil
}

// Mailbox is an in-memory, fan-out process.Mailbox: every Listen call on a
// topic gets its own buffered channel, and Send delivers to all of them.
type Mailbox struct {
	mu          sync.Mutex
	subscribers map[string]map[chan process.Message]struct{}
}

// NewMailbox builds an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{subscribers: make(map[string]map[chan process.Message]struct{})}
}

// Send implements process.Mailbox. A full subscriber channel drops the
// message for that subscriber rather than blocking the sender.
func (m *Mailbox) Send(_ context.Context, topic string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ch := range m.subscribers[topic] {
		select {
		case ch <- process.Message{Topic: topic, Payload: payload}:
		default:
		}
	}
	return nil
}

// Listen implements process.Mailbox.
func (m *Mailbox) Listen(_ context.Context, topic string) (<-chan process.Message, func()) {
	ch := make(chan process.Message, mailboxBufferSize)

	m.mu.Lock()
	if m.subscribers[topic] == nil {
		m.subscribers[topic] = make(map[chan process.Message]struct{})
	}
	m.subscribers[topic][ch] = struct{}{}
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers[topic], ch)
		if len(m.subscribers[topic]) == 0 {
			delete(m.subscribers, topic)
		}
		close(ch)
	}
	return ch, cancel
}
