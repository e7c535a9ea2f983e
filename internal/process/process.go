// Package process abstracts the mailbox and registry primitives the
// orchestrator, command engine and node runtime use to coordinate: naming a
// workflow's driver, sending topic-addressed messages, and listening for
// them. Two implementations satisfy it: process/local (single process) and
// process/redisproc (distributed).
package process

import "context"

// Pid identifies a spawned logical process (a driver or worker). It carries
// no operating-system meaning; it is only ever compared for equality or
// used as a registry/cancellation key.
type Pid string

// Message is a topic-addressed payload delivered to a Listen channel.
type Message struct {
	Topic   string
	Payload any
}

// Registry enforces at most one active holder per name, implementing the
// "second spawn with the same name is rejected" rule that keeps a workflow
// to a single driver.
type Registry interface {
	// Register claims name for pid. ok is false (with a nil error) when
	// another pid already holds name; err is non-nil only on a backend
	// failure (e.g. Redis unavailable).
	Register(ctx context.Context, name string, pid Pid) (ok bool, err error)
	// Lookup returns the pid currently holding name, if any.
	Lookup(ctx context.Context, name string) (pid Pid, ok bool, err error)
	// Release gives up a held name. Safe to call on a name this holder does
	// not own; it is then a no-op.
	Release(ctx context.Context, name string, pid Pid) error
}

// Mailbox delivers topic-addressed messages between drivers, workers, and
// submitters.
type Mailbox interface {
	// Send delivers payload to every current listener of topic. It does not
	// block on delivery and never errors because no listener is present.
	Send(ctx context.Context, topic string, payload any) error
	// Listen returns a channel of messages sent to topic and a cancel func
	// that stops delivery and releases the channel. The channel is closed
	// after cancel is called.
	Listen(ctx context.Context, topic string) (<-chan Message, func())
}
