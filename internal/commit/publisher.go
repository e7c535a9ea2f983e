package commit

import (
	"context"
	"fmt"

	"github.com/flowcraft/dataflow/internal/process"
)

// MailboxPublisher implements Publisher over a process.Mailbox, delivering
// every event to the owning actor's topic regardless of workflow, so a
// single client connection can observe every workflow it owns.
type MailboxPublisher struct {
	mailbox process.Mailbox
}

// NewMailboxPublisher builds a MailboxPublisher over mailbox.
func NewMailboxPublisher(mailbox process.Mailbox) *MailboxPublisher {
	return &MailboxPublisher{mailbox: mailbox}
}

// Publish implements Publisher.
func (p *MailboxPublisher) Publish(ctx context.Context, actorID string, event Event) error {
	topic := ActorTopic(actorID)
	if err := p.mailbox.Send(ctx, topic, event); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// ActorTopic is the mailbox topic a given actor's client connection
// listens on for workflow/node change events across all its workflows.
func ActorTopic(actorID string) string {
	return "user." + actorID
}
