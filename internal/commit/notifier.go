package commit

import (
	"context"
	"fmt"

	"github.com/flowcraft/dataflow/internal/process"
)

// CommitNotification is the payload delivered on topic "dataflow:<id>"
// whenever a new commit lands, whether via Execute or Submit.
type CommitNotification struct {
	DataflowID string `json:"dataflow_id"`
	CommitID   string `json:"commit_id"`
}

// MailboxNotifier implements ops.Notifier over a process.Mailbox, sending a
// "commit" message to the workflow driver's topic so it wakes and drains
// pending commits.
type MailboxNotifier struct {
	mailbox process.Mailbox
}

// NewMailboxNotifier builds a MailboxNotifier over mailbox.
func NewMailboxNotifier(mailbox process.Mailbox) *MailboxNotifier {
	return &MailboxNotifier{mailbox: mailbox}
}

// Notify implements ops.Notifier.
func (n *MailboxNotifier) Notify(ctx context.Context, dataflowID, commitID string) error {
	topic := DriverTopic(dataflowID)
	if err := n.mailbox.Send(ctx, topic, CommitNotification{DataflowID: dataflowID, CommitID: commitID}); err != nil {
		return fmt.Errorf("notify driver on %s: %w", topic, err)
	}
	return nil
}

// DriverTopic is the mailbox topic a workflow's driver listens on.
func DriverTopic(dataflowID string) string {
	return "dataflow:" + dataflowID
}

// YieldRequestTopic is the mailbox topic a driver listens on for
// yield_request messages from its workers.
func YieldRequestTopic(dataflowID string) string {
	return "yield_request:" + dataflowID
}

// YieldReplyTopic is the mailbox topic a worker listens on for its yield's
// reply, scoped by the yielding node.
func YieldReplyTopic(nodeID string) string {
	return "yield_reply:" + nodeID
}

// DriverRegistryName is the process-registry name used to enforce a single
// active driver per workflow.
func DriverRegistryName(dataflowID string) string {
	return "dataflow." + dataflowID
}
