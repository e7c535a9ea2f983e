// Package commit packages commands into atomic commits, exposing the two
// write paths (submit vs execute) the rest of the system uses to mutate a
// workflow, plus the pending-commit query and publish contract layered on
// top of the command engine.
package commit

import (
	"context"
	"fmt"

	"github.com/flowcraft/dataflow/internal/models"
	"github.com/flowcraft/dataflow/internal/ops"
	"github.com/flowcraft/dataflow/internal/process"
	"github.com/flowcraft/dataflow/internal/store"
)

// ErrEmptyCommands is returned by Execute/Submit when given no commands.
var ErrEmptyCommands = fmt.Errorf("Commands array cannot be empty")

// Publisher fans a commit's derived events out to interested listeners.
// Real deployments route these onto the actor's mailbox topic; tests can
// supply a recording stub.
type Publisher interface {
	Publish(ctx context.Context, actorID string, event Event) error
}

// Event describes either a node event or a workflow event, tagged by Kind.
type Event struct {
	Kind         string // "node" or "workflow"
	DataflowID   string
	NodeID       string
	ParentNodeID string
	OpType       models.CommandType
	NodeType     string
	Status       string
	Metadata     map[string]any
	Deleted      bool
	UpdatedAt    string
}

// Log is the commit log: the boundary every mutation to a workflow passes
// through, whether applied immediately or deferred.
type Log struct {
	store     *store.Store
	engine    *ops.Engine
	mailbox   process.Mailbox
	publisher Publisher
}

// New builds a Log. mailbox and publisher may both be nil for engine-only
// unit tests that don't care about orchestrator wakeups or event fan-out.
func New(s *store.Store, engine *ops.Engine, mailbox process.Mailbox, publisher Publisher) *Log {
	return &Log{store: s, engine: engine, mailbox: mailbox, publisher: publisher}
}

// Execute opens a transaction, delegates to the command engine, commits,
// and — unless publish is false — emits change notifications derived from
// the batch.
func (l *Log) Execute(ctx context.Context, dataflowID, opID string, commands []models.Command, publish bool) (*models.Commit, error) {
	if len(commands) == 0 {
		return nil, ErrEmptyCommands
	}

	result, err := l.engine.Execute(ctx, dataflowID, opID, commands, nil)
	if err != nil {
		return nil, err
	}

	if publish && l.publisher != nil {
		if err := l.publishBatch(ctx, dataflowID, commands); err != nil {
			return result, fmt.Errorf("execute: publish: %w", err)
		}
	}
	return result, nil
}

// Submit writes a commit record without advancing last_commit_id, then
// notifies the workflow's driver via its mailbox so it can apply the commit
// on its own schedule.
func (l *Log) Submit(ctx context.Context, dataflowID, opID string, commands []models.Command) (*models.Commit, error) {
	if len(commands) == 0 {
		return nil, ErrEmptyCommands
	}
	return l.engine.Submit(ctx, dataflowID, opID, commands, nil)
}

// PendingCommits returns commit ids strictly greater than the workflow's
// last_commit_id, ascending.
func (l *Log) PendingCommits(ctx context.Context, dataflowID string) ([]string, error) {
	wf, err := l.store.Dataflows.GetByID(ctx, dataflowID)
	if err != nil {
		return nil, fmt.Errorf("pending commits: %w", err)
	}

	after := ""
	if wf.LastCommitID != nil {
		after = *wf.LastCommitID
	}

	commits, err := l.store.Commits.ListAfter(ctx, dataflowID, after)
	if err != nil {
		return nil, fmt.Errorf("pending commits: %w", err)
	}

	ids := make([]string, len(commits))
	for i, c := range commits {
		ids[i] = c.CommitID
	}
	return ids, nil
}

// publishBatch derives and emits events for a just-applied batch. Node
// events are strictly more informative than the workflow event, so their
// presence suppresses it.
func (l *Log) publishBatch(ctx context.Context, dataflowID string, commands []models.Command) error {
	wf, err := l.store.Dataflows.GetByID(ctx, dataflowID)
	if err != nil {
		return err
	}

	nodeEvents := nodeEventsFor(dataflowID, commands)
	if len(nodeEvents) > 0 {
		for _, ev := range nodeEvents {
			if err := l.publisher.Publish(ctx, wf.ActorID, ev); err != nil {
				return err
			}
		}
		return nil
	}

	if workflowEventsPresent(commands) {
		return l.publisher.Publish(ctx, wf.ActorID, Event{
			Kind:       "workflow",
			DataflowID: dataflowID,
			UpdatedAt:  wf.UpdatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
		})
	}
	return nil
}

func nodeEventsFor(dataflowID string, commands []models.Command) []Event {
	var events []Event
	for _, cmd := range commands {
		switch cmd.Type {
		case models.CmdCreateNode:
			p := cmd.CreateNode
			events = append(events, Event{
				Kind: "node", DataflowID: dataflowID, NodeID: p.NodeID, ParentNodeID: p.ParentNodeID,
				OpType: cmd.Type, NodeType: p.Type, Status: string(p.Status), Metadata: p.Metadata,
			})
		case models.CmdUpdateNode:
			p := cmd.UpdateNode
			events = append(events, Event{
				Kind: "node", DataflowID: dataflowID, NodeID: p.NodeID,
				OpType: cmd.Type, Status: string(p.Status),
			})
		case models.CmdDeleteNode:
			p := cmd.DeleteNode
			events = append(events, Event{
				Kind: "node", DataflowID: dataflowID, NodeID: p.NodeID, OpType: cmd.Type, Deleted: true,
			})
		}
	}
	return events
}

func workflowEventsPresent(commands []models.Command) bool {
	for _, cmd := range commands {
		switch cmd.Type {
		case models.CmdCreateWorkflow, models.CmdUpdateWorkflow, models.CmdDeleteWorkflow:
			return true
		}
	}
	return false
}
