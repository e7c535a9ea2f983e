package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowcraft/dataflow/internal/models"
	"github.com/flowcraft/dataflow/internal/store"
)

// Notifier tells the orchestrator a commit landed on a workflow, without
// the engine needing to know anything about process registries or
// mailboxes.
type Notifier interface {
	Notify(ctx context.Context, dataflowID, commitID string) error
}

// Engine is the sole path through which workflows, nodes and data records
// are mutated. Every mutation is expressed as a batch of commands recorded
// as one commit.
type Engine struct {
	store    *store.Store
	notifier Notifier
}

// New builds an Engine over the given store. notifier may be nil, in which
// case Submit records the commit but does not wake the orchestrator (tests
// exercising the engine in isolation commonly do this).
func New(s *store.Store, notifier Notifier) *Engine {
	return &Engine{store: s, notifier: notifier}
}

// Execute applies commands immediately and transactionally: every command
// either all take effect, or none do. The resulting commit is still
// appended to the log, so Execute is indistinguishable from a Submit
// immediately followed by orchestrator processing, from the log's point of
// view. A batch containing APPLY_COMMIT is the exception: it is not
// appended, since the commit it applies is already in the log.
func (e *Engine) Execute(ctx context.Context, dataflowID, opID string, commands []models.Command, metadata map[string]any) (*models.Commit, error) {
	commitID, err := newCommitID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	var result *models.Commit
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := e.applyAll(ctx, tx, dataflowID, commands, map[string]bool{}); err != nil {
			return err
		}

		// Ordinary batches become the new last_commit_id themselves. A batch
		// containing CREATE_WORKFLOW skips the touch (the row was just
		// inserted with fresh timestamps); a batch containing APPLY_COMMIT
		// skips it because applyCommitRef already advanced last_commit_id to
		// the drained commit's own id, which is the value the round-trip law
		// requires, not this wrapping commit's id.
		if len(commands) > 0 && !containsType(commands, models.CmdCreateWorkflow) && !containsType(commands, models.CmdApplyCommit) {
			if err := tx.Dataflows.Update(ctx, dataflowID, nil, nil, &commitID); err != nil {
				return fmt.Errorf("touch workflow: %w", err)
			}
		}

		commit := &models.Commit{
			CommitID:   commitID,
			DataflowID: dataflowID,
			Payload:    models.CommitPayload{OpID: opID, Commands: commands},
			Metadata:   metadata,
			CreatedAt:  now,
		}
		result = commit
		// A wrapper recorded after last_commit_id would itself be drained
		// later and apply the drained commit's commands a second time.
		if containsType(commands, models.CmdApplyCommit) {
			return nil
		}
		if err := tx.Commits.Create(ctx, commit); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, dataflowID, commitID); err != nil {
			return result, fmt.Errorf("execute: notify orchestrator: %w", err)
		}
	}
	return result, nil
}

// Submit records commands as a commit without applying them, then wakes
// the orchestrator (if one is registered) to process the commit
// asynchronously. Submit never blocks on command execution.
func (e *Engine) Submit(ctx context.Context, dataflowID, opID string, commands []models.Command, metadata map[string]any) (*models.Commit, error) {
	commitID, err := newCommitID()
	if err != nil {
		return nil, err
	}

	commit := &models.Commit{
		CommitID:   commitID,
		DataflowID: dataflowID,
		Payload:    models.CommitPayload{OpID: opID, Commands: commands},
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.Commits.Create(ctx, commit); err != nil {
		return nil, err
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, dataflowID, commitID); err != nil {
			return commit, fmt.Errorf("submit: notify orchestrator: %w", err)
		}
	}
	return commit, nil
}

func (e *Engine) applyAll(ctx context.Context, tx *store.Tx, dataflowID string, commands []models.Command, seenCommits map[string]bool) error {
	for i, cmd := range commands {
		if err := e.applyOne(ctx, tx, dataflowID, cmd, seenCommits); err != nil {
			return &CommandError{Index: i, Type: cmd.Type, Err: err}
		}
	}
	return nil
}

func (e *Engine) applyOne(ctx context.Context, tx *store.Tx, dataflowID string, cmd models.Command, seenCommits map[string]bool) error {
	switch cmd.Type {
	case models.CmdCreateNode:
		return applyCreateNode(ctx, tx, dataflowID, cmd.CreateNode)
	case models.CmdUpdateNode:
		return applyUpdateNode(ctx, tx, cmd.UpdateNode)
	case models.CmdDeleteNode:
		return applyDeleteNode(ctx, tx, cmd.DeleteNode)
	case models.CmdCreateData:
		return applyCreateData(ctx, tx, dataflowID, cmd.CreateData)
	case models.CmdUpdateData:
		return applyUpdateData(ctx, tx, dataflowID, cmd.UpdateData)
	case models.CmdDeleteData:
		return applyDeleteData(ctx, tx, cmd.DeleteData)
	case models.CmdCreateWorkflow:
		return applyCreateWorkflow(ctx, tx, cmd.CreateWorkflow)
	case models.CmdUpdateWorkflow:
		return applyUpdateWorkflow(ctx, tx, cmd.UpdateWorkflow)
	case models.CmdDeleteWorkflow:
		return applyDeleteWorkflow(ctx, tx, cmd.DeleteWorkflow)
	case models.CmdApplyCommit:
		return e.applyCommitRef(ctx, tx, dataflowID, cmd.ApplyCommit, seenCommits)
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

// applyCommitRef inlines a previously persisted commit's commands into the
// current batch, then advances the workflow's last_commit_id to that
// commit's own id — not the wrapping batch's id — satisfying the
// submit/pending_commits/execute([APPLY_COMMIT]) round-trip law.
func (e *Engine) applyCommitRef(ctx context.Context, tx *store.Tx, dataflowID string, p *models.ApplyCommitPayload, seenCommits map[string]bool) error {
	if seenCommits[p.CommitID] {
		return fmt.Errorf("Commit not found: cycle detected at commit %s", p.CommitID)
	}
	seenCommits[p.CommitID] = true

	referenced, err := tx.Commits.GetByID(ctx, p.CommitID)
	if err != nil || referenced.DataflowID != dataflowID {
		return fmt.Errorf("Commit not found: %s", p.CommitID)
	}

	if err := e.applyAll(ctx, tx, dataflowID, referenced.Payload.Commands, seenCommits); err != nil {
		return err
	}

	commitID := p.CommitID
	return applyUpdateWorkflow(ctx, tx, &models.UpdateWorkflowPayload{DataflowID: dataflowID, LastCommitID: commitID})
}

func containsType(commands []models.Command, t models.CommandType) bool {
	for _, c := range commands {
		if c.Type == t {
			return true
		}
	}
	return false
}

func newCommitID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate commit id: %w", err)
	}
	return id.String(), nil
}
