// Package api is the client-facing facade: the single place external
// callers create, start, run, inspect and stop a workflow, built on
// commit.Log, the orchestrator driver and the readers (which the driver,
// the node runtime and cmd/orchestratord also use directly).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowcraft/dataflow/internal/commit"
	"github.com/flowcraft/dataflow/internal/condition"
	"github.com/flowcraft/dataflow/internal/logger"
	"github.com/flowcraft/dataflow/internal/models"
	"github.com/flowcraft/dataflow/internal/orchestrator"
	"github.com/flowcraft/dataflow/internal/process"
	"github.com/flowcraft/dataflow/internal/reader"
	"github.com/flowcraft/dataflow/internal/store"
)

// CreateWorkflowOptions customises CreateWorkflow.
type CreateWorkflowOptions struct {
	// Type names the workflow template/kind, opaque to this engine.
	Type string
	// Metadata seeds the workflow's metadata column.
	Metadata map[string]any
	// ParentDataflowID links a child workflow to its parent, for workflows
	// spawned as part of another workflow's own execution.
	ParentDataflowID string
}

// ExecuteResult is returned by Execute once the workflow reaches a
// terminal state.
type ExecuteResult struct {
	Success bool
	Data    map[string]any
	Error   string
}

// Client is one actor's view onto the engine: every method call is
// attributed to the actor_id captured at construction.
type Client struct {
	store     *store.Store
	log       *commit.Log
	mailbox   process.Mailbox
	registry  process.Registry
	evaluator *condition.Evaluator
	funcs     orchestrator.FuncRegistry
	logger    *logger.Logger
	actorID   string

	// driverCtx bounds the lifetime of every driver this Client spawns. It
	// must outlive any single request context: a driver started to serve
	// one HTTP call keeps running workflow nodes long after that call
	// returns, so it cannot be tied to the request's own context.
	driverCtx context.Context
}

// New builds a Client attributed to actorID. driverCtx bounds the lifetime
// of drivers spawned via Start/Execute; callers typically pass the
// process's own background context, cancelled only at shutdown.
func New(driverCtx context.Context, s *store.Store, log *commit.Log, mailbox process.Mailbox, registry process.Registry, evaluator *condition.Evaluator, funcs orchestrator.FuncRegistry, lg *logger.Logger, actorID string) *Client {
	return &Client{
		store:     s,
		log:       log,
		mailbox:   mailbox,
		registry:  registry,
		evaluator: evaluator,
		funcs:     funcs,
		logger:    lg,
		actorID:   actorID,
		driverCtx: driverCtx,
	}
}

// CreateWorkflow records a new workflow and any seed commands (typically
// CREATE_NODE/CREATE_DATA for the workflow's initial graph and input) as
// one atomic batch, returning the new workflow's id.
func (c *Client) CreateWorkflow(ctx context.Context, commands []models.Command, opts CreateWorkflowOptions) (string, error) {
	dataflowID := uuid.New().String()

	create := models.Command{
		Type: models.CmdCreateWorkflow,
		CreateWorkflow: &models.CreateWorkflowPayload{
			DataflowID:       dataflowID,
			ParentDataflowID: opts.ParentDataflowID,
			ActorID:          c.actorID,
			Type:             opts.Type,
			Metadata:         opts.Metadata,
		},
	}

	batch := append([]models.Command{create}, commands...)
	if _, err := c.log.Execute(ctx, dataflowID, uuid.New().String(), batch, true); err != nil {
		return "", fmt.Errorf("create workflow: %w", err)
	}
	return dataflowID, nil
}

// Start spawns the workflow's driver if one is not already running. It
// waits at most 50ms: if the driver returns within that time, its error is
// reported (ErrAlreadyRunning is treated as success); otherwise Start
// returns nil with the driver still running. It does not wait for the
// workflow to finish.
func (c *Client) Start(ctx context.Context, dataflowID string) error {
	if _, err := c.loadWorkflow(ctx, dataflowID); err != nil {
		return err
	}

	driver := orchestrator.New(c.store, c.log, c.registry, c.mailbox, c.evaluator, c.funcs, c.logger, process.Pid(uuid.New().String()))

	claimed := make(chan error, 1)
	go func() {
		err := driver.Run(c.driverCtx, dataflowID)
		select {
		case claimed <- err:
		default:
		}
	}()

	select {
	case err := <-claimed:
		if err != nil && err != orchestrator.ErrAlreadyRunning {
			return fmt.Errorf("start workflow: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		// Driver is running; it will report its eventual error (if any)
		// asynchronously, observable via GetStatus.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute starts the workflow (if not already running) and blocks until it
// reaches a terminal state, returning its outcome.
func (c *Client) Execute(ctx context.Context, dataflowID string) (*ExecuteResult, error) {
	if err := c.Start(ctx, dataflowID); err != nil {
		return nil, err
	}

	topic := commit.ActorTopic(c.actorID)
	events, cancel := c.mailbox.Listen(ctx, topic)
	defer cancel()

	for {
		wf, err := c.loadWorkflow(ctx, dataflowID)
		if err != nil {
			return nil, err
		}
		if wf.Status.Terminal() {
			return c.resultFor(ctx, dataflowID, wf)
		}

		select {
		case <-events:
			continue
		case <-time.After(100 * time.Millisecond):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) resultFor(ctx context.Context, dataflowID string, wf *models.Workflow) (*ExecuteResult, error) {
	if wf.Status == models.WorkflowCompletedSuccess {
		output, err := c.Output(ctx, dataflowID)
		if err != nil {
			return nil, err
		}
		return &ExecuteResult{Success: true, Data: output}, nil
	}

	errMsg, err := c.failureMessage(ctx, dataflowID, wf)
	if err != nil {
		return nil, err
	}
	return &ExecuteResult{Success: false, Error: errMsg}, nil
}

// failureMessage recovers a human-readable explanation for a failed,
// cancelled or terminated workflow: the error content of the first failed
// node's own result, or a generic message for outcomes with no such node.
func (c *Client) failureMessage(ctx context.Context, dataflowID string, wf *models.Workflow) (string, error) {
	switch wf.Status {
	case models.WorkflowCancelled:
		return "workflow was cancelled", nil
	case models.WorkflowTerminated:
		return "workflow was terminated", nil
	}

	failed, err := reader.NewNodeReader(c.store.Nodes, dataflowID).Statuses(models.NodeFailed).All(ctx)
	if err != nil {
		return "", fmt.Errorf("execute: load failed nodes: %w", err)
	}

	for _, n := range failed {
		rec, err := reader.NewDataReader(c.store.Data, dataflowID).
			NodeIDs(n.NodeID).
			Types(models.DataTypeNodeResult).
			Discriminators(models.DiscriminatorResultError).
			One(ctx)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return "", fmt.Errorf("execute: load failure result for node %s: %w", n.NodeID, err)
		}
		return string(rec.Content), nil
	}

	return "Workflow completed without producing output", nil
}

// Output assembles the workflow's output map: keyed workflow_output
// records under their key, and a root (empty-key) record under the
// empty-string key. A lone root record is not unwrapped: it is still
// returned as the map's "" entry.
func (c *Client) Output(ctx context.Context, dataflowID string) (map[string]any, error) {
	if _, err := c.loadWorkflow(ctx, dataflowID); err != nil {
		return nil, err
	}

	records, err := reader.NewDataReader(c.store.Data, dataflowID).
		Types(models.DataTypeWorkflowOutput).
		ReplaceReferences(true).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}

	output := make(map[string]any, len(records))
	for _, rec := range records {
		key := ""
		if rec.Key != nil {
			key = *rec.Key
		}
		var v any
		if len(rec.Content) > 0 {
			if err := json.Unmarshal(rec.Content, &v); err != nil {
				return nil, fmt.Errorf("output: decode %s: %w", rec.DataID, err)
			}
		}
		output[key] = v
	}
	return output, nil
}

// Cancel requests a cooperative cancel of a pending or running workflow.
// It returns false with an explanatory message (never an error) when the
// workflow is not in a cancellable state.
func (c *Client) Cancel(ctx context.Context, dataflowID string, timeout time.Duration) (bool, string, error) {
	wf, err := c.loadWorkflow(ctx, dataflowID)
	if err != nil {
		return false, "", err
	}

	if wf.Status != models.WorkflowPending && wf.Status != models.WorkflowRunning {
		return false, fmt.Sprintf("cannot be cancelled in current state: %s", wf.Status), nil
	}

	cctx := ctx
	var stop context.CancelFunc
	if timeout > 0 {
		cctx, stop = context.WithTimeout(ctx, timeout)
		defer stop()
	}

	if err := c.mailbox.Send(cctx, orchestrator.ControlTopic(dataflowID), orchestrator.ControlMessage{Action: orchestrator.ActionCancel}); err != nil {
		return false, "", fmt.Errorf("cancel: %w", err)
	}
	return true, "Cancel signal sent", nil
}

// Terminate hard-kills the workflow's driver, if any, and forces the
// workflow to status terminated.
func (c *Client) Terminate(ctx context.Context, dataflowID string) error {
	if _, err := c.loadWorkflow(ctx, dataflowID); err != nil {
		return err
	}
	if err := c.mailbox.Send(ctx, orchestrator.ControlTopic(dataflowID), orchestrator.ControlMessage{Action: orchestrator.ActionTerminate}); err != nil {
		return fmt.Errorf("terminate: %w", err)
	}
	return nil
}

// GetStatus returns the workflow's current record.
func (c *Client) GetStatus(ctx context.Context, dataflowID string) (*models.Workflow, error) {
	return c.loadWorkflow(ctx, dataflowID)
}

func (c *Client) loadWorkflow(ctx context.Context, dataflowID string) (*models.Workflow, error) {
	wf, err := c.store.Dataflows.GetByID(ctx, dataflowID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("Workflow not found: %s", dataflowID)
		}
		return nil, fmt.Errorf("Failed to load workflow: %w", err)
	}
	return wf, nil
}
