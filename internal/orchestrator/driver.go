// Package orchestrator is the per-workflow driver: it drains submitted
// commits, computes which nodes are ready to run, dispatches their node
// functions concurrently, and watches for yields, cancellation and the
// workflow's own termination.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowcraft/dataflow/internal/commit"
	"github.com/flowcraft/dataflow/internal/condition"
	"github.com/flowcraft/dataflow/internal/logger"
	"github.com/flowcraft/dataflow/internal/metrics"
	"github.com/flowcraft/dataflow/internal/models"
	"github.com/flowcraft/dataflow/internal/process"
	"github.com/flowcraft/dataflow/internal/reader"
	"github.com/flowcraft/dataflow/internal/sdk"
	"github.com/flowcraft/dataflow/internal/store"
)

// NodeFunc implements a node's behavior against its runtime handle. A
// well-behaved NodeFunc calls exactly one of Handle.Complete or Handle.Fail
// before returning nil (Handle.Yield may come first, but does not itself
// end the node); returning a non-nil error instead is treated as an
// unreported failure and the driver marks the node failed on its behalf.
type NodeFunc func(ctx context.Context, h *sdk.Handle) error

// FuncRegistry maps the func_id named in a node's config to its NodeFunc
// implementation.
type FuncRegistry map[string]NodeFunc

// ErrAlreadyRunning is returned by Run when another driver already holds
// the workflow's registry name.
var ErrAlreadyRunning = fmt.Errorf("orchestrator: workflow already has an active driver")

// Driver holds the dependencies shared across every workflow it runs. One
// Driver can run many workflows concurrently; call Run once per workflow,
// each in its own goroutine.
type Driver struct {
	store     *store.Store
	log       *commit.Log
	registry  process.Registry
	mailbox   process.Mailbox
	evaluator *condition.Evaluator
	funcs     FuncRegistry
	logger    *logger.Logger
	pid       process.Pid
}

// New builds a Driver identified on the process registry as pid.
func New(s *store.Store, log *commit.Log, registry process.Registry, mailbox process.Mailbox, evaluator *condition.Evaluator, funcs FuncRegistry, lg *logger.Logger, pid process.Pid) *Driver {
	return &Driver{
		store:     s,
		log:       log,
		registry:  registry,
		mailbox:   mailbox,
		evaluator: evaluator,
		funcs:     funcs,
		logger:    lg,
		pid:       pid,
	}
}

// Spawn starts a Driver for dataflowID in its own goroutine and returns
// immediately, without waiting for the workflow to reach a terminal state.
// errCh receives Run's eventual return value (nil on clean termination);
// it is buffered so a caller that never reads it cannot leak the goroutine.
func Spawn(ctx context.Context, d *Driver, dataflowID string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx, dataflowID)
	}()
	return errCh
}

// Run is the control loop for a single workflow: it claims the workflow's
// driver name, starts it if pending, and runs until the workflow reaches a
// terminal state or ctx is cancelled. Run returns ErrAlreadyRunning without
// error side effects if another driver already holds the name.
func (d *Driver) Run(ctx context.Context, dataflowID string) error {
	name := commit.DriverRegistryName(dataflowID)
	ok, err := d.registry.Register(ctx, name, d.pid)
	if err != nil {
		return fmt.Errorf("orchestrator: register driver: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer d.registry.Release(ctx, name, d.pid)

	metrics.ActiveOrchestrators.Inc()
	defer metrics.ActiveOrchestrators.Dec()

	r := &run{d: d, dataflowID: dataflowID, done: make(chan workerResult, 64), pending: make(map[string]*pendingYield)}
	return r.loop(ctx)
}

// run holds the state of a single workflow's control loop. It is only ever
// touched by the goroutine executing loop; worker goroutines communicate
// back exclusively through the done channel.
type run struct {
	d          *Driver
	dataflowID string
	done       chan workerResult
	pending    map[string]*pendingYield
	cancelled  bool
}

type workerResult struct {
	nodeID string
	err    error
}

type pendingYield struct {
	children map[string]bool
}

func (r *run) loop(ctx context.Context) error {
	if err := r.start(ctx); err != nil {
		return err
	}

	commitMsgs, cancelCommit := r.d.mailbox.Listen(ctx, commit.DriverTopic(r.dataflowID))
	defer cancelCommit()
	yieldReqs, cancelYield := r.d.mailbox.Listen(ctx, commit.YieldRequestTopic(r.dataflowID))
	defer cancelYield()
	controlMsgs, cancelControl := r.d.mailbox.Listen(ctx, ControlTopic(r.dataflowID))
	defer cancelControl()

	if err := r.drainPending(ctx); err != nil {
		return err
	}
	if err := r.dispatchReady(ctx); err != nil {
		return err
	}

	for {
		terminal, err := r.checkTermination(ctx)
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-commitMsgs:
			if err := r.drainPending(ctx); err != nil {
				return err
			}
			if err := r.dispatchReady(ctx); err != nil {
				return err
			}

		case msg := <-yieldReqs:
			if err := r.handleYieldRequest(ctx, msg.Payload); err != nil {
				return err
			}
			if err := r.dispatchReady(ctx); err != nil {
				return err
			}

		case msg := <-controlMsgs:
			action, ok := decodeControlAction(msg.Payload)
			if !ok {
				continue
			}
			switch action {
			case ActionCancel:
				if err := r.cancel(ctx); err != nil {
					return err
				}
			case ActionTerminate:
				return r.terminate(ctx)
			}

		case wd := <-r.done:
			if err := r.handleWorkerDone(ctx, wd); err != nil {
				return err
			}
			if err := r.dispatchReady(ctx); err != nil {
				return err
			}
		}
	}
}

// start sets the workflow running if it was pending, a no-op on resume
// after a crash-recovery respawn finds it already running.
func (r *run) start(ctx context.Context) error {
	wf, err := r.d.store.Dataflows.GetByID(ctx, r.dataflowID)
	if err != nil {
		return fmt.Errorf("orchestrator: load workflow: %w", err)
	}
	if wf.Status != models.WorkflowPending {
		return nil
	}
	_, err = r.d.log.Execute(ctx, r.dataflowID, uuid.New().String(), []models.Command{{
		Type:           models.CmdUpdateWorkflow,
		UpdateWorkflow: &models.UpdateWorkflowPayload{DataflowID: r.dataflowID, Status: models.WorkflowRunning},
	}}, true)
	return err
}

// drainPending applies every commit submitted since the workflow's
// last_commit_id, in order, via APPLY_COMMIT.
func (r *run) drainPending(ctx context.Context) error {
	ids, err := r.d.log.PendingCommits(ctx, r.dataflowID)
	if err != nil {
		return fmt.Errorf("orchestrator: pending commits: %w", err)
	}
	for _, commitID := range ids {
		_, err := r.d.log.Execute(ctx, r.dataflowID, uuid.New().String(), []models.Command{{
			Type:        models.CmdApplyCommit,
			ApplyCommit: &models.ApplyCommitPayload{CommitID: commitID},
		}}, true)
		if err != nil {
			return fmt.Errorf("orchestrator: apply commit %s: %w", commitID, err)
		}
		metrics.CommitsApplied.WithLabelValues(r.dataflowID).Inc()
	}
	return nil
}

func (r *run) readyNodes(ctx context.Context) ([]*models.Node, error) {
	pending, err := reader.NewNodeReader(r.d.store.Nodes, r.dataflowID).Statuses(models.NodePending).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list pending nodes: %w", err)
	}

	var ready []*models.Node
	for _, n := range pending {
		ok, err := r.inputsSatisfied(ctx, n)
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, n)
		}
	}
	return ready, nil
}

// inputsSatisfied reports whether every key in a node's declared required
// inputs has a matching node_input record. A node with no inputs
// configuration is ready only once at least one node_input record has
// arrived for it; declaring inputs.required narrows that to the named
// keys specifically.
func (r *run) inputsSatisfied(ctx context.Context, n *models.Node) (bool, error) {
	if n.Config.Inputs == nil || len(n.Config.Inputs.Required) == 0 {
		exists, err := reader.NewDataReader(r.d.store.Data, r.dataflowID).
			NodeIDs(n.NodeID).
			Types(models.DataTypeNodeInput).
			Exists(ctx)
		if err != nil {
			return false, fmt.Errorf("orchestrator: check any input for node %s: %w", n.NodeID, err)
		}
		return exists, nil
	}
	for _, key := range n.Config.Inputs.Required {
		exists, err := reader.NewDataReader(r.d.store.Data, r.dataflowID).
			NodeIDs(n.NodeID).
			Types(models.DataTypeNodeInput).
			Keys(key).
			Exists(ctx)
		if err != nil {
			return false, fmt.Errorf("orchestrator: check input %q for node %s: %w", key, n.NodeID, err)
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

func (r *run) dispatchReady(ctx context.Context) error {
	if r.cancelled {
		return nil
	}

	ready, err := r.readyNodes(ctx)
	if err != nil {
		return err
	}

	for _, n := range ready {
		_, err := r.d.log.Execute(ctx, r.dataflowID, uuid.New().String(), []models.Command{{
			Type:       models.CmdUpdateNode,
			UpdateNode: &models.UpdateNodePayload{NodeID: n.NodeID, Status: models.NodeRunning},
		}}, true)
		if err != nil {
			return fmt.Errorf("orchestrator: mark node %s running: %w", n.NodeID, err)
		}
		metrics.NodesDispatched.WithLabelValues(n.Type).Inc()
		go r.runNode(ctx, n)
	}
	return nil
}

func (r *run) runNode(ctx context.Context, n *models.Node) {
	handle := sdk.NewHandle(r.d.store, r.d.log, r.d.mailbox, r.d.evaluator, n)

	funcID := n.Config.FuncID
	var fn NodeFunc
	switch {
	case funcID == "":
		fn = r.missingFuncID
	default:
		if registered, ok := r.d.funcs[funcID]; ok {
			fn = registered
		} else {
			fn = r.unsupportedFuncID
		}
	}

	err := fn(ctx, handle)
	select {
	case r.done <- workerResult{nodeID: n.NodeID, err: err}:
	case <-ctx.Done():
	}
}

// missingFuncID fails a node whose config never named a func_id to
// dispatch to, matching the documented "Function ID not specified" error.
func (r *run) missingFuncID(ctx context.Context, h *sdk.Handle) error {
	_, err := h.Fail(ctx, map[string]any{
		"error": "Function ID not specified",
	}, sdk.WithMessage("Function ID not specified"))
	return err
}

func (r *run) unsupportedFuncID(ctx context.Context, h *sdk.Handle) error {
	_, err := h.Fail(ctx, map[string]any{
		"error": fmt.Sprintf("no node function registered for func_id %q", h.Config().FuncID),
	}, sdk.WithMessage("unsupported node function"))
	return err
}

// handleWorkerDone reacts to a node function returning. It first applies
// any pending commits, so the node's own Complete/Fail has landed before
// outstanding yields are checked against its status. A NodeFunc that
// reports its own terminal status via Complete/Fail needs nothing further;
// one that returns an error without doing so is force-failed so the
// workflow never waits forever on a node stuck in "running".
func (r *run) handleWorkerDone(ctx context.Context, wd workerResult) error {
	if err := r.drainPending(ctx); err != nil {
		return err
	}
	if err := r.resolveYields(ctx, wd.nodeID); err != nil {
		return err
	}

	if wd.err == nil {
		return nil
	}

	r.d.logger.Error("node execution returned an error", "dataflow_id", r.dataflowID, "node_id", wd.nodeID, "error", wd.err)

	n, err := r.d.store.Nodes.GetByID(ctx, wd.nodeID)
	if err != nil {
		return fmt.Errorf("orchestrator: load node %s after error: %w", wd.nodeID, err)
	}
	if n.Status.Terminal() {
		return nil
	}

	_, err = r.d.log.Execute(ctx, r.dataflowID, uuid.New().String(), []models.Command{{
		Type:       models.CmdUpdateNode,
		UpdateNode: &models.UpdateNodePayload{NodeID: wd.nodeID, Status: models.NodeFailed},
	}}, true)
	return err
}

func (r *run) handleYieldRequest(ctx context.Context, payload any) error {
	req, ok := decodeYieldRequest(payload)
	if !ok {
		return nil
	}

	if len(req.ChildNodeIDs) == 0 {
		return r.d.mailbox.Send(ctx, commit.YieldReplyTopic(req.NodeID), sdk.YieldResult{})
	}

	children := make(map[string]bool, len(req.ChildNodeIDs))
	for _, id := range req.ChildNodeIDs {
		children[id] = true
	}
	r.pending[req.NodeID] = &pendingYield{children: children}
	return nil
}

func decodeYieldRequest(payload any) (sdk.YieldRequest, bool) {
	switch v := payload.(type) {
	case sdk.YieldRequest:
		return v, true
	case map[string]any:
		req := sdk.YieldRequest{}
		if id, ok := v["node_id"].(string); ok {
			req.NodeID = id
		} else {
			return req, false
		}
		if dfID, ok := v["dataflow_id"].(string); ok {
			req.DataflowID = dfID
		}
		if raw, ok := v["child_node_ids"].([]any); ok {
			for _, item := range raw {
				if id, ok := item.(string); ok {
					req.ChildNodeIDs = append(req.ChildNodeIDs, id)
				}
			}
		}
		return req, true
	default:
		return sdk.YieldRequest{}, false
	}
}

// resolveYields checks whether nodeID completes any outstanding yield's
// child set, replying on the yielding node's reply topic once the last
// child of a yield reaches a terminal state.
func (r *run) resolveYields(ctx context.Context, nodeID string) error {
	for parentID, py := range r.pending {
		if !py.children[nodeID] {
			continue
		}

		n, err := r.d.store.Nodes.GetByID(ctx, nodeID)
		if err != nil {
			return fmt.Errorf("orchestrator: load yielded child %s: %w", nodeID, err)
		}
		if !n.Status.Terminal() {
			continue
		}

		delete(py.children, nodeID)
		if len(py.children) > 0 {
			continue
		}

		output, err := r.collectYieldOutput(ctx, parentID)
		if err != nil {
			return err
		}
		if err := r.d.mailbox.Send(ctx, commit.YieldReplyTopic(parentID), sdk.YieldResult{Output: output}); err != nil {
			return fmt.Errorf("orchestrator: reply to yield %s: %w", parentID, err)
		}
		delete(r.pending, parentID)
	}
	return nil
}

// collectYieldOutput gathers each direct child's success result, keyed by
// node id, as the output delivered back to the yielding node.
func (r *run) collectYieldOutput(ctx context.Context, parentNodeID string) (map[string]any, error) {
	children, err := reader.NewNodeReader(r.d.store.Nodes, r.dataflowID).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list nodes for yield collection: %w", err)
	}

	output := make(map[string]any)
	for _, child := range children {
		if child.ParentNodeID == nil || *child.ParentNodeID != parentNodeID {
			continue
		}
		rec, err := reader.NewDataReader(r.d.store.Data, r.dataflowID).
			NodeIDs(child.NodeID).
			Types(models.DataTypeNodeResult).
			Discriminators(models.DiscriminatorResultSuccess).
			One(ctx)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("orchestrator: load result for yielded child %s: %w", child.NodeID, err)
		}
		var v any
		if len(rec.Content) > 0 {
			if err := json.Unmarshal(rec.Content, &v); err != nil {
				return nil, fmt.Errorf("orchestrator: decode result for yielded child %s: %w", child.NodeID, err)
			}
		}
		output[child.NodeID] = v
	}
	return output, nil
}

// checkTermination reports whether the workflow has no more work to do: no
// node running, nothing ready to dispatch, and no yield still awaiting its
// subgraph. When true it also settles the workflow's final status.
func (r *run) checkTermination(ctx context.Context) (bool, error) {
	running, err := reader.NewNodeReader(r.d.store.Nodes, r.dataflowID).Statuses(models.NodeRunning).Count(ctx)
	if err != nil {
		return false, fmt.Errorf("orchestrator: count running nodes: %w", err)
	}
	if running > 0 || len(r.pending) > 0 {
		return false, nil
	}

	ready, err := r.readyNodes(ctx)
	if err != nil {
		return false, err
	}
	if len(ready) > 0 {
		return false, nil
	}

	if r.cancelled {
		_, err := r.d.log.Execute(ctx, r.dataflowID, uuid.New().String(), []models.Command{{
			Type:           models.CmdUpdateWorkflow,
			UpdateWorkflow: &models.UpdateWorkflowPayload{DataflowID: r.dataflowID, Status: models.WorkflowCancelled},
		}}, true)
		return true, err
	}

	hasOutput, err := reader.NewDataReader(r.d.store.Data, r.dataflowID).Types(models.DataTypeWorkflowOutput).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("orchestrator: check workflow output: %w", err)
	}
	// A failed node with error_targets has its failure routed onward, so
	// only failed nodes without any error target fail the workflow.
	failedNodes, err := reader.NewNodeReader(r.d.store.Nodes, r.dataflowID).Statuses(models.NodeFailed).All(ctx)
	if err != nil {
		return false, fmt.Errorf("orchestrator: list failed nodes: %w", err)
	}
	unrouted := 0
	for _, n := range failedNodes {
		if len(n.Config.ErrorTargets) == 0 {
			unrouted++
		}
	}

	status := models.WorkflowCompletedFailure
	if hasOutput && unrouted == 0 {
		status = models.WorkflowCompletedSuccess
	}

	_, err = r.d.log.Execute(ctx, r.dataflowID, uuid.New().String(), []models.Command{{
		Type:           models.CmdUpdateWorkflow,
		UpdateWorkflow: &models.UpdateWorkflowPayload{DataflowID: r.dataflowID, Status: status},
	}}, true)
	if err != nil {
		return false, err
	}
	metrics.NodeResultsTotal.WithLabelValues(string(status)).Inc()
	return true, nil
}

// cancel stops dispatching new nodes and marks every still-pending node
// cancelled, letting already-running nodes finish cooperatively. The
// workflow itself is marked cancelled once they do, in checkTermination.
func (r *run) cancel(ctx context.Context) error {
	r.cancelled = true

	nodes, err := reader.NewNodeReader(r.d.store.Nodes, r.dataflowID).Statuses(models.NodePending).All(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: list pending nodes for cancel: %w", err)
	}
	for _, n := range nodes {
		_, err := r.d.log.Execute(ctx, r.dataflowID, uuid.New().String(), []models.Command{{
			Type:       models.CmdUpdateNode,
			UpdateNode: &models.UpdateNodePayload{NodeID: n.NodeID, Status: models.NodeCancelled},
		}}, true)
		if err != nil {
			return fmt.Errorf("orchestrator: cancel node %s: %w", n.NodeID, err)
		}
	}
	return nil
}

// terminate is a hard kill: it forces the workflow terminated immediately
// without waiting for running nodes, which the caller's ctx cancellation
// (once Run's caller tears down the goroutine) is relied on to interrupt.
func (r *run) terminate(ctx context.Context) error {
	running, err := reader.NewNodeReader(r.d.store.Nodes, r.dataflowID).Statuses(models.NodeRunning, models.NodePending).All(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: list live nodes for terminate: %w", err)
	}
	for _, n := range running {
		_, err := r.d.log.Execute(ctx, r.dataflowID, uuid.New().String(), []models.Command{{
			Type:       models.CmdUpdateNode,
			UpdateNode: &models.UpdateNodePayload{NodeID: n.NodeID, Status: models.NodeCancelled},
		}}, true)
		if err != nil {
			return fmt.Errorf("orchestrator: force-cancel node %s: %w", n.NodeID, err)
		}
	}

	_, err = r.d.log.Execute(ctx, r.dataflowID, uuid.New().String(), []models.Command{{
		Type:           models.CmdUpdateWorkflow,
		UpdateWorkflow: &models.UpdateWorkflowPayload{DataflowID: r.dataflowID, Status: models.WorkflowTerminated},
	}}, true)
	return err
}
