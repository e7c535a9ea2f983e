// Package sdk is the node runtime: the surface a node function executes
// against to read its inputs, stage data and metadata writes, spawn child
// nodes, pause for a subgraph, and report its own completion or failure.
// Every write a node makes is buffered locally and only lands on the
// commit log when the node flushes it, so a node function can be retried
// up to that point without double-writing.
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowcraft/dataflow/internal/commit"
	"github.com/flowcraft/dataflow/internal/condition"
	"github.com/flowcraft/dataflow/internal/metrics"
	"github.com/flowcraft/dataflow/internal/models"
	"github.com/flowcraft/dataflow/internal/process"
	"github.com/flowcraft/dataflow/internal/reader"
	"github.com/flowcraft/dataflow/internal/store"
)

// Handle is bound to a single node's execution. It is not safe to retain
// across executions: a fresh Handle is built by the orchestrator for every
// dispatch.
type Handle struct {
	store     *store.Store
	log       *commit.Log
	mailbox   process.Mailbox
	evaluator *condition.Evaluator

	dataflowID string
	node       *models.Node

	mu              sync.Mutex
	queued          []models.Command
	metadata        map[string]any
	metadataPending bool
	inputCache      map[string]*models.Data
	inputsLoaded    bool
}

// NewHandle builds the runtime handle a node function executes against.
func NewHandle(s *store.Store, log *commit.Log, mailbox process.Mailbox, evaluator *condition.Evaluator, node *models.Node) *Handle {
	return &Handle{
		store:      s,
		log:        log,
		mailbox:    mailbox,
		evaluator:  evaluator,
		dataflowID: node.DataflowID,
		node:       node,
		inputCache: make(map[string]*models.Data),
	}
}

// NodeID returns the id of the node this handle executes.
func (h *Handle) NodeID() string { return h.node.NodeID }

// Type returns the node type this handle executes.
func (h *Handle) Type() string { return h.node.Type }

// Config returns the node's decoded configuration.
func (h *Handle) Config() models.NodeConfig { return h.node.Config }

// Inputs fetches and decodes every node_input record addressed to this
// node, resolving any reference-typed record to its referent's content.
// Results are cached: a later call, or Input for one of the same keys,
// does not refetch.
func (h *Handle) Inputs(ctx context.Context) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.inputsLoaded {
		if err := h.loadInputs(ctx); err != nil {
			return nil, err
		}
	}

	out := make(map[string]any, len(h.inputCache))
	for key, rec := range h.inputCache {
		v, err := decodeContent(rec)
		if err != nil {
			return nil, fmt.Errorf("sdk: decode input %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

func (h *Handle) loadInputs(ctx context.Context) error {
	records, err := reader.NewDataReader(h.store.Data, h.dataflowID).
		NodeIDs(h.node.NodeID).
		Types(models.DataTypeNodeInput).
		ReplaceReferences(true).
		All(ctx)
	if err != nil {
		return fmt.Errorf("sdk: load inputs: %w", err)
	}
	for _, rec := range records {
		if rec.Key == nil {
			continue
		}
		h.inputCache[*rec.Key] = rec
	}
	h.inputsLoaded = true
	return nil
}

// Input lazily fetches a single node_input record by key. The second
// return value is false when no such input exists.
func (h *Handle) Input(ctx context.Context, key string) (any, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec, ok := h.inputCache[key]; ok {
		v, err := decodeContent(rec)
		return v, true, err
	}
	if h.inputsLoaded {
		return nil, false, nil
	}

	rec, err := reader.NewDataReader(h.store.Data, h.dataflowID).
		NodeIDs(h.node.NodeID).
		Types(models.DataTypeNodeInput).
		Keys(key).
		ReplaceReferences(true).
		One(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sdk: load input %q: %w", key, err)
	}
	h.inputCache[key] = rec
	v, err := decodeContent(rec)
	return v, true, err
}

// Data queues a CREATE_DATA command scoped to this node, flushed on the
// next Submit, Yield, Complete or Fail. It returns the pre-assigned data
// id so the caller can reference the record before the write lands.
func (h *Handle) Data(dataType string, content any, opts ...DataOption) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := &models.CreateDataPayload{
		DataID:      uuid.New().String(),
		NodeID:      h.node.NodeID,
		Type:        dataType,
		Content:     content,
		ContentType: inferContentType(content),
	}
	for _, opt := range opts {
		opt(p)
	}
	h.queueLocked(models.Command{Type: models.CmdCreateData, CreateData: p})
	return p.DataID
}

// Metadata buffers a shallow merge into this node's metadata, applied on
// the next flush. An empty patch with nothing already buffered is a no-op,
// so a node that never touches its metadata never emits an UPDATE_NODE for it.
func (h *Handle) Metadata(patch map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(patch) == 0 && !h.metadataPending {
		return
	}
	if h.metadata == nil {
		h.metadata = make(map[string]any, len(h.node.Metadata)+len(patch))
		for k, v := range h.node.Metadata {
			h.metadata[k] = v
		}
	}
	for k, v := range patch {
		h.metadata[k] = v
	}
	h.metadataPending = true
}

// WithChildNodes queues a CREATE_NODE command per child, parented to this
// node, flushed on the next Submit, Yield, Complete or Fail. It returns the
// pre-assigned node ids in the same order as children.
func (h *Handle) WithChildNodes(children ...ChildNode) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queueChildrenLocked(children)
}

func (h *Handle) queueChildrenLocked(children []ChildNode) []string {
	ids := make([]string, len(children))
	for i, c := range children {
		nodeID := uuid.New().String()
		ids[i] = nodeID
		h.queueLocked(models.Command{Type: models.CmdCreateNode, CreateNode: &models.CreateNodePayload{
			NodeID:       nodeID,
			ParentNodeID: h.node.NodeID,
			Type:         c.Type,
			Status:       c.Status,
			Config:       c.Config,
			Metadata:     c.Metadata,
		}})
	}
	return ids
}

func (h *Handle) queueLocked(cmd models.Command) {
	h.queued = append(h.queued, cmd)
}

// Submit flushes every buffered Data, Metadata and WithChildNodes write as
// a single deferred commit, without changing this node's own status.
func (h *Handle) Submit(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.flushLocked(ctx)
	return err
}

// flushLocked submits every buffered command, including the buffered
// metadata merge if one is pending, and clears the buffer only once the
// submit succeeds. Caller must hold h.mu.
func (h *Handle) flushLocked(ctx context.Context) (*models.Commit, error) {
	commands := append([]models.Command(nil), h.queued...)

	if h.metadataPending {
		raw, err := json.Marshal(h.metadata)
		if err != nil {
			return nil, fmt.Errorf("sdk: marshal metadata: %w", err)
		}
		commands = append(commands, models.Command{Type: models.CmdUpdateNode, UpdateNode: &models.UpdateNodePayload{
			NodeID:   h.node.NodeID,
			Metadata: raw,
		}})
	}

	if len(commands) == 0 {
		return nil, nil
	}

	c, err := h.log.Submit(ctx, h.dataflowID, uuid.New().String(), commands)
	if err != nil {
		return nil, err
	}
	h.queued = nil
	h.metadataPending = false
	return c, nil
}

// Yield flushes buffered writes plus a node_yield marker, spawns any
// child nodes given in opts, then blocks until the orchestrator delivers a
// reply on this node's yield-reply topic — typically once the spawned
// subgraph reaches a terminal state.
func (h *Handle) Yield(ctx context.Context, opts YieldOptions) (*YieldResult, error) {
	h.mu.Lock()
	childIDs := h.queueChildrenLocked(opts.Children)
	h.queueLocked(models.Command{Type: models.CmdCreateData, CreateData: &models.CreateDataPayload{
		DataID:      uuid.New().String(),
		NodeID:      h.node.NodeID,
		Type:        models.DataTypeNodeYield,
		Content:     opts.Output,
		ContentType: models.DefaultContentType,
	}})
	_, err := h.flushLocked(ctx)
	h.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sdk: yield flush: %w", err)
	}

	replyTopic := commit.YieldReplyTopic(h.node.NodeID)
	replies, cancel := h.mailbox.Listen(ctx, replyTopic)
	defer cancel()

	req := YieldRequest{DataflowID: h.dataflowID, NodeID: h.node.NodeID, ChildNodeIDs: childIDs}
	start := time.Now()
	if err := h.mailbox.Send(ctx, commit.YieldRequestTopic(h.dataflowID), req); err != nil {
		return nil, fmt.Errorf("sdk: send yield request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-replies:
		if !ok {
			return nil, fmt.Errorf("sdk: yield reply channel for node %s closed", h.node.NodeID)
		}
		metrics.YieldRoundTrip.Observe(time.Since(start).Seconds())
		result := decodeYieldResult(msg.Payload)
		return &result, nil
	}
}

// YieldRequest is the message a yielding node's driver sees on its
// dataflow's yield_request topic.
type YieldRequest struct {
	DataflowID   string   `json:"dataflow_id"`
	NodeID       string   `json:"node_id"`
	ChildNodeIDs []string `json:"child_node_ids"`
}

// Complete routes output through this node's configured data targets,
// records the node's own success result, marks it completed, and flushes
// everything as one deferred commit.
func (h *Handle) Complete(ctx context.Context, output any, opts ...CompletionOption) (*CompletionResult, error) {
	return h.finish(ctx, output, models.DiscriminatorResultSuccess, h.node.Config.DataTargets, models.NodeCompleted, opts...)
}

// Fail routes errorDetails through this node's configured error targets,
// records the node's own error result, marks it failed, and flushes
// everything as one deferred commit.
func (h *Handle) Fail(ctx context.Context, errorDetails any, opts ...CompletionOption) (*CompletionResult, error) {
	return h.finish(ctx, errorDetails, models.DiscriminatorResultError, h.node.Config.ErrorTargets, models.NodeFailed, opts...)
}

func (h *Handle) finish(ctx context.Context, output any, discriminator string, targets []models.TargetDescriptor, status models.NodeStatus, opts ...CompletionOption) (*CompletionResult, error) {
	var cfg completionOptions
	for _, opt := range opts {
		opt(&cfg)
	}
	resultMeta := cfg.Metadata
	if cfg.Message != "" {
		resultMeta = withMessage(resultMeta, cfg.Message)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	resultID := uuid.New().String()
	h.queueLocked(models.Command{Type: models.CmdCreateData, CreateData: &models.CreateDataPayload{
		DataID:        resultID,
		NodeID:        h.node.NodeID,
		Type:          models.DataTypeNodeResult,
		Discriminator: discriminator,
		Content:       output,
		ContentType:   inferContentType(output),
		Metadata:      resultMeta,
	}})
	dataIDs := []string{resultID}

	for _, target := range targets {
		matched, err := h.evaluator.Evaluate(target.Condition, output)
		if err != nil {
			return nil, fmt.Errorf("sdk: evaluate target condition: %w", err)
		}
		if !matched {
			continue
		}

		dataType := target.DataType
		if dataType == "" {
			dataType = models.DataTypeNodeInput
		}
		contentType := target.ContentType
		if contentType == "" {
			contentType = inferContentType(output)
		}

		dataID := uuid.New().String()
		h.queueLocked(models.Command{Type: models.CmdCreateData, CreateData: &models.CreateDataPayload{
			DataID:        dataID,
			NodeID:        target.NodeID,
			Type:          dataType,
			Key:           target.Key,
			Discriminator: target.Discriminator,
			Content:       output,
			ContentType:   contentType,
			Metadata:      target.Metadata,
		}})
		dataIDs = append(dataIDs, dataID)
	}

	h.queueLocked(models.Command{Type: models.CmdUpdateNode, UpdateNode: &models.UpdateNodePayload{
		NodeID: h.node.NodeID,
		Status: status,
	}})

	if _, err := h.flushLocked(ctx); err != nil {
		return nil, err
	}

	return &CompletionResult{Success: status == models.NodeCompleted, DataIDs: dataIDs}, nil
}

func withMessage(meta map[string]any, message string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["message"] = message
	return out
}

// inferContentType picks application/json for structured content and
// text/plain for a bare string, matching how a node's output naturally
// splits between the two.
func inferContentType(content any) string {
	if _, ok := content.(string); ok {
		return "text/plain"
	}
	return models.DefaultContentType
}

func decodeContent(rec *models.Data) (any, error) {
	if len(rec.Content) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(rec.Content, &v); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return v, nil
}

func decodeYieldResult(payload any) YieldResult {
	switch v := payload.(type) {
	case YieldResult:
		return v
	case map[string]any:
		if out, ok := v["output"].(map[string]any); ok {
			return YieldResult{Output: out}
		}
	}
	return YieldResult{}
}
