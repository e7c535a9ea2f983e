package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowcraft/dataflow/internal/models"
	"github.com/flowcraft/dataflow/internal/store"
)

func applyCreateNode(ctx context.Context, tx *store.Tx, dataflowID string, p *models.CreateNodePayload) error {
	nodeID := p.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	status := p.Status
	if status == "" {
		status = models.NodePending
	}

	now := time.Now().UTC()
	var parent *string
	if p.ParentNodeID != "" {
		parent = &p.ParentNodeID
	}

	node := &models.Node{
		NodeID:       nodeID,
		DataflowID:   dataflowID,
		ParentNodeID: parent,
		Type:         p.Type,
		Status:       status,
		Config:       p.Config,
		Metadata:     p.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return tx.Nodes.Create(ctx, node)
}

func applyUpdateNode(ctx context.Context, tx *store.Tx, p *models.UpdateNodePayload) error {
	var statusPtr *models.NodeStatus
	if p.Status != "" {
		s := p.Status
		statusPtr = &s
	}

	var metaPtr map[string]any
	if len(p.Metadata) > 0 || len(p.MetadataPatch) > 0 {
		node, err := tx.Nodes.GetByID(ctx, p.NodeID)
		if err != nil {
			return fmt.Errorf("load node for metadata update: %w", err)
		}
		merged, changed, err := resolveMetadata(node.Metadata, p.Metadata, p.MetadataPatch, p.MergeMetadata)
		if err != nil {
			return err
		}
		if changed {
			metaPtr = merged
		}
	}

	return tx.Nodes.Update(ctx, p.NodeID, statusPtr, p.Config, metaPtr)
}

// applyDeleteNode deletes a node. A missing node is not an error: the
// command engine reports changes_made=false rather than aborting the batch.
func applyDeleteNode(ctx context.Context, tx *store.Tx, p *models.DeleteNodePayload) error {
	err := tx.Nodes.Delete(ctx, p.NodeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func applyCreateData(ctx context.Context, tx *store.Tx, dataflowID string, p *models.CreateDataPayload) error {
	dataID := p.DataID
	if dataID == "" {
		dataID = uuid.New().String()
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = models.DefaultContentType
	}

	content, err := json.Marshal(p.Content)
	if err != nil {
		return fmt.Errorf("marshal data content: %w", err)
	}

	var nodeID, discriminator, key *string
	if p.NodeID != "" {
		nodeID = &p.NodeID
	}
	if p.Discriminator != "" {
		discriminator = &p.Discriminator
	}
	if p.Key != "" {
		key = &p.Key
	}

	rec := &models.Data{
		DataID:        dataID,
		DataflowID:    dataflowID,
		NodeID:        nodeID,
		Type:          p.Type,
		Discriminator: discriminator,
		Key:           key,
		Content:       content,
		ContentType:   contentType,
		Metadata:      p.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
	return tx.Data.Create(ctx, rec)
}

func applyUpdateData(ctx context.Context, tx *store.Tx, dataflowID string, p *models.UpdateDataPayload) error {
	var content []byte
	if p.HasContent {
		raw, err := json.Marshal(p.Content)
		if err != nil {
			return fmt.Errorf("marshal data content: %w", err)
		}
		content = raw
	}

	var contentTypePtr *string
	if p.ContentType != "" {
		contentTypePtr = &p.ContentType
	}

	var metaPtr map[string]any
	if len(p.Metadata) > 0 {
		existing, err := tx.Data.GetByID(ctx, dataflowID, p.DataID)
		if err != nil {
			return fmt.Errorf("load data for metadata update: %w", err)
		}
		metaPtr = mergeMetadata(existing.Metadata, p.Metadata)
	}

	return tx.Data.Update(ctx, p.DataID, content, contentTypePtr, metaPtr)
}

// applyDeleteData deletes a data record. A missing record is not an error,
// mirroring applyDeleteNode.
func applyDeleteData(ctx context.Context, tx *store.Tx, p *models.DeleteDataPayload) error {
	err := tx.Data.Delete(ctx, p.DataID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func applyCreateWorkflow(ctx context.Context, tx *store.Tx, p *models.CreateWorkflowPayload) error {
	dataflowID := p.DataflowID
	if dataflowID == "" {
		dataflowID = uuid.New().String()
	}
	status := p.Status
	if status == "" {
		status = models.WorkflowPending
	}

	var parent *string
	if p.ParentDataflowID != "" {
		parent = &p.ParentDataflowID
	}

	now := time.Now().UTC()
	wf := &models.Workflow{
		DataflowID:       dataflowID,
		ParentDataflowID: parent,
		ActorID:          p.ActorID,
		Type:             p.Type,
		Status:           status,
		Metadata:         p.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return tx.Dataflows.Create(ctx, wf)
}

func applyUpdateWorkflow(ctx context.Context, tx *store.Tx, p *models.UpdateWorkflowPayload) error {
	var statusPtr *models.WorkflowStatus
	if p.Status != "" {
		s := p.Status
		statusPtr = &s
	}

	needsWorkflow := statusPtr != nil || len(p.Metadata) > 0 || len(p.MetadataPatch) > 0
	var metaPtr map[string]any
	if needsWorkflow {
		wf, err := tx.Dataflows.GetByID(ctx, p.DataflowID)
		if err != nil {
			return fmt.Errorf("load workflow for update: %w", err)
		}

		if statusPtr != nil && wf.Status.Terminal() {
			return fmt.Errorf("workflow %s is terminal: status cannot be changed from %s", p.DataflowID, wf.Status)
		}

		if len(p.Metadata) > 0 || len(p.MetadataPatch) > 0 {
			merged, changed, err := resolveMetadata(wf.Metadata, p.Metadata, p.MetadataPatch, p.MergeMetadata)
			if err != nil {
				return err
			}
			if changed {
				metaPtr = merged
			}
		}
	}

	var lastCommitPtr *string
	if p.LastCommitID != "" {
		lastCommitPtr = &p.LastCommitID
	}

	return tx.Dataflows.Update(ctx, p.DataflowID, statusPtr, metaPtr, lastCommitPtr)
}

func applyDeleteWorkflow(ctx context.Context, tx *store.Tx, p *models.DeleteWorkflowPayload) error {
	return tx.Dataflows.Delete(ctx, p.DataflowID)
}
