package reader

import (
	"context"

	"github.com/flowcraft/dataflow/internal/models"
	"github.com/flowcraft/dataflow/internal/store"
)

// NodeReader is an immutable builder for queries over nodes.
type NodeReader struct {
	repo   *store.NodeRepository
	filter store.NodeFilter

	withConfig   bool
	withMetadata bool
}

// NewNodeReader starts a reader scoped to a single workflow.
func NewNodeReader(repo *store.NodeRepository, dataflowID string) NodeReader {
	return NodeReader{
		repo:         repo,
		filter:       store.NodeFilter{DataflowID: dataflowID},
		withConfig:   true,
		withMetadata: true,
	}
}

func (r NodeReader) clone() NodeReader {
	return r
}

// NodeIDs restricts the result set to the given node ids.
func (r NodeReader) NodeIDs(ids ...string) NodeReader {
	c := r.clone()
	c.filter.NodeIDs = ids
	return c
}

// Types restricts the result set to the given node types.
func (r NodeReader) Types(types ...string) NodeReader {
	c := r.clone()
	c.filter.Types = types
	return c
}

// Statuses restricts the result set to the given node statuses.
func (r NodeReader) Statuses(statuses ...models.NodeStatus) NodeReader {
	c := r.clone()
	c.filter.Statuses = statuses
	return c
}

// WithConfig toggles whether Config is populated. Default true.
func (r NodeReader) WithConfig(enabled bool) NodeReader {
	c := r.clone()
	c.withConfig = enabled
	return c
}

// WithMetadata toggles whether Metadata is populated. Default true.
func (r NodeReader) WithMetadata(enabled bool) NodeReader {
	c := r.clone()
	c.withMetadata = enabled
	return c
}

// All executes the query and returns every matching node.
func (r NodeReader) All(ctx context.Context) ([]*models.Node, error) {
	nodes, err := r.repo.Find(ctx, r.filter)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if !r.withConfig {
			n.Config = models.NodeConfig{}
		}
		if !r.withMetadata {
			n.Metadata = nil
		}
	}
	return nodes, nil
}

// One returns a single matching node, or store.ErrNotFound if none match.
func (r NodeReader) One(ctx context.Context) (*models.Node, error) {
	nodes, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, store.ErrNotFound
	}
	return nodes[0], nil
}

// Count returns the number of matching nodes.
func (r NodeReader) Count(ctx context.Context) (int, error) {
	return r.repo.Count(ctx, r.filter)
}

// Exists reports whether at least one node matches.
func (r NodeReader) Exists(ctx context.Context) (bool, error) {
	count, err := r.Count(ctx)
	return count > 0, err
}

// CountByStatus returns a count of the workflow's nodes grouped by status.
// Only the dataflow scope applies; any other filter set on the reader is
// ignored.
func (r NodeReader) CountByStatus(ctx context.Context) (map[models.NodeStatus]int, error) {
	return r.repo.CountByStatus(ctx, r.filter.DataflowID)
}
