package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/flowcraft/dataflow/internal/db"
	"github.com/flowcraft/dataflow/internal/models"
)

// NodeFilter narrows a node query. Empty slices mean "no constraint".
type NodeFilter struct {
	DataflowID string
	NodeIDs    []string
	Types      []string
	Statuses   []models.NodeStatus
}

// NodeRepository handles database operations for nodes.
type NodeRepository struct {
	db db.Querier
}

// NewNodeRepository creates a new node repository.
func NewNodeRepository(database db.Querier) *NodeRepository {
	return &NodeRepository{db: database}
}

// Create inserts a new node row.
func (r *NodeRepository) Create(ctx context.Context, n *models.Node) error {
	config, err := json.Marshal(n.Config)
	if err != nil {
		return fmt.Errorf("store: marshal node config: %w", err)
	}
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal node metadata: %w", err)
	}

	query := `
		INSERT INTO nodes (node_id, dataflow_id, parent_node_id, type, status, config, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.Exec(ctx, query,
		n.NodeID, n.DataflowID, n.ParentNodeID, n.Type, n.Status, config, metadata, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create node: %w", err)
	}
	return nil
}

// GetByID retrieves a node by its id.
func (r *NodeRepository) GetByID(ctx context.Context, nodeID string) (*models.Node, error) {
	query := `
		SELECT node_id, dataflow_id, parent_node_id, type, status, config, metadata, created_at, updated_at
		FROM nodes WHERE node_id = $1
	`
	return scanNode(r.db.QueryRow(ctx, query, nodeID))
}

// ListByDataflow lists every node belonging to a workflow.
func (r *NodeRepository) ListByDataflow(ctx context.Context, dataflowID string) ([]*models.Node, error) {
	query := `
		SELECT node_id, dataflow_id, parent_node_id, type, status, config, metadata, created_at, updated_at
		FROM nodes WHERE dataflow_id = $1
	`
	rows, err := r.db.Query(ctx, query, dataflowID)
	if err != nil {
		return nil, fmt.Errorf("store: list nodes: %w", err)
	}
	defer rows.Close()

	var out []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate nodes: %w", err)
	}
	return out, nil
}

// ListPendingByDataflow lists nodes in pending status for a workflow, the
// candidate set the orchestrator checks for readiness.
func (r *NodeRepository) ListPendingByDataflow(ctx context.Context, dataflowID string) ([]*models.Node, error) {
	query := `
		SELECT node_id, dataflow_id, parent_node_id, type, status, config, metadata, created_at, updated_at
		FROM nodes WHERE dataflow_id = $1 AND status = 'pending'
	`
	rows, err := r.db.Query(ctx, query, dataflowID)
	if err != nil {
		return nil, fmt.Errorf("store: list pending nodes: %w", err)
	}
	defer rows.Close()

	var out []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate pending nodes: %w", err)
	}
	return out, nil
}

// Find runs a filtered query over nodes.
func (r *NodeRepository) Find(ctx context.Context, filter NodeFilter) ([]*models.Node, error) {
	where, args := buildNodeWhere(filter)
	query := fmt.Sprintf(`
		SELECT node_id, dataflow_id, parent_node_id, type, status, config, metadata, created_at, updated_at
		FROM nodes WHERE %s ORDER BY created_at ASC`, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find nodes: %w", err)
	}
	defer rows.Close()

	var out []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate nodes: %w", err)
	}
	return out, nil
}

// Count returns the number of nodes matching filter.
func (r *NodeRepository) Count(ctx context.Context, filter NodeFilter) (int, error) {
	where, args := buildNodeWhere(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM nodes WHERE %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count nodes: %w", err)
	}
	return count, nil
}

// CountByStatus returns a count of nodes in each status for a workflow.
func (r *NodeRepository) CountByStatus(ctx context.Context, dataflowID string) (map[models.NodeStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM nodes WHERE dataflow_id = $1 GROUP BY status`
	rows, err := r.db.Query(ctx, query, dataflowID)
	if err != nil {
		return nil, fmt.Errorf("store: count nodes by status: %w", err)
	}
	defer rows.Close()

	out := make(map[models.NodeStatus]int)
	for rows.Next() {
		var status models.NodeStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("store: scan node status count: %w", err)
		}
		out[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate node status counts: %w", err)
	}
	return out, nil
}

func buildNodeWhere(filter NodeFilter) (string, []any) {
	clauses := []string{"dataflow_id = $1"}
	args := []any{filter.DataflowID}

	if len(filter.NodeIDs) > 0 {
		placeholders := make([]string, len(filter.NodeIDs))
		for i, v := range filter.NodeIDs {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("node_id IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, v := range filter.Types {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, v := range filter.Statuses {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	return strings.Join(clauses, " AND "), args
}

// Update applies a sparse update to a node row.
func (r *NodeRepository) Update(ctx context.Context, nodeID string, status *models.NodeStatus, config *models.NodeConfig, metadata map[string]any) error {
	sets := []string{"updated_at = now()"}
	args := []any{nodeID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if status != nil {
		sets = append(sets, "status = "+arg(*status))
	}
	if config != nil {
		raw, err := json.Marshal(*config)
		if err != nil {
			return fmt.Errorf("store: marshal node config: %w", err)
		}
		sets = append(sets, "config = "+arg(raw))
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("store: marshal node metadata: %w", err)
		}
		sets = append(sets, "metadata = "+arg(raw))
	}

	query := fmt.Sprintf("UPDATE nodes SET %s WHERE node_id = $1", joinComma(sets))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: update node %s: %w", nodeID, ErrNotFound)
	}
	return nil
}

// Delete removes a node row.
func (r *NodeRepository) Delete(ctx context.Context, nodeID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM nodes WHERE node_id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("store: delete node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete node %s: %w", nodeID, ErrNotFound)
	}
	return nil
}

func scanNode(row rowScanner) (*models.Node, error) {
	n := &models.Node{}
	var config, metadata []byte
	err := row.Scan(
		&n.NodeID, &n.DataflowID, &n.ParentNodeID, &n.Type, &n.Status,
		&config, &metadata, &n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan node: %w", err)
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &n.Config); err != nil {
			return nil, fmt.Errorf("store: decode node config: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode node metadata: %w", err)
		}
	}
	return n, nil
}
