package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flowcraft/dataflow/internal/db"
	"github.com/flowcraft/dataflow/internal/models"
)

// ErrNotFound is returned by repository lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// DataflowRepository handles database operations for workflows.
type DataflowRepository struct {
	db db.Querier
}

// NewDataflowRepository creates a new workflow repository.
func NewDataflowRepository(database db.Querier) *DataflowRepository {
	return &DataflowRepository{db: database}
}

// Create inserts a new workflow row.
func (r *DataflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	metadata, err := json.Marshal(wf.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal workflow metadata: %w", err)
	}

	query := `
		INSERT INTO dataflows (dataflow_id, parent_dataflow_id, actor_id, type, status, metadata, last_commit_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.Exec(ctx, query,
		wf.DataflowID, wf.ParentDataflowID, wf.ActorID, wf.Type, wf.Status, metadata,
		wf.LastCommitID, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create workflow: %w", err)
	}
	return nil
}

// GetByID retrieves a workflow by its id.
func (r *DataflowRepository) GetByID(ctx context.Context, dataflowID string) (*models.Workflow, error) {
	query := `
		SELECT dataflow_id, parent_dataflow_id, actor_id, type, status, metadata, last_commit_id, created_at, updated_at
		FROM dataflows WHERE dataflow_id = $1
	`
	row := r.db.QueryRow(ctx, query, dataflowID)
	return scanWorkflow(row)
}

// Update applies a sparse update to a workflow row. Only non-nil fields are
// written; metadata, when provided, replaces the stored value wholesale
// (the merge itself happens one layer up, in the command engine).
func (r *DataflowRepository) Update(ctx context.Context, dataflowID string, status *models.WorkflowStatus, metadata map[string]any, lastCommitID *string) error {
	sets := []string{"updated_at = now()"}
	args := []any{dataflowID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if status != nil {
		sets = append(sets, "status = "+arg(*status))
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("store: marshal workflow metadata: %w", err)
		}
		sets = append(sets, "metadata = "+arg(raw))
	}
	if lastCommitID != nil {
		sets = append(sets, "last_commit_id = "+arg(*lastCommitID))
	}

	query := fmt.Sprintf("UPDATE dataflows SET %s WHERE dataflow_id = $1", joinComma(sets))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: update workflow %s: %w", dataflowID, ErrNotFound)
	}
	return nil
}

// Delete removes a workflow row.
func (r *DataflowRepository) Delete(ctx context.Context, dataflowID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM dataflows WHERE dataflow_id = $1`, dataflowID)
	if err != nil {
		return fmt.Errorf("store: delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete workflow %s: %w", dataflowID, ErrNotFound)
	}
	return nil
}

// ListPendingOrRunning lists workflows in a non-terminal status, used by
// crash-recovery reconciliation at orchestrator startup.
func (r *DataflowRepository) ListPendingOrRunning(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT dataflow_id, parent_dataflow_id, actor_id, type, status, metadata, last_commit_id, created_at, updated_at
		FROM dataflows WHERE status IN ('pending', 'running')
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list active workflows: %w", err)
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate active workflows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	wf := &models.Workflow{}
	var metadata []byte
	err := row.Scan(
		&wf.DataflowID, &wf.ParentDataflowID, &wf.ActorID, &wf.Type, &wf.Status,
		&metadata, &wf.LastCommitID, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan workflow: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &wf.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode workflow metadata: %w", err)
		}
	}
	return wf, nil
}

func joinComma(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
