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

// CommitRepository handles database operations for the commit log.
type CommitRepository struct {
	db db.Querier
}

// NewCommitRepository creates a new commit repository.
func NewCommitRepository(database db.Querier) *CommitRepository {
	return &CommitRepository{db: database}
}

// Create appends a commit. Commit ids are UUIDv7, so insertion order and
// value order agree.
func (r *CommitRepository) Create(ctx context.Context, c *models.Commit) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal commit payload: %w", err)
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal commit metadata: %w", err)
	}

	query := `
		INSERT INTO dataflow_commits (commit_id, dataflow_id, payload, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.db.Exec(ctx, query, c.CommitID, c.DataflowID, payload, metadata, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create commit: %w", err)
	}
	return nil
}

// GetByID retrieves a single commit by id.
func (r *CommitRepository) GetByID(ctx context.Context, commitID string) (*models.Commit, error) {
	query := `
		SELECT commit_id, dataflow_id, payload, metadata, created_at
		FROM dataflow_commits WHERE commit_id = $1
	`
	return scanCommit(r.db.QueryRow(ctx, query, commitID))
}

// ListAfter returns commits for a workflow with commit_id strictly greater
// than afterCommitID, ordered oldest-first. An empty afterCommitID returns
// the full log. This backs the orchestrator's "drain pending commits" step.
func (r *CommitRepository) ListAfter(ctx context.Context, dataflowID, afterCommitID string) ([]*models.Commit, error) {
	var rows pgx.Rows
	var err error
	if afterCommitID == "" {
		rows, err = r.db.Query(ctx, `
			SELECT commit_id, dataflow_id, payload, metadata, created_at
			FROM dataflow_commits WHERE dataflow_id = $1 ORDER BY commit_id ASC
		`, dataflowID)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT commit_id, dataflow_id, payload, metadata, created_at
			FROM dataflow_commits WHERE dataflow_id = $1 AND commit_id > $2 ORDER BY commit_id ASC
		`, dataflowID, afterCommitID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list commits: %w", err)
	}
	defer rows.Close()

	var out []*models.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate commits: %w", err)
	}
	return out, nil
}

func scanCommit(row rowScanner) (*models.Commit, error) {
	c := &models.Commit{}
	var payload, metadata []byte
	err := row.Scan(&c.CommitID, &c.DataflowID, &payload, &metadata, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan commit: %w", err)
	}
	if err := json.Unmarshal(payload, &c.Payload); err != nil {
		return nil, fmt.Errorf("store: decode commit payload: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode commit metadata: %w", err)
		}
	}
	return c, nil
}
