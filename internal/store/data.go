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

// DataFilter narrows a data query. Empty slices mean "no constraint".
type DataFilter struct {
	DataflowID     string
	NodeIDs        []string
	Types          []string
	Discriminators []string
	Keys           []string
	ContentTypes   []string
	Limit          int
}

// DataRepository handles database operations for data records.
type DataRepository struct {
	db db.Querier
}

// NewDataRepository creates a new data repository.
func NewDataRepository(database db.Querier) *DataRepository {
	return &DataRepository{db: database}
}

// Create inserts a new data row.
func (r *DataRepository) Create(ctx context.Context, d *models.Data) error {
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal data metadata: %w", err)
	}

	query := `
		INSERT INTO data (data_id, dataflow_id, node_id, type, discriminator, key, content, content_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Exec(ctx, query,
		d.DataID, d.DataflowID, d.NodeID, d.Type, d.Discriminator, d.Key, d.Content, d.ContentType, metadata, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create data: %w", err)
	}
	return nil
}

// GetByID retrieves a data record by id, scoped to a workflow so a caller
// can never dereference a record belonging to another dataflow.
func (r *DataRepository) GetByID(ctx context.Context, dataflowID, dataID string) (*models.Data, error) {
	query := `
		SELECT data_id, dataflow_id, node_id, type, discriminator, key, content, content_type, metadata, created_at
		FROM data WHERE dataflow_id = $1 AND data_id = $2
	`
	return scanData(r.db.QueryRow(ctx, query, dataflowID, dataID))
}

// Find runs a filtered query over data records, newest first.
func (r *DataRepository) Find(ctx context.Context, filter DataFilter) ([]*models.Data, error) {
	where, args := buildDataWhere(filter)
	query := fmt.Sprintf(`
		SELECT data_id, dataflow_id, node_id, type, discriminator, key, content, content_type, metadata, created_at
		FROM data WHERE %s ORDER BY created_at DESC`, where)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find data: %w", err)
	}
	defer rows.Close()

	var out []*models.Data
	for rows.Next() {
		d, err := scanData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate data: %w", err)
	}
	return out, nil
}

// Count returns the number of data records matching filter.
func (r *DataRepository) Count(ctx context.Context, filter DataFilter) (int, error) {
	where, args := buildDataWhere(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM data WHERE %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count data: %w", err)
	}
	return count, nil
}

// Update applies a sparse update to a data row.
func (r *DataRepository) Update(ctx context.Context, dataID string, content []byte, contentType *string, metadata map[string]any) error {
	sets := []string{}
	args := []any{dataID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if content != nil {
		sets = append(sets, "content = "+arg(content))
	}
	if contentType != nil {
		sets = append(sets, "content_type = "+arg(*contentType))
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("store: marshal data metadata: %w", err)
		}
		sets = append(sets, "metadata = "+arg(raw))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE data SET %s WHERE data_id = $1", joinComma(sets))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: update data %s: %w", dataID, ErrNotFound)
	}
	return nil
}

// Delete removes a data row.
func (r *DataRepository) Delete(ctx context.Context, dataID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM data WHERE data_id = $1`, dataID)
	if err != nil {
		return fmt.Errorf("store: delete data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: delete data %s: %w", dataID, ErrNotFound)
	}
	return nil
}

func buildDataWhere(filter DataFilter) (string, []any) {
	clauses := []string{"dataflow_id = $1"}
	args := []any{filter.DataflowID}

	addIn := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
	}

	addIn("node_id", filter.NodeIDs)
	addIn("type", filter.Types)
	addIn("discriminator", filter.Discriminators)
	addIn("key", filter.Keys)
	addIn("content_type", filter.ContentTypes)

	return strings.Join(clauses, " AND "), args
}

func scanData(row rowScanner) (*models.Data, error) {
	d := &models.Data{}
	var metadata []byte
	err := row.Scan(
		&d.DataID, &d.DataflowID, &d.NodeID, &d.Type, &d.Discriminator, &d.Key,
		&d.Content, &d.ContentType, &metadata, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan data: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode data metadata: %w", err)
		}
	}
	return d, nil
}
