// Package reader implements immutable, chainable query builders over data
// and node records, mirroring the filter/fetch-option/terminal-op shape the
// node runtime SDK and client API both depend on.
package reader

import (
	"context"
	"fmt"

	"github.com/flowcraft/dataflow/internal/models"
	"github.com/flowcraft/dataflow/internal/store"
)

// DataReader is an immutable builder for queries over data records. Every
// With*/filter method returns a new value; the receiver is never mutated,
// so a reader can be safely shared and refined from a common base.
type DataReader struct {
	repo   *store.DataRepository
	filter store.DataFilter

	withContent       bool
	resolveReferences bool
	replaceReferences bool
}

// NewDataReader starts a reader scoped to a single workflow.
func NewDataReader(repo *store.DataRepository, dataflowID string) DataReader {
	return DataReader{
		repo:        repo,
		filter:      store.DataFilter{DataflowID: dataflowID},
		withContent: true,
	}
}

func (r DataReader) clone() DataReader {
	return r
}

// NodeIDs restricts the result set to records produced by any of the given nodes.
func (r DataReader) NodeIDs(ids ...string) DataReader {
	c := r.clone()
	c.filter.NodeIDs = ids
	return c
}

// Types restricts the result set to the given semantic data types.
func (r DataReader) Types(types ...string) DataReader {
	c := r.clone()
	c.filter.Types = types
	return c
}

// Discriminators restricts the result set by discriminator value.
func (r DataReader) Discriminators(discriminators ...string) DataReader {
	c := r.clone()
	c.filter.Discriminators = discriminators
	return c
}

// Keys restricts the result set to the given keys.
func (r DataReader) Keys(keys ...string) DataReader {
	c := r.clone()
	c.filter.Keys = keys
	return c
}

// ContentTypes restricts the result set by content type.
func (r DataReader) ContentTypes(contentTypes ...string) DataReader {
	c := r.clone()
	c.filter.ContentTypes = contentTypes
	return c
}

// Limit caps the number of returned records, newest first.
func (r DataReader) Limit(n int) DataReader {
	c := r.clone()
	c.filter.Limit = n
	return c
}

// WithContent toggles whether Content bytes are populated. Default true.
func (r DataReader) WithContent(enabled bool) DataReader {
	c := r.clone()
	c.withContent = enabled
	return c
}

// ResolveReferences fetches and attaches the referent record (RefDataID,
// RefContent, RefContentType) for any reference-typed result, leaving the
// reference's own Content/Key untouched. Dangling references resolve to
// nil Ref* fields with no error.
func (r DataReader) ResolveReferences(enabled bool) DataReader {
	c := r.clone()
	c.resolveReferences = enabled
	return c
}

// ReplaceReferences is like ResolveReferences but additionally swaps the
// returned record's Content/ContentType for the referent's, so callers that
// don't care about reference plumbing see the pointed-to value directly.
func (r DataReader) ReplaceReferences(enabled bool) DataReader {
	c := r.clone()
	c.replaceReferences = enabled
	c.resolveReferences = c.resolveReferences || enabled
	return c
}

// All executes the query and returns every matching record.
func (r DataReader) All(ctx context.Context) ([]*models.Data, error) {
	records, err := r.repo.Find(ctx, r.filter)
	if err != nil {
		return nil, err
	}
	if r.resolveReferences {
		for _, rec := range records {
			if err := r.resolve(ctx, rec); err != nil {
				return nil, err
			}
		}
	}
	if !r.withContent {
		for _, rec := range records {
			rec.Content = nil
		}
	}
	return records, nil
}

// One returns the newest matching record, or store.ErrNotFound if none match.
func (r DataReader) One(ctx context.Context) (*models.Data, error) {
	records, err := r.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return records[0], nil
}

// Count returns the number of matching records.
func (r DataReader) Count(ctx context.Context) (int, error) {
	return r.repo.Count(ctx, r.filter)
}

// Exists reports whether at least one record matches.
func (r DataReader) Exists(ctx context.Context) (bool, error) {
	count, err := r.Count(ctx)
	return count > 0, err
}

func (r DataReader) resolve(ctx context.Context, rec *models.Data) error {
	if !rec.IsReference() || rec.Key == nil {
		return nil
	}
	referent, err := r.repo.GetByID(ctx, rec.DataflowID, *rec.Key)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("reader: resolve reference %s: %w", *rec.Key, err)
	}

	rec.RefDataID = &referent.DataID
	rec.RefContent = referent.Content
	rec.RefContentType = &referent.ContentType

	if r.replaceReferences {
		rec.Content = referent.Content
		rec.ContentType = referent.ContentType
	}
	return nil
}
