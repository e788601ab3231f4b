// Package store defines the catalog's persistence contract. Backends
// keep each pattern twice: the canonical document as an opaque blob,
// and a handful of metadata columns extracted for filtering. The blob
// is the source of truth; columns are derived data rebuilt on every
// write.
package store

import (
	"context"
	"errors"

	"github.com/universal-corpus/patterns/core/pattern"
)

var (
	// ErrNotFound is returned when no pattern has the requested id.
	ErrNotFound = errors.New("pattern not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("pattern already exists")
)

// Filter narrows List results. Zero values mean no constraint. Limit
// of zero applies the backend default.
type Filter struct {
	Category   pattern.Category
	Status     pattern.Status
	Complexity pattern.Complexity
	Limit      int
	Offset     int
}

// Stats summarizes the collection by the indexed metadata columns.
// Enum values with a zero count are omitted from the maps.
type Stats struct {
	TotalPatterns int            `json:"total_patterns"`
	ByCategory    map[string]int `json:"by_category"`
	ByStatus      map[string]int `json:"by_status"`
	ByComplexity  map[string]int `json:"by_complexity"`
}

// Repository is the storage surface the transport layer depends on.
// All writes validate before touching the backend; a pattern that
// fails validation is never persisted.
type Repository interface {
	// Create stores a new pattern, failing with ErrExists if the id
	// is taken.
	Create(ctx context.Context, p *pattern.Pattern) error

	// Replace overwrites an existing pattern wholesale, failing with
	// ErrNotFound if the id is unknown.
	Replace(ctx context.Context, p *pattern.Pattern) error

	// Get loads one pattern by id.
	Get(ctx context.Context, id string) (*pattern.Pattern, error)

	// List returns patterns matching the filter, ordered by id.
	List(ctx context.Context, f Filter) ([]*pattern.Pattern, error)

	// Patch applies a structural partial update to the stored
	// document and returns the merged result. The merge never leaves
	// an invalid document behind: validation failure aborts the write.
	Patch(ctx context.Context, id string, update map[string]any) (*pattern.Pattern, error)

	// Delete removes a pattern, failing with ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Count reports how many patterns match the filter's constraints,
	// ignoring Limit and Offset.
	Count(ctx context.Context, f Filter) (int, error)

	// Stats aggregates counts across the whole collection.
	Stats(ctx context.Context) (*Stats, error)
}
