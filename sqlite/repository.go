// Package sqlite implements the store.Repository contract on a SQLite
// database. Each pattern is stored as its canonical JSON blob next to
// a set of extracted metadata columns, so filters run on indexed
// columns while reads always return the full document.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/universal-corpus/patterns/core/pattern"
	"github.com/universal-corpus/patterns/core/store"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS patterns (
	id         TEXT PRIMARY KEY,
	version    TEXT NOT NULL,
	name       TEXT NOT NULL,
	category   TEXT NOT NULL,
	status     TEXT NOT NULL,
	complexity TEXT,
	data       BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patterns_name ON patterns(name);
CREATE INDEX IF NOT EXISTS idx_patterns_category ON patterns(category);
CREATE INDEX IF NOT EXISTS idx_patterns_status ON patterns(status);
`

const defaultListLimit = 100

// Repository is a SQLite-backed pattern store. Writes to the same id
// are serialized with a per-id lock so the read-merge-write cycle in
// Patch stays atomic even across separate connections from the pool.
type Repository struct {
	db      *sql.DB
	logger  *zap.Logger
	emitter *store.Emitter
	locks   keyedMutex
}

var _ store.Repository = (*Repository)(nil)

// Open connects to the database at path, applies the schema, and
// returns a ready repository. An in-memory database is selected with
// path ":memory:". A nil logger disables logging; a nil emitter
// disables lifecycle events.
func Open(path string, logger *zap.Logger, emitter *store.Emitter) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("opened pattern database", zap.String("path", path))
	return &Repository{db: db, logger: logger, emitter: emitter}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Create(ctx context.Context, p *pattern.Pattern) error {
	return r.observe("create", p.ID,
		store.EventCreateStart, store.EventCreateSuccess, store.EventCreateFailed,
		func() error {
			if err := pattern.Validate(p); err != nil {
				return err
			}
			unlock := r.locks.lock(p.ID)
			defer unlock()

			raw, err := p.MarshalCanonical()
			if err != nil {
				return fmt.Errorf("failed to encode pattern %s: %w", p.ID, err)
			}
			now := time.Now().UTC()
			_, err = r.db.ExecContext(ctx,
				`INSERT INTO patterns (id, version, name, category, status, complexity, data, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.ID, p.Version, p.Metadata.Name, string(p.Metadata.Category),
				string(p.Metadata.Status), nullable(string(p.Metadata.Complexity)),
				raw, now, now)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("pattern %s: %w", p.ID, store.ErrExists)
				}
				return fmt.Errorf("failed to insert pattern %s: %w", p.ID, err)
			}
			r.logger.Info("pattern created", zap.String("id", p.ID), zap.String("version", p.Version))
			return nil
		})
}

func (r *Repository) Replace(ctx context.Context, p *pattern.Pattern) error {
	return r.observe("replace", p.ID,
		store.EventReplaceStart, store.EventReplaceSuccess, store.EventReplaceFailed,
		func() error {
			if err := pattern.Validate(p); err != nil {
				return err
			}
			unlock := r.locks.lock(p.ID)
			defer unlock()
			return r.update(ctx, p)
		})
}

// update rewrites the blob and every derived column in one statement.
// Callers hold the id lock.
func (r *Repository) update(ctx context.Context, p *pattern.Pattern) error {
	raw, err := p.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("failed to encode pattern %s: %w", p.ID, err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE patterns
		 SET version = ?, name = ?, category = ?, status = ?, complexity = ?, data = ?, updated_at = ?
		 WHERE id = ?`,
		p.Version, p.Metadata.Name, string(p.Metadata.Category),
		string(p.Metadata.Status), nullable(string(p.Metadata.Complexity)),
		raw, time.Now().UTC(), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update pattern %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result for %s: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("pattern %s: %w", p.ID, store.ErrNotFound)
	}
	r.logger.Info("pattern updated", zap.String("id", p.ID), zap.String("version", p.Version))
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*pattern.Pattern, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM patterns WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern %s: %w", id, err)
	}
	p, err := pattern.UnmarshalCanonical(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored pattern %s: %w", id, err)
	}
	return p, nil
}

func (r *Repository) List(ctx context.Context, f store.Filter) ([]*pattern.Pattern, error) {
	where, args := filterClause(f)
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx,
		`SELECT data FROM patterns`+where+` ORDER BY id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var out []*pattern.Pattern
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan pattern row: %w", err)
		}
		p, err := pattern.UnmarshalCanonical(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode stored pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Patch(ctx context.Context, id string, update map[string]any) (*pattern.Pattern, error) {
	var merged *pattern.Pattern
	err := r.observe("patch", id,
		store.EventPatchStart, store.EventPatchSuccess, store.EventPatchFailed,
		func() error {
			unlock := r.locks.lock(id)
			defer unlock()

			current, err := r.Get(ctx, id)
			if err != nil {
				return err
			}
			merged, err = store.ApplyPatch(current, update)
			if err != nil {
				return err
			}
			if merged.ID != id {
				return &pattern.DecodeError{Format: "json", Where: "id",
					Reason: "partial update may not change the pattern id"}
			}
			return r.update(ctx, merged)
		})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.observe("delete", id,
		store.EventDeleteStart, store.EventDeleteSuccess, store.EventDeleteFailed,
		func() error {
			unlock := r.locks.lock(id)
			defer unlock()

			res, err := r.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("failed to delete pattern %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to check delete result for %s: %w", id, err)
			}
			if n == 0 {
				return fmt.Errorf("pattern %s: %w", id, store.ErrNotFound)
			}
			r.logger.Info("pattern deleted", zap.String("id", id))
			return nil
		})
}

func (r *Repository) Count(ctx context.Context, f store.Filter) (int, error) {
	where, args := filterClause(f)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count patterns: %w", err)
	}
	return n, nil
}

func (r *Repository) Stats(ctx context.Context) (*store.Stats, error) {
	stats := &store.Stats{
		ByCategory:   map[string]int{},
		ByStatus:     map[string]int{},
		ByComplexity: map[string]int{},
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&stats.TotalPatterns); err != nil {
		return nil, fmt.Errorf("failed to count patterns: %w", err)
	}
	for column, dest := range map[string]map[string]int{
		"category":   stats.ByCategory,
		"status":     stats.ByStatus,
		"complexity": stats.ByComplexity,
	} {
		if err := r.groupCount(ctx, column, dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (r *Repository) groupCount(ctx context.Context, column string, dest map[string]int) error {
	// column is one of the three fixed names above, never user input.
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, COUNT(*) FROM patterns WHERE %s IS NOT NULL AND %s != '' GROUP BY %s`,
			column, column, column, column))
	if err != nil {
		return fmt.Errorf("failed to aggregate by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var value string
		var n int
		if err := rows.Scan(&value, &n); err != nil {
			return fmt.Errorf("failed to scan %s aggregate: %w", column, err)
		}
		dest[value] = n
	}
	return rows.Err()
}

func (r *Repository) observe(op, id string, start, success, failed store.EventType, fn func() error) error {
	if r.emitter == nil {
		return fn()
	}
	return r.emitter.Observe(op, id, start, success, failed, fn)
}

func filterClause(f store.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Complexity != "" {
		conds = append(conds, "complexity = ?")
		args = append(args, string(f.Complexity))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation checks for a primary key conflict without binding
// to driver internals.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// keyedMutex hands out one mutex per pattern id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
