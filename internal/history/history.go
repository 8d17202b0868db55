// Package history records exported schema documents in PostgreSQL so that
// past versions can be listed without scanning the blob store.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fozzylyon/sf-schemas/internal/logging"
	"github.com/fozzylyon/sf-schemas/internal/metrics"
)

const createTable = `
CREATE TABLE IF NOT EXISTS schema_exports (
	id           BIGSERIAL PRIMARY KEY,
	run_id       TEXT NOT NULL DEFAULT '',
	version      TEXT NOT NULL,
	object_name  TEXT NOT NULL,
	object_key   TEXT NOT NULL,
	field_count  INTEGER NOT NULL,
	nested_count INTEGER NOT NULL,
	exported_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (version, object_name)
)`

// Entry is one uploaded schema document.
type Entry struct {
	RunID       string
	Version     string
	Object      string
	Key         string
	FieldCount  int
	NestedCount int
	ExportedAt  time.Time
}

// VersionSummary aggregates the entries of one version.
type VersionSummary struct {
	Version      string
	Objects      int
	LastExported time.Time
}

// Store is a PostgreSQL export history store.
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL and creates the history table if needed.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("migrate", time.Since(start)) }()

	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create schema_exports: %w", err)
	}
	return nil
}

// Record upserts one entry. Re-exporting an object under the same version
// replaces the previous row.
func (s *Store) Record(ctx context.Context, e Entry) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("record_export", time.Since(start)) }()

	if e.ExportedAt.IsZero() {
		e.ExportedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schema_exports (run_id, version, object_name, object_key, field_count, nested_count, exported_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (version, object_name) DO UPDATE SET
		   run_id = EXCLUDED.run_id,
		   object_key = EXCLUDED.object_key,
		   field_count = EXCLUDED.field_count,
		   nested_count = EXCLUDED.nested_count,
		   exported_at = EXCLUDED.exported_at`,
		e.RunID, e.Version, e.Object, e.Key, e.FieldCount, e.NestedCount, e.ExportedAt)
	if err != nil {
		return fmt.Errorf("record export %s/%s: %w", e.Version, e.Object, err)
	}

	logging.WithContext(ctx).Debug("recorded export",
		zap.String("version", e.Version),
		zap.String("object", e.Object))
	return nil
}

// Entries returns the entries of one version ordered by object name.
func (s *Store) Entries(ctx context.Context, version string) ([]Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_entries", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, version, object_name, object_key, field_count, nested_count, exported_at
		 FROM schema_exports WHERE version = $1 ORDER BY object_name`, version)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.Version, &e.Object, &e.Key, &e.FieldCount, &e.NestedCount, &e.ExportedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Versions summarizes every recorded version, newest first.
func (s *Store) Versions(ctx context.Context) ([]VersionSummary, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_versions", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT version, COUNT(*), MAX(exported_at)
		 FROM schema_exports GROUP BY version ORDER BY MAX(exported_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var out []VersionSummary
	for rows.Next() {
		var v VersionSummary
		if err := rows.Scan(&v.Version, &v.Objects, &v.LastExported); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
