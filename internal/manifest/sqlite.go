package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"backup-suite/internal/engine"
	"backup-suite/internal/manifest/migrations"
)

// SQLiteStore keeps the manifest in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string

	// mu serializes read-merge-write cycles in Upsert.
	mu sync.Mutex
}

// NewSQLiteStore opens the manifest at path, migrating its schema if needed.
// path can be a file path or ":memory:".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens a SQLite connection with foreign keys enabled. A
// single connection is used so that ":memory:" databases are shared and
// writers never contend for the file lock.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) Lookup(path string) (*engine.ManifestEntry, error) {
	ctx := context.Background()
	return lookupTx(ctx, s.db, path)
}

func (s *SQLiteStore) Upsert(entry *engine.ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	merged, err := lookupTx(ctx, tx, entry.Path)
	if err != nil {
		return err
	}
	if merged == nil {
		merged = &engine.ManifestEntry{Path: entry.Path}
	}
	merged.Merge(entry)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO manifest_entries (path, content_hash, last_backed_up_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			last_backed_up_at = excluded.last_backed_up_at
	`, merged.Path, merged.ContentHash, merged.LastBackedUpAt.UTC())
	if err != nil {
		return fmt.Errorf("writing manifest entry: %w", err)
	}

	for kind, loc := range entry.Locations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO backend_locations (path, backend_kind, remote_id, content_hash, backed_up_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(path, backend_kind) DO UPDATE SET
				remote_id = excluded.remote_id,
				content_hash = excluded.content_hash,
				backed_up_at = excluded.backed_up_at
		`, merged.Path, string(kind), loc.RemoteID, loc.ContentHash, loc.BackedUpAt.UTC())
		if err != nil {
			return fmt.Errorf("writing %s location: %w", kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Snapshot() ([]*engine.ManifestEntry, error) {
	ctx := context.Background()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.path, e.content_hash, e.last_backed_up_at,
		       l.backend_kind, l.remote_id, l.content_hash, l.backed_up_at
		FROM manifest_entries e
		LEFT JOIN backend_locations l ON l.path = e.path
		ORDER BY e.path, l.backend_kind
	`)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	defer rows.Close()

	var (
		result []*engine.ManifestEntry
		cur    *engine.ManifestEntry
	)
	for rows.Next() {
		var (
			path, hash string
			at         time.Time
			loc        nullLocation
		)
		if err := rows.Scan(&path, &hash, &at, &loc.kind, &loc.remoteID, &loc.hash, &loc.at); err != nil {
			return nil, fmt.Errorf("scanning manifest row: %w", err)
		}
		if cur == nil || cur.Path != path {
			cur = &engine.ManifestEntry{
				Path:           path,
				ContentHash:    hash,
				LastBackedUpAt: at,
				Locations:      make(map[engine.BackendKind]engine.Location),
			}
			result = append(result, cur)
		}
		loc.addTo(cur)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return result, nil
}

// Check runs SQLite's integrity check and verifies the schema version.
func (s *SQLiteStore) Check() error {
	rows, err := s.db.Query("PRAGMA quick_check")
	if err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return fmt.Errorf("reading integrity check: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("integrity check failed: %s", strings.Join(problems, "; "))
	}
	return migrations.Check(s.db)
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// BackupTo writes a consistent copy of the manifest to destPath.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up manifest: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func lookupTx(ctx context.Context, q querier, path string) (*engine.ManifestEntry, error) {
	e := &engine.ManifestEntry{Path: path, Locations: make(map[engine.BackendKind]engine.Location)}
	err := q.QueryRowContext(ctx,
		"SELECT content_hash, last_backed_up_at FROM manifest_entries WHERE path = ?", path,
	).Scan(&e.ContentHash, &e.LastBackedUpAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up %s: %w", path, err)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT backend_kind, remote_id, content_hash, backed_up_at FROM backend_locations WHERE path = ?", path)
	if err != nil {
		return nil, fmt.Errorf("looking up locations of %s: %w", path, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind string
			loc  engine.Location
		)
		if err := rows.Scan(&kind, &loc.RemoteID, &loc.ContentHash, &loc.BackedUpAt); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		e.Locations[engine.BackendKind(kind)] = loc
	}
	return e, rows.Err()
}

// nullLocation scans the nullable side of the entries/locations join.
type nullLocation struct {
	kind, remoteID, hash sql.NullString
	at                   sql.NullTime
}

func (n nullLocation) addTo(e *engine.ManifestEntry) {
	if !n.kind.Valid {
		return
	}
	e.Locations[engine.BackendKind(n.kind.String)] = engine.Location{
		RemoteID:    n.remoteID.String,
		ContentHash: n.hash.String,
		BackedUpAt:  n.at.Time,
	}
}

// Compile-time check that SQLiteStore implements engine.ManifestStore.
var _ engine.ManifestStore = (*SQLiteStore)(nil)
