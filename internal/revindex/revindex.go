// Package revindex provides an embedded SQLite cache over the change
// graph for fast text and time scans.
//
// The graph files under .jj/ remain the source of truth; the index is
// derived state that can be deleted at any time and rebuilt from
// graph.json. The engine rebuilds it when a repository opens and
// re-syncs it as operations commit; revset filters and log read the
// in-memory graph and do not query it.
//
// The database runs embedded (ncruces/go-sqlite3) with WAL so readers
// are never blocked by the single writer.
package revindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/jjkit/jjkit/internal/graph"
)

// DB wraps the index database.
type DB struct {
	conn *sql.DB
	path string
}

// Row is one indexed revision.
type Row struct {
	ChangeID    string
	CommitID    string
	AuthorName  string
	AuthorEmail string
	Description string
	CommitterMS int64
	Empty       bool
	HasConflict bool
	Abandoned   bool
}

// Open opens (or creates) the index at path and ensures the schema.
// The caller must Close it.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close checkpoints and closes the database.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close index database: %w", err)
	}
	return nil
}

func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS revisions (
		change_id    TEXT PRIMARY KEY,
		commit_id    TEXT NOT NULL DEFAULT '',
		author_name  TEXT NOT NULL DEFAULT '',
		author_email TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		committer_ms INTEGER NOT NULL DEFAULT 0,
		empty        INTEGER NOT NULL DEFAULT 0,
		has_conflict INTEGER NOT NULL DEFAULT 0,
		abandoned    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_revisions_committer ON revisions(committer_ms);
	CREATE INDEX IF NOT EXISTS idx_revisions_author ON revisions(author_email);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create index schema: %w", err)
	}
	return nil
}

// Upsert writes one revision row.
func (db *DB) Upsert(ctx context.Context, r Row) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO revisions (change_id, commit_id, author_name, author_email, description, committer_ms, empty, has_conflict, abandoned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(change_id) DO UPDATE SET
			commit_id=excluded.commit_id,
			author_name=excluded.author_name,
			author_email=excluded.author_email,
			description=excluded.description,
			committer_ms=excluded.committer_ms,
			empty=excluded.empty,
			has_conflict=excluded.has_conflict,
			abandoned=excluded.abandoned`,
		r.ChangeID, r.CommitID, r.AuthorName, r.AuthorEmail, r.Description,
		r.CommitterMS, boolInt(r.Empty), boolInt(r.HasConflict), boolInt(r.Abandoned))
	if err != nil {
		return fmt.Errorf("failed to upsert revision: %w", err)
	}
	return nil
}

// Delete removes one revision row.
func (db *DB) Delete(ctx context.Context, changeID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM revisions WHERE change_id = ?`, changeID); err != nil {
		return fmt.Errorf("failed to delete revision: %w", err)
	}
	return nil
}

// RebuildFrom drops and repopulates the index from the graph. Safe to
// call any time; the graph is the source of truth.
func (db *DB) RebuildFrom(ctx context.Context, g *graph.Graph) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM revisions`); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	for _, id := range g.All() {
		c, err := g.Get(id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO revisions (change_id, commit_id, author_name, author_email, description, committer_ms, empty, has_conflict, abandoned)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ChangeID, c.CommitID, c.Author.Name, c.Author.Email, c.Description,
			c.Committer.Timestamp, boolInt(c.Flags.Empty), boolInt(c.Flags.HasConflict), boolInt(c.Flags.Abandoned)); err != nil {
			return fmt.Errorf("failed to insert revision: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}
	return nil
}

// SyncChange mirrors one change into the index.
func (db *DB) SyncChange(ctx context.Context, c *graph.Change) error {
	return db.Upsert(ctx, Row{
		ChangeID:    c.ChangeID,
		CommitID:    c.CommitID,
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
		Description: c.Description,
		CommitterMS: c.Committer.Timestamp,
		Empty:       c.Flags.Empty,
		HasConflict: c.Flags.HasConflict,
		Abandoned:   c.Flags.Abandoned,
	})
}

// SearchAuthor returns change IDs whose author name or email contains
// the needle, newest first.
func (db *DB) SearchAuthor(ctx context.Context, needle string) ([]string, error) {
	return db.queryIDs(ctx, `
		SELECT change_id FROM revisions
		WHERE abandoned = 0 AND (instr(lower(author_name), lower(?)) > 0 OR instr(lower(author_email), lower(?)) > 0)
		ORDER BY committer_ms DESC, change_id ASC`, needle, needle)
}

// SearchDescription returns change IDs whose description contains the
// needle, newest first.
func (db *DB) SearchDescription(ctx context.Context, needle string) ([]string, error) {
	return db.queryIDs(ctx, `
		SELECT change_id FROM revisions
		WHERE abandoned = 0 AND instr(lower(description), lower(?)) > 0
		ORDER BY committer_ms DESC, change_id ASC`, needle)
}

// Since returns change IDs committed at or after the cutoff, newest
// first.
func (db *DB) Since(ctx context.Context, cutoffMS int64) ([]string, error) {
	return db.queryIDs(ctx, `
		SELECT change_id FROM revisions
		WHERE abandoned = 0 AND committer_ms >= ?
		ORDER BY committer_ms DESC, change_id ASC`, cutoffMS)
}

// Count returns the number of indexed revisions.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM revisions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count revisions: %w", err)
	}
	return n, nil
}

func (db *DB) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan revision row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
