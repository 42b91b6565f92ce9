// Package store provides the summary cache collaborator: an in-memory cache
// for a single run and a SQLite-backed durable cache shared across runs.
//
// # Cache contract
//
//   - Per-key atomic: a reader sees either no summary or a complete one
//   - First write wins: a later Put for a present key is a no-op
//   - Stable once read: a summary returned by Get never changes
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Rows are keyed by checker, program digest and procedure key, so a changed
// program or a different checker never reads another's summaries.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/causal/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on summaries.run_id
const currentSchemaVersion = 1

// Store is the SQLite database behind SQLiteCache.
type Store struct {
	db *sql.DB
}

// Row is one stored summary.
type Row struct {
	Checker       string
	ProgramDigest string
	ProcKey       string
	Digest        string
	Payload       []byte
	Flags         int
	RunID         string
	EngineVersion string
	IRVersion     string
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutSummary inserts row unless a row with the same key exists.
// Reports whether this call inserted it.
func (s *Store) PutSummary(ctx context.Context, row Row) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries
		(checker, program_digest, proc_key, digest, payload, flags, run_id, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(checker, program_digest, proc_key) DO NOTHING
	`,
		row.Checker,
		row.ProgramDigest,
		row.ProcKey,
		row.Digest,
		row.Payload,
		row.Flags,
		row.RunID,
		row.EngineVersion,
		row.IRVersion,
	)
	if err != nil {
		return false, fmt.Errorf("put summary %s: %w", row.ProcKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put summary %s: %w", row.ProcKey, err)
	}
	return n == 1, nil
}

// GetSummary reads the row for a key.
func (s *Store) GetSummary(ctx context.Context, checker, programDigest, procKey string) (Row, bool, error) {
	row := Row{Checker: checker, ProgramDigest: programDigest, ProcKey: procKey}
	err := s.db.QueryRowContext(ctx, `
		SELECT digest, payload, flags, run_id, engine_version, ir_version
		FROM summaries
		WHERE checker = ? AND program_digest = ? AND proc_key = ?
	`, checker, programDigest, procKey).Scan(
		&row.Digest,
		&row.Payload,
		&row.Flags,
		&row.RunID,
		&row.EngineVersion,
		&row.IRVersion,
	)
	if err == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("get summary %s: %w", procKey, err)
	}
	return row, true, nil
}

// ListSummaries returns every row for a checker and program, ordered by
// procedure key.
func (s *Store) ListSummaries(ctx context.Context, checker, programDigest string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proc_key, digest, payload, flags, run_id, engine_version, ir_version
		FROM summaries
		WHERE checker = ? AND program_digest = ?
		ORDER BY proc_key COLLATE BINARY ASC
	`, checker, programDigest)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r := Row{Checker: checker, ProgramDigest: programDigest}
		if err := rows.Scan(&r.ProcKey, &r.Digest, &r.Payload, &r.Flags, &r.RunID, &r.EngineVersion, &r.IRVersion); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}

// RecordRun registers an analysis run. Recording the same id twice keeps
// the first record.
func (s *Store) RecordRun(ctx context.Context, id, checker, programDigest string, procs int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, checker, program_digest, procs)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, checker, programDigest, procs)
	if err != nil {
		return fmt.Errorf("record run %s: %w", id, err)
	}
	return nil
}

// RunSummaries counts the rows written by a run.
func (s *Store) RunSummaries(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count run summaries: %w", err)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes summaries by run for RunSummaries.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_summaries_run_id
		ON summaries(run_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// versionsMatch reports whether a row was written by this engine.
func versionsMatch(r Row) bool {
	return r.EngineVersion == ir.EngineVersion && r.IRVersion == ir.IRVersion
}
