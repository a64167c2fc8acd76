package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/brdiagram/diagram"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: run not found")

// Run is one recorded pipeline run.
type Run struct {
	ID           string             `json:"id"`
	Source       string             `json:"source"`
	SourceHash   string             `json:"source_hash"`
	Strategy     string             `json:"strategy"`
	Model        string             `json:"model"`
	Status       string             `json:"status"`
	Summary      string             `json:"summary,omitempty"`
	FactsRaw     string             `json:"facts_raw,omitempty"`
	Unstructured bool               `json:"unstructured"`
	Warnings     []string           `json:"warnings,omitempty"`
	Failures     []string           `json:"failures,omitempty"`
	DurationMS   int64              `json:"duration_ms"`
	CreatedAt    string             `json:"created_at"`
	Artifacts    []diagram.Artifact `json:"artifacts,omitempty"`
}

// Store wraps the SQLite database holding run history.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// HashContent returns the hex SHA-256 of text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// InsertRun records a run and its artifacts in one transaction.
func (s *Store) InsertRun(ctx context.Context, run Run) error {
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return err
	}
	failures, err := json.Marshal(nonNil(run.Failures))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, source_hash, strategy, model, status, summary,
			facts_raw, unstructured, warnings, failures, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.SourceHash, run.Strategy, run.Model, run.Status, run.Summary,
		run.FactsRaw, run.Unstructured, string(warnings), string(failures), run.DurationMS); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO artifacts (run_id, position, kind, markup, markup_path, image_path,
			document_path, error, write_error, render_error, convert_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing artifact insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range run.Artifacts {
		if _, err := stmt.ExecContext(ctx, run.ID, i, string(a.Kind), a.Markup, a.MarkupPath,
			a.ImagePath, a.DocumentPath, a.Err, a.WriteErr, a.RenderErr, a.ConvertErr); err != nil {
			return fmt.Errorf("inserting artifact %s: %w", a.Kind, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, source, source_hash, strategy, model, status, summary, facts_raw,
	unstructured, warnings, failures, duration_ms, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                  Run
		warnings, failures sql.NullString
		summary, factsRaw  sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Source, &r.SourceHash, &r.Strategy, &r.Model, &r.Status,
		&summary, &factsRaw, &r.Unstructured, &warnings, &failures, &r.DurationMS, &r.CreatedAt); err != nil {
		return Run{}, err
	}
	r.Summary = summary.String
	r.FactsRaw = factsRaw.String
	if warnings.Valid && warnings.String != "" {
		_ = json.Unmarshal([]byte(warnings.String), &r.Warnings)
	}
	if failures.Valid && failures.String != "" {
		_ = json.Unmarshal([]byte(failures.String), &r.Failures)
	}
	return r, nil
}

// GetRun retrieves a run with its artifacts in output order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, markup, markup_path, image_path, document_path, error, write_error,
			render_error, convert_error
		FROM artifacts WHERE run_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a diagram.Artifact
		var kind string
		if err := rows.Scan(&kind, &a.Markup, &a.MarkupPath, &a.ImagePath, &a.DocumentPath,
			&a.Err, &a.WriteErr, &a.RenderErr, &a.ConvertErr); err != nil {
			return nil, err
		}
		a.Kind = diagram.Kind(kind)
		r.Artifacts = append(r.Artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs first, without artifacts. A
// non-positive limit returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountRuns returns the number of recorded runs.
func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n)
	return n, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
