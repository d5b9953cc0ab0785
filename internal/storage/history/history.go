// Package history keeps a SQLite record of finished scans.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"sigscan/internal/scanner"
	"sigscan/pkg/migrator"

	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err) // the embed pattern guarantees the directory
	}
	return sub
}

var ErrRunNotFound = errors.New("scan run not found")

// Run is a stored scan summary.
type Run struct {
	ID           string
	Root         string
	StartedAt    time.Time
	FinishedAt   time.Time
	FilesScanned int
	BytesScanned int64
	FlaggedCount int
	IgnoredCount int
	SkippedCount int
	Cancelled    bool
	StoppedEarly bool
	Flagged      []FlaggedFile
}

type FlaggedFile struct {
	Path        string
	Fingerprint string
	Size        int64
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the history database at path and brings its schema up to date.
func Open(path string, logger *slog.Logger) (*Store, error) {
	const op = "history.Open"

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// sqlite allows one writer; a single connection keeps pragmas in effect
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := migrator.NewMigrator(db, migrator.Config{Source: Migrations()}, logger)
	if err := m.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a finished report together with its flagged files.
func (s *Store) Save(ctx context.Context, report *scanner.Report) error {
	const op = "history.Save"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_runs (id, root, started_at, finished_at, files_scanned, bytes_scanned,
			flagged_count, ignored_count, skipped_count, cancelled, stopped_early)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.Root,
		report.StartedAt.UnixNano(), report.FinishedAt.UnixNano(),
		report.FilesScanned, report.BytesScanned,
		report.FlaggedCount, report.IgnoredCount, len(report.Skipped),
		report.Cancelled, report.StoppedEarly,
	)
	if err != nil {
		return fmt.Errorf("%s: insert run %s: %w", op, report.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO flagged_files (run_id, path, fingerprint, size) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	for _, f := range report.Flagged {
		if _, err := stmt.ExecContext(ctx, report.ID, f.Path, f.Fingerprint.String(), f.Size); err != nil {
			return fmt.Errorf("%s: insert flagged %s: %w", op, f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

const runColumns = `id, root, started_at, finished_at, files_scanned, bytes_scanned,
	flagged_count, ignored_count, skipped_count, cancelled, stopped_early`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                 Run
		started, finished int64
	)
	err := row.Scan(&r.ID, &r.Root, &started, &finished, &r.FilesScanned, &r.BytesScanned,
		&r.FlaggedCount, &r.IgnoredCount, &r.SkippedCount, &r.Cancelled, &r.StoppedEarly)
	if err != nil {
		return r, err
	}
	r.StartedAt = time.Unix(0, started)
	r.FinishedAt = time.Unix(0, finished)
	return r, nil
}

// List returns the most recent runs first, without flagged files.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	const op = "history.List"

	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return runs, nil
}

// Get returns one run with its flagged files.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	const op = "history.Get"

	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM scan_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, fingerprint, size FROM flagged_files WHERE run_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var f FlaggedFile
		if err := rows.Scan(&f.Path, &f.Fingerprint, &f.Size); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		r.Flagged = append(r.Flagged, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &r, nil
}
