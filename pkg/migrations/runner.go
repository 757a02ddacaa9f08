package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/ehrconnect/authz/pkg/logger"
)

// Runner executes database migrations from an fs.FS.
type Runner struct {
	db     *sql.DB
	fsys   fs.FS
	logger *logger.Logger
}

// NewRunner creates a new migration runner.
func NewRunner(db *sql.DB, fsys fs.FS, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{db: db, fsys: fsys, logger: log.With("component", "migrations")}
}

// Record represents a row of the schema_migrations table.
type Record struct {
	Version   string
	AppliedAt time.Time
}

// Status describes one available migration.
type Status struct {
	Migration
	Applied   bool
	AppliedAt time.Time
}

// EnsureMigrationTable creates the schema_migrations table if it doesn't exist.
func (r *Runner) EnsureMigrationTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(14) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	return err
}

// Applied returns all applied migrations.
func (r *Runner) Applied(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Version, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Pending returns migrations that need to be applied.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	available, err := Load(r.fsys, Up)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}

	var pending []Migration
	for _, m := range available {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Up runs all pending migrations and returns how many were applied.
func (r *Runner) Up(ctx context.Context) (int, error) {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to ensure migration table: %w", err)
	}

	pending, err := r.Pending(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		r.logger.Info("no pending migrations")
		return 0, nil
	}

	for i, m := range pending {
		if err := r.run(ctx, m); err != nil {
			return i, fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		r.logger.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	return len(pending), nil
}

// Down rolls back the last applied migration.
func (r *Runner) Down(ctx context.Context) error {
	applied, err := r.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		r.logger.Info("no migrations to roll back")
		return nil
	}

	last := applied[len(applied)-1]
	downs, err := Load(r.fsys, Down)
	if err != nil {
		return err
	}
	for _, m := range downs {
		if m.Version == last.Version {
			if err := r.run(ctx, m); err != nil {
				return fmt.Errorf("rollback %s failed: %w", m.Version, err)
			}
			r.logger.Info("migration rolled back", "version", m.Version)
			return nil
		}
	}
	return fmt.Errorf("no down migration for version %s", last.Version)
}

// Status lists available migrations with their applied state.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	available, err := Load(r.fsys, Up)
	if err != nil {
		return nil, err
	}

	at := make(map[string]time.Time, len(applied))
	for _, rec := range applied {
		at[rec.Version] = rec.AppliedAt
	}

	out := make([]Status, len(available))
	for i, m := range available {
		t, ok := at[m.Version]
		out[i] = Status{Migration: m, Applied: ok, AppliedAt: t}
	}
	return out, nil
}

func (r *Runner) run(ctx context.Context, m Migration) error {
	content, err := fs.ReadFile(r.fsys, m.Path)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}

	if m.Direction == Up {
		_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version)
	} else {
		_, err = tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.Version)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}
