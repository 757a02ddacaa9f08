package postgres

import (
	"context"
	"embed"
	"io/fs"

	"github.com/ehrconnect/authz/pkg/logger"
	"github.com/ehrconnect/authz/pkg/migrations"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies pending schema migrations.
func (db *DB) Migrate(ctx context.Context, log *logger.Logger) (int, error) {
	return migrations.NewRunner(db.DB, Migrations(), log).Up(ctx)
}
