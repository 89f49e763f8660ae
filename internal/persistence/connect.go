// Package persistence wires a pgxpool.Pool and its migrations together,
// the shared entry point the postgres subpackage's repositories are built
// on top of.
package persistence

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	dbmigrations "github.com/coachpo/triarb/db/migrations"
	"github.com/coachpo/triarb/internal/persistence/migrations"
)

// Connect opens a pgxpool.Pool against dsn and applies every pending
// embedded migration before returning it.
func Connect(ctx context.Context, dsn string, logger *log.Logger) (*pgxpool.Pool, error) {
	if err := migrations.Apply(ctx, dsn, dbmigrations.Files, logger); err != nil {
		return nil, fmt.Errorf("persistence: apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persistence: ping pool: %w", err)
	}
	return pool, nil
}
