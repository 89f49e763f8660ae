// Package migrations wires golang-migrate execution for triarb's
// persistence layer: open a stdlib *sql.DB over pgx, hand it to migrate's
// pgx v5 driver, and run every pending migration from an embedded
// filesystem source.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Apply ensures every migration in fsys has been applied to the Postgres
// instance reachable via dsn. A nil logger disables informational logging.
func Apply(ctx context.Context, dsn string, fsys fs.FS, logger *log.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("persistence: open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && logger != nil {
			logger.Printf("persistence: close migrations connection: %v", cerr)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("persistence: ping migrations database: %w", err)
	}

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("persistence: initialize pgx driver: %w", err)
	}

	source, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("persistence: open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("persistence: initialize migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if logger == nil {
			return
		}
		if sourceErr != nil {
			logger.Printf("persistence: close migration source: %v", sourceErr)
		}
		if dbErr != nil {
			logger.Printf("persistence: close migration db: %v", dbErr)
		}
	}()

	if logger != nil {
		logger.Printf("persistence: running database migrations")
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Printf("persistence: migrations up to date")
			}
			return nil
		}
		return fmt.Errorf("persistence: apply migrations: %w", err)
	}
	if logger != nil {
		logger.Printf("persistence: migrations applied successfully")
	}
	return nil
}
