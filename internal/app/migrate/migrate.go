// Package migrate applies the embedded schema migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/sitelift/sitelift/db"
)

const commandTimeout = time.Minute

// Runner drives schema migrations against the configured database. The
// migration files themselves are compiled into the binary.
type Runner struct {
	pool *pgxpool.Pool
	dsn  string
	log  *slog.Logger
}

// New validates the connection inputs and returns a Runner.
func New(pool *pgxpool.Pool, dsn string, log *slog.Logger) (Runner, error) {
	switch {
	case pool == nil:
		return Runner{}, errors.New("migrate: nil pgx pool")
	case dsn == "":
		return Runner{}, errors.New("migrate: empty dsn")
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{pool: pool, dsn: dsn, log: log}, nil
}

// Ensure applies every pending migration.
func (r Runner) Ensure(ctx context.Context) error {
	return r.run(ctx, func(ctx context.Context, sqldb *sql.DB) error {
		r.log.Info("applying schema migrations")
		if err := goose.UpContext(ctx, sqldb, "migrations"); err != nil {
			return fmt.Errorf("apply schema migrations: %w", err)
		}
		r.log.Info("schema up to date")
		return nil
	})
}

// Status prints the applied/pending state of each migration.
func (r Runner) Status(ctx context.Context) error {
	return r.run(ctx, func(ctx context.Context, sqldb *sql.DB) error {
		if err := goose.StatusContext(ctx, sqldb, "migrations"); err != nil {
			return fmt.Errorf("read migration status: %w", err)
		}
		return nil
	})
}

// Down rolls back the most recent migration. A positive target rolls back
// everything above that version instead.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.run(ctx, func(ctx context.Context, sqldb *sql.DB) error {
		if targetVersion > 0 {
			r.log.Info("rolling back schema", "target", targetVersion)
			if err := goose.DownToContext(ctx, sqldb, "migrations", targetVersion); err != nil {
				return fmt.Errorf("roll back to version %d: %w", targetVersion, err)
			}
			return nil
		}
		r.log.Info("rolling back latest schema migration")
		if err := goose.DownContext(ctx, sqldb, "migrations"); err != nil {
			return fmt.Errorf("roll back latest migration: %w", err)
		}
		return nil
	})
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases underlying connections.
func (r Runner) Close() {
	r.pool.Close()
}

// run opens a short-lived database/sql handle for goose. goose only speaks
// *sql.DB, so the pgx pool cannot be reused here.
func (r Runner) run(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	goose.SetBaseFS(db.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	sqldb, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer sqldb.Close()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}
	return fn(ctx, sqldb)
}
