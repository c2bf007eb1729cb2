// Package store holds the ambient PostgreSQL connection and migration
// plumbing shared by any durable component (currently pkg/eventlog).
// Grounded on the teacher's pkg/database/client.go: a pgx pool plus
// golang-migrate driven from embedded SQL, with the same
// don't-close-twice caveat around the stdlib *sql.DB golang-migrate
// needs underneath a pgx pool.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DSNConfig is the minimal connection shape needed to build a DSN; it
// mirrors config.DatabaseConfig field-for-field without importing
// pkg/config (avoiding an import cycle — config is the leaf, store sits
// just above it).
type DSNConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN renders a libpq-style connection string.
func (c DSNConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Pool wraps a pgx connection pool, exposed for any durable component to
// share a single set of connections to Postgres.
type Pool struct {
	*pgxpool.Pool
}

// Open establishes a pooled connection to Postgres.
func Open(ctx context.Context, cfg DSNConfig) (*Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("store: parsing dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: pinging postgres: %w", err)
	}
	return &Pool{pool}, nil
}

// Migrate applies every up-migration in migrationsFS (rooted at dir) to
// the database described by cfg. It opens a short-lived database/sql
// connection of its own, since golang-migrate's postgres driver wants a
// *sql.DB, not a pgxpool — and is careful to close only that connection,
// never the shared pool.
func Migrate(cfg DSNConfig, migrationsFS embed.FS, dir string) error {
	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("store: migrations subtree %q: %w", dir, err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("store: loading embedded migrations: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return fmt.Errorf("store: opening migration connection: %w", err)
	}
	defer db.Close()

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("store: building migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return fmt.Errorf("store: constructing migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: applying migrations: %w", err)
	}
	slog.Info("store: migrations applied", "dir", dir)
	return nil
}
