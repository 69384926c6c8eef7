// Package ledger is the authoritative transactional store for invoice
// periods, notes and line items, plus the idempotency registry that makes
// batch saves safely retryable.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"ledgersync/internal/logger"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Config selects the database backing the store.
type Config struct {
	Driver string // sqlite3 or mysql
	DSN    string // File path for sqlite3, go-sql-driver DSN for mysql

	MaxOpenConns    int           // mysql only
	ConnMaxLifetime time.Duration // mysql only
}

// Store is the ledger store. All methods are safe for concurrent use;
// writes are serialized by the database.
type Store struct {
	db     *sql.DB
	driver string
	log    zerolog.Logger
	now    func() time.Time
}

// Open connects to the configured database and applies pending migrations.
//
// SQLite connections run with WAL journaling, foreign keys, a 5 second busy
// timeout and BEGIN IMMEDIATE transactions over a single connection, so two
// batch writes never interleave. MySQL relies on InnoDB row locking.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	const op = "Open"

	log := logger.WithComponent("ledger")

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		cfg.Driver = DriverSQLite
		db, err = sql.Open(DriverSQLite, sqliteDSN(cfg.DSN))
		if err == nil {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	case DriverMySQL:
		var dsn string
		dsn, err = mysqlDSN(cfg.DSN)
		if err != nil {
			return nil, NewStorageError(op, err, "invalid mysql DSN")
		}
		db, err = sql.Open(DriverMySQL, dsn)
		if err == nil {
			maxOpen := cfg.MaxOpenConns
			if maxOpen <= 0 {
				maxOpen = 25
			}
			lifetime := cfg.ConnMaxLifetime
			if lifetime <= 0 {
				lifetime = 5 * time.Minute
			}
			db.SetMaxOpenConns(maxOpen)
			db.SetMaxIdleConns(maxOpen)
			db.SetConnMaxLifetime(lifetime)
		}
	default:
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, NewStorageError(op, err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, NewStorageError(op, err, "failed to connect to database")
	}

	if err := migrateUp(db, cfg.Driver); err != nil {
		db.Close()
		return nil, NewStorageError(op, err, "failed to apply migrations")
	}

	log.Info().
		Str("driver", cfg.Driver).
		Msg("Ledger store opened")

	return &Store{
		db:     db,
		driver: cfg.Driver,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the name of the database driver in use.
func (s *Store) Driver() string {
	return s.driver
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "ledgersync.db"
	}
	params := "_txlock=immediate&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?" + params
}

// mysqlDSN forces the options the store depends on: multi-statement
// migration files and time.Time scanning.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.MultiStatements = true
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}

// migrateUp applies the embedded migrations for driver. The migrate instance
// is not closed because closing it would close db as well.
func migrateUp(db *sql.DB, driver string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var target database.Driver
	switch driver {
	case DriverSQLite:
		target, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case DriverMySQL:
		target, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to initialize migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, target)
	if err != nil {
		return fmt.Errorf("failed to initialize migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction and commits when it returns nil.
// Every error rolls the transaction back.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError(op, err, "failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error().
				Err(rbErr).
				Str("op", op).
				Msg("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError(op, err, "failed to commit transaction")
	}
	return nil
}
