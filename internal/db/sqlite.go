package db

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"palletizer-control/internal/logging"
)

//go:embed schema.sql
var schema string

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Options tunes the store. Zero values fall back to the defaults of Open.
type Options struct {
	BusyTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        logrus.FieldLogger
	// OnRetry is called once per retried attempt.
	OnRetry func(op string)
}

// DB wraps the single-writer SQLite handle.
type DB struct {
	*sqlx.DB
	path string
	opts Options
	log  *logrus.Entry
}

// Open opens path with WAL, a busy timeout and one connection, then migrates the schema.
func Open(path string, opts Options) (*DB, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = time.Second
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_time_format", "sqlite")
	dsn := "file:" + path + "?" + q.Encode()

	x, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite has one writer; a single connection keeps writers from racing each other.
	x.SetMaxOpenConns(1)

	d := &DB{DB: x, path: path, opts: opts, log: logging.Component(opts.Logger, "store")}
	if err := d.Migrate(context.Background()); err != nil {
		_ = x.Close()
		return nil, err
	}
	return d, nil
}

// Migrate creates missing tables. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (d *DB) Path() string { return d.path }

// InTx runs fn in one transaction and rolls back when fn fails.
// fn must only use tx; the pool has a single connection and would block.
func (d *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RetryTx is Retry around one InTx.
func (d *DB) RetryTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	return d.Retry(ctx, op, func() error {
		return d.InTx(ctx, fn)
	})
}
