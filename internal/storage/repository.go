package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fintrack/internal/core"
	"fintrack/internal/resilience"
)

const timeLayout = time.RFC3339Nano

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store holds every query. SQLiteRepository runs them on the pool,
// ledgerTx runs them inside one storage transaction.
type store struct {
	q   querier
	now func() time.Time
}

// SQLiteRepository is the ledger store backed by a single SQLite file.
type SQLiteRepository struct {
	store
	db     *sql.DB
	retry  resilience.Config
	onBusy func()
}

// Option configures a SQLiteRepository.
type Option func(*SQLiteRepository)

// WithRetry sets how often WithinTx retries a unit that hit a locked database.
func WithRetry(maxRetries int, initialBackoff time.Duration) Option {
	return func(r *SQLiteRepository) {
		r.retry.MaxRetries = maxRetries
		r.retry.InitialBackoff = initialBackoff
	}
}

// WithBusyHook registers fn to be called each time a unit hits a locked
// database.
func WithBusyHook(fn func()) Option {
	return func(r *SQLiteRepository) {
		r.onBusy = fn
	}
}

// WithClock overrides the clock used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *SQLiteRepository) {
		r.now = now
	}
}

// dsn enables foreign keys, WAL and a busy timeout on every pooled
// connection; _txlock=immediate takes the write lock at BEGIN so two
// writers never deadlock on lock upgrade.
func dsn(dbPath string) string {
	return "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}

func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations before the pool opens so every connection sees the schema
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{
		store: store{q: db, now: time.Now},
		db:    db,
		retry: resilience.Config{
			MaxRetries:     3,
			InitialBackoff: 20 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(repo)
	}
	repo.retry.ShouldRetry = func(err error) bool {
		return errors.Is(err, core.ErrStorageUnavailable)
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return classifyError(ctx, "ping", r.db.PingContext(ctx))
}

// WithinTx runs fn inside one storage transaction. Every mutation made
// through the LedgerTx commits together or not at all. A unit that failed
// because the database was locked has been rolled back and is retried whole,
// so fn must not keep side effects outside the transaction.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(LedgerTx) error) error {
	attempt := 0
	return resilience.RetryWithBackoff(ctx, r.retry, func() error {
		attempt++
		err := r.runTx(ctx, fn)
		if err != nil && errors.Is(err, core.ErrStorageUnavailable) {
			if r.onBusy != nil {
				r.onBusy()
			}
			slog.WarnContext(ctx, "Storage transaction hit a locked database",
				"attempt", attempt,
				"error", err)
		}
		return err
	})
}

func (r *SQLiteRepository) runTx(ctx context.Context, fn func(LedgerTx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(ctx, "begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&ledgerTx{store: store{q: tx, now: r.now}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Failed to roll back storage transaction", "error", rbErr)
		}
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) && !errors.Is(err, core.ErrTimeout) {
			return fmt.Errorf("%w: %v", core.ErrTimeout, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyError(ctx, "commit transaction", err)
	}
	return nil
}

// ledgerTx is the LedgerTx handed to WithinTx callbacks.
type ledgerTx struct {
	store
}

// classifyError maps driver and context errors onto the core taxonomy.
func classifyError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, core.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %v", op, core.ErrStorageUnavailable, err)
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%s: %w: %v", op, core.ErrConflict, err)
		case sqlite3.SQLITE_INTERRUPT:
			if ctx.Err() != nil {
				return fmt.Errorf("%s: %w: %v", op, core.ErrTimeout, err)
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func dateValue(d core.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func parseNullDate(ns sql.NullString) (core.Date, error) {
	if !ns.Valid {
		return core.Date{}, nil
	}
	return core.ParseDate(ns.String)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s store) timestamp() string {
	return formatTime(s.now())
}

// rowsAffected turns a zero-row write into a NotFoundError.
func rowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}
