package casekeeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	// sqliteExecPragma is executed on every connect, before the bootstrap
	// script. WAL mode keeps readers unblocked while a writer has an open
	// transaction.
	sqliteExecPragma = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}

	dbOperationTimeout = 30 * time.Second
)

// Database is the single point of access to persistent state. It owns the
// process's one SQLite connection, runs the idempotent bootstrap script on
// every connect, and counts every call for the diagnostics display.
//
// Writers are serialized through a mutex: SQLite serializes them internally
// anyway, and the rest of the process assumes a single-writer connection.
// Two Execute calls are NOT atomic together - none of the call sites expect
// cross-statement atomicity, and this layer must not add it.
type Database struct {
	path      string
	bootstrap string
	logger    *slog.Logger
	handler   slog.Handler
	db        *gorm.DB
	mu        sync.Mutex
	calls     atomic.Int64
}

// NewDatabase creates a Database for the given SQLite file and bootstrap
// script path. The connection isn't opened until Connect.
func NewDatabase(path string, bootstrap string, handler slog.Handler) *Database {
	logger := slog.Default()
	if handler != nil {
		logger = slog.New(handler)
	}
	return &Database{
		path:      path,
		bootstrap: bootstrap,
		handler:   handler,
		logger:    logger.With(loggerNameKey, "database"),
	}
}

// Connect ensures the parent directory of the database file exists, opens
// the connection, switches on WAL mode, and executes the bootstrap script.
// The script is expected to be idempotent (CREATE TABLE IF NOT EXISTS
// style), since it runs on every process start against a potentially
// pre-existing file.
//
// An unreadable or malformed bootstrap script is a startup-only, fatal
// failure: the error propagates and the process should not proceed.
func (d *Database) Connect(ctx context.Context) error {
	parentDir := filepath.Dir(d.path)
	if parentDir != "" {
		if err := os.MkdirAll(parentDir, 0755); err != nil {
			if !errors.Is(err, os.ErrExist) {
				return fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	gormLogger := newGORMLogger(d.handler, 200*time.Millisecond)
	db, err := gorm.Open(
		sqlite.Open(d.path),
		&gorm.Config{
			Logger: gormLogger,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		},
	)
	if err != nil {
		return fmt.Errorf("opening database %s: %w", d.path, err)
	}
	d.db = db

	for _, pragma := range sqliteExecPragma {
		if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	d.logger.InfoContext(ctx, "connected to database", "path", d.path)

	script, err := os.ReadFile(d.bootstrap)
	if err != nil {
		return fmt.Errorf("reading bootstrap script: %w", err)
	}
	if err = db.WithContext(ctx).Exec(string(script)).Error; err != nil {
		return fmt.Errorf("executing bootstrap script %s: %w", d.bootstrap, err)
	}
	d.logger.InfoContext(ctx, "built database", "script", d.bootstrap)

	return d.Commit(ctx)
}

// Execute runs a single statement, binding each value through encodeValue.
// It returns the number of affected rows.
func (d *Database) Execute(ctx context.Context, command string, values ...any) (int64, error) {
	defer d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := d.opContext(ctx)
	defer cancel()

	tx := d.db.WithContext(ctx).Exec(command, encodeValues(values)...)
	return tx.RowsAffected, tx.Error
}

// ExecuteMany runs the same statement once per value set, returning the
// total number of affected rows. It counts as a single call.
func (d *Database) ExecuteMany(ctx context.Context, command string, valueSets [][]any) (int64, error) {
	defer d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := d.opContext(ctx)
	defer cancel()

	var affected int64
	for _, values := range valueSets {
		tx := d.db.WithContext(ctx).Exec(command, encodeValues(values)...)
		if tx.Error != nil {
			return affected, tx.Error
		}
		affected += tx.RowsAffected
	}
	return affected, nil
}

// FetchOne returns the first matching row, or nil if no rows match.
func (d *Database) FetchOne(ctx context.Context, command string, values ...any) (*Row, error) {
	defer d.calls.Add(1)
	rows, err := d.query(ctx, command, values...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FetchAll returns every matching row. No matches is an empty slice, not
// an error.
func (d *Database) FetchAll(ctx context.Context, command string, values ...any) ([]Row, error) {
	defer d.calls.Add(1)
	return d.query(ctx, command, values...)
}

// FetchColumn returns the decoded values of one column, by position, across
// every matching row.
func (d *Database) FetchColumn(ctx context.Context, command string, index int, values ...any) ([]any, error) {
	defer d.calls.Add(1)
	rows, err := d.query(ctx, command, values...)
	if err != nil {
		return nil, err
	}
	var results []any
	for _, row := range rows {
		results = append(results, row.Index(index))
	}
	return results, nil
}

// FetchField returns the first column of the first matching row, or nil if
// no rows match.
func (d *Database) FetchField(ctx context.Context, command string, values ...any) (any, error) {
	defer d.calls.Add(1)
	rows, err := d.query(ctx, command, values...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].Index(0), nil
}

// Commit flushes the write-ahead log to the main database file. It runs
// once per minute from the scheduler and once at shutdown; SQLite commits
// each statement as it lands, so this is a durability checkpoint rather
// than a transaction boundary.
func (d *Database) Commit(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.WithContext(ctx).Exec("pragma wal_checkpoint(TRUNCATE);").Error
}

// Close commits, then releases the connection. Safe to call even if
// Connect partially failed.
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	if err := d.Commit(context.Background()); err != nil {
		d.logger.Warn("final commit failed", "error", err)
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	d.logger.Info("closed database connection")
	return err
}

// Calls returns the number of Execute/ExecuteMany/fetch invocations since
// the process started. Diagnostics only - monotonicity is the only thing
// callers may rely on.
func (d *Database) Calls() int64 {
	return d.calls.Load()
}

// query runs a read and materializes the full result set before returning,
// so every row is consumed while the operation context is still alive.
func (d *Database) query(ctx context.Context, command string, values ...any) ([]Row, error) {
	ctx, cancel := d.opContext(ctx)
	defer cancel()

	rows, err := d.db.WithContext(ctx).Raw(command, encodeValues(values)...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		row, scanErr := scanRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func (d *Database) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func encodeValues(values []any) []any {
	encoded := make([]any, len(values))
	for i, v := range values {
		encoded[i] = encodeValue(v)
	}
	return encoded
}

// scanRow reads the current record from rows into an immutable Row, using
// the result-set description for column names.
func scanRow(rows *sql.Rows) (Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Row{}, err
	}
	ptrs := make([]any, len(columns))
	for i := range ptrs {
		ptrs[i] = new(any)
	}
	if err = rows.Scan(ptrs...); err != nil {
		return Row{}, err
	}
	raw := make([]any, len(columns))
	for i := range ptrs {
		raw[i] = *(ptrs[i].(*any))
	}
	return newRow(columns, raw)
}
