// Package storage provides the relational gateway for persisted events.
// It owns the schema and the bind/insert mapping; batches are written in
// a single transaction with an idempotent per-row insert.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/logtide/logtide/internal/errors"
	"github.com/logtide/logtide/internal/event"
)

// Store is the persistence interface consumed by the batch persister.
type Store interface {
	// InsertBatch writes all events of a batch in one transaction, in
	// batch order. Rows whose id already exists are silently skipped;
	// any other failure rolls the whole batch back.
	InsertBatch(ctx context.Context, b *event.Batch) error

	// Close releases the underlying connections.
	Close() error
}

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if necessary) the event database at dbPath and
// ensures the schema exists.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}
	// Single writer; the persister is the only writing goroutine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates the logs table and its secondary indexes. Nested
// structures (context maps, device, breadcrumbs, reason) are stored as
// JSON text so they stay queryable with SQLite's JSON operators; the
// user sub-object is flattened into three scalar columns.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id TEXT PRIMARY KEY NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			service TEXT NOT NULL,
			context TEXT,
			global_context TEXT NOT NULL,
			user_context TEXT,
			user_id TEXT,
			user_username TEXT,
			user_email TEXT,
			device TEXT,
			breadcrumbs TEXT,
			error_name TEXT,
			stack TEXT,
			reason TEXT,
			request_method TEXT,
			request_url TEXT,
			status_code INTEGER,
			status_text TEXT,
			duration_ms INTEGER,
			response_size INTEGER,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_level ON logs (level)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs (timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_service ON logs (service)`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewStorageError(errors.CodeSchemaFailed, "failed to initialize schema", err)
		}
	}
	return nil
}

const insertSQL = `
	INSERT INTO logs (
		id, level, message, timestamp, service,
		context, global_context, user_context,
		user_id, user_username, user_email,
		device, breadcrumbs,
		error_name, stack, reason,
		request_method, request_url, status_code, status_text,
		duration_ms, response_size, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING`

// InsertBatch implements Store.
func (s *SQLiteStore) InsertBatch(ctx context.Context, b *event.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to begin transaction", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		tx.Rollback()
		return errors.NewStorageError(errors.CodeTxFailed, "failed to prepare insert", err)
	}
	defer stmt.Close()

	for _, e := range b.Events {
		args, err := bindArgs(e)
		if err != nil {
			tx.Rollback()
			return errors.NewStorageError(errors.CodeInsertFailed,
				fmt.Sprintf("failed to encode event %s", e.ID), err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return errors.NewStorageError(errors.CodeInsertFailed,
				fmt.Sprintf("failed to insert event %s", e.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageError(errors.CodeTxFailed, "failed to commit batch", err)
	}
	return nil
}

// bindArgs maps one event onto the insert placeholders in column order.
func bindArgs(e *event.Event) ([]interface{}, error) {
	contextJSON, err := jsonOrNull(e.Context, e.Context == nil)
	if err != nil {
		return nil, err
	}
	globalJSON, err := json.Marshal(e.GlobalContext)
	if err != nil {
		return nil, err
	}
	userContextJSON, err := jsonOrNull(e.UserContext, e.UserContext == nil)
	if err != nil {
		return nil, err
	}
	deviceJSON, err := jsonOrNull(e.Device, e.Device == nil)
	if err != nil {
		return nil, err
	}
	breadcrumbsJSON, err := jsonOrNull(e.Breadcrumbs, e.Breadcrumbs == nil)
	if err != nil {
		return nil, err
	}
	reasonJSON, err := jsonOrNull(e.Reason, e.Reason == nil)
	if err != nil {
		return nil, err
	}

	var userID, userUsername, userEmail interface{}
	if e.User != nil {
		userID = strOrNull(e.User.ID)
		userUsername = strOrNull(e.User.Username)
		userEmail = strOrNull(e.User.Email)
	}

	return []interface{}{
		e.ID, string(e.Level), e.Message, e.Timestamp, e.Service,
		contextJSON, string(globalJSON), userContextJSON,
		userID, userUsername, userEmail,
		deviceJSON, breadcrumbsJSON,
		strOrNull(e.ErrorName), strOrNull(e.Stack), reasonJSON,
		strOrNull(e.RequestMethod), strOrNull(e.RequestURL),
		u16OrNull(e.StatusCode), strOrNull(e.StatusText),
		u64OrNull(e.DurationMs), u64OrNull(e.ResponseSize), strOrNull(e.ErrorMessage),
	}, nil
}

// jsonOrNull marshals v to a JSON string, or returns SQL NULL when the
// value is absent.
func jsonOrNull(v interface{}, absent bool) (interface{}, error) {
	if absent {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func strOrNull(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func u16OrNull(n *uint16) interface{} {
	if n == nil {
		return nil
	}
	return int64(*n)
}

func u64OrNull(n *uint64) interface{} {
	if n == nil {
		return nil
	}
	return int64(*n)
}

// Record is the scalar projection of a persisted row, used for
// verification and operational queries.
type Record struct {
	ID        string
	Level     string
	Message   string
	Timestamp string
	Service   string
	UserEmail sql.NullString
}

// GetByID fetches the scalar columns of one row, or sql.ErrNoRows.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, level, message, timestamp, service, user_email FROM logs WHERE id = ?`, id)

	var r Record
	if err := row.Scan(&r.ID, &r.Level, &r.Message, &r.Timestamp, &r.Service, &r.UserEmail); err != nil {
		return nil, err
	}
	return &r, nil
}

// CountEvents returns the total number of persisted rows.
func (s *SQLiteStore) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: failed to count events: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
