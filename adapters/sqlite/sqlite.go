// Package sqlite provides an embedded SQLite event store adapter built on
// the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Ensure SQLiteAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter  = (*SQLiteAdapter)(nil)
	_ adapters.SnapshotAdapter    = (*SQLiteAdapter)(nil)
	_ adapters.StreamInfoProvider = (*SQLiteAdapter)(nil)
	_ adapters.PagedReader        = (*SQLiteAdapter)(nil)
	_ adapters.HealthChecker      = (*SQLiteAdapter)(nil)
	_ adapters.SchemaProvider     = (*SQLiteAdapter)(nil)
)

// Schema is the DDL that Initialize executes.
const Schema = `CREATE TABLE IF NOT EXISTS streams (
    stream_id   TEXT PRIMARY KEY,
    category    TEXT NOT NULL,
    version     INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    stream_id       TEXT NOT NULL REFERENCES streams(stream_id),
    sequence        INTEGER NOT NULL,
    event_id        TEXT NOT NULL,
    event_type      TEXT NOT NULL,
    data            BLOB NOT NULL,
    metadata        TEXT,
    causation_id    TEXT NOT NULL DEFAULT '',
    correlation_id  TEXT NOT NULL DEFAULT '',
    user_id         TEXT NOT NULL DEFAULT '',
    recorded_at     INTEGER NOT NULL,
    PRIMARY KEY (stream_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_streams_category ON streams(category);

CREATE TABLE IF NOT EXISTS snapshots (
    stream_id   TEXT PRIMARY KEY,
    version     INTEGER NOT NULL,
    data        BLOB NOT NULL,
    created_at  INTEGER NOT NULL
);
`

// SQLiteAdapter stores streams in a single SQLite database file. Writers
// take the database lock at BEGIN, so the version check and the inserts of
// one Append are never interleaved with another writer.
type SQLiteAdapter struct {
	db     *sql.DB
	now    func() time.Time
	closed atomic.Bool
}

type config struct {
	busyTimeout time.Duration
	now         func() time.Time
}

// Option configures a SQLiteAdapter.
type Option func(*config)

// WithBusyTimeout sets how long a writer waits for the database lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *config) {
		c.busyTimeout = d
	}
}

// WithClock sets the clock used for stream timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// NewAdapter opens the database at path. ":memory:" opens a private
// in-memory database held by a single connection.
func NewAdapter(path string, opts ...Option) (*SQLiteAdapter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("stoat/sqlite: database path is required")
	}
	cfg := config{busyTimeout: 5 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	memory := path == ":memory:"
	if !memory {
		path = filepath.Clean(path)
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, cfg.busyTimeout.Milliseconds())
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("stoat/sqlite: open database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	return &SQLiteAdapter{db: db, now: cfg.now}, nil
}

// DB returns the underlying database handle.
func (a *SQLiteAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the DDL that Initialize executes.
func (a *SQLiteAdapter) Schema() string {
	return Schema
}

// Initialize creates the tables if they do not exist.
func (a *SQLiteAdapter) Initialize(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if _, err := a.db.ExecContext(ctx, Schema); err != nil {
		return wrap("initialize schema", err)
	}
	return nil
}

// Append stores records if the stream's length equals expectedVersion.
func (a *SQLiteAdapter) Append(ctx context.Context, streamID string, expectedVersion uint64, records []adapters.EventRecord) error {
	if err := adapters.ValidateAppend(streamID, expectedVersion, records); err != nil {
		return err
	}
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT version FROM streams WHERE stream_id = ?`, streamID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return wrap("read stream version", err)
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, uint64(current)); err != nil {
		return err
	}

	now := a.now().UnixNano()
	if !exists {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO streams (stream_id, category, version, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
			streamID, adapters.ExtractCategory(streamID), now, now)
		if err != nil {
			return conflictOr(streamID, expectedVersion, "create stream", err)
		}
	}

	for _, r := range records {
		metadata, err := marshalMetadata(r.Metadata)
		if err != nil {
			return err
		}
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		at := r.RecordedAt
		if at.IsZero() {
			at = a.now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events
				(stream_id, sequence, event_id, event_type, data, metadata, causation_id, correlation_id, user_id, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			streamID, int64(r.Sequence), id, r.Type, r.Data, metadata,
			r.CausationID, r.CorrelationID, r.UserID, at.UnixNano())
		if err != nil {
			return conflictOr(streamID, expectedVersion, "insert event", err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE streams SET version = ?, updated_at = ? WHERE stream_id = ?`,
		int64(expectedVersion)+int64(len(records)), now, streamID)
	if err != nil {
		return wrap("update stream version", err)
	}

	if err := tx.Commit(); err != nil {
		return conflictOr(streamID, expectedVersion, "commit", err)
	}
	return nil
}

const eventColumns = `stream_id, sequence, event_id, event_type, data, metadata,
	causation_id, correlation_id, user_id, recorded_at`

// Read streams envelopes row by row.
func (a *SQLiteAdapter) Read(ctx context.Context, streamID string, fromSequence uint64) iter.Seq2[adapters.StoredEvent, error] {
	return func(yield func(adapters.StoredEvent, error) bool) {
		if a.closed.Load() {
			yield(adapters.StoredEvent{}, adapters.ErrAdapterClosed)
			return
		}

		rows, err := a.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM events WHERE stream_id = ? AND sequence >= ? ORDER BY sequence`,
			streamID, int64(fromSequence))
		if err != nil {
			yield(adapters.StoredEvent{}, wrap("read events", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				yield(adapters.StoredEvent{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(adapters.StoredEvent{}, wrap("read events", err))
		}
	}
}

// ReadPage returns one page of a stream and the stream's total length.
func (a *SQLiteAdapter) ReadPage(ctx context.Context, streamID string, offset, limit int) ([]adapters.StoredEvent, uint64, error) {
	if a.closed.Load() {
		return nil, 0, adapters.ErrAdapterClosed
	}

	var total int64
	err := a.db.QueryRowContext(ctx, `SELECT version FROM streams WHERE stream_id = ?`, streamID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, wrap("count events", err)
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE stream_id = ? ORDER BY sequence LIMIT ? OFFSET ?`,
		streamID, limit, offset)
	if err != nil {
		return nil, 0, wrap("read page", err)
	}
	defer rows.Close()

	var page []adapters.StoredEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrap("read page", err)
	}
	return page, uint64(total), nil
}

// GetStreamInfo returns metadata about a stream.
func (a *SQLiteAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	var info adapters.StreamInfo
	var version, created, updated int64
	err := a.db.QueryRowContext(ctx,
		`SELECT stream_id, category, version, created_at, updated_at FROM streams WHERE stream_id = ?`,
		streamID).Scan(&info.StreamID, &info.Category, &version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stoat/sqlite: %w: %q", adapters.ErrStreamNotFound, streamID)
	}
	if err != nil {
		return nil, wrap("get stream info", err)
	}
	info.Version = uint64(version)
	info.CreatedAt = time.Unix(0, created).UTC()
	info.UpdatedAt = time.Unix(0, updated).UTC()
	return &info, nil
}

// SaveSnapshot stores a snapshot, replacing any previous one.
func (a *SQLiteAdapter) SaveSnapshot(ctx context.Context, streamID string, version uint64, data []byte) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO snapshots (stream_id, version, data, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (stream_id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			created_at = excluded.created_at`,
		streamID, int64(version), data, a.now().UnixNano())
	if err != nil {
		return wrap("save snapshot", err)
	}
	return nil
}

// LoadSnapshot returns the stream's snapshot, or nil if there is none.
func (a *SQLiteAdapter) LoadSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	snap := adapters.SnapshotRecord{StreamID: streamID}
	var version int64
	err := a.db.QueryRowContext(ctx, `SELECT version, data FROM snapshots WHERE stream_id = ?`, streamID).
		Scan(&version, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("load snapshot", err)
	}
	snap.Version = uint64(version)
	return &snap, nil
}

// DeleteSnapshot removes the stream's snapshot.
func (a *SQLiteAdapter) DeleteSnapshot(ctx context.Context, streamID string) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if _, err := a.db.ExecContext(ctx, `DELETE FROM snapshots WHERE stream_id = ?`, streamID); err != nil {
		return wrap("delete snapshot", err)
	}
	return nil
}

// Ping checks that the database answers.
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if err := a.db.PingContext(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// Close closes the database.
func (a *SQLiteAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (adapters.StoredEvent, error) {
	var (
		e        adapters.StoredEvent
		seq, at  int64
		metadata sql.NullString
	)
	err := row.Scan(&e.StreamID, &seq, &e.ID, &e.Type, &e.Data, &metadata,
		&e.CausationID, &e.CorrelationID, &e.UserID, &at)
	if err != nil {
		return e, wrap("scan event", err)
	}
	e.Sequence = uint64(seq)
	e.RecordedAt = time.Unix(0, at).UTC()
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("stoat/sqlite: %w: metadata of %s@%d: %v",
				adapters.ErrCorruption, e.StreamID, seq, err)
		}
	}
	return e, nil
}

func marshalMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("stoat/sqlite: failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func sqliteCode(err error) (int, bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return 0, false
	}
	return sqliteErr.Code(), true
}

func isConstraintError(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.SQLITE_CONSTRAINT ||
		code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
}

func isBusyError(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code&0xff == sqlite3.SQLITE_BUSY || code&0xff == sqlite3.SQLITE_LOCKED)
}

// wrap maps a driver error onto the adapter's error classes. A database
// that stayed locked past the busy timeout is unavailable.
func wrap(op string, err error) error {
	if err = adapters.ContextError(err); errors.Is(err, adapters.ErrStorageUnavailable) {
		return fmt.Errorf("stoat/sqlite: %s: %w", op, err)
	}
	if isBusyError(err) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("stoat/sqlite: %s: %w: %w", op, adapters.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("stoat/sqlite: %s: %w", op, err)
}

func conflictOr(streamID string, expected uint64, op string, err error) error {
	if isConstraintError(err) {
		return adapters.NewConcurrencyError(streamID, expected, expected+1)
	}
	return wrap(op, err)
}
