// Package postgres provides a PostgreSQL implementation of the event store adapter.
//
// The adapter works over database/sql with either the pgx stdlib driver
// (default, driver name "pgx") or lib/pq (driver name "postgres").
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// Supported database/sql driver names.
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "stoat"

var schemaName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter  = (*PostgresAdapter)(nil)
	_ adapters.SnapshotAdapter    = (*PostgresAdapter)(nil)
	_ adapters.StreamInfoProvider = (*PostgresAdapter)(nil)
	_ adapters.PagedReader        = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker      = (*PostgresAdapter)(nil)
	_ adapters.SchemaProvider     = (*PostgresAdapter)(nil)
)

// PostgresAdapter is a PostgreSQL implementation of EventStoreAdapter.
// Each stream is a row in streams holding its length, locked with
// SELECT ... FOR UPDATE during Append; envelopes live in events keyed by
// (stream_id, sequence).
type PostgresAdapter struct {
	db     *sql.DB
	schema string
	closed atomic.Bool
}

type config struct {
	driver       string
	schema       string
	maxOpen      int
	maxIdle      int
	connLifetime time.Duration
}

// Option configures a PostgresAdapter.
type Option func(*config)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(c *config) {
		c.schema = schema
	}
}

// WithDriver selects the database/sql driver: DriverPgx or DriverPq.
func WithDriver(driver string) Option {
	return func(c *config) {
		c.driver = driver
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(c *config) {
		c.maxOpen = n
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(c *config) {
		c.maxIdle = n
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(c *config) {
		c.connLifetime = d
	}
}

func newConfig(opts []Option) (config, error) {
	cfg := config{driver: DriverPgx, schema: DefaultSchema}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !schemaName.MatchString(cfg.schema) {
		return cfg, fmt.Errorf("stoat/postgres: invalid schema name %q", cfg.schema)
	}
	if cfg.driver != DriverPgx && cfg.driver != DriverPq {
		return cfg, fmt.Errorf("stoat/postgres: unsupported driver %q", cfg.driver)
	}
	return cfg, nil
}

func (c config) apply(db *sql.DB) {
	if c.maxOpen > 0 {
		db.SetMaxOpenConns(c.maxOpen)
	}
	if c.maxIdle > 0 {
		db.SetMaxIdleConns(c.maxIdle)
	}
	if c.connLifetime > 0 {
		db.SetConnMaxLifetime(c.connLifetime)
	}
}

// NewAdapter opens a connection pool and creates an adapter over it.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("stoat/postgres: failed to open database: %w", err)
	}
	cfg.apply(db)

	return &PostgresAdapter{db: db, schema: cfg.schema}, nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
// The driver option is ignored.
func NewAdapterWithDB(db *sql.DB, opts ...Option) (*PostgresAdapter, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	cfg.apply(db)
	return &PostgresAdapter{db: db, schema: cfg.schema}, nil
}

// DB returns the underlying database connection.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// SchemaName returns the schema name.
func (a *PostgresAdapter) SchemaName() string {
	return a.schema
}

// Schema returns the DDL that Initialize executes.
func (a *PostgresAdapter) Schema() string {
	return SchemaDDL(a.schema)
}

// SchemaDDL renders the DDL for the given schema.
func SchemaDDL(schema string) string {
	return strings.Join(ddl(schema), ";\n\n") + ";\n"
}

func ddl(s string) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.streams (
    stream_id   VARCHAR(500) PRIMARY KEY,
    category    VARCHAR(250) NOT NULL,
    version     BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.events (
    stream_id       VARCHAR(500) NOT NULL REFERENCES %s.streams(stream_id),
    sequence        BIGINT NOT NULL,
    event_id        VARCHAR(64) NOT NULL,
    event_type      VARCHAR(500) NOT NULL,
    data            BYTEA NOT NULL,
    metadata        JSONB,
    causation_id    VARCHAR(255) NOT NULL DEFAULT '',
    correlation_id  VARCHAR(255) NOT NULL DEFAULT '',
    user_id         VARCHAR(255) NOT NULL DEFAULT '',
    recorded_at     TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (stream_id, sequence)
)`, s, s),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_streams_category ON %s.streams(category)`, s),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type)`, s),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_recorded_at ON %s.events(recorded_at)`, s),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.snapshots (
    stream_id   VARCHAR(500) PRIMARY KEY,
    version     BIGINT NOT NULL,
    data        BYTEA NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s),
	}
}

// Initialize creates the schema and tables if they do not exist.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	for _, stmt := range ddl(a.schema) {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return wrap("initialize schema", err)
		}
	}
	return nil
}

// Append stores records with optimistic concurrency control. The stream row
// is locked for the length of the transaction; two transactions creating
// the same stream collide on its primary key and the loser conflicts.
func (a *PostgresAdapter) Append(ctx context.Context, streamID string, expectedVersion uint64, records []adapters.EventRecord) error {
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
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s.streams
		WHERE stream_id = $1
		FOR UPDATE`, a.schema), streamID).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		exists = false
	case err != nil:
		return wrap("lock stream", err)
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, uint64(current)); err != nil {
		return err
	}

	if !exists {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.streams (stream_id, category, version)
			VALUES ($1, $2, 0)`, a.schema), streamID, adapters.ExtractCategory(streamID))
		if err != nil {
			return conflictOr(streamID, expectedVersion, "create stream", err)
		}
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s.events
			(stream_id, sequence, event_id, event_type, data, metadata, causation_id, correlation_id, user_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, a.schema)
	for _, r := range records {
		metadata, err := marshalMetadata(r.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, insert,
			streamID, int64(r.Sequence), eventID(r), r.Type, r.Data, metadata,
			r.CausationID, r.CorrelationID, r.UserID, recordedAt(r))
		if err != nil {
			return conflictOr(streamID, expectedVersion, "insert event", err)
		}
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.streams
		SET version = $1, updated_at = NOW()
		WHERE stream_id = $2`, a.schema), int64(expectedVersion)+int64(len(records)), streamID)
	if err != nil {
		return wrap("update stream version", err)
	}

	if err := tx.Commit(); err != nil {
		return conflictOr(streamID, expectedVersion, "commit", err)
	}
	return nil
}

// Read streams envelopes from the database row by row.
func (a *PostgresAdapter) Read(ctx context.Context, streamID string, fromSequence uint64) iter.Seq2[adapters.StoredEvent, error] {
	return func(yield func(adapters.StoredEvent, error) bool) {
		if a.closed.Load() {
			yield(adapters.StoredEvent{}, adapters.ErrAdapterClosed)
			return
		}

		rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s
			FROM %s.events
			WHERE stream_id = $1 AND sequence >= $2
			ORDER BY sequence`, eventColumns, a.schema), streamID, int64(fromSequence))
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
func (a *PostgresAdapter) ReadPage(ctx context.Context, streamID string, offset, limit int) ([]adapters.StoredEvent, uint64, error) {
	if a.closed.Load() {
		return nil, 0, adapters.ErrAdapterClosed
	}

	var total int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT version FROM %s.streams WHERE stream_id = $1`, a.schema), streamID).Scan(&total)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, wrap("count events", err)
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s.events
		WHERE stream_id = $1
		ORDER BY sequence
		LIMIT $2 OFFSET $3`, eventColumns, a.schema), streamID, limit, offset)
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
func (a *PostgresAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	var info adapters.StreamInfo
	var version int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT stream_id, category, version, created_at, updated_at
		FROM %s.streams
		WHERE stream_id = $1`, a.schema), streamID).Scan(
		&info.StreamID,
		&info.Category,
		&version,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("stoat/postgres: %w: %q", adapters.ErrStreamNotFound, streamID)
	}
	if err != nil {
		return nil, wrap("get stream info", err)
	}
	info.Version = uint64(version)
	return &info, nil
}

// SaveSnapshot stores a snapshot for the given stream.
func (a *PostgresAdapter) SaveSnapshot(ctx context.Context, streamID string, version uint64, data []byte) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.snapshots (stream_id, version, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (stream_id) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			created_at = NOW()`, a.schema), streamID, int64(version), data)
	if err != nil {
		return wrap("save snapshot", err)
	}
	return nil
}

// LoadSnapshot retrieves the latest snapshot for the given stream.
func (a *PostgresAdapter) LoadSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	var snapshot adapters.SnapshotRecord
	var version int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT stream_id, version, data
		FROM %s.snapshots
		WHERE stream_id = $1`, a.schema), streamID).Scan(
		&snapshot.StreamID,
		&version,
		&snapshot.Data,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("load snapshot", err)
	}
	snapshot.Version = uint64(version)
	return &snapshot, nil
}

// DeleteSnapshot removes the snapshot for the given stream.
func (a *PostgresAdapter) DeleteSnapshot(ctx context.Context, streamID string) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s.snapshots WHERE stream_id = $1`, a.schema), streamID)
	if err != nil {
		return wrap("delete snapshot", err)
	}
	return nil
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if err := a.db.PingContext(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

// Close releases the database connection.
func (a *PostgresAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

const eventColumns = `stream_id, sequence, event_id, event_type, data, metadata,
			causation_id, correlation_id, user_id, recorded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (adapters.StoredEvent, error) {
	var e adapters.StoredEvent
	var seq int64
	var metadata []byte
	err := row.Scan(&e.StreamID, &seq, &e.ID, &e.Type, &e.Data, &metadata,
		&e.CausationID, &e.CorrelationID, &e.UserID, &e.RecordedAt)
	if err != nil {
		return e, wrap("scan event", err)
	}
	e.Sequence = uint64(seq)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return e, fmt.Errorf("stoat/postgres: %w: metadata of %s@%d: %v",
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
		return nil, fmt.Errorf("stoat/postgres: failed to marshal metadata: %w", err)
	}
	return string(data), nil
}
