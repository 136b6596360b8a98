// Package adapters provides the storage contract that event store backends implement.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// so the engine can classify failures independently of the backend.
var (
	// ErrConcurrencyConflict is returned when the optimistic concurrency check fails.
	ErrConcurrencyConflict = errors.New("stoat: concurrency conflict")

	// ErrStorageUnavailable is returned for transient backend failures.
	// Callers may retry the whole command.
	ErrStorageUnavailable = errors.New("stoat: storage unavailable")

	// ErrCorruption is returned when persisted data cannot be trusted.
	ErrCorruption = errors.New("stoat: stream corrupted")

	// ErrStreamNotFound is returned when a stream does not exist.
	// Read never returns it: an absent stream reads as empty.
	ErrStreamNotFound = errors.New("stoat: stream not found")

	// ErrEmptyStreamID is returned when an empty stream ID is provided.
	ErrEmptyStreamID = errors.New("stoat: stream ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("stoat: no events to append")

	// ErrInvalidSequence is returned when appended records are not numbered
	// contiguously from the expected version.
	ErrInvalidSequence = errors.New("stoat: invalid sequence")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = fmt.Errorf("stoat: adapter is closed: %w", ErrStorageUnavailable)
)

// EventRecord is an envelope ready to be appended to a stream.
// Sequence must equal expectedVersion plus the record's index in the batch.
type EventRecord struct {
	ID            string
	Sequence      uint64
	Type          string
	Data          []byte
	Metadata      map[string]string
	CausationID   string
	CorrelationID string
	UserID        string
	RecordedAt    time.Time
}

// StoredEvent is a persisted envelope as read back from a stream.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string

	// StreamID is the stream this event belongs to.
	StreamID string

	// Sequence is the zero-based position within the stream.
	Sequence uint64

	// Type is the event type discriminant.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata holds caller-supplied key/value pairs.
	Metadata map[string]string

	CausationID   string
	CorrelationID string
	UserID        string

	// RecordedAt is the timestamp assigned at commit.
	RecordedAt time.Time
}

// StreamInfo contains metadata about an event stream.
type StreamInfo struct {
	StreamID string

	// Category is the aggregate type (first part of stream ID).
	Category string

	// Version is the stream length, which is also the next expected version.
	Version uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventStoreAdapter is the storage contract every backend implements.
type EventStoreAdapter interface {
	// Read returns the envelopes of a stream at or after fromSequence, in order.
	// The sequence is lazy and restartable: every range performs a fresh read.
	// A stream that does not exist yields nothing. A failed read yields a
	// single error and stops.
	Read(ctx context.Context, streamID string, fromSequence uint64) iter.Seq2[StoredEvent, error]

	// Append persists records atomically if the stream length still equals
	// expectedVersion, and fails with ErrConcurrencyConflict otherwise.
	// Exactly one of several concurrent appends with the same expectedVersion
	// may succeed.
	Append(ctx context.Context, streamID string, expectedVersion uint64, records []EventRecord) error

	// Initialize sets up the required schema. Safe to call more than once.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// StreamInfoProvider is implemented by adapters that can describe a stream
// without reading it.
type StreamInfoProvider interface {
	// GetStreamInfo returns ErrStreamNotFound if the stream does not exist.
	GetStreamInfo(ctx context.Context, streamID string) (*StreamInfo, error)
}

// PagedReader is implemented by adapters that can page through a stream
// natively. The second result is the total number of envelopes in the stream.
type PagedReader interface {
	ReadPage(ctx context.Context, streamID string, offset, limit int) ([]StoredEvent, uint64, error)
}

// SnapshotAdapter stores aggregate snapshots for faster loading.
type SnapshotAdapter interface {
	// SaveSnapshot stores a snapshot for the given stream, replacing any older one.
	SaveSnapshot(ctx context.Context, streamID string, version uint64, data []byte) error

	// LoadSnapshot retrieves the latest snapshot for the given stream.
	// Returns nil, nil if no snapshot exists.
	LoadSnapshot(ctx context.Context, streamID string) (*SnapshotRecord, error)

	// DeleteSnapshot removes the snapshot for the given stream.
	DeleteSnapshot(ctx context.Context, streamID string) error
}

// SnapshotRecord represents a stored aggregate snapshot.
type SnapshotRecord struct {
	StreamID string

	// Version is the stream length the snapshot state was folded up to.
	Version uint64

	Data []byte
}

// HealthChecker is implemented by adapters that can verify connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SchemaProvider is implemented by relational adapters that can print their DDL.
type SchemaProvider interface {
	Schema() string
}
