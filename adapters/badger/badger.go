// Package badger provides an embedded event store adapter on top of
// BadgerDB. Each Append is one optimistic Badger transaction; Badger's own
// conflict detection backs the expected-version check.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"os"
	"sync/atomic"
	"time"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Ensure BadgerAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter  = (*BadgerAdapter)(nil)
	_ adapters.SnapshotAdapter    = (*BadgerAdapter)(nil)
	_ adapters.StreamInfoProvider = (*BadgerAdapter)(nil)
	_ adapters.PagedReader        = (*BadgerAdapter)(nil)
	_ adapters.HealthChecker      = (*BadgerAdapter)(nil)
)

// Key layout:
//
//	s/<stream>                stream header
//	e/<stream>\x00<seq:be64>  envelope
//	n/<stream>                snapshot
const (
	streamPrefix   = "s/"
	eventPrefix    = "e/"
	snapshotPrefix = "n/"
)

// Config configures a BadgerAdapter.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in memory.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// InMemoryConfig returns a configuration for tests and ephemeral stores.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// BadgerAdapter stores streams in BadgerDB.
type BadgerAdapter struct {
	db     *badger.DB
	now    func() time.Time
	closed atomic.Bool
}

type streamHeader struct {
	Category  string `msgpack:"c"`
	Version   uint64 `msgpack:"v"`
	CreatedAt int64  `msgpack:"ca"`
	UpdatedAt int64  `msgpack:"ua"`
}

type storedRecord struct {
	ID            string            `msgpack:"id"`
	Type          string            `msgpack:"t"`
	Data          []byte            `msgpack:"d"`
	Metadata      map[string]string `msgpack:"m,omitempty"`
	CausationID   string            `msgpack:"ci,omitempty"`
	CorrelationID string            `msgpack:"co,omitempty"`
	UserID        string            `msgpack:"u,omitempty"`
	RecordedAt    int64             `msgpack:"at"`
}

type snapshotValue struct {
	Version uint64 `msgpack:"v"`
	Data    []byte `msgpack:"d"`
}

// Open opens a Badger database and wraps it in an adapter.
func Open(cfg Config) (*BadgerAdapter, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("stoat/badger: path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("stoat/badger: create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("stoat/badger: open database: %w", err)
	}
	return NewAdapter(db), nil
}

// NewAdapter wraps an open Badger database. Close closes it.
func NewAdapter(db *badger.DB) *BadgerAdapter {
	return &BadgerAdapter{db: db, now: time.Now}
}

// DB returns the underlying database.
func (a *BadgerAdapter) DB() *badger.DB {
	return a.db
}

// Initialize is a no-op; Badger needs no schema.
func (a *BadgerAdapter) Initialize(ctx context.Context) error {
	return a.check(ctx)
}

func (a *BadgerAdapter) check(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return adapters.ContextError(ctx.Err())
}

// Append stores records if the stream's length equals expectedVersion.
func (a *BadgerAdapter) Append(ctx context.Context, streamID string, expectedVersion uint64, records []adapters.EventRecord) error {
	if err := adapters.ValidateAppend(streamID, expectedVersion, records); err != nil {
		return err
	}
	if err := a.check(ctx); err != nil {
		return err
	}

	err := a.db.Update(func(txn *badger.Txn) error {
		header, err := getHeader(txn, streamID)
		if err != nil {
			return err
		}
		now := a.now().UnixNano()
		if header == nil {
			header = &streamHeader{Category: adapters.ExtractCategory(streamID), CreatedAt: now}
		}
		if err := adapters.CheckVersion(streamID, expectedVersion, header.Version); err != nil {
			return err
		}

		for _, r := range records {
			value, err := msgpack.Marshal(toStored(r, a.now))
			if err != nil {
				return fmt.Errorf("stoat/badger: encode event %d: %w", r.Sequence, err)
			}
			if err := txn.Set(eventKey(streamID, r.Sequence), value); err != nil {
				return err
			}
		}

		header.Version = expectedVersion + uint64(len(records))
		header.UpdatedAt = now
		value, err := msgpack.Marshal(header)
		if err != nil {
			return fmt.Errorf("stoat/badger: encode stream header: %w", err)
		}
		return txn.Set(streamKey(streamID), value)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return adapters.NewConcurrencyError(streamID, expectedVersion, expectedVersion+1)
	case errors.Is(err, adapters.ErrConcurrencyConflict):
		return err
	default:
		return wrap("append", err)
	}
}

// Read iterates the stream inside one read transaction.
func (a *BadgerAdapter) Read(ctx context.Context, streamID string, fromSequence uint64) iter.Seq2[adapters.StoredEvent, error] {
	return func(yield func(adapters.StoredEvent, error) bool) {
		if err := a.check(ctx); err != nil {
			yield(adapters.StoredEvent{}, err)
			return
		}

		err := a.db.View(func(txn *badger.Txn) error {
			prefix := streamEventPrefix(streamID)
			it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
			defer it.Close()

			for it.Seek(eventKey(streamID, fromSequence)); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return adapters.ContextError(err)
				}
				e, err := decodeEvent(streamID, it.Item())
				if err != nil {
					return err
				}
				if !yield(e, nil) {
					return errStop
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(adapters.StoredEvent{}, wrap("read", err))
		}
	}
}

var errStop = errors.New("stop")

// ReadPage returns one page of a stream and the stream's total length.
func (a *BadgerAdapter) ReadPage(ctx context.Context, streamID string, offset, limit int) ([]adapters.StoredEvent, uint64, error) {
	if err := a.check(ctx); err != nil {
		return nil, 0, err
	}

	var (
		page  []adapters.StoredEvent
		total uint64
	)
	err := a.db.View(func(txn *badger.Txn) error {
		header, err := getHeader(txn, streamID)
		if err != nil || header == nil {
			return err
		}
		total = header.Version

		prefix := streamEventPrefix(streamID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: limit, Prefix: prefix})
		defer it.Close()

		for it.Seek(eventKey(streamID, uint64(offset))); it.ValidForPrefix(prefix) && len(page) < limit; it.Next() {
			e, err := decodeEvent(streamID, it.Item())
			if err != nil {
				return err
			}
			page = append(page, e)
		}
		return nil
	})
	if err != nil {
		return nil, 0, wrap("read page", err)
	}
	return page, total, nil
}

// GetStreamInfo returns metadata about a stream.
func (a *BadgerAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}

	var header *streamHeader
	err := a.db.View(func(txn *badger.Txn) error {
		var err error
		header, err = getHeader(txn, streamID)
		return err
	})
	if err != nil {
		return nil, wrap("get stream info", err)
	}
	if header == nil {
		return nil, fmt.Errorf("stoat/badger: %w: %q", adapters.ErrStreamNotFound, streamID)
	}
	return &adapters.StreamInfo{
		StreamID:  streamID,
		Category:  header.Category,
		Version:   header.Version,
		CreatedAt: time.Unix(0, header.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, header.UpdatedAt).UTC(),
	}, nil
}

// SaveSnapshot stores a snapshot, replacing any previous one.
func (a *BadgerAdapter) SaveSnapshot(ctx context.Context, streamID string, version uint64, data []byte) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	value, err := msgpack.Marshal(snapshotValue{Version: version, Data: data})
	if err != nil {
		return fmt.Errorf("stoat/badger: encode snapshot: %w", err)
	}
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotPrefix+streamID), value)
	})
	return wrap("save snapshot", err)
}

// LoadSnapshot returns the stream's snapshot, or nil if there is none.
func (a *BadgerAdapter) LoadSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	if err := a.check(ctx); err != nil {
		return nil, err
	}

	var snap *adapters.SnapshotRecord
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotPrefix + streamID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var v snapshotValue
			if err := msgpack.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("%w: snapshot of %s: %v", adapters.ErrCorruption, streamID, err)
			}
			snap = &adapters.SnapshotRecord{StreamID: streamID, Version: v.Version, Data: v.Data}
			return nil
		})
	})
	if err != nil {
		return nil, wrap("load snapshot", err)
	}
	return snap, nil
}

// DeleteSnapshot removes the stream's snapshot.
func (a *BadgerAdapter) DeleteSnapshot(ctx context.Context, streamID string) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	err := a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(snapshotPrefix + streamID))
	})
	return wrap("delete snapshot", err)
}

// Ping reports whether the database is open.
func (a *BadgerAdapter) Ping(ctx context.Context) error {
	if err := a.check(ctx); err != nil {
		return err
	}
	if a.db.IsClosed() {
		return fmt.Errorf("stoat/badger: %w", adapters.ErrStorageUnavailable)
	}
	return nil
}

// Close closes the database.
func (a *BadgerAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

func streamKey(streamID string) []byte {
	return []byte(streamPrefix + streamID)
}

func streamEventPrefix(streamID string) []byte {
	key := make([]byte, 0, len(eventPrefix)+len(streamID)+1)
	key = append(key, eventPrefix...)
	key = append(key, streamID...)
	return append(key, 0)
}

func eventKey(streamID string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(streamEventPrefix(streamID), seq)
}

func getHeader(txn *badger.Txn, streamID string) (*streamHeader, error) {
	item, err := txn.Get(streamKey(streamID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var h streamHeader
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &h)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: header of %s: %v", adapters.ErrCorruption, streamID, err)
	}
	return &h, nil
}

func toStored(r adapters.EventRecord, now func() time.Time) storedRecord {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	at := r.RecordedAt
	if at.IsZero() {
		at = now()
	}
	return storedRecord{
		ID:            id,
		Type:          r.Type,
		Data:          r.Data,
		Metadata:      adapters.CopyMetadata(r.Metadata),
		CausationID:   r.CausationID,
		CorrelationID: r.CorrelationID,
		UserID:        r.UserID,
		RecordedAt:    at.UnixNano(),
	}
}

func decodeEvent(streamID string, item *badger.Item) (adapters.StoredEvent, error) {
	key := item.Key()
	if len(key) < 8 {
		return adapters.StoredEvent{}, fmt.Errorf("%w: malformed key in %s", adapters.ErrCorruption, streamID)
	}
	seq := binary.BigEndian.Uint64(key[len(key)-8:])

	var r storedRecord
	err := item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &r)
	})
	if err != nil {
		return adapters.StoredEvent{}, fmt.Errorf("%w: %s@%d: %v", adapters.ErrCorruption, streamID, seq, err)
	}
	return adapters.StoredEvent{
		ID:            r.ID,
		StreamID:      streamID,
		Sequence:      seq,
		Type:          r.Type,
		Data:          r.Data,
		Metadata:      r.Metadata,
		CausationID:   r.CausationID,
		CorrelationID: r.CorrelationID,
		UserID:        r.UserID,
		RecordedAt:    time.Unix(0, r.RecordedAt).UTC(),
	}, nil
}

// wrap keeps adapter sentinels intact and reports a closed database as
// unavailable.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, adapters.ErrStorageUnavailable) || errors.Is(err, adapters.ErrCorruption) {
		return fmt.Errorf("stoat/badger: %s: %w", op, err)
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("stoat/badger: %s: %w: %w", op, adapters.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("stoat/badger: %s: %w", op, err)
}
