package stoat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// EventStore turns the storage contract into aggregate-shaped operations
// for one aggregate kind: replay into state, and commit with an optimistic
// concurrency check. It is safe for concurrent use.
type EventStore[S any] struct {
	adapter    adapters.EventStoreAdapter
	aggregate  Aggregate[S]
	serializer Serializer
	codec      StateCodec
	logger     Logger
	snapshots  adapters.SnapshotAdapter
}

// StoreOption configures an EventStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	serializer Serializer
	codec      StateCodec
	logger     Logger
	snapshots  bool
}

// WithSerializer sets a custom serializer.
func WithSerializer(s Serializer) StoreOption {
	return func(c *storeConfig) {
		c.serializer = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) StoreOption {
	return func(c *storeConfig) {
		c.logger = l
	}
}

// WithSnapshots makes Load start from the latest snapshot when the adapter
// stores snapshots. The engine decides when snapshots are written.
// State must survive the state codec unchanged: with the default JSON codec
// unexported fields are lost, so such states are never snapshotted.
func WithSnapshots() StoreOption {
	return func(c *storeConfig) {
		c.snapshots = true
	}
}

// WithStateCodec sets the codec used for snapshot state. Defaults to JSON.
func WithStateCodec(codec StateCodec) StoreOption {
	return func(c *storeConfig) {
		c.codec = codec
	}
}

// NewEventStore creates an EventStore for one aggregate kind.
func NewEventStore[S any](adapter adapters.EventStoreAdapter, aggregate Aggregate[S], opts ...StoreOption) *EventStore[S] {
	cfg := storeConfig{
		serializer: NewJSONSerializer(),
		codec:      JSONCodec{},
		logger:     &noopLogger{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &EventStore[S]{
		adapter:    adapter,
		aggregate:  aggregate,
		serializer: cfg.serializer,
		codec:      cfg.codec,
		logger:     cfg.logger,
	}
	if sa, ok := adapter.(adapters.SnapshotAdapter); ok && cfg.snapshots {
		s.snapshots = sa
	}
	return s
}

// Adapter returns the underlying adapter.
func (s *EventStore[S]) Adapter() adapters.EventStoreAdapter {
	return s.adapter
}

// Aggregate returns the aggregate definition.
func (s *EventStore[S]) Aggregate() Aggregate[S] {
	return s.aggregate
}

// Serializer returns the event store's serializer.
func (s *EventStore[S]) Serializer() Serializer {
	return s.serializer
}

// RegisterEvents registers event types with the default JSON serializer.
func (s *EventStore[S]) RegisterEvents(events ...Event) {
	if js, ok := s.serializer.(*JSONSerializer); ok {
		js.Register(events...)
	}
}

// SnapshotsEnabled reports whether loads and saves use snapshots.
func (s *EventStore[S]) SnapshotsEnabled() bool {
	return s.snapshots != nil
}

// Initialize sets up the required storage schema.
func (s *EventStore[S]) Initialize(ctx context.Context) error {
	if err := s.adapter.Initialize(ctx); err != nil {
		return classifyStorage(err)
	}
	return nil
}

// StreamID returns the stream key of an aggregate id.
func (s *EventStore[S]) StreamID(id string) string {
	return BuildStreamID(s.aggregate.AggregateType(), id)
}

func (s *EventStore[S]) checkID(id string) error {
	if id == "" {
		return Validation("aggregate id is required").WithCause(ErrEmptyStreamID)
	}
	return nil
}

// Load replays the aggregate's stream into state. The returned version is
// the stream length, 0 for an aggregate that has never been committed, and
// is the only valid expected version for the next Commit.
// Envelopes that do not decode, are out of sequence or fail to apply are
// reported as Corruption.
func (s *EventStore[S]) Load(ctx context.Context, id string) (S, uint64, error) {
	var zero S
	if err := s.checkID(id); err != nil {
		return zero, 0, err
	}

	streamID := s.StreamID(id)
	state := s.aggregate.Default(id)
	version := uint64(0)

	if snap, v, ok := s.loadSnapshot(ctx, streamID); ok {
		state, version = snap, v
	}

	for stored, err := range s.adapter.Read(ctx, streamID, version) {
		if err != nil {
			return zero, 0, classifyStorage(err)
		}
		if stored.Sequence != version {
			return zero, 0, Corruption(fmt.Errorf("%w: stream %s: expected sequence %d, got %d",
				ErrCorruption, streamID, version, stored.Sequence))
		}

		event, err := s.serializer.Deserialize(stored.Data, stored.Type)
		if err != nil {
			return zero, 0, Corruption(fmt.Errorf("stoat: stream %s: decode sequence %d: %w", streamID, stored.Sequence, err))
		}

		state, err = s.aggregate.Apply(state, event)
		if err != nil {
			return zero, 0, Corruption(fmt.Errorf("stoat: stream %s: apply sequence %d (%s): %w",
				streamID, stored.Sequence, stored.Type, err))
		}
		version++
	}

	return state, version, nil
}

func (s *EventStore[S]) loadSnapshot(ctx context.Context, streamID string) (S, uint64, bool) {
	var zero S
	if s.snapshots == nil {
		return zero, 0, false
	}

	rec, err := s.snapshots.LoadSnapshot(ctx, streamID)
	if err != nil {
		s.logger.Warn("snapshot load failed, replaying full stream", "stream_id", streamID, "error", err)
		return zero, 0, false
	}
	if rec == nil || rec.Version == 0 {
		return zero, 0, false
	}

	var state S
	if err := s.codec.Unmarshal(rec.Data, &state); err != nil {
		s.logger.Warn("snapshot decode failed, replaying full stream", "stream_id", streamID, "error", err)
		return zero, 0, false
	}
	return state, rec.Version, true
}

// SaveSnapshot stores state folded up to version. It is a no-op when
// snapshots are disabled. State that decodes back to something else is
// refused with ErrSnapshotLossy, since loading it would diverge from replay.
func (s *EventStore[S]) SaveSnapshot(ctx context.Context, id string, state S, version uint64) error {
	if s.snapshots == nil {
		return nil
	}
	data, err := s.codec.Marshal(state)
	if err != nil {
		return SerializationFailure(fmt.Errorf("stoat: encode snapshot of %s: %w", s.StreamID(id), err))
	}
	var decoded S
	if err := s.codec.Unmarshal(data, &decoded); err != nil {
		return SerializationFailure(fmt.Errorf("stoat: decode snapshot of %s: %w", s.StreamID(id), err))
	}
	if !reflect.DeepEqual(decoded, state) {
		return SerializationFailure(fmt.Errorf("%w: %s state %T", ErrSnapshotLossy, s.StreamID(id), state))
	}
	if err := s.snapshots.SaveSnapshot(ctx, s.StreamID(id), version, data); err != nil {
		return classifyStorage(err)
	}
	return nil
}

// Exists reports whether the aggregate's stream has at least one envelope.
func (s *EventStore[S]) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.checkID(id); err != nil {
		return false, err
	}
	for _, err := range s.adapter.Read(ctx, s.StreamID(id), 0) {
		if err != nil {
			return false, classifyStorage(err)
		}
		return true, nil
	}
	return false, nil
}

// CommitOption configures a commit.
type CommitOption func(*commitConfig)

type commitConfig struct {
	metadata map[string]string
}

// WithCommitMetadata attaches key/value metadata to every envelope of the commit.
func WithCommitMetadata(m map[string]string) CommitOption {
	return func(c *commitConfig) {
		c.metadata = m
	}
}

// Commit wraps events into envelopes numbered from expectedVersion and
// appends them atomically. A concurrency conflict is returned as is; the
// caller decides whether to reload. Committing zero events does nothing.
func (s *EventStore[S]) Commit(ctx context.Context, id string, expectedVersion uint64, events []Event, cc CommandContext, opts ...CommitOption) ([]Envelope, error) {
	if err := s.checkID(id); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	var cfg commitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	streamID := s.StreamID(id)
	envelopes := make([]Envelope, len(events))
	records := make([]adapters.EventRecord, len(events))
	for i, event := range events {
		if event == nil {
			return nil, Validation(fmt.Sprintf("event %d is nil", i))
		}
		data, err := s.serializer.Serialize(event)
		if err != nil {
			return nil, SerializationFailure(fmt.Errorf("stoat: failed to serialize event %d: %w", i, err))
		}

		envelopes[i] = Envelope{
			ID:            cc.NextUUID(),
			StreamID:      streamID,
			AggregateType: s.aggregate.AggregateType(),
			AggregateID:   id,
			Sequence:      expectedVersion + uint64(i),
			EventType:     event.EventType(),
			Payload:       event,
			RecordedAt:    cc.Now(),
			Metadata:      adapters.CopyMetadata(cfg.metadata),
			CausationID:   cc.CausationID(),
			CorrelationID: cc.CorrelationID(),
			UserID:        cc.CurrentUser(),
			Data:          data,
		}
		records[i] = envelopes[i].record()
	}

	if err := s.adapter.Append(ctx, streamID, expectedVersion, records); err != nil {
		return nil, classifyStorage(err)
	}

	s.logger.Debug("events committed",
		"stream_id", streamID,
		"from_sequence", expectedVersion,
		"count", len(envelopes))

	return envelopes, nil
}

// Envelopes lazily reads and decodes the stream starting at fromSequence.
func (s *EventStore[S]) Envelopes(ctx context.Context, id string, fromSequence uint64) iter.Seq2[Envelope, error] {
	return func(yield func(Envelope, error) bool) {
		if err := s.checkID(id); err != nil {
			yield(Envelope{}, err)
			return
		}
		sid := NewStreamID(s.aggregate.AggregateType(), id)
		for stored, err := range s.adapter.Read(ctx, sid.String(), fromSequence) {
			if err != nil {
				yield(Envelope{}, classifyStorage(err))
				return
			}
			env, err := s.decode(stored, sid)
			if !yield(env, err) || err != nil {
				return
			}
		}
	}
}

// Page returns one page of decoded envelopes and the stream's total length.
// Pages are numbered from 0.
func (s *EventStore[S]) Page(ctx context.Context, id string, page, size int) ([]Envelope, uint64, error) {
	if err := s.checkID(id); err != nil {
		return nil, 0, err
	}
	if page < 0 {
		page = 0
	}
	size = adapters.DefaultLimit(size, 50)

	sid := NewStreamID(s.aggregate.AggregateType(), id)
	stored, total, err := adapters.ReadPage(ctx, s.adapter, sid.String(), page*size, size)
	if err != nil {
		return nil, 0, classifyStorage(err)
	}

	out := make([]Envelope, len(stored))
	for i, st := range stored {
		env, err := s.decode(st, sid)
		if err != nil {
			return nil, 0, err
		}
		out[i] = env
	}
	return out, total, nil
}

func (s *EventStore[S]) decode(stored adapters.StoredEvent, sid StreamID) (Envelope, error) {
	event, err := s.serializer.Deserialize(stored.Data, stored.Type)
	if err != nil {
		return Envelope{}, Corruption(fmt.Errorf("stoat: stream %s: decode sequence %d: %w", sid, stored.Sequence, err))
	}
	return envelopeFromStored(stored, sid, event), nil
}

// IsNotFound reports whether err is the NotFound kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
