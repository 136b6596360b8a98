// Package tracing provides OpenTelemetry integration for stoat.
//
// Commands, storage calls and dispatches each get a span. Dispatch runs
// after the command returns, but its context carries the command's span,
// so dispatch spans are children of the command that committed the events.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer(tracing.WithServiceName("accounts"))
//	adapter := tracing.NewEventStoreMiddleware(postgresAdapter, tracer)
//	engine := stoat.NewEngine[Account, OpenAccount, AccountCommand](store, handler,
//		stoat.WithMiddleware(tracing.CommandMiddleware(tracer)),
//		stoat.WithDispatchers(tracing.NewDispatcherMiddleware(views, tracer)),
//	)
package tracing

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

const (
	// TracerName is the name of the stoat tracer.
	TracerName = "github.com/AshkanYarmoradi/go-stoat"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "stoat"
)

// Attribute keys.
const (
	AttrService       = attribute.Key("stoat.service")
	AttrOperation     = attribute.Key("stoat.operation")
	AttrAggregateType = attribute.Key("stoat.aggregate.type")
	AttrAggregateID   = attribute.Key("stoat.aggregate.id")
	AttrCommandType   = attribute.Key("stoat.command.type")
	AttrCorrelationID = attribute.Key("stoat.correlation_id")
	AttrCausationID   = attribute.Key("stoat.causation_id")
	AttrUser          = attribute.Key("stoat.user")
	AttrStreamID      = attribute.Key("stoat.stream_id")
	AttrVersion       = attribute.Key("stoat.version")
	AttrFromSequence  = attribute.Key("stoat.from_sequence")
	AttrEventCount    = attribute.Key("stoat.events.count")
	AttrEventTypes    = attribute.Key("stoat.events.types")
	AttrDispatcher    = attribute.Key("stoat.dispatcher")
	AttrErrorKind     = attribute.Key("stoat.error.kind")
)

// Tracer wraps an OpenTelemetry tracer for stoat operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// =============================================================================
// Command Middleware
// =============================================================================

// CommandMiddleware creates engine middleware that traces command execution.
func CommandMiddleware(tracer *Tracer) stoat.Middleware {
	return func(next stoat.Executor) stoat.Executor {
		return func(ctx context.Context, inv *stoat.Invocation) (stoat.Result, error) {
			ctx, span := tracer.StartSpan(ctx, "command."+inv.CommandType,
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			span.SetAttributes(
				AttrService.String(tracer.serviceName),
				AttrOperation.String(string(inv.Operation)),
				AttrAggregateType.String(inv.AggregateType),
				AttrAggregateID.String(inv.AggregateID),
				AttrCommandType.String(inv.CommandType),
				AttrUser.String(inv.Context.CurrentUser()),
			)
			if id := inv.Context.CorrelationID(); id != "" {
				span.SetAttributes(AttrCorrelationID.String(id))
			}
			if id := inv.Context.CausationID(); id != "" {
				span.SetAttributes(AttrCausationID.String(id))
			}

			result, err := next(ctx, inv)

			if err != nil {
				span.SetAttributes(AttrErrorKind.String(stoat.KindOf(err).String()))
			} else {
				span.SetAttributes(
					AttrVersion.Int64(int64(result.Version)),
					AttrEventCount.Int(len(result.Envelopes)),
				)
			}
			finish(span, err)

			return result, err
		}
	}
}

// =============================================================================
// Event Store Middleware
// =============================================================================

// EventStoreMiddleware wraps an EventStoreAdapter with tracing. Paging,
// stream info and health checks are served for any wrapped adapter.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	tracer  *Tracer
}

var (
	_ adapters.EventStoreAdapter  = (*EventStoreMiddleware)(nil)
	_ adapters.PagedReader        = (*EventStoreMiddleware)(nil)
	_ adapters.StreamInfoProvider = (*EventStoreMiddleware)(nil)
	_ adapters.HealthChecker      = (*EventStoreMiddleware)(nil)
	_ adapters.SnapshotAdapter    = (*snapshotStoreMiddleware)(nil)
)

// NewEventStoreMiddleware wraps an adapter with tracing. The result stores
// snapshots only when the wrapped adapter does.
func NewEventStoreMiddleware(adapter adapters.EventStoreAdapter, tracer *Tracer) adapters.EventStoreAdapter {
	m := &EventStoreMiddleware{adapter: adapter, tracer: tracer}
	if sa, ok := adapter.(adapters.SnapshotAdapter); ok {
		return &snapshotStoreMiddleware{EventStoreMiddleware: m, snapshots: sa}
	}
	return m
}

// Unwrap returns the wrapped adapter.
func (m *EventStoreMiddleware) Unwrap() adapters.EventStoreAdapter {
	return m.adapter
}

func (m *EventStoreMiddleware) start(ctx context.Context, name, streamID string) (context.Context, trace.Span) {
	ctx, span := m.tracer.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(AttrService.String(m.tracer.serviceName))
	if streamID != "" {
		span.SetAttributes(AttrStreamID.String(streamID))
	}
	return ctx, span
}

// Append stores events with tracing.
func (m *EventStoreMiddleware) Append(ctx context.Context, streamID string, expectedVersion uint64, records []adapters.EventRecord) error {
	ctx, span := m.start(ctx, "eventstore.append", streamID)
	defer span.End()

	span.SetAttributes(
		AttrVersion.Int64(int64(expectedVersion)),
		AttrEventCount.Int(len(records)),
	)
	if len(records) > 0 {
		types := make([]string, len(records))
		for i, r := range records {
			types[i] = r.Type
		}
		span.SetAttributes(AttrEventTypes.StringSlice(types))
	}

	err := m.adapter.Append(ctx, streamID, expectedVersion, records)
	finish(span, err)
	return err
}

// Read streams events with tracing. The span ends when the caller stops
// iterating.
func (m *EventStoreMiddleware) Read(ctx context.Context, streamID string, fromSequence uint64) iter.Seq2[adapters.StoredEvent, error] {
	return func(yield func(adapters.StoredEvent, error) bool) {
		ctx, span := m.start(ctx, "eventstore.read", streamID)
		defer span.End()
		span.SetAttributes(AttrFromSequence.Int64(int64(fromSequence)))

		count := 0
		for e, err := range m.adapter.Read(ctx, streamID, fromSequence) {
			if err != nil {
				finish(span, err)
				yield(adapters.StoredEvent{}, err)
				return
			}
			count++
			if !yield(e, nil) {
				break
			}
		}
		span.SetAttributes(AttrEventCount.Int(count))
		finish(span, nil)
	}
}

// ReadPage returns one page of a stream with tracing.
func (m *EventStoreMiddleware) ReadPage(ctx context.Context, streamID string, offset, limit int) ([]adapters.StoredEvent, uint64, error) {
	ctx, span := m.start(ctx, "eventstore.read_page", streamID)
	defer span.End()
	span.SetAttributes(
		attribute.Int("stoat.page.offset", offset),
		attribute.Int("stoat.page.limit", limit),
	)

	page, total, err := adapters.ReadPage(ctx, m.adapter, streamID, offset, limit)
	if err == nil {
		span.SetAttributes(AttrEventCount.Int(len(page)), AttrVersion.Int64(int64(total)))
	}
	finish(span, err)
	return page, total, err
}

// GetStreamInfo returns stream metadata with tracing.
func (m *EventStoreMiddleware) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	ctx, span := m.start(ctx, "eventstore.stream_info", streamID)
	defer span.End()

	info, err := adapters.StreamInfoOf(ctx, m.adapter, streamID)
	if err == nil {
		span.SetAttributes(AttrVersion.Int64(int64(info.Version)))
	}
	finish(span, err)
	return info, err
}

// Ping checks the wrapped adapter's health when it can report it.
func (m *EventStoreMiddleware) Ping(ctx context.Context) error {
	hc, ok := m.adapter.(adapters.HealthChecker)
	if !ok {
		return nil
	}
	ctx, span := m.start(ctx, "eventstore.ping", "")
	defer span.End()

	err := hc.Ping(ctx)
	finish(span, err)
	return err
}

// Initialize initializes the wrapped adapter with tracing.
func (m *EventStoreMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.start(ctx, "eventstore.initialize", "")
	defer span.End()

	err := m.adapter.Initialize(ctx)
	finish(span, err)
	return err
}

// Close closes the wrapped adapter.
func (m *EventStoreMiddleware) Close() error {
	return m.adapter.Close()
}

type snapshotStoreMiddleware struct {
	*EventStoreMiddleware
	snapshots adapters.SnapshotAdapter
}

func (m *snapshotStoreMiddleware) SaveSnapshot(ctx context.Context, streamID string, version uint64, data []byte) error {
	ctx, span := m.start(ctx, "eventstore.save_snapshot", streamID)
	defer span.End()
	span.SetAttributes(AttrVersion.Int64(int64(version)))

	err := m.snapshots.SaveSnapshot(ctx, streamID, version, data)
	finish(span, err)
	return err
}

func (m *snapshotStoreMiddleware) LoadSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	ctx, span := m.start(ctx, "eventstore.load_snapshot", streamID)
	defer span.End()

	rec, err := m.snapshots.LoadSnapshot(ctx, streamID)
	if rec != nil {
		span.SetAttributes(AttrVersion.Int64(int64(rec.Version)))
	}
	finish(span, err)
	return rec, err
}

func (m *snapshotStoreMiddleware) DeleteSnapshot(ctx context.Context, streamID string) error {
	ctx, span := m.start(ctx, "eventstore.delete_snapshot", streamID)
	defer span.End()

	err := m.snapshots.DeleteSnapshot(ctx, streamID)
	finish(span, err)
	return err
}

// =============================================================================
// Dispatcher Middleware
// =============================================================================

// DispatcherMiddleware wraps a Dispatcher with tracing.
type DispatcherMiddleware struct {
	dispatcher stoat.Dispatcher
	name       string
	tracer     *Tracer
}

// NewDispatcherMiddleware wraps a dispatcher with tracing. The wrapper keeps
// the dispatcher's name.
func NewDispatcherMiddleware(d stoat.Dispatcher, tracer *Tracer) *DispatcherMiddleware {
	return &DispatcherMiddleware{
		dispatcher: d,
		name:       stoat.DispatcherName(d),
		tracer:     tracer,
	}
}

// Name implements stoat.Named.
func (m *DispatcherMiddleware) Name() string {
	return m.name
}

// Dispatch implements stoat.Dispatcher.
func (m *DispatcherMiddleware) Dispatch(ctx context.Context, aggregateType string, envelopes []stoat.Envelope) error {
	ctx, span := m.tracer.StartSpan(ctx, "dispatch."+m.name,
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	span.SetAttributes(
		AttrService.String(m.tracer.serviceName),
		AttrDispatcher.String(m.name),
		AttrAggregateType.String(aggregateType),
		AttrEventCount.Int(len(envelopes)),
	)
	if len(envelopes) > 0 {
		span.SetAttributes(
			AttrStreamID.String(envelopes[0].StreamID),
			AttrFromSequence.Int64(int64(envelopes[0].Sequence)),
		)
	}

	err := m.dispatcher.Dispatch(ctx, aggregateType, envelopes)
	finish(span, err)
	return err
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	finish(trace.SpanFromContext(ctx), err)
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
