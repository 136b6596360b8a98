// Package metrics provides Prometheus instrumentation for stoat.
//
// It covers the three places work happens: command execution (engine
// middleware), storage (an adapter decorator) and dispatch (a dispatcher
// decorator).
//
// Basic usage:
//
//	m := metrics.New(metrics.WithMetricsServiceName("accounts"))
//	m.MustRegister()
//
//	adapter := m.WrapEventStore(postgresAdapter)
//	store := stoat.NewEventStore[Account](adapter, AccountAggregate{})
//	engine := stoat.NewEngine[Account, OpenAccount, AccountCommand](store, handler,
//		stoat.WithMiddleware(m.CommandMiddleware()),
//		stoat.WithDispatchers(m.WrapDispatcher(views)),
//	)
package metrics

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Default metric labels.
const (
	LabelCommandType   = "command_type"
	LabelAggregateType = "aggregate_type"
	LabelOperation     = "operation"
	LabelEventType     = "event_type"
	LabelDispatcher    = "dispatcher"
	LabelStatus        = "status"
	LabelErrorKind     = "error_kind"
	LabelService       = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Storage operation values.
const (
	OperationRead           = "read"
	OperationAppend         = "append"
	OperationReadPage       = "read_page"
	OperationStreamInfo     = "stream_info"
	OperationSaveSnapshot   = "save_snapshot"
	OperationLoadSnapshot   = "load_snapshot"
	OperationDeleteSnapshot = "delete_snapshot"
)

// Metrics holds all Prometheus collectors for stoat.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Command metrics
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandsInFlight *prometheus.GaugeVec
	eventsCommitted  *prometheus.CounterVec

	// Storage metrics
	storageOperationsTotal   *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal      *prometheus.CounterVec
	eventsReadTotal          *prometheus.CounterVec

	// Dispatch metrics
	dispatchesTotal          *prometheus.CounterVec
	dispatchDuration         *prometheus.HistogramVec
	envelopesDispatchedTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "stoat",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) initMetrics() {
	m.commandsTotal = m.counter("commands_total",
		"Total number of commands executed.",
		LabelAggregateType, LabelCommandType, LabelStatus)
	m.commandDuration = m.histogram("command_duration_seconds",
		"Duration of command execution in seconds, dispatch excluded.",
		LabelAggregateType, LabelCommandType)
	m.commandsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "commands_in_flight",
		Help:      "Number of commands currently executing.",
	}, []string{LabelService, LabelAggregateType, LabelCommandType})
	m.eventsCommitted = m.counter("events_committed_total",
		"Total number of envelopes committed by commands.",
		LabelAggregateType)

	m.storageOperationsTotal = m.counter("storage_operations_total",
		"Total number of storage operations.",
		LabelOperation, LabelStatus)
	m.storageOperationDuration = m.histogram("storage_operation_duration_seconds",
		"Duration of storage operations in seconds.",
		LabelOperation)
	m.eventsAppendedTotal = m.counter("events_appended_total",
		"Total number of events appended to streams.",
		LabelEventType)
	m.eventsReadTotal = m.counter("events_read_total",
		"Total number of events read from streams.")

	m.dispatchesTotal = m.counter("dispatches_total",
		"Total number of dispatcher invocations.",
		LabelDispatcher, LabelAggregateType, LabelStatus)
	m.dispatchDuration = m.histogram("dispatch_duration_seconds",
		"Duration of dispatcher invocations in seconds.",
		LabelDispatcher)
	m.envelopesDispatchedTotal = m.counter("envelopes_dispatched_total",
		"Total number of envelopes handed to dispatchers.",
		LabelDispatcher)

	m.errorsTotal = m.counter("errors_total",
		"Total number of errors by kind.",
		LabelErrorKind)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsTotal,
		m.commandDuration,
		m.commandsInFlight,
		m.eventsCommitted,
		m.storageOperationsTotal,
		m.storageOperationDuration,
		m.eventsAppendedTotal,
		m.eventsReadTotal,
		m.dispatchesTotal,
		m.dispatchDuration,
		m.envelopesDispatchedTotal,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Command Middleware
// =============================================================================

// CommandMiddleware returns engine middleware that records command metrics.
func (m *Metrics) CommandMiddleware() stoat.Middleware {
	return func(next stoat.Executor) stoat.Executor {
		return func(ctx context.Context, inv *stoat.Invocation) (stoat.Result, error) {
			inFlight := m.commandsInFlight.WithLabelValues(m.serviceName, inv.AggregateType, inv.CommandType)
			inFlight.Inc()
			defer inFlight.Dec()

			start := time.Now()
			result, err := next(ctx, inv)
			m.commandDuration.WithLabelValues(m.serviceName, inv.AggregateType, inv.CommandType).
				Observe(time.Since(start).Seconds())

			status := StatusSuccess
			if err != nil {
				status = StatusError
				m.RecordError(ErrorKind(err))
			} else if n := len(result.Envelopes); n > 0 {
				m.eventsCommitted.WithLabelValues(m.serviceName, inv.AggregateType).Add(float64(n))
			}
			m.commandsTotal.WithLabelValues(m.serviceName, inv.AggregateType, inv.CommandType, status).Inc()

			return result, err
		}
	}
}

var kindLabels = map[stoat.Kind]string{
	stoat.KindInternal:            "internal",
	stoat.KindValidationRejected:  "validation_rejected",
	stoat.KindNotFound:            "not_found",
	stoat.KindAlreadyExists:       "already_exists",
	stoat.KindConcurrencyConflict: "concurrency_conflict",
	stoat.KindStorageUnavailable:  "storage_unavailable",
	stoat.KindCorruption:          "corruption",
	stoat.KindDomain:              "domain",
}

// ErrorKind returns the error_kind label for err. Storage errors that are
// not yet classified are labelled by their sentinel.
func ErrorKind(err error) string {
	if err == nil {
		return "none"
	}
	switch {
	case errors.Is(err, adapters.ErrEmptyStreamID):
		return "empty_stream_id"
	case errors.Is(err, adapters.ErrNoEvents):
		return "no_events"
	case errors.Is(err, adapters.ErrInvalidSequence):
		return "invalid_sequence"
	case errors.Is(err, adapters.ErrStreamNotFound):
		return "stream_not_found"
	}
	if label, ok := kindLabels[stoat.KindOf(err)]; ok {
		return label
	}
	return "unknown"
}

// =============================================================================
// Storage decorator
// =============================================================================

// EventStoreMiddleware wraps an EventStoreAdapter with metrics. It also
// serves the optional paging, stream info and health capabilities, falling
// back to sequential reads when the wrapped adapter lacks them.
type EventStoreMiddleware struct {
	adapter adapters.EventStoreAdapter
	metrics *Metrics
}

var (
	_ adapters.EventStoreAdapter  = (*EventStoreMiddleware)(nil)
	_ adapters.PagedReader        = (*EventStoreMiddleware)(nil)
	_ adapters.StreamInfoProvider = (*EventStoreMiddleware)(nil)
	_ adapters.HealthChecker      = (*EventStoreMiddleware)(nil)
	_ adapters.SnapshotAdapter    = (*snapshotStoreMiddleware)(nil)
)

// WrapEventStore wraps an adapter with metrics collection. The result
// stores snapshots only when the wrapped adapter does.
func (m *Metrics) WrapEventStore(adapter adapters.EventStoreAdapter) adapters.EventStoreAdapter {
	em := &EventStoreMiddleware{adapter: adapter, metrics: m}
	if sa, ok := adapter.(adapters.SnapshotAdapter); ok {
		return &snapshotStoreMiddleware{EventStoreMiddleware: em, snapshots: sa}
	}
	return em
}

// Unwrap returns the wrapped adapter.
func (em *EventStoreMiddleware) Unwrap() adapters.EventStoreAdapter {
	return em.adapter
}

func (em *EventStoreMiddleware) observe(op string, start time.Time, err error) {
	m := em.metrics
	m.storageOperationDuration.WithLabelValues(m.serviceName, op).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.RecordError(ErrorKind(err))
	}
	m.storageOperationsTotal.WithLabelValues(m.serviceName, op, status).Inc()
}

// Append stores events with metrics.
func (em *EventStoreMiddleware) Append(ctx context.Context, streamID string, expectedVersion uint64, records []adapters.EventRecord) error {
	start := time.Now()
	err := em.adapter.Append(ctx, streamID, expectedVersion, records)
	em.observe(OperationAppend, start, err)

	if err == nil {
		for _, r := range records {
			em.metrics.eventsAppendedTotal.WithLabelValues(em.metrics.serviceName, r.Type).Inc()
		}
	}
	return err
}

// Read streams events with metrics. The operation is recorded when the
// caller stops iterating.
func (em *EventStoreMiddleware) Read(ctx context.Context, streamID string, fromSequence uint64) iter.Seq2[adapters.StoredEvent, error] {
	return func(yield func(adapters.StoredEvent, error) bool) {
		start := time.Now()
		var (
			count   int
			readErr error
		)
		defer func() {
			em.observe(OperationRead, start, readErr)
			em.metrics.eventsReadTotal.WithLabelValues(em.metrics.serviceName).Add(float64(count))
		}()

		for e, err := range em.adapter.Read(ctx, streamID, fromSequence) {
			if err != nil {
				readErr = err
				yield(adapters.StoredEvent{}, err)
				return
			}
			count++
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ReadPage returns one page of a stream with metrics.
func (em *EventStoreMiddleware) ReadPage(ctx context.Context, streamID string, offset, limit int) ([]adapters.StoredEvent, uint64, error) {
	start := time.Now()
	page, total, err := adapters.ReadPage(ctx, em.adapter, streamID, offset, limit)
	em.observe(OperationReadPage, start, err)
	if err == nil {
		em.metrics.eventsReadTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(page)))
	}
	return page, total, err
}

// GetStreamInfo returns stream metadata with metrics.
func (em *EventStoreMiddleware) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	start := time.Now()
	info, err := adapters.StreamInfoOf(ctx, em.adapter, streamID)
	if errors.Is(err, adapters.ErrStreamNotFound) {
		em.observe(OperationStreamInfo, start, nil)
		return nil, err
	}
	em.observe(OperationStreamInfo, start, err)
	return info, err
}

// Ping checks the wrapped adapter's health when it can report it.
func (em *EventStoreMiddleware) Ping(ctx context.Context) error {
	if hc, ok := em.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Initialize initializes the wrapped adapter.
func (em *EventStoreMiddleware) Initialize(ctx context.Context) error {
	return em.adapter.Initialize(ctx)
}

// Close closes the wrapped adapter.
func (em *EventStoreMiddleware) Close() error {
	return em.adapter.Close()
}

type snapshotStoreMiddleware struct {
	*EventStoreMiddleware
	snapshots adapters.SnapshotAdapter
}

func (sm *snapshotStoreMiddleware) SaveSnapshot(ctx context.Context, streamID string, version uint64, data []byte) error {
	start := time.Now()
	err := sm.snapshots.SaveSnapshot(ctx, streamID, version, data)
	sm.observe(OperationSaveSnapshot, start, err)
	return err
}

func (sm *snapshotStoreMiddleware) LoadSnapshot(ctx context.Context, streamID string) (*adapters.SnapshotRecord, error) {
	start := time.Now()
	rec, err := sm.snapshots.LoadSnapshot(ctx, streamID)
	sm.observe(OperationLoadSnapshot, start, err)
	return rec, err
}

func (sm *snapshotStoreMiddleware) DeleteSnapshot(ctx context.Context, streamID string) error {
	start := time.Now()
	err := sm.snapshots.DeleteSnapshot(ctx, streamID)
	sm.observe(OperationDeleteSnapshot, start, err)
	return err
}

// =============================================================================
// Dispatcher decorator
// =============================================================================

// DispatcherMiddleware wraps a Dispatcher with metrics.
type DispatcherMiddleware struct {
	dispatcher stoat.Dispatcher
	name       string
	metrics    *Metrics
}

// WrapDispatcher wraps a dispatcher with metrics collection. The wrapper
// keeps the dispatcher's name.
func (m *Metrics) WrapDispatcher(d stoat.Dispatcher) *DispatcherMiddleware {
	return &DispatcherMiddleware{
		dispatcher: d,
		name:       stoat.DispatcherName(d),
		metrics:    m,
	}
}

// Name implements stoat.Named.
func (dm *DispatcherMiddleware) Name() string {
	return dm.name
}

// Dispatch implements stoat.Dispatcher.
func (dm *DispatcherMiddleware) Dispatch(ctx context.Context, aggregateType string, envelopes []stoat.Envelope) error {
	m := dm.metrics

	start := time.Now()
	err := dm.dispatcher.Dispatch(ctx, aggregateType, envelopes)
	m.dispatchDuration.WithLabelValues(m.serviceName, dm.name).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.RecordError("dispatch")
	} else {
		m.envelopesDispatchedTotal.WithLabelValues(m.serviceName, dm.name).Add(float64(len(envelopes)))
	}
	m.dispatchesTotal.WithLabelValues(m.serviceName, dm.name, aggregateType, status).Inc()

	return err
}

// RecordError records an error of the given kind.
func (m *Metrics) RecordError(kind string) {
	m.errorsTotal.WithLabelValues(m.serviceName, kind).Inc()
}

// =============================================================================
// Getters for testing
// =============================================================================

// CommandsTotal returns the commands counter.
func (m *Metrics) CommandsTotal() *prometheus.CounterVec {
	return m.commandsTotal
}

// CommandDuration returns the command duration histogram.
func (m *Metrics) CommandDuration() *prometheus.HistogramVec {
	return m.commandDuration
}

// CommandsInFlight returns the in-flight commands gauge.
func (m *Metrics) CommandsInFlight() *prometheus.GaugeVec {
	return m.commandsInFlight
}

// StorageOperationsTotal returns the storage operations counter.
func (m *Metrics) StorageOperationsTotal() *prometheus.CounterVec {
	return m.storageOperationsTotal
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec {
	return m.eventsAppendedTotal
}

// EventsReadTotal returns the events read counter.
func (m *Metrics) EventsReadTotal() *prometheus.CounterVec {
	return m.eventsReadTotal
}

// DispatchesTotal returns the dispatches counter.
func (m *Metrics) DispatchesTotal() *prometheus.CounterVec {
	return m.dispatchesTotal
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
