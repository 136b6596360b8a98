package stoat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Operation distinguishes the two engine entry points.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// Invocation describes one command execution as seen by middleware.
// For creates, AggregateID is the freshly generated id.
type Invocation struct {
	Operation     Operation
	AggregateType string
	AggregateID   string
	CommandType   string
	Command       any
	Metadata      map[string]string
	Context       CommandContext
}

// Result is the outcome of a successful command execution.
type Result struct {
	AggregateID string

	// Version is the stream length after the command.
	Version uint64

	// Envelopes are the committed envelopes, empty for a no-op update.
	Envelopes []Envelope
}

// Executor runs one invocation.
type Executor func(ctx context.Context, inv *Invocation) (Result, error)

// Middleware wraps command execution. Dispatch happens inside the innermost
// executor but off the caller's goroutine, so middleware measures command
// latency only.
type Middleware func(next Executor) Executor

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	dispatchers     []Dispatcher
	onError         ErrorHandler
	logger          Logger
	middleware      []Middleware
	dispatchTimeout time.Duration
	snapshotEvery   uint64
}

// WithDispatchers registers dispatchers. They run in registration order.
func WithDispatchers(d ...Dispatcher) EngineOption {
	return func(c *engineConfig) {
		c.dispatchers = append(c.dispatchers, d...)
	}
}

// WithErrorHandler sets the process-wide callback for dispatcher failures.
func WithErrorHandler(h ErrorHandler) EngineOption {
	return func(c *engineConfig) {
		c.onError = h
	}
}

// WithEngineLogger sets the engine's logger. Defaults to the store's logger.
func WithEngineLogger(l Logger) EngineOption {
	return func(c *engineConfig) {
		c.logger = l
	}
}

// WithMiddleware adds command middleware. The first one is the outermost.
func WithMiddleware(m ...Middleware) EngineOption {
	return func(c *engineConfig) {
		c.middleware = append(c.middleware, m...)
	}
}

// WithDispatchTimeout bounds each dispatch batch.
func WithDispatchTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		c.dispatchTimeout = d
	}
}

// WithSnapshotEvery saves a snapshot each time the stream crosses a multiple
// of n versions. It needs a store created WithSnapshots.
func WithSnapshotEvery(n uint64) EngineOption {
	return func(c *engineConfig) {
		c.snapshotEvery = n
	}
}

// Engine executes commands against one aggregate kind:
// route, load, handle, commit, dispatch. It never retries; conflicts and
// storage failures are returned for the caller to act on.
type Engine[S, C, U any] struct {
	store   *EventStore[S]
	handler CommandHandler[S, C, U]
	logger  Logger
	onError ErrorHandler

	mu          sync.RWMutex
	dispatchers []Dispatcher

	dispatchTimeout time.Duration
	snapshotEvery   uint64
	queue           *dispatchQueue
	commits         *streamLocks
	exec            Executor
}

// NewEngine creates an Engine.
func NewEngine[S, C, U any](store *EventStore[S], handler CommandHandler[S, C, U], opts ...EngineOption) *Engine[S, C, U] {
	cfg := engineConfig{logger: store.logger}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine[S, C, U]{
		store:           store,
		handler:         handler,
		logger:          cfg.logger,
		onError:         cfg.onError,
		dispatchers:     cfg.dispatchers,
		dispatchTimeout: cfg.dispatchTimeout,
		snapshotEvery:   cfg.snapshotEvery,
		queue:           newDispatchQueue(),
		commits:         newStreamLocks(),
	}

	exec := e.execute
	for i := len(cfg.middleware) - 1; i >= 0; i-- {
		exec = cfg.middleware[i](exec)
	}
	e.exec = exec

	return e
}

// Store returns the engine's event store.
func (e *Engine[S, C, U]) Store() *EventStore[S] {
	return e.store
}

// AppendDispatcher registers another dispatcher after construction.
func (e *Engine[S, C, U]) AppendDispatcher(d Dispatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatchers = append(e.dispatchers, d)
}

// Create runs a create command and returns the new aggregate id.
func (e *Engine[S, C, U]) Create(ctx context.Context, cmd C, cc CommandContext) (string, error) {
	return e.CreateWithMetadata(ctx, cmd, nil, cc)
}

// CreateWithMetadata is Create with metadata attached to every envelope.
func (e *Engine[S, C, U]) CreateWithMetadata(ctx context.Context, cmd C, metadata map[string]string, cc CommandContext) (string, error) {
	inv := &Invocation{
		Operation:     OperationCreate,
		AggregateType: e.store.aggregate.AggregateType(),
		AggregateID:   cc.NextUUID(),
		CommandType:   CommandTypeOf(cmd),
		Command:       cmd,
		Metadata:      metadata,
		Context:       cc,
	}
	res, err := e.run(ctx, inv)
	if err != nil {
		return "", err
	}
	return res.AggregateID, nil
}

// Update runs an update command against an existing aggregate.
func (e *Engine[S, C, U]) Update(ctx context.Context, id string, cmd U, cc CommandContext) error {
	return e.UpdateWithMetadata(ctx, id, cmd, nil, cc)
}

// UpdateWithMetadata is Update with metadata attached to every envelope.
func (e *Engine[S, C, U]) UpdateWithMetadata(ctx context.Context, id string, cmd U, metadata map[string]string, cc CommandContext) error {
	_, err := e.run(ctx, &Invocation{
		Operation:     OperationUpdate,
		AggregateType: e.store.aggregate.AggregateType(),
		AggregateID:   id,
		CommandType:   CommandTypeOf(cmd),
		Command:       cmd,
		Metadata:      metadata,
		Context:       cc,
	})
	return err
}

// Drain waits for in-flight dispatch batches to finish.
func (e *Engine[S, C, U]) Drain(ctx context.Context) error {
	return e.queue.wait(ctx)
}

func (e *Engine[S, C, U]) run(ctx context.Context, inv *Invocation) (Result, error) {
	res, err := e.exec(ctx, inv)
	if err != nil {
		ce := Classify(err)
		if rid := inv.Context.RequestID(); rid != "" && ce.RequestID == "" {
			ce = ce.WithRequestID(rid)
		}
		return Result{}, ce
	}
	return res, nil
}

func (e *Engine[S, C, U]) execute(ctx context.Context, inv *Invocation) (Result, error) {
	switch inv.Operation {
	case OperationCreate:
		cmd, ok := inv.Command.(C)
		if !ok {
			return Result{}, Internal("create command has unexpected type " + inv.CommandType)
		}
		return e.create(ctx, inv, cmd)
	case OperationUpdate:
		cmd, ok := inv.Command.(U)
		if !ok {
			return Result{}, Internal("update command has unexpected type " + inv.CommandType)
		}
		return e.update(ctx, inv, cmd)
	default:
		return Result{}, Internal("unknown operation " + string(inv.Operation))
	}
}

func (e *Engine[S, C, U]) create(ctx context.Context, inv *Invocation, cmd C) (Result, error) {
	id := inv.AggregateID

	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}

	exists, err := e.store.Exists(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return Result{}, AggregateAlreadyExists(id)
	}

	events, err := e.handler.HandleCreate(ctx, cmd, inv.Context)
	if err != nil {
		return Result{}, classifyHandler(err)
	}
	if len(events) == 0 {
		return Result{}, Validation("create command produced no events")
	}

	state := e.store.aggregate.Default(id)
	return e.commit(ctx, inv, state, 0, events)
}

func (e *Engine[S, C, U]) update(ctx context.Context, inv *Invocation, cmd U) (Result, error) {
	id := inv.AggregateID

	state, version, err := e.store.Load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if version == 0 {
		return Result{}, AggregateNotFound(id)
	}

	if err := validateCommand(cmd); err != nil {
		return Result{}, err
	}

	events, err := e.handler.HandleUpdate(ctx, state, cmd, inv.Context)
	if err != nil {
		return Result{}, classifyHandler(err)
	}
	if len(events) == 0 {
		return Result{AggregateID: id, Version: version}, nil
	}

	return e.commit(ctx, inv, state, version, events)
}

// commit folds the new events onto state before appending them, so events
// the aggregate cannot apply are never persisted.
func (e *Engine[S, C, U]) commit(ctx context.Context, inv *Invocation, state S, version uint64, events []Event) (Result, error) {
	agg := e.store.aggregate
	id := inv.AggregateID

	next, err := Fold(agg, state, events)
	if err != nil {
		return Result{}, UserError(err)
	}
	if got := agg.Identity(next); got != id {
		return Result{}, InfraCqrsInternalError.Newf("aggregate identity %q does not match stream id %q", got, id).
			WithKind(KindInternal)
	}

	// The stream stays locked from append to enqueue so batches of one
	// stream reach the dispatch queue in commit order.
	unlock := e.commits.lock(e.store.StreamID(id))
	envelopes, err := e.store.Commit(ctx, id, version, events, inv.Context, WithCommitMetadata(inv.Metadata))
	if err != nil {
		unlock()
		return Result{}, err
	}
	e.dispatch(ctx, inv, envelopes)
	unlock()

	newVersion := version + uint64(len(envelopes))
	e.maybeSnapshot(ctx, id, next, version, newVersion)

	return Result{AggregateID: id, Version: newVersion, Envelopes: envelopes}, nil
}

func (e *Engine[S, C, U]) maybeSnapshot(ctx context.Context, id string, state S, from, to uint64) {
	if e.snapshotEvery == 0 || !e.store.SnapshotsEnabled() {
		return
	}
	if to/e.snapshotEvery == from/e.snapshotEvery {
		return
	}
	if err := e.store.SaveSnapshot(context.WithoutCancel(ctx), id, state, to); err != nil {
		e.logger.Warn("snapshot save failed", "stream_id", e.store.StreamID(id), "version", to, "error", err)
	}
}

// dispatch hands the committed batch to the dispatch queue. Dispatchers see
// the caller's context values but not its cancellation.
func (e *Engine[S, C, U]) dispatch(ctx context.Context, inv *Invocation, envelopes []Envelope) {
	e.mu.RLock()
	dispatchers := append([]Dispatcher(nil), e.dispatchers...)
	e.mu.RUnlock()

	if len(dispatchers) == 0 || len(envelopes) == 0 {
		return
	}

	dctx := WithCommandContext(context.WithoutCancel(ctx), inv.Context)
	streamID := envelopes[0].StreamID
	e.queue.enqueue(streamID, func() {
		ctx := dctx
		if e.dispatchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.dispatchTimeout)
			defer cancel()
		}
		runDispatchers(ctx, dispatchers, inv.AggregateType, envelopes, e.logger, e.onError)
	})
}

// IsRetryable reports whether err is worth resubmitting: storage
// unavailability, or a concurrency conflict after the engine reloads.
func IsRetryable(err error) bool {
	var ce *CqrsError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind.Retryable()
}
