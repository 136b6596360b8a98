package stoat

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
)

// Dispatcher reacts to committed envelopes: projections, notifications,
// integrations. It runs after the commit is durable and its failures never
// reach the command caller. The CommandContext of the originating command
// is available through CommandContextFrom(ctx).
type Dispatcher interface {
	Dispatch(ctx context.Context, aggregateType string, envelopes []Envelope) error
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, aggregateType string, envelopes []Envelope) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, aggregateType string, envelopes []Envelope) error {
	return f(ctx, aggregateType, envelopes)
}

// Named is implemented by dispatchers that name themselves in logs and reports.
type Named interface {
	Name() string
}

// DispatcherName returns the dispatcher's Name, or its Go type.
func DispatcherName(d Dispatcher) string {
	if n, ok := d.(Named); ok {
		return n.Name()
	}
	return reflect.TypeOf(d).String()
}

// ErrorHandler receives dispatcher failures. It is shared by every dispatch
// path and must be safe for concurrent use.
type ErrorHandler func(err error)

// DispatchError reports one dispatcher failing on one committed batch.
type DispatchError struct {
	Dispatcher    string
	Index         int
	AggregateType string
	StreamID      string
	FromSequence  uint64
	Count         int
	Err           error
}

// Error returns the error message.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("stoat: dispatcher %q failed on %s [%d..%d): %v",
		e.Dispatcher, e.StreamID, e.FromSequence, e.FromSequence+uint64(e.Count), e.Err)
}

// Unwrap returns the dispatcher's error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// runDispatchers invokes each dispatcher in registration order. A failure
// or panic in one is reported and the next still runs.
func runDispatchers(ctx context.Context, dispatchers []Dispatcher, aggregateType string, envelopes []Envelope, logger Logger, onError ErrorHandler) {
	if len(envelopes) == 0 {
		return
	}
	for i, d := range dispatchers {
		err := safeDispatch(ctx, d, aggregateType, envelopes)
		if err == nil {
			continue
		}

		de := &DispatchError{
			Dispatcher:    DispatcherName(d),
			Index:         i,
			AggregateType: aggregateType,
			StreamID:      envelopes[0].StreamID,
			FromSequence:  envelopes[0].Sequence,
			Count:         len(envelopes),
			Err:           err,
		}
		reportDispatchError(logger, onError, de)
	}
}

// reportDispatchError logs de and hands it to onError. A panic in either is
// contained so the stream's later batches still run.
func reportDispatchError(logger Logger, onError ErrorHandler, de *DispatchError) {
	contain(func() {
		logger.Error("dispatcher failed",
			"dispatcher", de.Dispatcher,
			"stream_id", de.StreamID,
			"from_sequence", de.FromSequence,
			"error", de.Err)
	})
	if onError == nil {
		return
	}
	if r := contain(func() { onError(de) }); r != nil {
		contain(func() {
			logger.Error("dispatch error handler panicked",
				"dispatcher", de.Dispatcher,
				"stream_id", de.StreamID,
				"panic", fmt.Sprint(r))
		})
	}
}

// contain runs fn and returns the value of a recovered panic, if any.
func contain(fn func()) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	fn()
	return nil
}

func safeDispatch(ctx context.Context, d Dispatcher, aggregateType string, envelopes []Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewPanicError("dispatch:"+DispatcherName(d), r, string(debug.Stack()))
		}
	}()
	return d.Dispatch(ctx, aggregateType, envelopes)
}

// dispatchQueue runs dispatch jobs off the caller's goroutine. Jobs for the
// same stream run one after another in enqueue order; jobs for different
// streams run concurrently.
type dispatchQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
	wg    sync.WaitGroup
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{tails: make(map[string]chan struct{})}
}

func (q *dispatchQueue) enqueue(streamID string, job func()) {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tails[streamID]
	q.tails[streamID] = done
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		defer func() {
			close(done)

			q.mu.Lock()
			if q.tails[streamID] == done {
				delete(q.tails, streamID)
			}
			q.mu.Unlock()
		}()
		if prev != nil {
			<-prev
		}
		job()
	}()
}

// streamLocks serializes work per stream id. Entries are dropped once no
// goroutine holds or waits for them.
type streamLocks struct {
	mu    sync.Mutex
	locks map[string]*streamLock
}

type streamLock struct {
	mu   sync.Mutex
	refs int
}

func newStreamLocks() *streamLocks {
	return &streamLocks{locks: make(map[string]*streamLock)}
}

// lock acquires the lock of streamID and returns its release func.
func (l *streamLocks) lock(streamID string) func() {
	l.mu.Lock()
	sl, ok := l.locks[streamID]
	if !ok {
		sl = &streamLock{}
		l.locks[streamID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()

		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, streamID)
		}
		l.mu.Unlock()
	}
}

// wait blocks until every enqueued job finished or ctx is done.
func (q *dispatchQueue) wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
