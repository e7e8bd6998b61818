// Package runqueue runs durable, single-consumer FIFO work queues.
//
// A Queue validates each request against an allow-list, records a queued run
// through a Records accessor, and hands the request to one background worker.
// The worker moves the run to running, then completed or failed. Work errors
// and panics become failed runs; they never stop the worker.
package runqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"flightdeck/internal/deck"
)

// errorLimit bounds the error text stored on a failed run.
const errorLimit = 400

// ErrStopped is returned by Enqueue once Stop has been called.
var ErrStopped = errors.New("run queue is stopped")

// Records persists run state. Actions and skills each provide one.
type Records[R any] interface {
	Create(req R) (string, error)
	Update(runID string, update deck.RunUpdate) error
}

// WorkFunc executes one request and returns its result payload.
type WorkFunc[R any] func(ctx context.Context, req R) (json.RawMessage, error)

// Config describes one queue.
type Config[R any] struct {
	// Name appears in log lines.
	Name string
	// Allowed lists the kinds this queue accepts.
	Allowed []string
	// Kind extracts the allow-listed kind from a request.
	Kind    func(R) string
	Records Records[R]
	Work    WorkFunc[R]
	// Timeout bounds each work call. Zero means no bound.
	Timeout time.Duration
	Logger  deck.Logger
}

type item[R any] struct {
	runID string
	req   R
	stop  bool
}

// Queue is a generic durable run queue.
type Queue[R any] struct {
	cfg Config[R]

	mu       sync.Mutex
	items    []item[R]
	stopping bool
	started  bool
	notify   chan struct{}
	done     chan struct{}
}

// New creates a queue. Call Start to launch its worker.
func New[R any](cfg Config[R]) *Queue[R] {
	if cfg.Logger == nil {
		cfg.Logger = deck.NewNopLogger()
	}
	if cfg.Name == "" {
		cfg.Name = "runqueue"
	}
	return &Queue[R]{
		cfg:    cfg,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Allowed returns the accepted kinds, sorted.
func (q *Queue[R]) Allowed() []string {
	out := slices.Clone(q.cfg.Allowed)
	slices.Sort(out)
	return out
}

// IsAllowed reports whether kind is in the allow-list.
func (q *Queue[R]) IsAllowed(kind string) bool {
	return slices.Contains(q.cfg.Allowed, kind)
}

// Start launches the worker. Calling Start more than once has no effect.
func (q *Queue[R]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.loop()
}

// Enqueue validates req, records a queued run and schedules it. It returns
// the run id without waiting for execution. A kind outside the allow-list is
// a deck.ValidationError and no run is recorded.
func (q *Queue[R]) Enqueue(req R) (string, error) {
	kind := q.cfg.Kind(req)
	if !q.IsAllowed(kind) {
		return "", deck.Validationf("%q is not allowlisted", kind)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		return "", ErrStopped
	}

	runID, err := q.cfg.Records.Create(req)
	if err != nil {
		return "", fmt.Errorf("creating %s run: %w", q.cfg.Name, err)
	}
	q.push(item[R]{runID: runID, req: req})
	q.cfg.Logger.Debug("run queued", "queue", q.cfg.Name, "run_id", runID, "kind", kind)
	return runID, nil
}

// push appends under q.mu and wakes the worker.
func (q *Queue[R]) push(it item[R]) {
	q.items = append(q.items, it)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Stop enqueues the drain-and-stop marker and waits for the worker to finish
// every item queued before it, or for ctx to end.
func (q *Queue[R]) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopping {
		q.stopping = true
		q.push(item[R]{stop: true})
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping %s queue: %w", q.cfg.Name, ctx.Err())
	}
}

// Pending returns the number of items waiting, excluding the stop marker.
func (q *Queue[R]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if !it.stop {
			n++
		}
	}
	return n
}

func (q *Queue[R]) next() item[R] {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return it
		}
		q.mu.Unlock()
		<-q.notify
	}
}

func (q *Queue[R]) loop() {
	defer close(q.done)
	for {
		it := q.next()
		if it.stop {
			q.cfg.Logger.Debug("run queue drained", "queue", q.cfg.Name)
			return
		}
		q.process(it)
	}
}

func (q *Queue[R]) process(it item[R]) {
	log := q.cfg.Logger
	if err := q.cfg.Records.Update(it.runID, deck.RunUpdate{Status: deck.RunRunning}); err != nil {
		log.Error("marking run running", "queue", q.cfg.Name, "run_id", it.runID, "error", err)
	}

	start := time.Now()
	result, err := q.execute(it.req)
	if err != nil {
		msg := deck.Truncate(err.Error(), errorLimit)
		if upErr := q.cfg.Records.Update(it.runID, deck.RunUpdate{Status: deck.RunFailed, Error: msg}); upErr != nil {
			log.Error("marking run failed", "queue", q.cfg.Name, "run_id", it.runID, "error", upErr)
		}
		log.Warn("run failed", "queue", q.cfg.Name, "run_id", it.runID, "duration", time.Since(start), "error", msg)
		return
	}

	if err := q.cfg.Records.Update(it.runID, deck.RunUpdate{Status: deck.RunCompleted, Result: result}); err != nil {
		log.Error("marking run completed", "queue", q.cfg.Name, "run_id", it.runID, "error", err)
		return
	}
	log.Info("run completed", "queue", q.cfg.Name, "run_id", it.runID, "duration", time.Since(start))
}

func (q *Queue[R]) execute(req R) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx := context.Background()
	if q.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
	}
	return q.cfg.Work(ctx, req)
}
