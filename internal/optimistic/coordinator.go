package optimistic

import (
	"context"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("svcdesk/internal/optimistic")

// Remote is the server of record for one collection.
type Remote[T Entity, In any] interface {
	List(ctx context.Context, filter url.Values) ([]T, error)
	Create(ctx context.Context, in In) (T, error)
	Update(ctx context.Context, id int64, in In) (T, error)
	Delete(ctx context.Context, id int64) error
}

type options[T Entity] struct {
	logger   *slog.Logger
	observer func([]T)
	retain   bool
	filter   url.Values
}

type Option[T Entity] func(*options[T])

// WithLogger sets the logger for remote call outcomes.
func WithLogger[T Entity](l *slog.Logger) Option[T] {
	return func(o *options[T]) { o.logger = l }
}

// WithObserver registers fn to receive the view after every fold and every
// refresh. Calls are serialized in the order the view changed. fn must not
// call Create, Update, Remove or Refresh.
func WithObserver[T Entity](fn func([]T)) Option[T] {
	return func(o *options[T]) { o.observer = fn }
}

// WithFilter sets the filter passed to Remote.List.
func WithFilter[T Entity](f url.Values) Option[T] {
	return func(o *options[T]) { o.filter = f }
}

// WithInFlightRetention keeps the intents of mutations whose remote call has
// not settled across refreshes triggered by other mutations. Without it every
// refresh drops all intents, so a queued mutation's optimistic entity can
// disappear until its own refresh lands.
func WithInFlightRetention[T Entity]() Option[T] {
	return func(o *options[T]) { o.retain = true }
}

type pendingIntent[T Entity] struct {
	seq     uint64
	intent  Intent[T]
	settled bool
}

type job struct {
	op   string
	ctx  context.Context
	seqs []uint64
	// call is nil for a plain refresh.
	call func(ctx context.Context) error
	done func(err error)
}

// Coordinator projects optimistic mutations onto the last fetched copy of a
// remote collection. Remote calls run one at a time, in issue order, on a
// single executor goroutine; each settled mutation is followed by a refresh.
type Coordinator[T Entity, In any] struct {
	remote Remote[T, In]
	opts   options[T]

	// notifyMu orders observer calls; it is always taken before mu.
	notifyMu sync.Mutex
	mu       sync.Mutex
	base     []T
	pending  []pendingIntent[T]
	seq      uint64
	jobs     []job
	closed   bool

	transient atomic.Int64
	wake      chan struct{}
	stopped   chan struct{}
}

// New starts a coordinator with an empty base. Call Refresh to load it.
func New[T Entity, In any](remote Remote[T, In], opts ...Option[T]) *Coordinator[T, In] {
	c := &Coordinator[T, In]{
		remote:  remote,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	if c.opts.logger == nil {
		c.opts.logger = slog.Default()
	}
	go c.run()
	return c
}

// View returns the base with all pending intents applied.
func (c *Coordinator[T, In]) View() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Pending returns the number of intents currently folded into the view.
func (c *Coordinator[T, In]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// NextTransientID returns a fresh negative id for an optimistic entity.
func (c *Coordinator[T, In]) NextTransientID() int64 {
	return c.transient.Add(-1)
}

// Create folds Add(optimistic) when optimistic is non-nil and queues the
// remote create. ctx values (trace, auth) flow to the remote call but its
// cancellation does not; a mutation cannot be aborted once issued.
func (c *Coordinator[T, In]) Create(ctx context.Context, in In, optimistic *T) *Task[T] {
	task := newTask[T]()
	var created T
	j := job{
		op:  "create",
		ctx: context.WithoutCancel(ctx),
		call: func(ctx context.Context) error {
			v, err := c.remote.Create(ctx, in)
			created = v
			return err
		},
		done: func(err error) { task.settle(created, err) },
	}
	var intent *Intent[T]
	if optimistic != nil {
		add := Add(*optimistic)
		intent = &add
	}
	if !c.submit(intent, j) {
		return failedTask[T](ErrClosed)
	}
	return task
}

// Update folds Replace(optimistic) when optimistic is non-nil and queues the
// remote update.
func (c *Coordinator[T, In]) Update(ctx context.Context, id int64, in In, optimistic *T) *Task[T] {
	task := newTask[T]()
	var updated T
	j := job{
		op:  "update",
		ctx: context.WithoutCancel(ctx),
		call: func(ctx context.Context) error {
			v, err := c.remote.Update(ctx, id, in)
			updated = v
			return err
		},
		done: func(err error) { task.settle(updated, err) },
	}
	var intent *Intent[T]
	if optimistic != nil {
		replace := Replace(*optimistic)
		intent = &replace
	}
	if !c.submit(intent, j) {
		return failedTask[T](ErrClosed)
	}
	return task
}

// Remove folds Remove(id) and queues the remote delete.
func (c *Coordinator[T, In]) Remove(ctx context.Context, id int64) *Task[struct{}] {
	task := newTask[struct{}]()
	j := job{
		op:   "delete",
		ctx:  context.WithoutCancel(ctx),
		call: func(ctx context.Context) error { return c.remote.Delete(ctx, id) },
		done: func(err error) { task.settle(struct{}{}, err) },
	}
	intent := Remove[T](id)
	if !c.submit(&intent, j) {
		return failedTask[struct{}](ErrClosed)
	}
	return task
}

// Refresh queues a fetch that replaces the base. The task yields the view
// right after the fetch was applied.
func (c *Coordinator[T, In]) Refresh(ctx context.Context) *Task[[]T] {
	task := newTask[[]T]()
	j := job{
		op:   "list",
		ctx:  context.WithoutCancel(ctx),
		done: func(err error) { task.settle(c.View(), err) },
	}
	if !c.submit(nil, j) {
		return failedTask[[]T](ErrClosed)
	}
	return task
}

// Close waits for queued work to finish and stops the executor. Operations
// issued afterwards fail with ErrClosed.
func (c *Coordinator[T, In]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
	<-c.stopped
}

func (c *Coordinator[T, In]) submit(intent *Intent[T], j job) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if intent != nil {
		c.seq++
		c.pending = append(c.pending, pendingIntent[T]{seq: c.seq, intent: *intent})
		j.seqs = []uint64{c.seq}
	}
	c.jobs = append(c.jobs, j)
	notify := intent != nil && c.opts.observer != nil
	var view []T
	if notify {
		view = c.viewLocked()
	}
	c.mu.Unlock()
	c.signal()
	if notify {
		c.opts.observer(view)
	}
	return true
}

func (c *Coordinator[T, In]) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator[T, In]) run() {
	defer close(c.stopped)
	for {
		j, ok := c.next()
		if !ok {
			return
		}
		c.execute(j)
	}
}

func (c *Coordinator[T, In]) next() (job, bool) {
	for {
		c.mu.Lock()
		if len(c.jobs) > 0 {
			j := c.jobs[0]
			c.jobs[0] = job{}
			c.jobs = c.jobs[1:]
			c.mu.Unlock()
			return j, true
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return job{}, false
		}
		<-c.wake
	}
}

func (c *Coordinator[T, In]) execute(j job) {
	ctx, span := tracer.Start(j.ctx, "optimistic."+j.op)
	span.SetAttributes(attribute.String("optimistic.op", j.op), attribute.Int("optimistic.intents", len(j.seqs)))
	var callErr error
	if j.call != nil {
		callErr = wrapRemote(j.op, j.call(ctx))
		c.markSettled(j.seqs)
		if callErr != nil {
			c.opts.logger.Warn("remote call failed; reconciling", "op", j.op, "error", callErr)
		} else {
			c.opts.logger.Debug("remote call settled", "op", j.op)
		}
	}
	refreshErr := c.refresh(ctx)
	err := callErr
	if err == nil {
		err = refreshErr
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	j.done(err)
}

func (c *Coordinator[T, In]) markSettled(seqs []uint64) {
	if len(seqs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.pending {
		if slices.Contains(seqs, c.pending[i].seq) {
			c.pending[i].settled = true
		}
	}
}

// refresh fetches the remote list and replaces the base. Intents are dropped
// even when the fetch fails, leaving the last confirmed base visible.
func (c *Coordinator[T, In]) refresh(ctx context.Context) error {
	items, err := c.remote.List(ctx, c.opts.filter)
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	if err == nil {
		c.base = slices.Clone(items)
	}
	if c.opts.retain {
		kept := c.pending[:0:0]
		for _, p := range c.pending {
			if !p.settled {
				kept = append(kept, p)
			}
		}
		c.pending = kept
	} else {
		c.pending = nil
	}
	var view []T
	if c.opts.observer != nil {
		view = c.viewLocked()
	}
	c.mu.Unlock()
	if c.opts.observer != nil {
		c.opts.observer(view)
	}
	if err != nil {
		c.opts.logger.Warn("refresh failed; keeping last confirmed list", "error", err)
	}
	return wrapRemote("list", err)
}

func (c *Coordinator[T, In]) viewLocked() []T {
	intents := make([]Intent[T], len(c.pending))
	for i, p := range c.pending {
		intents[i] = p.intent
	}
	return Reduce(c.base, intents)
}
