package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/GoCodeAlone/modhost/internal/logging"
)

// AbortPolicy decides what happens to the worker of an operation whose
// module was uninstalled while the operation ran.
type AbortPolicy string

const (
	// AbortLeave lets the worker finish; it keeps its pool slot.
	AbortLeave AbortPolicy = "leave"
	// AbortDeprioritize detaches the worker: its slot is handed to other
	// work and the worker retires once the operation returns.
	AbortDeprioritize AbortPolicy = "deprioritize"
	// AbortTerminate detaches the worker and cancels the operation context.
	AbortTerminate AbortPolicy = "terminate"
)

// ParseAbortPolicy validates a policy name.
func ParseAbortPolicy(s string) (AbortPolicy, error) {
	switch p := AbortPolicy(s); p {
	case AbortLeave, AbortDeprioritize, AbortTerminate:
		return p, nil
	default:
		return "", fmt.Errorf("unknown abort policy %q", s)
	}
}

// Target is the module a lifecycle operation acts on.
type Target interface {
	ID() int64
	Uninstalled() bool
}

// Op is the body of a lifecycle operation.
type Op func(ctx context.Context) error

// Pool runs lifecycle operations on a set of long-lived workers. Operations
// on one module run one at a time, in submission order; operations on
// different modules run concurrently. Start and stop share one queue per
// module; event dispatch uses a second one so that events emitted by a
// running start or stop are not stuck behind it.
type Pool struct {
	maxWorkers   int
	keepAlive    time.Duration
	pollInterval time.Duration
	policy       AbortPolicy
	logger       logging.Logger
	dispatcher   EventDispatcher

	mu     sync.Mutex
	queues map[queueKey]*queue
	ready  []*queue
	idle   []*worker
	active int
	nextID int
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxWorkers bounds the workers serving top-level operations.
func WithMaxWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.maxWorkers = n
		}
	}
}

// WithKeepAlive sets how long an idle worker waits before retiring.
func WithKeepAlive(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.keepAlive = d
		}
	}
}

// WithPollInterval sets how often a waiting caller checks whether the target
// module was uninstalled.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithAbortPolicy sets the abort policy.
func WithAbortPolicy(policy AbortPolicy) PoolOption {
	return func(p *Pool) {
		if policy != "" {
			p.policy = policy
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool dispatching events through dispatcher.
func NewPool(dispatcher EventDispatcher, opts ...PoolOption) *Pool {
	p := &Pool{
		maxWorkers:   4,
		keepAlive:    time.Minute,
		pollInterval: 50 * time.Millisecond,
		policy:       AbortLeave,
		logger:       logging.Nop{},
		dispatcher:   dispatcher,
		queues:       make(map[queueKey]*queue),
		quit:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type queueKey struct {
	module int64
	events bool
}

type queue struct {
	key     queueKey
	tasks   []*task
	running *task
	ready   bool
}

type task struct {
	key    queueKey
	op     Operation
	target Target
	fn     Op
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	worker *worker
}

type worker struct {
	id       int
	assign   chan *task
	detached bool
	retired  bool
}

// held records the queues whose operations enclose the current context.
type held struct {
	key    queueKey
	parent *held
}

type heldKey struct{}

func heldFrom(ctx context.Context) *held {
	h, _ := ctx.Value(heldKey{}).(*held)
	return h
}

func (h *held) holds(k queueKey) bool {
	for ; h != nil; h = h.parent {
		if h.key == k {
			return true
		}
	}
	return false
}

// CallStart runs op as the start of target and waits for it.
func (p *Pool) CallStart(ctx context.Context, target Target, op Op) error {
	return p.call(ctx, OpStart, target, queueKey{module: target.ID()}, op)
}

// CallStop runs op as the stop of target and waits for it.
func (p *Pool) CallStop(ctx context.Context, target Target, op Op) error {
	return p.call(ctx, OpStop, target, queueKey{module: target.ID()}, op)
}

// DispatchEvent delivers event on the module's event queue and waits until
// every observer has seen it. Dispatch from inside a delivery for the same
// module runs inline.
func (p *Pool) DispatchEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return ErrEventCannotBeNil
	}
	deliver := func(ctx context.Context) error { return p.dispatcher.Dispatch(ctx, event) }
	err := p.call(ctx, OpDispatch, nil, queueKey{module: event.Module, events: true}, deliver)
	if errors.Is(err, ErrPoolClosed) {
		return deliver(ctx)
	}
	return err
}

func (p *Pool) call(ctx context.Context, op Operation, target Target, key queueKey, fn Op) error {
	parent := heldFrom(ctx)
	if parent.holds(key) {
		if op == OpDispatch {
			return fn(ctx)
		}
		return &StateChangeError{Module: key.module, Op: op, Err: ErrReentrantOperation}
	}
	if target != nil && target.Uninstalled() {
		return &StateChangeError{Module: key.module, Op: op, Err: ErrAborted}
	}

	opCtx, cancel := context.WithCancel(context.WithValue(ctx, heldKey{}, &held{key: key, parent: parent}))
	t := &task{
		key:    key,
		op:     op,
		target: target,
		fn:     fn,
		ctx:    opCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return p.result(t, ErrPoolClosed)
	}
	q, ok := p.queues[key]
	if !ok {
		q = &queue{key: key}
		p.queues[key] = q
	}
	q.tasks = append(q.tasks, t)
	p.markReadyLocked(q)
	// Operations nested in a worker may exceed maxWorkers so the enclosing
	// operation cannot starve its own children.
	p.dispatchLocked(parent != nil)
	p.mu.Unlock()

	return p.await(ctx, t)
}

func (p *Pool) markReadyLocked(q *queue) {
	if q.running == nil && !q.ready && len(q.tasks) > 0 {
		q.ready = true
		p.ready = append(p.ready, q)
	}
}

// dispatchLocked hands ready queues to idle or new workers.
func (p *Pool) dispatchLocked(allowExtra bool) {
	for len(p.ready) > 0 {
		var w *worker
		if n := len(p.idle); n > 0 {
			w = p.idle[n-1]
			p.idle = p.idle[:n-1]
		} else if p.active < p.maxWorkers || allowExtra {
			w = p.spawnLocked()
		} else {
			return
		}
		t := p.nextLocked()
		if t == nil {
			p.idle = append(p.idle, w)
			return
		}
		t.worker = w
		w.assign <- t
	}
}

func (p *Pool) spawnLocked() *worker {
	p.nextID++
	w := &worker{id: p.nextID, assign: make(chan *task, 1)}
	p.active++
	p.wg.Add(1)
	go p.run(w)
	p.logger.Debug("Lifecycle worker started", "worker", w.id, "active", p.active)
	return w
}

// nextLocked pops the first ready queue with work and marks its head task
// running.
func (p *Pool) nextLocked() *task {
	for len(p.ready) > 0 {
		q := p.ready[0]
		p.ready = p.ready[1:]
		q.ready = false
		if len(q.tasks) == 0 {
			if q.running == nil {
				delete(p.queues, q.key)
			}
			continue
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.running = t
		return t
	}
	return nil
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	for {
		timer := time.NewTimer(p.keepAlive)
		var t *task
		select {
		case t = <-w.assign:
			timer.Stop()
		case <-timer.C:
			if p.retireIdle(w, "keep-alive expired") {
				return
			}
			continue
		case <-p.quit:
			timer.Stop()
			if p.retireIdle(w, "pool closed") {
				return
			}
			select {
			case t = <-w.assign:
			case <-time.After(p.pollInterval):
				continue
			}
		}

		for t != nil {
			p.execute(t)
			t = p.release(w, t)
		}
		if w.retired {
			return
		}
	}
}

// retireIdle removes w from the idle list. It fails when w was picked for
// new work in the meantime.
func (p *Pool) retireIdle(w *worker, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.Index(p.idle, w)
	if i < 0 {
		return false
	}
	p.idle = slices.Delete(p.idle, i, i+1)
	p.active--
	p.logger.Debug("Lifecycle worker retired", "worker", w.id, "reason", reason, "active", p.active)
	return true
}

func (p *Pool) execute(t *task) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("%w: %v", ErrOperationPanicked, r)
			p.logger.Error("Lifecycle operation panicked", "module", t.key.module, "op", t.op, "panic", r)
		}
	}()
	t.err = t.fn(t.ctx)
}

// release finishes t and returns the worker's next task, if any.
func (p *Pool) release(w *worker, t *task) *task {
	t.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if q, ok := p.queues[t.key]; ok {
		q.running = nil
		if len(q.tasks) > 0 {
			p.markReadyLocked(q)
		} else if !q.ready {
			delete(p.queues, t.key)
		}
	}

	if w.detached || p.closed {
		if !w.detached {
			p.active--
		}
		w.retired = true
		p.dispatchLocked(false)
		p.logger.Debug("Lifecycle worker retired", "worker", w.id, "detached", w.detached, "active", p.active)
		return nil
	}
	if next := p.nextLocked(); next != nil {
		next.worker = w
		return next
	}
	p.idle = append(p.idle, w)
	return nil
}

func (p *Pool) await(ctx context.Context, t *task) error {
	var tick <-chan time.Time
	if t.target != nil {
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-t.done:
			return p.result(t, t.err)
		case <-tick:
			if t.target.Uninstalled() {
				return p.abort(t, ErrAborted)
			}
		case <-ctx.Done():
			return p.abort(t, errors.Join(ErrAborted, ctx.Err()))
		}
	}
}

func (p *Pool) result(t *task, err error) error {
	if err == nil || t.op == OpDispatch {
		return err
	}
	var sce *StateChangeError
	if errors.As(err, &sce) {
		return err
	}
	return &StateChangeError{Module: t.key.module, Op: t.op, Err: err}
}

// abort gives up waiting for t. A queued task is dropped; a running one is
// handled according to the abort policy.
func (p *Pool) abort(t *task, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-t.done:
		return p.result(t, t.err)
	default:
	}

	if t.worker == nil {
		if q, ok := p.queues[t.key]; ok {
			q.tasks = slices.DeleteFunc(q.tasks, func(x *task) bool { return x == t })
		}
		t.cancel()
		p.logger.Debug("Queued lifecycle operation aborted", "module", t.key.module, "op", t.op)
		return &StateChangeError{Module: t.key.module, Op: t.op, Err: cause}
	}

	switch p.policy {
	case AbortTerminate:
		t.cancel()
		fallthrough
	case AbortDeprioritize:
		if w := t.worker; !w.detached {
			w.detached = true
			p.active--
			p.dispatchLocked(false)
		}
	}
	p.logger.Warn("Lifecycle operation aborted", "module", t.key.module, "op", t.op,
		"worker", t.worker.id, "policy", p.policy)
	return &StateChangeError{Module: t.key.module, Op: t.op, Err: cause}
}

// PoolStats is a snapshot of the pool.
type PoolStats struct {
	Workers int
	Idle    int
	Queued  int
	Running int
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{Workers: p.active, Idle: len(p.idle)}
	for _, q := range p.queues {
		s.Queued += len(q.tasks)
		if q.running != nil {
			s.Running++
		}
	}
	return s
}

// Close rejects new operations, fails queued ones and waits for running ones
// to finish or for ctx to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		for _, t := range q.tasks {
			t.err = ErrPoolClosed
			t.cancel()
			close(t.done)
		}
		q.tasks = nil
	}
	p.ready = nil
	close(p.quit)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lifecycle pool shutdown: %w", ctx.Err())
	}
}
