package security

import (
	"context"
	"sync"
	"sync/atomic"
)

// Asker presents one confirmation request to a human and blocks until they
// decide. Implemented by channel surfaces.
type Asker interface {
	RequestConfirmation(ctx context.Context, req ConfirmationRequest) (Decision, error)
}

// AskerFunc adapts a function to the Asker interface.
type AskerFunc func(ctx context.Context, req ConfirmationRequest) (Decision, error)

func (f AskerFunc) RequestConfirmation(ctx context.Context, req ConfirmationRequest) (Decision, error) {
	return f(ctx, req)
}

type confirmOutcome struct {
	decision Decision
	err      error
}

type pendingConfirm struct {
	ctx      context.Context
	req      ConfirmationRequest
	once     sync.Once
	resolved atomic.Bool
	done     chan confirmOutcome
}

func (p *pendingConfirm) resolve(out confirmOutcome) {
	p.once.Do(func() {
		p.resolved.Store(true)
		p.done <- out
	})
}

// Queue serializes confirmation requests for one channel: exactly one is
// active at a time, the rest wait in arrival order, and none are dropped,
// timed out, or coalesced. Disconnect resolves everything to cancel.
type Queue struct {
	asker Asker

	mu      sync.Mutex
	waiting []*pendingConfirm
	current *pendingConfirm
	closed  bool
}

// NewQueue creates a Queue that presents requests through the given asker.
func NewQueue(asker Asker) *Queue {
	return &Queue{asker: asker}
}

// Request enqueues a confirmation request and suspends until it is resolved.
// Requests resolve strictly in FIFO order; a request issued behind others is
// shown only after each predecessor resolves. After Disconnect every request,
// queued or in flight, resolves to DecisionCancel.
func (q *Queue) Request(ctx context.Context, req ConfirmationRequest) (Decision, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return DecisionCancel, nil
	}
	p := &pendingConfirm{ctx: ctx, req: req, done: make(chan confirmOutcome, 1)}
	q.waiting = append(q.waiting, p)
	q.dispatchLocked()
	q.mu.Unlock()

	select {
	case out := <-p.done:
		return out.decision, out.err
	case <-ctx.Done():
		p.resolve(confirmOutcome{decision: DecisionCancel})
		return DecisionCancel, ctx.Err()
	}
}

// RequestConfirmation makes the queue itself an Asker, so it can stand in
// front of any surface that needs serialized prompts.
func (q *Queue) RequestConfirmation(ctx context.Context, req ConfirmationRequest) (Decision, error) {
	return q.Request(ctx, req)
}

// Disconnect resolves the active request and every queued request to cancel.
// The queue refuses further requests afterwards; no confirmation request may
// remain unresolved once its channel is gone.
func (q *Queue) Disconnect() {
	q.mu.Lock()
	q.closed = true
	pending := q.waiting
	q.waiting = nil
	current := q.current
	q.mu.Unlock()

	if current != nil {
		current.resolve(confirmOutcome{decision: DecisionCancel})
	}
	for _, p := range pending {
		p.resolve(confirmOutcome{decision: DecisionCancel})
	}
}

// dispatchLocked starts the next waiting request when none is active.
// Callers must hold q.mu.
func (q *Queue) dispatchLocked() {
	if q.closed || q.current != nil {
		return
	}
	// Skip requests already resolved while they waited (context cancelled).
	for len(q.waiting) > 0 {
		p := q.waiting[0]
		q.waiting = q.waiting[1:]
		if p.resolved.Load() {
			continue
		}
		q.current = p
		go q.present(p)
		return
	}
}

func (q *Queue) present(p *pendingConfirm) {
	decision, err := q.asker.RequestConfirmation(p.ctx, p.req)
	p.resolve(confirmOutcome{decision: decision, err: err})

	q.mu.Lock()
	if q.current == p {
		q.current = nil
	}
	q.dispatchLocked()
	q.mu.Unlock()
}
