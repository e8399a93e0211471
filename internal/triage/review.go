package triage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ReviewQueue is an asynchronous gate: each escalated case parks on its own
// channel until Resolve is called for it, so any number of cases can wait
// without holding up the rest.
type ReviewQueue struct {
	mu      sync.Mutex
	pending map[string]*pendingReview
	closed  bool
	done    chan struct{}

	// OnEnqueue, if set, is called after a case starts waiting.
	OnEnqueue func(ctx context.Context, c *Case)
}

type pendingReview struct {
	snapshot   *Case
	enqueuedAt time.Time
	verdict    chan Verdict
}

// PendingReview describes one case waiting on a reviewer.
type PendingReview struct {
	Case       *Case     `json:"case"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewReviewQueue creates an empty review queue.
func NewReviewQueue() *ReviewQueue {
	return &ReviewQueue{
		pending: make(map[string]*pendingReview),
		done:    make(chan struct{}),
	}
}

// AwaitVerdict implements Gate.
func (q *ReviewQueue) AwaitVerdict(ctx context.Context, c *Case) (Verdict, error) {
	p := &pendingReview{
		snapshot:   c.Clone(),
		enqueuedAt: time.Now(),
		verdict:    make(chan Verdict, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Verdict{}, fmt.Errorf("%w: review queue closed", ErrGateUnavailable)
	}
	q.pending[c.ID] = p
	q.mu.Unlock()

	if q.OnEnqueue != nil {
		q.OnEnqueue(ctx, p.snapshot.Clone())
	}

	select {
	case v := <-p.verdict:
		return v, nil
	case <-ctx.Done():
		q.remove(c.ID, p)
		return Verdict{}, fmt.Errorf("%w: %w", ErrGateUnavailable, ctx.Err())
	case <-q.done:
		return Verdict{}, fmt.Errorf("%w: review queue closed", ErrGateUnavailable)
	}
}

func (q *ReviewQueue) remove(id string, p *pendingReview) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.pending[id]; ok && cur == p {
		delete(q.pending, id)
	}
}

// Resolve hands a reviewer's decision to the waiting case.
func (q *ReviewQueue) Resolve(id string, d Decision, reviewer string) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVerdict, d)
	}

	q.mu.Lock()
	p, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrReviewNotFound, id)
	}

	p.verdict <- Verdict{Decision: d, Source: SourceReviewer, Reviewer: reviewer, DecidedAt: time.Now()}
	return nil
}

// Pending returns snapshots of waiting cases, oldest first.
func (q *ReviewQueue) Pending() []PendingReview {
	q.mu.Lock()
	out := make([]PendingReview, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, PendingReview{Case: p.snapshot.Clone(), EnqueuedAt: p.enqueuedAt})
	}
	q.mu.Unlock()

	slices.SortFunc(out, func(a, b PendingReview) int {
		return a.EnqueuedAt.Compare(b.EnqueuedAt)
	})
	return out
}

// Len returns the number of waiting cases.
func (q *ReviewQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close releases every waiting case with ErrGateUnavailable and rejects new ones.
func (q *ReviewQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	clear(q.pending)
	close(q.done)
}
