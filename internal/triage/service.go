package triage

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
)

// SubmitResult is the outcome of submitting a transaction for triage. The
// ticket identifies the submission; the case id is assigned once scored.
type SubmitResult struct {
	Ticket string `json:"ticket"`
}

// Notifier is told about escalations and terminal cases.
type Notifier interface {
	NotifyEscalation(ctx context.Context, c *Case) error
	NotifyResolution(ctx context.Context, c *Case) error
}

// Service is the business boundary for asynchronous triage: submission,
// lookup and human review through a ReviewQueue.
type Service struct {
	store    Store
	engine   *Engine
	queue    *ReviewQueue
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier

	mu       sync.Mutex
	accepted map[string]*Case // ticket -> snapshot, until the case is scored
	closed   bool
	wg       sync.WaitGroup // Add only under mu while !closed
}

// NewService creates a new triage service. The engine must use queue as its gate.
func NewService(store Store, engine *Engine, queue *ReviewQueue, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:    store,
		queue:    queue,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		accepted: make(map[string]*Case),
	}
	s.engine = engine.WithTransitionHook(s.persist)
	return s
}

// Submit accepts a transaction and triages it in the background.
func (s *Service) Submit(ctx context.Context, tx Transaction) (*SubmitResult, error) {
	if tx.Len() == 0 {
		s.countSubmit("rejected")
		return nil, ErrEmptyTransaction
	}

	ticket := ulid.Make().String()
	c := NewCase(tx)
	c.Ticket = ticket

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.countSubmit("rejected")
		return nil, ErrServiceClosed
	}
	s.accepted[ticket] = c.Clone()
	s.wg.Add(1)
	s.mu.Unlock()

	s.countSubmit("accepted")

	// the case owns its context from here on, a client disconnect must not abandon it
	go func() {
		defer s.wg.Done()
		_ = s.engine.Drive(context.WithoutCancel(ctx), c)
	}()

	return &SubmitResult{Ticket: ticket}, nil
}

// Get retrieves a case by case id or submission ticket.
func (s *Service) Get(ctx context.Context, ref string) (*Case, bool, error) {
	if c, ok, err := s.store.Get(ctx, ref); err != nil || ok {
		return c, ok, err
	}
	if c, ok, err := s.store.GetByTicket(ctx, ref); err != nil || ok {
		return c, ok, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.accepted[ref]; ok {
		return c.Clone(), true, nil
	}
	return nil, false, nil
}

// PendingReviews lists escalated cases waiting on a reviewer.
func (s *Service) PendingReviews() []PendingReview {
	return s.queue.Pending()
}

// Resolve supplies a reviewer verdict for an escalated case.
func (s *Service) Resolve(ctx context.Context, id string, d Decision, reviewer string) error {
	if err := s.queue.Resolve(id, d, reviewer); err != nil {
		return err
	}
	s.logger.Info(ctx, "verdict received", "case_id", id, "decision", d, "reviewer", reviewer)
	return nil
}

// Close rejects further submissions, releases every waiting review and waits
// for in-flight cases to reach a terminal status, or for ctx to be done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.queue.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight cases: %w", ctx.Err())
	}
}

func (s *Service) persist(ctx context.Context, c *Case) {
	L := s.logger.With("ticket", c.Ticket, "case_id", c.ID)

	if c.ID == "" {
		s.mu.Lock()
		s.accepted[c.Ticket] = c
		s.mu.Unlock()
		return
	}

	if err := s.store.Put(ctx, c); err != nil {
		L.Error(ctx, err, "failed to persist case", "status", c.Status)
	}

	s.mu.Lock()
	delete(s.accepted, c.Ticket)
	s.mu.Unlock()

	if s.notifier == nil {
		return
	}
	switch {
	case c.Status == StatusEscalated:
		if err := s.notifier.NotifyEscalation(ctx, c); err != nil {
			L.Error(ctx, err, "failed to send escalation notification")
		}
	case c.Status.Terminal():
		if err := s.notifier.NotifyResolution(ctx, c); err != nil {
			L.Error(ctx, err, "failed to send resolution notification")
		}
	}
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}
