package triage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/triage")

// EngineOptions tunes the human gate step.
type EngineOptions struct {
	// ReviewTimeout bounds how long an escalated case waits on the gate.
	// Zero means wait until the context is done.
	ReviewTimeout time.Duration

	// TimeoutDecision is applied when ReviewTimeout expires. Defaults to BLOCK.
	TimeoutDecision Decision
}

// CompleteEvent carries the data emitted when a case reaches a terminal status.
type CompleteEvent struct {
	Status     Status
	Outcome    Outcome
	Degraded   bool
	Escalated  bool
	Decision   Decision
	Source     VerdictSource
	Duration   float64
	ReviewWait float64
}

// EngineHooks are optional callbacks for observability. Nil fields are skipped.
type EngineHooks struct {
	OnScore      func(degraded bool, duration float64)
	OnReason     func(action Action, failed bool, duration float64)
	OnEscalate   func(ctx context.Context, c *Case)
	OnTransition func(ctx context.Context, c *Case)
	OnComplete   func(e *CompleteEvent)
}

// Engine drives a single case through score, reason, route and review.
// It holds no per-case state and is safe for concurrent use.
type Engine struct {
	scorer   Scorer
	reasoner Reasoner
	gate     Gate
	logger   log.Logger
	hooks    EngineHooks
	opts     EngineOptions
	newID    func() string
}

// NewEngine creates a new triage engine with the given collaborators.
func NewEngine(scorer Scorer, reasoner Reasoner, gate Gate, logger log.Logger, hooks EngineHooks, opts EngineOptions) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.TimeoutDecision == "" {
		opts.TimeoutDecision = DecisionBlock
	}
	return &Engine{
		scorer:   scorer,
		reasoner: reasoner,
		gate:     gate,
		logger:   logger,
		hooks:    hooks,
		opts:     opts,
		newID:    func() string { return ulid.Make().String() },
	}
}

// Process creates a case for tx and drives it to a terminal status.
func (e *Engine) Process(ctx context.Context, tx Transaction) *Case {
	c := NewCase(tx)
	_ = e.Drive(ctx, c)
	return c
}

// Drive moves a NEW case to RESOLVED or FAILED. It returns ErrInvalidTransition
// for a case that has already left NEW; otherwise it returns the case-level
// failure, if any, which is also recorded on the case.
func (e *Engine) Drive(ctx context.Context, c *Case) (err error) {
	if c.Status != StatusNew {
		return fmt.Errorf("%w: case %s already %s", ErrInvalidTransition, c.ID, c.Status)
	}

	ctx, span := tracer.Start(ctx, "triage.case")
	defer span.End()

	var reviewWait float64
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in triage pipeline: %v", r)
			e.logger.Error(ctx, err, "recovered panic", "case_id", c.ID, "status", c.Status)
			_ = c.Fail(err)
			e.transition(ctx, c)
		}
		span.SetAttributes(
			attribute.String("warden.case.id", c.ID),
			attribute.String("warden.case.status", string(c.Status)),
			attribute.String("warden.case.outcome", string(c.Outcome())),
		)
		if c.Status == StatusFailed {
			span.SetStatus(codes.Error, c.Error)
		}
		e.complete(ctx, c, reviewWait)
	}()

	e.score(ctx, c)

	L := e.logger.With("case_id", c.ID)

	if err := e.reason(ctx, c); err != nil {
		L.Error(ctx, err, "reasoning failed, case cannot be resolved")
		_ = c.Fail(err)
		e.transition(ctx, c)
		return err
	}

	if err := c.Route(); err != nil {
		_ = c.Fail(err)
		e.transition(ctx, c)
		return err
	}
	e.transition(ctx, c)

	if !c.Escalated {
		return nil
	}

	L.Info(ctx, "case escalated to human review",
		"probability", c.Score.Probability,
		"degraded", c.Score.Degraded,
	)
	if e.hooks.OnEscalate != nil {
		e.hooks.OnEscalate(ctx, c.Clone())
	}

	start := time.Now()
	v, err := e.review(ctx, c)
	reviewWait = time.Since(start).Seconds()
	if err != nil {
		L.Error(ctx, err, "human gate failed")
		_ = c.Fail(err)
		e.transition(ctx, c)
		return err
	}

	if err := c.ApplyVerdict(v); err != nil {
		L.Error(ctx, err, "rejected verdict", "decision", v.Decision)
		_ = c.Fail(err)
		e.transition(ctx, c)
		return err
	}
	e.transition(ctx, c)
	return nil
}

func (e *Engine) score(ctx context.Context, c *Case) {
	ctx, span := tracer.Start(ctx, "triage.score")
	defer span.End()

	start := time.Now()
	s, err := e.scorer.Score(ctx, c.Transaction)
	if err != nil {
		e.logger.Warn(ctx, "scoring failed, using degraded score", "error", err)
		s = DegradedScore(err.Error())
	} else if math.IsNaN(s.Probability) || s.Probability < 0 || s.Probability > 1 {
		e.logger.Warn(ctx, "scorer returned probability out of range, using degraded score", "probability", s.Probability)
		s = DegradedScore(fmt.Sprintf("probability %v out of range", s.Probability))
	}
	dur := time.Since(start).Seconds()

	span.SetAttributes(
		attribute.Float64("warden.score.probability", s.Probability),
		attribute.Bool("warden.score.degraded", s.Degraded),
	)
	if e.hooks.OnScore != nil {
		e.hooks.OnScore(s.Degraded, dur)
	}

	// a fresh case is always NEW here
	_ = c.AttachScore(e.newID(), s)
	e.transition(ctx, c)
}

func (e *Engine) reason(ctx context.Context, c *Case) error {
	ctx, span := tracer.Start(ctx, "triage.reason")
	defer span.End()

	start := time.Now()
	rec, err := e.reasoner.Reason(ctx, c.Transaction, c.Score.Probability)
	if err == nil && rec.Action != ActionApprove && rec.Action != ActionBlock {
		err = &ReasoningError{Err: fmt.Errorf("unknown action %q", rec.Action)}
	}
	if e.hooks.OnReason != nil {
		e.hooks.OnReason(rec.Action, err != nil, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.String("warden.recommendation", string(rec.Action)))
	if err := c.AttachRecommendation(rec); err != nil {
		return err
	}
	e.transition(ctx, c)
	return nil
}

func (e *Engine) review(ctx context.Context, c *Case) (Verdict, error) {
	ctx, span := tracer.Start(ctx, "triage.review")
	defer span.End()

	if e.gate == nil {
		return Verdict{}, fmt.Errorf("%w: no gate configured", ErrGateUnavailable)
	}

	rctx := ctx
	if e.opts.ReviewTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.opts.ReviewTimeout)
		defer cancel()
	}

	v, err := e.gate.AwaitVerdict(rctx, c.Clone())
	if err != nil {
		if errors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			e.logger.Warn(ctx, "review timed out, applying timeout decision",
				"case_id", c.ID,
				"timeout", e.opts.ReviewTimeout.String(),
				"decision", e.opts.TimeoutDecision,
			)
			span.SetAttributes(attribute.Bool("warden.review.timed_out", true))
			return Verdict{Decision: e.opts.TimeoutDecision, Source: SourceTimeout, DecidedAt: time.Now()}, nil
		}
		if !errors.Is(err, ErrGateUnavailable) {
			err = fmt.Errorf("%w: %w", ErrGateUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Verdict{}, err
	}

	span.SetAttributes(attribute.String("warden.review.decision", string(v.Decision)))
	return v, nil
}

func (e *Engine) transition(ctx context.Context, c *Case) {
	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(ctx, c.Clone())
	}
}

func (e *Engine) complete(ctx context.Context, c *Case, reviewWait float64) {
	ev := &CompleteEvent{
		Status:     c.Status,
		Outcome:    c.Outcome(),
		Escalated:  c.Escalated,
		Duration:   c.Duration,
		ReviewWait: reviewWait,
	}
	if c.Score != nil {
		ev.Degraded = c.Score.Degraded
	}
	if c.Verdict != nil {
		ev.Decision = c.Verdict.Decision
		ev.Source = c.Verdict.Source
	}
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(ev)
	}

	e.logger.Info(ctx, "case complete",
		"case_id", c.ID,
		"status", c.Status,
		"outcome", ev.Outcome,
		"resolution", c.Resolution,
		"duration", c.Duration,
	)
}

// WithTransitionHook returns a copy of the engine that also calls fn after
// every transition, after any hook already configured.
func (e *Engine) WithTransitionHook(fn func(ctx context.Context, c *Case)) *Engine {
	cp := *e
	prev := e.hooks.OnTransition
	cp.hooks.OnTransition = func(ctx context.Context, c *Case) {
		if prev != nil {
			prev(ctx, c)
		}
		fn(ctx, c)
	}
	return &cp
}
