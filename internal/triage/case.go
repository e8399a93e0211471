package triage

import (
	"fmt"
	"slices"
	"time"
)

// Case is one transaction's traversal of the triage state machine.
type Case struct {
	ID             string          `json:"id,omitempty"`
	Ticket         string          `json:"ticket,omitempty"`
	Status         Status          `json:"status"`
	Transaction    Transaction     `json:"transaction"`
	Score          *Score          `json:"score,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	Escalated      bool            `json:"escalated"`
	Verdict        *Verdict        `json:"verdict,omitempty"`
	Resolution     Action          `json:"resolution,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    time.Time       `json:"completed_at,omitempty"`
	Duration       float64         `json:"duration_seconds,omitempty"`
}

// NewCase returns a fresh case in StatusNew. It carries no id until scored.
func NewCase(tx Transaction) *Case {
	return &Case{
		Status:      StatusNew,
		Transaction: tx,
		CreatedAt:   time.Now(),
	}
}

func (c *Case) transitionErr(to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
}

// AttachScore moves NEW -> SCORED and assigns the case id exactly once.
func (c *Case) AttachScore(id string, s Score) error {
	if c.Status != StatusNew {
		return c.transitionErr(StatusScored)
	}
	if c.ID == "" {
		c.ID = id
	}
	c.Score = &s
	c.Status = StatusScored
	return nil
}

// AttachRecommendation moves SCORED -> REASONED.
func (c *Case) AttachRecommendation(r Recommendation) error {
	if c.Status != StatusScored || c.Score == nil {
		return c.transitionErr(StatusReasoned)
	}
	c.Recommendation = &r
	c.Status = StatusReasoned
	return nil
}

// Route moves a REASONED case to ESCALATED when the recommendation is BLOCK,
// otherwise straight to RESOLVED with the recommended action.
func (c *Case) Route() error {
	if c.Status != StatusReasoned || c.Recommendation == nil {
		return c.transitionErr(StatusEscalated)
	}
	if c.Recommendation.Action == ActionBlock {
		c.Status = StatusEscalated
		c.Escalated = true
		return nil
	}
	c.Resolution = c.Recommendation.Action
	c.finish(StatusResolved)
	return nil
}

// ApplyVerdict moves ESCALATED -> RESOLVED with the reviewer's decision.
func (c *Case) ApplyVerdict(v Verdict) error {
	if c.Status != StatusEscalated {
		return c.transitionErr(StatusResolved)
	}
	if !v.Decision.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVerdict, v.Decision)
	}
	c.Verdict = &v
	c.Resolution = v.Decision.Action()
	c.finish(StatusResolved)
	return nil
}

// Fail moves any non-terminal case to FAILED.
func (c *Case) Fail(err error) error {
	if c.Status.Terminal() {
		return c.transitionErr(StatusFailed)
	}
	if err != nil {
		c.Error = err.Error()
	}
	c.finish(StatusFailed)
	return nil
}

func (c *Case) finish(s Status) {
	c.Status = s
	c.CompletedAt = time.Now()
	c.Duration = c.CompletedAt.Sub(c.CreatedAt).Seconds()
}

// Outcome classifies a terminal case. Non-terminal cases have no outcome.
func (c *Case) Outcome() Outcome {
	switch c.Status {
	case StatusFailed:
		return OutcomeErrored
	case StatusResolved:
		if !c.Escalated {
			return OutcomeApproved
		}
		if c.Resolution == ActionBlock {
			return OutcomeAutoBlocked
		}
		return OutcomeHuman
	}
	return OutcomeNone
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Case) Clone() *Case {
	cp := *c
	if c.Score != nil {
		s := *c.Score
		s.Features = slices.Clone(c.Score.Features)
		cp.Score = &s
	}
	if c.Recommendation != nil {
		r := *c.Recommendation
		cp.Recommendation = &r
	}
	if c.Verdict != nil {
		v := *c.Verdict
		cp.Verdict = &v
	}
	return &cp
}
