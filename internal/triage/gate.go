package triage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Gate is the human-in-the-loop suspension point. AwaitVerdict blocks the
// calling case until an external actor supplies a verdict; it must not hold
// any lock shared with other cases while waiting.
type Gate interface {
	AwaitVerdict(ctx context.Context, c *Case) (Verdict, error)
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, c *Case) (Verdict, error)

// AwaitVerdict implements Gate.
func (f GateFunc) AwaitVerdict(ctx context.Context, c *Case) (Verdict, error) {
	return f(ctx, c)
}

// ScriptedGate answers escalations with canned decisions, in order. It never
// blocks and is meant for tests and unattended runs.
type ScriptedGate struct {
	mu        sync.Mutex
	decisions []Decision
	fallback  Decision
	calls     []string
}

// NewScriptedGate returns a gate that hands out decisions in sequence and
// reports ErrGateUnavailable once they run out.
func NewScriptedGate(decisions ...Decision) *ScriptedGate {
	return &ScriptedGate{decisions: decisions}
}

// AlwaysGate returns a gate that answers every escalation with d.
func AlwaysGate(d Decision) *ScriptedGate {
	return &ScriptedGate{fallback: d}
}

// AwaitVerdict implements Gate.
func (g *ScriptedGate) AwaitVerdict(_ context.Context, c *Case) (Verdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, c.ID)

	var d Decision
	switch {
	case len(g.decisions) > 0:
		d = g.decisions[0]
		g.decisions = g.decisions[1:]
	case g.fallback != "":
		d = g.fallback
	default:
		return Verdict{}, fmt.Errorf("%w: no scripted decision left for case %s", ErrGateUnavailable, c.ID)
	}

	return Verdict{Decision: d, Source: SourceReviewer, Reviewer: "scripted", DecidedAt: time.Now()}, nil
}

// Calls returns the ids of cases the gate was asked about, in order.
func (g *ScriptedGate) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}
