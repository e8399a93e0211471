package triage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ConsoleGate prompts an operator on a terminal. Prompts are serialized so
// concurrent escalations never interleave on screen; cases that are not
// escalated keep flowing while one prompt is open.
type ConsoleGate struct {
	in  io.Reader
	out io.Writer

	mu    sync.Mutex
	once  sync.Once
	lines chan string
}

// NewConsoleGate creates a gate reading answers from in and writing prompts to out.
func NewConsoleGate(in io.Reader, out io.Writer) *ConsoleGate {
	return &ConsoleGate{in: in, out: out}
}

func (g *ConsoleGate) start() {
	g.lines = make(chan string)
	go func() {
		defer close(g.lines)
		sc := bufio.NewScanner(g.in)
		for sc.Scan() {
			g.lines <- sc.Text()
		}
	}()
}

// AwaitVerdict implements Gate.
func (g *ConsoleGate) AwaitVerdict(ctx context.Context, c *Case) (Verdict, error) {
	g.once.Do(g.start)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.printCase(c)
	for {
		_, _ = fmt.Fprint(g.out, "Accept AI decision? (y/n) or type 'OVERRIDE_APPROVE': ")

		select {
		case <-ctx.Done():
			return Verdict{}, fmt.Errorf("%w: %w", ErrGateUnavailable, ctx.Err())
		case line, ok := <-g.lines:
			if !ok {
				return Verdict{}, fmt.Errorf("%w: console input closed", ErrGateUnavailable)
			}
			d, ok := ParseConsoleAnswer(line)
			if !ok {
				_, _ = fmt.Fprintf(g.out, "unrecognized answer %q\n", line)
				continue
			}
			return Verdict{Decision: d, Source: SourceReviewer, Reviewer: "console", DecidedAt: time.Now()}, nil
		}
	}
}

func (g *ConsoleGate) printCase(c *Case) {
	bar := strings.Repeat("!", 30)
	_, _ = fmt.Fprintf(g.out, "\n%s\nHUMAN INTERVENTION REQUIRED (Case: %s)\n", bar, c.ID)
	if c.Recommendation != nil {
		_, _ = fmt.Fprintf(g.out, "AI Suggestion: %s\n", c.Recommendation.Action)
		_, _ = fmt.Fprintf(g.out, "AI Reasoning: %s\n", c.Recommendation.Rationale)
	}
	if c.Score != nil {
		_, _ = fmt.Fprintf(g.out, "Score: %.2f%%", c.Score.Probability*100)
		if c.Score.Degraded {
			_, _ = fmt.Fprint(g.out, " (degraded)")
		}
		_, _ = fmt.Fprintln(g.out)
	}
}

// ParseConsoleAnswer maps an operator answer to a verdict: "y" accepts the
// block, "n" reverses it, "OVERRIDE_APPROVE" approves. The verdict tokens
// themselves are accepted too.
func ParseConsoleAnswer(s string) (Decision, bool) {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, "y"), strings.EqualFold(s, "yes"), s == string(DecisionBlock):
		return DecisionBlock, true
	case strings.EqualFold(s, "n"), strings.EqualFold(s, "no"), s == string(DecisionReversed), s == "MANUAL_OVERRIDE_REVERSED":
		return DecisionReversed, true
	case s == "OVERRIDE_APPROVE", s == string(DecisionApprove):
		return DecisionApprove, true
	}
	return "", false
}
