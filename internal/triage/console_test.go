package triage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParseConsoleAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   Decision
		wantOK bool
	}{
		{"y", DecisionBlock, true},
		{" Y ", DecisionBlock, true},
		{"yes", DecisionBlock, true},
		{"BLOCK", DecisionBlock, true},
		{"n", DecisionReversed, true},
		{"no", DecisionReversed, true},
		{"REVERSED", DecisionReversed, true},
		{"MANUAL_OVERRIDE_REVERSED", DecisionReversed, true},
		{"OVERRIDE_APPROVE", DecisionApprove, true},
		{"APPROVE", DecisionApprove, true},
		{"", "", false},
		{"maybe", "", false},
		{"override_approve", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseConsoleAnswer(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseConsoleAnswer(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestConsoleGate_PromptsAndReprompts(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	g := NewConsoleGate(strings.NewReader("what\nn\n"), &out)

	c := escalatedCase(t, "case-42")
	c.Recommendation.Rationale = "merchant flagged"

	v, err := g.AwaitVerdict(context.Background(), c)
	if err != nil {
		t.Fatalf("AwaitVerdict: %v", err)
	}
	if v.Decision != DecisionReversed {
		t.Errorf("decision = %q, want %q", v.Decision, DecisionReversed)
	}

	s := out.String()
	for _, want := range []string{
		"HUMAN INTERVENTION REQUIRED (Case: case-42)",
		"AI Suggestion: BLOCK",
		"AI Reasoning: merchant flagged",
		`unrecognized answer "what"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
	if n := strings.Count(s, "Accept AI decision?"); n != 2 {
		t.Errorf("prompts = %d, want 2", n)
	}
}

func TestConsoleGate_EOFIsUnavailable(t *testing.T) {
	t.Parallel()

	g := NewConsoleGate(strings.NewReader(""), &bytes.Buffer{})
	_, err := g.AwaitVerdict(context.Background(), escalatedCase(t, "c"))
	if !errors.Is(err, ErrGateUnavailable) {
		t.Errorf("err = %v, want ErrGateUnavailable", err)
	}
}
