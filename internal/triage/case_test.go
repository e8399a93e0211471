package triage

import (
	"errors"
	"testing"
)

func TestNewCase_NoIDBeforeScoring(t *testing.T) {
	t.Parallel()

	c := NewCase(testTx())
	if c.ID != "" {
		t.Errorf("ID = %q, want empty before scoring", c.ID)
	}
	if c.Status != StatusNew {
		t.Errorf("Status = %q, want %q", c.Status, StatusNew)
	}
	if c.Outcome() != OutcomeNone {
		t.Errorf("Outcome = %q, want none", c.Outcome())
	}
}

func TestCase_IDAssignedOnce(t *testing.T) {
	t.Parallel()

	c := NewCase(testTx())
	if err := c.AttachScore("first", Score{Probability: 0.2}); err != nil {
		t.Fatalf("AttachScore: %v", err)
	}
	if err := c.AttachScore("second", Score{Probability: 0.9}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second AttachScore err = %v, want ErrInvalidTransition", err)
	}
	if c.ID != "first" {
		t.Errorf("ID = %q, want %q", c.ID, "first")
	}
	if c.Score.Probability != 0.2 {
		t.Errorf("score overwritten: %v", c.Score.Probability)
	}
}

func TestCase_ReasonRequiresScore(t *testing.T) {
	t.Parallel()

	c := NewCase(testTx())
	err := c.AttachRecommendation(Recommendation{Action: ActionApprove})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if c.Status != StatusNew {
		t.Errorf("Status = %q, want %q", c.Status, StatusNew)
	}
}

func TestCase_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		action     Action
		verdict    *Verdict
		wantStatus Status
		wantEsc    bool
		wantRes    Action
	}{
		{"approve auto resolves", ActionApprove, nil, StatusResolved, false, ActionApprove},
		{"block escalates", ActionBlock, nil, StatusEscalated, true, ""},
		{"block confirmed", ActionBlock, &Verdict{Decision: DecisionBlock}, StatusResolved, true, ActionBlock},
		{"block reversed", ActionBlock, &Verdict{Decision: DecisionReversed}, StatusResolved, true, ActionApprove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewCase(testTx())
			if err := c.AttachScore("id", Score{Probability: 0.5}); err != nil {
				t.Fatal(err)
			}
			if err := c.AttachRecommendation(Recommendation{Action: tt.action}); err != nil {
				t.Fatal(err)
			}
			if err := c.Route(); err != nil {
				t.Fatal(err)
			}
			if tt.verdict != nil {
				if err := c.ApplyVerdict(*tt.verdict); err != nil {
					t.Fatal(err)
				}
			}
			if c.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", c.Status, tt.wantStatus)
			}
			if c.Escalated != tt.wantEsc {
				t.Errorf("Escalated = %v, want %v", c.Escalated, tt.wantEsc)
			}
			if c.Resolution != tt.wantRes {
				t.Errorf("Resolution = %q, want %q", c.Resolution, tt.wantRes)
			}
			if (c.Verdict != nil) != (tt.verdict != nil) {
				t.Errorf("Verdict presence = %v, want %v", c.Verdict != nil, tt.verdict != nil)
			}
		})
	}
}

func TestCase_VerdictOnlyWhenEscalated(t *testing.T) {
	t.Parallel()

	c := NewCase(testTx())
	_ = c.AttachScore("id", Score{Probability: 0.1})
	_ = c.AttachRecommendation(Recommendation{Action: ActionApprove})
	_ = c.Route()

	if err := c.ApplyVerdict(Verdict{Decision: DecisionBlock}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if c.Verdict != nil {
		t.Error("verdict set on non-escalated case")
	}
}

func TestCase_TerminalIsFinal(t *testing.T) {
	t.Parallel()

	c := NewCase(testTx())
	_ = c.AttachScore("id", Score{Probability: 0.1})
	_ = c.AttachRecommendation(Recommendation{Action: ActionApprove})
	_ = c.Route()

	if err := c.AttachScore("other", Score{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("AttachScore on resolved: %v", err)
	}
	if err := c.AttachRecommendation(Recommendation{Action: ActionBlock}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("AttachRecommendation on resolved: %v", err)
	}
	if err := c.Fail(errors.New("late")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fail on resolved: %v", err)
	}
	if c.Status != StatusResolved || c.Recommendation.Action != ActionApprove {
		t.Errorf("terminal case mutated: %+v", c)
	}
}

func TestCase_ApplyVerdictRejectsUnknownDecision(t *testing.T) {
	t.Parallel()

	c := NewCase(testTx())
	_ = c.AttachScore("id", Score{Probability: 0.9})
	_ = c.AttachRecommendation(Recommendation{Action: ActionBlock})
	_ = c.Route()

	if err := c.ApplyVerdict(Verdict{Decision: "MANUAL_OVERRIDE"}); !errors.Is(err, ErrInvalidVerdict) {
		t.Fatalf("err = %v, want ErrInvalidVerdict", err)
	}
	if c.Status != StatusEscalated {
		t.Errorf("Status = %q, want still escalated", c.Status)
	}
}

func TestCase_CloneIsDeep(t *testing.T) {
	t.Parallel()

	c := NewCase(testTx())
	_ = c.AttachScore("id", Score{Probability: 0.9, Features: []string{"amt"}})
	_ = c.AttachRecommendation(Recommendation{Action: ActionBlock, Rationale: "r"})

	cp := c.Clone()
	cp.Score.Features[0] = "changed"
	cp.Recommendation.Rationale = "changed"

	if c.Score.Features[0] != "amt" || c.Recommendation.Rationale != "r" {
		t.Error("Clone shares pointers with the original")
	}
}

func TestDecision_Action(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    Decision
		want Action
	}{
		{DecisionBlock, ActionBlock},
		{DecisionApprove, ActionApprove},
		{DecisionReversed, ActionApprove},
	}
	for _, tt := range tests {
		if got := tt.d.Action(); got != tt.want {
			t.Errorf("%s.Action() = %q, want %q", tt.d, got, tt.want)
		}
	}
	if Decision("OTHER").Valid() {
		t.Error("unknown decision reported valid")
	}
}
