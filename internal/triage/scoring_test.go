package triage

import "testing"

func TestDegradedScore_Consistent(t *testing.T) {
	t.Parallel()

	s := DegradedScore("connection refused")
	if !s.Degraded || s.Probability != NeutralProbability {
		t.Fatalf("score = %+v, want degraded neutral probability", s)
	}
	if s.IsFraud != (s.Probability >= s.Threshold) {
		t.Errorf("is_fraud %v disagrees with probability %v >= threshold %v", s.IsFraud, s.Probability, s.Threshold)
	}
	if len(s.Features) != 0 {
		t.Errorf("features = %v, want none", s.Features)
	}
	if s.Reason != "connection refused" {
		t.Errorf("reason = %q", s.Reason)
	}
}
