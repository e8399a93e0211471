package triage

import "context"

// NeutralProbability is the "uncertain" probability substituted when scoring fails.
const NeutralProbability = 0.5

// Scorer sends a transaction to the fraud inference service. Implementations
// should return a degraded score rather than an error on transport or
// response failures; the engine degrades on error as well.
type Scorer interface {
	Score(ctx context.Context, tx Transaction) (Score, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, tx Transaction) (Score, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, tx Transaction) (Score, error) {
	return f(ctx, tx)
}

// DegradedScore returns the neutral fallback score with an empty feature snapshot.
// No model ran, so the threshold is the unreachable 1 and IsFraud stays false,
// which keeps IsFraud == (Probability >= Threshold) for stored cases.
func DegradedScore(reason string) Score {
	return Score{
		Probability: NeutralProbability,
		Threshold:   1,
		IsFraud:     false,
		Degraded:    true,
		Reason:      reason,
	}
}
