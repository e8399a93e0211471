package triage

import "time"

// Status tracks where a case is in the triage state machine.
type Status string

const (
	// StatusNew means constructed, not yet scored
	StatusNew Status = "new"

	// StatusScored means a score (possibly degraded) is attached
	StatusScored Status = "scored"

	// StatusReasoned means a recommendation is attached
	StatusReasoned Status = "reasoned"

	// StatusEscalated means the case is waiting on a human verdict
	StatusEscalated Status = "escalated"

	// StatusResolved means finished with a final action
	StatusResolved Status = "resolved"

	// StatusFailed means finished without a safe resolution
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// Action is an automated recommendation or a final resolution.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionBlock   Action = "BLOCK"
)

// Decision is the verdict token a human reviewer supplies.
type Decision string

const (
	// DecisionApprove is an explicit approve override.
	DecisionApprove Decision = "APPROVE"

	// DecisionBlock confirms the automated block.
	DecisionBlock Decision = "BLOCK"

	// DecisionReversed means the reviewer disagreed and reversed the block.
	DecisionReversed Decision = "REVERSED"
)

// Valid reports whether d is one of the three verdict tokens.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionBlock, DecisionReversed:
		return true
	}
	return false
}

// Action maps a verdict to the action it resolves to. A reversal is an
// effectively approved outcome.
func (d Decision) Action() Action {
	if d == DecisionBlock {
		return ActionBlock
	}
	return ActionApprove
}

// VerdictSource records where a verdict came from.
type VerdictSource string

const (
	SourceReviewer VerdictSource = "reviewer"
	SourceTimeout  VerdictSource = "timeout"
)

// Score is the outcome of the scoring step.
type Score struct {
	Probability float64  `json:"probability"`
	Threshold   float64  `json:"threshold"`
	IsFraud     bool     `json:"is_fraud"`
	Features    []string `json:"features,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
	Reason      string   `json:"degraded_reason,omitempty"`
}

// Recommendation is the outcome of the reasoning step. Rationale is advisory
// text only; Action is owned by the decision policy.
type Recommendation struct {
	Action    Action `json:"action"`
	Rationale string `json:"rationale,omitempty"`
}

// Verdict is the human gate's answer for an escalated case.
type Verdict struct {
	Decision  Decision      `json:"decision"`
	Source    VerdictSource `json:"source"`
	Reviewer  string        `json:"reviewer,omitempty"`
	DecidedAt time.Time     `json:"decided_at"`
}

// Outcome classifies a terminal case for run statistics.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeApproved    Outcome = "approved"
	OutcomeAutoBlocked Outcome = "auto_blocked"
	OutcomeHuman       Outcome = "escalated_to_human"
	OutcomeErrored     Outcome = "errored"
)
