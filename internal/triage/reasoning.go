package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultDecisionThreshold is the probability above which a case is recommended for BLOCK.
const DefaultDecisionThreshold = 0.5221

// Provider is the interface for any natural-language reasoning backend.
type Provider interface {
	Complete(ctx context.Context, req *ReasoningRequest) (*ReasoningResponse, error)
}

// ReasoningRequest is the input to a reasoning provider.
type ReasoningRequest struct {
	MaxTokens int
	System    string
	Prompt    string
}

// ReasoningResponse is the free text returned by a reasoning provider.
type ReasoningResponse struct {
	Text  string
	Model string
	Usage Usage
}

// Usage reports token consumption of a single provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Reasoner recommends an action for a scored transaction.
type Reasoner interface {
	Reason(ctx context.Context, tx Transaction, probability float64) (Recommendation, error)
}

// ThresholdPolicy is the deterministic decision rule: BLOCK strictly above Threshold.
type ThresholdPolicy struct {
	Threshold float64
}

// Decide returns the recommended action for probability p.
func (p ThresholdPolicy) Decide(prob float64) Action {
	if prob > p.Threshold {
		return ActionBlock
	}
	return ActionApprove
}

// ResponseTokens bounds the rationale length requested from providers.
const ResponseTokens = 1024

// PolicyReasoner layers a provider's rationale on top of a ThresholdPolicy.
// The provider text is stored verbatim and never parsed.
type PolicyReasoner struct {
	policy   ThresholdPolicy
	provider Provider
}

// NewPolicyReasoner creates a reasoner deciding with policy and explaining with provider.
func NewPolicyReasoner(policy ThresholdPolicy, provider Provider) *PolicyReasoner {
	return &PolicyReasoner{policy: policy, provider: provider}
}

// Reason implements Reasoner. Provider failures are returned as *ReasoningError.
func (r *PolicyReasoner) Reason(ctx context.Context, tx Transaction, probability float64) (Recommendation, error) {
	action := r.policy.Decide(probability)

	resp, err := r.provider.Complete(ctx, &ReasoningRequest{
		MaxTokens: ResponseTokens,
		System:    systemPrompt,
		Prompt:    buildPrompt(tx, probability),
	})
	if err != nil {
		return Recommendation{}, &ReasoningError{Err: err}
	}
	if resp == nil {
		return Recommendation{}, &ReasoningError{Err: fmt.Errorf("empty provider response")}
	}

	return Recommendation{Action: action, Rationale: strings.TrimSpace(resp.Text)}, nil
}

const systemPrompt = `You are Warden, a fraud analyst assistant. You review card transactions
together with a model-produced fraud probability and explain the risk in a few
sentences for a human reviewer. Mention the signals that stand out (amount,
merchant category, distance between cardholder and merchant, time of day).
Be concise and factual.`

func buildPrompt(tx Transaction, probability float64) string {
	fields, _ := json.MarshalIndent(tx, "", "  ")
	return fmt.Sprintf(`Analyze this fraud score: %.2f%%.

Transaction:
%s

Action: APPROVE/BLOCK?`, probability*100, string(fields))
}

// TemplateProvider produces a fixed-form rationale without calling out. It is
// used when no LLM backend is configured.
type TemplateProvider struct {
	Policy ThresholdPolicy
}

// Complete implements Provider.
func (p TemplateProvider) Complete(_ context.Context, req *ReasoningRequest) (*ReasoningResponse, error) {
	return &ReasoningResponse{
		Text:  fmt.Sprintf("automated rationale unavailable; decision threshold %.4f applied. %s", p.Policy.Threshold, firstLine(req.Prompt)),
		Model: "template",
	}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
