// Package claude implements the triage reasoning provider on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/llm/claude")

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = xerrors.New("claude returned no text content")

// Provider is a triage.Provider backed by Claude.
type Provider struct {
	client anthropic.Client
	model  string
}

// Options tunes the provider.
type Options struct {
	Model      string
	Timeout    time.Duration // per request; zero keeps the SDK default
	MaxRetries int           // zero keeps the SDK default
	BaseURL    string        // overrides the API endpoint, mostly for tests
}

// New creates a Claude provider. It returns nil without an API key.
func New(apiKey string, opts Options) *Provider {
	if apiKey == "" {
		return nil
	}
	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.Timeout > 0 {
		ro = append(ro, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.MaxRetries > 0 {
		ro = append(ro, option.WithMaxRetries(opts.MaxRetries))
	}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: anthropic.NewClient(ro...), model: model}
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Complete implements triage.Provider.
func (p *Provider) Complete(ctx context.Context, req *triage.ReasoningRequest) (*triage.ReasoningResponse, error) {
	ctx, span := tracer.Start(ctx, "claude.messages")
	defer span.End()
	span.SetAttributes(
		attribute.String("gen_ai.system", "anthropic"),
		attribute.String("gen_ai.request.model", p.model),
	)

	msg, err := p.client.Messages.New(ctx, toSDKParams(p.model, req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("claude messages: %w", err)
	}

	resp, err := fromSDKMessage(msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func toSDKParams(model string, req *triage.ReasoningRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = triage.ResponseTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// fromSDKMessage joins the text blocks of a response.
func fromSDKMessage(msg *anthropic.Message) (*triage.ReasoningResponse, error) {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return nil, ErrEmptyResponse
	}
	return &triage.ReasoningResponse{
		Text:  strings.Join(parts, "\n"),
		Model: string(msg.Model),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}
