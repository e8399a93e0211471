// Package slack sends case notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/triage"
)

const (
	maxRationaleLen = 3000
	httpTimeout     = 10 * time.Second
)

// Notifier posts escalations and resolutions to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, every call is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// NotifyEscalation announces a case waiting on a reviewer.
func (n *Notifier) NotifyEscalation(ctx context.Context, c *triage.Case) error {
	return n.post(ctx, c.ID, escalationMessage(c))
}

// NotifyResolution announces a terminal case. Cleanly approved cases are not
// posted; only failures and cases that went through review are.
func (n *Notifier) NotifyResolution(ctx context.Context, c *triage.Case) error {
	if c.Status == triage.StatusResolved && !c.Escalated {
		return nil
	}
	return n.post(ctx, c.ID, resolutionMessage(c))
}

func (n *Notifier) post(ctx context.Context, caseID string, msg map[string]any) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack notification sent", "case_id", caseID)
	return nil
}

func escalationMessage(c *triage.Case) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			header(fmt.Sprintf("\U0001f7e0 Review required: case %s", c.ID)),
			{"type": "divider"},
			fieldsBlock(c),
			{"type": "divider"},
			rationaleBlock(c),
			contextBlock(c),
		},
	}
}

func resolutionMessage(c *triage.Case) map[string]any {
	var title string
	switch c.Outcome() {
	case triage.OutcomeErrored:
		title = fmt.Sprintf("\U0001f534 Case failed: %s", c.ID)
	case triage.OutcomeAutoBlocked:
		title = fmt.Sprintf("\U0001f6d1 Block confirmed: %s", c.ID)
	default:
		title = fmt.Sprintf("\U0001f7e2 Block overturned: %s", c.ID)
	}

	blocks := []map[string]any{
		header(title),
		{"type": "divider"},
		fieldsBlock(c),
	}
	if c.Error != "" {
		blocks = append(blocks, section(fmt.Sprintf("*Error*\n```%s```", truncate(c.Error, maxRationaleLen))))
	}
	blocks = append(blocks, contextBlock(c))

	return map[string]any{"blocks": blocks}
}

func header(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{"type": "plain_text", "text": text},
	}
}

func section(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func mrkdwn(format string, args ...any) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf(format, args...)}
}

func fieldsBlock(c *triage.Case) map[string]any {
	fields := []map[string]any{
		mrkdwn("*Status:* %s", c.Status),
	}
	if amt, ok := c.Transaction.Amount(); ok {
		fields = append(fields, mrkdwn("*Amount:* $%.2f", amt))
	}
	if c.Score != nil {
		score := fmt.Sprintf("%.2f%%", c.Score.Probability*100)
		if c.Score.Degraded {
			score += " (degraded)"
		}
		fields = append(fields, mrkdwn("*Score:* %s", score))
	}
	if c.Recommendation != nil {
		fields = append(fields, mrkdwn("*Suggested:* %s", c.Recommendation.Action))
	}
	if c.Verdict != nil {
		who := c.Verdict.Reviewer
		if who == "" {
			who = string(c.Verdict.Source)
		}
		fields = append(fields, mrkdwn("*Verdict:* %s by %s", c.Verdict.Decision, who))
	}
	if c.Resolution != "" {
		fields = append(fields, mrkdwn("*Resolution:* %s", c.Resolution))
	}

	return map[string]any{"type": "section", "fields": fields}
}

func rationaleBlock(c *triage.Case) map[string]any {
	text := ""
	if c.Recommendation != nil {
		text = truncate(c.Recommendation.Rationale, maxRationaleLen)
	}
	if text == "" {
		text = "_No rationale available._"
	}
	return section("*Rationale*\n\n" + text)
}

func contextBlock(c *triage.Case) map[string]any {
	ts := c.CompletedAt
	if ts.IsZero() {
		ts = c.CreatedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			mrkdwn("warden • case %s • %s", c.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
