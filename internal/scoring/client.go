// Package scoring is the HTTP client for the fraud inference service.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/resilience"
	"github.com/linnemanlabs/warden/internal/triage"
)

// PredictPath is the inference endpoint, relative to the service base URL.
const PredictPath = "/api/v1/predict"

const maxResponseBytes = 1 << 20

// ErrMalformedResponse marks a response that is missing fields or contradicts itself.
var ErrMalformedResponse = xerrors.New("malformed scoring response")

// Options tunes the scoring client.
type Options struct {
	// Timeout bounds a single predict call. Zero uses 10s.
	Timeout time.Duration

	// Breaker, if set, short-circuits to the degraded score while open.
	Breaker *resilience.Breaker

	// Transport overrides the base round tripper, mostly for tests.
	Transport http.RoundTripper
}

// Client scores transactions against the inference service. It never
// returns an error from Score: every failure becomes a degraded score.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	logger     log.Logger
}

// New creates a scoring client for the service at baseURL (scheme and host, no path).
func New(baseURL string, logger log.Logger, opts Options) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
		breaker: opts.Breaker,
		logger:  logger,
	}
}

// predictResponse uses pointers so absent fields are told apart from zero values.
type predictResponse struct {
	IsFraud     *bool     `json:"is_fraud"`
	Probability *float64  `json:"probability"`
	Threshold   *float64  `json:"threshold"`
	Features    *[]string `json:"features"`
}

// Score implements triage.Scorer.
func (c *Client) Score(ctx context.Context, tx triage.Transaction) (triage.Score, error) {
	var s triage.Score
	call := func() error {
		var err error
		s, err = c.predict(ctx, tx)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		c.logger.Warn(ctx, "scoring degraded", "error", err, "endpoint", c.baseURL+PredictPath)
		return triage.DegradedScore(err.Error()), nil
	}
	return s, nil
}

func (c *Client) predict(ctx context.Context, tx triage.Transaction) (triage.Score, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return triage.Score{}, fmt.Errorf("marshal transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PredictPath, bytes.NewReader(body))
	if err != nil {
		return triage.Score{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return triage.Score{}, fmt.Errorf("predict request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return triage.Score{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return triage.Score{}, fmt.Errorf("predict status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	return decode(raw)
}

// decode validates a predict response body.
func decode(raw []byte) (triage.Score, error) {
	var r predictResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return triage.Score{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var missing []string
	if r.IsFraud == nil {
		missing = append(missing, "is_fraud")
	}
	if r.Probability == nil {
		missing = append(missing, "probability")
	}
	if r.Threshold == nil {
		missing = append(missing, "threshold")
	}
	if r.Features == nil {
		missing = append(missing, "features")
	}
	if len(missing) > 0 {
		return triage.Score{}, fmt.Errorf("%w: missing %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}

	p, th := *r.Probability, *r.Threshold
	if !(p >= 0 && p <= 1) {
		return triage.Score{}, fmt.Errorf("%w: probability %v outside [0,1]", ErrMalformedResponse, p)
	}
	if *r.IsFraud != (p >= th) {
		return triage.Score{}, fmt.Errorf("%w: is_fraud=%v inconsistent with probability %v and threshold %v",
			ErrMalformedResponse, *r.IsFraud, p, th)
	}

	return triage.Score{
		Probability: p,
		Threshold:   th,
		IsFraud:     *r.IsFraud,
		Features:    *r.Features,
	}, nil
}

// WaitReady polls the service root until it answers 200, ctx is done, or
// timeout elapses.
func (c *Client) WaitReady(ctx context.Context, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if lastErr = c.ping(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("scoring service not ready: %w", errors.Join(ctx.Err(), lastErr))
		case <-ticker.C:
		}
	}
}

func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
