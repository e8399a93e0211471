package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// Triage holds the settings shared by the server and the batch runner:
// scoring service, decision policy, reasoning provider and case storage.
type Triage struct {
	ScoringURL             string
	ScoringTimeoutSeconds  int
	BreakerMaxFailures     int
	BreakerCooldownSeconds int
	DecisionThreshold      float64
	ClaudeAPIKey           string
	ClaudeModel            string
	ClaudeTimeoutSeconds   int
	DatabaseURL            string
	DBMaxConns             int
	DBSlowQueryMS          int
}

// RegisterFlags binds Triage fields to the given FlagSet with defaults inline
func (c *Triage) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ScoringURL, "scoring-url", "http://127.0.0.1:8000", "base URL of the fraud scoring service")
	fs.IntVar(&c.ScoringTimeoutSeconds, "scoring-timeout-seconds", 10, "timeout for a single scoring call (1..120)")
	fs.IntVar(&c.BreakerMaxFailures, "breaker-max-failures", 5, "consecutive scoring failures before the circuit opens (0 disables)")
	fs.IntVar(&c.BreakerCooldownSeconds, "breaker-cooldown-seconds", 30, "seconds the scoring circuit stays open before a probe (1..600)")
	fs.Float64Var(&c.DecisionThreshold, "decision-threshold", 0.5221, "fraud probability above which BLOCK is recommended (0..1, exclusive)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude reasoning provider (empty = template rationale)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model to use")
	fs.IntVar(&c.ClaudeTimeoutSeconds, "claude-timeout-seconds", 60, "timeout for a single reasoning call (1..600)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..1000)")
	fs.IntVar(&c.DBSlowQueryMS, "db-slow-query-ms", 250, "log queries slower than this at warn level (0 = log every query at info)")
}

// Validate checks the shared triage settings.
func (c *Triage) Validate() error {
	var errs []error

	if c.ScoringURL == "" {
		errs = append(errs, errors.New("SCORING_URL is required"))
	} else if u, err := url.Parse(c.ScoringURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid SCORING_URL %q (must be http(s)://host[:port])", c.ScoringURL))
	}
	if c.ScoringTimeoutSeconds <= 0 || c.ScoringTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid SCORING_TIMEOUT_SECONDS %d (must be 1..120)", c.ScoringTimeoutSeconds))
	}
	if c.BreakerMaxFailures < 0 {
		errs = append(errs, fmt.Errorf("invalid BREAKER_MAX_FAILURES %d (must be >= 0)", c.BreakerMaxFailures))
	}
	if c.BreakerCooldownSeconds <= 0 || c.BreakerCooldownSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid BREAKER_COOLDOWN_SECONDS %d (must be 1..600)", c.BreakerCooldownSeconds))
	}

	// threshold is a probability cut, 0 and 1 would make one action unreachable
	if !(c.DecisionThreshold > 0 && c.DecisionThreshold < 1) {
		errs = append(errs, fmt.Errorf("invalid DECISION_THRESHOLD %v (must be between 0 and 1, exclusive)", c.DecisionThreshold))
	}

	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.ClaudeTimeoutSeconds <= 0 || c.ClaudeTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid CLAUDE_TIMEOUT_SECONDS %d (must be 1..600)", c.ClaudeTimeoutSeconds))
	}

	if c.DBMaxConns <= 0 || c.DBMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..1000)", c.DBMaxConns))
	}
	if c.DBSlowQueryMS < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.DBSlowQueryMS))
	}

	return errors.Join(errs...)
}

// Config adds server-specific configuration to Triage.
type Config struct {
	Triage

	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	SlackWebhookURL       string
	ReviewerToken         string
	ReviewTimeoutSeconds  int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	c.Triage.RegisterFlags(fs)
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalation notifications")
	fs.StringVar(&c.ReviewerToken, "reviewer-token", "", "bearer token for the review endpoints (empty = reviews disabled)")
	fs.IntVar(&c.ReviewTimeoutSeconds, "review-timeout-seconds", 0, "seconds an escalated case waits for a verdict before it is blocked (0 = wait forever)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Triage.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ReviewTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid REVIEW_TIMEOUT_SECONDS %d (must be >= 0)", c.ReviewTimeoutSeconds))
	}

	return errors.Join(errs...)
}

// Batch adds batch-runner configuration to Triage.
type Batch struct {
	Triage

	DataPath         string
	Samples          int
	Skip             int
	MaxSkip          int
	Concurrency      int
	Interactive      bool
	AutoDecision     string
	WaitReadySeconds int
}

// RegisterFlags binds Batch fields to the given FlagSet with defaults inline
func (c *Batch) RegisterFlags(fs *flag.FlagSet) {
	c.Triage.RegisterFlags(fs)
	fs.StringVar(&c.DataPath, "data", "data/fraudTest.csv", "path to the labelled transaction CSV")
	fs.IntVar(&c.Samples, "samples", 30, "number of transactions to triage (1..100000)")
	fs.IntVar(&c.Skip, "skip", -1, "data rows to skip (-1 = random offset below max-skip)")
	fs.IntVar(&c.MaxSkip, "max-skip", 556000, "upper bound for the random row offset")
	fs.IntVar(&c.Concurrency, "concurrency", 1, "cases in flight (1 = sequential, required for interactive review)")
	fs.BoolVar(&c.Interactive, "interactive", true, "prompt on the console for escalated cases")
	fs.StringVar(&c.AutoDecision, "auto-decision", "BLOCK", "decision applied to escalations when not interactive (APPROVE or BLOCK)")
	fs.IntVar(&c.WaitReadySeconds, "wait-ready-seconds", 30, "seconds to wait for the scoring service to come up (0 = do not wait)")
}

// Validate checks all batch configuration fields for correctness.
func (c *Batch) Validate() error {
	var errs []error
	if err := c.Triage.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.DataPath == "" {
		errs = append(errs, errors.New("DATA is required"))
	}
	if c.Samples <= 0 || c.Samples > 100000 {
		errs = append(errs, fmt.Errorf("invalid SAMPLES %d (must be 1..100000)", c.Samples))
	}
	if c.Skip < -1 {
		errs = append(errs, fmt.Errorf("invalid SKIP %d (must be >= -1)", c.Skip))
	}
	if c.MaxSkip < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_SKIP %d (must be >= 0)", c.MaxSkip))
	}
	if c.Concurrency <= 0 || c.Concurrency > 256 {
		errs = append(errs, fmt.Errorf("invalid CONCURRENCY %d (must be 1..256)", c.Concurrency))
	}

	// the console can only prompt for one case at a time
	if c.Interactive && c.Concurrency > 1 {
		errs = append(errs, fmt.Errorf("CONCURRENCY %d requires INTERACTIVE=false", c.Concurrency))
	}
	if c.AutoDecision != "APPROVE" && c.AutoDecision != "BLOCK" {
		errs = append(errs, fmt.Errorf("invalid AUTO_DECISION %q (must be APPROVE or BLOCK)", c.AutoDecision))
	}
	if c.WaitReadySeconds < 0 || c.WaitReadySeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid WAIT_READY_SECONDS %d (must be 0..600)", c.WaitReadySeconds))
	}

	return errors.Join(errs...)
}
