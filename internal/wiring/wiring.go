// Package wiring builds the triage collaborators shared by the server and
// the batch runner from configuration.
package wiring

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/cfg"
	"github.com/linnemanlabs/warden/internal/llm/claude"
	"github.com/linnemanlabs/warden/internal/postgres"
	"github.com/linnemanlabs/warden/internal/resilience"
	"github.com/linnemanlabs/warden/internal/scoring"
	"github.com/linnemanlabs/warden/internal/triage"
	"github.com/linnemanlabs/warden/internal/triage/memstore"
	"github.com/linnemanlabs/warden/internal/triage/pgstore"
)

// NewScorer creates the scoring client, guarded by a circuit breaker unless
// BreakerMaxFailures is zero. A nil reg skips the breaker state gauge.
func NewScorer(tc *cfg.Triage, logger log.Logger, reg prometheus.Registerer) *scoring.Client {
	opts := scoring.Options{Timeout: time.Duration(tc.ScoringTimeoutSeconds) * time.Second}

	if tc.BreakerMaxFailures > 0 {
		b := resilience.NewBreaker(tc.BreakerMaxFailures, time.Duration(tc.BreakerCooldownSeconds)*time.Second)

		var gauge *prometheus.GaugeVec
		if reg != nil {
			gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "warden_scoring_breaker_state",
				Help: "Scoring circuit breaker position, 1 for the current state.",
			}, []string{"state"})
			reg.MustRegister(gauge)
			setBreakerGauge(gauge, resilience.StateClosed)
		}

		b.OnStateChange = func(from, to resilience.State) {
			logger.Warn(context.Background(), "scoring circuit breaker changed state", "from", from, "to", to)
			if gauge != nil {
				setBreakerGauge(gauge, to)
			}
		}
		opts.Breaker = b
	}

	return scoring.New(tc.ScoringURL, logger, opts)
}

func setBreakerGauge(g *prometheus.GaugeVec, current resilience.State) {
	for _, s := range []resilience.State{resilience.StateClosed, resilience.StateOpen, resilience.StateHalfOpen} {
		v := 0.0
		if s == current {
			v = 1
		}
		g.WithLabelValues(string(s)).Set(v)
	}
}

// NewReasoner creates the threshold-policy reasoner. Rationales come from
// Claude when an API key is configured and from a template otherwise. The
// returned name identifies the provider for logging.
func NewReasoner(tc *cfg.Triage) (*triage.PolicyReasoner, string) {
	policy := triage.ThresholdPolicy{Threshold: tc.DecisionThreshold}

	var provider triage.Provider = triage.TemplateProvider{Policy: policy}
	name := "template"
	if p := claude.New(tc.ClaudeAPIKey, claude.Options{
		Model:   tc.ClaudeModel,
		Timeout: time.Duration(tc.ClaudeTimeoutSeconds) * time.Second,
	}); p != nil {
		provider = p
		name = "claude"
	}
	return triage.NewPolicyReasoner(policy, provider), name
}

// OpenStore returns the postgres store when a database URL is configured and
// the in-memory store otherwise. The close function is always non-nil.
func OpenStore(ctx context.Context, tc *cfg.Triage, logger log.Logger) (triage.Store, func(), error) {
	if tc.DatabaseURL == "" {
		logger.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, tc.DatabaseURL, postgres.PoolOptions{
		MaxConns:  int32(tc.DBMaxConns), //nolint:gosec // bounded by cfg validation
		SlowQuery: time.Duration(tc.DBSlowQueryMS) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	logger.Info(ctx, "using postgres store", "max_conns", tc.DBMaxConns)
	return store, pool.Close, nil
}

// RegisterDBQueryMetrics registers the per-query duration histogram and
// installs it as the postgres query observer.
func RegisterDBQueryMetrics(reg prometheus.Registerer) {
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "origin", "operation", "outcome"})
	reg.MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, q postgres.QueryInfo) {
			dbQueryDuration.WithLabelValues(q.Method, q.Origin, q.Operation, q.Outcome).Observe(q.Duration.Seconds())
		},
	))
}
