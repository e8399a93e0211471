package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	CasesTotal      *prometheus.CounterVec
	CaseDuration    *prometheus.HistogramVec
	ScoringTotal    *prometheus.CounterVec
	ScoringDuration prometheus.Histogram
	ReasonTotal     *prometheus.CounterVec
	ReasonDuration  prometheus.Histogram
	EscalationTotal prometheus.Counter
	VerdictsTotal   *prometheus.CounterVec
	ReviewWait      prometheus.Histogram
	SubmitsTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_cases_total",
			Help: "Total cases by terminal status and outcome.",
		}, []string{"status", "outcome"}),
		CaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_case_duration_seconds",
			Help:    "Duration of case traversals in seconds, including human review.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 16), // 50ms .. ~27m
		}, []string{"status", "escalated"}),
		ScoringTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_scoring_calls_total",
			Help: "Total scoring calls by result.",
		}, []string{"result"}),
		ScoringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_scoring_duration_seconds",
			Help:    "Duration of scoring calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		}),
		ReasonTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_reasoning_calls_total",
			Help: "Total reasoning calls by recommended action or failure.",
		}, []string{"result"}),
		ReasonDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_reasoning_duration_seconds",
			Help:    "Duration of reasoning calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms .. ~51s
		}),
		EscalationTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_escalations_total",
			Help: "Total cases escalated to human review.",
		}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_verdicts_total",
			Help: "Total human gate verdicts by decision and source.",
		}, []string{"decision", "source"}),
		ReviewWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_review_wait_seconds",
			Help:    "Time escalated cases spent waiting on the human gate.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~4.5h
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_submits_total",
			Help: "Total transaction submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.CasesTotal,
		m.CaseDuration,
		m.ScoringTotal,
		m.ScoringDuration,
		m.ReasonTotal,
		m.ReasonDuration,
		m.EscalationTotal,
		m.VerdictsTotal,
		m.ReviewWait,
		m.SubmitsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnScore: func(degraded bool, duration float64) {
			result := "ok"
			if degraded {
				result = "degraded"
			}
			m.ScoringTotal.WithLabelValues(result).Inc()
			m.ScoringDuration.Observe(duration)
		},
		OnReason: func(action Action, failed bool, duration float64) {
			result := string(action)
			if failed {
				result = "error"
			}
			m.ReasonTotal.WithLabelValues(result).Inc()
			m.ReasonDuration.Observe(duration)
		},
		OnComplete: func(e *CompleteEvent) {
			escalated := "false"
			if e.Escalated {
				escalated = "true"
				m.EscalationTotal.Inc()
				m.ReviewWait.Observe(e.ReviewWait)
			}
			if e.Decision != "" {
				m.VerdictsTotal.WithLabelValues(string(e.Decision), string(e.Source)).Inc()
			}
			m.CasesTotal.WithLabelValues(string(e.Status), string(e.Outcome)).Inc()
			m.CaseDuration.WithLabelValues(string(e.Status), escalated).Observe(e.Duration)
		},
	}
}
