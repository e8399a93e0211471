package wiring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/cfg"
	"github.com/linnemanlabs/warden/internal/triage"
	"github.com/linnemanlabs/warden/internal/triage/memstore"
)

func testTriage(url string) *cfg.Triage {
	return &cfg.Triage{
		ScoringURL:             url,
		ScoringTimeoutSeconds:  1,
		BreakerMaxFailures:     1,
		BreakerCooldownSeconds: 60,
		DecisionThreshold:      0.5221,
		ClaudeModel:            "claude-sonnet-4-5",
		ClaudeTimeoutSeconds:   5,
		DBMaxConns:             2,
	}
}

func TestNewScorer_BreakerGauge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	s := NewScorer(testTriage(srv.URL), log.Nop(), reg)

	expected := `
# HELP warden_scoring_breaker_state Scoring circuit breaker position, 1 for the current state.
# TYPE warden_scoring_breaker_state gauge
warden_scoring_breaker_state{state="closed"} 1
warden_scoring_breaker_state{state="half_open"} 0
warden_scoring_breaker_state{state="open"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "warden_scoring_breaker_state"); err != nil {
		t.Fatal(err)
	}

	tx := triage.NewTransaction(map[string]any{"amt": 10.0})
	score, err := s.Score(context.Background(), tx)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !score.Degraded {
		t.Error("expected degraded score from failing service")
	}

	open := strings.Replace(strings.Replace(expected, `"closed"} 1`, `"closed"} 0`, 1), `"open"} 0`, `"open"} 1`, 1)
	if err := testutil.GatherAndCompare(reg, strings.NewReader(open), "warden_scoring_breaker_state"); err != nil {
		t.Fatal(err)
	}
}

func TestNewScorer_NoBreaker(t *testing.T) {
	t.Parallel()

	tc := testTriage("http://127.0.0.1:1")
	tc.BreakerMaxFailures = 0

	reg := prometheus.NewRegistry()
	if NewScorer(tc, log.Nop(), reg) == nil {
		t.Fatal("NewScorer returned nil")
	}
	if n, _ := testutil.GatherAndCount(reg); n != 0 {
		t.Errorf("registered %d metrics without a breaker", n)
	}
}

func TestNewReasoner(t *testing.T) {
	t.Parallel()

	tc := testTriage("http://127.0.0.1:1")
	r, name := NewReasoner(tc)
	if r == nil || name != "template" {
		t.Fatalf("NewReasoner without key = %v, %q", r, name)
	}

	rec, err := r.Reason(context.Background(), triage.NewTransaction(map[string]any{"amt": 1.0}), 0.9)
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if rec.Action != triage.ActionBlock {
		t.Errorf("action = %q, want BLOCK", rec.Action)
	}

	tc.ClaudeAPIKey = "sk-test"
	if _, name := NewReasoner(tc); name != "claude" {
		t.Errorf("name with key = %q, want claude", name)
	}
}

func TestOpenStore_Memory(t *testing.T) {
	t.Parallel()

	store, closeFn, err := OpenStore(context.Background(), testTriage("http://x"), log.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer closeFn()
	if _, ok := store.(*memstore.Store); !ok {
		t.Errorf("store = %T, want *memstore.Store", store)
	}
}

func TestOpenStore_BadURL(t *testing.T) {
	t.Parallel()

	tc := testTriage("http://x")
	tc.DatabaseURL = "postgres://%zz"
	if _, _, err := OpenStore(context.Background(), tc, log.Nop()); err == nil {
		t.Fatal("expected error for invalid database url")
	}
}

func TestRegisterDBQueryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterDBQueryMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	RegisterDBQueryMetrics(reg)
}
