package caseapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/triage"
)

const testToken = "reviewer-secret"

// mockService implements CaseService for testing.
type mockService struct {
	mu        sync.Mutex
	cases     map[string]*triage.Case
	pending   []triage.PendingReview
	submitted []triage.Transaction
	resolved  []string
	submitErr error
	getErr    error
}

func newMockService() *mockService {
	return &mockService{cases: make(map[string]*triage.Case)}
}

func (m *mockService) Submit(_ context.Context, tx triage.Transaction) (*triage.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	if tx.Len() == 0 {
		return nil, triage.ErrEmptyTransaction
	}
	m.submitted = append(m.submitted, tx)
	return &triage.SubmitResult{Ticket: fmt.Sprintf("tk-%d", len(m.submitted))}, nil
}

func (m *mockService) Get(_ context.Context, ref string) (*triage.Case, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	c, ok := m.cases[ref]
	return c, ok, nil
}

func (m *mockService) PendingReviews() []triage.PendingReview {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

func (m *mockService) Resolve(_ context.Context, id string, d triage.Decision, reviewer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !d.Valid() {
		return triage.ErrInvalidVerdict
	}
	if id != "c-escalated" {
		return triage.ErrReviewNotFound
	}
	m.resolved = append(m.resolved, fmt.Sprintf("%s:%s:%s", id, d, reviewer))
	return nil
}

func newTestRouter(t *testing.T, svc *mockService, token string) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(log.Nop(), svc, token).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func reviewerHeaders(name string) map[string]string {
	return map[string]string{
		"Authorization":       "Bearer " + testToken,
		authmw.ReviewerHeader: name,
	}
}

// New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newMockService(), "")
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil, "")
}

// Cases

func TestSubmitCase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid transaction", `{"amt": 9099.99, "category": "shopping_net", "is_fraud": 1}`, http.StatusAccepted},
		{"invalid json", `{bad`, http.StatusBadRequest},
		{"not an object", `[1, 2]`, http.StatusBadRequest},
		{"only label", `{"is_fraud": 1}`, http.StatusBadRequest},
		{"empty object", `{}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newMockService()
			rec := do(t, newTestRouter(t, svc, ""), http.MethodPost, "/api/v1/cases", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %q", ct)
			}
		})
	}
}

func TestSubmitCase_ResponseAndLabelStripped(t *testing.T) {
	t.Parallel()

	svc := newMockService()
	rec := do(t, newTestRouter(t, svc, ""), http.MethodPost, "/api/v1/cases", `{"amt": 5, "is_fraud": 1}`, nil)

	var resp submitResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ticket != "tk-1" || resp.StatusURL != "/api/v1/cases/tk-1" {
		t.Errorf("response = %+v", resp)
	}
	if _, ok := svc.submitted[0].Get(triage.LabelField); ok {
		t.Error("label reached the service")
	}
}

func TestSubmitCase_ServiceError(t *testing.T) {
	t.Parallel()

	svc := newMockService()
	svc.submitErr = errors.New("boom")
	rec := do(t, newTestRouter(t, svc, ""), http.MethodPost, "/api/v1/cases", `{"amt": 1}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestSubmitCase_ShuttingDown(t *testing.T) {
	t.Parallel()

	svc := newMockService()
	svc.submitErr = fmt.Errorf("submit: %w", triage.ErrServiceClosed)
	rec := do(t, newTestRouter(t, svc, ""), http.MethodPost, "/api/v1/cases", `{"amt": 1}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGetCase(t *testing.T) {
	t.Parallel()

	svc := newMockService()
	c := triage.NewCase(triage.NewTransaction(map[string]any{"amt": 3.0}))
	_ = c.AttachScore("c-1", triage.Score{Probability: 0.2})
	svc.cases["c-1"] = c
	r := newTestRouter(t, svc, "")

	rec := do(t, r, http.MethodGet, "/api/v1/cases/c-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != "c-1" || got["status"] != string(triage.StatusScored) {
		t.Errorf("body = %v", got)
	}

	if rec := do(t, r, http.MethodGet, "/api/v1/cases/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

func TestGetCase_StoreError(t *testing.T) {
	t.Parallel()

	svc := newMockService()
	svc.getErr = errors.New("db down")
	rec := do(t, newTestRouter(t, svc, ""), http.MethodGet, "/api/v1/cases/x", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newMockService(), "")
	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		if rec := do(t, r, m, "/api/v1/cases", "", nil); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s /api/v1/cases = %d, want 405", m, rec.Code)
		}
	}
}

// Reviews

func TestReviews_DisabledWithoutToken(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, newMockService(), "")
	if rec := do(t, r, http.MethodGet, "/api/v1/reviews", "", reviewerHeaders("alice")); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when review endpoints are disabled", rec.Code)
	}
}

func TestListReviews(t *testing.T) {
	t.Parallel()

	svc := newMockService()
	c := triage.NewCase(triage.NewTransaction(map[string]any{"amt": 3.0}))
	_ = c.AttachScore("c-escalated", triage.Score{Probability: 0.9})
	svc.pending = []triage.PendingReview{{Case: c, EnqueuedAt: time.Now()}}
	r := newTestRouter(t, svc, testToken)

	if rec := do(t, r, http.MethodGet, "/api/v1/reviews", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	rec := do(t, r, http.MethodGet, "/api/v1/reviews", "", map[string]string{"Authorization": "Bearer " + testToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got struct {
		Reviews []struct {
			Case struct {
				ID string `json:"id"`
			} `json:"case"`
		} `json:"reviews"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Reviews) != 1 || got.Reviews[0].Case.ID != "c-escalated" {
		t.Errorf("reviews = %+v", got)
	}
}

func TestVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		id         string
		body       string
		headers    map[string]string
		wantStatus int
	}{
		{"accepted", "c-escalated", `{"verdict": "REVERSED"}`, reviewerHeaders("alice"), http.StatusOK},
		{"invalid verdict", "c-escalated", `{"verdict": "MAYBE"}`, reviewerHeaders("alice"), http.StatusBadRequest},
		{"invalid json", "c-escalated", `{`, reviewerHeaders("alice"), http.StatusBadRequest},
		{"unknown case", "c-other", `{"verdict": "BLOCK"}`, reviewerHeaders("alice"), http.StatusNotFound},
		{"no token", "c-escalated", `{"verdict": "BLOCK"}`, map[string]string{authmw.ReviewerHeader: "alice"}, http.StatusUnauthorized},
		{"no reviewer", "c-escalated", `{"verdict": "BLOCK"}`, map[string]string{"Authorization": "Bearer " + testToken}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newMockService()
			rec := do(t, newTestRouter(t, svc, testToken), http.MethodPost, "/api/v1/reviews/"+tt.id+"/verdict", tt.body, tt.headers)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus == http.StatusOK {
				if len(svc.resolved) != 1 || svc.resolved[0] != "c-escalated:REVERSED:alice" {
					t.Errorf("resolved = %v", svc.resolved)
				}
			}
		})
	}
}
