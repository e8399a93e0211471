// Package caseapi exposes case submission, lookup and human review over HTTP.
package caseapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/triage"
)

// CaseService defines the business operations caseapi needs.
type CaseService interface {
	Submit(ctx context.Context, tx triage.Transaction) (*triage.SubmitResult, error)
	Get(ctx context.Context, ref string) (*triage.Case, bool, error)
	PendingReviews() []triage.PendingReview
	Resolve(ctx context.Context, id string, d triage.Decision, reviewer string) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger        log.Logger
	svc           CaseService
	reviewerToken string
}

// New creates a new API handler. Review endpoints are only mounted when
// reviewerToken is set.
func New(logger log.Logger, svc CaseService, reviewerToken string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("case service is required"))
	}
	return &API{
		logger:        logger,
		svc:           svc,
		reviewerToken: reviewerToken,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/cases", a.handleSubmitCase)
		r.Get("/cases/{id}", a.handleGetCase)

		if a.reviewerToken == "" {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(authmw.BearerToken(a.reviewerToken))
			r.Get("/reviews", a.handleListReviews)
			r.With(authmw.Reviewer()).Post("/reviews/{id}/verdict", a.handleVerdict)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
