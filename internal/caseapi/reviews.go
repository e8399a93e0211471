package caseapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/triage"
)

type verdictRequest struct {
	Verdict triage.Decision `json:"verdict"`
}

type reviewsResponse struct {
	Reviews []triage.PendingReview `json:"reviews"`
}

func (a *API) handleListReviews(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, reviewsResponse{Reviews: a.svc.PendingReviews()})
}

func (a *API) handleVerdict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reviewer, _ := authmw.ReviewerFromContext(r.Context())

	var req verdictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("warden.case.id", id),
		attribute.String("warden.review.decision", string(req.Verdict)),
		attribute.String("warden.review.reviewer", reviewer),
	)

	err := a.svc.Resolve(r.Context(), id, req.Verdict, reviewer)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"case_id": id, "verdict": string(req.Verdict)})
	case errors.Is(err, triage.ErrInvalidVerdict):
		writeError(w, http.StatusBadRequest, "verdict must be APPROVE, BLOCK or REVERSED")
	case errors.Is(err, triage.ErrReviewNotFound):
		writeError(w, http.StatusNotFound, "no pending review for case")
	default:
		a.logger.Error(r.Context(), err, "failed to resolve review", "case_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
