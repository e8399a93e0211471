package caseapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/triage"
)

type submitResponse struct {
	Ticket    string `json:"ticket"`
	StatusURL string `json:"status_url"`
}

func (a *API) handleSubmitCase(w http.ResponseWriter, r *http.Request) {
	var tx triage.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := a.svc.Submit(r.Context(), tx)
	if err != nil {
		if errors.Is(err, triage.ErrEmptyTransaction) {
			writeError(w, http.StatusBadRequest, "transaction has no fields")
			return
		}
		if errors.Is(err, triage.ErrServiceClosed) {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		a.logger.Error(r.Context(), err, "failed to submit case")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("warden.case.ticket", res.Ticket))

	writeJSON(w, http.StatusAccepted, submitResponse{
		Ticket:    res.Ticket,
		StatusURL: "/api/v1/cases/" + res.Ticket,
	})
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.case.ref", id))

	c, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get case", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("warden.case.status", string(c.Status)))
	writeJSON(w, http.StatusOK, c)
}
