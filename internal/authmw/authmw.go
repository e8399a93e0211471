// Package authmw guards the review endpoints: a shared bearer token proves the
// caller may submit verdicts, and a reviewer header names who did.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"
)

// ReviewerHeader carries the reviewer identity recorded on verdicts.
const ReviewerHeader = "X-Reviewer"

type reviewerKey struct{}

// reviewerRe bounds reviewer names to something safe to log and store.
var reviewerRe = regexp.MustCompile(`^[A-Za-z0-9._@+-]{1,64}$`)

// BearerToken returns middleware that requires an Authorization header with a
// Bearer token equal to token. Comparison is constant time.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Reviewer returns middleware that requires a well-formed ReviewerHeader and
// stores it in the request context.
func Reviewer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := strings.TrimSpace(r.Header.Get(ReviewerHeader))
			if name == "" {
				writeError(w, http.StatusBadRequest, "missing "+ReviewerHeader+" header")
				return
			}
			if !reviewerRe.MatchString(name) {
				writeError(w, http.StatusBadRequest, "invalid "+ReviewerHeader+" header")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithReviewer(r.Context(), name)))
		})
	}
}

// WithReviewer returns a context carrying the reviewer name.
func WithReviewer(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, reviewerKey{}, name)
}

// ReviewerFromContext returns the reviewer stored by Reviewer, if any.
func ReviewerFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(reviewerKey{}).(string)
	return name, ok && name != ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
