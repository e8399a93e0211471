package triage

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/xerrors"
)

var (
	// ErrInvalidTransition is returned when a case is asked to move along an
	// edge the state machine does not have, including any move out of a terminal state.
	ErrInvalidTransition = xerrors.New("invalid case transition")

	// ErrGateUnavailable means the human gate could not produce a verdict.
	ErrGateUnavailable = xerrors.New("human gate unavailable")

	// ErrInvalidVerdict means a verdict token was not APPROVE, BLOCK or REVERSED.
	ErrInvalidVerdict = xerrors.New("invalid verdict")

	// ErrReviewNotFound means no escalated case is waiting under the given id.
	ErrReviewNotFound = xerrors.New("review not found")

	// ErrServiceClosed is returned by Submit once the service is shutting down.
	ErrServiceClosed = xerrors.New("triage service closed")
)

// ReasoningError wraps a reasoning provider failure. It is case-fatal since
// there is no safe default recommendation.
type ReasoningError struct {
	Err error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("reasoning failed: %v", e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }

// IsReasoningError reports whether err is or wraps a *ReasoningError.
func IsReasoningError(err error) bool {
	var re *ReasoningError
	return errors.As(err, &re)
}

// ErrEmptyTransaction is returned when submitting a transaction with no fields.
var ErrEmptyTransaction = xerrors.New("transaction has no fields")
