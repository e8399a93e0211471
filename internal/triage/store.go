package triage

import (
	"context"

	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrMissingID is returned when persisting a case that was never scored.
var ErrMissingID = xerrors.New("case has no id")

// Store is the persistence interface for case records. The engine itself
// keeps no history; stores hold snapshots written by the service and the
// orchestrator.
type Store interface {
	Get(ctx context.Context, id string) (*Case, bool, error)
	GetByTicket(ctx context.Context, ticket string) (*Case, bool, error)
	Put(ctx context.Context, c *Case) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Case, error)
}
