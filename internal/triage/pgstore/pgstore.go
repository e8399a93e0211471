// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists cases in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const caseColumns = `id, ticket, status, transaction, score, recommendation, escalated,
	verdict, resolution, error, created_at, completed_at, duration_s`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Get retrieves a case by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Case, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	c, err := scanCase(s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return c, c != nil, nil
}

// GetByTicket retrieves the case created for a submission ticket.
func (s *Store) GetByTicket(ctx context.Context, ticket string) (*triage.Case, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetByTicket", "SELECT")
	defer span.End()

	if ticket == "" {
		return nil, false, nil
	}
	c, err := scanCase(s.pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE ticket = $1 ORDER BY created_at DESC LIMIT 1`, ticket))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	return c, c != nil, nil
}

// Put inserts or updates a case.
func (s *Store) Put(ctx context.Context, c *triage.Case) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	if c.ID == "" {
		fail(span, triage.ErrMissingID)
		return triage.ErrMissingID
	}
	span.SetAttributes(attribute.String("warden.case.id", c.ID))

	args, err := caseArgs(c)
	if err != nil {
		fail(span, err)
		return err
	}

	query := `INSERT INTO cases (` + caseColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (id) DO UPDATE SET
		ticket         = EXCLUDED.ticket,
		status         = EXCLUDED.status,
		transaction    = EXCLUDED.transaction,
		score          = EXCLUDED.score,
		recommendation = EXCLUDED.recommendation,
		escalated      = EXCLUDED.escalated,
		verdict        = EXCLUDED.verdict,
		resolution     = EXCLUDED.resolution,
		error          = EXCLUDED.error,
		completed_at   = EXCLUDED.completed_at,
		duration_s     = EXCLUDED.duration_s`

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		err = fmt.Errorf("upsert case: %w", err)
		fail(span, err)
		return err
	}
	return nil
}

// ListByStatus returns up to limit cases in the given status, oldest first.
// A limit of zero or less returns all of them.
func (s *Store) ListByStatus(ctx context.Context, status triage.Status, limit int) ([]*triage.Case, error) {
	ctx, span := startSpan(ctx, "pgstore.ListByStatus", "SELECT")
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM cases WHERE status = $1 ORDER BY created_at, id`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("query cases: %w", err)
		fail(span, err)
		return nil, err
	}
	defer rows.Close()

	var out []*triage.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("iterate cases: %w", err)
		fail(span, err)
		return nil, err
	}
	return out, nil
}

func caseArgs(c *triage.Case) ([]any, error) {
	txJSON, err := json.Marshal(c.Transaction)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}
	scoreJSON, err := marshalOptional(c.Score)
	if err != nil {
		return nil, fmt.Errorf("marshal score: %w", err)
	}
	recJSON, err := marshalOptional(c.Recommendation)
	if err != nil {
		return nil, fmt.Errorf("marshal recommendation: %w", err)
	}
	verdictJSON, err := marshalOptional(c.Verdict)
	if err != nil {
		return nil, fmt.Errorf("marshal verdict: %w", err)
	}

	var completedAt *time.Time
	if !c.CompletedAt.IsZero() {
		completedAt = &c.CompletedAt
	}

	return []any{
		c.ID, c.Ticket, string(c.Status), txJSON, scoreJSON, recJSON, c.Escalated,
		verdictJSON, string(c.Resolution), c.Error, c.CreatedAt, completedAt, c.Duration,
	}, nil
}

// marshalOptional encodes v, mapping a nil pointer to SQL NULL.
func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalOptional[T any](b []byte) (*T, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// scanCase scans a single row into a triage.Case. Returns (nil, nil) when
// no row is found.
func scanCase(row pgx.Row) (*triage.Case, error) {
	var (
		c           triage.Case
		status      string
		resolution  string
		txJSON      []byte
		scoreJSON   []byte
		recJSON     []byte
		verdictJSON []byte
		completedAt *time.Time
	)

	err := row.Scan(
		&c.ID, &c.Ticket, &status, &txJSON, &scoreJSON, &recJSON, &c.Escalated,
		&verdictJSON, &resolution, &c.Error, &c.CreatedAt, &completedAt, &c.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	c.Status = triage.Status(status)
	c.Resolution = triage.Action(resolution)
	if completedAt != nil {
		c.CompletedAt = *completedAt
	}

	if err := json.Unmarshal(txJSON, &c.Transaction); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	if c.Score, err = unmarshalOptional[triage.Score](scoreJSON); err != nil {
		return nil, fmt.Errorf("unmarshal score: %w", err)
	}
	if c.Recommendation, err = unmarshalOptional[triage.Recommendation](recJSON); err != nil {
		return nil, fmt.Errorf("unmarshal recommendation: %w", err)
	}
	if c.Verdict, err = unmarshalOptional[triage.Verdict](verdictJSON); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}

	return &c, nil
}
