// Package pgstore provides a PostgreSQL implementation of pipeline.Store.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

var tracer = otel.Tracer("github.com/linnemanlabs/leadwatch/internal/pipeline/pgstore")

//go:embed schema.sql
var schema string

// Store persists trigger events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller
// owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
		attribute.String("db.collection.name", "trigger_events"),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Exists reports whether an event with the source URL is stored.
func (s *Store) Exists(ctx context.Context, sourceURL string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Exists", "SELECT")
	defer span.End()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM trigger_events WHERE source_url = $1)`,
		sourceURL,
	).Scan(&exists)
	if err != nil {
		return false, fail(span, fmt.Errorf("exists: %w", err))
	}
	return exists, nil
}

// Insert stores rec. A source URL that is already stored is left untouched
// and pipeline.ErrDuplicate is returned.
func (s *Store) Insert(ctx context.Context, rec *lead.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Insert", "INSERT")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO trigger_events (
			company_name, event_type, event_description, source_url, detected_at, company_url
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_url) DO NOTHING`,
		rec.CompanyName,
		string(rec.EventType),
		rec.EventDescription,
		rec.SourceURL,
		rec.DetectedAt.UTC(),
		rec.CompanyURL,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert: %w", err))
	}
	if tag.RowsAffected() == 0 {
		span.SetAttributes(attribute.Bool("leadwatch.duplicate", true))
		return pipeline.ErrDuplicate
	}
	return nil
}

// List returns up to limit events, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]lead.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query := `SELECT company_name, event_type, event_description, source_url, detected_at, company_url
		FROM trigger_events ORDER BY detected_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("list: %w", err))
	}

	out, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan: %w", err))
	}
	span.SetAttributes(attribute.Int("db.response.returned_rows", len(out)))
	return out, nil
}

func scanRecord(row pgx.CollectableRow) (lead.Record, error) {
	var (
		r         lead.Record
		eventType string
	)
	if err := row.Scan(
		&r.CompanyName,
		&eventType,
		&r.EventDescription,
		&r.SourceURL,
		&r.DetectedAt,
		&r.CompanyURL,
	); err != nil {
		return lead.Record{}, err
	}
	r.EventType = lead.Category(eventType)
	r.DetectedAt = r.DetectedAt.UTC()
	return r, nil
}
