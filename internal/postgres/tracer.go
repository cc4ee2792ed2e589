package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var queryObserver atomic.Pointer[queryObserverHolder]

const (
	ctxKeySQL       ctxKey = "pgx.sql"
	ctxKeyArgs      ctxKey = "pgx.args"
	ctxKeyStart     ctxKey = "pgx.start"
	ctxKeyCaller    ctxKey = "db.caller"
	ctxKeyHandler   ctxKey = "db.handler"
	ctxKeyOperation ctxKey = "leadwatch.operation"
)

// Operation labels used when no HTTP method is in play.
const (
	OperationRun     = "pipeline_run"
	OperationUnknown = "unknown"
)

// slowQueryThreshold: successful queries faster than this are logged at
// info only when verbose query logging is on.
const slowQueryThreshold = 250 * time.Millisecond

var verboseQueries atomic.Bool

// context keys for query metadata.
type ctxKey string

type queryStatsKey struct{}

type queryObserverHolder struct{ QueryObserver }

// QueryStats accumulates database statistics for one unit of work (a
// pipeline run or an API request).
type QueryStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds a
// structured log line for slow or failed queries.
type loggingTracer struct {
	inner pgx.QueryTracer
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, route, outcome string, dur time.Duration) {
	f(ctx, operation, route, outcome, dur)
}

// AddQuery records a single query execution.
func (s *QueryStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// Snapshot returns the counters under lock.
func (s *QueryStats) Snapshot() (count int, total time.Duration, errs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.TotalDuration, s.ErrorCount
}

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

// SetVerboseQueries logs every query, not only slow and failed ones.
func SetVerboseQueries(on bool) {
	verboseQueries.Store(on)
}

// WithOperation labels queries issued under ctx: an HTTP method for API
// requests or OperationRun for pipeline runs.
func WithOperation(ctx context.Context, op string) context.Context {
	if op == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyOperation, op)
}

// NewQueryStatsContext returns a new context with empty QueryStats attached.
func NewQueryStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, queryStatsKey{}, &QueryStats{})
}

// QueryStatsFromContext extracts the QueryStats from the context, if present.
func QueryStatsFromContext(ctx context.Context) (*QueryStats, bool) {
	s, ok := ctx.Value(queryStatsKey{}).(*QueryStats)
	return s, ok
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

func operationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOperation).(string); ok {
		return v
	}
	return ""
}

func routePatternFromContext(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// wrapQueryTracer wraps an inner tracer with structured logging.
func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	if inner == nil {
		return loggingTracer{}
	}
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	start := time.Now()

	caller, handler := findDBCallerAndHandler()

	// inner tracer (otelpgx) creates its span first
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	ctx = context.WithValue(ctx, ctxKeySQL, data.SQL)
	ctx = context.WithValue(ctx, ctxKeyArgs, data.Args)
	ctx = context.WithValue(ctx, ctxKeyStart, start)
	if caller != "" {
		ctx = context.WithValue(ctx, ctxKeyCaller, caller)
	}
	if handler != "" {
		ctx = context.WithValue(ctx, ctxKeyHandler, handler)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, 3)
		if caller != "" {
			attrs = append(attrs, attribute.String("db.caller", caller))
		}
		if handler != "" {
			attrs = append(attrs, attribute.String("db.handler", handler))
		}
		if op := operationFromContext(ctx); op != "" {
			attrs = append(attrs, attribute.String("leadwatch.operation", op))
		}
		if len(attrs) > 0 {
			span.SetAttributes(attrs...)
		}
	}

	return ctx
}

func (t loggingTracer) TraceQueryEnd(
	ctx context.Context,
	conn *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	// inner first so spans are finished correctly
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	sql, _ := ctx.Value(ctxKeySQL).(string)
	args, _ := ctx.Value(ctxKeyArgs).([]any)
	start, _ := ctx.Value(ctxKeyStart).(time.Time)
	caller, _ := ctx.Value(ctxKeyCaller).(string)
	handler, _ := ctx.Value(ctxKeyHandler).(string)

	var dur time.Duration
	if !start.IsZero() {
		dur = time.Since(start)
	}

	if s, ok := QueryStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	if obs := getQueryObserver(); obs != nil && dur > 0 {
		op := operationFromContext(ctx)
		if op == "" {
			op = OperationUnknown
		}
		route := routePatternFromContext(ctx)
		if route == "" {
			route = "none"
		}
		obs.ObserveQuery(ctx, op, route, queryOutcome(data.Err), dur)
	}

	if !shouldLog(dur, data.Err) {
		return
	}

	L := log.FromContext(ctx)

	fields := []any{
		"db.statement", sql,
		"db.args", args,
		"db.duration", dur.Seconds(),
	}

	tag := strings.TrimSpace(data.CommandTag.String())
	if tag != "" {
		if parts := strings.Fields(tag); len(parts) > 0 {
			fields = append(fields, "db.operation.name", strings.ToUpper(parts[0]))
		}
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}
	if caller != "" {
		fields = append(fields, "db.caller", caller)
	}
	if handler != "" {
		fields = append(fields, "db.handler", handler)
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}

	if dur >= slowQueryThreshold {
		L.Warn(ctx, "slow db query", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

func queryOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func shouldLog(dur time.Duration, err error) bool {
	return err != nil || dur >= slowQueryThreshold || verboseQueries.Load()
}

// findDBCallerAndHandler walks the stack to find:
//   - caller: the store function actually issuing the query
//   - handler: the next meaningful frame above that (pipeline or API)
func findDBCallerAndHandler() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	gotCaller := false

	for {
		fr, more := frames.Next()
		if !more {
			break
		}

		fn := fr.Function

		if strings.HasPrefix(fn, "runtime.") ||
			strings.Contains(fn, "github.com/jackc/pgx/v5") ||
			strings.Contains(fn, "github.com/exaring/otelpgx") ||
			strings.Contains(fn, "loggingTracer.TraceQuery") {
			continue
		}

		short := shortenFuncName(fn)

		if !gotCaller {
			caller = short
			gotCaller = true
			continue
		}

		// skip other helpers inside the same store package
		if strings.Contains(fn, "github.com/linnemanlabs/leadwatch/internal/pipeline/pgstore.") ||
			strings.Contains(fn, "github.com/linnemanlabs/leadwatch/internal/postgres.") {
			continue
		}

		handler = short
		break
	}

	return caller, handler
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
