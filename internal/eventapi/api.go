// Package eventapi serves persisted trigger events and pipeline run reports
// over HTTP, and lets an authenticated caller start an on-demand run.
package eventapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/leadwatch/internal/authmw"
	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunService defines the pipeline operations eventapi needs.
type RunService interface {
	Start(ctx context.Context) (string, error)
	Latest() (*pipeline.Report, bool)
	Running() bool
}

// EventLister reads persisted events, newest first.
type EventLister interface {
	List(ctx context.Context, limit int) ([]lead.Record, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      RunService
	events   EventLister
	apiToken string
}

// New creates a new API handler. events may be nil when persistence is
// disabled; apiToken guards POST /api/v1/runs.
func New(logger log.Logger, svc RunService, events EventLister, apiToken string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("run service is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		events:   events,
		apiToken: apiToken,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", a.handleListEvents)
		r.Get("/runs/latest", a.handleLatestRun)
		r.With(authmw.BearerToken(a.apiToken)).Post("/runs", a.handleStartRun)
	})
}

type eventsResponse struct {
	Events []lead.Record `json:"events"`
	Count  int           `json:"count"`
}

type latestResponse struct {
	Running bool             `json:"running"`
	Report  *pipeline.Report `json:"report"`
}

type startResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := a.events.List(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list events", "limit", limit)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []lead.Record{}
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("leadwatch.events.returned", len(recs)))

	writeJSON(w, http.StatusOK, eventsResponse{Events: recs, Count: len(recs)})
}

func (a *API) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	rep, ok := a.svc.Latest()
	if !ok {
		if a.svc.Running() {
			writeJSON(w, http.StatusOK, latestResponse{Running: true})
			return
		}
		writeJSONError(w, http.StatusNotFound, "no run has completed yet")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("leadwatch.run.id", rep.ID))

	writeJSON(w, http.StatusOK, latestResponse{Running: a.svc.Running(), Report: rep})
}

func (a *API) handleStartRun(w http.ResponseWriter, r *http.Request) {
	id, err := a.svc.Start(r.Context())
	if errors.Is(err, pipeline.ErrRunInProgress) {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to start run")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("leadwatch.run.id", id))
	a.logger.Info(r.Context(), "on-demand run started", "run_id", id)

	w.Header().Set("Location", "/api/v1/runs/latest")
	writeJSON(w, http.StatusAccepted, startResponse{ID: id, Status: "started"})
}

var errInvalidLimit = errors.New("limit must be an integer between 1 and 500")

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, errInvalidLimit
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
