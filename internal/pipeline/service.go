package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/leadwatch/internal/extract"
	"github.com/linnemanlabs/leadwatch/internal/fetch"
	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/resolve"
	"github.com/linnemanlabs/leadwatch/internal/source"
	"github.com/linnemanlabs/leadwatch/internal/trigger"
)

var tracer = otel.Tracer("github.com/linnemanlabs/leadwatch/internal/pipeline")

// DefaultSourceDelay is the pause between consecutive sources.
const DefaultSourceDelay = 2 * time.Second

// ErrRunInProgress is returned when a run is requested while another one
// is still executing.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, r *Report) error
}

// Deps are the collaborators of a Service. Store and Notifier are optional:
// a nil Store disables persistence.
type Deps struct {
	Registry   *source.Registry
	Browser    fetch.Browser
	Classifier *trigger.Classifier
	Resolver   *resolve.Resolver
	Store      Store
	Notifier   Notifier

	// SourceDelay is the pause between sources. Zero selects
	// DefaultSourceDelay; a negative value disables pacing.
	SourceDelay time.Duration

	Hooks Hooks

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service executes pipeline runs, one at a time.
type Service struct {
	registry   *source.Registry
	browser    fetch.Browser
	classifier *trigger.Classifier
	resolver   *resolve.Resolver
	store      Store
	notifier   Notifier
	delay      time.Duration
	hooks      Hooks
	now        func() time.Time
	logger     log.Logger

	running atomic.Bool
	latest  atomic.Pointer[Report]
	wg      sync.WaitGroup
}

// NewService creates a pipeline service. Registry, Browser, Classifier and
// Resolver are required.
func NewService(d Deps, logger log.Logger) *Service {
	if d.Registry == nil {
		panic(xerrors.New("pipeline: source registry is required"))
	}
	if d.Browser == nil {
		panic(xerrors.New("pipeline: browser is required"))
	}
	if d.Classifier == nil {
		panic(xerrors.New("pipeline: classifier is required"))
	}
	if d.Resolver == nil {
		panic(xerrors.New("pipeline: resolver is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}

	delay := d.SourceDelay
	switch {
	case delay == 0:
		delay = DefaultSourceDelay
	case delay < 0:
		delay = 0
	}

	now := d.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		registry:   d.Registry,
		browser:    d.Browser,
		classifier: d.Classifier,
		resolver:   d.Resolver,
		store:      d.Store,
		notifier:   d.Notifier,
		delay:      delay,
		hooks:      d.Hooks,
		now:        now,
		logger:     logger,
	}
}

// PersistenceEnabled reports whether a store is configured.
func (s *Service) PersistenceEnabled() bool {
	return s.store != nil
}

// Running reports whether a run is executing.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Latest returns the report of the most recent finished run.
func (s *Service) Latest() (*Report, bool) {
	r := s.latest.Load()
	return r, r != nil
}

// Run executes one pipeline run and returns its report. It fails only with
// ErrRunInProgress; every other problem is recorded on the report.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	return s.execute(ctx, ulid.Make().String()), nil
}

// Start begins a run in the background and returns its ID. The run is
// detached from ctx cancellation; use Wait to block until it finishes.
func (s *Service) Start(ctx context.Context) (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}

	id := ulid.Make().String()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.execute(context.WithoutCancel(ctx), id)
	}()
	return id, nil
}

// Wait blocks until background runs started with Start have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) execute(ctx context.Context, id string) *Report {
	L := s.logger.With("run_id", id)
	ctx = log.WithContext(ctx, L)

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("leadwatch.run.id", id),
		attribute.Int("leadwatch.sources", s.registry.Len()),
	))
	defer span.End()

	rep := &Report{
		ID:                 id,
		StartedAt:          s.now().UTC(),
		PersistenceEnabled: s.store != nil,
	}

	L.Info(ctx, "pipeline run started", "sources", s.registry.Len())

	if err := s.collect(ctx, L, rep); err != nil {
		rep.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "failed to open fetch session")
	}

	switch {
	case s.store == nil:
		L.Warn(ctx, "store not configured, events not saved", "events", len(rep.Events))
	case len(rep.Events) > 0:
		rep.Persist = s.persist(ctx, L, rep.Events)
	}

	rep.FinishedAt = s.now().UTC()

	span.SetAttributes(
		attribute.Int("leadwatch.events", len(rep.Events)),
		attribute.Int("leadwatch.persist.inserted", rep.Persist.Inserted),
		attribute.Int("leadwatch.persist.duplicates", rep.Persist.Duplicates),
		attribute.Int("leadwatch.persist.failed", rep.Persist.Failed),
	)

	L.Info(ctx, "pipeline run complete",
		"duration", rep.Duration(),
		"events", len(rep.Events),
		"failed_sources", rep.FailedSources(),
		"inserted", rep.Persist.Inserted,
		"duplicates", rep.Persist.Duplicates,
		"persist_failed", rep.Persist.Failed,
	)

	s.latest.Store(rep)
	s.hooks.run(rep)

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, rep); err != nil {
			L.Error(ctx, err, "run notification failed")
		}
	}

	return rep
}

// collect walks every source with one fetch session. The session is closed
// before collect returns.
func (s *Service) collect(ctx context.Context, L log.Logger, rep *Report) error {
	sess, err := s.browser.Open(ctx)
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			L.Warn(ctx, "failed to close fetch session", "error", err)
		}
	}()

	for i, desc := range s.registry.Sources() {
		if i > 0 {
			if err := s.pause(ctx); err != nil {
				L.Warn(ctx, "run cancelled between sources",
					"error", err,
					"remaining", s.registry.Len()-i,
				)
				return nil
			}
		}

		sr, events := s.processSource(ctx, L, sess, desc)
		rep.Sources = append(rep.Sources, sr)
		rep.Events = append(rep.Events, events...)
	}
	return nil
}

func (s *Service) pause(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) processSource(ctx context.Context, L log.Logger, sess fetch.Session, desc source.Descriptor) (SourceReport, []lead.Event) {
	ctx, span := tracer.Start(ctx, "pipeline.source", trace.WithAttributes(
		attribute.String("leadwatch.source.name", desc.Name),
		attribute.String("leadwatch.source.url", desc.BaseURL),
	))
	defer span.End()

	L = L.With("source", desc.Name)
	sr := SourceReport{Name: desc.Name}

	elements, err := sess.Fetch(ctx, desc, extract.MaxArticles)
	if err != nil {
		sr.Err = err
		sr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "failed to fetch source")
		s.hooks.source(desc.Name, 0, 0, err)
		return sr, nil
	}
	sr.Elements = len(elements)

	res := extract.Extract(desc, elements)
	sr.Articles = len(res.Articles)
	sr.Skipped = res.Skipped
	for _, sk := range res.Skipped {
		L.Warn(ctx, "skipped article element", "index", sk.Index, "reason", sk.Reason)
	}

	var events []lead.Event
	for _, a := range res.Articles {
		cat, ok := s.classifier.Classify(a.Text())
		s.hooks.article(desc.Name, cat, ok)
		if !ok {
			continue
		}

		company, path := s.resolver.Resolve(ctx, a.Title, a.Excerpt)
		s.hooks.resolve(path)

		events = append(events, lead.Event{
			Article:    a,
			Company:    company,
			Category:   cat,
			Source:     desc.Name,
			Resolution: path,
		})
	}
	sr.Matched = len(events)

	span.SetAttributes(
		attribute.Int("leadwatch.source.articles", sr.Articles),
		attribute.Int("leadwatch.source.matched", sr.Matched),
	)
	L.Info(ctx, "source processed",
		"elements", sr.Elements,
		"articles", sr.Articles,
		"skipped", len(sr.Skipped),
		"matched", sr.Matched,
	)
	s.hooks.source(desc.Name, sr.Articles, sr.Matched, nil)

	return sr, events
}

func (s *Service) persist(ctx context.Context, L log.Logger, events []lead.Event) PersistStats {
	var st PersistStats
	for i := range events {
		rec := lead.NewRecord(&events[i], s.now())
		outcome, err := s.save(ctx, rec)
		switch outcome {
		case PersistInserted:
			st.Inserted++
		case PersistDuplicate:
			st.Duplicates++
		default:
			st.Failed++
			L.Error(ctx, err, "failed to save event",
				"source_url", rec.SourceURL,
				"company", rec.CompanyName,
			)
		}
		s.hooks.persist(outcome)
	}
	return st
}

func (s *Service) save(ctx context.Context, rec *lead.Record) (string, error) {
	exists, err := s.store.Exists(ctx, rec.SourceURL)
	if err != nil {
		return PersistFailed, fmt.Errorf("exists check: %w", err)
	}
	if exists {
		return PersistDuplicate, nil
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return PersistDuplicate, nil
		}
		return PersistFailed, fmt.Errorf("insert: %w", err)
	}
	return PersistInserted, nil
}
