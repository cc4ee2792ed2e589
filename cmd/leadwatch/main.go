// Leadwatch monitors news sources for business trigger events (funding,
// hires, expansions, launches, partnerships) and records new ones as leads.
//
// Usage:
//
//	leadwatch [flags]          run the pipeline once and print the events
//	leadwatch serve [flags]    run on a schedule and serve the event API
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/joho/godotenv"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	vc "github.com/linnemanlabs/leadwatch/internal/cfg"
	"github.com/linnemanlabs/leadwatch/internal/eventapi"
	"github.com/linnemanlabs/leadwatch/internal/fetch/htmlfetch"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
	"github.com/linnemanlabs/leadwatch/internal/postgres"
	"github.com/linnemanlabs/leadwatch/internal/resolve"
	"github.com/linnemanlabs/leadwatch/internal/schedule"
	"github.com/linnemanlabs/leadwatch/internal/trigger"
)

const appName = "leadwatch"

const (
	modeOnce  = "once"
	modeServe = "serve"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := modeOnce
	if len(args) > 0 && args[0] == modeServe {
		mode = modeServe
		args = args[1:]
	}

	// Set app name and component
	v.AppName = appName
	v.Component = mode

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    vc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline flags first, env vars fill in whatever was not set on the cmdline
	if err := flag.CommandLine.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// .env only seeds the process environment; real env vars win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "ignoring .env: %v\n", err)
	}

	cfg.FillFromEnv(flag.CommandLine, "LEADWATCH_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if mode == modeServe && appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"mode", mode,
		"store", appCfg.StoreKind(),
		"completion_provider", appCfg.CompletionProvider,
		"completion_configured", appCfg.CompletionKey() != "",
		"sources_file", appCfg.SourcesFile,
		"source_delay", appCfg.SourceDelay,
		"enable_tracing", traceCfg.EnableTracing,
		"enable_pyroscope", profCfg.EnablePyroscope,
	)

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOtelx(context.Background()) }()

	reg, err := loadRegistry(appCfg.SourcesFile)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Registry:   reg,
		Browser:    htmlfetch.New(htmlfetch.Options{Timeout: appCfg.FetchTimeout, UserAgent: appCfg.UserAgent}),
		Classifier: trigger.New(trigger.DefaultTaxonomy()),
		Resolver:   resolve.New(newCompleter(&appCfg), newLimiter(appCfg.CompletionRPS), L),
	}
	if appCfg.SourceDelay == 0 {
		deps.SourceDelay = -1
	} else {
		deps.SourceDelay = appCfg.SourceDelay
	}

	if deps.Notifier, err = newNotifier(ctx, &appCfg, L); err != nil {
		return err
	}

	if mode == modeOnce {
		return runOnce(ctx, L, &appCfg, deps)
	}

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// label spans with pyroscope profile IDs so traces link to profiles
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, v.Component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	pipelineMetrics := pipeline.NewMetrics(m.Registry())
	deps.Hooks = pipelineMetrics.Hooks()

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadwatch_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(operation, route, outcome).Observe(dur.Seconds())
		},
	))

	store, closeStore, err := openStore(ctx, &appCfg, L)
	if err != nil {
		return err
	}
	defer closeStore()
	deps.Store = store

	svc := pipeline.NewService(deps, L)

	var events eventapi.EventLister
	if store != nil {
		events = store
	}

	var sched *schedule.Scheduler
	if appCfg.Schedule != "" {
		sched, err = schedule.New(appCfg.Schedule, svc, L)
		if err != nil {
			return err
		}
		sched.Start(ctx)
	} else {
		L.Info(ctx, "no schedule configured, runs are on-demand only")
	}

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithOperation(req.Context(), req.Method)))
		})
	})

	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1024 * 16))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	eventapi.New(L, svc, events, appCfg.APIToken).RegisterRoutes(r)

	// middleware stack for main listener, order matters: outermost sees the raw
	// request first and the response last
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start event api http listener")
		return err
	}

	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"event api http server", apiHTTPStop},
	}
	if sched != nil {
		stopFns = append(stopFns, stopFn{"scheduler", sched.Stop})
	}
	stopFns = append(stopFns,
		stopFn{"pipeline runs", waitFunc(svc.Wait)},
		stopFn{"ops http server", opsHTTPStop},
		stopFn{"otel", shutdownOtelx},
	)

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// runOnce executes a single pipeline run and prints the events. Store
// failures degrade to a run without persistence.
func runOnce(ctx context.Context, L log.Logger, appCfg *vc.Config, deps pipeline.Deps) error {
	store, closeStore, err := openStore(ctx, appCfg, L)
	if err != nil {
		L.Error(ctx, err, "store unavailable, continuing without persistence")
	}
	defer closeStore()
	if store != nil {
		deps.Store = store
	}

	svc := pipeline.NewService(deps, L)
	rep, err := svc.Run(postgres.WithOperation(ctx, postgres.OperationRun))
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	L.Info(ctx, "run complete", "run_id", rep.ID, "summary", rep.Summary())
	return printReport(os.Stdout, rep, appCfg.Output)
}

// waitFunc adapts a blocking wait to a context-bounded stop function.
func waitFunc(wait func()) func(context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr is from NOTIFY_SOCKET set by systemd, no context support for unixgram dial
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
