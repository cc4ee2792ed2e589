// Package schedule runs the pipeline on a cron schedule. Ticks that arrive
// while a run is still going are skipped rather than queued.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/leadwatch/internal/pipeline"
	"github.com/linnemanlabs/leadwatch/internal/postgres"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
}

// parser accepts standard 5-field specs plus descriptors such as @hourly
// and @every 30m.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether spec parses as a cron schedule.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler triggers Runner on a cron schedule.
type Scheduler struct {
	logger log.Logger
	runner Runner
	spec   string
	cron   *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a scheduler for spec. The returned scheduler is idle until
// Start is called.
func New(spec string, runner Runner, logger log.Logger) (*Scheduler, error) {
	if runner == nil {
		panic(xerrors.New("runner is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}

	cl := cronLogger{L: logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Scheduler{
		logger: logger.With("schedule", spec),
		runner: runner,
		spec:   spec,
		cron:   c,
	}
	if _, err := c.AddJob(spec, cron.FuncJob(s.tick)); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing runs. Runs inherit values from ctx but are cancelled
// by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info(ctx, "scheduler started")
}

// Stop prevents further runs, cancels any in-flight run and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-done.Done():
		s.logger.Info(ctx, "scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	ctx = postgres.WithOperation(ctx, postgres.OperationRun)
	rep, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Info(ctx, "scheduled run skipped, another run in progress")
	case err != nil:
		s.logger.Error(ctx, err, "scheduled run failed")
	default:
		s.logger.Info(ctx, "scheduled run finished", "run_id", rep.ID, "events", len(rep.Events))
	}
}

// cronLogger adapts log.Logger to cron.Logger.
type cronLogger struct {
	L log.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.L.Info(context.Background(), "cron: "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.L.Error(context.Background(), err, "cron: "+msg, kv...)
}
