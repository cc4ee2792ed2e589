package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

type fakeRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	err     error
	started chan struct{}
	once    sync.Once
}

func (f *fakeRunner) Run(ctx context.Context) (*pipeline.Report, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Report{ID: "01JTEST"}, nil
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"0 */6 * * *", false},
		{"@hourly", false},
		{"@every 30m", false},
		{"*/5 * * * *", false},
		{"", true},
		{"not a schedule", true},
		{"0 0 0 * * *", true}, // seconds field not accepted
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		err := Validate(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
		}
	}
}

func TestNew_InvalidSpec(t *testing.T) {
	t.Parallel()

	if _, err := New("bogus", &fakeRunner{}, log.Nop()); err == nil {
		t.Fatal("New with invalid spec returned nil error")
	}
}

func TestNew_NilRunner_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil runner did not panic")
		}
	}()
	_, _ = New("@hourly", nil, nil)
}

func TestTick_InvokesRunner(t *testing.T) {
	t.Parallel()

	var called atomic.Bool
	r := runnerFunc(func(ctx context.Context) (*pipeline.Report, error) {
		called.Store(ctx.Err() == nil)
		return &pipeline.Report{ID: "01JX"}, nil
	})

	s, err := New("@hourly", r, log.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	defer func() { _ = s.Stop(context.Background()) }()

	s.tick()
	if !called.Load() {
		t.Fatal("runner not invoked with a live context")
	}
}

func TestTick_BeforeStartIsNoop(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	s, err := New("@hourly", fr, log.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.tick()
	if n := fr.calls.Load(); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestTick_ErrorsAreNotFatal(t *testing.T) {
	t.Parallel()

	for _, runErr := range []error{pipeline.ErrRunInProgress, errors.New("boom")} {
		fr := &fakeRunner{err: runErr}
		s, err := New("@hourly", fr, log.Nop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		s.Start(context.Background())
		s.tick()
		s.tick()
		_ = s.Stop(context.Background())
		if n := fr.calls.Load(); n != 2 {
			t.Errorf("%v: calls = %d, want 2", runErr, n)
		}
	}
}

func TestScheduler_FiresAndSkipsOverlap(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{block: make(chan struct{}), started: make(chan struct{})}
	s, err := New("@every 1s", fr, log.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	select {
	case <-fr.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never started")
	}

	// let at least one more tick arrive while the first run is blocked
	time.Sleep(1500 * time.Millisecond)
	if n := fr.calls.Load(); n != 1 {
		t.Errorf("calls while blocked = %d, want 1", n)
	}

	close(fr.block)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStop_CancelsInFlightRun(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{block: make(chan struct{}), started: make(chan struct{})}
	s, err := New("@every 1s", fr, log.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())

	select {
	case <-fr.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStop_Timeout(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	var once sync.Once
	r := runnerFunc(func(context.Context) (*pipeline.Report, error) {
		once.Do(func() { close(started) })
		<-block
		return &pipeline.Report{}, nil
	})

	s, err := New("@every 1s", r, log.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop error = %v, want deadline exceeded", err)
	}
}

func TestCronLogger(t *testing.T) {
	t.Parallel()

	cl := cronLogger{L: log.Nop()}
	cl.Info("skip", "now", time.Now())
	cl.Error(errors.New("x"), "panic", "stack", "...")
}

type runnerFunc func(ctx context.Context) (*pipeline.Report, error)

func (f runnerFunc) Run(ctx context.Context) (*pipeline.Report, error) { return f(ctx) }
