package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/tubevore/internal/database"
	"github.com/bryan-buckman/tubevore/internal/logging"
	"github.com/bryan-buckman/tubevore/internal/options"
	"github.com/bryan-buckman/tubevore/internal/synchronize"
)

type fakeRunner struct {
	mu      sync.Mutex
	targets []string
	ran     chan string
	block   bool
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, t synchronize.Target) (*synchronize.RunReport, error) {
	f.mu.Lock()
	f.targets = append(f.targets, t.String())
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		f.ran <- t.String()
		return nil, ctx.Err()
	}
	f.ran <- t.String()
	if f.err != nil {
		return nil, f.err
	}
	return &synchronize.RunReport{Target: t}, nil
}

func newResolver(t *testing.T) *options.Resolver {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return options.NewResolver(db, db, options.WithEnvironment(func(string) (string, bool) { return "", false }))
}

func wait(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run")
		return ""
	}
}

func TestInterval(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	s := New(&fakeRunner{}, r, WithIntervalUnit(time.Second))

	if got := s.Interval(); got != 60*time.Second {
		t.Errorf("Interval() = %v, want default 60s", got)
	}
	options.SetGlobal(ctx, r, options.SynchronizationInterval, 5)
	if got := s.Interval(); got != MinIntervalMinutes*time.Second {
		t.Errorf("Interval() = %v, want minimum", got)
	}
	options.SetGlobal(ctx, r, options.SynchronizationInterval, 30)
	if got := s.Interval(); got != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", got)
	}
}

func TestStartRunsPeriodically(t *testing.T) {
	runner := &fakeRunner{ran: make(chan string, 10)}
	s := New(runner, newResolver(t), WithIntervalUnit(time.Millisecond), WithLogger(logging.Discard()))
	s.Start()

	for i := 0; i < 2; i++ {
		if got := wait(t, runner.ran); got != "all" {
			t.Errorf("run %d target = %q, want all", i, got)
		}
	}
	s.Stop()
}

func TestSchedule(t *testing.T) {
	runner := &fakeRunner{ran: make(chan string, 10), err: synchronize.ErrSyncInProgress}
	s := New(runner, newResolver(t), WithLogger(logging.Discard()))
	defer s.Stop()

	s.Schedule(synchronize.SubscriptionTarget(7))
	if got := wait(t, runner.ran); got != "subscription:7" {
		t.Errorf("target = %q", got)
	}
}

func TestStopCancelsAndWaits(t *testing.T) {
	runner := &fakeRunner{ran: make(chan string, 10), block: true}
	s := New(runner, newResolver(t), WithLogger(logging.Discard()))
	s.Schedule(synchronize.FolderTarget(1))

	// wait until the run has started
	for {
		runner.mu.Lock()
		n := len(runner.targets)
		runner.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()

	select {
	case got := <-runner.ran:
		if got != "folder:1" {
			t.Errorf("target = %q", got)
		}
	default:
		t.Fatal("Stop() returned before the run finished")
	}

	s.Schedule(synchronize.AllTarget())
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.targets) != 1 {
		t.Errorf("run started after Stop(): %v", runner.targets)
	}
}
