package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func newTestRegistry(timeout time.Duration) *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), 2, timeout)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestScheduleRejectsBadExpression(t *testing.T) {
	reg := newTestRegistry(time.Second)
	defer reg.Stop()
	if err := reg.Schedule("sync", "not a cron", func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := reg.Schedule("sync", "0 */6 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected valid spec: %v", err)
	}
	waitFor(t, func() bool {
		jobs := reg.ListJobs()
		return len(jobs) == 1 && jobs[0].Schedule == "0 */6 * * *" && jobs[0].NextRun != nil
	})
}

func TestScheduledJobFires(t *testing.T) {
	reg := newTestRegistry(time.Second)
	defer reg.Stop()
	var runs atomic.Int32
	if err := reg.ScheduleWith("tick", "every 20ms", everySchedule(20*time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() >= 2 })
}

func TestTriggerRejectsOverlap(t *testing.T) {
	reg := newTestRegistry(time.Second)
	defer reg.Stop()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	_ = reg.Schedule("sync", "@daily", func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	})

	if err := reg.Trigger("sync"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	<-started
	if err := reg.Trigger("sync"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning got %v", err)
	}
	if err := reg.RunNow(context.Background(), "sync"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning got %v", err)
	}
	close(release)
	waitFor(t, func() bool { return !reg.ListJobs()[0].Running })
	if err := reg.Trigger("sync"); err != nil {
		t.Fatalf("expected trigger after completion: %v", err)
	}
	<-started
}

func TestScheduledTickSkipsWhileRunning(t *testing.T) {
	reg := newTestRegistry(time.Second)
	defer reg.Stop()
	var runs atomic.Int32
	release := make(chan struct{})
	_ = reg.ScheduleWith("slow", "every 10ms", everySchedule(10*time.Millisecond), func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	waitFor(t, func() bool { return runs.Load() == 1 })
	time.Sleep(60 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Fatalf("expected overlapping ticks to be skipped, got %d runs", n)
	}
	close(release)
}

func TestRunNowRecordsErrorsAndPanics(t *testing.T) {
	reg := newTestRegistry(time.Second)
	defer reg.Stop()
	boom := errors.New("boom")
	_ = reg.Schedule("fails", "@daily", func(context.Context) error { return boom })
	_ = reg.Schedule("panics", "@daily", func(context.Context) error { panic("bad state") })

	if err := reg.RunNow(context.Background(), "fails"); !errors.Is(err, boom) {
		t.Fatalf("expected boom got %v", err)
	}
	if err := reg.RunNow(context.Background(), "panics"); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	jobs := reg.ListJobs()
	if jobs[0].Name != "fails" || jobs[0].LastError != "boom" || jobs[0].Runs != 1 {
		t.Fatalf("unexpected job info %+v", jobs[0])
	}
	if jobs[1].Running {
		t.Fatalf("panicked job left running")
	}
}

func TestRunNowAppliesJobTimeout(t *testing.T) {
	reg := newTestRegistry(30 * time.Millisecond)
	defer reg.Stop()
	_ = reg.Schedule("hang", "@daily", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := reg.RunNow(context.Background(), "hang"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded got %v", err)
	}
}

func TestTriggerAfter(t *testing.T) {
	reg := newTestRegistry(time.Second)
	defer reg.Stop()
	done := make(chan struct{})
	_ = reg.Schedule("warmup", "@weekly", func(context.Context) error {
		close(done)
		return nil
	})
	if err := reg.TriggerAfter("warmup", 20*time.Millisecond); err != nil {
		t.Fatalf("trigger after: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("warm-up run did not happen")
	}
}

func TestUnknownJobAndStop(t *testing.T) {
	reg := newTestRegistry(time.Second)
	if err := reg.Trigger("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob got %v", err)
	}
	_ = reg.Schedule("sync", "@daily", func(context.Context) error { return nil })
	reg.Unschedule("sync")
	if len(reg.ListJobs()) != 0 {
		t.Fatalf("expected job removed")
	}
	reg.Stop()
	if err := reg.Schedule("sync", "@daily", func(context.Context) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped got %v", err)
	}
}
