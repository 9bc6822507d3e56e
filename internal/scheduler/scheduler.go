package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrAlreadyRunning = errors.New("job already running")
	ErrStopped        = errors.New("scheduler stopped")
)

// Task is one unit of recurring work. It must honor ctx cancellation.
type Task func(ctx context.Context) error

type Registry struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	queue      chan *Job
	workers    int
	ctx        context.Context
	cancel     context.CancelFunc
	jobTimeout time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
	timers     []*time.Timer
}

type Job struct {
	name     string
	spec     string
	schedule cron.Schedule
	task     Task
	stop     chan struct{}
	running  atomic.Bool

	next         time.Time
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
	runs         int
}

type JobInfo struct {
	Name         string     `json:"name"`
	Schedule     string     `json:"schedule"`
	Running      bool       `json:"running"`
	NextRun      *time.Time `json:"nextRun,omitempty"`
	LastRun      *time.Time `json:"lastRun,omitempty"`
	LastDuration string     `json:"lastDuration,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	Runs         int        `json:"runs"`
}

func NewRegistry(logger *slog.Logger, workers int, jobTimeout time.Duration) *Registry {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	reg := &Registry{
		jobs:       map[string]*Job{},
		queue:      make(chan *Job, 32),
		workers:    workers,
		ctx:        ctx,
		cancel:     cancel,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
	for i := 0; i < workers; i++ {
		reg.wg.Add(1)
		go reg.worker()
	}
	return reg
}

// Stop cancels in-flight runs, stops every job and waits for workers to exit.
func (r *Registry) Stop() {
	r.cancel()
	r.mu.Lock()
	for _, job := range r.jobs {
		close(job.stop)
	}
	r.jobs = map[string]*Job{}
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
	r.mu.Unlock()
	r.wg.Wait()
}

// Schedule registers task under name with a standard five-field cron
// expression or descriptor (@daily, @every 6h). An existing job with the same
// name is replaced.
func (r *Registry) Schedule(name, spec string, task Task) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("job %s: parse schedule %q: %w", name, spec, err)
	}
	return r.ScheduleWith(name, spec, schedule, task)
}

func (r *Registry) ScheduleWith(name, label string, schedule cron.Schedule, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return ErrStopped
	}
	if existing, ok := r.jobs[name]; ok {
		close(existing.stop)
	}
	job := &Job{name: name, spec: label, schedule: schedule, task: task, stop: make(chan struct{})}
	r.jobs[name] = job
	go r.runTimer(job)
	return nil
}

func (r *Registry) Unschedule(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[name]; ok {
		close(job.stop)
		delete(r.jobs, name)
	}
}

func (r *Registry) ListJobs() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]JobInfo, 0, len(r.jobs))
	for name, job := range r.jobs {
		info := JobInfo{Name: name, Schedule: job.spec, Running: job.running.Load(), Runs: job.runs}
		if !job.next.IsZero() {
			next := job.next
			info.NextRun = &next
		}
		if !job.lastRun.IsZero() {
			last := job.lastRun
			info.LastRun = &last
			info.LastDuration = job.lastDuration.String()
		}
		if job.lastErr != nil {
			info.LastError = job.lastErr.Error()
		}
		jobs = append(jobs, info)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Trigger queues an immediate run of name outside its schedule.
func (r *Registry) Trigger(name string) error {
	job, err := r.lookup(name)
	if err != nil {
		return err
	}
	if !job.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if !r.enqueue(job) {
		job.running.Store(false)
		return ErrStopped
	}
	return nil
}

// TriggerAfter queues one run of name after delay. Used for the warm-up sync.
func (r *Registry) TriggerAfter(name string, delay time.Duration) error {
	if _, err := r.lookup(name); err != nil {
		return err
	}
	timer := time.AfterFunc(delay, func() {
		if err := r.Trigger(name); err != nil && !errors.Is(err, ErrStopped) {
			r.logger.Warn("delayed trigger skipped", slog.String("job", name), slog.String("error", err.Error()))
		}
	})
	r.mu.Lock()
	r.timers = append(r.timers, timer)
	r.mu.Unlock()
	return nil
}

// RunNow runs name synchronously in the caller's goroutine and returns the
// task's error.
func (r *Registry) RunNow(ctx context.Context, name string) error {
	job, err := r.lookup(name)
	if err != nil {
		return err
	}
	if !job.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	return r.execute(ctx, job)
}

func (r *Registry) lookup(name string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return nil, ErrStopped
	}
	job, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return job, nil
}

func (r *Registry) runTimer(job *Job) {
	for {
		now := time.Now()
		next := job.schedule.Next(now)
		if next.IsZero() {
			return
		}
		r.mu.Lock()
		job.next = next
		r.mu.Unlock()
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			if !job.running.CompareAndSwap(false, true) {
				r.logger.Warn("previous run still in progress, skipping", slog.String("job", job.name))
				continue
			}
			if !r.enqueue(job) {
				job.running.Store(false)
				return
			}
		case <-job.stop:
			timer.Stop()
			return
		case <-r.ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (r *Registry) enqueue(job *Job) bool {
	select {
	case r.queue <- job:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Registry) worker() {
	defer r.wg.Done()
	for {
		select {
		case job := <-r.queue:
			_ = r.execute(r.ctx, job)
		case <-r.ctx.Done():
			return
		}
	}
}

// execute runs job under the job timeout. The caller must have set the
// running flag; it is cleared here.
func (r *Registry) execute(parent context.Context, job *Job) (err error) {
	defer job.running.Store(false)
	ctx := parent
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, r.jobTimeout)
		defer cancel()
	}
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", job.name, rec)
		}
		elapsed := time.Since(started)
		r.mu.Lock()
		job.lastRun = started
		job.lastDuration = elapsed
		job.lastErr = err
		job.runs++
		r.mu.Unlock()
		if err != nil {
			r.logger.Error("job failed",
				slog.String("job", job.name),
				slog.Duration("duration", elapsed),
				slog.String("error", err.Error()),
			)
			return
		}
		r.logger.Info("job finished", slog.String("job", job.name), slog.Duration("duration", elapsed))
	}()
	return job.task(ctx)
}
