package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job already running")
)

// Job is a unit of scheduled work. RunOnce may be called directly, which is
// how tests and operator commands trigger it without waiting on the clock.
type Job interface {
	Name() string
	// Cadence is a six-field cron expression (with seconds) or a descriptor
	// such as "@weekly".
	Cadence() string
	RunOnce(ctx context.Context) error
}

// JobStatus describes a registered job.
type JobStatus struct {
	Name    string
	Cadence string
	Next    time.Time
	LastRun time.Time
	LastErr error
	Running bool
}

type entry struct {
	job     Job
	id      cron.EntryID
	running bool
	lastRun time.Time
	lastErr error
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]*entry
	history ResultLister
}

// New creates a Scheduler evaluating cadences in loc. results backs the
// /history operator command and may be nil.
func New(loc *time.Location, results ResultLister, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[string]*entry),
		history: results,
	}
}

// Register adds a job under its cadence.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[job.Name()]; ok {
		return fmt.Errorf("register %s: duplicate job name", job.Name())
	}
	id, err := s.cron.AddFunc(job.Cadence(), func() {
		if err := s.run(s.runContext(), job.Name()); err != nil && !errors.Is(err, ErrJobRunning) {
			s.logger.Error("scheduled job failed", zap.String("job", job.Name()), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", job.Name(), err)
	}
	s.entries[job.Name()] = &entry{job: job, id: id}
	return nil
}

// Start starts the cron scheduler. Scheduled runs use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow executes the named job immediately and synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	return s.run(ctx, name)
}

// Next returns the next scheduled activation of the named job; zero if the
// scheduler is not started.
func (s *Scheduler) Next(name string) (time.Time, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%s: %w", name, ErrUnknownJob)
	}
	return s.cron.Entry(e.id).Next, nil
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, JobStatus{
			Name:    name,
			Cadence: e.job.Cadence(),
			Next:    s.cron.Entry(e.id).Next,
			LastRun: e.lastRun,
			LastErr: e.lastErr,
			Running: e.running,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) run(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrUnknownJob)
	}
	if e.running {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrJobRunning)
	}
	e.running = true
	s.mu.Unlock()

	start := time.Now()
	s.logger.Info("running job", zap.String("job", name))
	err := e.job.RunOnce(ctx)

	s.mu.Lock()
	e.running = false
	e.lastRun = start
	e.lastErr = err
	s.mu.Unlock()

	s.logger.Info("job finished",
		zap.String("job", name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return err
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
