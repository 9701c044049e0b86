package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobStatus is a snapshot of one scheduled job.
type JobStatus struct {
	Name       string        `json:"name"`
	Spec       string        `json:"spec"`
	InFlight   bool          `json:"in_flight"`
	Runs       int64         `json:"runs"`
	Skipped    int64         `json:"skipped"`
	LastStart  time.Time     `json:"last_start"`
	LastFinish time.Time     `json:"last_finish"`
	LastSkip   time.Time     `json:"last_skip"`
	LastError  string        `json:"last_error,omitempty"`
	LastTook   time.Duration `json:"last_took"`
}

type job struct {
	name     string
	spec     string
	fn       func(context.Context) error
	inFlight atomic.Bool

	mu     sync.Mutex
	status JobStatus
}

// Scheduler runs named jobs on cron specs. A tick that fires while the
// previous run of the same job is still in flight is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	metrics Recorder
	baseCtx context.Context
	timeNow func() time.Time

	mu   sync.RWMutex
	jobs map[string]*job
}

func NewScheduler(baseCtx context.Context, logger *zap.Logger, metrics Recorder) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger.With(zap.String("component", "scheduler")),
		metrics: recorderOrNop(metrics),
		baseCtx: baseCtx,
		timeNow: time.Now,
		jobs:    make(map[string]*job),
	}
}

// Add registers fn under name. spec accepts cron expressions with seconds and
// descriptors such as "@every 15s".
func (s *Scheduler) Add(name, spec string, fn func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	j := &job{name: name, spec: spec, fn: fn}
	j.status = JobStatus{Name: name, Spec: spec}
	if _, err := s.cron.AddFunc(spec, func() { s.run(j) }); err != nil {
		return fmt.Errorf("invalid spec %q for job %q: %w", spec, name, err)
	}
	s.jobs[name] = j
	return nil
}

// RunNow triggers a guarded run and waits for it. It reports false when the
// job was already in flight.
func (s *Scheduler) RunNow(name string) (bool, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("unknown job %q", name)
	}
	return s.run(j), nil
}

func (s *Scheduler) run(j *job) bool {
	if !j.inFlight.CompareAndSwap(false, true) {
		now := s.timeNow()
		j.mu.Lock()
		j.status.Skipped++
		j.status.LastSkip = now
		j.mu.Unlock()
		s.metrics.IncSchedulerSkipped(j.name)
		s.logger.Warn("Previous run still in flight, skipping tick", zap.String("job", j.name))
		return false
	}
	defer j.inFlight.Store(false)

	start := s.timeNow()
	j.mu.Lock()
	j.status.LastStart = start
	j.mu.Unlock()

	err := s.safeCall(j)

	finish := s.timeNow()
	j.mu.Lock()
	j.status.Runs++
	j.status.LastFinish = finish
	j.status.LastTook = finish.Sub(start)
	j.status.LastError = ""
	if err != nil {
		j.status.LastError = err.Error()
	}
	j.mu.Unlock()

	if err != nil {
		s.logger.Error("Job failed", zap.String("job", j.name), zap.Error(err))
	}
	return true
}

func (s *Scheduler) safeCall(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
	}()
	return j.fn(s.baseCtx)
}

func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		st := j.status
		j.mu.Unlock()
		st.InFlight = j.inFlight.Load()
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) Start() {
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	s.cron.Start()
}

// Stop prevents new ticks and waits for running jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}
