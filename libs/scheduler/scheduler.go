package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a unit of background work run on a cron schedule.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Metrics interface {
	ObserveJob(name, status string, duration time.Duration)
}

type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	metrics Metrics
	timeout time.Duration
}

// New returns a scheduler whose specs accept a leading seconds field.
func New(logger *slog.Logger, metrics Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DiscardLogger))),
		logger:  logger.With("component", "scheduler"),
		metrics: metrics,
		timeout: 5 * time.Minute,
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// AddJob registers job under spec, e.g. "0 0 0 1 1 *" or "@every 30s".
func (s *Scheduler) AddJob(spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { _ = s.RunNow(context.Background(), job) }); err != nil {
		return err
	}
	s.logger.Info("job registered", "schedule", spec, "job", job.Name())
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("job failed", "job", job.Name(), "error", err)
	} else {
		s.logger.Debug("job completed", "job", job.Name(), "duration", time.Since(start))
	}
	if s.metrics != nil {
		s.metrics.ObserveJob(job.Name(), status, time.Since(start))
	}
	return err
}
