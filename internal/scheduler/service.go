package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pnp-exchange/mentions-bot/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	// HourlySnapshotSpec fires at the top of every hour.
	HourlySnapshotSpec = "0 0 * * * *"

	pollTimeout     = 2 * time.Minute
	snapshotTimeout = 10 * time.Minute
	primeTimeout    = 30 * time.Second
)

// Runner is the work the scheduler triggers.
type Runner interface {
	Prime(ctx context.Context) (string, bool)
	RunPoll(ctx context.Context) error
	RunSnapshot(ctx context.Context) error
}

// Service handles scheduling of the ingestion jobs. Every job is best
// effort: errors are logged and the next tick is the retry.
type Service struct {
	config *config.Config
	runner Runner
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, runner Runner) *Service {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config: cfg,
		runner: runner,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// PollSpec is the cron spec of the realtime poll.
func (s *Service) PollSpec() string {
	return fmt.Sprintf("@every %ds", s.config.PollIntervalSeconds)
}

// Prime seeds the watermark once at startup. It is skipped when the
// realtime poll is disabled and never fails startup.
func (s *Service) Prime() {
	if !s.config.EnableRealtimePoll {
		logrus.Info("Realtime poll disabled, skipping watermark priming")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, primeTimeout)
	defer cancel()

	if id, ok := s.runner.Prime(ctx); ok {
		logrus.Infof("Startup priming complete, polling mentions newer than %s", id)
	} else {
		logrus.Warn("Startup priming did not set a watermark, continuing unprimed")
	}
}

// Start registers the enabled jobs and starts the cron loop
func (s *Service) Start() error {
	if s.config.EnableRealtimePoll {
		_, err := s.cron.AddFunc(s.PollSpec(), func() {
			s.runJob("poll", pollTimeout, s.runner.RunPoll)
		})
		if err != nil {
			return fmt.Errorf("cron.AddFunc poll: %w", err)
		}
	} else {
		logrus.Info("Realtime poll disabled")
	}

	if s.config.EnableHourlySnapshot {
		_, err := s.cron.AddFunc(HourlySnapshotSpec, func() {
			s.runJob("hourly_snapshot", snapshotTimeout, s.runner.RunSnapshot)
		})
		if err != nil {
			return fmt.Errorf("cron.AddFunc snapshot: %w", err)
		}
	} else {
		logrus.Info("Hourly snapshot disabled")
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %d jobs (poll every %ds: %t, hourly snapshot: %t)",
		len(s.cron.Entries()), s.config.PollIntervalSeconds, s.config.EnableRealtimePoll, s.config.EnableHourlySnapshot)
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cancel()
		logrus.Info("Scheduler stopped")
	}
}

func (s *Service) runJob(name string, timeout time.Duration, job func(context.Context) error) {
	log := logrus.WithFields(logrus.Fields{
		"job":    name,
		"run_id": uuid.NewString(),
	})

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	start := time.Now()
	log.Debug("Job started")
	if err := job(ctx); err != nil {
		log.Errorf("Job failed, next run will retry: %v", err)
		return
	}
	log.Debugf("Job finished in %v", time.Since(start))
}
