package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DraftPurger removes drafts saved before a cutoff
type DraftPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CronConfig holds the job schedules (cron format with seconds)
type CronConfig struct {
	PruneSchedule string
	PurgeSchedule string
	DraftTTL      time.Duration
}

// CronService manages scheduled background jobs
type CronService struct {
	cron    *cron.Cron
	flows   *FlowManager
	purger  DraftPurger // nil when drafts do not live in Postgres
	config  CronConfig
	logger  *logrus.Logger
	timeout time.Duration
}

// NewCronService creates a new CronService
func NewCronService(flows *FlowManager, purger DraftPurger, config CronConfig, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:    cron.New(cron.WithSeconds()),
		flows:   flows,
		purger:  purger,
		config:  config,
		logger:  logger,
		timeout: time.Minute,
	}
}

// Start schedules all jobs and starts the scheduler
func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.config.PruneSchedule, s.pruneFlowsJob); err != nil {
		return fmt.Errorf("failed to schedule flow prune job: %w", err)
	}
	s.logger.WithField("schedule", s.config.PruneSchedule).Info("Scheduled: prune idle booking flows")

	if s.purger != nil && s.config.DraftTTL > 0 {
		if _, err := s.cron.AddFunc(s.config.PurgeSchedule, s.purgeDraftsJob); err != nil {
			return fmt.Errorf("failed to schedule draft purge job: %w", err)
		}
		s.logger.WithField("schedule", s.config.PurgeSchedule).Info("Scheduled: purge stale booking drafts")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// AddJob schedules an extra housekeeping job
func (s *CronService) AddJob(name, schedule string, job func()) error {
	_, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		job()
		s.logger.WithFields(logrus.Fields{
			"job":         name,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Cron job finished")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s job: %w", name, err)
	}
	s.logger.WithField("schedule", schedule).Infof("Scheduled: %s", name)
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// Entries returns the number of scheduled jobs
func (s *CronService) Entries() int {
	return len(s.cron.Entries())
}

func (s *CronService) pruneFlowsJob() {
	start := time.Now()
	removed := s.flows.Prune()
	s.logger.WithFields(logrus.Fields{
		"job":         "prune_flows",
		"removed":     removed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Cron job finished")
}

func (s *CronService) purgeDraftsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	removed, err := s.purger.DeleteOlderThan(ctx, start.Add(-s.config.DraftTTL))
	if err != nil {
		s.logger.WithError(err).WithField("job", "purge_drafts").Error("Cron job failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"job":         "purge_drafts",
		"removed":     removed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Cron job finished")
}

// RunNow runs every job once, outside the schedule
func (s *CronService) RunNow() {
	s.pruneFlowsJob()
	if s.purger != nil && s.config.DraftTTL > 0 {
		s.purgeDraftsJob()
	}
}
