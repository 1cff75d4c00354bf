// -----------------------------------------------------------------------
// Scheduler Service - cron-driven folder scan submissions
// -----------------------------------------------------------------------

package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
)

// schedulerAccountID is the principal scheduled jobs are attributed to.
const schedulerAccountID = "service-scheduler"

// Service submits subtitle scan jobs for configured folders on a cron
// schedule. Folders come from configuration, so the scheduler principal
// bypasses the allow-list the way other service accounts do.
type Service struct {
	jobs   interfaces.JobService
	cfg    common.SchedulerConfig
	cron   *cron.Cron
	logger arbor.ILogger
}

// NewService creates the scheduler. Call Start to begin ticking.
func NewService(jobs interfaces.JobService, cfg common.SchedulerConfig, logger arbor.ILogger) *Service {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Service{
		jobs:   jobs,
		cfg:    cfg,
		cron:   cron.New(cron.WithParser(parser)),
		logger: logger,
	}
}

// Start registers the scan entry and starts the cron runner. A disabled
// scheduler is a no-op.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.logger.Debug().Msg("Scheduler disabled")
		return nil
	}
	if len(s.cfg.Folders) == 0 {
		s.logger.Warn().Msg("Scheduler enabled with no folders configured")
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.tick); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info().
		Str("schedule", s.cfg.Schedule).
		Int("folders", len(s.cfg.Folders)).
		Msg("Scheduler started")
	return nil
}

// Stop halts the cron runner and waits for a running tick to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) tick() {
	caller := &models.User{ID: schedulerAccountID, Name: "Scheduler", Admin: true, Superuser: true}

	for _, folder := range s.cfg.Folders {
		job, err := s.jobs.CreateJob(context.Background(), caller, folder, s.cfg.Language, "info")
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("folder", folder).
				Msg("Scheduled scan submission failed")
			continue
		}
		s.logger.Info().
			Str("job_id", job.ID).
			Str("folder", folder).
			Msg("Scheduled scan submitted")
	}
}
