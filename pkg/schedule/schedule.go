// Package schedule runs backups on a cron schedule.
package schedule

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/supporttools/TableVault/pkg/report"
)

// Runner executes one backup run.
type Runner interface {
	Run(ctx context.Context) (report.RunReport, error)
}

// Scheduler triggers backup runs from a cron expression.
type Scheduler struct {
	cronScheduler *cron.Cron
	runner        Runner
}

// New creates a scheduler around a runner.
func New(runner Runner) *Scheduler {
	return &Scheduler{
		cronScheduler: cron.New(),
		runner:        runner,
	}
}

// SetupJob registers the backup job for the given cron expression.
func (s *Scheduler) SetupJob(ctx context.Context, expression string) error {
	_, err := s.cronScheduler.AddFunc(expression, func() {
		log.Info("Starting scheduled backup run")
		runReport, err := s.runner.Run(ctx)
		if err != nil {
			log.WithError(err).Error("Scheduled backup run failed")
			return
		}
		if runReport.Failed() {
			log.Warnf("Scheduled backup run finished with %d failed tables",
				runReport.TablesFailed+runReport.TablesCancelled)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "schedule backup with cron expression %q", expression)
	}

	log.Infof("Scheduled backup with cron expression: %s", expression)
	return nil
}

// Start begins the scheduled jobs.
func (s *Scheduler) Start() {
	s.cronScheduler.Start()
	log.Info("Backup scheduler started")
}

// Stop halts all scheduled jobs and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cronScheduler.Stop()
	<-ctx.Done()
	log.Info("Backup scheduler stopped")
}
