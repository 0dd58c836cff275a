// Package jobs runs the periodic compensation work.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"realty-network/internal/services/compensation/rank"
)

type RankSweeper interface {
	SweepRanks(ctx context.Context) (*rank.SweepReport, error)
}

type Scheduler struct {
	cron    *cron.Cron
	sweeper RankSweeper
	loc     *time.Location
	timeout time.Duration
	log     *logrus.Entry
}

// NewScheduler registers the rank sweep on spec, evaluated in the named
// time zone. A sweep still running when the next one fires is skipped.
func NewScheduler(spec, tz string, sweeper RankSweeper, logger *logrus.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", tz, err)
	}

	cl := cron.PrintfLogger(logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sweeper: sweeper,
		loc:     loc,
		timeout: time.Hour,
		log:     logger.WithField("component", "jobs"),
	}
	if _, err := s.cron.AddFunc(spec, s.RunSweep); err != nil {
		return nil, fmt.Errorf("schedule rank sweep %q: %w", spec, err)
	}
	return s, nil
}

// RunSweep runs one rank sweep synchronously.
func (s *Scheduler) RunSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.log.Info("Starting scheduled rank sweep")
	report, err := s.sweeper.SweepRanks(ctx)
	if err != nil {
		s.log.WithError(err).Error("Scheduled rank sweep failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"evaluated": report.Evaluated,
		"promoted":  report.Promoted,
		"failed":    report.Failed,
	}).Info("Scheduled rank sweep completed")
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next is the next planned sweep, zero when none is scheduled.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if entries[0].Next.IsZero() {
		return entries[0].Schedule.Next(time.Now().In(s.loc))
	}
	return entries[0].Next
}
