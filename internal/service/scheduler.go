package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs RefreshAll on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	refresher *Refresher
	log       zerolog.Logger
	spec      string
}

// NewScheduler validates spec (standard 5-field cron) and prepares the job.
// Overlapping runs are skipped.
func NewScheduler(r *Refresher, spec string, log zerolog.Logger) (*Scheduler, error) {
	cl := cronLogger{log}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s := &Scheduler{cron: c, refresher: r, log: log, spec: spec}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("refresh cron %q: %w", spec, err)
	}
	return s, nil
}

// Start registers the job bound to ctx and starts the cron loop.
// When onBoot is set a refresh runs immediately in the background.
func (s *Scheduler) Start(ctx context.Context, onBoot bool) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("AddFunc: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("cron", s.spec).Msg("refresh scheduler started")
	if onBoot {
		s.log.Info().Msg("refresh on boot enabled, starting initial refresh")
		go s.run(ctx)
	}
	return nil
}

// Stop stops scheduling new runs. The returned context is done once
// running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	results, err := s.refresher.RefreshAll(ctx)
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Int("refreshed", len(results)).Msg("scheduled refresh done")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
