package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-history/internal/pipeline"
	"github.com/i474232898/weather-history/internal/weather"
)

// Runner is the part of *pipeline.Runner the scheduler drives.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (weather.RunReport, error)
}

// Scheduler triggers ingest runs on a cron expression.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	request   pipeline.Request
	expr      string
	timeout   time.Duration
	log       zerolog.Logger
	ctx       context.Context
}

// New creates a new Scheduler. An empty expr disables scheduling.
func New(expr string, req pipeline.Request, timeout time.Duration, runner Runner, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		request:   req,
		expr:      expr,
		timeout:   timeout,
		log:       logger.With().Str("component", "scheduler").Logger(),
		ctx:       context.Background(),
	}
}

// Start schedules the ingest job and starts the underlying scheduler. Jobs
// run under ctx and are cancelled with it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if s.expr == "" {
		s.log.Info().Msg("scheduler: no schedule configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Cron(s.expr).SingletonMode().Do(s.runOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.log.Info().Str("cron", s.expr).Ints("years", s.request.Years).Msg("scheduler: started")
	return nil
}

func (s *Scheduler) runOnce() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.log.Info().Msg("scheduler: running ingest job")
	report, err := s.runner.Run(ctx, s.request)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		s.log.Warn().Msg("scheduler: previous run still in progress; skipped")
	case errors.Is(err, weather.ErrNoData):
		s.log.Warn().Str("run_id", report.RunID).Msg("scheduler: ingest produced no data")
	case err != nil:
		s.log.Error().Err(err).Str("run_id", report.RunID).Msg("scheduler: ingest failed")
	default:
		s.log.Info().Str("run_id", report.RunID).Str("status", string(report.Status)).Msg("scheduler: completed ingest job")
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
