// Package pipeline runs one ingest end to end: lock, orchestrate, load,
// record and notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-history/internal/lock"
	"github.com/i474232898/weather-history/internal/metrics"
	"github.com/i474232898/weather-history/internal/notify"
	"github.com/i474232898/weather-history/internal/weather"
)

var (
	// ErrBusy is returned when this process is already running an ingest.
	ErrBusy = errors.New("pipeline: a run is already in progress")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("pipeline: invalid request")
)

// Request selects what one run ingests. No location ids means all.
type Request struct {
	Years       []int `json:"years" validate:"required,min=1,max=50,dive,gte=1981,lte=9999"`
	LocationIDs []int `json:"location_ids" validate:"omitempty,dive,gt=0"`
}

// Orchestrator produces the merged dataset; implemented by *weather.Service.
type Orchestrator interface {
	Run(ctx context.Context, locations []weather.Location, years []int) (weather.Dataset, weather.RunStats, error)
}

// Selector resolves location ids; implemented by *registry.Registry.
type Selector interface {
	Select(ids []int) ([]weather.Location, error)
}

// LocationSyncer makes the selected locations available as foreign key targets.
type LocationSyncer interface {
	SyncLocations(ctx context.Context, locations []weather.Location) error
}

// ReportStore records run reports; implemented by *store.MemoryStore.
type ReportStore interface {
	SaveReport(report weather.RunReport)
}

// Deps bundles the collaborators of a Runner. Syncer, Publisher and Locker
// are optional.
type Deps struct {
	Orchestrator Orchestrator
	Registry     Selector
	Loader       weather.Loader
	Syncer       LocationSyncer
	Locker       lock.Locker
	Reports      ReportStore
	Publisher    notify.Publisher
}

// Runner executes ingest runs, at most one at a time per process.
type Runner struct {
	deps     Deps
	validate *validator.Validate
	log      zerolog.Logger
	metrics  *metrics.Metrics
	busy     atomic.Bool
	wg       sync.WaitGroup
	now      func() time.Time
	timeout  time.Duration
}

// NewRunner creates a Runner.
func NewRunner(deps Deps, logger zerolog.Logger, m *metrics.Metrics) *Runner {
	if deps.Publisher == nil {
		deps.Publisher = notify.NopPublisher{}
	}
	return &Runner{
		deps:     deps,
		validate: validator.New(),
		log:      logger.With().Str("component", "pipeline").Logger(),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithTimeout bounds every run by d. Set it no longer than the run lock TTL
// so a run cannot outlive its lock. Zero means unbounded.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	r.timeout = d
	return r
}

// Validate checks a request before it is run.
func (r *Runner) Validate(req Request) error {
	if err := r.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := r.deps.Registry.Select(req.LocationIDs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Run executes one ingest synchronously. A run that produced no data returns
// its report together with weather.ErrNoData.
func (r *Runner) Run(ctx context.Context, req Request) (weather.RunReport, error) {
	if err := r.Validate(req); err != nil {
		return weather.RunReport{}, err
	}
	if !r.busy.CompareAndSwap(false, true) {
		return weather.RunReport{}, ErrBusy
	}
	defer r.busy.Store(false)

	return r.run(ctx, uuid.NewString(), req)
}

// Start launches one ingest in the background and returns its run id.
func (r *Runner) Start(ctx context.Context, req Request) (string, error) {
	if err := r.Validate(req); err != nil {
		return "", err
	}
	if !r.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}

	runID := uuid.NewString()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.busy.Store(false)
		_, _ = r.run(ctx, runID, req)
	}()
	return runID, nil
}

// Busy reports whether a run is in progress.
func (r *Runner) Busy() bool { return r.busy.Load() }

// Wait blocks until background runs have finished.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) run(ctx context.Context, runID string, req Request) (report weather.RunReport, err error) {
	log := r.log.With().Str("run_id", runID).Logger()

	locations, err := r.deps.Registry.Select(req.LocationIDs)
	if err != nil {
		return weather.RunReport{}, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if r.deps.Locker != nil {
		release, err := r.deps.Locker.Acquire(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("pipeline: run lock not acquired")
			return weather.RunReport{}, err
		}
		defer func() {
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				log.Warn().Err(rerr).Msg("pipeline: releasing run lock failed")
			}
		}()
	}

	ids := make([]int, len(locations))
	for i, loc := range locations {
		ids[i] = loc.ID
	}
	report = weather.RunReport{
		RunID:       runID,
		Status:      weather.RunRunning,
		StartedAt:   r.now(),
		Years:       req.Years,
		LocationIDs: ids,
	}
	r.save(report)
	log.Info().Ints("years", req.Years).Int("locations", len(locations)).Msg("pipeline: run started")

	defer func() {
		report.FinishedAt = r.now()
		if err != nil && report.Status != weather.RunNoData {
			report.Status = weather.RunFailed
			report.Error = err.Error()
		}
		r.finish(ctx, log, report)
	}()

	ds, stats, err := r.deps.Orchestrator.Run(ctx, locations, req.Years)
	report.Stats = stats
	if errors.Is(err, weather.ErrNoData) {
		report.Status = weather.RunNoData
		report.Error = "no data produced"
		log.Warn().Msg("pipeline: no data produced; skipping load")
		return report, err
	}
	if err != nil {
		return report, err
	}

	if r.deps.Syncer != nil {
		if err := r.deps.Syncer.SyncLocations(ctx, locations); err != nil {
			return report, fmt.Errorf("pipeline: sync locations: %w", err)
		}
	}

	res, err := r.deps.Loader.Load(ctx, runID, ds)
	if err != nil {
		return report, err
	}
	report.Load = &res

	report.Status = weather.RunSucceeded
	if res.Unresolved {
		report.Status = weather.RunUnresolved
	}
	return report, nil
}

func (r *Runner) save(report weather.RunReport) {
	if r.deps.Reports != nil {
		r.deps.Reports.SaveReport(report)
	}
}

func (r *Runner) finish(ctx context.Context, log zerolog.Logger, report weather.RunReport) {
	r.save(report)
	duration := report.FinishedAt.Sub(report.StartedAt)
	r.metrics.RunFinished(string(report.Status), duration)

	ev := log.Info()
	if report.Status == weather.RunFailed || report.Status == weather.RunUnresolved {
		ev = log.Error().Str("error", report.Error)
	}
	ev.Str("status", string(report.Status)).
		Int("records", report.Stats.Records).
		Int("segments_failed", report.Stats.SegmentsFailed).
		Dur("duration", duration).
		Msg("pipeline: run finished")

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.deps.Publisher.Publish(pubCtx, report); err != nil {
		log.Warn().Err(err).Msg("pipeline: publishing run report failed")
	}
}
