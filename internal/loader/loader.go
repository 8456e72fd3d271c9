package loader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/i474232898/weather-history/internal/metrics"
	"github.com/i474232898/weather-history/internal/retry"
	"github.com/i474232898/weather-history/internal/weather"
)

// ErrEmptyDataset is returned by Load for a dataset with no records.
var ErrEmptyDataset = errors.New("loader: empty dataset")

// maxLoggedFailures bounds how many fallback row failures are logged.
const maxLoggedFailures = 5

// Session is one destination transaction. Prepare empties the destination
// with referential checks deferred; nothing is visible to other readers until
// Commit.
type Session interface {
	Prepare(ctx context.Context) error
	BulkLoad(ctx context.Context, stagingPath string) (int64, error)
	EnableConstraints(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	UpsertBatch(ctx context.Context, records []weather.WeatherRecord) (int64, error)
	UpsertRow(ctx context.Context, record weather.WeatherRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens destination sessions.
type Store interface {
	Begin(ctx context.Context) (Session, error)
}

// Config tunes the loader.
type Config struct {
	StagingDir        string
	FallbackBatchSize int
	MaxAttempts       int
	RetryBackoff      time.Duration
}

// Loader stages a dataset as CSV and replaces the destination table with it
// inside a single transaction.
type Loader struct {
	store   Store
	cfg     Config
	policy  retry.Policy
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Loader.
func New(store Store, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Loader {
	if cfg.StagingDir == "" {
		cfg.StagingDir = "staging"
	}
	if cfg.FallbackBatchSize <= 0 {
		cfg.FallbackBatchSize = 500
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	l := &Loader{
		store:   store,
		cfg:     cfg,
		log:     logger.With().Str("component", "loader").Logger(),
		metrics: m,
	}
	l.policy = retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     retry.Exponential(cfg.RetryBackoff, 30*time.Second, 0),
		Retryable:   IsTransient,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			l.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("loader: transient database error; retrying load")
		},
	}
	return l
}

// Load stages ds and replaces the destination contents. A count mismatch
// after the bulk path triggers the batched fallback; a discrepancy that
// survives the fallback is reported as Unresolved and still committed.
func (l *Loader) Load(ctx context.Context, runID string, ds weather.Dataset) (weather.LoadResult, error) {
	if len(ds) == 0 {
		return weather.LoadResult{}, ErrEmptyDataset
	}

	path := StagingPath(l.cfg.StagingDir, runID)
	staged, err := WriteStaging(path, ds)
	if err != nil {
		return weather.LoadResult{}, err
	}
	log := l.log.With().Str("run_id", runID).Str("staging", filepath.ToSlash(path)).Logger()
	log.Info().Int("rows", staged).Msg("loader: dataset staged")

	var res weather.LoadResult
	err = retry.Do(ctx, l.policy, func(ctx context.Context) error {
		res = weather.LoadResult{StagingPath: filepath.ToSlash(path), Staged: staged}
		return l.replace(ctx, log, path, &res)
	})
	if err != nil {
		return res, fmt.Errorf("loader: %w", err)
	}

	if res.UsedFallback {
		l.metrics.RowsLoaded("fallback", int64(res.FallbackInserted))
	} else {
		l.metrics.RowsLoaded("bulk", res.BulkLoaded)
	}

	ev := log.Info()
	if res.Unresolved {
		ev = log.Error()
	}
	ev.Int("staged", res.Staged).
		Int64("bulk_loaded", res.BulkLoaded).
		Bool("fallback", res.UsedFallback).
		Int("fallback_inserted", res.FallbackInserted).
		Int("failures", len(res.Failures)).
		Int64("final", res.Final).
		Bool("unresolved", res.Unresolved).
		Msg("loader: load complete")
	return res, nil
}

// replace runs one attempt of the transactional replace.
func (l *Loader) replace(ctx context.Context, log zerolog.Logger, path string, res *weather.LoadResult) (err error) {
	sess, err := l.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := sess.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				log.Warn().Err(rbErr).Msg("loader: rollback failed")
			}
		}
	}()

	if err := sess.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	n, bulkErr := sess.BulkLoad(ctx, path)
	res.BulkLoaded = n
	if bulkErr != nil {
		if ctx.Err() != nil || IsTransient(bulkErr) {
			return fmt.Errorf("bulk load: %w", bulkErr)
		}
		res.BulkError = bulkErr.Error()
		log.Warn().Err(bulkErr).Msg("loader: bulk load failed; using fallback")
	}

	if err := sess.EnableConstraints(ctx); err != nil {
		return fmt.Errorf("enable constraints: %w", err)
	}

	count, err := sess.Count(ctx)
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}

	if bulkErr != nil || count != int64(res.Staged) {
		if bulkErr == nil {
			l.metrics.LoadMismatch()
			log.Warn().Int64("loaded", count).Int("staged", res.Staged).Msg("loader: count mismatch after bulk load; using fallback")
		}
		if count, err = l.fallback(ctx, log, sess, path, res); err != nil {
			return err
		}
	}

	res.Final = count
	if count != int64(res.Staged) {
		res.Unresolved = true
		log.Error().Int64("final", count).Int("staged", res.Staged).Msg("loader: row count still differs after fallback")
	}

	if err := sess.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// fallback upserts the staged rows in fixed-size batches. A failed batch is
// retried row by row; rows that still fail are collected. It returns the
// recounted destination size.
func (l *Loader) fallback(ctx context.Context, log zerolog.Logger, sess Session, path string, res *weather.LoadResult) (int64, error) {
	res.UsedFallback = true

	records, failures, err := ReadStaging(path)
	if err != nil {
		return 0, err
	}
	res.Failures = append(res.Failures, failures...)

	size := l.cfg.FallbackBatchSize
	for i := 0; i < len(records); i += size {
		j := i + size
		if j > len(records) {
			j = len(records)
		}
		chunk := records[i:j]

		n, err := sess.UpsertBatch(ctx, chunk)
		if err == nil {
			res.FallbackInserted += int(n)
			continue
		}
		if ctx.Err() != nil || IsTransient(err) {
			return 0, fmt.Errorf("fallback batch: %w", err)
		}
		log.Warn().Err(err).Int("batch_start", i).Int("batch_size", len(chunk)).Msg("loader: batch failed; retrying row by row")

		for _, rec := range chunk {
			if err := sess.UpsertRow(ctx, rec); err != nil {
				if ctx.Err() != nil || IsTransient(err) {
					return 0, fmt.Errorf("fallback row: %w", err)
				}
				res.Failures = append(res.Failures, weather.RowFailure{
					LocationID: rec.LocationID,
					Date:       rec.Date.Format(weather.DateLayout),
					Error:      err.Error(),
				})
				continue
			}
			res.FallbackInserted++
		}
	}

	for i, f := range res.Failures {
		if i == maxLoggedFailures {
			log.Warn().Int("more", len(res.Failures)-maxLoggedFailures).Msg("loader: further row failures omitted")
			break
		}
		log.Warn().Int("line", f.Line).Int("location_id", f.LocationID).Str("date", f.Date).Str("error", f.Error).Msg("loader: row failed")
	}

	count, err := sess.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("recount: %w", err)
	}
	return count, nil
}

// IsTransient reports whether a database error is worth retrying the whole
// load: connection failures, serialization failures and deadlocks.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		}
		return false
	}

	var ne net.Error
	return errors.As(err, &ne)
}
