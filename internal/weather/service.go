package weather

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/weather-history/internal/metrics"
)

// ErrNoData is returned by Run when every location and year came back empty.
var ErrNoData = errors.New("no data produced")

// ServiceConfig tunes the orchestrator.
type ServiceConfig struct {
	// SegmentMonths is the per-request window; 3 gives calendar quarters.
	SegmentMonths int
	// Workers bounds how many locations are processed concurrently.
	Workers int
}

// Service orchestrates fetching, parsing and normalizing history for a set
// of locations and years.
type Service struct {
	fetcher  SegmentFetcher
	contract ColumnContract
	cfg      ServiceConfig
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// NewService creates a new Service.
func NewService(fetcher SegmentFetcher, contract ColumnContract, cfg ServiceConfig, logger zerolog.Logger, m *metrics.Metrics) *Service {
	if cfg.SegmentMonths == 0 {
		cfg.SegmentMonths = DefaultSegmentMonths
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		fetcher:  fetcher,
		contract: contract,
		cfg:      cfg,
		log:      logger.With().Str("component", "orchestrator").Logger(),
		metrics:  m,
	}
}

type locationResult struct {
	years [][]WeatherRecord
	stats RunStats
}

// Run drives every (location, segment) pair and merges the results. Records
// are merged in location order, then year, then segment; later duplicates win.
// A failing location never aborts the run; only context cancellation does.
func (s *Service) Run(ctx context.Context, locations []Location, years []int) (Dataset, RunStats, error) {
	if _, err := YearSegments(0, 2000, s.cfg.SegmentMonths); err != nil {
		return nil, RunStats{}, err
	}

	results := make([]locationResult, len(locations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, loc := range locations {
		g.Go(func() error {
			res, err := s.runLocation(gctx, loc, years)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, RunStats{}, err
	}

	var (
		stats RunStats
		sets  [][]WeatherRecord
	)
	for _, res := range results {
		stats.add(res.stats)
		sets = append(sets, res.years...)
	}

	merged, dups := MergeRecords(sets...)
	stats.Records = len(merged)
	stats.Duplicates = dups
	s.metrics.RecordsProduced(len(merged))

	s.log.Info().
		Int("locations", len(locations)).
		Ints("years", years).
		Int("records", stats.Records).
		Int("duplicates", dups).
		Int("segments_failed", stats.SegmentsFailed).
		Int("segments_cached", stats.SegmentsCached).
		Msg("orchestrator: merge complete")

	if len(merged) == 0 {
		return nil, stats, ErrNoData
	}
	return merged, stats, nil
}

// runLocation processes all years of one location. It only returns an error
// when the context is done.
func (s *Service) runLocation(ctx context.Context, loc Location, years []int) (locationResult, error) {
	var res locationResult
	for _, year := range years {
		records, stats, err := s.runLocationYear(ctx, loc, year)
		res.stats.add(stats)
		if err != nil {
			return res, err
		}

		res.stats.LocationYears++
		if len(records) == 0 {
			res.stats.EmptyYears++
			s.log.Warn().
				Int("location_id", loc.ID).
				Str("location", loc.Name).
				Int("year", year).
				Msg("orchestrator: no records for location/year; continuing")
			continue
		}

		s.log.Info().
			Int("location_id", loc.ID).
			Str("location", loc.Name).
			Int("year", year).
			Int("records", len(records)).
			Msg("orchestrator: location/year done")
		res.years = append(res.years, records)
	}
	return res, nil
}

func (s *Service) runLocationYear(ctx context.Context, loc Location, year int) ([]WeatherRecord, RunStats, error) {
	var stats RunStats

	segments, err := YearSegments(loc.ID, year, s.cfg.SegmentMonths)
	if err != nil {
		return nil, stats, err
	}

	var records []WeatherRecord
	for _, seg := range segments {
		stats.Segments++
		log := s.log.With().Int("location_id", loc.ID).Str("segment", seg.String()).Logger()

		res, err := s.fetcher.Fetch(ctx, loc, seg)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return records, stats, fmt.Errorf("orchestrator: %w", ctxErr)
			}
			stats.SegmentsFailed++
			s.metrics.SegmentDone(metrics.SegmentFailed)
			log.Error().Err(err).Msg("orchestrator: segment fetch failed; skipping")
			continue
		}
		if res.Cached {
			stats.SegmentsCached++
			s.metrics.SegmentDone(metrics.SegmentCached)
		} else {
			stats.SegmentsFetched++
			s.metrics.SegmentDone(metrics.SegmentFetched)
		}

		rows, ok := ParsePayload(res.Body, s.contract)
		if !ok {
			stats.SegmentsEmpty++
			s.metrics.SegmentDone(metrics.SegmentEmpty)
			log.Warn().Int("bytes", len(res.Body)).Msg("orchestrator: payload has no usable table")
			continue
		}
		if rows.Skipped > 0 {
			log.Warn().Int("skipped", rows.Skipped).Int("rows", rows.Len()).Msg("orchestrator: malformed table lines skipped")
		}

		normalized, ok := Normalize(rows, loc.ID)
		if !ok {
			stats.SegmentsEmpty++
			s.metrics.SegmentDone(metrics.SegmentEmpty)
			log.Warn().Int("rows", rows.Len()).Msg("orchestrator: no row produced a valid date")
			continue
		}
		if dropped := rows.Len() - len(normalized); dropped > 0 {
			log.Debug().Int("rows", rows.Len()).Int("dropped", dropped).Msg("orchestrator: rows dropped during normalization")
		}
		records = append(records, normalized...)
	}
	return records, stats, nil
}
