package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/weather-history/internal/metrics"
	"github.com/i474232898/weather-history/internal/weather"
)

// DefaultPowerURL is the NASA POWER daily point endpoint.
const DefaultPowerURL = "https://power.larc.nasa.gov/api/temporal/daily/point"

var (
	// ErrSegmentTooWide is returned before any I/O for segments wider than
	// the provider accepts in one request.
	ErrSegmentTooWide = errors.New("segment exceeds provider request limit")
	// ErrSegmentFailed wraps the last failure of a segment whose retries ran out
	// or that failed with a non-retryable error.
	ErrSegmentFailed = errors.New("segment fetch failed")
)

// PowerConfig configures the NASA POWER client.
type PowerConfig struct {
	BaseURL         string
	Community       string
	Parameters      []string
	MaxSegmentDays  int
	RequestInterval time.Duration
	Backoff         BackoffConfig
}

// DefaultPowerConfig returns the production settings.
func DefaultPowerConfig() PowerConfig {
	return PowerConfig{
		BaseURL:         DefaultPowerURL,
		Community:       "SB",
		Parameters:      []string{"T2M_MAX", "T2M_MIN", "T2M"},
		MaxSegmentDays:  92,
		RequestInterval: 500 * time.Millisecond,
		Backoff: BackoffConfig{
			MaxRetries:      2,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Jitter:          time.Second,
		},
	}
}

// PowerClient implements weather.SegmentFetcher for NASA POWER. Raw payloads
// are read from and written to the RawStore so re-runs skip segments that
// were already fetched.
type PowerClient struct {
	cfg     PowerConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	store   weather.RawStore
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewPowerClient creates a PowerClient. store may be nil to disable caching.
func NewPowerClient(client *http.Client, store weather.RawStore, cfg PowerConfig, logger zerolog.Logger, m *metrics.Metrics) *PowerClient {
	def := DefaultPowerConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Community == "" {
		cfg.Community = def.Community
	}
	if len(cfg.Parameters) == 0 {
		cfg.Parameters = def.Parameters
	}
	if cfg.MaxSegmentDays <= 0 {
		cfg.MaxSegmentDays = def.MaxSegmentDays
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff = def.Backoff
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nasa-power",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 10
		},
		IsSuccessful: breakerSuccessful,
	})

	return &PowerClient{
		cfg:     cfg,
		httpCfg: HTTPClientConfig{Client: client, Backoff: cfg.Backoff},
		circuit: cb,
		limiter: rate.NewLimiter(limit, 1),
		store:   store,
		log:     logger.With().Str("component", "fetcher").Logger(),
		metrics: m,
	}
}

// Fetch returns the raw payload of one segment, from the raw store when
// present and from the provider otherwise.
func (p *PowerClient) Fetch(ctx context.Context, loc weather.Location, seg weather.Segment) (weather.FetchResult, error) {
	if days := seg.Days(); days > p.cfg.MaxSegmentDays || days < 1 {
		return weather.FetchResult{}, fmt.Errorf("%w: %s spans %d days (max %d)", ErrSegmentTooWide, seg.Key(), days, p.cfg.MaxSegmentDays)
	}

	log := p.log.With().Int("location_id", loc.ID).Str("segment", seg.String()).Logger()

	if p.store != nil {
		body, ok, err := p.store.Get(ctx, seg)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("fetcher: raw store read failed; fetching")
		case ok:
			log.Debug().Int("bytes", len(body)).Msg("fetcher: cache hit")
			return weather.FetchResult{Body: body, Cached: true}, nil
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return weather.FetchResult{}, err
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		u := fmt.Sprintf("%s?%s", p.cfg.BaseURL, p.query(loc, seg).Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
	onRetry := func(attempt int, delay time.Duration, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("fetcher: request failed; retrying")
	}

	body, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest, p.metrics.UpstreamRequest, onRetry)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return weather.FetchResult{}, ctxErr
		}
		return weather.FetchResult{}, fmt.Errorf("%w: %s: %w", ErrSegmentFailed, seg.Key(), err)
	}

	if p.store != nil && len(body) > 0 {
		if err := p.store.Put(ctx, seg, body); err != nil {
			log.Warn().Err(err).Msg("fetcher: raw store write failed")
		}
	}

	log.Debug().Int("bytes", len(body)).Msg("fetcher: segment fetched")
	return weather.FetchResult{Body: body}, nil
}

func (p *PowerClient) query(loc weather.Location, seg weather.Segment) url.Values {
	values := url.Values{}
	values.Set("start", seg.StartCompact())
	values.Set("end", seg.EndCompact())
	values.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', 4, 64))
	values.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', 4, 64))
	values.Set("parameters", strings.Join(p.cfg.Parameters, ","))
	values.Set("community", p.cfg.Community)
	values.Set("format", "CSV")
	return values
}
