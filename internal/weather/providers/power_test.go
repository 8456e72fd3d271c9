package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-history/internal/retry"
	"github.com/i474232898/weather-history/internal/weather"
)

const samplePayload = "-BEGIN HEADER-\n" +
	"NASA/POWER Source Native Resolution Daily Data\n" +
	"-END HEADER-\n" +
	"YEAR,MO,DY,T2M_MAX,T2M_MIN,T2M\n" +
	"2024,1,1,1.5,-8.2,-3.1\n"

type mapStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	readErr error
}

func newMapStore() *mapStore { return &mapStore{data: map[string][]byte{}} }

func (s *mapStore) Get(_ context.Context, seg weather.Segment) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, false, s.readErr
	}
	b, ok := s.data[seg.Key()]
	return b, ok, nil
}

func (s *mapStore) Put(_ context.Context, seg weather.Segment, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[seg.Key()] = append([]byte(nil), body...)
	return nil
}

func testConfig(baseURL string) PowerConfig {
	return PowerConfig{
		BaseURL: baseURL,
		Backoff: BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	}
}

func quarter(locationID int) weather.Segment {
	return weather.Segment{
		LocationID: locationID,
		Start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

var beijing = weather.Location{ID: 1, Name: "Beijing", Lat: 39.9042, Lon: 116.4074}

func TestPowerClientWarmCacheSkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	store := newMapStore()
	client := NewPowerClient(srv.Client(), store, testConfig(srv.URL), zerolog.Nop(), nil)

	first, err := client.Fetch(context.Background(), beijing, quarter(1))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	second, err := client.Fetch(context.Background(), beijing, quarter(1))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second fetch must not reach the network")
}

func TestPowerClientQuery(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got = map[string]string{}
		for k := range q {
			got[k] = q.Get(k)
		}
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Parameters = []string{"T2M_MAX", "T2M_MIN", "T2M", "RH2M"}
	cfg.Community = "RE"
	client := NewPowerClient(srv.Client(), nil, cfg, zerolog.Nop(), nil)

	_, err := client.Fetch(context.Background(), beijing, quarter(1))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"start":      "20240101",
		"end":        "20240331",
		"latitude":   "39.9042",
		"longitude":  "116.4074",
		"parameters": "T2M_MAX,T2M_MIN,T2M,RH2M",
		"community":  "RE",
		"format":     "CSV",
	}, got)
}

func TestPowerClientClientErrorNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, `{"messages":["invalid parameter"]}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	store := newMapStore()
	client := NewPowerClient(srv.Client(), store, testConfig(srv.URL), zerolog.Nop(), nil)

	_, err := client.Fetch(context.Background(), beijing, quarter(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSegmentFailed)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Empty(t, store.data, "failed segments are not cached")
}

func TestPowerClientServerErrorRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	client := NewPowerClient(srv.Client(), nil, testConfig(srv.URL), zerolog.Nop(), nil)

	res, err := client.Fetch(context.Background(), beijing, quarter(1))
	require.NoError(t, err)
	assert.Equal(t, samplePayload, string(res.Body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestPowerClientRetriesExhausted(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewPowerClient(srv.Client(), nil, testConfig(srv.URL), zerolog.Nop(), nil)

	_, err := client.Fetch(context.Background(), beijing, quarter(1))
	assert.ErrorIs(t, err, ErrSegmentFailed)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestPowerClientSegmentTooWide(t *testing.T) {
	client := NewPowerClient(http.DefaultClient, nil, testConfig("http://127.0.0.1:1"), zerolog.Nop(), nil)

	seg := weather.Segment{
		LocationID: 1,
		Start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	_, err := client.Fetch(context.Background(), beijing, seg)
	assert.ErrorIs(t, err, ErrSegmentTooWide)
}

func TestPowerClientStoreReadErrorIsMiss(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	store := newMapStore()
	store.readErr = errors.New("disk unavailable")
	client := NewPowerClient(srv.Client(), store, testConfig(srv.URL), zerolog.Nop(), nil)

	res, err := client.Fetch(context.Background(), beijing, quarter(1))
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestPowerClientCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewPowerClient(srv.Client(), nil, testConfig(srv.URL), zerolog.Nop(), nil)
	_, err := client.Fetch(ctx, beijing, quarter(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&StatusError{Code: 500}))
	assert.True(t, isRetryable(&StatusError{Code: 429}))
	assert.False(t, isRetryable(&StatusError{Code: 404}))
	assert.False(t, isRetryable(errCircuitOpen))
	assert.False(t, isRetryable(errors.New("boom")))
}

func TestPowerClientRejectedLocationDoesNotOpenCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latitude") == "10.0000" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	client := NewPowerClient(srv.Client(), nil, testConfig(srv.URL), zerolog.Nop(), nil)

	rejected := weather.Location{ID: 1, Name: "Rejected", Lat: 10, Lon: 10}
	for i := 0; i < 12; i++ {
		_, err := client.Fetch(context.Background(), rejected, quarter(1))
		require.Error(t, err)
		assert.False(t, errors.Is(err, errCircuitOpen))
	}

	healthy := weather.Location{ID: 2, Name: "Healthy", Lat: 20, Lon: 20}
	res, err := client.Fetch(context.Background(), healthy, quarter(2))
	require.NoError(t, err)
	assert.Equal(t, samplePayload, string(res.Body))
}

func TestPowerClientServerErrorsOpenCircuit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewPowerClient(srv.Client(), nil, testConfig(srv.URL), zerolog.Nop(), nil)
	for i := 0; i < 4; i++ {
		_, err := client.Fetch(context.Background(), beijing, quarter(1))
		require.Error(t, err)
	}

	_, err := client.Fetch(context.Background(), beijing, quarter(1))
	assert.ErrorIs(t, err, errCircuitOpen)
	assert.Equal(t, int32(10), atomic.LoadInt32(&hits))
}

func TestBreakerSuccessful(t *testing.T) {
	assert.True(t, breakerSuccessful(nil))
	assert.True(t, breakerSuccessful(&StatusError{Code: 404}))
	assert.True(t, breakerSuccessful(&StatusError{Code: 422}))
	assert.False(t, breakerSuccessful(&StatusError{Code: 429}))
	assert.False(t, breakerSuccessful(&StatusError{Code: 503}))
	assert.False(t, breakerSuccessful(errors.New("connection refused")))
}
