package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-history/internal/metrics"
	"github.com/i474232898/weather-history/internal/pipeline"
	"github.com/i474232898/weather-history/internal/store"
	"github.com/i474232898/weather-history/internal/weather"
)

type stubRunner struct {
	ctx   context.Context
	got   pipeline.Request
	runID string
	err   error
}

func (s *stubRunner) Start(ctx context.Context, req pipeline.Request) (string, error) {
	s.ctx = ctx
	s.got = req
	return s.runID, s.err
}

func (s *stubRunner) Busy() bool { return false }

func newApp(runner RunStarter, reports ReportReader) *fiber.App {
	return newAppWithContext(context.Background(), runner, reports)
}

func newAppWithContext(ctx context.Context, runner RunStarter, reports ReportReader) *fiber.App {
	app := fiber.New()
	RegisterRoutes(ctx, app, runner, reports, metrics.New())
	return app
}

func do(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestStartRun(t *testing.T) {
	runner := &stubRunner{runID: "run-1"}
	app := newApp(runner, store.NewMemoryStore(10, time.Hour))

	resp, body := do(t, app, http.MethodPost, "/api/v1/runs", `{"years":[2023,2024],"location_ids":[1]}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"run_id":"run-1"}`, string(body))
	assert.Equal(t, []int{2023, 2024}, runner.got.Years)
	assert.Equal(t, []int{1}, runner.got.LocationIDs)
}

func TestStartRunUsesServerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &stubRunner{runID: "run-1"}
	app := newAppWithContext(ctx, runner, store.NewMemoryStore(10, time.Hour))

	resp, _ := do(t, app, http.MethodPost, "/api/v1/runs", `{"years":[2024]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotNil(t, runner.ctx)
	assert.NoError(t, runner.ctx.Err())

	cancel()
	assert.ErrorIs(t, runner.ctx.Err(), context.Canceled)
}

func TestStartRunErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "malformed body", body: `{"years":`, want: http.StatusBadRequest},
		{name: "invalid request", body: `{"years":[1900]}`, err: pipeline.ErrInvalidRequest, want: http.StatusBadRequest},
		{name: "busy", body: `{"years":[2024]}`, err: pipeline.ErrBusy, want: http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newApp(&stubRunner{err: tc.err}, store.NewMemoryStore(10, time.Hour))
			resp, _ := do(t, app, http.MethodPost, "/api/v1/runs", tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestLatestRun(t *testing.T) {
	reports := store.NewMemoryStore(10, time.Hour)
	app := newApp(&stubRunner{}, reports)

	resp, _ := do(t, app, http.MethodGet, "/api/v1/runs/latest", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	reports.SaveReport(weather.RunReport{RunID: "a", Status: weather.RunSucceeded, StartedAt: time.Now().UTC()})
	resp, body := do(t, app, http.MethodGet, "/api/v1/runs/latest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got weather.RunReport
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "a", got.RunID)
	assert.Equal(t, weather.RunSucceeded, got.Status)

	resp, _ = do(t, app, http.MethodGet, "/api/v1/runs/a", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, app, http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRunsLimit(t *testing.T) {
	reports := store.NewMemoryStore(10, time.Hour)
	now := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		reports.SaveReport(weather.RunReport{RunID: id, StartedAt: now.Add(time.Duration(i) * time.Minute)})
	}
	app := newApp(&stubRunner{}, reports)

	resp, body := do(t, app, http.MethodGet, "/api/v1/runs?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Runs []weather.RunReport `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Runs, 2)

	resp, _ = do(t, app, http.MethodGet, "/api/v1/runs?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newApp(&stubRunner{}, store.NewMemoryStore(10, time.Hour))

	resp, body := do(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, _ = do(t, app, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
