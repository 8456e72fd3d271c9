package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "SB", cfg.PowerCommunity)
	assert.Equal(t, 92, cfg.MaxSegmentDays)
	assert.Equal(t, 3, cfg.SegmentMonths)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestInterval)
	assert.Equal(t, 500, cfg.FallbackBatchSize)
	assert.Equal(t, "weather.runs", cfg.AMQPQueue)
	assert.Equal(t, []string{"T2M_MAX", "T2M_MIN", "T2M"}, cfg.Parameters())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WORKERS", "4")
	t.Setenv("POWER_COMMUNITY", "re")
	t.Setenv("HTTP_TIMEOUT", "45s")
	t.Setenv("YEARS", "2021,2023")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "RE", cfg.PowerCommunity)
	assert.Equal(t, 45*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "2021,2023", cfg.Years)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("segment_months: 6\nmax_segment_days: 184\nschedule: \"0 3 * * *\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.SegmentMonths)
	assert.Equal(t, 184, cfg.MaxSegmentDays)
	assert.Equal(t, "0 3 * * *", cfg.Schedule)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string][2]string{
		"community":      {"POWER_COMMUNITY", "XX"},
		"segment months": {"SEGMENT_MONTHS", "5"},
		"workers":        {"WORKERS", "0"},
		"years":          {"YEARS", "2024-2020"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestParseYears(t *testing.T) {
	years, err := ParseYears("2020-2024")
	require.NoError(t, err)
	assert.Equal(t, []int{2020, 2021, 2022, 2023, 2024}, years)

	years, err = ParseYears("2023, 2021,2023")
	require.NoError(t, err)
	assert.Equal(t, []int{2021, 2023}, years)

	for _, bad := range []string{"", "abc", "2024-2020", "1900", "2020-x"} {
		_, err := ParseYears(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs("1, 2,3")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids)

	ids, err = ParseIDs("")
	require.NoError(t, err)
	assert.Nil(t, ids)

	_, err = ParseIDs("1,-2")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", false, &buf)

	log.Info().Msg("hidden")
	log.Warn().Str("location_id", "7").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Contains(t, buf.String(), `"service":"weather-history"`)
}
