package loader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/i474232898/weather-history/internal/weather"
)

// StagingColumns is the column order of the staging file and of the
// destination table's data columns.
var StagingColumns = append([]string{"location_id", "date"}, weather.MetricFields()...)

// StagingPath returns the staging file of one run.
func StagingPath(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("weather_daily_%s.csv", runID))
}

// WriteStaging writes ds as CSV with a header row. Nil optional metrics are
// written as empty fields, which the bulk path reads as NULL. The file is
// written to a temp name and renamed into place.
func WriteStaging(path string, ds weather.Dataset) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("loader: staging dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("loader: create staging file: %w", err)
	}
	defer os.Remove(tmp)

	bufw := bufio.NewWriterSize(f, 1<<20)
	w := csv.NewWriter(bufw)
	if err := w.Write(StagingColumns); err != nil {
		f.Close()
		return 0, fmt.Errorf("loader: write staging header: %w", err)
	}
	for _, r := range ds {
		if err := w.Write(stagingRow(r)); err != nil {
			f.Close()
			return 0, fmt.Errorf("loader: write staging row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return 0, fmt.Errorf("loader: flush staging file: %w", err)
	}
	if err := bufw.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("loader: flush staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, fmt.Errorf("loader: sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("loader: close staging file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("loader: rename staging file: %w", err)
	}
	return len(ds), nil
}

func stagingRow(r weather.WeatherRecord) []string {
	return []string{
		strconv.Itoa(r.LocationID),
		r.Date.Format(weather.DateLayout),
		formatFloat(r.TempMaxC),
		formatFloat(r.TempMinC),
		formatFloat(r.TempAvgC),
		formatOptional(r.HumidityPct),
		formatOptional(r.WindSpeedMS),
		formatOptional(r.PressureKPa),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// ReadStaging reads a staging file back into records. Rows that cannot be
// converted are returned as failures rather than aborting the read.
func ReadStaging(path string) ([]weather.WeatherRecord, []weather.RowFailure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loader: open staging file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("loader: read staging header: %w", err)
	}

	var (
		records  []weather.WeatherRecord
		failures []weather.RowFailure
		line     = 1
	)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			failures = append(failures, weather.RowFailure{Line: line, Error: err.Error()})
			continue
		}

		rec, err := parseStagingRow(row)
		if err != nil {
			failures = append(failures, weather.RowFailure{Line: line, Error: err.Error()})
			continue
		}
		records = append(records, rec)
	}
	return records, failures, nil
}

func parseStagingRow(row []string) (weather.WeatherRecord, error) {
	if len(row) != len(StagingColumns) {
		return weather.WeatherRecord{}, fmt.Errorf("expected %d fields, got %d", len(StagingColumns), len(row))
	}

	var (
		rec weather.WeatherRecord
		err error
	)
	if rec.LocationID, err = strconv.Atoi(row[0]); err != nil {
		return rec, fmt.Errorf("location_id: %w", err)
	}
	if rec.Date, err = time.Parse(weather.DateLayout, row[1]); err != nil {
		return rec, fmt.Errorf("date: %w", err)
	}
	if rec.TempMaxC, err = strconv.ParseFloat(row[2], 64); err != nil {
		return rec, fmt.Errorf("temp_max_c: %w", err)
	}
	if rec.TempMinC, err = strconv.ParseFloat(row[3], 64); err != nil {
		return rec, fmt.Errorf("temp_min_c: %w", err)
	}
	if rec.TempAvgC, err = strconv.ParseFloat(row[4], 64); err != nil {
		return rec, fmt.Errorf("temp_avg_c: %w", err)
	}
	if rec.HumidityPct, err = parseOptional(row[5]); err != nil {
		return rec, fmt.Errorf("humidity_pct: %w", err)
	}
	if rec.WindSpeedMS, err = parseOptional(row[6]); err != nil {
		return rec, fmt.Errorf("wind_speed_ms: %w", err)
	}
	if rec.PressureKPa, err = parseOptional(row[7]); err != nil {
		return rec, fmt.Errorf("pressure_kpa: %w", err)
	}
	return rec, nil
}

func parseOptional(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
