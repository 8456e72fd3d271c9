package weather

import (
	"errors"
	"fmt"
	"strings"
)

// Provider date-component columns.
const (
	ColumnYear  = "YEAR"
	ColumnMonth = "MO"
	ColumnDay   = "DY"
	ColumnDOY   = "DOY"
)

// Metric maps a provider column to its canonical field and the record
// setter for a valid value.
type Metric struct {
	Column string
	Field  string
	Set    func(rec *WeatherRecord, v float64)
}

// KnownMetrics is the fixed provider → canonical rename table, in staging
// column order.
var KnownMetrics = []Metric{
	{Column: "T2M_MAX", Field: "temp_max_c", Set: func(r *WeatherRecord, v float64) { r.TempMaxC = v }},
	{Column: "T2M_MIN", Field: "temp_min_c", Set: func(r *WeatherRecord, v float64) { r.TempMinC = v }},
	{Column: "T2M", Field: "temp_avg_c", Set: func(r *WeatherRecord, v float64) { r.TempAvgC = v }},
	{Column: "RH2M", Field: "humidity_pct", Set: func(r *WeatherRecord, v float64) { r.HumidityPct = &v }},
	{Column: "WS10M", Field: "wind_speed_ms", Set: func(r *WeatherRecord, v float64) { r.WindSpeedMS = &v }},
	{Column: "PS", Field: "pressure_kpa", Set: func(r *WeatherRecord, v float64) { r.PressureKPa = &v }},
}

// temperatureColumns are always required: a WeatherRecord cannot exist without them.
var temperatureColumns = []string{"T2M_MAX", "T2M_MIN", "T2M"}

var ErrUnknownMetric = errors.New("unknown metric")

// ColumnContract lists the metric columns a payload must carry and the
// known optional ones that are kept when present.
type ColumnContract struct {
	Required []string
	Optional []string
}

// NewColumnContract builds a contract for the requested provider metrics.
// Temperature metrics are always required; known metrics that were not
// requested become optional.
func NewColumnContract(requested []string) (ColumnContract, error) {
	var c ColumnContract
	seen := make(map[string]bool)

	add := func(col string) {
		if !seen[col] {
			seen[col] = true
			c.Required = append(c.Required, col)
		}
	}

	for _, col := range temperatureColumns {
		add(col)
	}
	for _, raw := range requested {
		col := strings.ToUpper(strings.TrimSpace(raw))
		if col == "" {
			continue
		}
		if !IsKnownMetric(col) {
			return ColumnContract{}, fmt.Errorf("%w: %s", ErrUnknownMetric, raw)
		}
		add(col)
	}

	for _, m := range KnownMetrics {
		if !seen[m.Column] {
			c.Optional = append(c.Optional, m.Column)
		}
	}
	return c, nil
}

// Parameters returns the provider parameter list to request.
func (c ColumnContract) Parameters() []string {
	return append([]string(nil), c.Required...)
}

// IsRequired reports whether col is a required metric column.
func (c ColumnContract) IsRequired(col string) bool {
	for _, r := range c.Required {
		if r == col {
			return true
		}
	}
	return false
}

// IsKnownMetric reports whether col is in the rename table.
func IsKnownMetric(col string) bool {
	for _, m := range KnownMetrics {
		if m.Column == col {
			return true
		}
	}
	return false
}

// MetricFields returns the canonical field names in rename-table order.
func MetricFields() []string {
	fields := make([]string, len(KnownMetrics))
	for i, m := range KnownMetrics {
		fields[i] = m.Field
	}
	return fields
}

func knownMetricColumns() []string {
	cols := make([]string, len(KnownMetrics))
	for i, m := range KnownMetrics {
		cols[i] = m.Column
	}
	return cols
}
