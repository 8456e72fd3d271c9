package weather

import (
	"fmt"
	"time"
)

// DateLayout is the canonical calendar-date format used in staging files and logs.
const DateLayout = "2006-01-02"

// compactDateLayout is the provider's YYYYMMDD query format.
const compactDateLayout = "20060102"

// SentinelValue is the provider's "no observation" marker.
const SentinelValue = -999.0

// Location represents a fixed point for which daily history is collected.
// Loaded once from the registry and never mutated.
type Location struct {
	ID     int     `json:"id" mapstructure:"id" validate:"required,gt=0"`
	Name   string  `json:"name" mapstructure:"name" validate:"required"`
	Region string  `json:"region,omitempty" mapstructure:"region"`
	Lat    float64 `json:"latitude" mapstructure:"latitude" validate:"gte=-90,lte=90"`
	Lon    float64 `json:"longitude" mapstructure:"longitude" validate:"gte=-180,lte=180"`
}

// Key returns a canonical string key for logging and indexing this location.
func (l Location) Key() string {
	return fmt.Sprintf("%d:%s", l.ID, l.Name)
}

// Segment is one bounded request window for a location. Start and End are
// calendar dates (UTC midnight) and End is inclusive.
type Segment struct {
	LocationID int
	Start      time.Time
	End        time.Time
}

// Days returns the number of calendar days covered by the segment.
func (s Segment) Days() int {
	return int(s.End.Sub(s.Start).Hours()/24) + 1
}

// StartCompact returns the start date as YYYYMMDD.
func (s Segment) StartCompact() string { return s.Start.Format(compactDateLayout) }

// EndCompact returns the end date as YYYYMMDD.
func (s Segment) EndCompact() string { return s.End.Format(compactDateLayout) }

// Key identifies the segment in caches: "<location>/<start>_<end>".
func (s Segment) Key() string {
	return fmt.Sprintf("%d/%s_%s", s.LocationID, s.StartCompact(), s.EndCompact())
}

func (s Segment) String() string {
	return s.StartCompact() + "-" + s.EndCompact()
}

// WeatherRecord is the canonical daily row written to the destination table.
// Optional metrics are nil when the provider did not return them.
type WeatherRecord struct {
	LocationID  int       `json:"locationId"`
	Date        time.Time `json:"date"`
	TempMaxC    float64   `json:"tempMaxC"`
	TempMinC    float64   `json:"tempMinC"`
	TempAvgC    float64   `json:"tempAvgC"`
	HumidityPct *float64  `json:"humidityPct,omitempty"`
	WindSpeedMS *float64  `json:"windSpeedMs,omitempty"`
	PressureKPa *float64  `json:"pressureKpa,omitempty"`
}

// RecordKey is the uniqueness key of a WeatherRecord.
type RecordKey struct {
	LocationID int
	Date       string
}

// Key returns the (location, date) uniqueness key.
func (r WeatherRecord) Key() RecordKey {
	return RecordKey{LocationID: r.LocationID, Date: r.Date.Format(DateLayout)}
}

// Dataset is the merged output of one run, ready for loading.
type Dataset []WeatherRecord

// RunStats summarizes one orchestrator pass.
type RunStats struct {
	Segments        int `json:"segments"`
	SegmentsFetched int `json:"segmentsFetched"`
	SegmentsCached  int `json:"segmentsCached"`
	SegmentsFailed  int `json:"segmentsFailed"`
	SegmentsEmpty   int `json:"segmentsEmpty"`
	LocationYears   int `json:"locationYears"`
	EmptyYears      int `json:"emptyYears"`
	Records         int `json:"records"`
	Duplicates      int `json:"duplicates"`
}

func (s *RunStats) add(o RunStats) {
	s.Segments += o.Segments
	s.SegmentsFetched += o.SegmentsFetched
	s.SegmentsCached += o.SegmentsCached
	s.SegmentsFailed += o.SegmentsFailed
	s.SegmentsEmpty += o.SegmentsEmpty
	s.LocationYears += o.LocationYears
	s.EmptyYears += o.EmptyYears
}
