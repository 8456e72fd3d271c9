package weather

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSegmentMonths splits a year into calendar quarters.
const DefaultSegmentMonths = 3

var ErrInvalidGranularity = errors.New("segment months must divide 12")

// YearSegments decomposes a calendar year into consecutive, non-overlapping
// segments of the given number of months.
func YearSegments(locationID, year, months int) ([]Segment, error) {
	if months <= 0 || months > 12 || 12%months != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidGranularity, months)
	}

	segments := make([]Segment, 0, 12/months)
	for m := 1; m <= 12; m += months {
		start := time.Date(year, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, months, -1)
		segments = append(segments, Segment{LocationID: locationID, Start: start, End: end})
	}
	return segments, nil
}
