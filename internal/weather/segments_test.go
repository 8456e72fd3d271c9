package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYearSegmentsQuarters(t *testing.T) {
	segs, err := YearSegments(5, 2024, DefaultSegmentMonths)
	require.NoError(t, err)
	require.Len(t, segs, 4)

	want := [][2]string{
		{"20240101", "20240331"},
		{"20240401", "20240630"},
		{"20240701", "20240930"},
		{"20241001", "20241231"},
	}
	total := 0
	for i, s := range segs {
		assert.Equal(t, 5, s.LocationID)
		assert.Equal(t, want[i][0], s.StartCompact())
		assert.Equal(t, want[i][1], s.EndCompact())
		total += s.Days()
		if i > 0 {
			assert.Equal(t, segs[i-1].End.AddDate(0, 0, 1), s.Start, "segments are contiguous")
		}
	}
	assert.Equal(t, 366, total, "segments cover the whole leap year")
	assert.Equal(t, "5/20240101_20240331", segs[0].Key())
}

func TestYearSegmentsGranularity(t *testing.T) {
	monthly, err := YearSegments(1, 2023, 1)
	require.NoError(t, err)
	assert.Len(t, monthly, 12)
	assert.Equal(t, "20230228", monthly[1].EndCompact())

	yearly, err := YearSegments(1, 2023, 12)
	require.NoError(t, err)
	require.Len(t, yearly, 1)
	assert.Equal(t, 365, yearly[0].Days())

	for _, bad := range []int{0, 5, 7, 13, -3} {
		_, err := YearSegments(1, 2023, bad)
		assert.ErrorIs(t, err, ErrInvalidGranularity)
	}
}
