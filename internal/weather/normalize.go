package weather

import (
	"strconv"
	"time"
)

// Normalize maps parsed rows to WeatherRecords for one location. Rows with an
// invalid date, or with a required metric that is missing, non-numeric or
// equal to SentinelValue, are dropped. ok is false when no row produced a
// valid date.
func Normalize(rs RowSet, locationID int) ([]WeatherRecord, bool) {
	out := make([]WeatherRecord, 0, rs.Len())
	seen := make(map[RecordKey]int, rs.Len())
	dated := 0

	for _, row := range rs.Rows {
		date, ok := rowDate(rs, row)
		if !ok {
			continue
		}
		dated++

		rec := WeatherRecord{LocationID: locationID, Date: date}
		if !fillMetrics(rs, row, &rec) {
			continue
		}

		key := rec.Key()
		if i, dup := seen[key]; dup {
			out[i] = rec
			continue
		}
		seen[key] = len(out)
		out = append(out, rec)
	}

	if dated == 0 {
		return nil, false
	}
	return out, true
}

// rowDate builds the calendar date from YEAR/MO/DY, falling back to YEAR/DOY.
func rowDate(rs RowSet, row []string) (time.Time, bool) {
	year, ok := intValue(rs, row, ColumnYear)
	if !ok || year < 1 {
		return time.Time{}, false
	}

	if month, ok := intValue(rs, row, ColumnMonth); ok {
		day, ok := intValue(rs, row, ColumnDay)
		if !ok {
			return time.Time{}, false
		}
		d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		// time.Date normalizes overflow; reject dates that do not round-trip.
		if d.Year() != year || int(d.Month()) != month || d.Day() != day {
			return time.Time{}, false
		}
		return d, true
	}

	doy, ok := intValue(rs, row, ColumnDOY)
	if !ok || doy < 1 {
		return time.Time{}, false
	}
	d := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)
	if d.Year() != year {
		return time.Time{}, false
	}
	return d, true
}

func intValue(rs RowSet, row []string, col string) (int, bool) {
	raw, ok := rs.Value(row, col)
	if !ok || raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// Some payloads render integers as "1.0".
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, false
		}
		n = int(f)
	}
	return n, true
}

// fillMetrics copies metric columns into rec. It returns false when the row
// must be dropped.
func fillMetrics(rs RowSet, row []string, rec *WeatherRecord) bool {
	for _, m := range KnownMetrics {
		raw, present := rs.Value(row, m.Column)
		required := rs.Contract.IsRequired(m.Column)

		var (
			v     float64
			valid bool
		)
		if present && raw != "" {
			f, err := strconv.ParseFloat(raw, 64)
			valid = err == nil && f != SentinelValue
			v = f
		}

		if !valid {
			if required {
				return false
			}
			continue
		}

		m.Set(rec, v)
	}
	return true
}
