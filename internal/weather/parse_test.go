package weather

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func temperatureContract(t *testing.T) ColumnContract {
	t.Helper()
	c, err := NewColumnContract([]string{"T2M_MAX", "T2M_MIN", "T2M"})
	require.NoError(t, err)
	return c
}

func payloadWithPreamble(n int, header string, rows ...string) []byte {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "# preamble line %d, YEAR MO DY T2M mentioned in prose\n", i)
	}
	b.WriteString(header + "\n")
	for _, r := range rows {
		b.WriteString(r + "\n")
	}
	return []byte(b.String())
}

func TestParsePayloadLocatesHeaderAfterAnyPreamble(t *testing.T) {
	contract := temperatureContract(t)

	for _, n := range []int{0, 5, 13} {
		t.Run(fmt.Sprintf("preamble=%d", n), func(t *testing.T) {
			payload := payloadWithPreamble(n, "YEAR,MO,DY,T2M_MAX,T2M_MIN,T2M",
				"2024,1,1,10.5,2.1,6.3",
				"2024,1,2,11.0,3.0,7.0",
			)

			rs, ok := ParsePayload(payload, contract)
			require.True(t, ok)
			assert.Equal(t, 2, rs.Len())
			assert.Equal(t, []string{"YEAR", "MO", "DY", "T2M_MAX", "T2M_MIN", "T2M"}, rs.Columns)

			v, ok := rs.Value(rs.Rows[0], "T2M_MAX")
			require.True(t, ok)
			assert.Equal(t, "10.5", v)
		})
	}
}

func TestParsePayloadPowerHeaderBlock(t *testing.T) {
	payload := strings.Join([]string{
		"-BEGIN HEADER-",
		"NASA/POWER CERES/MERRA2 Native Resolution Daily Data",
		"Dates (month/day/year): 01/01/2024 through 01/02/2024",
		"Location: Latitude  39.9042   Longitude 116.4074",
		"T2M_MAX     MERRA-2 Temperature at 2 Meters Maximum (C)",
		"-END HEADER-",
		"YEAR,MO,DY,T2M_MAX,T2M_MIN,T2M",
		"2024,1,1,1.5,-8.2,-3.1",
		"",
		"2024,1,2,2.5,-7.2,-2.1",
	}, "\r\n")

	rs, ok := ParsePayload([]byte(payload), temperatureContract(t))
	require.True(t, ok)
	assert.Equal(t, 2, rs.Len())
}

func TestParsePayloadMissingRequiredColumnIsEmpty(t *testing.T) {
	payload := payloadWithPreamble(3, "YEAR,MO,DY,T2M_MAX,T2M", "2024,1,1,10.5,6.3")

	_, ok := ParsePayload(payload, temperatureContract(t))
	assert.False(t, ok)
}

func TestParsePayloadRequestedOptionalMetricMissingIsEmpty(t *testing.T) {
	contract, err := NewColumnContract([]string{"T2M_MAX", "T2M_MIN", "T2M", "RH2M"})
	require.NoError(t, err)
	payload := payloadWithPreamble(1, "YEAR,MO,DY,T2M_MAX,T2M_MIN,T2M", "2024,1,1,10.5,2.1,6.3")

	_, ok := ParsePayload(payload, contract)
	assert.False(t, ok)
}

func TestParsePayloadNoHeaderIsEmpty(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"html error":    "<html><body>503 Service Unavailable</body></html>",
		"json error":    `{"messages": ["The POWER API is temporarily unavailable"]}`,
		"only comments": "# a\n# b\n",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := ParsePayload([]byte(payload), temperatureContract(t))
			assert.False(t, ok)
		})
	}
}

func TestParsePayloadHeaderWithoutRowsIsEmpty(t *testing.T) {
	payload := payloadWithPreamble(2, "YEAR,MO,DY,T2M_MAX,T2M_MIN,T2M")

	_, ok := ParsePayload(payload, temperatureContract(t))
	assert.False(t, ok)
}

func TestParsePayloadProjectsUnknownColumns(t *testing.T) {
	payload := payloadWithPreamble(0, "LAT,LON,YEAR,MO,DY,T2M_MAX,ALLSKY_SFC_SW_DWN,T2M_MIN,T2M,WS10M",
		"39.9,116.4,2024,1,1,10.5,3.3,2.1,6.3,4.2",
		"39.9,116.4,2024,1,2,short,row",
	)

	rs, ok := ParsePayload(payload, temperatureContract(t))
	require.True(t, ok)
	assert.Equal(t, []string{"YEAR", "MO", "DY", "T2M_MAX", "T2M_MIN", "T2M", "WS10M"}, rs.Columns)
	assert.False(t, rs.Has("LAT"))
	assert.Equal(t, 1, rs.Len(), "rows with a wrong field count are skipped")
}

func TestParsePayloadDayOfYearHeader(t *testing.T) {
	payload := payloadWithPreamble(4, "YEAR,DOY,T2M_MAX,T2M_MIN,T2M", "2024,60,10.5,2.1,6.3")

	rs, ok := ParsePayload(payload, temperatureContract(t))
	require.True(t, ok)
	assert.True(t, rs.Has(ColumnDOY))
	assert.False(t, rs.Has(ColumnMonth))
}

func TestNewColumnContract(t *testing.T) {
	c, err := NewColumnContract([]string{"t2m", "RH2M"})
	require.NoError(t, err)
	assert.Equal(t, []string{"T2M_MAX", "T2M_MIN", "T2M", "RH2M"}, c.Required)
	assert.Equal(t, []string{"WS10M", "PS"}, c.Optional)
	assert.Equal(t, c.Required, c.Parameters())

	_, err = NewColumnContract([]string{"PM25"})
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestParsePayloadSkipsMalformedLines(t *testing.T) {
	payload := payloadWithPreamble(3, "YEAR,MO,DY,T2M_MAX,T2M_MIN,T2M",
		"2024,1,1,10.5,2.1,6.3",
		`2024,1,2,"11.0,3.0,7.0`,
		"2024,1,3,12.0,4.0",
		"2024,1,4,13.0,5.0,9.0",
	)

	rs, ok := ParsePayload(payload, temperatureContract(t))
	require.True(t, ok)
	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, 2, rs.Skipped)

	v, ok := rs.Value(rs.Rows[1], "DY")
	require.True(t, ok)
	assert.Equal(t, "4", v)
}
