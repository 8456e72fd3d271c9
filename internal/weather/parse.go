package weather

import (
	"encoding/csv"
	"strings"

	"github.com/i474232898/weather-history/internal/common"
)

// RowSet is a parsed, projected payload table. Columns holds the retained
// provider column names; each row holds values in the same order.
type RowSet struct {
	Columns  []string
	Rows     [][]string
	Contract ColumnContract
	// Skipped counts table lines that were not valid CSV or had the wrong
	// number of fields.
	Skipped int

	index map[string]int
}

// Len returns the number of data rows.
func (rs RowSet) Len() int { return len(rs.Rows) }

// Has reports whether the column was retained.
func (rs RowSet) Has(col string) bool {
	_, ok := rs.index[col]
	return ok
}

// Value returns the value of col in row.
func (rs RowSet) Value(row []string, col string) (string, bool) {
	i, ok := rs.index[col]
	if !ok || i >= len(row) {
		return "", false
	}
	return row[i], true
}

// ParsePayload locates the header row by content, validates the contract
// and returns the projected rows. ok is false for payloads without a usable
// table (error pages, empty coverage, missing required columns).
func ParsePayload(payload []byte, contract ColumnContract) (RowSet, bool) {
	lines := strings.Split(strings.ReplaceAll(string(payload), "\r\n", "\n"), "\n")

	headerIdx := -1
	for i, line := range lines {
		if common.IsComment(line) {
			continue
		}
		if isHeaderLine(common.SplitFields(line, ",")) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return RowSet{}, false
	}

	header := common.SplitFields(lines[headerIdx], ",")
	if !hasRequiredColumns(header, contract) {
		return RowSet{}, false
	}

	keep := projection(header, contract)
	rs := RowSet{Contract: contract, index: make(map[string]int, len(keep))}
	for i, src := range keep {
		rs.Columns = append(rs.Columns, header[src])
		rs.index[header[src]] = i
	}

	for _, line := range lines[headerIdx+1:] {
		if common.IsComment(line) {
			continue
		}
		rec, err := readLine(line)
		if err != nil || len(rec) != len(header) {
			rs.Skipped++
			continue
		}
		row := make([]string, len(keep))
		for i, src := range keep {
			row[i] = strings.TrimSpace(rec[src])
		}
		rs.Rows = append(rs.Rows, row)
	}

	if len(rs.Rows) == 0 {
		return RowSet{}, false
	}
	return rs, true
}

// readLine parses one table line. Lines are read independently so a malformed
// line costs only itself.
func readLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(line)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r.Read()
}

// isHeaderLine reports whether the tokens look like the provider table header:
// date components plus at least one recognized metric column.
func isHeaderLine(tokens []string) bool {
	if !common.HasAll(tokens, ColumnYear) {
		return false
	}
	if !common.HasAll(tokens, ColumnMonth, ColumnDay) && !common.HasAny(tokens, ColumnDOY) {
		return false
	}
	return common.HasAny(tokens, knownMetricColumns()...)
}

func hasRequiredColumns(header []string, contract ColumnContract) bool {
	if !common.HasAll(header, ColumnYear) {
		return false
	}
	if !common.HasAll(header, ColumnMonth, ColumnDay) && !common.HasAny(header, ColumnDOY) {
		return false
	}
	return common.HasAll(header, contract.Required...)
}

// projection returns the header indexes to retain: date components, required
// metrics and known optional metrics, in header order.
func projection(header []string, contract ColumnContract) []int {
	want := map[string]bool{ColumnYear: true, ColumnMonth: true, ColumnDay: true, ColumnDOY: true}
	for _, c := range contract.Required {
		want[c] = true
	}
	for _, c := range contract.Optional {
		want[c] = true
	}

	var keep []int
	seen := make(map[string]bool)
	for i, col := range header {
		if want[col] && !seen[col] {
			seen[col] = true
			keep = append(keep, i)
		}
	}
	return keep
}
