package egauge

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/egaugemx/tarifador/pkg/tariff"
)

// TimestampColumn is the name given to the first CSV column.
const TimestampColumn = "timestamp"

// ErrNoRows is returned for a CSV with a header and no data.
var ErrNoRows = errors.New("egauge csv has no rows")

// Row is a parsed CSV line. Values holds only the cells that parsed as
// numbers.
type Row struct {
	Timestamp tariff.Timestamp
	Raw       string
	Values    map[string]float64
}

// Table is a parsed eGauge export.
type Table struct {
	Columns []string
	Rows    []Row
}

var columnReplacer = strings.NewReplacer(
	" ", "_",
	"%", "pct",
	"+", "plus",
	"-", "_",
	".", "_",
)

// NormalizeColumns renames CSV headers into storable column names. The first
// column becomes TimestampColumn and numeric or unnamed headers become
// sensor_{index}. Duplicates get a numeric suffix.
func NormalizeColumns(header []string) []string {
	out := make([]string, len(header))
	seen := map[string]int{}
	for i, h := range header {
		name := strings.TrimSpace(h)
		switch {
		case i == 0:
			name = TimestampColumn
		case name == "" || isNumeric(name) || strings.HasPrefix(name, "Unnamed"):
			name = fmt.Sprintf("sensor_%d", i)
		}
		name = columnReplacer.Replace(name)
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func separator(body []byte) rune {
	first, _, _ := bytes.Cut(body, []byte("\n"))
	if bytes.ContainsRune(first, ',') {
		return ','
	}
	return ';'
}

// ParseCSV parses an eGauge export. The separator is ',' when the header
// line contains one and ';' otherwise. Timestamps that do not parse are left
// invalid and numeric cells that do not parse are left out.
func ParseCSV(body []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(body, []byte("\ufeff"))))
	r.Comma = separator(body)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return Table{}, ErrNoRows
	}
	if err != nil {
		return Table{}, fmt.Errorf("failed to read egauge csv header: %w", err)
	}

	t := Table{Columns: NormalizeColumns(header)}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("failed to read egauge csv: %w", err)
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		row := Row{Raw: record[0], Values: map[string]float64{}}
		// invalid timestamps stay zero and are reported by the classifier
		row.Timestamp, _ = tariff.ParseTimestamp(record[0])
		for i := 1; i < len(record) && i < len(t.Columns); i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			row.Values[t.Columns[i]] = v
		}
		t.Rows = append(t.Rows, row)
	}
	if len(t.Rows) == 0 {
		return Table{}, ErrNoRows
	}
	return t, nil
}

// Timestamps returns the timestamp of every row.
func (t Table) Timestamps() []tariff.Timestamp {
	out := make([]tariff.Timestamp, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Timestamp
	}
	return out
}
