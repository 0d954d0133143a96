package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// YearRow is one row of the dense year table: a year and one value per series
// that has an observation for it. Series order follows insertion.
type YearRow struct {
	Year   int
	names  []string
	values map[string]float64
}

// NewYearRow returns an empty row for year.
func NewYearRow(year int) YearRow {
	return YearRow{Year: year, values: map[string]float64{}}
}

// Set records value under name, keeping the first insertion position.
func (r *YearRow) Set(name string, value float64) {
	if r.values == nil {
		r.values = map[string]float64{}
	}
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = value
}

// Value returns the value recorded for name.
func (r YearRow) Value(name string) (float64, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names lists the series present in the row.
func (r YearRow) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len reports how many series the row carries.
func (r YearRow) Len() int { return len(r.names) }

// MarshalJSON renders the row as a flat object: {"year":1980,"北海道":5575989}.
func (r YearRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"year":`)
	buf.WriteString(strconv.Itoa(r.Year))
	for _, name := range r.names {
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(r.values[name], 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// YearTable is the pivoted row-per-year structure consumed by chart and export renderers.
type YearTable []YearRow

// Series lists every series name across the table in first-seen order.
func (t YearTable) Series() []string {
	seen := map[string]struct{}{}
	var names []string
	for _, row := range t {
		for _, name := range row.names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// Years lists the row years in table order.
func (t YearTable) Years() []int {
	years := make([]int, 0, len(t))
	for _, row := range t {
		years = append(years, row.Year)
	}
	return years
}
