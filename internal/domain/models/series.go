package models

import (
	"math"
	"strings"
	"time"
)

// RawColumn is one data column of a RawSeries. Missing numeric cells are NaN.
// Text carries the original cells for columns that failed numeric parsing.
type RawColumn struct {
	Name    string    `json:"name"`
	Numeric bool      `json:"numeric"`
	Values  []float64 `json:"values,omitempty"`
	Text    []string  `json:"text,omitempty"`
}

// RawSeries is a time-ordered table with a single time column.
type RawSeries struct {
	Name       string      `json:"name"`
	TimeColumn string      `json:"time_column"`
	Times      []time.Time `json:"times"`
	Columns    []RawColumn `json:"columns"`
}

func (s *RawSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Times)
}

// Column finds a column by exact name.
func (s *RawSeries) Column(name string) (*RawColumn, bool) {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

// ColumnFold finds the first column whose name matches case-insensitively.
func (s *RawSeries) ColumnFold(name string) (*RawColumn, bool) {
	for i := range s.Columns {
		if strings.EqualFold(s.Columns[i].Name, name) {
			return &s.Columns[i], true
		}
	}
	return nil, false
}

func (s *RawSeries) LastTime() (time.Time, bool) {
	if s.Len() == 0 {
		return time.Time{}, false
	}
	return s.Times[len(s.Times)-1], true
}

// Rows renders the series as JSON-friendly records keyed by lower-cased column
// names. Missing numeric cells become nil.
func (s *RawSeries) Rows() []map[string]interface{} {
	out := make([]map[string]interface{}, s.Len())
	timeKey := strings.ToLower(s.TimeColumn)
	if timeKey == "" {
		timeKey = "date"
	}
	for i := range out {
		row := make(map[string]interface{}, len(s.Columns)+1)
		row[timeKey] = s.Times[i].Format("2006-01-02T15:04:05")
		for _, c := range s.Columns {
			key := strings.ToLower(c.Name)
			switch {
			case !c.Numeric && i < len(c.Text):
				row[key] = c.Text[i]
			case c.Numeric && i < len(c.Values) && !math.IsNaN(c.Values[i]):
				row[key] = c.Values[i]
			default:
				row[key] = nil
			}
		}
		out[i] = row
	}
	return out
}

// DatasetInfo summarises a registered dataset.
type DatasetInfo struct {
	Name    string    `json:"name"`
	Rows    int       `json:"rows"`
	Columns []string  `json:"columns"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
}
