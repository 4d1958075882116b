package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"PriceCast/internal/domain/errs"
	"PriceCast/internal/domain/models"
	"PriceCast/pkg/util"
)

// TimeColumnCandidates are the header names recognised as the time column.
var TimeColumnCandidates = []string{"date", "Date", "DATE", "time", "TIME", "時間", "日期"}

var missingCells = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "NaN": {}, "nan": {}, "null": {}, "NULL": {}, "-": {},
}

// ParseCSV reads a header-first CSV document into a RawSeries. rename, when
// non-nil, maps each header cell before the time column is detected.
func ParseCSV(name string, r io.Reader, rename func(string) string) (*models.RawSeries, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errs.Data(errs.MalformedSchema, "dataset %s is empty", name)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindData, errs.MalformedSchema, err, "read header of %s", name)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if rename != nil {
			h = rename(h)
		}
		header[i] = h
	}

	timeIdx, err := detectTimeColumn(name, header)
	if err != nil {
		return nil, err
	}

	type row struct {
		t     time.Time
		cells []string
	}
	var rows []row
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, errs.Wrap(errs.KindData, errs.MalformedSchema, err, "read %s line %d", name, line)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != len(header) {
			return nil, errs.Data(errs.MalformedSchema, "%s line %d has %d fields, header has %d", name, line, len(rec), len(header))
		}
		t, ok := util.ParseTime(rec[timeIdx])
		if !ok {
			return nil, errs.Data(errs.MalformedSchema, "%s line %d: unparseable time %q", name, line, rec[timeIdx])
		}
		rows = append(rows, row{t: t, cells: rec})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].t.Before(rows[j].t) })
	for i := 1; i < len(rows); i++ {
		if rows[i].t.Equal(rows[i-1].t) {
			return nil, errs.Data(errs.MalformedSchema, "%s has duplicate timestamp %s", name, rows[i].t.Format(time.RFC3339))
		}
	}

	series := &models.RawSeries{
		Name:       name,
		TimeColumn: header[timeIdx],
		Times:      make([]time.Time, len(rows)),
	}
	for i, r := range rows {
		series.Times[i] = r.t
	}
	for ci, h := range header {
		if ci == timeIdx {
			continue
		}
		col := models.RawColumn{Name: h, Numeric: true, Values: make([]float64, len(rows))}
		text := make([]string, len(rows))
		for ri, r := range rows {
			cell := strings.TrimSpace(r.cells[ci])
			text[ri] = cell
			if _, missing := missingCells[cell]; missing {
				col.Values[ri] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				col.Numeric = false
				continue
			}
			col.Values[ri] = v
		}
		if !col.Numeric {
			col.Values = nil
			col.Text = text
		}
		series.Columns = append(series.Columns, col)
	}
	return series, nil
}

func detectTimeColumn(name string, header []string) (int, error) {
	idx := -1
	for i, h := range header {
		for _, c := range TimeColumnCandidates {
			if h == c {
				if idx >= 0 {
					return -1, errs.Data(errs.DuplicateTimeColumn, "%s has more than one time column (%s, %s)", name, header[idx], h)
				}
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return -1, errs.Data(errs.MissingTimeColumn, "%s has no time column, expected one of %s", name, strings.Join(TimeColumnCandidates, ", "))
	}
	return idx, nil
}

// WriteCSV renders a RawSeries back into CSV. Missing numeric cells are empty.
func WriteCSV(w io.Writer, s *models.RawSeries) error {
	cw := csv.NewWriter(w)
	timeCol := s.TimeColumn
	if timeCol == "" {
		timeCol = "date"
	}
	header := make([]string, 0, len(s.Columns)+1)
	header = append(header, timeCol)
	for _, c := range s.Columns {
		header = append(header, c.Name)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(header))
	for i, t := range s.Times {
		rec[0] = t.Format(time.RFC3339)
		for ci, c := range s.Columns {
			rec[ci+1] = cellString(c, i)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func cellString(c models.RawColumn, i int) string {
	if !c.Numeric {
		if i < len(c.Text) {
			return c.Text[i]
		}
		return ""
	}
	if i >= len(c.Values) || math.IsNaN(c.Values[i]) {
		return ""
	}
	return strconv.FormatFloat(c.Values[i], 'f', -1, 64)
}

// Summarize describes a series for dataset listings.
func Summarize(s *models.RawSeries) models.DatasetInfo {
	info := models.DatasetInfo{Name: s.Name, Rows: s.Len(), Columns: make([]string, 0, len(s.Columns))}
	for _, c := range s.Columns {
		info.Columns = append(info.Columns, c.Name)
	}
	if s.Len() > 0 {
		info.From = s.Times[0]
		info.To = s.Times[s.Len()-1]
	}
	return info
}
