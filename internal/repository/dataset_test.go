package repository

import (
	"context"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceCast/internal/domain/errs"
	applogger "PriceCast/pkg/logger"
)

const sampleCSV = `date,open,high,low,close,volume,note
2024-01-03,11,12,10,11.5,1000,b
2024-01-01,10,11,9,10.5,900,a
2024-01-02,10.5,11.5,NA,11,,c
`

func TestParseCSVSortsAndTypesColumns(t *testing.T) {
	s, err := ParseCSV("btc", strings.NewReader(sampleCSV), nil)
	require.NoError(t, err)

	require.Equal(t, 3, s.Len())
	assert.Equal(t, "date", s.TimeColumn)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), s.Times[0])
	assert.True(t, s.Times[1].Before(s.Times[2]))

	closeCol, ok := s.Column("close")
	require.True(t, ok)
	assert.Equal(t, []float64{10.5, 11, 11.5}, closeCol.Values)

	low, _ := s.Column("low")
	assert.True(t, math.IsNaN(low.Values[1]))
	vol, _ := s.Column("volume")
	assert.True(t, vol.Numeric)
	assert.True(t, math.IsNaN(vol.Values[1]))

	note, _ := s.Column("note")
	assert.False(t, note.Numeric)
	assert.Equal(t, []string{"a", "c", "b"}, note.Text)
}

func TestParseCSVSchemaErrors(t *testing.T) {
	cases := map[string]struct {
		doc    string
		reason errs.Reason
	}{
		"no time column":   {"open,close\n1,2\n", errs.MissingTimeColumn},
		"two time columns": {"date,時間,close\n2024-01-01,2024-01-01,1\n", errs.DuplicateTimeColumn},
		"duplicate stamp":  {"Date,close\n2024-01-01,1\n2024-01-01,2\n", errs.MalformedSchema},
		"bad time":         {"date,close\nyesterday,1\n", errs.MalformedSchema},
		"ragged row":       {"date,close\n2024-01-01,1,9\n", errs.MalformedSchema},
		"empty":            {"", errs.MalformedSchema},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCSV("x", strings.NewReader(tc.doc), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.KindData)
			assert.Equal(t, tc.reason, errs.ReasonOf(err))
		})
	}
}

func TestParseCSVRename(t *testing.T) {
	doc := "日期,收盤價\n2024-01-01,10\n2024-01-02,11\n"
	rename := map[string]string{"日期": "date", "收盤價": "close"}
	s, err := ParseCSV("tw", strings.NewReader(doc), func(h string) string {
		if v, ok := rename[h]; ok {
			return v
		}
		return h
	})
	require.NoError(t, err)
	assert.Equal(t, "date", s.TimeColumn)
	_, ok := s.Column("close")
	assert.True(t, ok)
}

func TestCSVDatasetStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewCSVDatasetStore(t.TempDir(), applogger.Nop())
	require.NoError(t, err)

	_, err = store.Load(ctx, "btc")
	assert.ErrorIs(t, err, errs.KindDatasetNotFound)
	ok, err := store.Exists(ctx, "btc")
	require.NoError(t, err)
	assert.False(t, ok)

	series, err := ParseCSV("btc", strings.NewReader(sampleCSV), nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, series))

	ok, err = store.Exists(ctx, "btc")
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := store.Load(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, series.Times, loaded.Times)
	closeCol, _ := loaded.Column("close")
	assert.Equal(t, []float64{10.5, 11, 11.5}, closeCol.Values)
	low, _ := loaded.Column("low")
	assert.True(t, math.IsNaN(low.Values[1]))

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "btc", infos[0].Name)
	assert.Equal(t, 3, infos[0].Rows)
	assert.Equal(t, []string{"open", "high", "low", "close", "volume", "note"}, infos[0].Columns)

	_, err = store.Load(ctx, "../secret")
	assert.ErrorIs(t, err, errs.KindConfig)
}

func TestCSVDatasetStoreCreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewCSVDatasetStore(dir, applogger.Nop())
	require.NoError(t, err)

	first, err := ParseCSV("btc", strings.NewReader(sampleCSV), nil)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, first))

	second, err := ParseCSV("btc", strings.NewReader("date,close\n2030-01-01,1\n"), nil)
	require.NoError(t, err)
	err = store.Create(ctx, second)
	assert.ErrorIs(t, err, errs.KindDatasetExists)

	loaded, err := store.Load(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len(), "first version kept")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestValidTable(t *testing.T) {
	assert.True(t, validTable("dataset_bars"))
	assert.True(t, validTable("pricecast.dataset_bars"))
	assert.False(t, validTable(""))
	assert.False(t, validTable("bars; DROP TABLE x"))
}
