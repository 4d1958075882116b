package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PriceCast/internal/domain/models"
	"PriceCast/internal/repository"
	applogger "PriceCast/pkg/logger"
)

// dailySeries builds n days of OHLCV data with a trend and a weekly volume
// cycle.
func dailySeries(name string, n int) *models.RawSeries {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &models.RawSeries{Name: name, TimeColumn: "date"}
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i := 0; i < n; i++ {
		s.Times = append(s.Times, start.AddDate(0, 0, i))
		c := 100 + float64(i)*0.5 + 3*math.Sin(float64(i)/3)
		closes[i] = c
		open[i] = c - 0.4
		high[i] = c + 1.1
		low[i] = c - 1.3
		volume[i] = 1000 + float64(i%7)*25
	}
	s.Columns = []models.RawColumn{
		{Name: "open", Numeric: true, Values: open},
		{Name: "high", Numeric: true, Values: high},
		{Name: "low", Numeric: true, Values: low},
		{Name: "close", Numeric: true, Values: closes},
		{Name: "volume", Numeric: true, Values: volume},
	}
	return s
}

func datasetStore(t *testing.T, series ...*models.RawSeries) *repository.CSVDatasetStore {
	t.Helper()
	store, err := repository.NewCSVDatasetStore(t.TempDir(), applogger.Nop())
	require.NoError(t, err)
	for _, s := range series {
		require.NoError(t, store.Save(context.Background(), s))
	}
	return store
}

func fastHP() models.Hyperparameters {
	return models.Hyperparameters{LearningRate: 0.01, HiddenUnits: 8, DropoutRate: 0, Epochs: 5, BatchSize: 4, Seed: 11}
}
