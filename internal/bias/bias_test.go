package bias

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/nwpingest/internal/models"
)

func nf(f float64) sql.NullFloat64 { return sql.NullFloat64{Float64: f, Valid: true} }

func TestRegressionFit(t *testing.T) {
	var r Regression
	_, ok := r.Predict(10)
	assert.False(t, ok, "zero value must not predict")

	r.Fit([]float64{1, 2, 3, 4}, []float64{3, 5, 7, 9})
	require.True(t, r.Usable())
	assert.InDelta(t, 2.0, r.Slope, 1e-9)
	assert.InDelta(t, 1.0, r.Intercept, 1e-9)
	assert.Equal(t, 4, r.Samples)

	got, ok := r.Predict(10)
	require.True(t, ok)
	assert.InDelta(t, 21.0, got, 1e-9)
}

func TestRegressionSingleSample(t *testing.T) {
	var r Regression
	r.Fit([]float64{12}, []float64{10})
	require.True(t, r.Usable())

	got, ok := r.Predict(30)
	require.True(t, ok)
	assert.InDelta(t, 10.0, got, 1e-9, "constant feature predicts mean target")
}

func TestRegressionIgnoresNaNAndRefits(t *testing.T) {
	var r Regression
	r.Fit([]float64{1, math.NaN(), 2}, []float64{1, 5, math.NaN()})
	require.True(t, r.Usable())
	assert.Equal(t, 1, r.Samples)

	r.Fit(nil, nil)
	assert.False(t, r.Usable(), "refit with no samples starts over")

	_, ok := r.Predict(math.NaN())
	assert.False(t, ok)
}

func TestStationModelClamps(t *testing.T) {
	ts := time.Date(2024, 7, 10, 20, 0, 0, 0, time.UTC)
	m := &StationModel{}
	m.RelativeHumidity[20].Fit([]float64{10, 20}, []float64{-10, 0})
	m.WindSpeed[20].Fit([]float64{5, 10}, []float64{-5, 0})
	m.Precip24h[20].Fit([]float64{1, 2}, []float64{-3, -2})

	rh, ok := m.PredictRH(10, ts)
	require.True(t, ok)
	assert.Equal(t, 0.0, rh)

	ws, ok := m.PredictWindSpeed(5, ts)
	require.True(t, ok)
	assert.Equal(t, 0.0, ws)

	p, ok := m.PredictPrecip24h(1, ts)
	require.True(t, ok)
	assert.Equal(t, 0.0, p)

	_, ok = m.PredictTemperature(20, ts)
	assert.False(t, ok, "untrained bucket returns no correction")
	_, ok = m.PredictRH(10, ts.Add(time.Hour))
	assert.False(t, ok)
}

func TestPredictWindDirectionWrapsNorth(t *testing.T) {
	ts := time.Date(2024, 7, 10, 6, 0, 0, 0, time.UTC)
	m := &StationModel{}
	// Identity in u, v: corrected bearing equals the raw one.
	m.WindU[6].Fit([]float64{-1, 1}, []float64{-1, 1})
	m.WindV[6].Fit([]float64{-1, 1}, []float64{-1, 1})

	got, ok := m.PredictWindDirection(10, 355, ts)
	require.True(t, ok)
	assert.InDelta(t, 355.0, got, 1e-9)

	got, ok = m.PredictWindDirection(10, 5, ts)
	require.True(t, ok)
	assert.InDelta(t, 5.0, got, 1e-9)

	_, ok = m.PredictWindDirection(10, 5, ts.Add(time.Hour))
	assert.False(t, ok)
}

type fakeSource struct {
	rows      []models.ActualWithPrediction
	actual    []models.DailyPrecip
	predicted []models.DailyPrecip
	err       error
	gotStart  time.Time
	gotEnd    time.Time
}

func (f *fakeSource) ActualsWithPredictions(_ context.Context, _ int64, _ int, start, end time.Time) ([]models.ActualWithPrediction, error) {
	f.gotStart, f.gotEnd = start, end
	return f.rows, f.err
}

func (f *fakeSource) ActualDailyPrecip(context.Context, int, time.Time, time.Time) ([]models.DailyPrecip, error) {
	return f.actual, nil
}

func (f *fakeSource) PredictedDailyPrecip(context.Context, int64, int, time.Time, time.Time) ([]models.DailyPrecip, error) {
	return f.predicted, nil
}

func day(d, h int) time.Time { return time.Date(2024, 7, d, h, 0, 0, 0, time.UTC) }

func TestTrainerBucketsByHour(t *testing.T) {
	src := &fakeSource{}
	for d := 1; d <= 3; d++ {
		raw := float64(10 + d)
		src.rows = append(src.rows, models.ActualWithPrediction{
			Actual: models.HourlyActual{StationCode: 1, WeatherDate: day(d, 12), Temperature: nf(raw + 2), RelativeHumidity: nf(50)},
			Prediction: &models.RunPrediction{
				RunID: int64(d), StationCode: 1, PredictionTimestamp: day(d, 12),
				Temperature: nf(raw), RelativeHumidity: sql.NullFloat64{},
			},
		})
	}

	maxLearn := day(4, 0)
	m, err := NewTrainer(src, 0).Train(context.Background(), 1, 1, maxLearn)
	require.NoError(t, err)
	assert.True(t, src.gotStart.Equal(maxLearn.Add(-DefaultWindow)))

	got, ok := m.PredictTemperature(20, day(5, 12))
	require.True(t, ok)
	assert.InDelta(t, 22.0, got, 1e-9)

	for h := 0; h < 24; h++ {
		if h == 12 {
			continue
		}
		_, ok := m.PredictTemperature(20, day(5, h))
		assert.False(t, ok, "hour %d has no samples", h)
	}
	_, ok = m.PredictRH(50, day(5, 12))
	assert.False(t, ok, "pairs missing a model value are dropped")
}

func TestTrainerSynthesizesNoonSample(t *testing.T) {
	pred18 := &models.RunPrediction{RunID: 9, StationCode: 1, PredictionTimestamp: day(2, 18), Temperature: nf(10)}
	pred21 := &models.RunPrediction{RunID: 9, StationCode: 1, PredictionTimestamp: day(2, 21), Temperature: nf(16)}
	src := &fakeSource{rows: []models.ActualWithPrediction{
		{Actual: models.HourlyActual{WeatherDate: day(2, 18), Temperature: nf(11)}, Prediction: pred18},
		{Actual: models.HourlyActual{WeatherDate: day(2, 20), Temperature: nf(15)}},
		{Actual: models.HourlyActual{WeatherDate: day(2, 21), Temperature: nf(17)}, Prediction: pred21},
	}}

	m, err := NewTrainer(src, 0).Train(context.Background(), 1, 1, day(3, 0))
	require.NoError(t, err)

	// The 20:00 bucket learned from the interpolated 14°C against the observed 15°C.
	got, ok := m.PredictTemperature(14, day(5, 20))
	require.True(t, ok)
	assert.InDelta(t, 15.0, got, 1e-9)
	assert.Equal(t, 1, m.Temperature[20].Samples)
}

func TestTrainerNoNoonWhenInputMissing(t *testing.T) {
	src := &fakeSource{rows: []models.ActualWithPrediction{
		{Actual: models.HourlyActual{WeatherDate: day(2, 18), Temperature: nf(11)}, Prediction: &models.RunPrediction{RunID: 9, PredictionTimestamp: day(2, 18), Temperature: nf(10)}},
		{Actual: models.HourlyActual{WeatherDate: day(2, 20), Temperature: nf(15)}},
		{Actual: models.HourlyActual{WeatherDate: day(2, 21), Temperature: nf(17)}, Prediction: &models.RunPrediction{RunID: 9, PredictionTimestamp: day(2, 21)}},
	}}

	m, err := NewTrainer(src, 0).Train(context.Background(), 1, 1, day(3, 0))
	require.NoError(t, err)
	_, ok := m.PredictTemperature(14, day(5, 20))
	assert.False(t, ok)
}

func TestTrainerWindModelInUVSpace(t *testing.T) {
	src := &fakeSource{}
	// The model is consistently 20 degrees counter-clockwise of what is observed.
	for d, b := range []float64{350, 0, 10, 30, 340} {
		src.rows = append(src.rows, models.ActualWithPrediction{
			Actual:     models.HourlyActual{WeatherDate: day(d+1, 6), WindSpeed: nf(10), WindDirection: nf(math.Mod(b+20, 360))},
			Prediction: &models.RunPrediction{RunID: 1, PredictionTimestamp: day(d+1, 6), WindSpeed: nf(10), WindDirection: nf(b)},
		})
	}

	m, err := NewTrainer(src, 0).Train(context.Background(), 1, 1, day(7, 0))
	require.NoError(t, err)

	got, ok := m.PredictWindDirection(10, 0, day(8, 6))
	require.True(t, ok)
	assert.True(t, got >= 0 && got < 360)
	assert.InDelta(t, 20.0, got, 15.0)
}

func TestTrainerPrecip(t *testing.T) {
	src := &fakeSource{
		actual: []models.DailyPrecip{
			{Day: day(1, 20), Amount: 2},
			{Day: day(2, 20), Amount: 4},
			{Day: day(3, 20), Amount: 9},
		},
		predicted: []models.DailyPrecip{
			{Day: day(1, 20), Amount: 1},
			{Day: day(2, 20), Amount: 2},
		},
	}
	m, err := NewTrainer(src, 0).Train(context.Background(), 1, 1, day(4, 0))
	require.NoError(t, err)

	got, ok := m.PredictPrecip24h(3, day(5, 20))
	require.True(t, ok)
	assert.InDelta(t, 6.0, got, 1e-9)
}

func TestTrainerSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	_, err := NewTrainer(src, time.Hour).Train(context.Background(), 1, 1, day(4, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
