package bias

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/lox/nwpingest/internal/geo"
	"github.com/lox/nwpingest/internal/interpolate"
	"github.com/lox/nwpingest/internal/metrics"
	"github.com/lox/nwpingest/internal/models"
)

// DefaultWindow is how far back the trainer looks for sample pairs.
const DefaultWindow = 19 * 24 * time.Hour

// Source is the read side of the store the trainer needs.
type Source interface {
	ActualsWithPredictions(ctx context.Context, modelID int64, stationCode int, start, end time.Time) ([]models.ActualWithPrediction, error)
	ActualDailyPrecip(ctx context.Context, stationCode int, start, end time.Time) ([]models.DailyPrecip, error)
	PredictedDailyPrecip(ctx context.Context, modelID int64, stationCode int, start, end time.Time) ([]models.DailyPrecip, error)
}

type Trainer struct {
	source Source
	window time.Duration
}

func NewTrainer(source Source, window time.Duration) *Trainer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Trainer{source: source, window: window}
}

type samples struct {
	xs, ys [24][]float64
}

func (s *samples) add(hour int, x, y float64) {
	s.xs[hour] = append(s.xs[hour], x)
	s.ys[hour] = append(s.ys[hour], y)
}

func (s *samples) fit(h *HourlyModel) int {
	trained := 0
	for hour := range h {
		h[hour].Fit(s.xs[hour], s.ys[hour])
		if h[hour].Usable() {
			trained++
		}
	}
	return trained
}

type collection struct {
	temperature, rh, windSpeed, windU, windV samples
	dropped                                   map[string]int
}

func present(n sql.NullFloat64) bool { return n.Valid && !math.IsNaN(n.Float64) }

func (c *collection) add(pred models.RunPrediction, actual models.HourlyActual) {
	hour := actual.WeatherDate.UTC().Hour()
	scalar := func(name string, s *samples, p, a sql.NullFloat64) {
		switch {
		case !present(p):
			c.dropped["no model "+name]++
		case !present(a):
			c.dropped["no actual "+name]++
		default:
			s.add(hour, p.Float64, a.Float64)
		}
	}
	scalar("temperature", &c.temperature, pred.Temperature, actual.Temperature)
	scalar("relative_humidity", &c.rh, pred.RelativeHumidity, actual.RelativeHumidity)
	scalar("wind_speed", &c.windSpeed, pred.WindSpeed, actual.WindSpeed)

	switch {
	case !present(pred.WindSpeed) || !present(pred.WindDirection):
		c.dropped["no model wind vector"]++
	case !present(actual.WindSpeed) || !present(actual.WindDirection):
		c.dropped["no actual wind vector"]++
	default:
		pu, pv := geo.UVFromWind(pred.WindSpeed.Float64, pred.WindDirection.Float64)
		au, av := geo.UVFromWind(actual.WindSpeed.Float64, actual.WindDirection.Float64)
		c.windU.add(hour, pu, au)
		c.windV.add(hour, pv, av)
	}
}

// Train fits a fresh StationModel from the sample pairs inside the window
// ending at maxLearn.
func (t *Trainer) Train(ctx context.Context, modelID int64, stationCode int, maxLearn time.Time) (*StationModel, error) {
	start := maxLearn.Add(-t.window)
	rows, err := t.source.ActualsWithPredictions(ctx, modelID, stationCode, start, maxLearn)
	if err != nil {
		return nil, fmt.Errorf("actuals with predictions: %w", err)
	}

	c := collect(rows)
	for reason, n := range c.dropped {
		log.Printf("trainer: station %d: dropped %d samples (%s)", stationCode, n, reason)
	}

	m := &StationModel{StationCode: stationCode}
	trained := c.temperature.fit(&m.Temperature)
	trained += c.rh.fit(&m.RelativeHumidity)
	trained += c.windSpeed.fit(&m.WindSpeed)
	trained += c.windU.fit(&m.WindU)
	c.windV.fit(&m.WindV)

	precipStart := time.Date(start.Year(), start.Month(), start.Day(), interpolate.NoonHour, 0, 0, 0, time.UTC)
	precipEnd := interpolate.NoonOf(maxLearn)
	if precipEnd.After(maxLearn) {
		precipEnd = precipEnd.AddDate(0, 0, -1)
	}
	if err := t.trainPrecip(ctx, m, modelID, stationCode, precipStart, precipEnd); err != nil {
		return nil, err
	}
	if m.Precip24h[interpolate.NoonHour].Usable() {
		trained++
	}

	metrics.RegressionBucketsTrained.Add(float64(trained))
	return m, nil
}

func (t *Trainer) trainPrecip(ctx context.Context, m *StationModel, modelID int64, stationCode int, start, end time.Time) error {
	actual, err := t.source.ActualDailyPrecip(ctx, stationCode, start, end)
	if err != nil {
		return fmt.Errorf("actual daily precip: %w", err)
	}
	predicted, err := t.source.PredictedDailyPrecip(ctx, modelID, stationCode, start, end)
	if err != nil {
		return fmt.Errorf("predicted daily precip: %w", err)
	}

	byDay := make(map[time.Time]float64, len(actual))
	for _, a := range actual {
		byDay[a.Day.UTC()] = a.Amount
	}
	var xs, ys []float64
	for _, p := range predicted {
		a, ok := byDay[p.Day.UTC()]
		if !ok {
			continue
		}
		xs = append(xs, p.Amount)
		ys = append(ys, a)
	}
	m.Precip24h[interpolate.NoonHour].Fit(xs, ys)
	return nil
}

// collect turns joined rows into per-variable samples. Observations at the
// reference hour that no run predicted directly get a synthesized model value
// from the same run's predictions either side of it.
func collect(rows []models.ActualWithPrediction) *collection {
	c := &collection{dropped: make(map[string]int)}

	byRun := make(map[int64][]models.RunPrediction)
	covered := make(map[time.Time]bool)
	var noonActuals []models.HourlyActual
	for _, row := range rows {
		ts := row.Actual.WeatherDate.UTC()
		if row.Prediction != nil {
			c.add(*row.Prediction, row.Actual)
			byRun[row.Prediction.RunID] = append(byRun[row.Prediction.RunID], *row.Prediction)
			covered[ts] = true
			continue
		}
		if ts.Hour() == interpolate.NoonHour {
			noonActuals = append(noonActuals, row.Actual)
		}
	}

	for _, preds := range byRun {
		sort.Slice(preds, func(i, j int) bool {
			return preds[i].PredictionTimestamp.Before(preds[j].PredictionTimestamp)
		})
	}

	for _, actual := range noonActuals {
		at := actual.WeatherDate.UTC()
		if covered[at] {
			continue
		}
		for _, preds := range byRun {
			for i := 1; i < len(preds); i++ {
				noon, ok := interpolate.NoonBetween(preds[i-1].PredictionTimestamp, preds[i].PredictionTimestamp)
				if ok && noon.Equal(at) {
					c.add(interpolate.Noon(preds[i-1], preds[i], at), actual)
					break
				}
			}
		}
	}
	return c
}
