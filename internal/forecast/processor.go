package forecast

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/lox/nwpingest/internal/bias"
	"github.com/lox/nwpingest/internal/interpolate"
	"github.com/lox/nwpingest/internal/metrics"
	"github.com/lox/nwpingest/internal/models"
	"github.com/lox/nwpingest/internal/nwp"
)

// Store is the persistence the processor reads runs from and writes station
// predictions to.
type Store interface {
	bias.Source
	GetPredictionModel(ctx context.Context, abbreviation, projection string) (*models.PredictionModel, error)
	RunsToInterpolate(ctx context.Context, modelID int64) ([]models.ModelRun, error)
	RunStations(ctx context.Context, runID int64) ([]int, error)
	RunPredictions(ctx context.Context, runID int64, stationCode int) ([]models.RunPrediction, error)
	UpsertStationPrediction(ctx context.Context, p models.StationPrediction) error
	MarkRunInterpolated(ctx context.Context, runID int64) error
}

// Processor turns complete model runs into bias-adjusted station
// predictions.
type Processor struct {
	kind    nwp.Kind
	store   Store
	trainer *bias.Trainer
}

func NewProcessor(kind nwp.Kind, store Store, trainer *bias.Trainer) *Processor {
	return &Processor{kind: kind, store: store, trainer: trainer}
}

// Result counts what one processing pass did.
type Result struct {
	Runs       int
	Exceptions int
}

// Process handles every complete run not yet interpolated, oldest first.
// A failing station or run is logged and counted in Result.Exceptions and
// the pass carries on; the returned error is only set when the runs cannot
// be listed or ctx is cancelled.
func (p *Processor) Process(ctx context.Context) (Result, error) {
	var res Result
	m, err := p.store.GetPredictionModel(ctx, p.kind.String(), p.kind.Projection())
	if err != nil {
		return res, err
	}
	runs, err := p.store.RunsToInterpolate(ctx, m.ID)
	if err != nil {
		return res, fmt.Errorf("runs to interpolate: %w", err)
	}

	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := p.processRun(ctx, m, run, &res); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			p.exception(&res, "%s run %s: %v", m.Abbreviation, run.RunTimestamp.Format("2006010215"), err)
			continue
		}
		res.Runs++
	}
	return res, ctx.Err()
}

func (p *Processor) exception(res *Result, format string, args ...any) {
	res.Exceptions++
	metrics.ProcessingExceptions.WithLabelValues(p.kind.String()).Inc()
	log.Printf("processor: "+format, args...)
}

// processRun writes station predictions for one run. A station that fails
// is skipped so the others, and the run, still go through.
func (p *Processor) processRun(ctx context.Context, m *models.PredictionModel, run models.ModelRun, res *Result) error {
	codes, err := p.store.RunStations(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("run stations: %w", err)
	}
	bucket := p.kind.PrecipAccumulationHours(run.RunTimestamp.Hour())
	runName := run.RunTimestamp.Format("2006010215")

	written, interpolated, failed := 0, 0, 0
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return err
		}
		w, n, err := p.processStation(ctx, m, run, code, bucket)
		written += w
		interpolated += n
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			p.exception(res, "%s run %s: station %d: %v", m.Abbreviation, runName, code, err)
		}
	}

	if err := p.store.MarkRunInterpolated(ctx, run.ID); err != nil {
		return fmt.Errorf("mark interpolated: %w", err)
	}
	log.Printf("processor: %s run %s: %d station predictions (%d at the noon hour synthesized) for %d stations, %d failed",
		m.Abbreviation, runName, written, interpolated, len(codes), failed)
	return nil
}

func (p *Processor) processStation(ctx context.Context, m *models.PredictionModel, run models.ModelRun, code, bucket int) (written, interpolated int, err error) {
	sm, err := p.trainer.Train(ctx, m.ID, code, run.RunTimestamp)
	if err != nil {
		return 0, 0, fmt.Errorf("train: %w", err)
	}
	preds, err := p.store.RunPredictions(ctx, run.ID, code)
	if err != nil {
		return 0, 0, fmt.Errorf("predictions: %w", err)
	}
	for _, row := range StationPredictions(run, preds, sm, bucket) {
		if err := p.store.UpsertStationPrediction(ctx, row); err != nil {
			return written, interpolated, fmt.Errorf("write %s: %w", row.PredictionTimestamp.Format(time.RFC3339), err)
		}
		metrics.StationPredictionsWritten.WithLabelValues(m.Abbreviation, strconv.FormatBool(row.Interpolated)).Inc()
		written++
		if row.Interpolated {
			interpolated++
		}
	}
	return written, interpolated, nil
}

type step struct {
	pred         models.RunPrediction
	interpolated bool
}

// StationPredictions builds the processed rows for one station's raw
// predictions from one run. bucketHours is the model's precipitation reset
// interval, zero when precipitation accumulates from the run start. sm may
// be nil, in which case no bias-adjusted values are produced.
func StationPredictions(run models.ModelRun, preds []models.RunPrediction, sm *bias.StationModel, bucketHours int) []models.StationPrediction {
	if bucketHours > 0 {
		preds = accumulate(run.RunTimestamp, preds, bucketHours)
	}

	steps := make([]step, 0, len(preds)+len(preds)/4)
	for i, pred := range preds {
		if i > 0 {
			prev := preds[i-1]
			if noon, ok := interpolate.NoonBetween(prev.PredictionTimestamp, pred.PredictionTimestamp); ok {
				if synth := interpolate.Noon(prev, pred, noon); hasValues(synth) {
					steps = append(steps, step{pred: synth, interpolated: true})
				}
			}
		}
		steps = append(steps, step{pred: pred})
	}

	precipAt := map[time.Time]float64{run.RunTimestamp.UTC(): 0}
	lastPrecip := 0.0
	out := make([]models.StationPrediction, 0, len(steps))
	for _, s := range steps {
		pr := s.pred
		ts := pr.PredictionTimestamp.UTC()
		row := models.StationPrediction{
			StationCode:         pr.StationCode,
			RunID:               run.ID,
			PredictionTimestamp: ts,
			Temperature:         pr.Temperature,
			RelativeHumidity:    pr.RelativeHumidity,
			WindSpeed:           pr.WindSpeed,
			WindDirection:       pr.WindDirection,
			Precipitation:       pr.Precipitation,
			Interpolated:        s.interpolated,
		}
		adjust(&row, sm, ts)

		if present(pr.Precipitation) {
			precip := pr.Precipitation.Float64
			row.DeltaPrecipitation = valid(math.Max(precip-lastPrecip, 0))
			lastPrecip = precip
			precipAt[ts] = precip
			if earlier, ok := precipAt[ts.Add(-24*time.Hour)]; ok {
				row.Precipitation24h = valid(math.Max(precip-earlier, 0))
				if sm != nil {
					row.BiasAdjustedPrecipitation24h = nullable(sm.PredictPrecip24h(row.Precipitation24h.Float64, ts))
				}
			}
		}
		out = append(out, row)
	}
	return out
}

func adjust(row *models.StationPrediction, sm *bias.StationModel, ts time.Time) {
	if sm == nil {
		return
	}
	if present(row.Temperature) {
		row.BiasAdjustedTemperature = nullable(sm.PredictTemperature(row.Temperature.Float64, ts))
	}
	if present(row.RelativeHumidity) {
		row.BiasAdjustedRelativeHumidity = nullable(sm.PredictRH(row.RelativeHumidity.Float64, ts))
	}
	if present(row.WindSpeed) {
		row.BiasAdjustedWindSpeed = nullable(sm.PredictWindSpeed(row.WindSpeed.Float64, ts))
		if present(row.WindDirection) {
			row.BiasAdjustedWindDirection = nullable(sm.PredictWindDirection(row.WindSpeed.Float64, row.WindDirection.Float64, ts))
		}
	}
}

// accumulate rewrites bucketed precipitation as a running total from the
// run start. A value at a bucket boundary closes that bucket.
func accumulate(runTS time.Time, preds []models.RunPrediction, bucketHours int) []models.RunPrediction {
	out := make([]models.RunPrediction, len(preds))
	copy(out, preds)
	base := 0.0
	for i := range out {
		p := &out[i]
		if !present(p.Precipitation) {
			continue
		}
		total := base + p.Precipitation.Float64
		p.Precipitation.Float64 = total
		hour := int(p.PredictionTimestamp.Sub(runTS) / time.Hour)
		if hour > 0 && hour%bucketHours == 0 {
			base = total
		}
	}
	return out
}

// hasValues reports whether any field of p survived interpolation. A noon
// row with nothing in it is omitted.
func hasValues(p models.RunPrediction) bool {
	return present(p.Temperature) || present(p.RelativeHumidity) || present(p.WindSpeed) ||
		present(p.WindDirection) || present(p.Precipitation)
}

func present(n sql.NullFloat64) bool { return n.Valid && !math.IsNaN(n.Float64) }

func valid(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func nullable(v float64, ok bool) sql.NullFloat64 {
	if !ok {
		return sql.NullFloat64{}
	}
	return valid(v)
}
