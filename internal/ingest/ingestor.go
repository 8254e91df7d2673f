package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lox/nwpingest/internal/geo"
	"github.com/lox/nwpingest/internal/grib"
	"github.com/lox/nwpingest/internal/metrics"
	"github.com/lox/nwpingest/internal/models"
	"github.com/lox/nwpingest/internal/nwp"
)

// Ledger records which model file URLs have been fully ingested.
type Ledger interface {
	ProcessedFileExists(ctx context.Context, url string) (bool, error)
	MarkFileProcessed(ctx context.Context, url string) error
}

// RunStore is the persistence the ingestor writes through.
type RunStore interface {
	Ledger
	GetPredictionModel(ctx context.Context, abbreviation, projection string) (*models.PredictionModel, error)
	GetOrCreateRun(ctx context.Context, modelID int64, runTimestamp time.Time) (*models.ModelRun, error)
	UpsertRunPrediction(ctx context.Context, runID int64, stationCode int, ts time.Time, v models.Variable, value float64) error
}

type OutcomeKind int

const (
	Skipped OutcomeKind = iota
	Processed
	NotAvailable
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Skipped:
		return "skipped"
	case Processed:
		return "processed"
	case NotAvailable:
		return "not_available"
	}
	return "failed"
}

// Outcome reports what happened to one file.
type Outcome struct {
	Kind       OutcomeKind
	Downloaded bool
	Stations   int
	Err        error
}

// Ingestor turns one model file into raw station predictions.
type Ingestor struct {
	fetcher Fetcher
	decoder grib.Decoder
	store   RunStore
	sampler *grib.Sampler
	tempDir string
}

func NewIngestor(fetcher Fetcher, decoder grib.Decoder, store RunStore, stations []models.Station) *Ingestor {
	return &Ingestor{
		fetcher: fetcher,
		decoder: decoder,
		store:   store,
		sampler: grib.NewSampler(stations),
	}
}

// Ingest processes f unless the ledger already has it. The file is only
// added to the ledger once every station value has been written, so a
// failure anywhere leaves it to be retried on the next pass.
func (i *Ingestor) Ingest(ctx context.Context, f nwp.File) Outcome {
	done, err := i.store.ProcessedFileExists(ctx, f.URL)
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("check ledger: %w", err)}
	}
	if done {
		return Outcome{Kind: Skipped}
	}

	dir, err := os.MkdirTemp(i.tempDir, "nwpingest-")
	if err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("create temp dir: %w", err)}
	}
	defer os.RemoveAll(dir)

	model := f.Kind.String()
	start := time.Now()
	fetched := i.fetcher.Fetch(ctx, dir, f.URL)
	metrics.FilesFetched.WithLabelValues(model, fetched.Status.String()).Inc()

	switch fetched.Status {
	case NotYetPublished:
		return Outcome{Kind: NotAvailable}
	case TransportError:
		return Outcome{Kind: Failed, Err: fmt.Errorf("fetch %s: %w", f.URL, fetched.Err)}
	}
	metrics.DownloadLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())

	n, err := i.process(ctx, f, fetched.Path)
	if err != nil {
		return Outcome{Kind: Failed, Downloaded: true, Err: fmt.Errorf("process %s: %w", f.URL, err)}
	}
	if err := i.store.MarkFileProcessed(ctx, f.URL); err != nil {
		return Outcome{Kind: Failed, Downloaded: true, Err: fmt.Errorf("mark processed: %w", err)}
	}
	metrics.FilesProcessed.WithLabelValues(model).Inc()
	metrics.StationsSampled.WithLabelValues(model).Add(float64(n))
	return Outcome{Kind: Processed, Downloaded: true, Stations: n}
}

func (i *Ingestor) process(ctx context.Context, f nwp.File, path string) (int, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	raster, err := i.decoder.Decode(fh)
	fh.Close()
	if err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}

	bands, err := f.Kind.FieldBands(f, raster.Bands)
	if err != nil {
		return 0, err
	}
	points, err := i.sampler.Locate(raster)
	if err != nil {
		return 0, err
	}

	model, err := i.store.GetPredictionModel(ctx, f.Kind.String(), f.Kind.Projection())
	if err != nil {
		return 0, err
	}
	run, err := i.store.GetOrCreateRun(ctx, model.ID, f.RunTimestamp)
	if err != nil {
		return 0, fmt.Errorf("get run: %w", err)
	}

	ts := f.PredictionTimestamp()
	written, uncovered := 0, 0
	flagged := make(map[string]int)
	for _, p := range points {
		if !p.Covered {
			uncovered++
			continue
		}
		values := stationValues(raster, bands, p.Col, p.Row)
		stored := 0
		for v, raw := range values {
			value, flag := ValidateValue(v, raw)
			if flag != "" {
				flagged[flag]++
				continue
			}
			if err := i.store.UpsertRunPrediction(ctx, run.ID, p.Station.Code, ts, v, value); err != nil {
				return written, fmt.Errorf("station %d %s: %w", p.Station.Code, v, err)
			}
			stored++
		}
		if stored > 0 {
			written++
		}
	}
	if uncovered > 0 {
		log.Printf("ingest: warning: %d stations outside the %s grid for %s", uncovered, f.Kind, f.URL)
	}
	for flag, n := range flagged {
		log.Printf("ingest: skip %d values (%s) in %s", n, flag, f.URL)
	}
	return written, nil
}

// stationValues reads every field the file carries at one cell and converts
// it to storage units: °C, %, km/h, degrees and mm.
func stationValues(r *grib.Raster, bands map[nwp.Field]int, col, row int) map[models.Variable]float64 {
	read := func(f nwp.Field) (float64, bool) {
		band, ok := bands[f]
		if !ok {
			return 0, false
		}
		return r.Value(band, col, row)
	}

	out := make(map[models.Variable]float64)
	if v, ok := read(nwp.FieldTemperatureK); ok {
		out[models.Temperature] = geo.KelvinToCelsius(v)
	}
	if v, ok := read(nwp.FieldRelativeHumidity); ok {
		out[models.RelativeHumidity] = v
	}
	if v, ok := read(nwp.FieldPrecipitation); ok {
		out[models.Precipitation] = v
	}
	if v, ok := read(nwp.FieldWindSpeedMps); ok {
		out[models.WindSpeed] = geo.MpsToKph(v)
	}
	if v, ok := read(nwp.FieldWindDirection); ok {
		out[models.WindDirection] = geo.NormalizeBearing(v)
	}
	u, uok := read(nwp.FieldWindU)
	v, vok := read(nwp.FieldWindV)
	if uok && vok {
		speed, bearing := geo.WindFromUV(u, v)
		out[models.WindSpeed] = geo.MpsToKph(speed)
		out[models.WindDirection] = bearing
	}
	return out
}
