package nwp

import (
	"fmt"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	DefaultECCCBaseURL   = "https://dd.weather.gc.ca"
	DefaultNOMADSBaseURL = "https://nomads.ncep.noaa.gov/cgi-bin"
)

// Options overrides the file source hosts, typically to point at a mirror.
type Options struct {
	ECCCBaseURL   string
	NOMADSBaseURL string
}

func (o Options) ecccBase() string {
	if o.ECCCBaseURL == "" {
		return DefaultECCCBaseURL
	}
	return strings.TrimRight(o.ECCCBaseURL, "/")
}

func (o Options) nomadsBase() string {
	if o.NOMADSBaseURL == "" {
		return DefaultNOMADSBaseURL
	}
	return strings.TrimRight(o.NOMADSBaseURL, "/")
}

// File is one downloadable model file.
type File struct {
	Kind         Kind
	Layer        string // Environment Canada layer; empty for NOMADS files
	RunTimestamp time.Time
	ForecastHour int
	URL          string
}

// PredictionTimestamp is the valid time of the file's values.
func (f File) PredictionTimestamp() time.Time {
	return f.RunTimestamp.Add(time.Duration(f.ForecastHour) * time.Hour)
}

// NOMADS directories are named by the US Eastern calendar date.
var eastern = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// RunDate returns the calendar date of the run of kind at runHour that is
// current at now. Environment Canada runs roll back to the previous UTC day
// until the run hour has been reached, so a 12Z request made at 00:13Z refers
// to yesterday's 12Z run.
func RunDate(kind Kind, now time.Time, runHour int) time.Time {
	if table[kind].noaa {
		local := now.In(eastern)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	}
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if now.Hour() < runHour {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// RunTimestamp is the issue time of the run.
func RunTimestamp(kind Kind, now time.Time, runHour int) time.Time {
	return RunDate(kind, now, runHour).Add(time.Duration(runHour) * time.Hour)
}

type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// Files enumerates every file of the run of kind at runHour current at now,
// ordered by forecast hour and then layer.
func (b *Builder) Files(kind Kind, now time.Time, runHour int) ([]File, error) {
	ks, ok := table[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnhandledModel, kind)
	}
	if !slices.Contains(ks.runHours, runHour) {
		return nil, fmt.Errorf("%v has no %02dZ run", kind, runHour)
	}

	runTS := RunTimestamp(kind, now, runHour)
	date := runTS.Format("20060102")

	var files []File
	for _, hour := range ks.forecastHours(runHour) {
		if ks.noaa {
			files = append(files, File{
				Kind:         kind,
				RunTimestamp: runTS,
				ForecastHour: hour,
				URL:          ks.url(b.opts, date, runHour, hour, ""),
			})
			continue
		}
		for _, layer := range ecccLayers {
			// Nothing has accumulated at the analysis hour.
			if hour == 0 && layer.field == FieldPrecipitation {
				continue
			}
			files = append(files, File{
				Kind:         kind,
				Layer:        layer.name,
				RunTimestamp: runTS,
				ForecastHour: hour,
				URL:          ks.url(b.opts, date, runHour, hour, layer.name),
			})
		}
	}
	return files, nil
}

// URLs flattens files to their URLs.
func URLs(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.URL
	}
	return out
}
