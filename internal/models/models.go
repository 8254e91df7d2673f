package models

import (
	"database/sql"
	"time"
)

type Station struct {
	Code      int
	Name      string
	Latitude  float64
	Longitude float64
	Active    bool
}

// PredictionModel is reference data: one row per model family and grid.
type PredictionModel struct {
	ID           int64
	Abbreviation string // "GDPS", "RDPS", ...
	Projection   string // "latlon.15x.15", "ps10km", ...
	Name         string
}

type ModelRun struct {
	ID                int64
	PredictionModelID int64
	RunTimestamp      time.Time
	Complete          bool
	Interpolated      bool
}

// Variable names one weather field carried by a raw model prediction.
type Variable string

const (
	Temperature      Variable = "temperature"
	RelativeHumidity Variable = "relative_humidity"
	WindSpeed        Variable = "wind_speed"
	WindDirection    Variable = "wind_direction"
	Precipitation    Variable = "precipitation" // accumulated since run start, mm
)

// RunPrediction is one raw sampled row per (run, station, timestamp).
type RunPrediction struct {
	ID                  int64
	RunID               int64
	StationCode         int
	PredictionTimestamp time.Time
	Temperature         sql.NullFloat64 // °C
	RelativeHumidity    sql.NullFloat64 // %
	WindSpeed           sql.NullFloat64 // km/h
	WindDirection       sql.NullFloat64 // degrees from
	Precipitation       sql.NullFloat64 // mm
	UpdatedAt           time.Time
}

// Value returns the field for v.
func (p RunPrediction) Value(v Variable) sql.NullFloat64 {
	switch v {
	case Temperature:
		return p.Temperature
	case RelativeHumidity:
		return p.RelativeHumidity
	case WindSpeed:
		return p.WindSpeed
	case WindDirection:
		return p.WindDirection
	case Precipitation:
		return p.Precipitation
	}
	return sql.NullFloat64{}
}

type HourlyActual struct {
	StationCode      int
	WeatherDate      time.Time
	Temperature      sql.NullFloat64
	RelativeHumidity sql.NullFloat64
	WindSpeed        sql.NullFloat64
	WindDirection    sql.NullFloat64
	Precipitation    sql.NullFloat64 // mm in the hour ending at WeatherDate
}

// ActualWithPrediction pairs an observation with the latest raw prediction
// for the same station and hour, if any.
type ActualWithPrediction struct {
	Actual     HourlyActual
	Prediction *RunPrediction
}

// StationPrediction is the processed, bias-adjusted row downstream
// reporting reads.
type StationPrediction struct {
	StationCode                   int
	RunID                         int64
	PredictionTimestamp           time.Time
	Temperature                   sql.NullFloat64
	BiasAdjustedTemperature       sql.NullFloat64
	RelativeHumidity              sql.NullFloat64
	BiasAdjustedRelativeHumidity  sql.NullFloat64
	WindSpeed                     sql.NullFloat64
	BiasAdjustedWindSpeed         sql.NullFloat64
	WindDirection                 sql.NullFloat64
	BiasAdjustedWindDirection     sql.NullFloat64
	Precipitation                 sql.NullFloat64
	DeltaPrecipitation            sql.NullFloat64
	Precipitation24h              sql.NullFloat64
	BiasAdjustedPrecipitation24h  sql.NullFloat64
	Interpolated                  bool
	UpdatedAt                     time.Time
}

// DailyPrecip is a 24 hour accumulation ending at Day 20:00 UTC.
type DailyPrecip struct {
	Day    time.Time
	Amount float64
}
