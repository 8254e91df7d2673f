// Package interpolate synthesizes model values between two raw predictions.
package interpolate

import (
	"database/sql"
	"math"
	"time"

	"github.com/lox/nwpingest/internal/geo"
	"github.com/lox/nwpingest/internal/models"
)

const (
	// NoonHour is the UTC hour used as the daily reference ("noon") for the
	// target region.
	NoonHour = 20

	// MaxNoonGap bounds how far apart two raw predictions may be for a noon
	// value to be synthesized between them.
	MaxNoonGap = 6 * time.Hour
)

// Scalar linearly interpolates between (t1, v1) and (t2, v2) at target. Either
// input missing yields a missing result.
func Scalar(t1 time.Time, v1 sql.NullFloat64, t2 time.Time, v2 sql.NullFloat64, target time.Time) sql.NullFloat64 {
	if !v1.Valid || !v2.Valid || math.IsNaN(v1.Float64) || math.IsNaN(v2.Float64) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: lerp(t1, v1.Float64, t2, v2.Float64, target), Valid: true}
}

// Bearing interpolates compass bearings along the acute arc between b1 and
// b2, so 350° and 10° meet through north rather than south.
func Bearing(t1 time.Time, b1 sql.NullFloat64, t2 time.Time, b2 sql.NullFloat64, target time.Time) sql.NullFloat64 {
	if !b1.Valid || !b2.Valid || math.IsNaN(b1.Float64) || math.IsNaN(b2.Float64) {
		return sql.NullFloat64{}
	}
	a, b := b1.Float64, b2.Float64
	if math.Abs(a-b) > 180 {
		if a < b {
			a += 360
		} else {
			b += 360
		}
	}
	v := lerp(t1, a, t2, b, target)
	return sql.NullFloat64{Float64: geo.NormalizeBearing(v), Valid: true}
}

func lerp(t1 time.Time, v1 float64, t2 time.Time, v2 float64, target time.Time) float64 {
	span := t2.Sub(t1)
	if span == 0 {
		return v1
	}
	frac := float64(target.Sub(t1)) / float64(span)
	return v1 + (v2-v1)*frac
}

// NoonOf returns the reference hour on t's UTC calendar day.
func NoonOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), NoonHour, 0, 0, 0, time.UTC)
}

// NoonBetween returns the reference hour lying strictly between two
// consecutive raw prediction timestamps. A raw sample exactly at noon means
// there is nothing to synthesize, and gaps wider than MaxNoonGap are not
// bridged.
func NoonBetween(prev, next time.Time) (time.Time, bool) {
	if !next.After(prev) || next.Sub(prev) > MaxNoonGap {
		return time.Time{}, false
	}
	noon := NoonOf(prev)
	if !noon.After(prev) {
		noon = noon.AddDate(0, 0, 1)
	}
	if noon.Before(next) {
		return noon, true
	}
	return time.Time{}, false
}

// Noon builds a synthetic prediction at the given reference timestamp from
// the two raw predictions straddling it. Fields missing on either side stay
// missing.
func Noon(prev, next models.RunPrediction, at time.Time) models.RunPrediction {
	t1, t2 := prev.PredictionTimestamp, next.PredictionTimestamp
	return models.RunPrediction{
		RunID:               next.RunID,
		StationCode:         next.StationCode,
		PredictionTimestamp: at,
		Temperature:         Scalar(t1, prev.Temperature, t2, next.Temperature, at),
		RelativeHumidity:    Scalar(t1, prev.RelativeHumidity, t2, next.RelativeHumidity, at),
		WindSpeed:           Scalar(t1, prev.WindSpeed, t2, next.WindSpeed, at),
		WindDirection:       Bearing(t1, prev.WindDirection, t2, next.WindDirection, at),
		Precipitation:       Scalar(t1, prev.Precipitation, t2, next.Precipitation, at),
	}
}
