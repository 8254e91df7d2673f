// Package bias fits per-station, per-hour linear corrections from raw model
// values to observed weather.
package bias

import (
	"math"
	"time"

	"github.com/lox/nwpingest/internal/geo"
)

// Regression is a single-feature ordinary least squares fit. The zero value
// is unusable and predicts nothing.
type Regression struct {
	Slope     float64
	Intercept float64
	Samples   int
	usable    bool
}

// Fit replaces any previous fit with one over xs/ys. Pairs containing NaN
// are ignored. With no pairs the model becomes unusable; when every x is
// identical the slope is zero and the intercept is the mean target.
func (r *Regression) Fit(xs, ys []float64) {
	*r = Regression{}
	var n, sx, sy float64
	for i := range xs {
		if i >= len(ys) || math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		n++
		sx += xs[i]
		sy += ys[i]
	}
	if n == 0 {
		return
	}
	mx, my := sx/n, sy/n

	var sxx, sxy float64
	for i := range xs {
		if i >= len(ys) || math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		dx := xs[i] - mx
		sxx += dx * dx
		sxy += dx * (ys[i] - my)
	}

	r.Samples = int(n)
	r.usable = true
	if sxx == 0 {
		r.Intercept = my
		return
	}
	r.Slope = sxy / sxx
	r.Intercept = my - r.Slope*mx
}

func (r *Regression) Usable() bool { return r != nil && r.usable }

// Predict returns the corrected value for x, or false when the model has not
// been trained.
func (r *Regression) Predict(x float64) (float64, bool) {
	if !r.Usable() || math.IsNaN(x) {
		return 0, false
	}
	return r.Intercept + r.Slope*x, true
}

// HourlyModel holds one regression per UTC hour of day.
type HourlyModel [24]Regression

func (h *HourlyModel) Predict(x float64, ts time.Time) (float64, bool) {
	return h[ts.UTC().Hour()].Predict(x)
}

// StationModel is the full set of corrections for one station and one
// prediction model, rebuilt from scratch on every training cycle.
type StationModel struct {
	StationCode      int
	Temperature      HourlyModel
	RelativeHumidity HourlyModel
	WindSpeed        HourlyModel
	WindU            HourlyModel
	WindV            HourlyModel
	Precip24h        HourlyModel
}

func (m *StationModel) PredictTemperature(raw float64, ts time.Time) (float64, bool) {
	return m.Temperature.Predict(raw, ts)
}

// PredictRH floors the result at zero.
func (m *StationModel) PredictRH(raw float64, ts time.Time) (float64, bool) {
	return floorZero(m.RelativeHumidity.Predict(raw, ts))
}

// PredictWindSpeed floors the result at zero.
func (m *StationModel) PredictWindSpeed(raw float64, ts time.Time) (float64, bool) {
	return floorZero(m.WindSpeed.Predict(raw, ts))
}

// PredictWindDirection corrects a bearing in u/v space and converts back to
// degrees in [0, 360).
func (m *StationModel) PredictWindDirection(speed, bearing float64, ts time.Time) (float64, bool) {
	u, v := geo.UVFromWind(speed, bearing)
	cu, okU := m.WindU.Predict(u, ts)
	cv, okV := m.WindV.Predict(v, ts)
	if !okU || !okV {
		return 0, false
	}
	return geo.BearingFromUV(cu, cv), true
}

// PredictPrecip24h floors the result at zero.
func (m *StationModel) PredictPrecip24h(raw float64, ts time.Time) (float64, bool) {
	return floorZero(m.Precip24h.Predict(raw, ts))
}

func floorZero(v float64, ok bool) (float64, bool) {
	if !ok {
		return 0, false
	}
	return math.Max(0, v), true
}
