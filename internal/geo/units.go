// Package geo holds the unit conversions and coordinate transforms used to
// turn gridded model output into per-station point values.
package geo

import "math"

const kelvinOffset = 273.15

func KelvinToCelsius(k float64) float64 { return k - kelvinOffset }

func CelsiusToKelvin(c float64) float64 { return c + kelvinOffset }

// MpsToKph converts metres per second to kilometres per hour.
func MpsToKph(mps float64) float64 { return mps * 3.6 }

func KphToMps(kph float64) float64 { return kph / 3.6 }

// NormalizeBearing maps any angle in degrees into [0, 360).
func NormalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	if b < 0 {
		b += 360
	}
	// math.Mod(-1e-15, 360) + 360 rounds to exactly 360.
	if b >= 360 {
		b = 0
	}
	return b
}

// WindFromUV converts GRIB u/v wind components (the direction the air moves
// towards) into a speed and the meteorological bearing the wind blows from.
func WindFromUV(u, v float64) (speed, bearing float64) {
	speed = math.Hypot(u, v)
	if speed == 0 {
		return 0, 0
	}
	bearing = NormalizeBearing(math.Atan2(u, v)*180/math.Pi + 180)
	return speed, bearing
}

// UVFromWind decomposes a speed and bearing into orthogonal components with
// u = speed*sin(bearing) and v = speed*cos(bearing). The bias regressions
// operate in this space so the 0/360 discontinuity never reaches a fit.
func UVFromWind(speed, bearing float64) (u, v float64) {
	rad := bearing * math.Pi / 180
	return speed * math.Sin(rad), speed * math.Cos(rad)
}

// BearingFromUV inverts UVFromWind for the bearing.
func BearingFromUV(u, v float64) float64 {
	if u == 0 && v == 0 {
		return 0
	}
	return NormalizeBearing(math.Atan2(u, v) * 180 / math.Pi)
}

// SpeedFromUV inverts UVFromWind for the speed.
func SpeedFromUV(u, v float64) float64 {
	return math.Hypot(u, v)
}
