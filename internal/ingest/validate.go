package ingest

import (
	"math"

	"github.com/lox/nwpingest/internal/models"
)

const (
	FlagTempOutOfRange    = "temp_out_of_range"
	FlagHumidityInvalid   = "humidity_invalid"
	FlagWindSpeedUnlikely = "wind_speed_unlikely"
	FlagPrecipUnlikely    = "precip_unlikely"
	FlagNotANumber        = "not_a_number"
)

// ValidateValue checks a converted model value. Small overshoots that
// interpolation on the model grid produces are clamped; anything else out of
// physical range is flagged and must not be stored.
func ValidateValue(v models.Variable, value float64) (float64, string) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, FlagNotANumber
	}

	switch v {
	case models.Temperature:
		if value < -90 || value > 60 {
			return 0, FlagTempOutOfRange
		}
	case models.RelativeHumidity:
		if value < -5 || value > 110 {
			return 0, FlagHumidityInvalid
		}
		return math.Min(math.Max(value, 0), 100), ""
	case models.WindSpeed:
		if value < 0 || value > 400 {
			return 0, FlagWindSpeedUnlikely
		}
	case models.Precipitation:
		if value > 2000 {
			return 0, FlagPrecipUnlikely
		}
		return math.Max(value, 0), ""
	}
	return value, ""
}
