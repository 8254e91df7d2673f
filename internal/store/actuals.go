package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lox/nwpingest/internal/models"
)

func (s *Store) InsertHourlyActual(ctx context.Context, a models.HourlyActual) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hourly_actuals (station_code, weather_date, temperature, relative_humidity, wind_speed, wind_direction, precipitation)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_code, weather_date) DO UPDATE SET
			temperature = excluded.temperature,
			relative_humidity = excluded.relative_humidity,
			wind_speed = excluded.wind_speed,
			wind_direction = excluded.wind_direction,
			precipitation = excluded.precipitation
	`, a.StationCode, formatTime(a.WeatherDate), a.Temperature, a.RelativeHumidity, a.WindSpeed, a.WindDirection, a.Precipitation)
	return err
}

// ActualsWithPredictions joins a station's hourly actuals in [start, end)
// with the raw predictions of every run of modelID valid at the same hour.
// Actuals no run predicted are returned with a nil Prediction.
func (s *Store) ActualsWithPredictions(ctx context.Context, modelID int64, stationCode int, start, end time.Time) ([]models.ActualWithPrediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.station_code, a.weather_date,
			a.temperature, a.relative_humidity, a.wind_speed, a.wind_direction, a.precipitation,
			p.id, p.prediction_model_run_id, p.prediction_timestamp,
			p.temperature, p.relative_humidity, p.wind_speed, p.wind_direction, p.precipitation, p.update_date
		FROM hourly_actuals a
		LEFT JOIN (
			SELECT mrp.* FROM model_run_predictions mrp
			JOIN prediction_model_runs r ON r.id = mrp.prediction_model_run_id
			WHERE r.prediction_model_id = ?
		) p ON p.station_code = a.station_code AND p.prediction_timestamp = a.weather_date
		WHERE a.station_code = ? AND a.weather_date >= ? AND a.weather_date < ?
		ORDER BY a.weather_date, p.prediction_model_run_id
	`, modelID, stationCode, formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ActualWithPrediction
	for rows.Next() {
		var (
			a             models.HourlyActual
			date          string
			pid, runID    sql.NullInt64
			pts, pupdated sql.NullString
			p             models.RunPrediction
		)
		if err := rows.Scan(&a.StationCode, &date,
			&a.Temperature, &a.RelativeHumidity, &a.WindSpeed, &a.WindDirection, &a.Precipitation,
			&pid, &runID, &pts,
			&p.Temperature, &p.RelativeHumidity, &p.WindSpeed, &p.WindDirection, &p.Precipitation, &pupdated); err != nil {
			return nil, err
		}
		if a.WeatherDate, err = parseTime(date); err != nil {
			return nil, err
		}
		row := models.ActualWithPrediction{Actual: a}
		if pid.Valid {
			p.ID = pid.Int64
			p.RunID = runID.Int64
			p.StationCode = a.StationCode
			p.PredictionTimestamp = a.WeatherDate
			if pupdated.Valid {
				if p.UpdatedAt, err = parseTime(pupdated.String); err != nil {
					return nil, err
				}
			}
			row.Prediction = &p
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ActualDailyPrecip sums a station's hourly precipitation into 24 hour
// totals ending at 20:00 UTC, for each day whose reference hour falls in
// [start, end]. Days without any reported precipitation are omitted.
func (s *Store) ActualDailyPrecip(ctx context.Context, stationCode int, start, end time.Time) ([]models.DailyPrecip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT weather_date, precipitation FROM hourly_actuals
		WHERE station_code = ? AND weather_date > ? AND weather_date <= ?
		  AND precipitation IS NOT NULL
		ORDER BY weather_date
	`, stationCode, formatTime(start.Add(-24*time.Hour)), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[time.Time]float64)
	var days []time.Time
	for rows.Next() {
		var date string
		var amount float64
		if err := rows.Scan(&date, &amount); err != nil {
			return nil, err
		}
		ts, err := parseTime(date)
		if err != nil {
			return nil, err
		}
		day := precipDay(ts)
		if day.Before(start) || day.After(end) {
			continue
		}
		if _, ok := totals[day]; !ok {
			days = append(days, day)
		}
		totals[day] += amount
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.DailyPrecip, 0, len(days))
	for _, d := range days {
		out = append(out, models.DailyPrecip{Day: d, Amount: totals[d]})
	}
	return out, nil
}

// precipDay returns the 20:00 UTC reference hour whose 24 hour window
// (exclusive start, inclusive end) contains ts.
func precipDay(ts time.Time) time.Time {
	ts = ts.UTC()
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 20, 0, 0, 0, time.UTC)
	if ts.After(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}
