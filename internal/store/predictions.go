package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/nwpingest/internal/models"
)

// predictionColumns whitelists the columns a raw prediction upsert may touch.
var predictionColumns = map[models.Variable]string{
	models.Temperature:      "temperature",
	models.RelativeHumidity: "relative_humidity",
	models.WindSpeed:        "wind_speed",
	models.WindDirection:    "wind_direction",
	models.Precipitation:    "precipitation",
}

// UpsertRunPrediction sets one variable on the raw prediction row for
// (run, station, timestamp), creating the row if needed. Other variables
// already on the row are left alone.
func (s *Store) UpsertRunPrediction(ctx context.Context, runID int64, stationCode int, ts time.Time, v models.Variable, value float64) error {
	col, ok := predictionColumns[v]
	if !ok {
		return fmt.Errorf("unknown prediction variable %q", v)
	}
	query := fmt.Sprintf(`
		INSERT INTO model_run_predictions (prediction_model_run_id, station_code, prediction_timestamp, %[1]s, update_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(prediction_model_run_id, station_code, prediction_timestamp) DO UPDATE SET
			%[1]s = excluded.%[1]s,
			update_date = excluded.update_date
	`, col)
	_, err := s.db.ExecContext(ctx, query, runID, stationCode, formatTime(ts), value, formatTime(s.now()))
	return err
}

const runPredictionColumns = `id, prediction_model_run_id, station_code, prediction_timestamp,
	temperature, relative_humidity, wind_speed, wind_direction, precipitation, update_date`

func scanRunPrediction(sc interface{ Scan(...any) error }) (models.RunPrediction, error) {
	var p models.RunPrediction
	var ts, updated string
	if err := sc.Scan(&p.ID, &p.RunID, &p.StationCode, &ts,
		&p.Temperature, &p.RelativeHumidity, &p.WindSpeed, &p.WindDirection, &p.Precipitation, &updated); err != nil {
		return p, err
	}
	var err error
	if p.PredictionTimestamp, err = parseTime(ts); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return p, err
	}
	return p, nil
}

// RunPredictions returns a station's raw predictions for one run in
// timestamp order.
func (s *Store) RunPredictions(ctx context.Context, runID int64, stationCode int) ([]models.RunPrediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runPredictionColumns+`
		FROM model_run_predictions
		WHERE prediction_model_run_id = ? AND station_code = ?
		ORDER BY prediction_timestamp
	`, runID, stationCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var preds []models.RunPrediction
	for rows.Next() {
		p, err := scanRunPrediction(rows)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

// RunStations lists the stations that have raw predictions for a run.
func (s *Store) RunStations(ctx context.Context, runID int64) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT station_code FROM model_run_predictions
		WHERE prediction_model_run_id = ? ORDER BY station_code
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []int
	for rows.Next() {
		var code int
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *Store) UpsertStationPrediction(ctx context.Context, p models.StationPrediction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_station_model_predictions (
			station_code, prediction_model_run_id, prediction_timestamp,
			temperature, bias_adjusted_temperature,
			relative_humidity, bias_adjusted_relative_humidity,
			wind_speed, bias_adjusted_wind_speed,
			wind_direction, bias_adjusted_wind_direction,
			precipitation, delta_precipitation,
			precipitation_24h, bias_adjusted_precipitation_24h,
			interpolated, update_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_code, prediction_model_run_id, prediction_timestamp) DO UPDATE SET
			temperature = excluded.temperature,
			bias_adjusted_temperature = excluded.bias_adjusted_temperature,
			relative_humidity = excluded.relative_humidity,
			bias_adjusted_relative_humidity = excluded.bias_adjusted_relative_humidity,
			wind_speed = excluded.wind_speed,
			bias_adjusted_wind_speed = excluded.bias_adjusted_wind_speed,
			wind_direction = excluded.wind_direction,
			bias_adjusted_wind_direction = excluded.bias_adjusted_wind_direction,
			precipitation = excluded.precipitation,
			delta_precipitation = excluded.delta_precipitation,
			precipitation_24h = excluded.precipitation_24h,
			bias_adjusted_precipitation_24h = excluded.bias_adjusted_precipitation_24h,
			interpolated = excluded.interpolated,
			update_date = excluded.update_date
	`, p.StationCode, p.RunID, formatTime(p.PredictionTimestamp),
		p.Temperature, p.BiasAdjustedTemperature,
		p.RelativeHumidity, p.BiasAdjustedRelativeHumidity,
		p.WindSpeed, p.BiasAdjustedWindSpeed,
		p.WindDirection, p.BiasAdjustedWindDirection,
		p.Precipitation, p.DeltaPrecipitation,
		p.Precipitation24h, p.BiasAdjustedPrecipitation24h,
		p.Interpolated, formatTime(s.now()))
	return err
}

// StationPredictions returns the processed rows of one run for a station.
func (s *Store) StationPredictions(ctx context.Context, runID int64, stationCode int) ([]models.StationPrediction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT station_code, prediction_model_run_id, prediction_timestamp,
			temperature, bias_adjusted_temperature,
			relative_humidity, bias_adjusted_relative_humidity,
			wind_speed, bias_adjusted_wind_speed,
			wind_direction, bias_adjusted_wind_direction,
			precipitation, delta_precipitation,
			precipitation_24h, bias_adjusted_precipitation_24h,
			interpolated, update_date
		FROM weather_station_model_predictions
		WHERE prediction_model_run_id = ? AND station_code = ?
		ORDER BY prediction_timestamp
	`, runID, stationCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StationPrediction
	for rows.Next() {
		var p models.StationPrediction
		var ts, updated string
		if err := rows.Scan(&p.StationCode, &p.RunID, &ts,
			&p.Temperature, &p.BiasAdjustedTemperature,
			&p.RelativeHumidity, &p.BiasAdjustedRelativeHumidity,
			&p.WindSpeed, &p.BiasAdjustedWindSpeed,
			&p.WindDirection, &p.BiasAdjustedWindDirection,
			&p.Precipitation, &p.DeltaPrecipitation,
			&p.Precipitation24h, &p.BiasAdjustedPrecipitation24h,
			&p.Interpolated, &updated); err != nil {
			return nil, err
		}
		if p.PredictionTimestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PredictedDailyPrecip returns the model's 24 hour precipitation totals at
// 20:00 UTC for a station, taking the most recent run for each day.
func (s *Store) PredictedDailyPrecip(ctx context.Context, modelID int64, stationCode int, start, end time.Time) ([]models.DailyPrecip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.prediction_timestamp, w.precipitation_24h
		FROM weather_station_model_predictions w
		JOIN prediction_model_runs r ON r.id = w.prediction_model_run_id
		WHERE r.prediction_model_id = ?
		  AND w.station_code = ?
		  AND w.prediction_timestamp >= ? AND w.prediction_timestamp <= ?
		  AND SUBSTR(w.prediction_timestamp, 12, 2) = '20'
		  AND w.precipitation_24h IS NOT NULL
		ORDER BY w.prediction_timestamp, r.run_timestamp DESC
	`, modelID, stationCode, formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DailyPrecip
	for rows.Next() {
		var ts string
		var amount float64
		if err := rows.Scan(&ts, &amount); err != nil {
			return nil, err
		}
		day, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].Day.Equal(day) {
			continue
		}
		out = append(out, models.DailyPrecip{Day: day, Amount: amount})
	}
	return out, rows.Err()
}

// DeletePredictionsBefore removes raw and processed predictions with
// timestamps before cutoff. It returns the number of rows removed from each
// table.
func (s *Store) DeletePredictionsBefore(ctx context.Context, cutoff time.Time) (raw, processed int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	c := formatTime(cutoff)
	if raw, err = deleteBefore(ctx, tx, "model_run_predictions", c); err != nil {
		return 0, 0, err
	}
	if processed, err = deleteBefore(ctx, tx, "weather_station_model_predictions", c); err != nil {
		return 0, 0, err
	}
	return raw, processed, tx.Commit()
}

func deleteBefore(ctx context.Context, tx *sql.Tx, table, cutoff string) (int64, error) {
	res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE prediction_timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}
