package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/nwpingest/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func nf(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

func mustModel(t *testing.T, s *Store, abbrev, projection string) *models.PredictionModel {
	t.Helper()
	m, err := s.GetPredictionModel(context.Background(), abbrev, projection)
	if err != nil {
		t.Fatalf("GetPredictionModel(%s): %v", abbrev, err)
	}
	return m
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("version = %d, want %d", v, len(migrations))
	}
}

func TestPredictionModelsSeeded(t *testing.T) {
	store := setupTestStore(t)
	for _, tc := range []struct{ abbrev, projection string }{
		{"GDPS", "latlon.15x.15"},
		{"RDPS", "ps10km"},
		{"HRDPS", "ps2.5km"},
		{"GFS", "lonlat.0.25deg"},
		{"NAM", "ps32km"},
	} {
		m := mustModel(t, store, tc.abbrev, tc.projection)
		if m.Name == "" {
			t.Errorf("%s has no name", tc.abbrev)
		}
	}

	_, err := store.GetPredictionModel(context.Background(), "GDPS", "ps10km")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestStations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, st := range []models.Station{
		{Code: 322, Name: "Afton", Latitude: 50.67, Longitude: -120.48, Active: true},
		{Code: 209, Name: "Alexis Creek", Latitude: 52.08, Longitude: -123.27, Active: true},
		{Code: 999, Name: "Retired", Latitude: 49, Longitude: -122, Active: false},
	} {
		if err := store.UpsertStation(ctx, st); err != nil {
			t.Fatalf("UpsertStation: %v", err)
		}
	}
	if err := store.UpsertStation(ctx, models.Station{Code: 322, Name: "Afton Ridge", Latitude: 50.67, Longitude: -120.48, Active: true}); err != nil {
		t.Fatalf("UpsertStation update: %v", err)
	}

	stations, err := store.ActiveStations(ctx)
	if err != nil {
		t.Fatalf("ActiveStations: %v", err)
	}
	if len(stations) != 2 {
		t.Fatalf("len(stations) = %d, want 2", len(stations))
	}
	if stations[0].Code != 209 || stations[1].Name != "Afton Ridge" {
		t.Errorf("stations = %+v", stations)
	}
}

func TestGetOrCreateRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := mustModel(t, store, "RDPS", "ps10km")
	runTS := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	first, err := store.GetOrCreateRun(ctx, m.ID, runTS)
	if err != nil {
		t.Fatalf("GetOrCreateRun: %v", err)
	}
	second, err := store.GetOrCreateRun(ctx, m.ID, runTS)
	if err != nil {
		t.Fatalf("GetOrCreateRun again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("run ids differ: %d vs %d", first.ID, second.ID)
	}
	if !first.RunTimestamp.Equal(runTS) || first.Complete || first.Interpolated {
		t.Errorf("run = %+v", first)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := mustModel(t, store, "GDPS", "latlon.15x.15")

	older, _ := store.GetOrCreateRun(ctx, m.ID, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC))
	newer, _ := store.GetOrCreateRun(ctx, m.ID, time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	store.GetOrCreateRun(ctx, m.ID, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))

	for _, id := range []int64{newer.ID, older.ID} {
		if err := store.MarkRunComplete(ctx, id); err != nil {
			t.Fatalf("MarkRunComplete: %v", err)
		}
	}

	runs, err := store.RunsToInterpolate(ctx, m.ID)
	if err != nil {
		t.Fatalf("RunsToInterpolate: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != older.ID || runs[1].ID != newer.ID {
		t.Fatalf("runs = %+v, want older then newer", runs)
	}

	if err := store.MarkRunInterpolated(ctx, older.ID); err != nil {
		t.Fatalf("MarkRunInterpolated: %v", err)
	}
	runs, _ = store.RunsToInterpolate(ctx, m.ID)
	if len(runs) != 1 || runs[0].ID != newer.ID {
		t.Errorf("runs = %+v, want only newer", runs)
	}

	got, err := store.GetRun(ctx, older.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !got.Complete || !got.Interpolated {
		t.Errorf("run = %+v, want complete and interpolated", got)
	}
}

func TestProcessedFileLedger(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	url := "https://dd.weather.gc.ca/model_gem_global/15km/grib2/lat_lon/00/003/CMC_glb_TMP_TGL_2_latlon.15x.15_2026101800_P003.grib2"

	ok, err := store.ProcessedFileExists(ctx, url)
	if err != nil {
		t.Fatalf("ProcessedFileExists: %v", err)
	}
	if ok {
		t.Fatal("new url reported as processed")
	}

	created := time.Date(2026, 10, 18, 4, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return created }
	if err := store.MarkFileProcessed(ctx, url); err != nil {
		t.Fatalf("MarkFileProcessed: %v", err)
	}
	store.now = func() time.Time { return created.Add(time.Hour) }
	if err := store.MarkFileProcessed(ctx, url); err != nil {
		t.Fatalf("MarkFileProcessed twice: %v", err)
	}

	var createDate, updateDate string
	if err := store.db.QueryRow(`SELECT create_date, update_date FROM processed_model_run_urls WHERE url = ?`, url).Scan(&createDate, &updateDate); err != nil {
		t.Fatalf("query ledger: %v", err)
	}
	if createDate != "2026-10-18T04:00:00Z" || updateDate != "2026-10-18T05:00:00Z" {
		t.Errorf("dates = %s, %s", createDate, updateDate)
	}

	n, err := store.ProcessedCount(ctx, []string{url, url + ".missing"})
	if err != nil {
		t.Fatalf("ProcessedCount: %v", err)
	}
	if n != 1 {
		t.Errorf("ProcessedCount = %d, want 1", n)
	}
}

func TestUpsertRunPredictionMergesVariables(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := mustModel(t, store, "HRDPS", "ps2.5km")
	run, _ := store.GetOrCreateRun(ctx, m.ID, time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC))
	ts := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	if err := store.UpsertRunPrediction(ctx, run.ID, 322, ts, models.Temperature, 11.5); err != nil {
		t.Fatalf("UpsertRunPrediction temperature: %v", err)
	}
	if err := store.UpsertRunPrediction(ctx, run.ID, 322, ts, models.WindSpeed, 14); err != nil {
		t.Fatalf("UpsertRunPrediction wind: %v", err)
	}
	if err := store.UpsertRunPrediction(ctx, run.ID, 322, ts, models.Temperature, 12); err != nil {
		t.Fatalf("UpsertRunPrediction temperature again: %v", err)
	}
	if err := store.UpsertRunPrediction(ctx, run.ID, 322, ts, models.Variable("dewpoint"), 1); err == nil {
		t.Error("unknown variable accepted")
	}

	preds, err := store.RunPredictions(ctx, run.ID, 322)
	if err != nil {
		t.Fatalf("RunPredictions: %v", err)
	}
	if len(preds) != 1 {
		t.Fatalf("len(preds) = %d, want 1", len(preds))
	}
	p := preds[0]
	if p.Temperature != nf(12) || p.WindSpeed != nf(14) || p.RelativeHumidity.Valid {
		t.Errorf("prediction = %+v", p)
	}
	if !p.PredictionTimestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", p.PredictionTimestamp, ts)
	}

	codes, err := store.RunStations(ctx, run.ID)
	if err != nil {
		t.Fatalf("RunStations: %v", err)
	}
	if len(codes) != 1 || codes[0] != 322 {
		t.Errorf("codes = %v", codes)
	}
}

func TestActualsWithPredictions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	gdps := mustModel(t, store, "GDPS", "latlon.15x.15")
	rdps := mustModel(t, store, "RDPS", "ps10km")
	run, _ := store.GetOrCreateRun(ctx, gdps.ID, time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC))
	other, _ := store.GetOrCreateRun(ctx, rdps.ID, time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC))

	h18 := time.Date(2026, 10, 10, 18, 0, 0, 0, time.UTC)
	h20 := time.Date(2026, 10, 10, 20, 0, 0, 0, time.UTC)
	for _, a := range []models.HourlyActual{
		{StationCode: 322, WeatherDate: h18, Temperature: nf(10)},
		{StationCode: 322, WeatherDate: h20, Temperature: nf(12)},
		{StationCode: 209, WeatherDate: h18, Temperature: nf(3)},
	} {
		if err := store.InsertHourlyActual(ctx, a); err != nil {
			t.Fatalf("InsertHourlyActual: %v", err)
		}
	}
	store.UpsertRunPrediction(ctx, run.ID, 322, h18, models.Temperature, 9)
	store.UpsertRunPrediction(ctx, other.ID, 322, h20, models.Temperature, 50)

	rows, err := store.ActualsWithPredictions(ctx, gdps.ID, 322, h18.Add(-time.Hour), h20.Add(time.Hour))
	if err != nil {
		t.Fatalf("ActualsWithPredictions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Prediction == nil || rows[0].Prediction.Temperature != nf(9) || rows[0].Prediction.RunID != run.ID {
		t.Errorf("row 0 prediction = %+v", rows[0].Prediction)
	}
	if rows[1].Prediction != nil {
		t.Errorf("row 1 joined another model's prediction: %+v", rows[1].Prediction)
	}
	if rows[1].Actual.Temperature != nf(12) {
		t.Errorf("row 1 actual = %+v", rows[1].Actual)
	}

	rows, _ = store.ActualsWithPredictions(ctx, gdps.ID, 322, h18.Add(time.Hour), h20)
	if len(rows) != 0 {
		t.Errorf("end bound not exclusive: %d rows", len(rows))
	}
}

func TestActualDailyPrecip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	day1 := time.Date(2026, 10, 10, 20, 0, 0, 0, time.UTC)
	for _, a := range []models.HourlyActual{
		{StationCode: 322, WeatherDate: day1.Add(-23 * time.Hour), Precipitation: nf(1)},
		{StationCode: 322, WeatherDate: day1, Precipitation: nf(2)},
		{StationCode: 322, WeatherDate: day1.Add(time.Hour), Precipitation: nf(4)},
		{StationCode: 322, WeatherDate: day1.Add(2 * time.Hour)},
		{StationCode: 322, WeatherDate: day1.Add(24 * time.Hour), Precipitation: nf(0.5)},
	} {
		if err := store.InsertHourlyActual(ctx, a); err != nil {
			t.Fatalf("InsertHourlyActual: %v", err)
		}
	}

	got, err := store.ActualDailyPrecip(ctx, 322, day1, day1.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ActualDailyPrecip: %v", err)
	}
	want := []models.DailyPrecip{
		{Day: day1, Amount: 3},
		{Day: day1.AddDate(0, 0, 1), Amount: 4.5},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if !got[i].Day.Equal(want[i].Day) || got[i].Amount != want[i].Amount {
			t.Errorf("day %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStationPredictionsAndDailyPrecip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := mustModel(t, store, "NAM", "ps32km")
	early, _ := store.GetOrCreateRun(ctx, m.ID, time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC))
	late, _ := store.GetOrCreateRun(ctx, m.ID, time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC))
	noon := time.Date(2026, 10, 10, 20, 0, 0, 0, time.UTC)

	rows := []models.StationPrediction{
		{StationCode: 322, RunID: early.ID, PredictionTimestamp: noon, Precipitation24h: nf(7)},
		{StationCode: 322, RunID: late.ID, PredictionTimestamp: noon, Precipitation24h: nf(5), Interpolated: true},
		{StationCode: 322, RunID: late.ID, PredictionTimestamp: noon.Add(time.Hour), Precipitation24h: nf(9)},
	}
	for _, r := range rows {
		if err := store.UpsertStationPrediction(ctx, r); err != nil {
			t.Fatalf("UpsertStationPrediction: %v", err)
		}
	}
	updated := rows[1]
	updated.BiasAdjustedPrecipitation24h = nf(4)
	if err := store.UpsertStationPrediction(ctx, updated); err != nil {
		t.Fatalf("UpsertStationPrediction update: %v", err)
	}

	got, err := store.StationPredictions(ctx, late.ID, 322)
	if err != nil {
		t.Fatalf("StationPredictions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].Interpolated || got[0].BiasAdjustedPrecipitation24h != nf(4) {
		t.Errorf("row = %+v", got[0])
	}

	daily, err := store.PredictedDailyPrecip(ctx, m.ID, 322, noon.AddDate(0, 0, -1), noon)
	if err != nil {
		t.Fatalf("PredictedDailyPrecip: %v", err)
	}
	if len(daily) != 1 || daily[0].Amount != 5 {
		t.Errorf("daily = %+v, want the latest run's 5mm", daily)
	}
}

func TestDeletePredictionsBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := mustModel(t, store, "GFS", "lonlat.0.25deg")
	run, _ := store.GetOrCreateRun(ctx, m.ID, time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC))

	old := time.Date(2026, 9, 20, 18, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 10, 18, 18, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{old, recent} {
		store.UpsertRunPrediction(ctx, run.ID, 322, ts, models.Temperature, 1)
		store.UpsertStationPrediction(ctx, models.StationPrediction{StationCode: 322, RunID: run.ID, PredictionTimestamp: ts})
	}

	raw, processed, err := store.DeletePredictionsBefore(ctx, time.Date(2026, 9, 28, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DeletePredictionsBefore: %v", err)
	}
	if raw != 1 || processed != 1 {
		t.Errorf("deleted raw=%d processed=%d, want 1 and 1", raw, processed)
	}
	preds, _ := store.RunPredictions(ctx, run.ID, 322)
	if len(preds) != 1 || !preds[0].PredictionTimestamp.Equal(recent) {
		t.Errorf("remaining = %+v", preds)
	}
}

func TestIngestRunAudit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := store.StartIngestRun(ctx, "HRDPS")
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	run.FilesDownloaded = sql.NullInt64{Int64: 12, Valid: true}
	run.FilesProcessed = sql.NullInt64{Int64: 10, Valid: true}
	run.Exceptions = sql.NullInt64{Int64: 2, Valid: true}
	run.ErrorMessage = sql.NullString{String: "2 files failed", Valid: true}
	if err := store.CompleteIngestRun(ctx, run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}
	if err := store.CompleteIngestRun(ctx, nil); err != nil {
		t.Errorf("CompleteIngestRun(nil) = %v", err)
	}

	runs, err := store.RecentIngestRuns(ctx, "HRDPS", 5)
	if err != nil {
		t.Fatalf("RecentIngestRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.Success || got.Exceptions.Int64 != 2 || !got.FinishedAt.Valid || got.ErrorMessage.String != "2 files failed" {
		t.Errorf("run = %+v", got)
	}
}
