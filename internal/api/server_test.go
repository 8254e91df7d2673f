package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lox/nwpingest/internal/api"
	"github.com/lox/nwpingest/internal/models"
	"github.com/lox/nwpingest/internal/nwp"
	"github.com/lox/nwpingest/internal/store"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func get(t *testing.T, srv *api.Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, ":0")

	w := get(t, srv, "/health")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if len(health.Models) != len(nwp.Kinds) {
		t.Errorf("got %d models, want %d", len(health.Models), len(nwp.Kinds))
	}
}

func TestHealthDegradedAfterFailedPass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := setupTestStore(t)

	run, err := s.StartIngestRun(ctx, "RDPS")
	if err != nil {
		t.Fatal(err)
	}
	run.Exceptions = sql.NullInt64{Int64: 3, Valid: true}
	run.ErrorMessage = sql.NullString{String: "3 exceptions", Valid: true}
	if err := s.CompleteIngestRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	srv := api.NewServer(s, ":0", nwp.RDPS)
	w := get(t, srv, "/health")

	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded", health.Status)
	}
	if len(health.Models) != 1 || health.Models[0].Exceptions != 3 || health.Models[0].LastRun == nil {
		t.Errorf("models = %+v", health.Models)
	}
}

func TestIngestRunsEndpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := setupTestStore(t)
	for i := 0; i < 3; i++ {
		run, err := s.StartIngestRun(ctx, "GDPS")
		if err != nil {
			t.Fatal(err)
		}
		run.Success = true
		if err := s.CompleteIngestRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}
	srv := api.NewServer(s, ":0")

	w := get(t, srv, "/api/ingest-runs?model=gdps&limit=2")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var runs []api.IngestRunView
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].FinishedAt == nil || !runs[0].Success {
		t.Errorf("run = %+v", runs[0])
	}

	if w := get(t, srv, "/api/ingest-runs?model=ECMWF"); w.Code != 400 {
		t.Errorf("unknown model: expected 400, got %d", w.Code)
	}
	if w := get(t, srv, "/api/ingest-runs?model=GDPS&limit=-1"); w.Code != 400 {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestPredictionsEndpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := setupTestStore(t)

	m, err := s.GetPredictionModel(ctx, "HRDPS", "ps2.5km")
	if err != nil {
		t.Fatal(err)
	}
	runTS := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	run, err := s.GetOrCreateRun(ctx, m.ID, runTS)
	if err != nil {
		t.Fatal(err)
	}
	err = s.UpsertStationPrediction(ctx, models.StationPrediction{
		StationCode:         322,
		RunID:               run.ID,
		PredictionTimestamp: runTS.Add(8 * time.Hour),
		Temperature:         sql.NullFloat64{Float64: 7.5, Valid: true},
		Interpolated:        true,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := api.NewServer(s, ":0")
	w := get(t, srv, "/api/predictions?run="+strconv.FormatInt(run.ID, 10)+"&station=322")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"temperature":7.5`) {
		t.Errorf("expected temperature in %s", body)
	}
	if strings.Contains(body, "relative_humidity") {
		t.Errorf("null values should be omitted: %s", body)
	}
	if !strings.Contains(body, `"interpolated":true`) {
		t.Errorf("expected interpolated flag in %s", body)
	}

	if w := get(t, srv, "/api/predictions?station=322"); w.Code != 400 {
		t.Errorf("missing run: expected 400, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(setupTestStore(t), ":0")
	w := get(t, srv, "/metrics")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected Go runtime metrics")
	}
}
