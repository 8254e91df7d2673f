package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/nwpingest/internal/models"
	"github.com/lox/nwpingest/internal/nwp"
	"github.com/lox/nwpingest/internal/store"
)

// Store is what the ops endpoints read.
type Store interface {
	ActiveStations(ctx context.Context) ([]models.Station, error)
	RecentIngestRuns(ctx context.Context, model string, limit int) ([]store.IngestRun, error)
	StationPredictions(ctx context.Context, runID int64, stationCode int) ([]models.StationPrediction, error)
}

// Server exposes health, metrics and the ingest audit over HTTP.
type Server struct {
	store  Store
	addr   string
	models []nwp.Kind
}

func NewServer(st Store, addr string, kinds ...nwp.Kind) *Server {
	if len(kinds) == 0 {
		kinds = nwp.Kinds
	}
	return &Server{store: st, addr: addr, models: kinds}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/ingest-runs", s.handleIngestRuns)
	mux.HandleFunc("GET /api/stations", s.handleStations)
	mux.HandleFunc("GET /api/predictions", s.handlePredictions)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type ModelHealth struct {
	Model      string     `json:"model"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	Success    bool       `json:"success"`
	Exceptions int64      `json:"exceptions"`
	Error      string     `json:"error,omitempty"`
}

type HealthStatus struct {
	Status string        `json:"status"`
	Models []ModelHealth `json:"models"`
	Errors []string      `json:"errors,omitempty"`
}

// handleHealth reports the outcome of each model's latest pass. A model
// that has never run is not a failure.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", Models: make([]ModelHealth, 0, len(s.models))}

	for _, kind := range s.models {
		runs, err := s.store.RecentIngestRuns(r.Context(), kind.String(), 1)
		if err != nil {
			health.Errors = append(health.Errors, kind.String()+": "+err.Error())
			continue
		}
		mh := ModelHealth{Model: kind.String(), Success: true}
		if len(runs) > 0 {
			run := runs[0]
			if started, err := time.Parse(time.RFC3339, run.StartedAt); err == nil {
				mh.LastRun = &started
			}
			mh.Success = run.Success
			mh.Exceptions = run.Exceptions.Int64
			mh.Error = run.ErrorMessage.String
		}
		if !mh.Success {
			health.Status = "degraded"
		}
		health.Models = append(health.Models, mh)
	}
	if len(health.Errors) > 0 {
		health.Status = "error"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(health)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

type IngestRunView struct {
	ID              int64   `json:"id"`
	Model           string  `json:"model"`
	StartedAt       string  `json:"started_at"`
	FinishedAt      *string `json:"finished_at,omitempty"`
	FilesDownloaded int64   `json:"files_downloaded"`
	FilesProcessed  int64   `json:"files_processed"`
	Exceptions      int64   `json:"exceptions"`
	RunsCompleted   int64   `json:"runs_completed"`
	Success         bool    `json:"success"`
	Error           string  `json:"error,omitempty"`
}

func (s *Server) handleIngestRuns(w http.ResponseWriter, r *http.Request) {
	kind, err := nwp.ParseKind(r.URL.Query().Get("model"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	runs, err := s.store.RecentIngestRuns(r.Context(), kind.String(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]IngestRunView, 0, len(runs))
	for _, run := range runs {
		v := IngestRunView{
			ID:              run.ID,
			Model:           run.Model,
			StartedAt:       run.StartedAt,
			FilesDownloaded: run.FilesDownloaded.Int64,
			FilesProcessed:  run.FilesProcessed.Int64,
			Exceptions:      run.Exceptions.Int64,
			RunsCompleted:   run.RunsCompleted.Int64,
			Success:         run.Success,
			Error:           run.ErrorMessage.String,
		}
		if run.FinishedAt.Valid {
			v.FinishedAt = &run.FinishedAt.String
		}
		out = append(out, v)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.ActiveStations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stations)
}

type PredictionView struct {
	Timestamp                    time.Time `json:"timestamp"`
	Temperature                  *float64  `json:"temperature,omitempty"`
	BiasAdjustedTemperature      *float64  `json:"bias_adjusted_temperature,omitempty"`
	RelativeHumidity             *float64  `json:"relative_humidity,omitempty"`
	BiasAdjustedRelativeHumidity *float64  `json:"bias_adjusted_relative_humidity,omitempty"`
	WindSpeed                    *float64  `json:"wind_speed,omitempty"`
	BiasAdjustedWindSpeed        *float64  `json:"bias_adjusted_wind_speed,omitempty"`
	WindDirection                *float64  `json:"wind_direction,omitempty"`
	BiasAdjustedWindDirection    *float64  `json:"bias_adjusted_wind_direction,omitempty"`
	Precipitation                *float64  `json:"precipitation,omitempty"`
	DeltaPrecipitation           *float64  `json:"delta_precipitation,omitempty"`
	Precipitation24h             *float64  `json:"precipitation_24h,omitempty"`
	BiasAdjustedPrecipitation24h *float64  `json:"bias_adjusted_precipitation_24h,omitempty"`
	Interpolated                 bool      `json:"interpolated"`
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(r.URL.Query().Get("run"), 10, 64)
	if err != nil {
		http.Error(w, "run is required", http.StatusBadRequest)
		return
	}
	station, err := strconv.Atoi(r.URL.Query().Get("station"))
	if err != nil {
		http.Error(w, "station is required", http.StatusBadRequest)
		return
	}

	rows, err := s.store.StationPredictions(r.Context(), runID, station)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]PredictionView, 0, len(rows))
	for _, p := range rows {
		out = append(out, PredictionView{
			Timestamp:                    p.PredictionTimestamp,
			Temperature:                  ptr(p.Temperature.Float64, p.Temperature.Valid),
			BiasAdjustedTemperature:      ptr(p.BiasAdjustedTemperature.Float64, p.BiasAdjustedTemperature.Valid),
			RelativeHumidity:             ptr(p.RelativeHumidity.Float64, p.RelativeHumidity.Valid),
			BiasAdjustedRelativeHumidity: ptr(p.BiasAdjustedRelativeHumidity.Float64, p.BiasAdjustedRelativeHumidity.Valid),
			WindSpeed:                    ptr(p.WindSpeed.Float64, p.WindSpeed.Valid),
			BiasAdjustedWindSpeed:        ptr(p.BiasAdjustedWindSpeed.Float64, p.BiasAdjustedWindSpeed.Valid),
			WindDirection:                ptr(p.WindDirection.Float64, p.WindDirection.Valid),
			BiasAdjustedWindDirection:    ptr(p.BiasAdjustedWindDirection.Float64, p.BiasAdjustedWindDirection.Valid),
			Precipitation:                ptr(p.Precipitation.Float64, p.Precipitation.Valid),
			DeltaPrecipitation:           ptr(p.DeltaPrecipitation.Float64, p.DeltaPrecipitation.Valid),
			Precipitation24h:             ptr(p.Precipitation24h.Float64, p.Precipitation24h.Valid),
			BiasAdjustedPrecipitation24h: ptr(p.BiasAdjustedPrecipitation24h.Float64, p.BiasAdjustedPrecipitation24h.Valid),
			Interpolated:                 p.Interpolated,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func ptr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
