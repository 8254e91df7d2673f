package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwpingest_files_fetched_total",
			Help: "Model files requested from the file source, by outcome",
		},
		[]string{"model", "outcome"},
	)

	DownloadLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nwpingest_download_latency_seconds",
			Help:    "Model file download latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"model"},
	)

	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwpingest_files_processed_total",
			Help: "Model files decoded, sampled and recorded in the ledger",
		},
		[]string{"model"},
	)

	ProcessingExceptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwpingest_processing_exceptions_total",
			Help: "Per-station or per-run failures swallowed by the station prediction processor",
		},
		[]string{"model"},
	)

	IngestExceptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwpingest_ingest_exceptions_total",
			Help: "Per-file or per-run-hour failures swallowed by the orchestrator",
		},
		[]string{"model"},
	)

	StationsSampled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwpingest_stations_sampled_total",
			Help: "Station points written from decoded model files",
		},
		[]string{"model"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwpingest_runs_completed_total",
			Help: "Model runs marked complete",
		},
		[]string{"model"},
	)

	StationPredictionsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nwpingest_station_predictions_written_total",
			Help: "Bias-adjusted station predictions written, including synthesized noon rows",
		},
		[]string{"model", "interpolated"},
	)

	RegressionBucketsTrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nwpingest_regression_buckets_trained_total",
			Help: "Per-hour regression buckets that ended a training cycle usable",
		},
	)
)
