// Package metrics provides Prometheus metrics for table backup operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/supporttools/TableVault/pkg/report"
)

// Prometheus metrics
var (
	// TableBackupCount tracks table exports by terminal status
	TableBackupCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablevault_table_backup_total",
		Help: "The total number of table exports performed",
	}, []string{"status"})

	// TableBackupDuration measures time taken to export one table
	TableBackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tablevault_table_backup_duration_seconds",
		Help:    "Time taken to export a table",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	// RowsExported counts rows written to successful backups
	RowsExported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablevault_rows_exported_total",
		Help: "Rows written across successful table exports",
	})

	// BytesExported counts bytes written to successful backups
	BytesExported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablevault_bytes_exported_total",
		Help: "Bytes written across successful table exports",
	})

	// LastRunTimestamp records the end of the last backup run
	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tablevault_last_run_timestamp",
		Help: "Timestamp of the last completed backup run",
	})

	// LastRunFailedTables records failed tables of the last backup run
	LastRunFailedTables = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tablevault_last_run_failed_tables",
		Help: "Number of tables that failed in the last backup run",
	})
)

// RecordTableResult updates per-table metrics.
func RecordTableResult(result report.TableResult) {
	TableBackupCount.WithLabelValues(string(result.Status)).Inc()
	TableBackupDuration.WithLabelValues(string(result.Status)).Observe(result.Elapsed.Seconds())

	if result.Status == report.StatusSuccess {
		RowsExported.Add(float64(result.Rows))
		BytesExported.Add(float64(result.Bytes))
	}
}

// RecordRun updates run-level metrics.
func RecordRun(runReport report.RunReport) {
	LastRunTimestamp.Set(float64(time.Now().Unix()))
	LastRunFailedTables.Set(float64(runReport.TablesFailed + runReport.TablesCancelled))
}

// StartMetricsServer starts the HTTP server for metrics and health check endpoints.
func StartMetricsServer(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Infof("Starting metrics server on port %s", port)
	if err := server.ListenAndServe(); err != nil {
		log.WithError(err).Error("Metrics server stopped")
	}
}
