package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/supporttools/TableVault/pkg/backup"
	"github.com/supporttools/TableVault/pkg/config"
	"github.com/supporttools/TableVault/pkg/dbpool"
	"github.com/supporttools/TableVault/pkg/dump"
	"github.com/supporttools/TableVault/pkg/metadata"
	"github.com/supporttools/TableVault/pkg/metrics"
	"github.com/supporttools/TableVault/pkg/report"
	"github.com/supporttools/TableVault/pkg/schedule"
	"github.com/supporttools/TableVault/pkg/schema"
	"github.com/supporttools/TableVault/pkg/storage"
	"github.com/supporttools/TableVault/pkg/version"
)

func main() {
	if err := config.LoadConfiguration(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if config.CFG.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info(version.Info())

	if err := config.ValidateConfig(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	if config.CFG.Metrics.Enabled {
		go metrics.StartMetricsServer(config.CFG.Metrics.Port)
	}

	// Cancel the run on SIGINT/SIGTERM; exports wind down and the report
	// still accounts for every table.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.Open(config.CFG.Database,
		config.CFG.Backup.MaxConnections, config.CFG.Backup.AcquireTimeoutValue)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	stores, err := storage.FromConfig(ctx, &config.CFG)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	inspector := schema.NewInspector(pool.DB(), config.CFG.Database.Schema)
	exporter := dump.NewExporter(pool, config.CFG.Backup, config.CFG.Database.Schema)
	manager := backup.NewManager(&config.CFG, inspector, exporter, stores...)

	history := metadata.NewStore(config.CFG.Backup.OutputDirectory)
	if err := history.Load(); err != nil {
		log.WithError(err).Warn("Could not load run history, starting fresh")
	}

	if expression := config.CFG.Backup.Schedule; expression != "" {
		runOnSchedule(ctx, manager, history, expression)
		return
	}

	runReport, err := manager.Run(ctx)
	if err != nil {
		log.Fatalf("Backup run failed: %v", err)
	}
	recordRun(history, runReport)

	fmt.Print(runReport.Summary())
	if runReport.Failed() {
		os.Exit(1)
	}
}

// runOnSchedule keeps the process alive and fires backup runs from the cron
// expression until the context is cancelled.
func runOnSchedule(ctx context.Context, manager *backup.Manager, history *metadata.Store, expression string) {
	sched := schedule.New(recordingRunner{manager: manager, history: history})
	if err := sched.SetupJob(ctx, expression); err != nil {
		log.Fatalf("Failed to schedule backups: %v", err)
	}

	sched.Start()
	<-ctx.Done()
	sched.Stop()
}

// recordingRunner persists each scheduled run's report after it completes.
type recordingRunner struct {
	manager *backup.Manager
	history *metadata.Store
}

func (r recordingRunner) Run(ctx context.Context) (report.RunReport, error) {
	runReport, err := r.manager.Run(ctx)
	if err == nil {
		recordRun(r.history, runReport)
	}
	return runReport, err
}

func recordRun(history *metadata.Store, runReport report.RunReport) {
	if err := history.RecordRun(runReport); err != nil {
		log.WithError(err).Warn("Could not persist run history")
	}
}
