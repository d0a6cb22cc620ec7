// Package backup orchestrates concurrent table exports for one run.
package backup

import (
	"context"
	"path"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/supporttools/TableVault/pkg/config"
	"github.com/supporttools/TableVault/pkg/metrics"
	"github.com/supporttools/TableVault/pkg/report"
	"github.com/supporttools/TableVault/pkg/schema"
	"github.com/supporttools/TableVault/pkg/storage"
)

// Inspector enumerates and sizes the tables to back up.
type Inspector interface {
	ListTables(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, tables []string) []schema.TableDescriptor
}

// TableExporter materializes one table and always returns a result.
type TableExporter interface {
	ExportTable(ctx context.Context, table schema.TableDescriptor, runStamp string) report.TableResult
}

// Manager runs the backup pipeline: discover tables, size them, fan out
// bounded concurrent exports, and fold results into a RunReport.
type Manager struct {
	cfg       *config.AppConfig
	inspector Inspector
	exporter  TableExporter
	stores    []storage.Store
}

// NewManager creates a backup manager. Stores are optional upload targets for
// completed table files.
func NewManager(cfg *config.AppConfig, inspector Inspector, exporter TableExporter, stores ...storage.Store) *Manager {
	return &Manager{
		cfg:       cfg,
		inspector: inspector,
		exporter:  exporter,
		stores:    stores,
	}
}

// concurrencyLimit bounds in-flight exports. A gate wider than the connection
// pool would only move the queue onto pool acquisition, so it is clamped.
func (m *Manager) concurrencyLimit() int {
	limit := m.cfg.Backup.MaxConcurrentDownloads
	if limit > m.cfg.Backup.MaxConnections {
		limit = m.cfg.Backup.MaxConnections
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Run executes one full backup and returns its report. Only discovery
// failures return an error; every per-table failure is captured in the
// report. Cancellation of ctx stops in-flight exports and marks the
// remainder cancelled, still yielding a complete report.
func (m *Manager) Run(ctx context.Context) (report.RunReport, error) {
	runID := uuid.NewString()
	runStamp := time.Now().Format("20060102_150405")

	logger := log.WithField("run", runID)
	logger.WithField("schema", m.cfg.Database.Schema).Info("Starting backup run")

	tables, err := m.inspector.ListTables(ctx)
	if err != nil {
		return report.RunReport{RunID: runID}, err
	}

	tables = filterTables(tables, m.cfg.Backup.IncludeTables, m.cfg.Backup.ExcludeTables)
	if len(tables) == 0 {
		logger.Warn("No tables to back up after filtering")
		return report.NewReporter(runID).Finalize(), nil
	}

	descriptors := m.inspector.Describe(ctx, tables)

	// Largest first, so long exports start early instead of getting stranded
	// behind a tail of small tables.
	sort.SliceStable(descriptors, func(i, j int) bool {
		return descriptors[i].EstimatedBytes > descriptors[j].EstimatedBytes
	})

	var totalRows, totalBytes int64
	for _, d := range descriptors {
		totalRows += d.EstimatedRows
		totalBytes += d.EstimatedBytes
	}
	logger.Infof("Backing up %d tables (~%s rows, ~%s)",
		len(descriptors), humanize.Comma(totalRows), humanize.Bytes(uint64(totalBytes)))

	reporter := report.NewReporter(runID)
	results := make(chan report.TableResult)

	group := new(errgroup.Group)
	group.SetLimit(m.concurrencyLimit())

	go func() {
		for _, descriptor := range descriptors {
			descriptor := descriptor
			group.Go(func() error {
				result := m.exporter.ExportTable(ctx, descriptor, runStamp)
				if result.Status == report.StatusSuccess {
					m.upload(ctx, result)
				}
				results <- result
				return nil
			})
		}
		group.Wait()
		close(results)
	}()

	for result := range results {
		metrics.RecordTableResult(result)

		entry := logger.WithFields(log.Fields{
			"table":   result.Table,
			"status":  result.Status,
			"elapsed": result.Elapsed.Round(time.Millisecond),
		})
		switch result.Status {
		case report.StatusSuccess:
			entry.WithFields(log.Fields{
				"rows": result.Rows,
				"size": humanize.Bytes(uint64(result.Bytes)),
			}).Info("Table export finished")
		default:
			entry.WithField("error", result.ErrorMessage).Error("Table export failed")
		}

		reporter.Record(result)
	}

	runReport := reporter.Finalize()
	metrics.RecordRun(runReport)

	logger.WithFields(log.Fields{
		"succeeded": runReport.TablesSucceeded,
		"failed":    runReport.TablesFailed,
		"cancelled": runReport.TablesCancelled,
		"elapsed":   runReport.Elapsed.Round(time.Millisecond),
	}).Info("Backup run complete")

	return runReport, nil
}

// upload pushes a completed table file to the configured stores. Upload
// problems are logged, never turned into table failures.
func (m *Manager) upload(ctx context.Context, result report.TableResult) {
	for _, store := range m.stores {
		key := path.Base(result.OutputPath)
		if err := store.Upload(ctx, result.OutputPath, key); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"table": result.Table,
				"store": store.Name(),
			}).Warn("Upload failed")
		}
	}
}

// filterTables applies include/exclude lists. An include list restricts the
// run to exactly those tables; the exclude list always wins.
func filterTables(tables, include, exclude []string) []string {
	includeSet := make(map[string]bool, len(include))
	for _, name := range include {
		includeSet[name] = true
	}
	excludeSet := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excludeSet[name] = true
	}

	filtered := make([]string, 0, len(tables))
	for _, name := range tables {
		if len(includeSet) > 0 && !includeSet[name] {
			continue
		}
		if excludeSet[name] {
			continue
		}
		filtered = append(filtered, name)
	}
	return filtered
}
