package backup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/TableVault/pkg/backuperr"
	"github.com/supporttools/TableVault/pkg/config"
	"github.com/supporttools/TableVault/pkg/report"
	"github.com/supporttools/TableVault/pkg/schema"
)

type fakeInspector struct {
	tables []string
	sizes  map[string]int64
	err    error
}

func (f *fakeInspector) ListTables(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tables, nil
}

func (f *fakeInspector) Describe(ctx context.Context, tables []string) []schema.TableDescriptor {
	descriptors := make([]schema.TableDescriptor, 0, len(tables))
	for _, name := range tables {
		descriptors = append(descriptors, schema.TableDescriptor{
			Schema:         "public",
			Name:           name,
			EstimatedBytes: f.sizes[name],
		})
	}
	return descriptors
}

// fakeExporter records export order and concurrency, failing the tables
// listed in failTables.
type fakeExporter struct {
	mu         sync.Mutex
	delay      time.Duration
	failTables map[string]error
	started    []string
	inFlight   int
	highWater  int
}

func (f *fakeExporter) ExportTable(ctx context.Context, table schema.TableDescriptor, runStamp string) report.TableResult {
	f.mu.Lock()
	f.started = append(f.started, table.Name)
	f.inFlight++
	if f.inFlight > f.highWater {
		f.highWater = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if err := ctx.Err(); err != nil {
		return report.Failure(table.Name, backuperr.ErrCancelled, "", 0, 0)
	}
	if err := f.failTables[table.Name]; err != nil {
		return report.Failure(table.Name, err, "", 0, 0)
	}

	return report.TableResult{
		Table:  table.Name,
		Status: report.StatusSuccess,
		Rows:   100,
		Bytes:  1000,
	}
}

func testConfig(maxConcurrent, maxConns int) *config.AppConfig {
	cfg := &config.AppConfig{}
	cfg.Database.Schema = "public"
	cfg.Backup.MaxConcurrentDownloads = maxConcurrent
	cfg.Backup.MaxConnections = maxConns
	return cfg
}

func TestRunReportsEveryTable(t *testing.T) {
	inspector := &fakeInspector{tables: []string{"users", "orders", "events"}}
	exporter := &fakeExporter{}
	manager := NewManager(testConfig(2, 10), inspector, exporter)

	runReport, err := manager.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, runReport.TablesAttempted)
	assert.Equal(t, 3, runReport.TablesSucceeded)
	assert.Len(t, runReport.Results, 3)
	assert.NotEmpty(t, runReport.RunID)
	assert.False(t, runReport.Failed())
}

func TestRunBoundsConcurrency(t *testing.T) {
	tables := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	inspector := &fakeInspector{tables: tables}
	exporter := &fakeExporter{delay: 20 * time.Millisecond}
	manager := NewManager(testConfig(3, 10), inspector, exporter)

	runReport, err := manager.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, len(tables), runReport.TablesSucceeded)
	assert.LessOrEqual(t, exporter.highWater, 3)
	assert.Greater(t, exporter.highWater, 1, "exports should overlap")
}

func TestRunClampsGateToPoolSize(t *testing.T) {
	manager := NewManager(testConfig(8, 2), &fakeInspector{}, &fakeExporter{})
	assert.Equal(t, 2, manager.concurrencyLimit())

	manager = NewManager(testConfig(0, 2), &fakeInspector{}, &fakeExporter{})
	assert.Equal(t, 1, manager.concurrencyLimit())
}

func TestRunIsolatesTableFailures(t *testing.T) {
	inspector := &fakeInspector{tables: []string{"a", "b", "c"}}
	exporter := &fakeExporter{
		failTables: map[string]error{
			"b": errors.Wrap(backuperr.ErrQuery, "relation vanished"),
		},
	}
	manager := NewManager(testConfig(1, 10), inspector, exporter)

	runReport, err := manager.Run(context.Background())
	require.NoError(t, err, "per-table failures must not fail the run")

	assert.Equal(t, 3, runReport.TablesAttempted)
	assert.Equal(t, 2, runReport.TablesSucceeded)
	assert.Equal(t, 1, runReport.TablesFailed)
	assert.True(t, runReport.Failed())

	for _, result := range runReport.Results {
		if result.Table == "b" {
			assert.Equal(t, report.StatusFailed, result.Status)
			assert.Contains(t, result.ErrorMessage, "relation vanished")
		} else {
			assert.Equal(t, report.StatusSuccess, result.Status)
		}
	}
}

func TestRunCancellationAccountsForAllTables(t *testing.T) {
	tables := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	inspector := &fakeInspector{tables: tables}
	exporter := &fakeExporter{delay: 30 * time.Millisecond}
	manager := NewManager(testConfig(2, 10), inspector, exporter)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(45 * time.Millisecond)
		cancel()
	}()

	runReport, err := manager.Run(ctx)
	require.NoError(t, err)

	// Every table gets a terminal status even when the run is cut short.
	assert.Equal(t, len(tables), runReport.TablesAttempted)
	assert.Equal(t, len(tables),
		runReport.TablesSucceeded+runReport.TablesFailed+runReport.TablesCancelled)
	assert.Greater(t, runReport.TablesCancelled, 0)
	assert.Greater(t, runReport.TablesSucceeded, 0, "exports finished before cancel stay successful")
}

func TestRunStartsLargestTablesFirst(t *testing.T) {
	inspector := &fakeInspector{
		tables: []string{"small", "large", "medium"},
		sizes:  map[string]int64{"small": 10, "large": 100000, "medium": 5000},
	}
	exporter := &fakeExporter{}
	manager := NewManager(testConfig(1, 10), inspector, exporter)

	_, err := manager.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"large", "medium", "small"}, exporter.started)
}

func TestRunListTablesFailure(t *testing.T) {
	inspector := &fakeInspector{err: errors.Wrap(backuperr.ErrSchema, "schema missing")}
	manager := NewManager(testConfig(2, 10), inspector, &fakeExporter{})

	runReport, err := manager.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, backuperr.ErrSchema))
	assert.Empty(t, runReport.Results)
}

func TestRunNoTablesAfterFiltering(t *testing.T) {
	cfg := testConfig(2, 10)
	cfg.Backup.ExcludeTables = []string{"users"}

	inspector := &fakeInspector{tables: []string{"users"}}
	exporter := &fakeExporter{}
	manager := NewManager(cfg, inspector, exporter)

	runReport, err := manager.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, runReport.TablesAttempted)
	assert.Empty(t, exporter.started)
}

func TestFilterTables(t *testing.T) {
	tables := []string{"users", "orders", "events", "audit_log"}

	assert.Equal(t, tables, filterTables(tables, nil, nil))

	assert.Equal(t, []string{"users", "orders"},
		filterTables(tables, []string{"users", "orders"}, nil))

	assert.Equal(t, []string{"users", "events", "audit_log"},
		filterTables(tables, nil, []string{"orders"}))

	// Exclude wins over include.
	assert.Equal(t, []string{"users"},
		filterTables(tables, []string{"users", "orders"}, []string{"orders"}))
}
