// Package report aggregates per-table results into a run summary.
package report

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/supporttools/TableVault/pkg/backuperr"
)

// Status is the terminal state of one table export.
type Status string

const (
	// StatusSuccess indicates the table was fully exported.
	StatusSuccess Status = "success"
	// StatusFailed indicates the table export aborted on an error.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the export was cut short by run cancellation.
	StatusCancelled Status = "cancelled"
)

// TableResult is the immutable outcome of one table export attempt.
type TableResult struct {
	Table        string        `json:"table"`
	Status       Status        `json:"status"`
	Rows         int64         `json:"rows"`
	Bytes        int64         `json:"bytes"`
	OutputPath   string        `json:"outputPath,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	ErrorMessage string        `json:"error,omitempty"`

	Err error `json:"-"`
}

// Failure builds a failed TableResult, classifying cancellation separately
// from other errors.
func Failure(table string, err error, outputPath string, rows int64, elapsed time.Duration) TableResult {
	status := StatusFailed
	if errors.Is(err, backuperr.ErrCancelled) {
		status = StatusCancelled
	}

	result := TableResult{
		Table:      table,
		Status:     status,
		Rows:       rows,
		OutputPath: outputPath,
		Elapsed:    elapsed,
		Err:        err,
	}
	if err != nil {
		result.ErrorMessage = err.Error()
	}
	return result
}

// RunReport is the aggregated outcome of one backup run.
type RunReport struct {
	RunID           string        `json:"runId"`
	StartedAt       time.Time     `json:"startedAt"`
	Results         []TableResult `json:"results"`
	TablesAttempted int           `json:"tablesAttempted"`
	TablesSucceeded int           `json:"tablesSucceeded"`
	TablesFailed    int           `json:"tablesFailed"`
	TablesCancelled int           `json:"tablesCancelled"`
	TotalRows       int64         `json:"totalRows"`
	TotalBytes      int64         `json:"totalBytes"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Failed reports whether any table did not complete successfully.
func (r RunReport) Failed() bool {
	return r.TablesFailed > 0 || r.TablesCancelled > 0
}

// Summary renders a human-readable run summary.
func (r RunReport) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Backup run %s: %d/%d tables succeeded in %s (%s rows, %s)\n",
		r.RunID, r.TablesSucceeded, r.TablesAttempted, r.Elapsed.Round(time.Millisecond),
		humanize.Comma(r.TotalRows), humanize.Bytes(uint64(r.TotalBytes)))

	sorted := make([]TableResult, len(r.Results))
	copy(sorted, r.Results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Table < sorted[j].Table })

	for _, res := range sorted {
		switch res.Status {
		case StatusSuccess:
			fmt.Fprintf(&b, "  ok   %s: %s rows, %s -> %s\n",
				res.Table, humanize.Comma(res.Rows), humanize.Bytes(uint64(res.Bytes)), res.OutputPath)
		default:
			fmt.Fprintf(&b, "  %s %s: %s\n", res.Status, res.Table, res.ErrorMessage)
		}
	}

	return b.String()
}

// Reporter folds TableResults into a RunReport as they complete. Results
// arrive in completion order from concurrent exports; a single mutex
// serializes the fold so no update is lost.
type Reporter struct {
	mu      sync.Mutex
	report  RunReport
	started time.Time
}

// NewReporter starts an empty report for a run.
func NewReporter(runID string) *Reporter {
	now := time.Now()
	return &Reporter{
		report: RunReport{
			RunID:     runID,
			StartedAt: now,
			Results:   make([]TableResult, 0),
		},
		started: now,
	}
}

// Record folds one table result into the report.
func (r *Reporter) Record(result TableResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.Results = append(r.report.Results, result)
	r.report.TablesAttempted++

	switch result.Status {
	case StatusSuccess:
		r.report.TablesSucceeded++
		r.report.TotalRows += result.Rows
		r.report.TotalBytes += result.Bytes
	case StatusCancelled:
		r.report.TablesCancelled++
	default:
		r.report.TablesFailed++
	}
}

// Finalize stamps the elapsed time and returns the completed report.
func (r *Reporter) Finalize() RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.Elapsed = time.Since(r.started)
	return r.report
}
