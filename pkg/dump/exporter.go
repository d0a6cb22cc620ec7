package dump

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supporttools/TableVault/pkg/backuperr"
	"github.com/supporttools/TableVault/pkg/config"
	"github.com/supporttools/TableVault/pkg/report"
	"github.com/supporttools/TableVault/pkg/schema"
)

// ConnPool is the connection source an exporter draws from.
type ConnPool interface {
	Acquire(ctx context.Context) (*sql.Conn, error)
	Release(conn *sql.Conn)
}

// Exporter materializes single tables into CSV files. One call handles one
// table end to end: acquire a connection, resolve column order, stream chunks
// into the output file, and produce exactly one TableResult.
//
// On failure the partial output file is kept in place for inspection; the
// failed TableResult carries the error detail and the path.
type Exporter struct {
	pool         ConnPool
	schemaName   string
	outputDir    string
	chunkSize    int
	chunkTimeout time.Duration
	tableTimeout time.Duration
}

// NewExporter builds an exporter from the backup configuration.
func NewExporter(pool ConnPool, backupCfg config.BackupConfig, schemaName string) *Exporter {
	return &Exporter{
		pool:         pool,
		schemaName:   schemaName,
		outputDir:    backupCfg.OutputDirectory,
		chunkSize:    backupCfg.ChunkSize,
		chunkTimeout: backupCfg.ChunkTimeoutValue,
		tableTimeout: backupCfg.TableTimeoutValue,
	}
}

// countingWriter tracks bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ExportTable downloads one table to <table>_<runStamp>.csv in the output
// directory. It always returns a result; errors never propagate past this
// boundary.
func (e *Exporter) ExportTable(ctx context.Context, table schema.TableDescriptor, runStamp string) report.TableResult {
	start := time.Now()

	tableCtx := ctx
	var cancel context.CancelFunc
	if e.tableTimeout > 0 {
		tableCtx, cancel = context.WithTimeout(ctx, e.tableTimeout)
		defer cancel()
	}

	conn, err := e.pool.Acquire(tableCtx)
	if err != nil {
		return report.Failure(table.Name, err, "", 0, time.Since(start))
	}
	defer e.pool.Release(conn)

	columns, err := schema.NewInspector(conn, table.Schema).ListColumns(tableCtx, table.Name)
	if err != nil {
		return report.Failure(table.Name, err, "", 0, time.Since(start))
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		wrapped := errors.Wrapf(backuperr.ErrWrite, "create output directory %s: %v", e.outputDir, err)
		return report.Failure(table.Name, wrapped, "", 0, time.Since(start))
	}

	outputPath := filepath.Join(e.outputDir, fmt.Sprintf("%s_%s.csv", table.Name, runStamp))
	file, err := os.Create(outputPath)
	if err != nil {
		wrapped := errors.Wrapf(backuperr.ErrWrite, "create %s: %v", outputPath, err)
		return report.Failure(table.Name, wrapped, "", 0, time.Since(start))
	}
	defer file.Close()

	counter := &countingWriter{w: file}
	writer := csv.NewWriter(counter)

	if err := writer.Write(columns); err != nil {
		wrapped := errors.Wrapf(backuperr.ErrWrite, "write header of %s: %v", outputPath, err)
		return report.Failure(table.Name, wrapped, outputPath, 0, time.Since(start))
	}

	reader := NewChunkReader(conn, table, columns, e.chunkSize, e.chunkTimeout)
	record := make([]string, len(columns))

	var rowsWritten int64
	for {
		chunk, err := reader.Next(tableCtx)
		if err != nil {
			writer.Flush()
			return report.Failure(table.Name, err, outputPath, rowsWritten, time.Since(start))
		}
		if chunk == nil {
			break
		}

		for _, row := range chunk.Rows {
			for i, value := range row {
				if value.Valid {
					record[i] = value.String
				} else {
					// NULL renders as an empty field.
					record[i] = ""
				}
			}
			if err := writer.Write(record); err != nil {
				wrapped := errors.Wrapf(backuperr.ErrWrite, "write row of %s: %v", outputPath, err)
				return report.Failure(table.Name, wrapped, outputPath, rowsWritten, time.Since(start))
			}
		}

		writer.Flush()
		if err := writer.Error(); err != nil {
			wrapped := errors.Wrapf(backuperr.ErrWrite, "flush %s: %v", outputPath, err)
			return report.Failure(table.Name, wrapped, outputPath, rowsWritten, time.Since(start))
		}

		rowsWritten += int64(chunk.RowCount())
		log.WithFields(log.Fields{
			"table": table.Name,
			"rows":  rowsWritten,
		}).Debug("Chunk written")
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		wrapped := errors.Wrapf(backuperr.ErrWrite, "flush %s: %v", outputPath, err)
		return report.Failure(table.Name, wrapped, outputPath, rowsWritten, time.Since(start))
	}
	if err := file.Close(); err != nil {
		wrapped := errors.Wrapf(backuperr.ErrWrite, "close %s: %v", outputPath, err)
		return report.Failure(table.Name, wrapped, outputPath, rowsWritten, time.Since(start))
	}

	return report.TableResult{
		Table:      table.Name,
		Status:     report.StatusSuccess,
		Rows:       rowsWritten,
		Bytes:      counter.n,
		OutputPath: outputPath,
		Elapsed:    time.Since(start),
	}
}
