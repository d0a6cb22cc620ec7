// Package dump streams table rows in bounded chunks and writes them to CSV.
package dump

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/supporttools/TableVault/pkg/backuperr"
	"github.com/supporttools/TableVault/pkg/schema"
)

// Chunk is one page of rows read from a table. Values are stringified by the
// driver; invalid entries represent SQL NULL.
type Chunk struct {
	Rows [][]sql.NullString
}

// RowCount returns the number of rows in the chunk.
func (c *Chunk) RowCount() int {
	return len(c.Rows)
}

// ChunkReader pages through one table with LIMIT/OFFSET queries, keeping peak
// memory proportional to the chunk size. No ORDER BY is imposed; row order
// follows the store's scan order and is not reproducible across runs.
type ChunkReader struct {
	db           schema.Querier
	table        schema.TableDescriptor
	columns      []string
	chunkSize    int
	fetchTimeout time.Duration

	query  string
	offset int64
	done   bool
}

// NewChunkReader creates a reader over the given columns of a table.
func NewChunkReader(db schema.Querier, table schema.TableDescriptor, columns []string, chunkSize int, fetchTimeout time.Duration) *ChunkReader {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
	}

	return &ChunkReader{
		db:           db,
		table:        table,
		columns:      columns,
		chunkSize:    chunkSize,
		fetchTimeout: fetchTimeout,
		query: fmt.Sprintf("SELECT %s FROM %s LIMIT $1 OFFSET $2",
			strings.Join(quoted, ", "), table.QualifiedName()),
	}
}

// Next fetches the next chunk. It returns (nil, nil) when the table is
// exhausted. A fetch exceeding the per-chunk timeout surfaces as a read
// timeout; other backend failures surface as query errors. Neither is retried
// here.
func (r *ChunkReader) Next(ctx context.Context) (*Chunk, error) {
	if r.done {
		return nil, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(fetchCtx, r.query, r.chunkSize, r.offset)
	if err != nil {
		return nil, r.classify(ctx, fetchCtx, err)
	}
	defer rows.Close()

	chunk := &Chunk{Rows: make([][]sql.NullString, 0, r.chunkSize)}
	for rows.Next() {
		values := make([]sql.NullString, len(r.columns))
		dest := make([]interface{}, len(r.columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrapf(backuperr.ErrQuery, "scan row from %s: %v", r.table.Name, err)
		}
		chunk.Rows = append(chunk.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, r.classify(ctx, fetchCtx, err)
	}

	r.offset += int64(chunk.RowCount())
	if chunk.RowCount() < r.chunkSize {
		r.done = true
	}

	if chunk.RowCount() == 0 {
		return nil, nil
	}
	return chunk, nil
}

// classify maps a fetch error onto the pipeline taxonomy: a run-level
// cancellation wins over the per-chunk deadline, which wins over generic
// backend failures.
func (r *ChunkReader) classify(ctx, fetchCtx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.Wrapf(backuperr.ErrCancelled, "reading %s: %v", r.table.Name, ctx.Err())
	}
	if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
		return errors.Wrapf(backuperr.ErrReadTimeout, "chunk at offset %d of %s after %s",
			r.offset, r.table.Name, r.fetchTimeout)
	}
	return errors.Wrapf(backuperr.ErrQuery, "chunk at offset %d of %s: %v", r.offset, r.table.Name, err)
}
