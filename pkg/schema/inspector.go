// Package schema inspects PostgreSQL catalogs to discover tables, their
// column order, and advisory size estimates.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/supporttools/TableVault/pkg/backuperr"
)

// TableDescriptor identifies a table and carries its size estimate. Estimates
// come from catalog statistics and are advisory only; they drive scheduling
// order and logging, never correctness.
type TableDescriptor struct {
	Schema         string
	Name           string
	EstimatedRows  int64
	EstimatedBytes int64
}

// QualifiedName returns the quoted schema-qualified table name.
func (d TableDescriptor) QualifiedName() string {
	return fmt.Sprintf("%s.%s", pq.QuoteIdentifier(d.Schema), pq.QuoteIdentifier(d.Name))
}

// Querier is the subset of database/sql used by the inspector. Both *sql.DB
// and *sql.Conn satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Inspector lists tables and estimates their sizes for one schema.
type Inspector struct {
	db     Querier
	schema string
}

// NewInspector creates an inspector bound to a schema.
func NewInspector(db Querier, schemaName string) *Inspector {
	return &Inspector{db: db, schema: schemaName}
}

// ListTables returns the names of all base tables in the schema, ordered by
// name. A missing or inaccessible schema is fatal to the run.
func (i *Inspector) ListTables(ctx context.Context) ([]string, error) {
	const query = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := i.db.QueryContext(ctx, query, i.schema)
	if err != nil {
		return nil, errors.Wrapf(backuperr.ErrSchema, "list tables in schema %s: %v", i.schema, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrapf(backuperr.ErrSchema, "scan table name: %v", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(backuperr.ErrSchema, "iterate table names: %v", err)
	}

	if len(tables) == 0 {
		exists, err := i.schemaExists(ctx)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Wrapf(backuperr.ErrSchema, "schema %s does not exist", i.schema)
		}
	}

	return tables, nil
}

// schemaExists distinguishes an empty schema from a missing one.
func (i *Inspector) schemaExists(ctx context.Context) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`

	var exists bool
	if err := i.db.QueryRowContext(ctx, query, i.schema).Scan(&exists); err != nil {
		return false, errors.Wrapf(backuperr.ErrSchema, "check schema %s: %v", i.schema, err)
	}
	return exists, nil
}

// EstimateSize returns approximate row count and total byte size for a table
// from pg_class statistics. Failures degrade to zero estimates; a run is never
// failed because statistics are unavailable.
func (i *Inspector) EstimateSize(ctx context.Context, table string) (rowCount, byteSize int64) {
	const query = `
		SELECT GREATEST(c.reltuples, 0)::bigint,
		       COALESCE(pg_total_relation_size(c.oid), 0)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`

	err := i.db.QueryRowContext(ctx, query, i.schema, table).Scan(&rowCount, &byteSize)
	if err != nil {
		log.WithError(err).WithField("table", table).Warn("Size estimate unavailable, assuming unknown")
		return 0, 0
	}
	return rowCount, byteSize
}

// Describe builds descriptors with size estimates for the given tables.
func (i *Inspector) Describe(ctx context.Context, tables []string) []TableDescriptor {
	descriptors := make([]TableDescriptor, 0, len(tables))
	for _, table := range tables {
		rowCount, byteSize := i.EstimateSize(ctx, table)
		descriptors = append(descriptors, TableDescriptor{
			Schema:         i.schema,
			Name:           table,
			EstimatedRows:  rowCount,
			EstimatedBytes: byteSize,
		})
	}
	return descriptors
}

// ListColumns returns the table's column names in ordinal position order,
// which fixes the CSV header and value order for the export.
func (i *Inspector) ListColumns(ctx context.Context, table string) ([]string, error) {
	const query = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := i.db.QueryContext(ctx, query, i.schema, table)
	if err != nil {
		return nil, errors.Wrapf(backuperr.ErrQuery, "list columns of %s: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrapf(backuperr.ErrQuery, "scan column name: %v", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(backuperr.ErrQuery, "iterate column names: %v", err)
	}

	if len(columns) == 0 {
		return nil, errors.Wrapf(backuperr.ErrQuery, "table %s.%s does not exist", i.schema, table)
	}

	return columns, nil
}
