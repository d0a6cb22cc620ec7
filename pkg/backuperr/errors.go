// Package backuperr defines the error taxonomy shared across the backup pipeline.
package backuperr

import (
	"github.com/pkg/errors"
)

// Sentinel errors classifying failures across the pipeline. Wrap them with
// pkg/errors and classify with errors.Is at component boundaries.
var (
	// ErrConfig indicates invalid or missing configuration. Fatal before any
	// table work starts.
	ErrConfig = errors.New("invalid configuration")

	// ErrConnection indicates a connection could not be opened or validated.
	ErrConnection = errors.New("database connection failed")

	// ErrPoolExhausted indicates no connection became available within the
	// acquire timeout. Transient from the run's point of view.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrSchema indicates the target schema does not exist or table
	// enumeration failed. Fatal to the run.
	ErrSchema = errors.New("schema inspection failed")

	// ErrReadTimeout indicates a single chunk fetch exceeded its timeout.
	// Fatal to the table attempt only.
	ErrReadTimeout = errors.New("chunk read timed out")

	// ErrQuery indicates a backend failure while reading table data.
	ErrQuery = errors.New("query failed")

	// ErrWrite indicates the output file could not be created or written.
	ErrWrite = errors.New("output write failed")

	// ErrCancelled indicates the run was cancelled before the table finished.
	ErrCancelled = errors.New("backup cancelled")
)
