// Package metadata persists run history alongside the backup output.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/supporttools/TableVault/pkg/report"
)

// maxRunHistory bounds how many past runs the metadata file keeps.
const maxRunHistory = 100

// History is the serialized form of the metadata file.
type History struct {
	Runs        []report.RunReport `json:"runs"`
	LastUpdated time.Time          `json:"lastUpdated"`
	Version     string             `json:"version"`
}

// Store manages the run history file. Persistence is best effort; the backup
// itself never depends on it.
type Store struct {
	mu       sync.RWMutex
	filepath string
	history  History
}

// NewStore creates a store writing metadata.json inside the output directory.
func NewStore(outputDir string) *Store {
	return &Store{
		filepath: filepath.Join(outputDir, "metadata.json"),
		history: History{
			Runs:    make([]report.RunReport, 0),
			Version: "1.0",
		},
	}
}

// Load reads existing history. A missing file starts a fresh history.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read metadata file %s", s.filepath)
	}

	var history History
	if err := json.Unmarshal(data, &history); err != nil {
		return errors.Wrapf(err, "unmarshal metadata file %s", s.filepath)
	}

	s.history = history
	return nil
}

// RecordRun appends a run to the history and saves it.
func (s *Store) RecordRun(runReport report.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.Runs = append(s.history.Runs, runReport)
	if len(s.history.Runs) > maxRunHistory {
		s.history.Runs = s.history.Runs[len(s.history.Runs)-maxRunHistory:]
	}
	s.history.LastUpdated = time.Now()

	return s.save()
}

// Runs returns a copy of the recorded run history.
func (s *Store) Runs() []report.RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]report.RunReport, len(s.history.Runs))
	copy(runs, s.history.Runs)
	return runs
}

// save writes the history file. Caller holds the lock.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.filepath), 0755); err != nil {
		return errors.Wrapf(err, "create metadata directory")
	}

	data, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}

	if err := os.WriteFile(s.filepath, data, 0644); err != nil {
		return errors.Wrapf(err, "write metadata file %s", s.filepath)
	}
	return nil
}
