package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	svcerr "github.com/logflow/svctools/pkg/errors"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord summarizes one analysis served over HTTP.
type RunRecord struct {
	ID         string     `json:"id"`
	Input      string     `json:"input"`
	Preset     string     `json:"preset"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Rows       int        `json:"rows"`
	Excluded   int        `json:"excluded"`
	Total      int        `json:"total"`
	Matching   int        `json:"matching"`
	Percentage float64    `json:"percentage"`
	Error      string     `json:"error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
}

// RunStore keeps recent run records, optionally persisted to a JSON file.
type RunStore struct {
	mu       sync.RWMutex
	filePath string
	limit    int
	runs     map[string]*RunRecord
}

// NewRunStore creates a store holding at most limit records. An empty
// path keeps records in memory only.
func NewRunStore(path string, limit int) (*RunStore, error) {
	if limit <= 0 {
		limit = 500
	}
	s := &RunStore{
		filePath: path,
		limit:    limit,
		runs:     make(map[string]*RunRecord),
	}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, svcerr.Wrap(err, svcerr.CodeFilePermission, "failed to create run store directory")
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, svcerr.Wrap(err, svcerr.CodeParseFailed, "failed to load run store").
			WithContext("path", path)
	}
	return s, nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(id string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// Put stores a run, evicting the oldest records over the limit.
func (s *RunStore) Put(r *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[r.ID] = r
	for len(s.runs) > s.limit {
		var oldest *RunRecord
		for _, cand := range s.runs {
			if oldest == nil || cand.StartTime.Before(oldest.StartTime) {
				oldest = cand
			}
		}
		delete(s.runs, oldest.ID)
	}
	return s.saveLocked()
}

// List returns runs newest first.
func (s *RunStore) List() []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*RunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartTime.Equal(runs[j].StartTime) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	return runs
}

// Count returns the number of runs.
func (s *RunStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Cleanup removes runs that finished before maxAge ago.
func (s *RunStore) Cleanup(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, r := range s.runs {
		if r.EndTime != nil && r.EndTime.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

func (s *RunStore) saveLocked() error {
	if s.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.runs, "", "  ")
	if err != nil {
		return err
	}

	// Write atomically
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *RunStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, &s.runs)
}
