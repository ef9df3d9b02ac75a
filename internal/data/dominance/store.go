package dominance

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	cacheFile   = "dominance_cache.json"
	historyFile = "dominance_history.json"

	historyRetention = 30 * 24 * time.Hour
	historySpacing   = time.Hour
)

// Store persists dominance snapshots under the cache dir: the latest reading
// in dominance_cache.json and an hourly-spaced series in
// dominance_history.json.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore roots the store at dir, defaulting to ./cache.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = "./cache"
	}
	return &Store{dir: dir}
}

func (s *Store) cachePath() string   { return filepath.Join(s.dir, cacheFile) }
func (s *Store) historyPath() string { return filepath.Join(s.dir, historyFile) }

// SaveCache writes snap as the latest persisted reading.
func (s *Store) SaveCache(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dominance cache: %w", err)
	}
	return os.WriteFile(s.cachePath(), data, 0o644)
}

// LoadCache returns the persisted snapshot. Missing, corrupt, or empty files
// read as absent.
func (s *Store) LoadCache() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.cachePath())
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	if !snap.Valid() {
		return Snapshot{}, false
	}
	return snap, true
}

// AppendHistory adds snap to the series unless the newest entry is younger
// than the minimum spacing, then prunes records past the retention window.
func (s *Store) AppendHistory(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist, err := s.loadHistory()
	if err != nil {
		return err
	}
	if n := len(hist); n > 0 && snap.Timestamp.Sub(hist[n-1].Timestamp) < historySpacing {
		return nil
	}
	hist = append(hist, snap)

	cutoff := snap.Timestamp.Add(-historyRetention)
	kept := hist[:0]
	for _, h := range hist {
		if !h.Timestamp.Before(cutoff) {
			kept = append(kept, h)
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dominance history: %w", err)
	}
	return os.WriteFile(s.historyPath(), data, 0o644)
}

// History returns the persisted series, oldest first.
func (s *Store) History() ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadHistory()
}

func (s *Store) loadHistory() ([]Snapshot, error) {
	data, err := os.ReadFile(s.historyPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dominance history: %w", err)
	}
	var hist []Snapshot
	if err := json.Unmarshal(data, &hist); err != nil {
		// Corrupt history starts fresh rather than blocking fetches.
		return nil, nil
	}
	return hist, nil
}
