package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const cooldownFile = "cooldowns.json"

// DefaultCooldown is applied when Add gets a non-positive duration.
const DefaultCooldown = 24 * time.Hour

// CooldownEntry blocks one symbol/direction pair until it expires.
type CooldownEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
	Price     float64   `json:"price"`
	Reason    string    `json:"reason"`
}

// CooldownStore is the persistent cooldown map. Add and Clear write through
// to disk immediately; reads expire entries lazily without forcing a write.
// Surviving restarts is a correctness requirement, not an optimization.
type CooldownStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]map[string]CooldownEntry
}

// NewCooldownStore loads cooldowns.json from dir, keeping only
// future-expiring entries. A missing or corrupt file starts empty.
func NewCooldownStore(dir string) (*CooldownStore, error) {
	if dir == "" {
		dir = "./cache"
	}
	s := &CooldownStore{
		path:    filepath.Join(dir, cooldownFile),
		entries: make(map[string]map[string]CooldownEntry),
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cooldowns: %w", err)
	}

	var loaded map[string]map[string]CooldownEntry
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Warn().Str("path", s.path).Err(err).Msg("corrupt cooldown file, starting empty")
		return s, nil
	}

	now := time.Now()
	for symbol, dirs := range loaded {
		for direction, entry := range dirs {
			if entry.ExpiresAt.After(now) {
				if s.entries[symbol] == nil {
					s.entries[symbol] = make(map[string]CooldownEntry)
				}
				s.entries[symbol][direction] = entry
			}
		}
	}
	return s, nil
}

// Add places a cooldown and persists immediately.
func (s *CooldownStore) Add(symbol, direction string, price float64, reason string, d time.Duration) error {
	if d <= 0 {
		d = DefaultCooldown
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[symbol] == nil {
		s.entries[symbol] = make(map[string]CooldownEntry)
	}
	s.entries[symbol][direction] = CooldownEntry{
		ExpiresAt: time.Now().UTC().Add(d),
		Price:     price,
		Reason:    reason,
	}
	return s.persistLocked()
}

// IsActive returns the blocking entry if one is still in force. Expired
// entries are dropped from memory on read; the file catches up on the next
// write.
func (s *CooldownStore) IsActive(symbol, direction string) (CooldownEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirs, ok := s.entries[symbol]
	if !ok {
		return CooldownEntry{}, false
	}
	entry, ok := dirs[direction]
	if !ok {
		return CooldownEntry{}, false
	}
	if !entry.ExpiresAt.After(time.Now()) {
		delete(dirs, direction)
		if len(dirs) == 0 {
			delete(s.entries, symbol)
		}
		return CooldownEntry{}, false
	}
	return entry, true
}

// Clear removes a cooldown and persists. An empty direction clears every
// direction for the symbol.
func (s *CooldownStore) Clear(symbol, direction string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if direction == "" {
		delete(s.entries, symbol)
	} else if dirs, ok := s.entries[symbol]; ok {
		delete(dirs, direction)
		if len(dirs) == 0 {
			delete(s.entries, symbol)
		}
	}
	return s.persistLocked()
}

// ClearAll drops every cooldown and persists.
func (s *CooldownStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]map[string]CooldownEntry)
	return s.persistLocked()
}

// Active snapshots the still-active entries for display.
func (s *CooldownStore) Active() map[string]map[string]CooldownEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make(map[string]map[string]CooldownEntry)
	for symbol, dirs := range s.entries {
		for direction, entry := range dirs {
			if !entry.ExpiresAt.After(now) {
				continue
			}
			if out[symbol] == nil {
				out[symbol] = make(map[string]CooldownEntry)
			}
			out[symbol][direction] = entry
		}
	}
	return out
}

// persistLocked writes only future-expiring entries.
func (s *CooldownStore) persistLocked() error {
	now := time.Now()
	live := make(map[string]map[string]CooldownEntry)
	for symbol, dirs := range s.entries {
		for direction, entry := range dirs {
			if !entry.ExpiresAt.After(now) {
				continue
			}
			if live[symbol] == nil {
				live[symbol] = make(map[string]CooldownEntry)
			}
			live[symbol][direction] = entry
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(live, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cooldowns: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}
