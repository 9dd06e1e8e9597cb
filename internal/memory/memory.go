// File: internal/memory/memory.go
package memory

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/nexus-agent/api/schemas"
)

// Store is the agent's tagged, timestamped fact store. Entries are immutable
// and kept in insertion order; the only deletion is a full Clear. The store
// is written by the agent loop and read concurrently by observers, so all
// access goes through an RWMutex.
type Store struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries []schemas.MemoryEntry
}

// Statically assert the interface the tool layer depends on.
var _ schemas.MemoryStore = (*Store)(nil)

// NewStore creates an empty memory store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{logger: logger.Named("memory")}
}

// Memorize appends an entry with the current timestamp and returns it.
func (s *Store) Memorize(content string, tags []string) schemas.MemoryEntry {
	entry := schemas.MemoryEntry{
		Content:   content,
		Tags:      append([]string(nil), tags...),
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	count := len(s.entries)
	s.mu.Unlock()

	s.logger.Debug("Memorized entry.", zap.Int("total", count), zap.Strings("tags", tags))
	return entry
}

// Recall returns entries matching the query and tag filter, in insertion
// order. The query is a case-insensitive substring match over content and tag
// labels; an empty query matches everything. When filter tags are given the
// entry must share at least one of them.
func (s *Store) Recall(query string, tags []string) []schemas.MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	out := make([]schemas.MemoryEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if q != "" && !matchesQuery(entry, q) {
			continue
		}
		if len(tags) > 0 && !intersects(entry.Tags, tags) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// All returns every entry in insertion order.
func (s *Store) All() []schemas.MemoryEntry {
	return s.Recall("", nil)
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	cleared := len(s.entries)
	s.entries = nil
	s.mu.Unlock()

	if cleared > 0 {
		s.logger.Info("Memory store cleared.", zap.Int("entries_removed", cleared))
	}
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func matchesQuery(entry schemas.MemoryEntry, loweredQuery string) bool {
	if strings.Contains(strings.ToLower(entry.Content), loweredQuery) {
		return true
	}
	for _, tag := range entry.Tags {
		if strings.Contains(strings.ToLower(tag), loweredQuery) {
			return true
		}
	}
	return false
}

func intersects(entryTags, filter []string) bool {
	for _, want := range filter {
		for _, have := range entryTags {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}
