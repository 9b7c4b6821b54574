// Package cache provides a process-local TTL key-value store.
//
// Entries are whole values: writers replace an entry, never patch it, so a
// reader sees either the previous or the next complete value. Entries do not
// survive a restart; a lost entry behaves as a miss.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/osa030/tastedeck/internal/infra/metrics"
)

// Key namespaces. Each namespace carries its own TTL.
const (
	NamespaceSuggestions = "suggestions"
	NamespaceTopItems    = "top"
	NamespaceTrack       = "track"
	NamespaceArtist      = "artist"
)

// Store is a TTL key-value store.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Purge() int
	Stats() Stats
}

// Stats tracks cache performance.
type Stats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Evictions   int64     `json:"evictions"`
	Entries     int       `json:"entries"`
	LastCleanup time.Time `json:"last_cleanup"`
}

// Key joins a namespace and key parts with ':'.
func Key(namespace string, parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}

// Get returns the value under key asserted to T. A stored value of another
// type is reported as a miss.
func Get[T any](s Store, key string) (T, bool) {
	var zero T
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Memory is an in-memory Store with a background janitor.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	stats   Stats
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a Memory store. A positive cleanupInterval starts a
// janitor goroutine that sweeps expired entries until Close is called.
func NewMemory(cleanupInterval time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	m.stats.LastCleanup = m.now()
	if cleanupInterval > 0 {
		go m.cleanupLoop(cleanupInterval)
	}
	return m
}

// Get returns the value under key. Expired entries are removed and count as
// misses.
func (m *Memory) Get(key string) (any, bool) {
	ns := namespace(key)

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		m.recordMiss(ns)
		return nil, false
	}

	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
			m.stats.Evictions++
		}
		m.mu.Unlock()
		m.recordMiss(ns)
		return nil, false
	}

	m.mu.Lock()
	m.stats.Hits++
	m.mu.Unlock()
	metrics.CacheHits.WithLabelValues(ns).Inc()
	return e.value, true
}

// Set stores value under key for ttl. Non-positive ttl is ignored.
func (m *Memory) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	n := len(m.entries)
	m.mu.Unlock()
	metrics.CacheEntries.Set(float64(n))
}

// Delete removes key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	n := len(m.entries)
	m.mu.Unlock()
	metrics.CacheEntries.Set(float64(n))
}

// Purge removes every entry and returns how many were dropped.
func (m *Memory) Purge() int {
	m.mu.Lock()
	n := len(m.entries)
	m.entries = make(map[string]entry)
	m.stats.Evictions += int64(n)
	m.mu.Unlock()
	metrics.CacheEntries.Set(0)
	return n
}

// Stats returns a snapshot of the counters.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.stats
	s.Entries = len(m.entries)
	return s
}

// Close stops the janitor. It is safe to call more than once.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stop:
			return
		}
	}
}

// cleanup removes expired entries.
func (m *Memory) cleanup() int {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	m.stats.Evictions += int64(removed)
	m.stats.LastCleanup = now
	n := len(m.entries)
	m.mu.Unlock()

	metrics.CacheEntries.Set(float64(n))
	return removed
}

func (m *Memory) recordMiss(ns string) {
	m.mu.Lock()
	m.stats.Misses++
	m.mu.Unlock()
	metrics.CacheMisses.WithLabelValues(ns).Inc()
}

func namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "default"
}
