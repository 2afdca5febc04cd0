// Package observability tracks statement statistics for the schema service.
package observability

import (
	"sort"
	"sync"
	"time"
)

// StatementStats counts executed statements by kind and failed statements by
// error code.
type StatementStats struct {
	mu        sync.RWMutex
	kindFreq  map[string]*Counter
	errorFreq map[string]*Counter
	window    time.Duration
}

// Counter holds statistics for one statement kind or error code.
type Counter struct {
	Name      string
	Frequency int64
	Failures  int64
	Total     time.Duration
	LastSeen  time.Time
	Keyspaces map[string]int // keyspace → count
}

// Mean returns the mean execution time, or zero when nothing was recorded.
func (c Counter) Mean() time.Duration {
	if c.Frequency == 0 {
		return 0
	}
	return c.Total / time.Duration(c.Frequency)
}

// NewStatementStats creates a new statement statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewStatementStats(window time.Duration) *StatementStats {
	return &StatementStats{
		kindFreq:  make(map[string]*Counter),
		errorFreq: make(map[string]*Counter),
		window:    window,
	}
}

// RecordStatement records one executed statement.
// kind: the statement kind (e.g., "CREATE TYPE", "INSERT")
// keyspace: the keyspace it ran against, possibly empty
// errCode: the error code when it failed, empty on success
// This method is O(1) and thread-safe.
func (s *StatementStats) RecordStatement(kind, keyspace string, elapsed time.Duration, errCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c := counterFor(s.kindFreq, kind)
	c.Frequency++
	c.Total += elapsed
	c.LastSeen = now
	if keyspace != "" {
		c.Keyspaces[keyspace]++
	}
	if errCode == "" {
		return
	}
	c.Failures++

	e := counterFor(s.errorFreq, errCode)
	e.Frequency++
	e.Failures++
	e.LastSeen = now
	if keyspace != "" {
		e.Keyspaces[keyspace]++
	}
}

func counterFor(m map[string]*Counter, name string) *Counter {
	c, ok := m[name]
	if !ok {
		c = &Counter{Name: name, Keyspaces: make(map[string]int)}
		m[name] = c
	}
	return c
}

// GetTopKinds returns the top N statement kinds by frequency.
// Returns a copy of the stats sorted by frequency (descending).
func (s *StatementStats) GetTopKinds(n int) []Counter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.kindFreq, n)
}

// GetTopErrors returns the top N error codes by frequency.
// Returns a copy of the stats sorted by frequency (descending).
func (s *StatementStats) GetTopErrors(n int) []Counter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return top(s.errorFreq, n)
}

func top(m map[string]*Counter, n int) []Counter {
	if n <= 0 || len(m) == 0 {
		return []Counter{}
	}

	out := make([]Counter, 0, len(m))
	for _, c := range m {
		cp := *c
		cp.Keyspaces = make(map[string]int, len(c.Keyspaces))
		for ks, count := range c.Keyspaces {
			cp.Keyspaces[ks] = count
		}
		out = append(out, cp)
	}

	// Frequency descending, ties by name so output is stable
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Name < out[j].Name
	})

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Prune removes entries where time.Since(LastSeen) > window.
// This should be called periodically (e.g., every 5 minutes).
func (s *StatementStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for name, c := range s.kindFreq {
		if c.LastSeen.Before(threshold) {
			delete(s.kindFreq, name)
		}
	}
	for code, c := range s.errorFreq {
		if c.LastSeen.Before(threshold) {
			delete(s.errorFreq, code)
		}
	}
}

// Window returns the pruning window.
func (s *StatementStats) Window() time.Duration {
	return s.window
}
