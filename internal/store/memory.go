package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-history/internal/weather"
)

var (
	// ErrNotFound is returned when no run report matches the request.
	ErrNotFound = errors.New("no run report found")
)

// MemoryStore is a concurrency-safe in-memory history of run reports.
type MemoryStore struct {
	mu sync.RWMutex

	// oldest first
	reports []weather.RunReport

	// retention configuration
	maxHistory int           // max number of reports kept
	maxAge     time.Duration // optional max age, measured from StartedAt
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// SaveReport inserts or replaces the report with the same RunID and enforces
// retention.
func (s *MemoryStore) SaveReport(report weather.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.reports {
		if s.reports[i].RunID == report.RunID {
			s.reports[i] = report
			replaced = true
			break
		}
	}
	if !replaced {
		s.reports = append(s.reports, report)
	}

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.reports) > s.maxHistory {
		over := len(s.reports) - s.maxHistory
		s.reports = append([]weather.RunReport(nil), s.reports[over:]...)
	}

	// Enforce retention by age; the newest report is always kept.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.reports)-1; i++ {
			if !s.reports[i].StartedAt.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			s.reports = s.reports[i:]
		}
	}
}

// Latest returns the most recently saved report.
func (s *MemoryStore) Latest() (weather.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.reports) == 0 {
		return weather.RunReport{}, ErrNotFound
	}
	return s.reports[len(s.reports)-1], nil
}

// Get returns the report of one run.
func (s *MemoryStore) Get(runID string) (weather.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reports {
		if r.RunID == runID {
			return r, nil
		}
	}
	return weather.RunReport{}, ErrNotFound
}

// List returns up to limit reports, newest first. limit <= 0 returns all.
func (s *MemoryStore) List(limit int) []weather.RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.reports)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]weather.RunReport, 0, n)
	for i := len(s.reports) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.reports[i])
	}
	return out
}
