// Package observability tracks per-category row counts and timings for a
// conversion.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/arkilian/nsys2chrome/pkg/types"
	"github.com/jonboulle/clockwork"
)

// ConversionStats accumulates counters while a conversion runs. All methods
// are safe for concurrent use by extractor goroutines.
type ConversionStats struct {
	mu         sync.RWMutex
	clock      clockwork.Clock
	started    time.Time
	categories map[types.Category]*CategoryStats
	stages     map[string]time.Duration
	order      []string
}

// CategoryStats holds the numbers for one category.
type CategoryStats struct {
	Category types.Category `json:"category"`
	Events   int64          `json:"events"`
	Elapsed  time.Duration  `json:"elapsed"`
	Skipped  bool           `json:"skipped,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// NewConversionStats creates a tracker. A nil clock uses the real clock.
func NewConversionStats(clock clockwork.Clock) *ConversionStats {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConversionStats{
		clock:      clock,
		started:    clock.Now(),
		categories: make(map[types.Category]*CategoryStats),
		stages:     make(map[string]time.Duration),
	}
}

func (s *ConversionStats) entry(c types.Category) *CategoryStats {
	st, ok := s.categories[c]
	if !ok {
		st = &CategoryStats{Category: c}
		s.categories[c] = st
	}
	return st
}

// Time starts timing category c and returns the function that stops it.
func (s *ConversionStats) Time(c types.Category) func() {
	start := s.clock.Now()
	return func() {
		elapsed := s.clock.Since(start)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entry(c).Elapsed += elapsed
	}
}

// Stage starts timing a named pipeline stage (correlate, assign, build,
// write) and returns the function that stops it.
func (s *ConversionStats) Stage(name string) func() {
	start := s.clock.Now()
	return func() {
		elapsed := s.clock.Since(start)
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, seen := s.stages[name]; !seen {
			s.order = append(s.order, name)
		}
		s.stages[name] += elapsed
	}
}

// RecordEvents adds n produced events to category c.
// This method is O(1) and thread-safe.
func (s *ConversionStats) RecordEvents(c types.Category, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(c).Events += int64(n)
}

// RecordSkip marks category c as skipped with a warning code.
func (s *ConversionStats) RecordSkip(c types.Category, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entry(c)
	st.Skipped = true
	st.Reason = reason
}

// Categories returns a copy of the per-category stats in canonical order.
func (s *ConversionStats) Categories() []CategoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CategoryStats, 0, len(s.categories))
	for _, st := range s.categories {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Category < out[j].Category
	})
	return out
}

// Stages returns a copy of the stage timings.
func (s *ConversionStats) Stages() map[string]time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Duration, len(s.stages))
	for k, v := range s.stages {
		out[k] = v
	}
	return out
}

// StageTiming is the accumulated time of one stage.
type StageTiming struct {
	Name    string        `json:"name"`
	Elapsed time.Duration `json:"elapsed"`
}

// Timings returns the stage timings in the order the stages first finished.
func (s *ConversionStats) Timings() []StageTiming {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StageTiming, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, StageTiming{Name: name, Elapsed: s.stages[name]})
	}
	return out
}

// TotalEvents sums events over every category.
func (s *ConversionStats) TotalEvents() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, st := range s.categories {
		n += st.Events
	}
	return n
}

// Elapsed returns the time since the tracker was created.
func (s *ConversionStats) Elapsed() time.Duration {
	return s.clock.Since(s.started)
}
