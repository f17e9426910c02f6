package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	compliance "greenledger/internal/compliance/domain"
)

const defaultCapacity = 1000

// Store is the in-process read model behind the query API. It keeps a
// bounded ring of recent violations and the latest score per plant.
type Store struct {
	mu         sync.RWMutex
	capacity   int
	violations []compliance.Violation
	next       int
	full       bool
	scores     map[string]compliance.Score
}

// Option customizes the store.
type Option func(*Store)

// WithCapacity bounds the violation ring.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	store := &Store{
		capacity: defaultCapacity,
		scores:   make(map[string]compliance.Score),
	}
	for _, opt := range opts {
		opt(store)
	}
	store.violations = make([]compliance.Violation, store.capacity)
	return store
}

// HandleViolation records a violation; oldest entries are evicted once
// the ring is full.
func (s *Store) HandleViolation(_ context.Context, v compliance.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations[s.next] = v
	s.next++
	if s.next == s.capacity {
		s.next = 0
		s.full = true
	}
	return nil
}

// HandleScore keeps only the freshest score per plant.
func (s *Store) HandleScore(_ context.Context, score compliance.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.scores[score.PlantID]
	if !ok || !score.WindowEnd.Before(current.WindowEnd) {
		s.scores[score.PlantID] = score
	}
	return nil
}

// ViolationFilter narrows ListViolations results. Zero values match
// everything.
type ViolationFilter struct {
	PlantID     string
	Rule        string
	MinSeverity compliance.Severity
	From        time.Time
	To          time.Time
	Limit       int
}

func (f ViolationFilter) matches(v compliance.Violation) bool {
	if f.PlantID != "" && v.PlantID != f.PlantID {
		return false
	}
	if f.Rule != "" && v.Rule != f.Rule {
		return false
	}
	if f.MinSeverity != "" && v.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if !f.From.IsZero() && v.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !v.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// ListViolations returns matching violations, newest first.
func (s *Store) ListViolations(_ context.Context, filter ViolationFilter) ([]compliance.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = s.capacity
	}
	out := make([]compliance.Violation, 0, size)
	// Walk backwards from the most recent entry.
	for i := 1; i <= size; i++ {
		idx := (s.next - i + s.capacity) % s.capacity
		v := s.violations[idx]
		if !filter.matches(v) {
			continue
		}
		out = append(out, v)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// LatestScores returns the newest score per plant, ordered by plant id.
func (s *Store) LatestScores(_ context.Context) ([]compliance.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]compliance.Score, 0, len(s.scores))
	for _, score := range s.scores {
		out = append(out, score)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlantID < out[j].PlantID })
	return out, nil
}

// ScoreByPlant returns the latest score for one plant.
func (s *Store) ScoreByPlant(_ context.Context, plantID string) (compliance.Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[plantID]
	if !ok {
		return compliance.Score{}, compliance.ErrNotFound
	}
	return score, nil
}
