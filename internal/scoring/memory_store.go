package scoring

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments []*Assessment
}

// maxMemoryAssessments caps the in-memory audit trail.
const maxMemoryAssessments = 1000

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Deep-copy terms
	terms := make(map[string]float64, len(a.Terms))
	for k, v := range a.Terms {
		terms[k] = v
	}
	cp := *a
	cp.Terms = terms

	s.assessments = append(s.assessments, &cp)
	if len(s.assessments) > maxMemoryAssessments {
		s.assessments = s.assessments[len(s.assessments)-maxMemoryAssessments:]
	}
	return nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.assessments) == 0 {
		return nil, nil
	}

	start := len(s.assessments) - limit
	if start < 0 {
		start = 0
	}

	// Most recent first
	result := make([]*Assessment, 0, len(s.assessments)-start)
	for i := len(s.assessments) - 1; i >= start; i-- {
		a := *s.assessments[i]
		terms := make(map[string]float64, len(a.Terms))
		for k, v := range a.Terms {
			terms[k] = v
		}
		a.Terms = terms
		result = append(result, &a)
	}
	return result, nil
}
