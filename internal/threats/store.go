package threats

import (
	"context"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Store Interface
// -----------------------------------------------------------------------------

// Store defines the persistence interface for threat records.
type Store interface {
	Create(ctx context.Context, t *Threat) error
	Get(ctx context.Context, id string) (*Threat, error)
	List(ctx context.Context, q Query) ([]*Threat, error)
	UpdateStatus(ctx context.Context, id, status string) (*Threat, error)
	GetStats(ctx context.Context) (*Stats, error)
}

// -----------------------------------------------------------------------------
// In-Memory Store
// -----------------------------------------------------------------------------

// MemoryStore is a thread-safe in-memory implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	threats map[string]*Threat
	order   []string // insertion order, newest appended last
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threats: make(map[string]*Threat),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, t *Threat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusOpen
	}

	m.threats[t.ID] = copyThreat(t)
	m.order = append(m.order, t.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Threat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threats[id]
	if !ok {
		return nil, ErrThreatNotFound
	}
	return copyThreat(t), nil
}

func (m *MemoryStore) List(ctx context.Context, q Query) ([]*Threat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Threat
	// Newest first
	for i := len(m.order) - 1; i >= 0; i-- {
		t := m.threats[m.order[i]]
		if t == nil || !matches(t, q) {
			continue
		}
		out = append(out, copyThreat(t))
	}

	return paginate(out, q.Limit, q.Offset), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id, status string) (*Threat, error) {
	if !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threats[id]
	if !ok {
		return nil, ErrThreatNotFound
	}

	t.Status = status
	t.UpdatedAt = time.Now()
	return copyThreat(t), nil
}

func (m *MemoryStore) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		BySeverity: make(map[string]int64),
		ByType:     make(map[string]int64),
		UpdatedAt:  time.Now(),
	}
	for _, t := range m.threats {
		stats.Total++
		if t.Status == StatusOpen {
			stats.Open++
		}
		stats.BySeverity[string(t.RiskLabel)]++
		stats.ByType[t.Type]++
	}
	return stats, nil
}

func matches(t *Threat, q Query) bool {
	if q.Type != "" && t.Type != q.Type {
		return false
	}
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if q.Label != "" && string(t.RiskLabel) != q.Label {
		return false
	}
	return true
}

func paginate(in []*Threat, limit, offset int) []*Threat {
	if offset > len(in) {
		return []*Threat{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func copyThreat(t *Threat) *Threat {
	cp := *t
	if t.RiskTerms != nil {
		cp.RiskTerms = make(map[string]float64, len(t.RiskTerms))
		for k, v := range t.RiskTerms {
			cp.RiskTerms[k] = v
		}
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
