package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"GoalSentinel/internal/model"
)

// MemoryStore keeps everything in process. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu         sync.Mutex
	goals      map[string]model.Goal
	profiles   map[string]model.RiskProfile
	results    []model.SimulationResult
	rebalances []model.RebalanceEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		goals:    make(map[string]model.Goal),
		profiles: make(map[string]model.RiskProfile),
	}
}

func (m *MemoryStore) ListActiveGoals(_ context.Context) ([]model.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Goal
	for _, g := range m.goals {
		if g.Status == model.GoalActive {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetGoal(_ context.Context, id string) (model.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.goals[id]
	if !ok {
		return model.Goal{}, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return g, nil
}

func (m *MemoryStore) PutGoal(_ context.Context, g model.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals[g.ID] = g
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, goalID string) (model.RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[goalID]
	if !ok {
		return model.RiskProfile{}, fmt.Errorf("risk profile %s: %w", goalID, ErrNotFound)
	}
	return copyProfile(p), nil
}

func (m *MemoryStore) CreateProfile(_ context.Context, p model.RiskProfile) (model.RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.GoalID]; ok {
		return copyProfile(existing), nil
	}
	if p.Version == 0 {
		p.Version = 1
	}
	m.profiles[p.GoalID] = copyProfile(p)
	return copyProfile(p), nil
}

func (m *MemoryStore) UpdateProfile(_ context.Context, p model.RiskProfile) (model.RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.profiles[p.GoalID]
	if !ok {
		return model.RiskProfile{}, fmt.Errorf("risk profile %s: %w", p.GoalID, ErrNotFound)
	}
	if cur.Version != p.Version {
		return model.RiskProfile{}, fmt.Errorf("risk profile %s: %w", p.GoalID, ErrVersionConflict)
	}
	cur.Tier = p.Tier
	cur.AutoRebalance = p.AutoRebalance
	cur.MinSuccessProbability = p.MinSuccessProbability
	cur.UpdatedAt = p.UpdatedAt
	cur.Version++
	m.profiles[p.GoalID] = cur
	return copyProfile(cur), nil
}

func (m *MemoryStore) DowngradeTier(_ context.Context, d Downgrade) (model.RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.profiles[d.GoalID]
	if !ok {
		return model.RiskProfile{}, fmt.Errorf("risk profile %s: %w", d.GoalID, ErrNotFound)
	}
	if cur.Version != d.ExpectedVersion || cur.Tier != d.From {
		return model.RiskProfile{}, fmt.Errorf("risk profile %s: %w", d.GoalID, ErrVersionConflict)
	}
	if d.Event != nil {
		for _, e := range m.rebalances {
			if e.GoalID == d.Event.GoalID && e.Window == d.Event.Window {
				return model.RiskProfile{}, fmt.Errorf("rebalance %s/%s: %w", e.GoalID, e.Window, ErrDuplicate)
			}
		}
		m.rebalances = append(m.rebalances, *d.Event)
	}
	cur.Tier = d.To
	cur.UpdatedAt = d.At
	cur.Version++
	m.profiles[d.GoalID] = cur
	return copyProfile(cur), nil
}

func (m *MemoryStore) TouchLastSimulation(_ context.Context, goalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.profiles[goalID]
	if !ok {
		return nil
	}
	cur.LastSimulationAt = &at
	m.profiles[goalID] = cur
	return nil
}

func (m *MemoryStore) SaveResult(_ context.Context, r *model.SimulationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, *r)
	return nil
}

func (m *MemoryStore) HasResultSince(_ context.Context, userID string, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListResults(_ context.Context, goalID string, limit int) ([]model.SimulationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SimulationResult
	for i := len(m.results) - 1; i >= 0; i-- {
		if m.results[i].GoalID != goalID {
			continue
		}
		out = append(out, m.results[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) HasRebalanceEvent(_ context.Context, goalID, window string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.rebalances {
		if e.GoalID == goalID && e.Window == window {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListRebalanceEvents(_ context.Context, goalID string) ([]model.RebalanceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RebalanceEvent
	for _, e := range m.rebalances {
		if e.GoalID == goalID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func copyProfile(p model.RiskProfile) model.RiskProfile {
	if p.LastSimulationAt != nil {
		t := *p.LastSimulationAt
		p.LastSimulationAt = &t
	}
	return p
}
