package store

import (
	"errors"
	"sync"

	"github.com/ILLUVRSE/agentdao/internal/models"
)

var ErrNotFound = errors.New("record not found")

// MemoryStore holds State behind a mutex. Each Update or Dispatch is applied
// atomically; readers always receive deep copies.
type MemoryStore struct {
	mu    sync.RWMutex
	state State
}

// NewMemoryStore returns a store initialised with seed.
func NewMemoryStore(seed State) *MemoryStore {
	return &MemoryStore{state: seed.Clone()}
}

// Dispatch applies actions in order as one atomic update and returns the result.
func (m *MemoryStore) Dispatch(actions ...Action) State {
	return m.Update(func(s State) State {
		for _, a := range actions {
			s = Reduce(s, a)
		}
		return s
	})
}

// Update replaces the state with fn(current) while holding the write lock.
// fn must not call back into the store.
func (m *MemoryStore) Update(fn func(s State) State) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = fn(m.state)
	return m.state.Clone()
}

// Snapshot returns a deep copy of the current state.
func (m *MemoryStore) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

func (m *MemoryStore) Agents() []models.Agent {
	return m.Snapshot().Agents
}

func (m *MemoryStore) Proposals() []models.Proposal {
	return m.Snapshot().Proposals
}

func (m *MemoryStore) Transactions() []models.Transaction {
	return m.Snapshot().Transactions
}

// Proposal returns a copy of the proposal with id.
func (m *MemoryStore) Proposal(id string) (models.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, _, ok := m.state.FindProposal(id)
	if !ok {
		return models.Proposal{}, ErrNotFound
	}
	p.Votes = append([]models.AgentVote{}, p.Votes...)
	return p, nil
}

// Agent returns a copy of the agent with id.
func (m *MemoryStore) Agent(id string) (models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.state.FindAgent(id)
	if !ok {
		return models.Agent{}, ErrNotFound
	}
	a.Values = append([]string{}, a.Values...)
	a.Expertise = append([]string{}, a.Expertise...)
	return a, nil
}
