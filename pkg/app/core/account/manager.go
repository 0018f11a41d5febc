package account

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrInvalidAccount  = errors.New("invalid account")
)

// Manager is the registry of accounts by id.
//
// The mutex guards the map only. Account values handed out by Get are
// mutated by settlement, so reading or writing their fields needs the same
// lock that serialises the book they trade on.
type Manager struct {
	mu       sync.RWMutex
	accounts map[uint64]*Account
}

func NewManager() *Manager {
	return &Manager{
		accounts: make(map[uint64]*Account),
	}
}

// Open registers a new account with an opening balance and holdings.
func (m *Manager) Open(id uint64, name string, balance int64, holdings map[string]int64) (*Account, error) {
	if balance < 0 {
		return nil, fmt.Errorf("%w: opening balance must not be negative: %d", ErrInvalidAccount, balance)
	}
	for ticker, qty := range holdings {
		if qty < 0 {
			return nil, fmt.Errorf("%w: opening holding of %s must not be negative: %d", ErrInvalidAccount, ticker, qty)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrAccountExists, id)
	}

	acc := New(id, name, balance, holdings)
	m.accounts[id] = acc
	return acc, nil
}

func (m *Manager) Get(id uint64) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	return acc, nil
}

// Restore replaces any accounts with the same ids by the given snapshots.
func (m *Manager) Restore(snaps []Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range snaps {
		m.accounts[s.ID] = FromSnapshot(s)
	}
}

// List returns snapshots of every account ordered by id.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}
