package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerOpenAndGet(t *testing.T) {
	m := NewManager()

	acc, err := m.Open(1, "alice", 2500, map[string]int64{"VOC": 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.ID())

	got, err := m.Get(1)
	require.NoError(t, err)
	assert.Same(t, acc, got)

	_, err = m.Get(2)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestManagerRejectsBadOpens(t *testing.T) {
	m := NewManager()
	_, err := m.Open(1, "", 0, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		id       uint64
		balance  int64
		holdings map[string]int64
		want     error
	}{
		{"duplicate id", 1, 0, nil, ErrAccountExists},
		{"negative balance", 2, -1, nil, ErrInvalidAccount},
		{"negative holding", 3, 0, map[string]int64{"VOC": -5}, ErrInvalidAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Open(tt.id, "", tt.balance, tt.holdings)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 1, m.Count())
}

func TestManagerRestoreAndList(t *testing.T) {
	m := NewManager()
	_, err := m.Open(2, "old", 1, nil)
	require.NoError(t, err)

	m.Restore([]Snapshot{
		{ID: 3, Name: "carol", Balance: 30, Holdings: map[string]int64{"VOC": 3}},
		{ID: 2, Name: "bob", Balance: 20, Holdings: map[string]int64{}},
	})

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, uint64(2), list[0].ID)
	assert.Equal(t, "bob", list[0].Name, "restore replaces existing ids")
	assert.Equal(t, int64(20), list[0].Balance)
	assert.Equal(t, uint64(3), list[1].ID)
	assert.Equal(t, int64(3), list[1].Holdings["VOC"])
}
