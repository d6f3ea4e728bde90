// Package cache holds the entries of connected players.
package cache

import (
	"sync"

	"github.com/sheikh-saqib/currency-ledger/internal/models"
)

// Online maps player id to the live entry of a connected player. While a
// player is present here the entry is the source of truth for their balances.
type Online struct {
	mu      sync.RWMutex
	entries map[string]*models.Entry
}

func NewOnline() *Online {
	return &Online{entries: make(map[string]*models.Entry)}
}

// Get returns the cached entry for a player, if online.
func (o *Online) Get(playerID string) (*models.Entry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[playerID]
	return e, ok
}

func (o *Online) Contains(playerID string) bool {
	_, ok := o.Get(playerID)
	return ok
}

// Put stores the entry, replacing any previous one.
func (o *Online) Put(playerID string, e *models.Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[playerID] = e
}

// Remove evicts the player and returns the evicted entry.
func (o *Online) Remove(playerID string) (*models.Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[playerID]
	delete(o.entries, playerID)
	return e, ok
}

func (o *Online) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries)
}

// Entries returns a shallow copy of the map; the entries themselves are shared.
func (o *Online) Entries() map[string]*models.Entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]*models.Entry, len(o.entries))
	for id, e := range o.entries {
		out[id] = e
	}
	return out
}

// Snapshots copies every cached entry for persistence.
func (o *Online) Snapshots() []models.Snapshot {
	entries := o.Entries()
	out := make([]models.Snapshot, 0, len(entries))
	for id, e := range entries {
		s := e.Snapshot()
		s.ID = id
		out = append(out, s)
	}
	return out
}

// Clear evicts everything.
func (o *Online) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	clear(o.entries)
}
