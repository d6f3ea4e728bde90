package sqlstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sheikh-saqib/currency-ledger/internal/models"
)

const (
	primaryKeyColumn = "player_uuid"
	nameColumn       = "player_name"
	columnPrefix     = "currency_"
)

var ErrColumnCollision = errors.New("sqlstore: currency column collision")

// ColumnName derives the storage column for a currency id.
func ColumnName(currencyID string) string {
	return columnPrefix + models.StorageKey(currencyID)
}

// schema tracks the currency columns present in the table and the currencies
// the store reads and writes. A retired currency leaves tracked but its
// column stays known until it is dropped.
type schema struct {
	mu      sync.RWMutex
	known   mapset.Set[string] // columns present in the table
	tracked mapset.Set[string] // currency ids read and written
	owner   map[string]string  // column -> currency id, "" when discovered
}

func newSchema() *schema {
	return &schema{
		known:   mapset.NewThreadUnsafeSet[string](),
		tracked: mapset.NewThreadUnsafeSet[string](),
		owner:   make(map[string]string),
	}
}

// check reports a collision without registering the currency. A column left
// behind by a retired currency still belongs to it.
func (s *schema) check(currencyID string) (string, error) {
	col := ColumnName(currencyID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.known.Contains(col) {
		return col, nil
	}
	if other := s.owner[col]; other != "" && other != currencyID {
		return "", fmt.Errorf("%w: %q and %q both map to %s", ErrColumnCollision, other, currencyID, col)
	}
	return col, nil
}

func (s *schema) add(currencyID string) {
	col := ColumnName(currencyID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known.Add(col)
	s.tracked.Add(currencyID)
	s.owner[col] = currencyID
}

// adopt records a currency column found in the table.
func (s *schema) adopt(col string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known.Add(col) {
		s.owner[col] = ""
	}
}

// retire stops tracking the currency; its column and values stay.
func (s *schema) retire(currencyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked.Remove(currencyID)
}

// drop forgets the column after it was removed from the table.
func (s *schema) drop(currencyID string) {
	col := ColumnName(currencyID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked.Remove(currencyID)
	s.known.Remove(col)
	delete(s.owner, col)
}

func (s *schema) columnFor(currencyID string) (string, bool) {
	col := ColumnName(currencyID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return col, s.tracked.Contains(currencyID) && s.known.Contains(col)
}

// currencies returns the tracked currency ids sorted, giving a stable column order.
func (s *schema) currencies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.tracked.ToSlice()
	sort.Strings(ids)
	return ids
}

// retained returns the sorted columns that exist but belong to no tracked currency.
func (s *schema) retained() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cols []string
	for _, col := range s.known.ToSlice() {
		if id := s.owner[col]; id == "" || !s.tracked.Contains(id) {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)
	return cols
}
