package models

import (
	"maps"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every stored balance carries.
const Scale = 4

// Normalize rounds an amount to the ledger scale.
func Normalize(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale)
}

// Entry holds one player's balances, keyed by currency id.
// It is safe for concurrent use; read-modify-write sequences that span
// several calls still need the caller to hold the player's key lock.
type Entry struct {
	mu          sync.RWMutex
	id          string                     // player uuid, empty until known
	displayName string                     // lower-cased player name, optional
	balances    map[string]decimal.Decimal // currency id -> amount at Scale
}

// NewEntry creates an empty entry for the given player id.
func NewEntry(id string) *Entry {
	return &Entry{
		id:       id,
		balances: make(map[string]decimal.Decimal),
	}
}

// NewEntryWith creates an entry pre-populated with every currency id at zero.
func NewEntryWith(id string, currencyIDs []string) *Entry {
	e := NewEntry(id)
	for _, c := range currencyIDs {
		e.balances[c] = decimal.Zero
	}
	return e
}

func (e *Entry) ID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.id
}

func (e *Entry) SetID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.id = id
}

func (e *Entry) DisplayName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.displayName
}

func (e *Entry) SetDisplayName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.displayName = name
}

// EnsureCurrency adds the currency at zero if it is not present yet.
func (e *Entry) EnsureCurrency(currency string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.balances[currency]; !ok {
		e.balances[currency] = decimal.Zero
	}
}

// HasCurrency reports whether the currency was ever set on this entry.
func (e *Entry) HasCurrency(currency string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.balances[currency]
	return ok
}

// Balance returns the balance for a currency; unknown currencies read as zero.
func (e *Entry) Balance(currency string) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances[currency]
}

// Set stores the amount, rounded to Scale, and returns the stored value.
func (e *Entry) Set(currency string, amount decimal.Decimal) decimal.Decimal {
	amount = Normalize(amount)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[currency] = amount
	return amount
}

// Add adds delta to the balance and returns the new value.
func (e *Entry) Add(currency string, delta decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := Normalize(e.balances[currency].Add(delta))
	e.balances[currency] = next
	return next
}

// Remove deletes the currency from the entry.
func (e *Entry) Remove(currency string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.balances, currency)
}

// Balances returns a copy of the balance map.
func (e *Entry) Balances() map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.balances)
}

// Currencies returns the currency ids present on the entry, sorted.
func (e *Entry) Currencies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.balances))
	for id := range e.balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot is an immutable copy of an entry used by persistence.
type Snapshot struct {
	ID          string
	DisplayName string
	Balances    map[string]decimal.Decimal
}

// Snapshot copies the entry state under a single read lock.
func (e *Entry) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		ID:          e.id,
		DisplayName: e.displayName,
		Balances:    maps.Clone(e.balances),
	}
}

// FromSnapshot rebuilds an entry from persisted state.
func FromSnapshot(s Snapshot) *Entry {
	e := NewEntry(s.ID)
	e.displayName = s.DisplayName
	for c, amount := range s.Balances {
		e.balances[c] = Normalize(amount)
	}
	return e
}

// Ranking is one leaderboard row.
type Ranking struct {
	PlayerID string          `json:"player_id"`
	Amount   decimal.Decimal `json:"amount"`
}
