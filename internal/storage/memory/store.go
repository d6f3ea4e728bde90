package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// It keeps snapshots, never live entries, so callers cannot mutate stored state.
type MemoryLedgerStore struct {
	mu         sync.Mutex                 // protects rows and currencies
	rows       map[string]models.Snapshot // player id -> persisted state
	currencies []string                   // pre-populated on first load
	online     interfaces.OnlineEntries

	// FailSaves and FailLoads make Save or Load return ErrBackendUnavailable.
	// Used by tests.
	FailSaves bool
	FailLoads bool
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore(currencies *models.Currencies, online interfaces.OnlineEntries) *MemoryLedgerStore {
	return &MemoryLedgerStore{
		rows:       make(map[string]models.Snapshot),
		currencies: currencies.IDs(),
		online:     online,
	}
}

func (m *MemoryLedgerStore) Initialize(ctx context.Context) error { return nil }

func (m *MemoryLedgerStore) Load(ctx context.Context, playerID string) (*models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailLoads {
		return models.NewEntryWith(playerID, m.currencies), interfaces.ErrBackendUnavailable
	}
	row, ok := m.rows[playerID]
	if !ok {
		return models.NewEntryWith(playerID, m.currencies), nil
	}
	return models.FromSnapshot(row), nil
}

func (m *MemoryLedgerStore) LoadByName(ctx context.Context, name string) (*models.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.DisplayName != "" && strings.EqualFold(row.DisplayName, name) {
			return models.FromSnapshot(row), nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (m *MemoryLedgerStore) Exists(ctx context.Context, playerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[playerID]
	return ok, nil
}

func (m *MemoryLedgerStore) Save(ctx context.Context, playerID string, entry *models.Entry) error {
	snap := entry.Snapshot()
	snap.ID = playerID

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return interfaces.ErrBackendUnavailable
	}
	m.rows[playerID] = snap
	return nil
}

func (m *MemoryLedgerStore) SaveAll(ctx context.Context) error {
	if m.online == nil {
		return nil
	}
	var errs *multierror.Error
	for id, e := range m.online.Entries() {
		if err := m.Save(ctx, id, e); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (m *MemoryLedgerStore) AddCurrency(ctx context.Context, currencyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.currencies {
		if c == currencyID {
			return nil
		}
	}
	m.currencies = append(m.currencies, currencyID)
	return nil
}

func (m *MemoryLedgerStore) RemoveCurrency(ctx context.Context, currencyID string, deleteData bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.currencies[:0]
	for _, c := range m.currencies {
		if c != currencyID {
			kept = append(kept, c)
		}
	}
	m.currencies = kept

	if deleteData {
		for _, row := range m.rows {
			delete(row.Balances, currencyID)
		}
	}
	return nil
}

func (m *MemoryLedgerStore) TopBalances(ctx context.Context, currencyID string, limit int) ([]models.Ranking, error) {
	m.mu.Lock()
	var out []models.Ranking
	for id, row := range m.rows {
		if amount := row.Balances[currencyID]; amount.IsPositive() {
			out = append(out, models.Ranking{PlayerID: id, Amount: amount})
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedgerStore) Unload(ctx context.Context) error {
	return m.SaveAll(ctx)
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
