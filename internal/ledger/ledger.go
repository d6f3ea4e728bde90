// Package ledger keeps the online cache and the backend in step.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/currency-ledger/internal/cache"
	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
	"github.com/sheikh-saqib/currency-ledger/internal/keylock"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
	"github.com/sheikh-saqib/currency-ledger/internal/workers"
)

// DefaultLeaderboardLimit is how many rows a leaderboard refresh asks for.
const DefaultLeaderboardLimit = 1000

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for background failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithLeaderboardTTL expires cached leaderboards after d. Zero keeps them
// until the next explicit refresh.
func WithLeaderboardTTL(d time.Duration) Option {
	return func(m *Manager) { m.leaderboardTTL = d }
}

// WithIOTimeout bounds every backend call made by the manager.
func WithIOTimeout(d time.Duration) Option {
	return func(m *Manager) { m.ioTimeout = d }
}

// Manager orchestrates loads and saves between the online cache and the
// backend. All backend I/O runs on the worker pool.
type Manager struct {
	store  interfaces.LedgerStore
	online *cache.Online
	pool   *workers.Pool
	logger *slog.Logger

	currMu     sync.RWMutex // protects currencies
	currencies *models.Currencies

	entityLocks  *keylock.Locks // read-modify-write on one player's balances
	persistLocks *keylock.Locks // orders saves for one player

	leaderboardTTL time.Duration
	leaderboards   *ttlcache.Cache[string, []models.Ranking]
	ioTimeout      time.Duration
}

// NewManager wires a manager around an initialized store.
func NewManager(store interfaces.LedgerStore, online *cache.Online, pool *workers.Pool, currencies *models.Currencies, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		online:       online,
		pool:         pool,
		logger:       slog.Default(),
		currencies:   currencies,
		entityLocks:  keylock.New(),
		persistLocks: keylock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	ttl := ttlcache.NoTTL
	if m.leaderboardTTL > 0 {
		ttl = m.leaderboardTTL
	}
	m.leaderboards = ttlcache.New(
		ttlcache.WithTTL[string, []models.Ranking](ttl),
	)
	return m
}

func (m *Manager) Store() interfaces.LedgerStore { return m.store }
func (m *Manager) Online() *cache.Online         { return m.online }
func (m *Manager) Pool() *workers.Pool           { return m.pool }
func (m *Manager) Logger() *slog.Logger          { return m.logger }

// Currencies returns the current currency registry.
func (m *Manager) Currencies() *models.Currencies {
	m.currMu.RLock()
	defer m.currMu.RUnlock()
	return m.currencies
}

// LockEntities serializes balance mutations on the given players. Keys are
// acquired in sorted order.
func (m *Manager) LockEntities(playerIDs ...string) (unlock func()) {
	return m.entityLocks.LockAll(playerIDs...)
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.ioTimeout > 0 {
		return context.WithTimeout(ctx, m.ioTimeout)
	}
	return context.WithCancel(ctx)
}

// load returns the cached entry, or reads it from the backend and caches it.
// A failed read is not cached so that a later save cannot overwrite real data
// with the zero entry. isNew reports that the backend had no record.
func (m *Manager) load(ctx context.Context, playerID string) (e *models.Entry, isNew bool, err error) {
	if e, ok := m.online.Get(playerID); ok {
		return e, false, nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	exists, err := m.store.Exists(ctx, playerID)
	if err != nil {
		m.logger.Warn("failed to check player record", "player", playerID, "error", err)
		return models.NewEntryWith(playerID, m.Currencies().IDs()), false, err
	}
	e, err = m.store.Load(ctx, playerID)
	if err != nil {
		m.logger.Warn("failed to load player", "player", playerID, "error", err)
		return e, false, err
	}
	if e.ID() == "" {
		e.SetID(playerID)
	}
	m.online.Put(playerID, e)
	return e, !exists, nil
}

// LoadAsync loads a player and places the entry in the online cache.
func (m *Manager) LoadAsync(ctx context.Context, playerID string) *workers.Future[*models.Entry] {
	return workers.Submit(m.pool, ctx, func(ctx context.Context) (*models.Entry, error) {
		unlock := m.entityLocks.Lock(playerID)
		defer unlock()
		e, _, err := m.load(ctx, playerID)
		return e, err
	})
}

// Fetch returns the live entry for an online player, or a detached copy read
// from the backend for an offline one. It never touches the online cache and
// blocks on backend I/O, so run it on the pool.
func (m *Manager) Fetch(ctx context.Context, playerID string) (*models.Entry, error) {
	if e, ok := m.online.Get(playerID); ok {
		return e, nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	e, err := m.store.Load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if e.ID() == "" {
		e.SetID(playerID)
	}
	return e, nil
}

// Exists reports whether a player is online or has a persisted record.
func (m *Manager) Exists(ctx context.Context, playerID string) (bool, error) {
	if m.online.Contains(playerID) {
		return true, nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.store.Exists(ctx, playerID)
}

// LoadByName resolves an offline player by display name.
func (m *Manager) LoadByName(ctx context.Context, name string) (*models.Entry, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.store.LoadByName(ctx, strings.ToLower(name))
}

// Persist writes an entry synchronously. Saves for one player are ordered:
// the state is read inside the per-player persist lock.
func (m *Manager) Persist(ctx context.Context, playerID string, e *models.Entry) error {
	unlock := m.persistLocks.Lock(playerID)
	defer unlock()
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	if err := m.store.Save(ctx, playerID, e); err != nil {
		return fmt.Errorf("save player %s: %w", playerID, err)
	}
	return nil
}

// SavePlayer schedules a save of the cached entry. The save does not inherit
// the caller's cancellation and is skipped when the player already left.
func (m *Manager) SavePlayer(ctx context.Context, playerID string) *workers.Future[struct{}] {
	ctx = context.WithoutCancel(ctx)
	return workers.Go(m.pool, ctx, func(ctx context.Context) error {
		e, ok := m.online.Get(playerID)
		if !ok {
			return nil
		}
		err := m.Persist(ctx, playerID, e)
		if err != nil {
			m.logger.Error("scheduled save failed", "player", playerID, "error", err)
		}
		return err
	})
}

// SaveAll flushes every cached entry. It holds the persist locks of the
// cached players so the batch cannot land after a newer single save.
func (m *Manager) SaveAll(ctx context.Context) *workers.Future[struct{}] {
	return workers.Go(m.pool, ctx, func(ctx context.Context) error {
		ids := make([]string, 0, m.online.Len())
		for id := range m.online.Entries() {
			ids = append(ids, id)
		}
		unlock := m.persistLocks.LockAll(ids...)
		defer unlock()

		ctx, cancel := m.withTimeout(ctx)
		defer cancel()
		return m.store.SaveAll(ctx)
	})
}

// TopBalances queries the backend and refreshes the cached leaderboard.
func (m *Manager) TopBalances(ctx context.Context, currencyID string, limit int) *workers.Future[[]models.Ranking] {
	return workers.Submit(m.pool, ctx, func(ctx context.Context) ([]models.Ranking, error) {
		ctx, cancel := m.withTimeout(ctx)
		defer cancel()
		rows, err := m.store.TopBalances(ctx, currencyID, limit)
		if err != nil {
			return nil, err
		}
		m.leaderboards.Set(currencyID, rows, ttlcache.DefaultTTL)
		return rows, nil
	})
}

// CachedLeaderboard returns the last refreshed leaderboard for a currency.
func (m *Manager) CachedLeaderboard(currencyID string) ([]models.Ranking, bool) {
	item := m.leaderboards.Get(currencyID)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// AddCurrency registers a currency at runtime and extends the backend.
func (m *Manager) AddCurrency(ctx context.Context, c models.Currency) *workers.Future[struct{}] {
	return workers.Go(m.pool, ctx, func(ctx context.Context) error {
		m.currMu.Lock()
		next, err := m.currencies.With(c)
		if err != nil {
			m.currMu.Unlock()
			return err
		}
		m.currencies = next
		m.currMu.Unlock()

		ctx, cancel := m.withTimeout(ctx)
		defer cancel()
		if err := m.store.AddCurrency(ctx, c.ID); err != nil {
			return fmt.Errorf("add currency %s: %w", c.ID, err)
		}
		for _, e := range m.online.Entries() {
			e.EnsureCurrency(c.ID)
		}
		return nil
	})
}

// RemoveCurrency retires a currency. With deleteData its stored values are
// purged from the backend and from every online entry.
func (m *Manager) RemoveCurrency(ctx context.Context, currencyID string, deleteData bool) *workers.Future[struct{}] {
	return workers.Go(m.pool, ctx, func(ctx context.Context) error {
		m.currMu.Lock()
		m.currencies = m.currencies.Without(currencyID)
		m.currMu.Unlock()
		m.leaderboards.Delete(currencyID)

		ctx, cancel := m.withTimeout(ctx)
		defer cancel()
		if err := m.store.RemoveCurrency(ctx, currencyID, deleteData); err != nil {
			return fmt.Errorf("remove currency %s: %w", currencyID, err)
		}
		if deleteData {
			for _, e := range m.online.Entries() {
				e.Remove(currencyID)
			}
		}
		return nil
	})
}

// Balance reads an online player's balance. ok is false when offline.
func (m *Manager) Balance(playerID, currencyID string) (amount decimal.Decimal, ok bool) {
	e, ok := m.online.Get(playerID)
	if !ok {
		return decimal.Zero, false
	}
	return e.Balance(currencyID), true
}

// SetBalance overwrites an online player's balance.
func (m *Manager) SetBalance(playerID, currencyID string, amount decimal.Decimal) bool {
	e, ok := m.online.Get(playerID)
	if !ok {
		return false
	}
	e.Set(currencyID, amount)
	return true
}

// AddBalance adds delta to an online player's balance and returns the result.
func (m *Manager) AddBalance(playerID, currencyID string, delta decimal.Decimal) (decimal.Decimal, bool) {
	e, ok := m.online.Get(playerID)
	if !ok {
		return decimal.Zero, false
	}
	return e.Add(currencyID, delta), true
}

// HasBalance reports whether an online player holds at least amount.
func (m *Manager) HasBalance(playerID, currencyID string, amount decimal.Decimal) bool {
	e, ok := m.online.Get(playerID)
	if !ok {
		return false
	}
	return e.Balance(currencyID).GreaterThanOrEqual(amount)
}

// Connect loads a player into the online cache, records the lower-cased
// display name and applies auto-grant defaults. A brand new player receives
// every auto-grant default; a returning one only those currencies it lacks.
// When the backend read fails the future carries the error and nothing is
// cached, so the player stays offline until a later Connect succeeds.
func (m *Manager) Connect(ctx context.Context, playerID, name string) *workers.Future[*models.Entry] {
	return workers.Submit(m.pool, ctx, func(ctx context.Context) (*models.Entry, error) {
		unlock := m.entityLocks.Lock(playerID)
		defer unlock()

		e, isNew, err := m.load(ctx, playerID)
		if err != nil {
			return nil, err
		}
		if name != "" {
			e.SetDisplayName(strings.ToLower(name))
		}
		for _, c := range m.Currencies().All() {
			if !c.AutoGrant {
				continue
			}
			if isNew || !e.HasCurrency(c.ID) {
				e.Set(c.ID, c.DefaultAmount)
				m.logger.Info("auto-granted currency", "player", playerID, "currency", c.ID, "amount", c.DefaultAmount)
			}
		}
		return e, nil
	})
}

// Disconnect saves the player and evicts it from the cache whatever the save
// outcome was. The save error, if any, is returned.
func (m *Manager) Disconnect(ctx context.Context, playerID string) *workers.Future[struct{}] {
	ctx = context.WithoutCancel(ctx)
	return workers.Go(m.pool, ctx, func(ctx context.Context) error {
		unlock := m.entityLocks.Lock(playerID)
		defer unlock()

		e, ok := m.online.Get(playerID)
		if !ok {
			return nil
		}
		err := m.Persist(ctx, playerID, e)
		m.online.Remove(playerID)
		if err != nil {
			m.logger.Error("failed to save player on disconnect", "player", playerID, "error", err)
		}
		return err
	})
}

// Shutdown flushes the cache, drains the pool and unloads the backend.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.pool.Close()
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	err := m.store.Unload(ctx)
	m.online.Clear()
	m.leaderboards.DeleteAll()
	return err
}
