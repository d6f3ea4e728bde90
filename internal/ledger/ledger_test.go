package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/currency-ledger/internal/cache"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
	"github.com/sheikh-saqib/currency-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/currency-ledger/internal/workers"
)

var testCurrencies = models.MustCurrencies(
	models.Currency{ID: "money", AutoGrant: true, DefaultAmount: decimal.NewFromInt(100), Leaderboard: true},
	models.Currency{ID: "gems"},
)

func newManager(t *testing.T) (*Manager, *memory.MemoryLedgerStore) {
	t.Helper()
	online := cache.NewOnline()
	store := memory.NewMemoryLedgerStore(testCurrencies, online)
	m := NewManager(store, online, workers.NewPool(2, nil), testCurrencies)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, store
}

func await[T any](t *testing.T, f *workers.Future[T]) T {
	t.Helper()
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	return v
}

func TestConnectAutoGrantsNewPlayer(t *testing.T) {
	m, _ := newManager(t)
	id := uuid.NewString()

	e := await(t, m.Connect(context.Background(), id, "Steve"))
	assert.True(t, e.Balance("money").Equal(decimal.NewFromInt(100)))
	assert.True(t, e.Balance("gems").IsZero())
	assert.Equal(t, "steve", e.DisplayName())
	assert.True(t, m.Online().Contains(id))
}

func TestConnectKeepsReturningPlayerBalance(t *testing.T) {
	m, store := newManager(t)
	id := uuid.NewString()
	saved := models.NewEntryWith(id, testCurrencies.IDs())
	saved.Set("money", decimal.NewFromInt(7))
	require.NoError(t, store.Save(context.Background(), id, saved))

	e := await(t, m.Connect(context.Background(), id, "alex"))
	assert.True(t, e.Balance("money").Equal(decimal.NewFromInt(7)))
}

func TestConnectGrantsMissingCurrencyToReturningPlayer(t *testing.T) {
	m, store := newManager(t)
	id := uuid.NewString()
	saved := models.NewEntry(id)
	saved.Set("gems", decimal.NewFromInt(1))
	require.NoError(t, store.Save(context.Background(), id, saved))

	// The stored record predates "money".
	e := await(t, m.Connect(context.Background(), id, ""))
	assert.True(t, e.Balance("money").Equal(decimal.NewFromInt(100)))
	assert.True(t, e.Balance("gems").Equal(decimal.NewFromInt(1)))
}

func TestDisconnectSavesAndEvicts(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	id := uuid.NewString()

	await(t, m.Connect(ctx, id, "steve"))
	_, ok := m.AddBalance(id, "gems", decimal.NewFromInt(5))
	require.True(t, ok)

	await(t, m.Disconnect(ctx, id))
	assert.False(t, m.Online().Contains(id))

	persisted, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, persisted.Balance("gems").Equal(decimal.NewFromInt(5)))
}

func TestDisconnectEvictsEvenWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	id := uuid.NewString()
	await(t, m.Connect(ctx, id, ""))

	store.FailSaves = true
	_, err := m.Disconnect(ctx, id).Await(ctx)
	assert.Error(t, err)
	assert.False(t, m.Online().Contains(id))
	store.FailSaves = false
}

func TestLoadAsyncPopulatesCacheButFetchDoesNot(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	a, b := uuid.NewString(), uuid.NewString()

	e, err := m.Fetch(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, a, e.ID())
	assert.False(t, m.Online().Contains(a))

	await(t, m.LoadAsync(ctx, b))
	assert.True(t, m.Online().Contains(b))
}

func TestOnlineHelpersNeverTouchBackend(t *testing.T) {
	m, store := newManager(t)
	id := uuid.NewString()

	_, ok := m.Balance(id, "money")
	assert.False(t, ok)
	assert.False(t, m.SetBalance(id, "money", decimal.NewFromInt(1)))
	assert.False(t, m.HasBalance(id, "money", decimal.Zero))

	m.Online().Put(id, models.NewEntry(id))
	require.True(t, m.SetBalance(id, "money", decimal.NewFromInt(10)))
	next, ok := m.AddBalance(id, "money", decimal.NewFromInt(-3))
	require.True(t, ok)
	assert.True(t, next.Equal(decimal.NewFromInt(7)))
	assert.True(t, m.HasBalance(id, "money", decimal.NewFromInt(7)))
	assert.False(t, m.HasBalance(id, "money", decimal.NewFromInt(8)))

	exists, err := store.Exists(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSavePlayerSkipsEvictedPlayer(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	id := uuid.NewString()

	await(t, m.SavePlayer(ctx, id))
	exists, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTopBalancesRefreshesCache(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)

	_, ok := m.CachedLeaderboard("money")
	assert.False(t, ok)

	for id, amount := range map[string]int64{"A": 100, "B": 50, "C": 0, "D": 75} {
		e := models.NewEntry(id)
		e.Set("money", decimal.NewFromInt(amount))
		require.NoError(t, store.Save(ctx, id, e))
	}

	rows := await(t, m.TopBalances(ctx, "money", DefaultLeaderboardLimit))
	require.Len(t, rows, 3)

	cached, ok := m.CachedLeaderboard("money")
	require.True(t, ok)
	assert.Equal(t, rows, cached)
}

func TestAddAndRemoveCurrency(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	id := uuid.NewString()
	e := await(t, m.Connect(ctx, id, ""))

	await(t, m.AddCurrency(ctx, models.Currency{ID: "tokens"}))
	assert.True(t, m.Currencies().Exists("tokens"))
	assert.True(t, e.HasCurrency("tokens"))

	_, err := m.AddCurrency(ctx, models.Currency{ID: "tokens"}).Await(ctx)
	assert.ErrorIs(t, err, models.ErrInvalidCurrency)

	await(t, m.RemoveCurrency(ctx, "tokens", true))
	assert.False(t, m.Currencies().Exists("tokens"))
	assert.False(t, e.HasCurrency("tokens"))
}

func TestSaveAllWaitsForInFlightSave(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	id := uuid.NewString()
	await(t, m.Connect(ctx, id, ""))

	unlock := m.persistLocks.Lock(id)
	fut := m.SaveAll(ctx)
	select {
	case <-fut.Done():
		t.Fatal("SaveAll finished while a save for the player was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	exists, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)

	unlock()
	await(t, fut)
	exists, err = store.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestConnectFailureLeavesPlayerOffline(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	id := uuid.NewString()

	store.FailLoads = true
	_, err := m.Connect(ctx, id, "").Await(ctx)
	assert.Error(t, err)
	assert.False(t, m.Online().Contains(id))

	store.FailLoads = false
	await(t, m.Connect(ctx, id, ""))
	assert.True(t, m.Online().Contains(id))
}
