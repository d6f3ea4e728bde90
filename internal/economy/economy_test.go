package economy

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/currency-ledger/internal/cache"
	"github.com/sheikh-saqib/currency-ledger/internal/ledger"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
	"github.com/sheikh-saqib/currency-ledger/internal/models/events"
	"github.com/sheikh-saqib/currency-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/currency-ledger/internal/workers"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BalanceChanged
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == events.BalanceChangedTopic {
		p.events = append(p.events, event.(events.BalanceChanged))
	}
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fixture struct {
	eco   *Facade
	store *memory.MemoryLedgerStore
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	currencies := models.MustCurrencies(
		models.Currency{ID: "money", Symbol: "$", Format: "%symbol%%amount%", AutoGrant: true, DefaultAmount: d(100), Leaderboard: true, Default: true},
		models.Currency{ID: "gems", Name: "Gems"},
	)
	online := cache.NewOnline()
	store := memory.NewMemoryLedgerStore(currencies, online)
	m := ledger.NewManager(store, online, workers.NewPool(4, nil), currencies)
	pub := &recordingPublisher{}
	eco := New(m, WithPublisher(pub), WithClock(func() time.Time { return time.Unix(0, 0) }))
	t.Cleanup(func() {
		_ = eco.Close()
		_ = m.Shutdown(context.Background())
	})
	return &fixture{eco: eco, store: store, pub: pub}
}

// online connects a new player, which auto-grants 100 money.
func (fx *fixture) online(t *testing.T) string {
	t.Helper()
	id := uuid.NewString()
	_, err := fx.eco.Manager().Connect(context.Background(), id, "").Await(context.Background())
	require.NoError(t, err)
	return id
}

// drain flushes every online entry to the store.
func (fx *fixture) drain(t *testing.T) {
	t.Helper()
	_, err := fx.eco.Manager().SaveAll(context.Background()).Await(context.Background())
	require.NoError(t, err)
}

func TestBalanceOfUnsetCurrencyIsZero(t *testing.T) {
	fx := newFixture(t)
	id := fx.online(t)

	r := fx.eco.Balance(context.Background(), id, "gems")
	assert.Equal(t, Success, r.Type)
	assert.True(t, r.Balance.IsZero())
}

func TestDepositThenWithdrawRestoresBalance(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := fx.online(t)

	r := fx.eco.Deposit(ctx, id, "money", decimal.RequireFromString("12.345"))
	require.Equal(t, Success, r.Type)
	assert.True(t, r.Balance.Equal(decimal.RequireFromString("112.345")))

	r = fx.eco.Withdraw(ctx, id, "money", decimal.RequireFromString("12.345"))
	require.Equal(t, Success, r.Type)
	assert.True(t, r.Balance.Equal(d(100)))
}

func TestWithdrawInsufficientFundsLeavesBalance(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := fx.online(t)

	r := fx.eco.Withdraw(ctx, id, "money", d(150))
	assert.Equal(t, InsufficientFunds, r.Type)
	assert.True(t, r.Balance.Equal(d(100)))
	assert.True(t, r.Amount.IsZero())

	assert.True(t, fx.eco.Balance(ctx, id, "money").Balance.Equal(d(100)))
}

func TestValidationOrder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := fx.online(t)
	offline := uuid.NewString()

	assert.Equal(t, PlayerNotOnline, fx.eco.Deposit(ctx, offline, "nope", d(-1)).Type)
	assert.Equal(t, InvalidCurrency, fx.eco.Deposit(ctx, id, "nope", d(-1)).Type)
	assert.Equal(t, InvalidAmount, fx.eco.Deposit(ctx, id, "money", d(-1)).Type)
	assert.Equal(t, InvalidAmount, fx.eco.Withdraw(ctx, id, "money", decimal.Zero).Type)
	assert.Equal(t, InsufficientFunds, fx.eco.Withdraw(ctx, id, "money", d(101)).Type)
}

func TestSetBalance(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := fx.online(t)

	assert.Equal(t, InvalidAmount, fx.eco.SetBalance(ctx, id, "money", d(-1)).Type)

	r := fx.eco.SetBalance(ctx, id, "money", decimal.Zero)
	assert.Equal(t, Success, r.Type)
	assert.True(t, r.Balance.IsZero())

	r = fx.eco.SetBalance(ctx, id, "gems", d(42))
	assert.True(t, r.Amount.Equal(d(42)))
	assert.True(t, r.Balance.Equal(d(42)))
}

func TestHas(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := fx.online(t)

	assert.Equal(t, Success, fx.eco.Has(ctx, id, "money", d(100)).Type)
	assert.Equal(t, InsufficientFunds, fx.eco.Has(ctx, id, "money", d(101)).Type)
	assert.Equal(t, InvalidAmount, fx.eco.Has(ctx, id, "money", d(-5)).Type)
}

func TestTransferBetweenOnlinePlayers(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	a, b := fx.online(t), fx.online(t)
	require.Equal(t, Success, fx.eco.SetBalance(ctx, b, "money", decimal.Zero).Type)

	r := fx.eco.Transfer(ctx, a, b, "money", d(30))
	require.Equal(t, Success, r.Type)
	assert.True(t, r.Amount.Equal(d(30)))
	assert.True(t, r.Balance.Equal(d(70)))

	assert.True(t, fx.eco.Balance(ctx, a, "money").Balance.Equal(d(70)))
	assert.True(t, fx.eco.Balance(ctx, b, "money").Balance.Equal(d(30)))
}

func TestTransferInsufficientFundsChangesNothing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	a, b := fx.online(t), fx.online(t)

	r := fx.eco.Transfer(ctx, a, b, "money", d(500))
	assert.Equal(t, InsufficientFunds, r.Type)
	assert.True(t, fx.eco.Balance(ctx, a, "money").Balance.Equal(d(100)))
	assert.True(t, fx.eco.Balance(ctx, b, "money").Balance.Equal(d(100)))
}

func TestTransferRequiresBothOnline(t *testing.T) {
	fx := newFixture(t)
	a := fx.online(t)

	r := fx.eco.Transfer(context.Background(), a, uuid.NewString(), "money", d(1))
	assert.Equal(t, PlayerNotOnline, r.Type)
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	a := fx.online(t)

	r := fx.eco.Transfer(ctx, a, a, "money", d(40))
	require.Equal(t, Success, r.Type)
	assert.True(t, r.Balance.Equal(d(100)))
}

func TestConcurrentDepositsLoseNoUpdates(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := fx.online(t)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				fx.eco.Deposit(ctx, id, "gems", d(1))
				return
			}
			Await(ctx, fx.eco.DepositAsync(ctx, id, "gems", d(1)))
		}()
	}
	wg.Wait()
	fx.drain(t)

	assert.True(t, fx.eco.Balance(ctx, id, "gems").Balance.Equal(d(200)))
}

func TestSyncOperationsRejectOfflinePlayer(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := uuid.NewString()

	assert.Equal(t, PlayerNotOnline, fx.eco.Balance(ctx, id, "money").Type)
	assert.Equal(t, PlayerNotOnline, fx.eco.Has(ctx, id, "money", d(1)).Type)
	assert.Equal(t, PlayerNotOnline, fx.eco.Deposit(ctx, id, "money", d(1)).Type)
	assert.Equal(t, PlayerNotOnline, fx.eco.Withdraw(ctx, id, "money", d(1)).Type)
	assert.Equal(t, PlayerNotOnline, fx.eco.SetBalance(ctx, id, "money", d(1)).Type)
}

func TestOfflineDepositIsPersistedWithoutCaching(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := uuid.NewString()

	r := Await(ctx, fx.eco.DepositAsync(ctx, id, "gems", d(5)))
	require.Equal(t, Success, r.Type)
	assert.True(t, r.Balance.Equal(d(5)))
	assert.False(t, fx.eco.IsOnline(id))

	stored, err := fx.store.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Balance("gems").Equal(d(5)))

	r = Await(ctx, fx.eco.WithdrawAsync(ctx, id, "gems", d(6)))
	assert.Equal(t, InsufficientFunds, r.Type)
	assert.True(t, r.Balance.Equal(d(5)))

	r = Await(ctx, fx.eco.BalanceAsync(ctx, id, "gems"))
	assert.True(t, r.Balance.Equal(d(5)))
}

func TestOfflineAsyncRejectsMalformedID(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	r := Await(ctx, fx.eco.DepositAsync(ctx, "not-a-uuid", "money", d(1)))
	assert.Equal(t, AccountNotFound, r.Type)

	r = Await(ctx, fx.eco.DepositAsync(ctx, "not-a-uuid", "nope", d(1)))
	assert.Equal(t, InvalidCurrency, r.Type)
}

func TestOnlineAsyncDepositSchedulesSave(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := fx.online(t)

	r := Await(ctx, fx.eco.DepositAsync(ctx, id, "money", d(1)))
	require.Equal(t, Success, r.Type)
	fx.drain(t)

	stored, err := fx.store.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Balance("money").Equal(d(101)))
}

func TestTransferAsyncBetweenOfflinePlayers(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	a, b := uuid.NewString(), uuid.NewString()
	require.Equal(t, Success, Await(ctx, fx.eco.SetBalanceAsync(ctx, a, "money", d(100))).Type)

	r := Await(ctx, fx.eco.TransferAsync(ctx, a, b, "money", d(30)))
	require.Equal(t, Success, r.Type)
	assert.True(t, r.Balance.Equal(d(70)))

	sa, err := fx.store.Load(ctx, a)
	require.NoError(t, err)
	sb, err := fx.store.Load(ctx, b)
	require.NoError(t, err)
	assert.True(t, sa.Balance("money").Equal(d(70)))
	assert.True(t, sb.Balance("money").Equal(d(30)))
}

func TestTransferAsyncMixedOnlineOffline(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	a, b := fx.online(t), uuid.NewString()

	r := Await(ctx, fx.eco.TransferAsync(ctx, a, b, "money", d(25)))
	require.Equal(t, Success, r.Type)
	fx.drain(t)

	assert.True(t, fx.eco.Balance(ctx, a, "money").Balance.Equal(d(75)))
	sb, err := fx.store.Load(ctx, b)
	require.NoError(t, err)
	assert.True(t, sb.Balance("money").Equal(d(25)))
	assert.False(t, fx.eco.IsOnline(b))
}

func TestCreateAccountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	id := uuid.NewString()

	exists, err := fx.eco.HasAccount(ctx, id).Await(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	r := Await(ctx, fx.eco.CreateAccount(ctx, id, "Steve"))
	require.Equal(t, Success, r.Type)
	assert.True(t, r.Balance.Equal(d(100)))

	require.Equal(t, Success, Await(ctx, fx.eco.WithdrawAsync(ctx, id, "money", d(40))).Type)

	r = Await(ctx, fx.eco.CreateAccount(ctx, id, "Steve"))
	require.Equal(t, Success, r.Type)
	assert.True(t, r.Balance.Equal(d(60)))

	exists, err = fx.eco.HasAccount(ctx, id).Await(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	byName, err := fx.eco.Manager().LoadByName(ctx, "STEVE")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID())
}

func TestFormat(t *testing.T) {
	fx := newFixture(t)

	assert.Equal(t, "$12.5", fx.eco.Format(decimal.RequireFromString("12.5"), "money"))
	assert.Equal(t, "3 tokens", fx.eco.Format(d(3), "tokens"))
	assert.Equal(t, "Gems", fx.eco.CurrencyDisplayName("gems"))
	assert.Equal(t, "tokens", fx.eco.CurrencyDisplayName("tokens"))
	assert.Equal(t, "money", fx.eco.DefaultCurrency())
}

func TestMutationsPublishEvents(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	a, b := fx.online(t), fx.online(t)

	fx.eco.Deposit(ctx, a, "gems", d(3))
	fx.eco.Withdraw(ctx, a, "money", d(500)) // insufficient, no event
	fx.eco.Transfer(ctx, a, b, "money", d(10))
	require.NoError(t, fx.eco.Close())

	fx.pub.mu.Lock()
	defer fx.pub.mu.Unlock()
	assert.True(t, fx.pub.closed)
	require.Len(t, fx.pub.events, 3)

	reasons := map[string]events.BalanceChanged{}
	for _, e := range fx.pub.events {
		reasons[e.Reason] = e
	}
	assert.True(t, reasons[ReasonDeposit].NewAmount.Equal(d(3)))
	assert.Equal(t, a, reasons[ReasonTransferOut].PlayerID)
	assert.True(t, reasons[ReasonTransferOut].NewAmount.Equal(d(90)))
	assert.Equal(t, b, reasons[ReasonTransferIn].PlayerID)
	assert.True(t, reasons[ReasonTransferIn].NewAmount.Equal(d(110)))
	assert.Equal(t, time.Unix(0, 0).UTC(), reasons[ReasonDeposit].OccurredAt)
}

func TestAwaitMapsPoolClosed(t *testing.T) {
	r := Await(context.Background(), workers.Resolved(Response{}, workers.ErrPoolClosed))
	assert.Equal(t, Failure, r.Type)
}

func TestResponseTypeText(t *testing.T) {
	assert.Equal(t, "INSUFFICIENT_FUNDS", InsufficientFunds.String())
	assert.Equal(t, "ResponseType(99)", ResponseType(99).String())

	data, err := json.Marshal(Response{Type: PlayerNotOnline, Amount: decimal.Zero, Balance: decimal.Zero})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"PLAYER_NOT_ONLINE"`)
}

func TestRegistry(t *testing.T) {
	fx := newFixture(t)
	other := newFixture(t)
	t.Cleanup(func() { Unregister(fx.eco); Unregister(other.eco) })

	Register(fx.eco)
	got, err := Current()
	require.NoError(t, err)
	assert.Same(t, fx.eco, got)

	assert.False(t, Unregister(other.eco))
	assert.True(t, IsRegistered())

	assert.True(t, Unregister(fx.eco))
	_, err = Current()
	assert.ErrorIs(t, err, ErrNotRegistered)
}
