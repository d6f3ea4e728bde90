// Package economy is the public balance API. Every mutation has a sync entry
// point that only works for online players and never does I/O, and an async
// one that also reaches offline players through the backend.
package economy

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
	"github.com/sheikh-saqib/currency-ledger/internal/ledger"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
	"github.com/sheikh-saqib/currency-ledger/internal/models/events"
	"github.com/sheikh-saqib/currency-ledger/internal/workers"
)

// Reasons attached to BalanceChanged events.
const (
	ReasonDeposit     = "deposit"
	ReasonWithdraw    = "withdraw"
	ReasonSet         = "set"
	ReasonTransferIn  = "transfer_in"
	ReasonTransferOut = "transfer_out"
)

const publishTimeout = 10 * time.Second

type Option func(*Facade)

func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// WithPublisher emits a BalanceChanged event after every successful mutation.
func WithPublisher(p interfaces.EventPublisher) Option {
	return func(f *Facade) { f.publisher = p }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) { f.now = now }
}

// Facade validates and applies balance operations on top of the manager.
type Facade struct {
	m         *ledger.Manager
	publisher interfaces.EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	publishing sync.WaitGroup
}

func New(m *ledger.Manager, opts ...Option) *Facade {
	f := &Facade{
		m:      m,
		logger: m.Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close waits for in-flight events and closes the publisher.
func (f *Facade) Close() error {
	f.publishing.Wait()
	if f.publisher == nil {
		return nil
	}
	return f.publisher.Close()
}

func (f *Facade) Manager() *ledger.Manager { return f.m }

func (f *Facade) IsOnline(playerID string) bool { return f.m.Online().Contains(playerID) }

func (f *Facade) CurrencyExists(currencyID string) bool {
	return f.m.Currencies().Exists(currencyID)
}

// CurrencyDisplayName returns the configured name, or the id when unknown.
func (f *Facade) CurrencyDisplayName(currencyID string) string {
	if c, ok := f.m.Currencies().Get(currencyID); ok && c.Name != "" {
		return c.Name
	}
	return currencyID
}

func (f *Facade) DefaultCurrency() string { return f.m.Currencies().Default() }

// Format renders amount with the currency template. Unknown currencies fall
// back to "<amount> <id>".
func (f *Facade) Format(amount decimal.Decimal, currencyID string) string {
	if c, ok := f.m.Currencies().Get(currencyID); ok {
		return c.FormatAmount(amount.String())
	}
	return amount.String() + " " + currencyID
}

type amountRule int

const (
	anyAmount amountRule = iota
	nonNegative
	positive
)

func (f *Facade) validate(currencyID string, amount decimal.Decimal, rule amountRule) (Response, bool) {
	if !f.CurrencyExists(currencyID) {
		return invalidCurrency(currencyID), false
	}
	switch rule {
	case positive:
		if !amount.IsPositive() {
			return invalidAmount("amount must be positive"), false
		}
	case nonNegative:
		if amount.IsNegative() {
			return invalidAmount("amount must not be negative"), false
		}
	}
	return Response{}, true
}

// op reads or mutates one entry. The caller holds the player's lock.
type op struct {
	currency string
	amount   decimal.Decimal
	rule     amountRule
	mutates  bool
	apply    func(e *models.Entry) (Response, []events.BalanceChanged)
}

func (f *Facade) change(playerID, currency string, before, after decimal.Decimal, reason string) events.BalanceChanged {
	return events.BalanceChanged{
		PlayerID:   playerID,
		Currency:   currency,
		OldAmount:  before,
		NewAmount:  after,
		Reason:     reason,
		OccurredAt: f.now().UTC(),
	}
}

func (f *Facade) balanceOp(currency string) op {
	return op{
		currency: currency,
		rule:     anyAmount,
		apply: func(e *models.Entry) (Response, []events.BalanceChanged) {
			b := e.Balance(currency)
			return success(b, b), nil
		},
	}
}

func (f *Facade) hasOp(currency string, amount decimal.Decimal) op {
	return op{
		currency: currency,
		amount:   amount,
		rule:     nonNegative,
		apply: func(e *models.Entry) (Response, []events.BalanceChanged) {
			b := e.Balance(currency)
			if b.LessThan(amount) {
				return insufficientFunds(b), nil
			}
			return success(amount, b), nil
		},
	}
}

func (f *Facade) withdrawOp(playerID, currency string, amount decimal.Decimal) op {
	return op{
		currency: currency,
		amount:   amount,
		rule:     positive,
		mutates:  true,
		apply: func(e *models.Entry) (Response, []events.BalanceChanged) {
			b := e.Balance(currency)
			if b.LessThan(amount) {
				return insufficientFunds(b), nil
			}
			next := e.Add(currency, amount.Neg())
			return success(amount, next), []events.BalanceChanged{f.change(playerID, currency, b, next, ReasonWithdraw)}
		},
	}
}

func (f *Facade) depositOp(playerID, currency string, amount decimal.Decimal) op {
	return op{
		currency: currency,
		amount:   amount,
		rule:     positive,
		mutates:  true,
		apply: func(e *models.Entry) (Response, []events.BalanceChanged) {
			b := e.Balance(currency)
			next := e.Add(currency, amount)
			return success(amount, next), []events.BalanceChanged{f.change(playerID, currency, b, next, ReasonDeposit)}
		},
	}
}

func (f *Facade) setOp(playerID, currency string, amount decimal.Decimal) op {
	return op{
		currency: currency,
		amount:   amount,
		rule:     nonNegative,
		mutates:  true,
		apply: func(e *models.Entry) (Response, []events.BalanceChanged) {
			b := e.Balance(currency)
			next := e.Set(currency, amount)
			return success(amount, next), []events.BalanceChanged{f.change(playerID, currency, b, next, ReasonSet)}
		},
	}
}

// runOnline applies o to a cached entry under the player's lock.
func (f *Facade) runOnline(ctx context.Context, playerID string, o op) Response {
	unlock := f.m.LockEntities(playerID)
	defer unlock()

	e, ok := f.m.Online().Get(playerID)
	if !ok {
		return playerNotOnline()
	}
	if r, ok := f.validate(o.currency, o.amount, o.rule); !ok {
		return r
	}
	r, changes := o.apply(e)
	f.publish(ctx, changes)
	return r
}

// runAsync applies o to an online player and schedules a save, or to an
// offline player by load, mutate and save on the worker pool.
func (f *Facade) runAsync(ctx context.Context, playerID string, o op) *workers.Future[Response] {
	if f.IsOnline(playerID) {
		r := f.runOnline(ctx, playerID, o)
		if r.Type != PlayerNotOnline {
			if o.mutates && r.OK() {
				f.m.SavePlayer(ctx, playerID)
			}
			return workers.Resolved(r, nil)
		}
	}
	if r, ok := f.validate(o.currency, o.amount, o.rule); !ok {
		return workers.Resolved(r, nil)
	}
	if _, err := uuid.Parse(playerID); err != nil {
		return workers.Resolved(accountNotFound(), nil)
	}
	return workers.Submit(f.m.Pool(), ctx, func(ctx context.Context) (Response, error) {
		return f.runOffline(ctx, playerID, o), nil
	})
}

func (f *Facade) runOffline(ctx context.Context, playerID string, o op) Response {
	unlock := f.m.LockEntities(playerID)
	defer unlock()

	// The player may have connected while the task was queued; Fetch then
	// hands back the live entry.
	e, err := f.m.Fetch(ctx, playerID)
	if err != nil {
		f.logger.Warn("offline load failed", "player", playerID, "error", err)
		return internalError(err)
	}
	r, changes := o.apply(e)
	if !o.mutates || !r.OK() {
		return r
	}
	if err := f.save(ctx, playerID, e); err != nil {
		return internalError(err)
	}
	f.publish(ctx, changes)
	return r
}

// save persists an offline entry now, or schedules a save for an online one.
// The caller holds the player's lock.
func (f *Facade) save(ctx context.Context, playerID string, e *models.Entry) error {
	if f.IsOnline(playerID) {
		f.m.SavePlayer(ctx, playerID)
		return nil
	}
	if err := f.m.Persist(ctx, playerID, e); err != nil {
		f.logger.Error("offline save failed", "player", playerID, "error", err)
		return err
	}
	return nil
}

func (f *Facade) Balance(ctx context.Context, playerID, currency string) Response {
	return f.runOnline(ctx, playerID, f.balanceOp(currency))
}

func (f *Facade) BalanceAsync(ctx context.Context, playerID, currency string) *workers.Future[Response] {
	return f.runAsync(ctx, playerID, f.balanceOp(currency))
}

func (f *Facade) Has(ctx context.Context, playerID, currency string, amount decimal.Decimal) Response {
	return f.runOnline(ctx, playerID, f.hasOp(currency, models.Normalize(amount)))
}

func (f *Facade) HasAsync(ctx context.Context, playerID, currency string, amount decimal.Decimal) *workers.Future[Response] {
	return f.runAsync(ctx, playerID, f.hasOp(currency, models.Normalize(amount)))
}

func (f *Facade) Withdraw(ctx context.Context, playerID, currency string, amount decimal.Decimal) Response {
	return f.runOnline(ctx, playerID, f.withdrawOp(playerID, currency, models.Normalize(amount)))
}

func (f *Facade) WithdrawAsync(ctx context.Context, playerID, currency string, amount decimal.Decimal) *workers.Future[Response] {
	return f.runAsync(ctx, playerID, f.withdrawOp(playerID, currency, models.Normalize(amount)))
}

func (f *Facade) Deposit(ctx context.Context, playerID, currency string, amount decimal.Decimal) Response {
	return f.runOnline(ctx, playerID, f.depositOp(playerID, currency, models.Normalize(amount)))
}

func (f *Facade) DepositAsync(ctx context.Context, playerID, currency string, amount decimal.Decimal) *workers.Future[Response] {
	return f.runAsync(ctx, playerID, f.depositOp(playerID, currency, models.Normalize(amount)))
}

func (f *Facade) SetBalance(ctx context.Context, playerID, currency string, amount decimal.Decimal) Response {
	return f.runOnline(ctx, playerID, f.setOp(playerID, currency, models.Normalize(amount)))
}

func (f *Facade) SetBalanceAsync(ctx context.Context, playerID, currency string, amount decimal.Decimal) *workers.Future[Response] {
	return f.runAsync(ctx, playerID, f.setOp(playerID, currency, models.Normalize(amount)))
}

// applyTransfer debits from and credits to. The reported balance is the
// sender's balance afterwards.
func (f *Facade) applyTransfer(fromID, toID string, from, to *models.Entry, currency string, amount decimal.Decimal) (Response, []events.BalanceChanged) {
	fromBefore := from.Balance(currency)
	if fromBefore.LessThan(amount) {
		return insufficientFunds(fromBefore), nil
	}
	fromAfter := from.Add(currency, amount.Neg())
	toBefore := to.Balance(currency)
	toAfter := to.Add(currency, amount)
	changes := []events.BalanceChanged{
		f.change(fromID, currency, fromBefore, fromAfter, ReasonTransferOut),
		f.change(toID, currency, toBefore, toAfter, ReasonTransferIn),
	}
	return success(amount, from.Balance(currency)), changes
}

// Transfer moves amount between two online players.
func (f *Facade) Transfer(ctx context.Context, fromID, toID, currency string, amount decimal.Decimal) Response {
	amount = models.Normalize(amount)
	unlock := f.m.LockEntities(fromID, toID)
	defer unlock()

	from, okFrom := f.m.Online().Get(fromID)
	to, okTo := f.m.Online().Get(toID)
	if !okFrom || !okTo {
		return playerNotOnline()
	}
	if r, ok := f.validate(currency, amount, positive); !ok {
		return r
	}
	r, changes := f.applyTransfer(fromID, toID, from, to, currency, amount)
	f.publish(ctx, changes)
	return r
}

// TransferAsync moves amount between any two players. Offline sides are
// loaded concurrently and saved before the future resolves.
func (f *Facade) TransferAsync(ctx context.Context, fromID, toID, currency string, amount decimal.Decimal) *workers.Future[Response] {
	amount = models.Normalize(amount)
	if f.IsOnline(fromID) && f.IsOnline(toID) {
		r := f.Transfer(ctx, fromID, toID, currency, amount)
		if r.Type != PlayerNotOnline {
			if r.OK() {
				f.m.SavePlayer(ctx, fromID)
				f.m.SavePlayer(ctx, toID)
			}
			return workers.Resolved(r, nil)
		}
	}
	if r, ok := f.validate(currency, amount, positive); !ok {
		return workers.Resolved(r, nil)
	}
	for _, id := range []string{fromID, toID} {
		if _, err := uuid.Parse(id); err != nil {
			return workers.Resolved(accountNotFound(), nil)
		}
	}

	return workers.Submit(f.m.Pool(), ctx, func(ctx context.Context) (Response, error) {
		unlock := f.m.LockEntities(fromID, toID)
		defer unlock()

		var from, to *models.Entry
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			from, err = f.m.Fetch(gctx, fromID)
			return err
		})
		if toID != fromID {
			g.Go(func() (err error) {
				to, err = f.m.Fetch(gctx, toID)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			f.logger.Warn("transfer load failed", "from", fromID, "to", toID, "error", err)
			return internalError(err), nil
		}
		if toID == fromID {
			to = from
		}

		r, changes := f.applyTransfer(fromID, toID, from, to, currency, amount)
		if !r.OK() {
			return r, nil
		}

		var errs *multierror.Error
		if err := f.save(ctx, fromID, from); err != nil {
			errs = multierror.Append(errs, err)
		}
		if toID != fromID {
			if err := f.save(ctx, toID, to); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if err := errs.ErrorOrNil(); err != nil {
			return internalError(err), nil
		}
		f.publish(ctx, changes)
		return r, nil
	})
}

// HasAccount reports whether the player is online or has a persisted record.
func (f *Facade) HasAccount(ctx context.Context, playerID string) *workers.Future[bool] {
	if f.IsOnline(playerID) {
		return workers.Resolved(true, nil)
	}
	return workers.Submit(f.m.Pool(), ctx, func(ctx context.Context) (bool, error) {
		return f.m.Exists(ctx, playerID)
	})
}

// CreateAccount persists a new entry holding every auto-grant default. An
// existing account is left untouched; either way the response balance is the
// default currency balance.
func (f *Facade) CreateAccount(ctx context.Context, playerID, name string) *workers.Future[Response] {
	if _, err := uuid.Parse(playerID); err != nil {
		return workers.Resolved(accountNotFound(), nil)
	}
	return workers.Submit(f.m.Pool(), ctx, func(ctx context.Context) (Response, error) {
		unlock := f.m.LockEntities(playerID)
		defer unlock()

		currencies := f.m.Currencies()
		def := currencies.Default()
		exists, err := f.m.Exists(ctx, playerID)
		if err != nil {
			return internalError(err), nil
		}
		if exists {
			e, err := f.m.Fetch(ctx, playerID)
			if err != nil {
				return internalError(err), nil
			}
			return success(decimal.Zero, e.Balance(def)), nil
		}

		e := models.NewEntryWith(playerID, currencies.IDs())
		if name != "" {
			e.SetDisplayName(strings.ToLower(name))
		}
		for _, c := range currencies.All() {
			if c.AutoGrant {
				e.Set(c.ID, c.DefaultAmount)
			}
		}
		if err := f.m.Persist(ctx, playerID, e); err != nil {
			return internalError(err), nil
		}
		return success(decimal.Zero, e.Balance(def)), nil
	})
}

// publish sends events in the background; failures are only logged.
func (f *Facade) publish(ctx context.Context, changes []events.BalanceChanged) {
	if f.publisher == nil || len(changes) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	f.publishing.Add(1)
	go func() {
		defer f.publishing.Done()
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		for _, c := range changes {
			if err := f.publisher.Publish(ctx, events.BalanceChangedTopic, c); err != nil {
				f.logger.Warn("failed to publish balance change", "player", c.PlayerID, "currency", c.Currency, "error", err)
			}
		}
	}()
}

// Await is a convenience for callers that want the async result inline.
// Pool and context errors become INTERNAL_ERROR responses.
func Await(ctx context.Context, fut *workers.Future[Response]) Response {
	r, err := fut.Await(ctx)
	if err != nil {
		if errors.Is(err, workers.ErrPoolClosed) {
			return failure(Failure, err.Error())
		}
		return internalError(err)
	}
	return r
}
