package interfaces

import (
	"context"
	"errors"

	"github.com/sheikh-saqib/currency-ledger/internal/models"
)

// LedgerStore is the durable backend for player entries. Implementations are
// synchronous; callers that need async behaviour run them on a worker pool.
type LedgerStore interface {
	// Initialize prepares storage. Repeated calls must succeed.
	Initialize(ctx context.Context) error
	// Load returns the persisted entry, or a zero entry pre-populated with the
	// configured currencies when the player was never saved.
	Load(ctx context.Context, playerID string) (*models.Entry, error)
	// LoadByName looks a player up by lower-cased display name.
	LoadByName(ctx context.Context, name string) (*models.Entry, error)
	// Exists reports whether the player has a persisted entry.
	Exists(ctx context.Context, playerID string) (bool, error)
	Save(ctx context.Context, playerID string, entry *models.Entry) error
	// SaveAll persists every entry currently held by the online cache.
	SaveAll(ctx context.Context) error
	AddCurrency(ctx context.Context, currencyID string) error
	RemoveCurrency(ctx context.Context, currencyID string, deleteData bool) error
	// TopBalances returns players with a strictly positive balance, highest first.
	TopBalances(ctx context.Context, currencyID string, limit int) ([]models.Ranking, error)
	// Unload flushes via SaveAll and releases all handles.
	Unload(ctx context.Context) error
}

// OnlineEntries is the view of the online cache a store needs for SaveAll.
type OnlineEntries interface {
	Snapshots() []models.Snapshot
	Entries() map[string]*models.Entry
}

var (
	// ErrNotFound is returned by lookups that found no persisted entry.
	ErrNotFound = errors.New("ledger store: not found")
	// ErrBackendUnavailable wraps I/O failures at the store boundary.
	ErrBackendUnavailable = errors.New("ledger store: backend unavailable")
)
