// Package file stores one JSON document per player.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
)

const fileExt = ".json"

var _ interfaces.LedgerStore = (*Store)(nil)

// Options configures a Store.
type Options struct {
	Currencies *models.Currencies
	Online     interfaces.OnlineEntries
	Logger     *slog.Logger
}

// Store keeps player balances in <dir>/<player uuid>.json as a flat
// currency -> amount object.
type Store struct {
	dir        string
	online     interfaces.OnlineEntries
	logger     *slog.Logger
	currencies mapset.Set[string]

	mu        sync.RWMutex
	readCache map[string]map[string]decimal.Decimal // player -> balances seen on disk
}

func New(dir string, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		dir:        dir,
		online:     opts.Online,
		logger:     opts.Logger.With("storage", "json"),
		currencies: mapset.NewSet(opts.Currencies.IDs()...),
		readCache:  make(map[string]map[string]decimal.Decimal),
	}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Initialize(ctx context.Context) error {
	if strings.TrimSpace(s.dir) == "" {
		return fmt.Errorf("json: data directory is required")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("json: create data folder: %w", err)
	}
	s.logger.Info("storage initialized", "dir", s.dir)
	return nil
}

func (s *Store) path(playerID string) string {
	return filepath.Join(s.dir, filepath.Base(playerID)+fileExt)
}

func (s *Store) configured() []string {
	ids := s.currencies.ToSlice()
	sort.Strings(ids)
	return ids
}

func readBalances(path string) (map[string]decimal.Decimal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data := make(map[string]decimal.Decimal)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

func (s *Store) Load(ctx context.Context, playerID string) (*models.Entry, error) {
	data, err := readBalances(s.path(playerID))
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewEntryWith(playerID, s.configured()), nil
	}
	if err != nil {
		s.logger.Error("failed to load player data", "player", playerID, "error", err)
		return models.NewEntryWith(playerID, s.configured()), fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	s.mu.Lock()
	s.readCache[playerID] = maps.Clone(data)
	s.mu.Unlock()

	return models.FromSnapshot(models.Snapshot{ID: playerID, Balances: data}), nil
}

// LoadByName is not supported: files are addressed by id only.
func (s *Store) LoadByName(ctx context.Context, name string) (*models.Entry, error) {
	return nil, interfaces.ErrNotFound
}

func (s *Store) Exists(ctx context.Context, playerID string) (bool, error) {
	_, err := os.Stat(s.path(playerID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
}

// writeFile replaces the player's document via a temp file and rename.
func (s *Store) writeFile(playerID string, data map[string]decimal.Decimal) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(playerID)+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(playerID))
}

func (s *Store) save(playerID string, data map[string]decimal.Decimal) error {
	s.mu.Lock()
	s.readCache[playerID] = maps.Clone(data)
	s.mu.Unlock()

	if err := s.writeFile(playerID, data); err != nil {
		s.logger.Error("failed to save player data", "player", playerID, "error", err)
		return fmt.Errorf("%w: save %s: %v", interfaces.ErrBackendUnavailable, playerID, err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, playerID string, entry *models.Entry) error {
	return s.save(playerID, entry.Balances())
}

func (s *Store) SaveAll(ctx context.Context) error {
	if s.online == nil {
		return nil
	}
	var errs *multierror.Error
	for _, snap := range s.online.Snapshots() {
		if err := s.save(snap.ID, snap.Balances); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// AddCurrency needs no schema change; new players are pre-populated with it.
func (s *Store) AddCurrency(ctx context.Context, currencyID string) error {
	s.currencies.Add(currencyID)
	return nil
}

// RemoveCurrency with deleteData strips the currency from every document,
// from the read cache and from online entries.
func (s *Store) RemoveCurrency(ctx context.Context, currencyID string, deleteData bool) error {
	s.currencies.Remove(currencyID)
	if !deleteData {
		return nil
	}

	s.mu.Lock()
	for _, balances := range s.readCache {
		delete(balances, currencyID)
	}
	s.mu.Unlock()

	if s.online != nil {
		for _, e := range s.online.Entries() {
			e.Remove(currencyID)
		}
	}

	files, err := s.listPlayers()
	if err != nil {
		return err
	}
	var errs *multierror.Error
	for _, playerID := range files {
		data, err := readBalances(s.path(playerID))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if _, ok := data[currencyID]; !ok {
			continue
		}
		delete(data, currencyID)
		if err := s.writeFile(playerID, data); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (s *Store) listPlayers() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("failed to list player files", "error", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	var ids []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	return ids, nil
}

// TopBalances scans every document not yet in the read cache, then ranks.
// This is O(players) per call.
func (s *Store) TopBalances(ctx context.Context, currencyID string, limit int) ([]models.Ranking, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.listPlayers()
	if err != nil {
		return nil, err
	}
	for _, playerID := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.RLock()
		_, cached := s.readCache[playerID]
		s.mu.RUnlock()
		if !cached {
			// Load fills the read cache; failures are already logged.
			_, _ = s.Load(ctx, playerID)
		}
	}

	s.mu.RLock()
	var out []models.Ranking
	for playerID, balances := range s.readCache {
		amount, ok := balances[currencyID]
		if !ok || !amount.IsPositive() {
			continue
		}
		out = append(out, models.Ranking{PlayerID: playerID, Amount: models.Normalize(amount)})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Unload(ctx context.Context) error {
	err := s.SaveAll(ctx)
	s.mu.Lock()
	clear(s.readCache)
	s.mu.Unlock()
	return err
}
