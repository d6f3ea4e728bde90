// Package sqlstore implements interfaces.LedgerStore on database/sql for any
// Dialect. Each player is one row; each currency is one column.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
)

const DefaultTable = "player_currencies"

var _ interfaces.LedgerStore = (*Store)(nil)

// Options configures a Store.
type Options struct {
	Table      string
	Currencies *models.Currencies
	Online     interfaces.OnlineEntries
	Logger     *slog.Logger
}

// Store is the shared relational engine.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	schema  *schema
	initial *models.Currencies
	online  interfaces.OnlineEntries
	logger  *slog.Logger
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, opts Options) (*Store, error) {
	if err := dialect.validate(); err != nil {
		return nil, err
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if dialect.SingleConnection {
		db.SetMaxOpenConns(1)
	}
	return &Store{
		db:      db,
		dialect: dialect,
		table:   opts.Table,
		schema:  newSchema(),
		initial: opts.Currencies,
		online:  opts.Online,
		logger:  opts.Logger.With("storage", dialect.Name),
	}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: ping: %w", s.dialect.Name, err)
	}

	// Reject collisions before touching the schema.
	probe := newSchema()
	for _, id := range s.initial.IDs() {
		if _, err := probe.check(id); err != nil {
			return err
		}
		probe.add(id)
	}

	createTable := render(s.dialect.createTableTemplate(), map[string]string{
		"table":     s.table,
		"pk_type":   s.dialect.PrimaryKeyType,
		"name_type": s.dialect.NameColumnType,
	})
	if err := s.execDDL(ctx, createTable); err != nil {
		return fmt.Errorf("%s: create table: %w", s.dialect.Name, err)
	}

	if err := s.discoverColumns(ctx); err != nil {
		return fmt.Errorf("%s: read columns: %w", s.dialect.Name, err)
	}

	if s.dialect.AddNameColumnTemplate != "" {
		sqlText := render(s.dialect.AddNameColumnTemplate, map[string]string{
			"table": s.table,
			"type":  s.dialect.NameColumnType,
		})
		if err := s.execDDL(ctx, sqlText); err != nil {
			s.logger.Debug("name column not added", "error", err)
		}
	}
	if s.dialect.CreateIndexTemplate != "" {
		if err := s.execDDL(ctx, render(s.dialect.CreateIndexTemplate, map[string]string{"table": s.table})); err != nil {
			s.logger.Debug("name index not created", "error", err)
		}
	}

	var errs *multierror.Error
	for _, id := range s.initial.IDs() {
		if err := s.AddCurrency(ctx, id); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: sync currency columns: %w", s.dialect.Name, err)
	}

	s.logger.Info("storage initialized", "table", s.table, "currencies", len(s.schema.currencies()))
	return nil
}

// discoverColumns adopts the currency columns already in the table, including
// those of retired currencies, so writes can preserve them.
func (s *Store) discoverColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", s.table))
	if err != nil {
		return err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for _, col := range cols {
		if col = strings.ToLower(col); strings.HasPrefix(col, columnPrefix) {
			s.schema.adopt(col)
		}
	}
	return rows.Err()
}

func (d Dialect) createTableTemplate() string {
	if d.CreateTableTemplate != "" {
		return d.CreateTableTemplate
	}
	return CreateTableTemplate
}

// execDDL runs a schema statement, treating "already exists" as success.
func (s *Store) execDDL(ctx context.Context, stmt string) error {
	_, err := s.db.ExecContext(ctx, stmt)
	if err != nil && s.isDuplicate(err) {
		return nil
	}
	return err
}

func (s *Store) isDuplicate(err error) bool {
	if s.dialect.IsDuplicate != nil && s.dialect.IsDuplicate(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}

// AddCurrency adds the currency column with a zero default.
func (s *Store) AddCurrency(ctx context.Context, currencyID string) error {
	col, err := s.schema.check(currencyID)
	if err != nil {
		return err
	}
	stmt := render(s.dialect.AddColumnTemplate, map[string]string{
		"table":  s.table,
		"column": col,
		"type":   s.dialect.CurrencyColumnType,
	})
	if err := s.execDDL(ctx, stmt); err != nil {
		s.logger.Error("failed to add currency column", "currency", currencyID, "column", col, "error", err)
		return fmt.Errorf("add column %s: %w", col, err)
	}
	s.schema.add(currencyID)
	return nil
}

// RemoveCurrency stops reading and writing the currency; with deleteData the
// column and every stored value are dropped. Without it the column keeps its
// values.
func (s *Store) RemoveCurrency(ctx context.Context, currencyID string, deleteData bool) error {
	s.schema.retire(currencyID)
	if !deleteData {
		return nil
	}
	col := ColumnName(currencyID)
	stmt := render(s.dialect.DropColumnTemplate, map[string]string{"table": s.table, "column": col})
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		s.logger.Error("failed to remove currency column", "currency", currencyID, "error", err)
		return fmt.Errorf("%w: drop column %s: %v", interfaces.ErrBackendUnavailable, col, err)
	}
	s.schema.drop(currencyID)
	return nil
}

func (s *Store) selectColumns(currencyIDs []string) []string {
	cols := make([]string, 0, len(currencyIDs))
	for _, id := range currencyIDs {
		col, _ := s.schema.columnFor(id)
		cols = append(cols, col)
	}
	return cols
}

// scanEntry reads player_name followed by one column per currency id.
func scanEntry(scan func(dest ...any) error, playerID string, currencyIDs []string, extra ...any) (*models.Entry, error) {
	var name sql.NullString
	amounts := make([]decimal.NullDecimal, len(currencyIDs))
	dest := append(extra, &name)
	for i := range amounts {
		dest = append(dest, &amounts[i])
	}
	if err := scan(dest...); err != nil {
		return nil, err
	}
	e := models.NewEntry(playerID)
	if name.Valid {
		e.SetDisplayName(name.String)
	}
	for i, id := range currencyIDs {
		if amounts[i].Valid {
			e.Set(id, amounts[i].Decimal)
		} else {
			e.EnsureCurrency(id)
		}
	}
	return e, nil
}

func (s *Store) Load(ctx context.Context, playerID string) (*models.Entry, error) {
	ids := s.schema.currencies()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(append([]string{nameColumn}, s.selectColumns(ids)...), ", "),
		s.table, primaryKeyColumn, s.dialect.Placeholder(1))

	row := s.db.QueryRowContext(ctx, query, playerID)
	e, err := scanEntry(row.Scan, playerID, ids)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.NewEntryWith(playerID, ids), nil
	case err != nil:
		s.logger.Error("failed to load player data", "player", playerID, "error", err)
		return models.NewEntryWith(playerID, ids), fmt.Errorf("%w: load %s: %v", interfaces.ErrBackendUnavailable, playerID, err)
	}
	return e, nil
}

func (s *Store) LoadByName(ctx context.Context, name string) (*models.Entry, error) {
	ids := s.schema.currencies()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE LOWER(%s) = LOWER(%s) LIMIT 1",
		strings.Join(append([]string{primaryKeyColumn, nameColumn}, s.selectColumns(ids)...), ", "),
		s.table, nameColumn, s.dialect.Placeholder(1))

	var playerID string
	row := s.db.QueryRowContext(ctx, query, name)
	e, err := scanEntry(row.Scan, "", ids, &playerID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, interfaces.ErrNotFound
	case err != nil:
		s.logger.Error("failed to load player data by name", "name", name, "error", err)
		return nil, fmt.Errorf("%w: load by name: %v", interfaces.ErrBackendUnavailable, err)
	}
	e.SetID(playerID)
	return e, nil
}

func (s *Store) Exists(ctx context.Context, playerID string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s", s.table, primaryKeyColumn, s.dialect.Placeholder(1))
	var one int
	err := s.db.QueryRowContext(ctx, query, playerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", interfaces.ErrBackendUnavailable, playerID, err)
	}
	return true, nil
}

// writePlan is the column layout of one upsert.
type writePlan struct {
	currencies []string // written from the snapshot
	carried    []string // copied from the existing row
}

// plan lays out an upsert writing currencyIDs. Row-replacing dialects also
// carry every other known column so the replace does not reset it.
func (s *Store) plan(currencyIDs []string) writePlan {
	p := writePlan{currencies: currencyIDs}
	if !s.dialect.ReplacesRow {
		return p
	}
	written := mapset.NewThreadUnsafeSet(s.selectColumns(currencyIDs)...)
	for _, id := range s.schema.currencies() {
		if col, _ := s.schema.columnFor(id); !written.Contains(col) {
			p.carried = append(p.carried, col)
		}
	}
	p.carried = append(p.carried, s.schema.retained()...)
	return p
}

// upsertSQL builds the dialect upsert for the pk, the name and the planned columns.
func (s *Store) upsertSQL(p writePlan) string {
	cols := append([]string{primaryKeyColumn, nameColumn}, s.selectColumns(p.currencies)...)
	values := []string{s.dialect.Placeholders(1, len(cols))}
	for i, col := range p.carried {
		values = append(values, fmt.Sprintf("COALESCE((SELECT %s FROM %s WHERE %s = %s), 0)",
			col, s.table, primaryKeyColumn, s.dialect.Placeholder(len(cols)+i+1)))
	}
	return render(s.dialect.UpsertTemplate, map[string]string{
		"table":   s.table,
		"columns": strings.Join(append(cols, p.carried...), ", "),
		"values":  strings.Join(values, ", "),
		"updates": s.dialect.UpdateClause(cols),
	})
}

func (p writePlan) args(snap models.Snapshot) []any {
	args := make([]any, 0, len(p.currencies)+len(p.carried)+2)
	var name sql.NullString
	if snap.DisplayName != "" {
		name = sql.NullString{String: snap.DisplayName, Valid: true}
	}
	args = append(args, snap.ID, name)
	for _, id := range p.currencies {
		args = append(args, models.Normalize(snap.Balances[id]))
	}
	for range p.carried {
		args = append(args, snap.ID)
	}
	return args
}

// persistable drops currencies that have no column, logging each once per call.
func (s *Store) persistable(snap models.Snapshot) []string {
	var ids []string
	for _, id := range s.schema.currencies() {
		if _, ok := snap.Balances[id]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) != len(snap.Balances) {
		for id := range snap.Balances {
			if _, ok := s.schema.columnFor(id); !ok {
				s.logger.Warn("skipping currency without column", "player", snap.ID, "currency", id)
			}
		}
	}
	return ids
}

func (s *Store) Save(ctx context.Context, playerID string, entry *models.Entry) error {
	snap := entry.Snapshot()
	snap.ID = playerID
	p := s.plan(s.persistable(snap))
	if _, err := s.db.ExecContext(ctx, s.upsertSQL(p), p.args(snap)...); err != nil {
		s.logger.Error("failed to save player data", "player", playerID, "error", err)
		return fmt.Errorf("%w: save %s: %v", interfaces.ErrBackendUnavailable, playerID, err)
	}
	return nil
}

// SaveAll writes every online entry with one prepared statement in one
// transaction. Entries missing a currency are written with zero for it.
func (s *Store) SaveAll(ctx context.Context) error {
	if s.online == nil {
		return nil
	}
	snaps := s.online.Snapshots()
	if len(snaps) == 0 {
		return nil
	}
	p := s.plan(s.unionCurrencies(snaps))

	if err := s.saveBatch(ctx, snaps, p); err != nil {
		s.logger.Warn("batch save failed, saving entries one by one", "entries", len(snaps), "error", err)
		var errs *multierror.Error
		for _, snap := range snaps {
			if err := s.Save(ctx, snap.ID, models.FromSnapshot(snap)); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		return errs.ErrorOrNil()
	}
	s.logger.Debug("saved online entries", "entries", len(snaps))
	return nil
}

func (s *Store) unionCurrencies(snaps []models.Snapshot) []string {
	var ids []string
	for _, id := range s.schema.currencies() {
		for _, snap := range snaps {
			if _, ok := snap.Balances[id]; ok {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

func (s *Store) saveBatch(ctx context.Context, snaps []models.Snapshot, p writePlan) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL(p))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snaps {
		if _, err = stmt.ExecContext(ctx, p.args(snap)...); err != nil {
			return fmt.Errorf("save %s: %w", snap.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) TopBalances(ctx context.Context, currencyID string, limit int) ([]models.Ranking, error) {
	col, ok := s.schema.columnFor(currencyID)
	if !ok || limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s > 0 ORDER BY %s DESC, %s ASC LIMIT %s",
		primaryKeyColumn, col, s.table, col, col, primaryKeyColumn, s.dialect.Placeholder(1))

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		s.logger.Error("failed to get top balances", "currency", currencyID, "error", err)
		return nil, fmt.Errorf("%w: top balances: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var out []models.Ranking
	for rows.Next() {
		var r models.Ranking
		if err := rows.Scan(&r.PlayerID, &r.Amount); err != nil {
			return nil, fmt.Errorf("%w: scan top balances: %v", interfaces.ErrBackendUnavailable, err)
		}
		r.Amount = models.Normalize(r.Amount)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: top balances: %v", interfaces.ErrBackendUnavailable, err)
	}
	return out, nil
}

func (s *Store) Unload(ctx context.Context) error {
	var errs *multierror.Error
	if err := s.SaveAll(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	s.logger.Info("storage unloaded", "open_connections", s.db.Stats().OpenConnections)
	return errs.ErrorOrNil()
}
