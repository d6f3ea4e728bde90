package sqlstore

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/currency-ledger/internal/models"
)

var (
	duplicateKey = Dialect{
		Name: "dup", PrimaryKeyType: "VARCHAR(36)", CurrencyColumnType: "DECIMAL(19,4)",
		AddColumnTemplate: AddColumnTemplate,
		UpsertTemplate:    UpsertOnDuplicateKeyTemplate,
		UpdateAssignment:  "%[1]s = VALUES(%[1]s)",
		Bind:              BindQuestion,
	}
	onConflict = Dialect{
		Name: "conflict", PrimaryKeyType: "VARCHAR(36)", CurrencyColumnType: "DECIMAL(19,4)",
		AddColumnTemplate: AddColumnIfNotExistsTemplate,
		UpsertTemplate:    UpsertOnConflictTemplate,
		UpdateAssignment:  "%[1]s = EXCLUDED.%[1]s",
		Bind:              BindDollar,
	}
	insertOrReplace = Dialect{
		Name: "replace", PrimaryKeyType: "TEXT", CurrencyColumnType: "REAL",
		AddColumnTemplate: AddColumnTemplate,
		UpsertTemplate:    UpsertInsertOrReplaceTemplate,
		Bind:              BindQuestion,
	}
)

func testStore(d Dialect, currencies ...string) *Store {
	s := &Store{dialect: d, table: DefaultTable, schema: newSchema(), logger: slog.Default()}
	for _, c := range currencies {
		s.schema.add(c)
	}
	return s
}

func TestColumnName(t *testing.T) {
	tests := map[string]string{
		"money":       "currency_money",
		"Money":       "currency_money",
		"vote-points": "currency_vote_points",
		"vote_points": "currency_vote_points",
		"gems!":       "currency_gems_",
		"a b.c":       "currency_a_b_c",
		"x9":          "currency_x9",
	}
	for in, want := range tests {
		assert.Equal(t, want, ColumnName(in), in)
	}
}

func TestSchemaCollision(t *testing.T) {
	s := newSchema()
	col, err := s.check("vote-points")
	require.NoError(t, err)
	s.add("vote-points")
	assert.True(t, s.known.Contains(col))

	_, err = s.check("vote_points")
	assert.ErrorIs(t, err, ErrColumnCollision)

	_, err = s.check("vote-points")
	assert.NoError(t, err, "re-adding the same currency is not a collision")

	s.retire("vote-points")
	_, ok := s.columnFor("vote-points")
	assert.False(t, ok)
	assert.Equal(t, []string{col}, s.retained())
	_, err = s.check("vote_points")
	assert.ErrorIs(t, err, ErrColumnCollision, "a retained column still belongs to its currency")

	s.drop("vote-points")
	assert.False(t, s.known.Contains(col))
	assert.Empty(t, s.retained())
	_, err = s.check("vote_points")
	assert.NoError(t, err)
}

func TestSchemaAdoptedColumn(t *testing.T) {
	s := newSchema()
	s.adopt("currency_gems")
	assert.Equal(t, []string{"currency_gems"}, s.retained())

	_, err := s.check("gems")
	require.NoError(t, err)
	s.add("gems")
	assert.Empty(t, s.retained())
	assert.Equal(t, []string{"gems"}, s.currencies())
}

func TestUpsertSQL(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		want    string
	}{
		{
			name:    "on duplicate key",
			dialect: duplicateKey,
			want: "INSERT INTO player_currencies (player_uuid, player_name, currency_money, currency_vote_points) VALUES (?, ?, ?, ?) " +
				"ON DUPLICATE KEY UPDATE player_name = VALUES(player_name), currency_money = VALUES(currency_money), currency_vote_points = VALUES(currency_vote_points)",
		},
		{
			name:    "on conflict",
			dialect: onConflict,
			want: "INSERT INTO player_currencies (player_uuid, player_name, currency_money, currency_vote_points) VALUES ($1, $2, $3, $4) " +
				"ON CONFLICT (player_uuid) DO UPDATE SET player_name = EXCLUDED.player_name, currency_money = EXCLUDED.currency_money, currency_vote_points = EXCLUDED.currency_vote_points",
		},
		{
			name:    "insert or replace",
			dialect: insertOrReplace,
			want:    "INSERT OR REPLACE INTO player_currencies (player_uuid, player_name, currency_money, currency_vote_points) VALUES (?, ?, ?, ?)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStore(tt.dialect, "money", "vote_points")
			assert.Equal(t, tt.want, s.upsertSQL(s.plan([]string{"money", "vote_points"})))
		})
	}
}

func TestUpsertCarriesUnwrittenColumns(t *testing.T) {
	replacing := insertOrReplace
	replacing.ReplacesRow = true
	s := testStore(replacing, "money", "gems", "vote_points")
	s.schema.retire("vote_points")

	p := s.plan([]string{"money"})
	assert.Equal(t, []string{"currency_gems", "currency_vote_points"}, p.carried)
	assert.Equal(t,
		"INSERT OR REPLACE INTO player_currencies (player_uuid, player_name, currency_money, currency_gems, currency_vote_points) VALUES (?, ?, ?, "+
			"COALESCE((SELECT currency_gems FROM player_currencies WHERE player_uuid = ?), 0), "+
			"COALESCE((SELECT currency_vote_points FROM player_currencies WHERE player_uuid = ?), 0))",
		s.upsertSQL(p))

	args := p.args(models.Snapshot{ID: "p1", Balances: map[string]decimal.Decimal{"money": decimal.NewFromInt(3)}})
	require.Len(t, args, 5)
	assert.Equal(t, "p1", args[3])
	assert.Equal(t, "p1", args[4])
}

func TestUpsertInPlaceCarriesNothing(t *testing.T) {
	s := testStore(onConflict, "money", "gems")
	s.schema.retire("gems")
	assert.Empty(t, s.plan([]string{"money"}).carried)
}

func TestRenderAddColumn(t *testing.T) {
	got := render(onConflict.AddColumnTemplate, map[string]string{
		"table": "player_currencies", "column": "currency_money", "type": "DECIMAL(19,4)",
	})
	assert.Equal(t, "ALTER TABLE player_currencies ADD COLUMN IF NOT EXISTS currency_money DECIMAL(19,4) DEFAULT 0", got)

	got = render(CreateTableTemplate, map[string]string{"table": "t", "pk_type": "TEXT", "name_type": "TEXT"})
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS t (player_uuid TEXT PRIMARY KEY, player_name TEXT)", got)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?, ?, ?", duplicateKey.Placeholders(1, 3))
	assert.Equal(t, "$2, $3", onConflict.Placeholders(2, 2))
	assert.Empty(t, insertOrReplace.UpdateClause([]string{"player_uuid", "currency_money"}))
}

func TestDialectValidate(t *testing.T) {
	assert.NoError(t, duplicateKey.validate())
	assert.Error(t, Dialect{}.validate())
	assert.Error(t, Dialect{Name: "x", AddColumnTemplate: AddColumnTemplate}.validate())
}

func TestIsDuplicateFallsBackToMessage(t *testing.T) {
	s := testStore(insertOrReplace)
	assert.True(t, s.isDuplicate(errors.New("duplicate column name: currency_money")))
	assert.True(t, s.isDuplicate(errors.New(`relation "player_currencies" already exists`)))
	assert.False(t, s.isDuplicate(errors.New("connection refused")))
}
