package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// BindStyle is how a dialect spells positional parameters.
type BindStyle int

const (
	BindQuestion BindStyle = iota // ?, ?, ?
	BindDollar                    // $1, $2, $3
)

// Dialect is everything that differs between relational backends. Templates
// use {table}, {columns}, {values}, {updates}, {column} and {type}.
type Dialect struct {
	Name       string
	DriverName string

	PrimaryKeyType     string
	NameColumnType     string
	CurrencyColumnType string

	CreateTableTemplate   string
	AddColumnTemplate     string
	AddNameColumnTemplate string
	DropColumnTemplate    string
	CreateIndexTemplate   string
	UpsertTemplate        string
	// UpdateAssignment formats one "col = incoming" pair; %[1]s is the column.
	// Empty means the upsert template carries no update clause.
	UpdateAssignment string
	// ReplacesRow marks upserts that delete and re-insert the row. Columns the
	// statement does not write are then copied from the existing row.
	ReplacesRow bool

	Bind BindStyle
	// SingleConnection limits the pool to one connection (one writer).
	SingleConnection bool
	// IsDuplicate recognises driver errors for objects that already exist.
	IsDuplicate func(error) bool
}

// Shared templates; dialects override where their SQL differs.
const (
	CreateTableTemplate           = "CREATE TABLE IF NOT EXISTS {table} (player_uuid {pk_type} PRIMARY KEY, player_name {name_type})"
	AddColumnTemplate             = "ALTER TABLE {table} ADD COLUMN {column} {type} DEFAULT 0"
	AddColumnIfNotExistsTemplate  = "ALTER TABLE {table} ADD COLUMN IF NOT EXISTS {column} {type} DEFAULT 0"
	AddNameColumnTemplate         = "ALTER TABLE {table} ADD COLUMN player_name {type}"
	AddNameColumnIfNotExists      = "ALTER TABLE {table} ADD COLUMN IF NOT EXISTS player_name {type}"
	DropColumnTemplate            = "ALTER TABLE {table} DROP COLUMN {column}"
	CreateNameIndexIfNotExists    = "CREATE INDEX IF NOT EXISTS idx_{table}_player_name ON {table} (player_name)"
	CreateNameIndexTemplate       = "CREATE INDEX idx_{table}_player_name ON {table} (player_name)"
	UpsertOnDuplicateKeyTemplate  = "INSERT INTO {table} ({columns}) VALUES ({values}) ON DUPLICATE KEY UPDATE {updates}"
	UpsertOnConflictTemplate      = "INSERT INTO {table} ({columns}) VALUES ({values}) ON CONFLICT (player_uuid) DO UPDATE SET {updates}"
	UpsertInsertOrReplaceTemplate = "INSERT OR REPLACE INTO {table} ({columns}) VALUES ({values})"
)

// Placeholder returns the i-th (1-based) bind parameter.
func (d Dialect) Placeholder(i int) string {
	if d.Bind == BindDollar {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// Placeholders returns n comma separated parameters starting at start.
func (d Dialect) Placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// UpdateClause assigns every non-key column to its incoming value.
func (d Dialect) UpdateClause(columns []string) string {
	if d.UpdateAssignment == "" {
		return ""
	}
	var parts []string
	for _, col := range columns {
		if col == primaryKeyColumn {
			continue
		}
		parts = append(parts, fmt.Sprintf(d.UpdateAssignment, col))
	}
	return strings.Join(parts, ", ")
}

func (d Dialect) validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("sqlstore: dialect name is required")
	case d.UpsertTemplate == "":
		return fmt.Errorf("sqlstore: %s: upsert template is required", d.Name)
	case d.AddColumnTemplate == "":
		return fmt.Errorf("sqlstore: %s: add column template is required", d.Name)
	case d.CurrencyColumnType == "" || d.PrimaryKeyType == "":
		return fmt.Errorf("sqlstore: %s: column types are required", d.Name)
	}
	return nil
}

func render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
