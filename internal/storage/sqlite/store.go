// Package sqlite is the INSERT OR REPLACE dialect of the relational store.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"

	"github.com/sheikh-saqib/currency-ledger/internal/storage/sqlstore"
)

// SQLite has no typed code for "duplicate column"; it reports SQLITE_ERROR.
var Dialect = sqlstore.Dialect{
	Name:                  "sqlite",
	DriverName:            "sqlite",
	PrimaryKeyType:        "TEXT",
	NameColumnType:        "TEXT",
	CurrencyColumnType:    "REAL",
	AddColumnTemplate:     sqlstore.AddColumnTemplate,
	AddNameColumnTemplate: sqlstore.AddNameColumnTemplate,
	DropColumnTemplate:    sqlstore.DropColumnTemplate,
	CreateIndexTemplate:   sqlstore.CreateNameIndexIfNotExists,
	UpsertTemplate:        sqlstore.UpsertInsertOrReplaceTemplate,
	ReplacesRow:           true,
	Bind:                  sqlstore.BindQuestion,
	SingleConnection:      true,
	IsDuplicate:           isDuplicate,
}

func isDuplicate(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	msg := strings.ToLower(sqliteErr.Error())
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}

// Open opens the database file, creating its directory if needed.
func Open(path string, opts sqlstore.Options) (*sqlstore.Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open(Dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	store, err := sqlstore.New(db, Dialect, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
