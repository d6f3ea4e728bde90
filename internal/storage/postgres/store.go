// Package postgres is the ON CONFLICT dialect of the relational store.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/sheikh-saqib/currency-ledger/internal/storage/sqlstore"
)

// SQLSTATE codes for objects that already exist.
const (
	codeDuplicateColumn = "42701"
	codeDuplicateTable  = "42P07"
	codeDuplicateObject = "42710"
)

var Dialect = sqlstore.Dialect{
	Name:                  "postgres",
	DriverName:            "postgres",
	PrimaryKeyType:        "VARCHAR(36)",
	NameColumnType:        "VARCHAR(32)",
	CurrencyColumnType:    "DECIMAL(19,4)",
	AddColumnTemplate:     sqlstore.AddColumnIfNotExistsTemplate,
	AddNameColumnTemplate: sqlstore.AddNameColumnIfNotExists,
	DropColumnTemplate:    sqlstore.DropColumnTemplate,
	CreateIndexTemplate:   sqlstore.CreateNameIndexIfNotExists,
	UpsertTemplate:        sqlstore.UpsertOnConflictTemplate,
	UpdateAssignment:      "%[1]s = EXCLUDED.%[1]s",
	Bind:                  sqlstore.BindDollar,
	IsDuplicate:           isDuplicate,
}

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case codeDuplicateColumn, codeDuplicateTable, codeDuplicateObject:
		return true
	}
	return false
}

// Config holds the connection settings.
type Config struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
}

// DSN renders a postgres:// URL for lib/pq.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	if c.DialTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.DialTimeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// NewPostgresLedgerStore wraps an existing handle.
func NewPostgresLedgerStore(db *sql.DB, opts sqlstore.Options) (*sqlstore.Store, error) {
	return sqlstore.New(db, Dialect, opts)
}

// Open opens a pooled connection and wraps it in the shared engine.
func Open(c Config, opts sqlstore.Options) (*sqlstore.Store, error) {
	db, err := sql.Open(Dialect.DriverName, c.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	store, err := NewPostgresLedgerStore(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
