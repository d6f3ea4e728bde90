// Package mysql is the ON DUPLICATE KEY dialect of the relational store.
package mysql

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/sheikh-saqib/currency-ledger/internal/storage/sqlstore"
)

// MySQL error numbers for objects that already exist.
const (
	errDupFieldName = 1060
	errDupKeyName   = 1061
	errTableExists  = 1050
)

var Dialect = sqlstore.Dialect{
	Name:                  "mysql",
	DriverName:            "mysql",
	PrimaryKeyType:        "VARCHAR(36)",
	NameColumnType:        "VARCHAR(32)",
	CurrencyColumnType:    "DECIMAL(19,4)",
	AddColumnTemplate:     sqlstore.AddColumnTemplate,
	AddNameColumnTemplate: sqlstore.AddNameColumnTemplate,
	DropColumnTemplate:    sqlstore.DropColumnTemplate,
	CreateIndexTemplate:   sqlstore.CreateNameIndexTemplate,
	UpsertTemplate:        sqlstore.UpsertOnDuplicateKeyTemplate,
	UpdateAssignment:      "%[1]s = VALUES(%[1]s)",
	Bind:                  sqlstore.BindQuestion,
	IsDuplicate:           isDuplicate,
}

func isDuplicate(err error) bool {
	var myErr *driver.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case errDupFieldName, errDupKeyName, errTableExists:
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
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
}

// DSN renders the driver connection string.
func (c Config) DSN() string {
	cfg := driver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.Timeout = c.DialTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open opens a pooled connection and wraps it in the shared engine.
func Open(c Config, opts sqlstore.Options) (*sqlstore.Store, error) {
	db, err := sql.Open(Dialect.DriverName, c.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql db: %w", err)
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
	store, err := sqlstore.New(db, Dialect, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
