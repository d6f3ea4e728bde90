// Package storage selects and initializes a ledger backend from settings.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
	"github.com/sheikh-saqib/currency-ledger/internal/storage/file"
	"github.com/sheikh-saqib/currency-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/currency-ledger/internal/storage/mysql"
	"github.com/sheikh-saqib/currency-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/currency-ledger/internal/storage/sqlite"
	"github.com/sheikh-saqib/currency-ledger/internal/storage/sqlstore"
)

// Kind names a backend.
type Kind string

const (
	KindJSON     Kind = "json"
	KindMySQL    Kind = "mysql"
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
	KindMemory   Kind = "memory"
)

var ErrUnknownStorage = errors.New("storage: unknown storage type")

var kindAliases = map[string]Kind{
	"json":       KindJSON,
	"yaml":       KindJSON, // never implemented, served by json
	"yml":        KindJSON,
	"mysql":      KindMySQL,
	"mariadb":    KindMySQL,
	"postgres":   KindPostgres,
	"postgresql": KindPostgres,
	"pg":         KindPostgres,
	"sqlite":     KindSQLite,
	"sqlite3":    KindSQLite,
	"memory":     KindMemory,
}

// ParseKind resolves a configured name case-insensitively.
func ParseKind(name string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStorage, name)
	}
	return k, nil
}

// Database holds connection settings shared by the relational backends.
type Database struct {
	Host            string        `env:"HOST" envDefault:"localhost"`
	Port            int           `env:"PORT" envDefault:"3306"`
	Name            string        `env:"NAME" envDefault:"currency"`
	User            string        `env:"USER" envDefault:"root"`
	Password        string        `env:"PASSWORD"`
	SSLMode         string        `env:"SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	DialTimeout     time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
}

// Settings selects and configures a backend.
type Settings struct {
	Type     string   `env:"TYPE" envDefault:"json"`
	Threads  int      `env:"THREADS" envDefault:"2"`
	DataDir  string   `env:"DATA_DIR" envDefault:"data"`
	Table    string   `env:"TABLE" envDefault:"player_currencies"`
	Database Database `envPrefix:"DB_"`
}

// JSONDir is where the file backend keeps player documents.
func (s Settings) JSONDir() string { return filepath.Join(s.DataDir, "playerdata") }

// SQLitePath is the database file for the sqlite backend.
func (s Settings) SQLitePath() string { return filepath.Join(s.DataDir, "currency.db") }

// Deps are the collaborators every backend receives.
type Deps struct {
	Currencies *models.Currencies
	Online     interfaces.OnlineEntries
	Logger     *slog.Logger
}

// New constructs the backend for kind without initializing it.
func New(kind Kind, s Settings, deps Deps) (interfaces.LedgerStore, error) {
	sqlOpts := sqlstore.Options{
		Table:      s.Table,
		Currencies: deps.Currencies,
		Online:     deps.Online,
		Logger:     deps.Logger,
	}
	db := s.Database
	switch kind {
	case KindJSON:
		return newJSON(s, deps), nil
	case KindMemory:
		return memory.NewMemoryLedgerStore(deps.Currencies, deps.Online), nil
	case KindSQLite:
		return sqlite.Open(s.SQLitePath(), sqlOpts)
	case KindMySQL:
		return mysql.Open(mysql.Config{
			Host: db.Host, Port: db.Port, Database: db.Name, User: db.User, Password: db.Password,
			MaxOpenConns: db.MaxOpenConns, MaxIdleConns: db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime, DialTimeout: db.DialTimeout,
		}, sqlOpts)
	case KindPostgres:
		return postgres.Open(postgres.Config{
			Host: db.Host, Port: db.Port, Database: db.Name, User: db.User, Password: db.Password,
			SSLMode:      db.SSLMode,
			MaxOpenConns: db.MaxOpenConns, MaxIdleConns: db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime, DialTimeout: db.DialTimeout,
		}, sqlOpts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, kind)
}

func newJSON(s Settings, deps Deps) *file.Store {
	return file.New(s.JSONDir(), file.Options{
		Currencies: deps.Currencies,
		Online:     deps.Online,
		Logger:     deps.Logger,
	})
}

// Open builds and initializes the configured backend. If a non-json backend
// fails to construct or initialize, it falls back once to the json backend;
// a json failure is returned to the caller as fatal.
func Open(ctx context.Context, s Settings, deps Deps) (interfaces.LedgerStore, Kind, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
		deps.Logger = logger
	}

	kind, err := ParseKind(s.Type)
	if err != nil {
		logger.Warn("unknown storage type, using json", "type", s.Type)
		kind = KindJSON
	}

	store, err := New(kind, s, deps)
	if err == nil {
		if err = store.Initialize(ctx); err == nil {
			logger.Info("storage ready", "type", kind)
			return store, kind, nil
		}
		_ = store.Unload(ctx)
	}
	if kind == KindJSON {
		return nil, kind, fmt.Errorf("initialize json storage: %w", err)
	}

	logger.Warn("failed to initialize storage, falling back to json", "type", kind, "error", err)
	fallback := newJSON(s, deps)
	if ferr := fallback.Initialize(ctx); ferr != nil {
		return nil, KindJSON, fmt.Errorf("initialize json fallback: %w", ferr)
	}
	return fallback, KindJSON, nil
}
