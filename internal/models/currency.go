package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency describes one configured currency.
type Currency struct {
	ID            string          `yaml:"id" json:"id"`
	Name          string          `yaml:"name" json:"name"`
	Symbol        string          `yaml:"symbol" json:"symbol"`
	Format        string          `yaml:"format" json:"format"` // e.g. "%symbol%%amount%"
	Leaderboard   bool            `yaml:"leaderboard" json:"leaderboard"`
	AutoGrant     bool            `yaml:"auto_grant" json:"auto_grant"`
	DefaultAmount decimal.Decimal `yaml:"default_amount" json:"default_amount"`
	Default       bool            `yaml:"default" json:"default"` // marks the account currency
}

// FormatAmount substitutes the symbol and amount into the format template.
func (c Currency) FormatAmount(amount string) string {
	format := c.Format
	if format == "" {
		format = "%symbol%%amount%"
	}
	return strings.NewReplacer("%symbol%", c.Symbol, "%amount%", amount).Replace(format)
}

var ErrInvalidCurrency = errors.New("models: invalid currency")

var invalidKeyChars = regexp.MustCompile(`[^a-z0-9_]`)

// StorageKey is the lower-cased id with every character outside [a-z0-9_]
// replaced by '_'. Relational backends derive column names from it.
func StorageKey(id string) string {
	return invalidKeyChars.ReplaceAllString(strings.ToLower(id), "_")
}

// Currencies is the immutable currency table, in configuration order.
type Currencies struct {
	order []string
	byID  map[string]Currency
	def   string
}

// NewCurrencies validates and indexes a currency table.
func NewCurrencies(list ...Currency) (*Currencies, error) {
	cs := &Currencies{byID: make(map[string]Currency, len(list))}
	keys := make(map[string]string, len(list))
	for _, c := range list {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidCurrency)
		}
		if _, dup := cs.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCurrency, c.ID)
		}
		if other, ok := keys[StorageKey(c.ID)]; ok {
			return nil, fmt.Errorf("%w: %q and %q share storage key %q", ErrInvalidCurrency, other, c.ID, StorageKey(c.ID))
		}
		keys[StorageKey(c.ID)] = c.ID
		if c.DefaultAmount.IsNegative() {
			return nil, fmt.Errorf("%w: %q default amount is negative", ErrInvalidCurrency, c.ID)
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		c.DefaultAmount = Normalize(c.DefaultAmount)
		cs.byID[c.ID] = c
		cs.order = append(cs.order, c.ID)
		if c.Default && cs.def == "" {
			cs.def = c.ID
		}
	}
	if cs.def == "" && len(cs.order) > 0 {
		cs.def = cs.order[0]
	}
	return cs, nil
}

// MustCurrencies is NewCurrencies for static tables; it panics on error.
func MustCurrencies(list ...Currency) *Currencies {
	cs, err := NewCurrencies(list...)
	if err != nil {
		panic(err)
	}
	return cs
}

func (cs *Currencies) Get(id string) (Currency, bool) {
	if cs == nil {
		return Currency{}, false
	}
	c, ok := cs.byID[id]
	return c, ok
}

func (cs *Currencies) Exists(id string) bool {
	_, ok := cs.Get(id)
	return ok
}

// IDs returns the currency ids in configuration order.
func (cs *Currencies) IDs() []string {
	if cs == nil {
		return nil
	}
	return append([]string(nil), cs.order...)
}

// All returns the currencies in configuration order.
func (cs *Currencies) All() []Currency {
	if cs == nil {
		return nil
	}
	out := make([]Currency, 0, len(cs.order))
	for _, id := range cs.order {
		out = append(out, cs.byID[id])
	}
	return out
}

// Default returns the account currency id, or "" for an empty table.
func (cs *Currencies) Default() string {
	if cs == nil {
		return ""
	}
	return cs.def
}

func (cs *Currencies) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.order)
}

// With returns a copy of the table with c appended.
func (cs *Currencies) With(c Currency) (*Currencies, error) {
	return NewCurrencies(append(cs.All(), c)...)
}

// Without returns a copy of the table without the given id.
func (cs *Currencies) Without(id string) *Currencies {
	var rest []Currency
	for _, c := range cs.All() {
		if c.ID != id {
			rest = append(rest, c)
		}
	}
	out, _ := NewCurrencies(rest...)
	return out
}
