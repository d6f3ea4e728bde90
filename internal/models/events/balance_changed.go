package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const BalanceChangedTopic = "currency_balance_changed"

// BalanceChanged is emitted after a successful balance mutation.
type BalanceChanged struct {
	PlayerID   string          `json:"player_id"`
	Currency   string          `json:"currency"`
	OldAmount  decimal.Decimal `json:"old_amount"`
	NewAmount  decimal.Decimal `json:"new_amount"`
	Reason     string          `json:"reason"` // deposit, withdraw, set, transfer_in, transfer_out, auto_grant
	OccurredAt time.Time       `json:"occurred_at"`
}

// EventKey partitions events by player.
func (e BalanceChanged) EventKey() string { return e.PlayerID }
