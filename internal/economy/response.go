package economy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ResponseType is the outcome kind of an economy operation.
type ResponseType int

const (
	Success ResponseType = iota
	Failure
	AccountNotFound
	PlayerNotOnline
	InsufficientFunds
	InvalidCurrency
	InvalidAmount
	InternalError
)

var responseNames = [...]string{
	Success:           "SUCCESS",
	Failure:           "FAILURE",
	AccountNotFound:   "ACCOUNT_NOT_FOUND",
	PlayerNotOnline:   "PLAYER_NOT_ONLINE",
	InsufficientFunds: "INSUFFICIENT_FUNDS",
	InvalidCurrency:   "INVALID_CURRENCY",
	InvalidAmount:     "INVALID_AMOUNT",
	InternalError:     "INTERNAL_ERROR",
}

func (t ResponseType) String() string {
	if t < 0 || int(t) >= len(responseNames) {
		return fmt.Sprintf("ResponseType(%d)", int(t))
	}
	return responseNames[t]
}

func (t ResponseType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Response is the result of every facade operation. On success Amount is the
// transaction amount and Balance the resulting balance; on insufficient funds
// Balance carries the current balance.
type Response struct {
	Type    ResponseType    `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
	Message string          `json:"message,omitempty"`
}

func (r Response) OK() bool { return r.Type == Success }

func success(amount, balance decimal.Decimal) Response {
	return Response{Type: Success, Amount: amount, Balance: balance}
}

func failure(t ResponseType, msg string) Response {
	return Response{Type: t, Amount: decimal.Zero, Balance: decimal.Zero, Message: msg}
}

func insufficientFunds(balance decimal.Decimal) Response {
	return Response{Type: InsufficientFunds, Amount: decimal.Zero, Balance: balance, Message: "insufficient funds"}
}

func playerNotOnline() Response { return failure(PlayerNotOnline, "player is not online") }

func accountNotFound() Response { return failure(AccountNotFound, "account does not exist") }

func invalidCurrency(id string) Response {
	return failure(InvalidCurrency, "invalid currency: "+id)
}

func invalidAmount(msg string) Response { return failure(InvalidAmount, msg) }

func internalError(err error) Response { return failure(InternalError, err.Error()) }
