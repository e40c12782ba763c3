// Package broker is the boundary to market data and order placement.
package broker

import (
	"context"
	"errors"

	"github.com/STTM-NSU/simtrade/internal/model"
)

var (
	ErrLoginFailed    = errors.New("broker login failed")
	ErrNoQuote        = errors.New("no quote")
	ErrUnknownAccount = errors.New("unknown broker account")
)

// Broker is the only surface the engine talks to during a tick.
type Broker interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	// GetQuote returns ErrNoQuote when the symbol can't be priced.
	GetQuote(ctx context.Context, symbol string) (model.Quote, error)
	// GetAccount returns ErrUnknownAccount for ids the broker doesn't know.
	GetAccount(ctx context.Context, accountID string) (Account, error)
}

type Account interface {
	PlaceMarketOrder(ctx context.Context, symbol string, quantity, price float64) error
}

// transient reports whether a failed call is worth repeating.
func transient(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNoQuote) &&
		!errors.Is(err, ErrUnknownAccount) &&
		!errors.Is(err, context.Canceled)
}
