package model

import (
	"fmt"
	"time"
)

type Action int

const (
	Buy Action = iota
	Sell
	BuyFailed
	SellFailed
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	case BuyFailed:
		return "buy_fail"
	case SellFailed:
		return "sell_fail"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

const (
	ReasonSuccess        = "success"
	ReasonNotEnoughCount = "not enough stock count"
	ReasonNotEnoughCash  = "not enough cash"
	ReasonNoPrice        = "no price"
)

// ActionFor maps a signed decision and its outcome to a ledger action.
func ActionFor(decision float64, ok bool) Action {
	switch {
	case decision > 0 && ok:
		return Buy
	case decision > 0:
		return BuyFailed
	case ok:
		return Sell
	default:
		return SellFailed
	}
}

// Order is an append-only ledger row.
type Order struct {
	OrderID       int64     `db:"order_id"`
	Ts            time.Time `db:"ts"`
	AccountID     int64     `db:"account_id"`
	Symbol        string    `db:"symbol"`
	Count         float64   `db:"count"`
	Price         float64   `db:"price"`
	Action        Action    `db:"action"`
	FailureReason string    `db:"failure_reason"`
}

// SignedQuantity is negative for sells.
func (o Order) SignedQuantity() float64 {
	switch o.Action {
	case Sell, SellFailed:
		return -o.Count
	default:
		return o.Count
	}
}

func (o Order) Succeeded() bool {
	return o.Action == Buy || o.Action == Sell
}

// OrderFilter selects the latest ledger row for "last order" lookups.
// Zero values match anything.
type OrderFilter struct {
	Symbol    string
	AccountID int64
	Actions   []Action
}

func (f OrderFilter) Match(o Order) bool {
	if f.Symbol != "" && f.Symbol != o.Symbol {
		return false
	}
	if f.AccountID != 0 && f.AccountID != o.AccountID {
		return false
	}
	if len(f.Actions) == 0 {
		return true
	}
	for _, a := range f.Actions {
		if a == o.Action {
			return true
		}
	}
	return false
}
