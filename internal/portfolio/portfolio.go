package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/storage"
	"github.com/STTM-NSU/simtrade/internal/tools"
)

// PriceSource resolves the newest quote at or before a moment.
type PriceSource interface {
	LatestQuote(ctx context.Context, symbol string, asOf time.Time) (model.Quote, error)
}

// OrderPlacer forwards an accepted order to the broker account.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, symbol string, quantity, price float64) error
}

// Account is the working form of an account and its positions for one tick.
type Account struct {
	ID              int64
	Type            model.AccountType
	BrokerAccountID string
	Mode            model.Mode
	NetValue        float64
	CashToTrade     float64
	InitialCash     float64

	fee       float64
	prices    PriceSource
	asOf      time.Time
	positions []*Position
	logger    logger.Logger
}

func NewAccount(a model.Account, positions []model.Position, fee float64, l logger.Logger) *Account {
	acc := &Account{
		ID:              a.ID,
		Type:            a.Type,
		BrokerAccountID: a.BrokerAccountID,
		Mode:            a.Mode,
		NetValue:        a.NetValue,
		CashToTrade:     a.CashToTrade,
		InitialCash:     a.InitialCash,
		fee:             fee,
		positions:       make([]*Position, 0, len(positions)),
		logger:          l.With("account", a.ID),
	}
	for _, p := range positions {
		acc.positions = append(acc.positions, NewPosition(p))
	}
	return acc
}

func (a *Account) Model() model.Account {
	return model.Account{
		ID:              a.ID,
		Type:            a.Type,
		BrokerAccountID: a.BrokerAccountID,
		Mode:            a.Mode,
		NetValue:        a.NetValue,
		CashToTrade:     a.CashToTrade,
		InitialCash:     a.InitialCash,
	}
}

func (a *Account) Positions() []*Position {
	return a.positions
}

func (a *Account) Fee() float64 {
	return a.fee
}

// RefreshMarks prices every position as of asOf, then recomputes NetValue
// and every Budget. Unpriced positions are marked invalid and left out of
// NetValue for this tick.
func (a *Account) RefreshMarks(ctx context.Context, prices PriceSource, asOf time.Time) error {
	a.prices, a.asOf = prices, asOf
	for _, p := range a.positions {
		if err := a.mark(ctx, p); err != nil {
			return err
		}
	}
	a.NetValue = a.netValue()
	for _, p := range a.positions {
		p.Budget = a.NetValue * p.Share
	}
	return nil
}

func (a *Account) mark(ctx context.Context, p *Position) error {
	q, err := a.prices.LatestQuote(ctx, p.Symbol, a.asOf)
	if errors.Is(err, storage.ErrNotFound) {
		p.Valid = false
		p.FailureReason = model.ReasonNoPrice
		a.logger.Warnf("no price for %s as of %s", p.Symbol, a.asOf.Format(time.DateTime))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: can't price %s", err, p.Symbol)
	}

	if p.Value > 0 {
		p.LastValue = p.Value
	}
	p.Value = q.Mid()
	if p.LastValue == 0 {
		p.LastValue = p.Value
	}
	p.Valid = true
	return nil
}

// netValue is cash plus every valid holding.
func (a *Account) netValue() float64 {
	values := make([]float64, 0, len(a.positions)+1)
	values = append(values, a.CashToTrade)
	for _, p := range a.positions {
		if p.Valid {
			values = append(values, tools.Notional(p.Count, p.Value))
		}
	}
	return tools.Sum(values...)
}

// GetOrCreatePosition returns the priced position for symbol. A symbol the
// account does not track yet is materialized flat if it can be priced at the
// account's clock. ok is false when the symbol has no price.
func (a *Account) GetOrCreatePosition(ctx context.Context, symbol string) (*Position, bool, error) {
	for _, p := range a.positions {
		if p.Symbol == symbol {
			return p, p.Valid, nil
		}
	}
	if a.prices == nil {
		return nil, false, nil
	}

	p := &Position{
		AccountID:    a.ID,
		Symbol:       symbol,
		InAlgorithm:  "hold",
		OutAlgorithm: "hold",
	}
	if err := a.mark(ctx, p); err != nil {
		return nil, false, err
	}
	if !p.Valid {
		return nil, false, nil
	}
	p.LastCount = p.Count
	a.positions = append(a.positions, p)
	return p, true, nil
}

const _countEpsilon = 1e-9

// ExecuteOrder applies a signed quantity at the position's mark. Sells beyond
// the held count and trades that would leave cash negative after the fee are
// rejected with a reason; they are not errors. placer may be nil.
func (a *Account) ExecuteOrder(ctx context.Context, placer OrderPlacer, p *Position, quantity float64) (bool, string) {
	price := p.Value
	if !p.Valid || price <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		p.FailureReason = model.ReasonNoPrice
		return false, p.FailureReason
	}

	if quantity < 0 && -quantity > p.Count+_countEpsilon {
		p.FailureReason = model.ReasonNotEnoughCount
		return false, p.FailureReason
	}
	cash := tools.SettleCash(a.CashToTrade, quantity, price, a.fee)
	if cash < 0 {
		p.FailureReason = model.ReasonNotEnoughCash
		return false, p.FailureReason
	}

	if placer != nil {
		if err := placer.PlaceMarketOrder(ctx, p.Symbol, quantity, price); err != nil {
			a.logger.Errorf("%s: broker rejected %v %s", err, quantity, p.Symbol)
			p.FailureReason = fmt.Sprintf("broker rejected: %s", err)
			return false, p.FailureReason
		}
	}

	a.CashToTrade = cash
	p.Count = tools.Sum(p.Count, quantity)
	if quantity > 0 {
		p.LastBuyPrice = price
	} else {
		p.LastSellPrice = price
	}
	p.FailureReason = model.ReasonSuccess
	return true, p.FailureReason
}

// Settle recomputes NetValue after the tick's trades.
func (a *Account) Settle() {
	a.NetValue = a.netValue()
}

// Report is the day snapshot of the account.
func (a *Account) Report(date time.Time) model.DayReport {
	a.Settle()
	return model.DayReport{
		AccountID:   a.ID,
		Date:        model.DateOf(date),
		NetValue:    a.NetValue,
		CashToTrade: a.CashToTrade,
	}
}
