package model

import (
	"database/sql"
	"time"
)

type Account struct {
	ID              int64       `db:"id"`
	Type            AccountType `db:"account_type"`
	BrokerAccountID string      `db:"broker_account_id"`
	Mode            Mode        `db:"mode"`
	NetValue        float64     `db:"net_value"`
	CashToTrade     float64     `db:"cash_to_trade"`
	InitialCash     float64     `db:"initial_cash"`
}

// Position is the stored form of a tracked symbol. Nullable columns are
// historical memory that did not exist for rows created by older versions.
type Position struct {
	AccountID     int64           `db:"account_id"`
	Symbol        string          `db:"symbol"`
	Share         float64         `db:"share"`
	InAlgorithm   string          `db:"in_algorithm"`
	InStance      Stance          `db:"in_stance"`
	OutAlgorithm  string          `db:"out_algorithm"`
	OutStance     Stance          `db:"out_stance"`
	FloatTrade    bool            `db:"float_trade"`
	Count         float64         `db:"count"`
	Value         sql.NullFloat64 `db:"value"`
	LastCount     sql.NullFloat64 `db:"last_count"`
	LastValue     sql.NullFloat64 `db:"last_value"`
	LastBuyPrice  sql.NullFloat64 `db:"last_buy_price"`
	LastSellPrice sql.NullFloat64 `db:"last_sell_price"`
	Valid         bool            `db:"valid"`
	FailureReason string          `db:"failure_reason"`
}

type DayReport struct {
	AccountID   int64     `db:"account_id"`
	Date        time.Time `db:"date"`
	NetValue    float64   `db:"net_value"`
	CashToTrade float64   `db:"cash_to_trade"`
}

func (r DayReport) Equity() float64 {
	return r.NetValue - r.CashToTrade
}
