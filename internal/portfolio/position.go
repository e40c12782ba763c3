package portfolio

import (
	"database/sql"

	"github.com/STTM-NSU/simtrade/internal/model"
)

// Position is the working form of a tracked symbol during one tick.
type Position struct {
	AccountID    int64
	Symbol       string
	Share        float64
	InAlgorithm  string
	InStance     model.Stance
	OutAlgorithm string
	OutStance    model.Stance
	FloatTrade   bool

	Count     float64
	Value     float64
	LastCount float64
	LastValue float64
	// Zero means no trade of that side yet.
	LastBuyPrice  float64
	LastSellPrice float64

	// Valid is false when the symbol has no price this tick.
	Valid         bool
	FailureReason string

	// Budget is NetValue * Share, recomputed every tick.
	Budget float64
}

func nullOr(v sql.NullFloat64, def float64) float64 {
	if v.Valid {
		return v.Float64
	}
	return def
}

func positive(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v > 0}
}

func NewPosition(p model.Position) *Position {
	value := nullOr(p.Value, 0)
	return &Position{
		AccountID:     p.AccountID,
		Symbol:        p.Symbol,
		Share:         p.Share,
		InAlgorithm:   p.InAlgorithm,
		InStance:      p.InStance,
		OutAlgorithm:  p.OutAlgorithm,
		OutStance:     p.OutStance,
		FloatTrade:    p.FloatTrade,
		Count:         p.Count,
		Value:         value,
		LastCount:     nullOr(p.LastCount, p.Count),
		LastValue:     nullOr(p.LastValue, value),
		LastBuyPrice:  nullOr(p.LastBuyPrice, 0),
		LastSellPrice: nullOr(p.LastSellPrice, 0),
		Valid:         p.Valid,
		FailureReason: p.FailureReason,
	}
}

func (p *Position) Model() model.Position {
	return model.Position{
		AccountID:     p.AccountID,
		Symbol:        p.Symbol,
		Share:         p.Share,
		InAlgorithm:   p.InAlgorithm,
		InStance:      p.InStance,
		OutAlgorithm:  p.OutAlgorithm,
		OutStance:     p.OutStance,
		FloatTrade:    p.FloatTrade,
		Count:         p.Count,
		Value:         positive(p.Value),
		LastCount:     sql.NullFloat64{Float64: p.LastCount, Valid: true},
		LastValue:     positive(p.LastValue),
		LastBuyPrice:  positive(p.LastBuyPrice),
		LastSellPrice: positive(p.LastSellPrice),
		Valid:         p.Valid,
		FailureReason: p.FailureReason,
	}
}

// Held is the marked value of the holding.
func (p *Position) Held() float64 {
	return p.Count * p.Value
}

// Flat reports whether nothing is held.
func (p *Position) Flat() bool {
	return p.Count == 0
}

// Algorithm returns the entry algorithm while flat and the exit one otherwise.
func (p *Position) Algorithm() (string, model.Stance) {
	if p.Flat() {
		return p.InAlgorithm, p.InStance
	}
	return p.OutAlgorithm, p.OutStance
}
