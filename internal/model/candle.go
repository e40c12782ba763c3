package model

import "time"

// DayBar is one OHLCV row per symbol per date.
type DayBar struct {
	Symbol string    `db:"symbol" json:"symbol"`
	Date   time.Time `db:"date" json:"date"`
	Open   float64   `db:"open" json:"open"`
	High   float64   `db:"high" json:"high"`
	Low    float64   `db:"low" json:"low"`
	Close  float64   `db:"close" json:"close"`
	Volume float64   `db:"volume" json:"volume"`
}

// Range is high minus low.
func (b DayBar) Range() float64 {
	return b.High - b.Low
}

type Quote struct {
	Symbol string    `db:"symbol"`
	Ts     time.Time `db:"ts"`
	Ask    float64   `db:"ask"`
	Bid    float64   `db:"bid"`
}

func (q Quote) Mid() float64 {
	return (q.Ask + q.Bid) / 2
}
