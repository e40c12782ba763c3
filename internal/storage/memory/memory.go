// Package memory keeps the whole store in process. It backs simulations
// that do not need a database and every engine test.
package memory

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

type positionKey struct {
	accountID int64
	symbol    string
}

type seriesKey struct {
	symbol string
	unix   int64
}

type reportKey struct {
	accountID int64
	unix      int64
}

type state struct {
	accounts  map[int64]model.Account
	positions map[positionKey]model.Position
	quotes    map[seriesKey]model.Quote
	dayBars   map[seriesKey]model.DayBar
	simBars   map[seriesKey]model.DayBar
	orders    []model.Order
	reports   map[reportKey]model.DayReport
	cooldowns map[string]int
	orderID   sql.NullInt64
}

func newState() *state {
	return &state{
		accounts:  make(map[int64]model.Account),
		positions: make(map[positionKey]model.Position),
		quotes:    make(map[seriesKey]model.Quote),
		dayBars:   make(map[seriesKey]model.DayBar),
		simBars:   make(map[seriesKey]model.DayBar),
		reports:   make(map[reportKey]model.DayReport),
		cooldowns: make(map[string]int),
	}
}

func (s *state) clone() *state {
	return &state{
		accounts:  maps.Clone(s.accounts),
		positions: maps.Clone(s.positions),
		quotes:    maps.Clone(s.quotes),
		dayBars:   maps.Clone(s.dayBars),
		simBars:   maps.Clone(s.simBars),
		orders:    slices.Clone(s.orders),
		reports:   maps.Clone(s.reports),
		cooldowns: maps.Clone(s.cooldowns),
		orderID:   s.orderID,
	}
}

// Store is safe for sequential use. RunInTx serializes transactions and
// works on a copy that replaces the live state only when fn succeeds.
type Store struct {
	mu sync.Mutex
	view
}

func New() *Store {
	return &Store{view: view{st: newState()}}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &view{st: s.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

type view struct {
	st *state
}

func barKey(symbol string, date time.Time) seriesKey {
	return seriesKey{symbol: symbol, unix: model.DateOf(date).Unix()}
}

func (v *view) Accounts(_ context.Context) ([]model.Account, error) {
	accounts := slices.Collect(maps.Values(v.st.accounts))
	slices.SortFunc(accounts, func(a, b model.Account) int { return cmp.Compare(a.ID, b.ID) })
	return accounts, nil
}

func (v *view) Positions(_ context.Context, accountID int64) ([]model.Position, error) {
	positions := make([]model.Position, 0)
	for k, p := range v.st.positions {
		if k.accountID == accountID {
			positions = append(positions, p)
		}
	}
	slices.SortFunc(positions, func(a, b model.Position) int { return cmp.Compare(a.Symbol, b.Symbol) })
	return positions, nil
}

func (v *view) Symbols(_ context.Context) ([]string, error) {
	set := make(map[string]struct{})
	for k := range v.st.positions {
		set[k.symbol] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set)), nil
}

func (v *view) LatestQuote(_ context.Context, symbol string, asOf time.Time) (model.Quote, error) {
	var (
		latest model.Quote
		found  bool
	)
	for k, q := range v.st.quotes {
		if k.symbol != symbol || q.Ts.After(asOf) {
			continue
		}
		if !found || q.Ts.After(latest.Ts) {
			latest, found = q, true
		}
	}
	if !found {
		return model.Quote{}, storage.ErrNotFound
	}
	return latest, nil
}

func selectBars(bars map[seriesKey]model.DayBar, symbol string, keep func(time.Time) bool, limit int) []model.DayBar {
	out := make([]model.DayBar, 0)
	for k, b := range bars {
		if k.symbol == symbol && keep(b.Date) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b model.DayBar) int { return b.Date.Compare(a.Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (v *view) DayBars(_ context.Context, symbol string, before time.Time, limit int) ([]model.DayBar, error) {
	before = model.DateOf(before)
	return selectBars(v.st.dayBars, symbol, func(d time.Time) bool { return d.Before(before) }, limit), nil
}

func (v *view) HasDayBar(_ context.Context, symbol string, date time.Time) (bool, error) {
	_, ok := v.st.dayBars[barKey(symbol, date)]
	return ok, nil
}

func (v *view) SimBars(_ context.Context, symbol string, upTo time.Time, limit int) ([]model.DayBar, error) {
	upTo = model.DateOf(upTo)
	return selectBars(v.st.simBars, symbol, func(d time.Time) bool { return !d.After(upTo) }, limit), nil
}

func (v *view) HasSimBar(_ context.Context, symbol string, date time.Time) (bool, error) {
	_, ok := v.st.simBars[barKey(symbol, date)]
	return ok, nil
}

func (v *view) SimBarBounds(_ context.Context, from, to time.Time) (time.Time, time.Time, error) {
	var first, last time.Time
	for _, b := range v.st.simBars {
		if !from.IsZero() && b.Date.Before(model.DateOf(from)) {
			continue
		}
		if !to.IsZero() && b.Date.After(model.DateOf(to)) {
			continue
		}
		if first.IsZero() || b.Date.Before(first) {
			first = b.Date
		}
		if last.IsZero() || b.Date.After(last) {
			last = b.Date
		}
	}
	if first.IsZero() {
		return time.Time{}, time.Time{}, storage.ErrNotFound
	}
	return first, last, nil
}

func compareOrders(a, b model.Order) int {
	if c := a.Ts.Compare(b.Ts); c != 0 {
		return c
	}
	return cmp.Compare(a.OrderID, b.OrderID)
}

func (v *view) LastOrder(_ context.Context, f model.OrderFilter) (model.Order, error) {
	var (
		last  model.Order
		found bool
	)
	for _, o := range v.st.orders {
		if !f.Match(o) {
			continue
		}
		if !found || compareOrders(o, last) > 0 {
			last, found = o, true
		}
	}
	if !found {
		return model.Order{}, storage.ErrNotFound
	}
	return last, nil
}

func (v *view) Orders(_ context.Context) ([]model.Order, error) {
	orders := slices.Clone(v.st.orders)
	slices.SortStableFunc(orders, compareOrders)
	return orders, nil
}

func (v *view) DayReports(_ context.Context) ([]model.DayReport, error) {
	reports := slices.Collect(maps.Values(v.st.reports))
	slices.SortFunc(reports, func(a, b model.DayReport) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.AccountID, b.AccountID)
	})
	return reports, nil
}

func (v *view) Cooldowns(_ context.Context) (map[string]int, error) {
	return maps.Clone(v.st.cooldowns), nil
}

func (v *view) OrderID(_ context.Context) (int64, error) {
	if !v.st.orderID.Valid {
		return 0, storage.ErrNotFound
	}
	return v.st.orderID.Int64, nil
}

func (v *view) UpsertAccount(_ context.Context, a model.Account) error {
	if cur, ok := v.st.accounts[a.ID]; ok {
		cur.Type = a.Type
		cur.BrokerAccountID = a.BrokerAccountID
		cur.InitialCash = a.InitialCash
		v.st.accounts[a.ID] = cur
		return nil
	}
	v.st.accounts[a.ID] = a
	return nil
}

func (v *view) UpdateAccount(_ context.Context, a model.Account) error {
	cur, ok := v.st.accounts[a.ID]
	if !ok {
		return fmt.Errorf("%w: account %d", storage.ErrNotFound, a.ID)
	}
	cur.Mode = a.Mode
	cur.NetValue = a.NetValue
	cur.CashToTrade = a.CashToTrade
	v.st.accounts[a.ID] = cur
	return nil
}

func (v *view) UpsertPositionConfig(_ context.Context, p model.Position) error {
	k := positionKey{accountID: p.AccountID, symbol: p.Symbol}
	if cur, ok := v.st.positions[k]; ok {
		cur.Share = p.Share
		cur.InAlgorithm, cur.InStance = p.InAlgorithm, p.InStance
		cur.OutAlgorithm, cur.OutStance = p.OutAlgorithm, p.OutStance
		cur.FloatTrade = p.FloatTrade
		v.st.positions[k] = cur
		return nil
	}
	v.st.positions[k] = p
	return nil
}

func (v *view) UpdatePosition(_ context.Context, p model.Position) error {
	k := positionKey{accountID: p.AccountID, symbol: p.Symbol}
	cur, ok := v.st.positions[k]
	if !ok {
		return fmt.Errorf("%w: position %d/%s", storage.ErrNotFound, p.AccountID, p.Symbol)
	}
	cur.Count = p.Count
	cur.Value = p.Value
	cur.LastCount = p.LastCount
	cur.LastValue = p.LastValue
	cur.LastBuyPrice = p.LastBuyPrice
	cur.LastSellPrice = p.LastSellPrice
	cur.Valid = p.Valid
	cur.FailureReason = p.FailureReason
	v.st.positions[k] = cur
	return nil
}

func (v *view) SaveQuote(_ context.Context, q model.Quote) error {
	v.st.quotes[seriesKey{symbol: q.Symbol, unix: q.Ts.UnixNano()}] = q
	return nil
}

func (v *view) InsertDayBar(_ context.Context, b model.DayBar) error {
	b.Date = model.DateOf(b.Date)
	k := barKey(b.Symbol, b.Date)
	if _, ok := v.st.dayBars[k]; !ok {
		v.st.dayBars[k] = b
	}
	return nil
}

func (v *view) InsertSimBar(_ context.Context, b model.DayBar) error {
	b.Date = model.DateOf(b.Date)
	k := barKey(b.Symbol, b.Date)
	if _, ok := v.st.simBars[k]; !ok {
		v.st.simBars[k] = b
	}
	return nil
}

func (v *view) InsertOrder(_ context.Context, o model.Order) error {
	for _, existing := range v.st.orders {
		if existing.OrderID == o.OrderID {
			return fmt.Errorf("order id %d already used", o.OrderID)
		}
	}
	v.st.orders = append(v.st.orders, o)
	return nil
}

func (v *view) ReplaceDayReport(_ context.Context, r model.DayReport) error {
	r.Date = model.DateOf(r.Date)
	v.st.reports[reportKey{accountID: r.AccountID, unix: r.Date.Unix()}] = r
	return nil
}

func (v *view) SaveCooldowns(_ context.Context, c map[string]int) error {
	v.st.cooldowns = maps.Clone(c)
	if v.st.cooldowns == nil {
		v.st.cooldowns = make(map[string]int)
	}
	return nil
}

func (v *view) SaveOrderID(_ context.Context, id int64) error {
	v.st.orderID = sql.NullInt64{Int64: id, Valid: true}
	return nil
}

func (v *view) ResetSimulation(_ context.Context, orderIDBase int64) error {
	v.st.orders = nil
	v.st.quotes = make(map[seriesKey]model.Quote)
	v.st.reports = make(map[reportKey]model.DayReport)
	v.st.dayBars = make(map[seriesKey]model.DayBar)
	v.st.cooldowns = make(map[string]int)
	v.st.orderID = sql.NullInt64{Int64: orderIDBase, Valid: true}

	for id, a := range v.st.accounts {
		a.Mode = model.Setup
		a.CashToTrade = a.InitialCash
		a.NetValue = a.InitialCash
		v.st.accounts[id] = a
	}
	for k, p := range v.st.positions {
		p.Count = 0
		p.Value = sql.NullFloat64{}
		p.LastCount = sql.NullFloat64{}
		p.LastValue = sql.NullFloat64{}
		p.LastBuyPrice = sql.NullFloat64{}
		p.LastSellPrice = sql.NullFloat64{}
		p.Valid = true
		p.FailureReason = ""
		v.st.positions[k] = p
	}
	return nil
}
