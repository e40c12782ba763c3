package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

// Store is the postgres implementation of storage.Store.
type Store struct {
	db *sqlx.DB
	repo
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, repo: repo{q: db}}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: can't begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("%w: can't commit transaction", cErr)
		}
	}()

	return fn(ctx, &repo{q: tx})
}

// repo runs the same queries on the pool or inside a transaction.
type repo struct {
	q sqlx.ExtContext
}

// dateArg passes calendar dates as text so the session time zone can't
// shift them.
func dateArg(t time.Time) string {
	return model.DateOf(t).Format(time.DateOnly)
}

func normalizeBars(bars []model.DayBar) []model.DayBar {
	for i := range bars {
		bars[i].Date = model.DateOf(bars[i].Date)
	}
	return bars
}

const (
	_queryAccounts  = "SELECT id, account_type, broker_account_id, mode, net_value, cash_to_trade, initial_cash FROM accounts ORDER BY id"
	_queryPositions = `SELECT account_id, symbol, share, in_algorithm, in_stance, out_algorithm, out_stance, float_trade,
							count, value, last_count, last_value, last_buy_price, last_sell_price, valid, failure_reason
						FROM positions WHERE account_id = $1 ORDER BY symbol`
	_querySymbols = "SELECT DISTINCT symbol FROM positions ORDER BY symbol"
)

func (r *repo) Accounts(ctx context.Context) ([]model.Account, error) {
	accounts := make([]model.Account, 0)
	if err := sqlx.SelectContext(ctx, r.q, &accounts, _queryAccounts); err != nil {
		return nil, fmt.Errorf("%w: can't query accounts", err)
	}
	return accounts, nil
}

func (r *repo) Positions(ctx context.Context, accountID int64) ([]model.Position, error) {
	positions := make([]model.Position, 0)
	if err := sqlx.SelectContext(ctx, r.q, &positions, _queryPositions, accountID); err != nil {
		return nil, fmt.Errorf("%w: can't query positions of account %d", err, accountID)
	}
	return positions, nil
}

func (r *repo) Symbols(ctx context.Context) ([]string, error) {
	symbols := make([]string, 0)
	if err := sqlx.SelectContext(ctx, r.q, &symbols, _querySymbols); err != nil {
		return nil, fmt.Errorf("%w: can't query symbols", err)
	}
	return symbols, nil
}

const _queryLatestQuote = "SELECT symbol, ts, ask, bid FROM quotes WHERE symbol = $1 AND ts <= $2 ORDER BY ts DESC LIMIT 1"

func (r *repo) LatestQuote(ctx context.Context, symbol string, asOf time.Time) (model.Quote, error) {
	var q model.Quote
	if err := sqlx.GetContext(ctx, r.q, &q, _queryLatestQuote, symbol, asOf); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Quote{}, storage.ErrNotFound
		}
		return model.Quote{}, fmt.Errorf("%w: can't query quote of %s", err, symbol)
	}
	return q, nil
}

const (
	_queryDayBars = `SELECT symbol, date, open, high, low, close, volume FROM day_history
						WHERE symbol = $1 AND date < $2::date ORDER BY date DESC LIMIT $3`
	_queryHasDayBar = "SELECT EXISTS (SELECT 1 FROM day_history WHERE symbol = $1 AND date = $2::date)"
	_querySimBars   = `SELECT symbol, date, open, high, low, close, volume FROM sim_history
						WHERE symbol = $1 AND date <= $2::date ORDER BY date DESC LIMIT $3`
	_queryHasSimBar    = "SELECT EXISTS (SELECT 1 FROM sim_history WHERE symbol = $1 AND date = $2::date)"
	_querySimBarBounds = `SELECT MIN(date) AS first, MAX(date) AS last FROM sim_history
						WHERE ($1::date IS NULL OR date >= $1::date) AND ($2::date IS NULL OR date <= $2::date)`
)

// limitArg maps a non-positive limit to LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (r *repo) DayBars(ctx context.Context, symbol string, before time.Time, limit int) ([]model.DayBar, error) {
	bars := make([]model.DayBar, 0)
	if err := sqlx.SelectContext(ctx, r.q, &bars, _queryDayBars, symbol, dateArg(before), limitArg(limit)); err != nil {
		return nil, fmt.Errorf("%w: can't query day history of %s", err, symbol)
	}
	return normalizeBars(bars), nil
}

func (r *repo) HasDayBar(ctx context.Context, symbol string, date time.Time) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, r.q, &exists, _queryHasDayBar, symbol, dateArg(date)); err != nil {
		return false, fmt.Errorf("%w: can't check day history of %s", err, symbol)
	}
	return exists, nil
}

func (r *repo) SimBars(ctx context.Context, symbol string, upTo time.Time, limit int) ([]model.DayBar, error) {
	bars := make([]model.DayBar, 0)
	if err := sqlx.SelectContext(ctx, r.q, &bars, _querySimBars, symbol, dateArg(upTo), limitArg(limit)); err != nil {
		return nil, fmt.Errorf("%w: can't query sim history of %s", err, symbol)
	}
	return normalizeBars(bars), nil
}

func (r *repo) HasSimBar(ctx context.Context, symbol string, date time.Time) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, r.q, &exists, _queryHasSimBar, symbol, dateArg(date)); err != nil {
		return false, fmt.Errorf("%w: can't check sim history of %s", err, symbol)
	}
	return exists, nil
}

func (r *repo) SimBarBounds(ctx context.Context, from, to time.Time) (time.Time, time.Time, error) {
	var (
		bounds struct {
			First sql.NullTime `db:"first"`
			Last  sql.NullTime `db:"last"`
		}
		fromArg, toArg any
	)
	if !from.IsZero() {
		fromArg = dateArg(from)
	}
	if !to.IsZero() {
		toArg = dateArg(to)
	}
	if err := sqlx.GetContext(ctx, r.q, &bounds, _querySimBarBounds, fromArg, toArg); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: can't query sim history bounds", err)
	}
	if !bounds.First.Valid {
		return time.Time{}, time.Time{}, storage.ErrNotFound
	}
	return model.DateOf(bounds.First.Time), model.DateOf(bounds.Last.Time), nil
}

const (
	_queryOrderColumns = "SELECT order_id, ts, account_id, symbol, count, price, action, failure_reason FROM orders"
	_queryOrders       = _queryOrderColumns + " ORDER BY ts, order_id"
	_queryDayReports   = "SELECT account_id, date, net_value, cash_to_trade FROM day_reports ORDER BY date, account_id"
)

func (r *repo) LastOrder(ctx context.Context, f model.OrderFilter) (model.Order, error) {
	query := _queryOrderColumns + " WHERE ($1 = '' OR symbol = $1) AND ($2 = 0 OR account_id = $2)"
	args := []any{f.Symbol, f.AccountID}
	if len(f.Actions) > 0 {
		actions := make([]int64, 0, len(f.Actions))
		for _, a := range f.Actions {
			actions = append(actions, int64(a))
		}
		query += " AND action = ANY($3)"
		args = append(args, pq.Array(actions))
	}
	query += " ORDER BY ts DESC, order_id DESC LIMIT 1"

	var o model.Order
	if err := sqlx.GetContext(ctx, r.q, &o, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, storage.ErrNotFound
		}
		return model.Order{}, fmt.Errorf("%w: can't query last order", err)
	}
	return o, nil
}

func (r *repo) Orders(ctx context.Context) ([]model.Order, error) {
	orders := make([]model.Order, 0)
	if err := sqlx.SelectContext(ctx, r.q, &orders, _queryOrders); err != nil {
		return nil, fmt.Errorf("%w: can't query orders", err)
	}
	return orders, nil
}

func (r *repo) DayReports(ctx context.Context) ([]model.DayReport, error) {
	reports := make([]model.DayReport, 0)
	if err := sqlx.SelectContext(ctx, r.q, &reports, _queryDayReports); err != nil {
		return nil, fmt.Errorf("%w: can't query day reports", err)
	}
	for i := range reports {
		reports[i].Date = model.DateOf(reports[i].Date)
	}
	return reports, nil
}

const (
	_queryCooldowns = "SELECT symbol, remaining FROM cooldowns"
	_queryOrderID   = "SELECT value FROM counters WHERE name = 'order_id'"
)

func (r *repo) Cooldowns(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Symbol    string `db:"symbol"`
		Remaining int    `db:"remaining"`
	}
	if err := sqlx.SelectContext(ctx, r.q, &rows, _queryCooldowns); err != nil {
		return nil, fmt.Errorf("%w: can't query cooldowns", err)
	}
	cooldowns := make(map[string]int, len(rows))
	for _, row := range rows {
		cooldowns[row.Symbol] = row.Remaining
	}
	return cooldowns, nil
}

func (r *repo) OrderID(ctx context.Context) (int64, error) {
	var id int64
	if err := sqlx.GetContext(ctx, r.q, &id, _queryOrderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("%w: can't query order id", err)
	}
	return id, nil
}

const (
	_upsertAccount = `INSERT INTO accounts (id, account_type, broker_account_id, mode, net_value, cash_to_trade, initial_cash)
						VALUES (:id, :account_type, :broker_account_id, :mode, :net_value, :cash_to_trade, :initial_cash)
						ON CONFLICT (id) DO UPDATE SET
							account_type = EXCLUDED.account_type,
							broker_account_id = EXCLUDED.broker_account_id,
							initial_cash = EXCLUDED.initial_cash`
	_updateAccount = "UPDATE accounts SET mode = :mode, net_value = :net_value, cash_to_trade = :cash_to_trade WHERE id = :id"

	_upsertPositionConfig = `INSERT INTO positions (
								account_id, symbol, share, in_algorithm, in_stance, out_algorithm, out_stance, float_trade,
								count, value, last_count, last_value, last_buy_price, last_sell_price, valid, failure_reason
							) VALUES (
								:account_id, :symbol, :share, :in_algorithm, :in_stance, :out_algorithm, :out_stance, :float_trade,
								:count, :value, :last_count, :last_value, :last_buy_price, :last_sell_price, :valid, :failure_reason
							)
							ON CONFLICT (account_id, symbol) DO UPDATE SET
								share = EXCLUDED.share,
								in_algorithm = EXCLUDED.in_algorithm,
								in_stance = EXCLUDED.in_stance,
								out_algorithm = EXCLUDED.out_algorithm,
								out_stance = EXCLUDED.out_stance,
								float_trade = EXCLUDED.float_trade`
	_updatePosition = `UPDATE positions SET
							count = :count,
							value = :value,
							last_count = :last_count,
							last_value = :last_value,
							last_buy_price = :last_buy_price,
							last_sell_price = :last_sell_price,
							valid = :valid,
							failure_reason = :failure_reason
						WHERE account_id = :account_id AND symbol = :symbol`
)

func (r *repo) UpsertAccount(ctx context.Context, a model.Account) error {
	if _, err := sqlx.NamedExecContext(ctx, r.q, _upsertAccount, a); err != nil {
		return fmt.Errorf("%w: can't upsert account %d", err, a.ID)
	}
	return nil
}

func mustAffect(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: can't update %s", err, what)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, what)
	}
	return nil
}

func (r *repo) UpdateAccount(ctx context.Context, a model.Account) error {
	res, err := sqlx.NamedExecContext(ctx, r.q, _updateAccount, a)
	if err != nil {
		return fmt.Errorf("%w: can't update account %d", err, a.ID)
	}
	return mustAffect(res, fmt.Sprintf("account %d", a.ID))
}

func (r *repo) UpsertPositionConfig(ctx context.Context, p model.Position) error {
	if _, err := sqlx.NamedExecContext(ctx, r.q, _upsertPositionConfig, p); err != nil {
		return fmt.Errorf("%w: can't upsert position %d/%s", err, p.AccountID, p.Symbol)
	}
	return nil
}

func (r *repo) UpdatePosition(ctx context.Context, p model.Position) error {
	res, err := sqlx.NamedExecContext(ctx, r.q, _updatePosition, p)
	if err != nil {
		return fmt.Errorf("%w: can't update position %d/%s", err, p.AccountID, p.Symbol)
	}
	return mustAffect(res, fmt.Sprintf("position %d/%s", p.AccountID, p.Symbol))
}

const (
	_saveQuote = `INSERT INTO quotes (symbol, ts, ask, bid) VALUES (:symbol, :ts, :ask, :bid)
					ON CONFLICT (symbol, ts) DO UPDATE SET ask = EXCLUDED.ask, bid = EXCLUDED.bid`
	_insertDayBar = `INSERT INTO day_history (symbol, date, open, high, low, close, volume)
					VALUES ($1, $2::date, $3, $4, $5, $6, $7) ON CONFLICT (symbol, date) DO NOTHING`
	_insertSimBar = `INSERT INTO sim_history (symbol, date, open, high, low, close, volume)
					VALUES ($1, $2::date, $3, $4, $5, $6, $7) ON CONFLICT (symbol, date) DO NOTHING`
	_insertOrder = `INSERT INTO orders (order_id, ts, account_id, symbol, count, price, action, failure_reason)
					VALUES (:order_id, :ts, :account_id, :symbol, :count, :price, :action, :failure_reason)`
	_replaceDayReport = `INSERT INTO day_reports (account_id, date, net_value, cash_to_trade) VALUES ($1, $2::date, $3, $4)
					ON CONFLICT (account_id, date) DO UPDATE SET
						net_value = EXCLUDED.net_value,
						cash_to_trade = EXCLUDED.cash_to_trade`
)

func (r *repo) SaveQuote(ctx context.Context, q model.Quote) error {
	if _, err := sqlx.NamedExecContext(ctx, r.q, _saveQuote, q); err != nil {
		return fmt.Errorf("%w: can't save quote of %s", err, q.Symbol)
	}
	return nil
}

func (r *repo) insertBar(ctx context.Context, query string, b model.DayBar) error {
	_, err := r.q.ExecContext(ctx, query, b.Symbol, dateArg(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume)
	return err
}

func (r *repo) InsertDayBar(ctx context.Context, b model.DayBar) error {
	if err := r.insertBar(ctx, _insertDayBar, b); err != nil {
		return fmt.Errorf("%w: can't insert day bar %s %s", err, b.Symbol, dateArg(b.Date))
	}
	return nil
}

func (r *repo) InsertSimBar(ctx context.Context, b model.DayBar) error {
	if err := r.insertBar(ctx, _insertSimBar, b); err != nil {
		return fmt.Errorf("%w: can't insert sim bar %s %s", err, b.Symbol, dateArg(b.Date))
	}
	return nil
}

func (r *repo) InsertOrder(ctx context.Context, o model.Order) error {
	if _, err := sqlx.NamedExecContext(ctx, r.q, _insertOrder, o); err != nil {
		return fmt.Errorf("%w: can't insert order %d", err, o.OrderID)
	}
	return nil
}

func (r *repo) ReplaceDayReport(ctx context.Context, rep model.DayReport) error {
	_, err := r.q.ExecContext(ctx, _replaceDayReport, rep.AccountID, dateArg(rep.Date), rep.NetValue, rep.CashToTrade)
	if err != nil {
		return fmt.Errorf("%w: can't save day report of account %d", err, rep.AccountID)
	}
	return nil
}

const (
	_clearCooldowns = "DELETE FROM cooldowns"
	_insertCooldown = "INSERT INTO cooldowns (symbol, remaining) VALUES ($1, $2)"
	_saveOrderID    = `INSERT INTO counters (name, value) VALUES ('order_id', $1)
						ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`
)

func (r *repo) SaveCooldowns(ctx context.Context, c map[string]int) error {
	if _, err := r.q.ExecContext(ctx, _clearCooldowns); err != nil {
		return fmt.Errorf("%w: can't clear cooldowns", err)
	}
	for symbol, remaining := range c {
		if _, err := r.q.ExecContext(ctx, _insertCooldown, symbol, remaining); err != nil {
			return fmt.Errorf("%w: can't save cooldown of %s", err, symbol)
		}
	}
	return nil
}

func (r *repo) SaveOrderID(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx, _saveOrderID, id); err != nil {
		return fmt.Errorf("%w: can't save order id", err)
	}
	return nil
}

var _resetSimulation = []string{
	"DELETE FROM orders",
	"DELETE FROM quotes",
	"DELETE FROM day_reports",
	"DELETE FROM day_history",
	"DELETE FROM cooldowns",
	"UPDATE accounts SET mode = 'setup', cash_to_trade = initial_cash, net_value = initial_cash",
	`UPDATE positions SET count = 0, value = NULL, last_count = NULL, last_value = NULL,
		last_buy_price = NULL, last_sell_price = NULL, valid = TRUE, failure_reason = ''`,
}

func (r *repo) ResetSimulation(ctx context.Context, orderIDBase int64) error {
	for _, query := range _resetSimulation {
		if _, err := r.q.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("%w: can't reset simulation", err)
		}
	}
	return r.SaveOrderID(ctx, orderIDBase)
}

var _ storage.Store = (*Store)(nil)
