package storage

import (
	"context"
	"errors"
	"time"

	"github.com/STTM-NSU/simtrade/internal/model"
)

var ErrNotFound = errors.New("not found")

// Reader is the read side of the engine's persistence boundary.
type Reader interface {
	// Accounts are ordered by id.
	Accounts(ctx context.Context) ([]model.Account, error)
	// Positions are ordered by symbol.
	Positions(ctx context.Context, accountID int64) ([]model.Position, error)
	// Symbols returns every distinct configured symbol, sorted.
	Symbols(ctx context.Context) ([]string, error)

	// LatestQuote returns the newest quote at or before asOf.
	LatestQuote(ctx context.Context, symbol string, asOf time.Time) (model.Quote, error)

	// DayBars returns engine-visible bars dated strictly before the given
	// date, most recent first, at most limit rows.
	DayBars(ctx context.Context, symbol string, before time.Time, limit int) ([]model.DayBar, error)
	HasDayBar(ctx context.Context, symbol string, date time.Time) (bool, error)

	// SimBars returns source bars dated at or before upTo, most recent first.
	SimBars(ctx context.Context, symbol string, upTo time.Time, limit int) ([]model.DayBar, error)
	HasSimBar(ctx context.Context, symbol string, date time.Time) (bool, error)
	// SimBarBounds returns the first and last sim bar dates inside [from, to].
	// A zero from or to leaves that side open.
	SimBarBounds(ctx context.Context, from, to time.Time) (time.Time, time.Time, error)

	LastOrder(ctx context.Context, f model.OrderFilter) (model.Order, error)
	// Orders are ordered by timestamp then order id.
	Orders(ctx context.Context) ([]model.Order, error)
	// DayReports are ordered by date then account id.
	DayReports(ctx context.Context) ([]model.DayReport, error)

	Cooldowns(ctx context.Context) (map[string]int, error)
	// OrderID returns ErrNotFound until the counter is allocated.
	OrderID(ctx context.Context) (int64, error)
}

type Writer interface {
	UpsertAccount(ctx context.Context, a model.Account) error
	UpdateAccount(ctx context.Context, a model.Account) error
	UpsertPositionConfig(ctx context.Context, p model.Position) error
	UpdatePosition(ctx context.Context, p model.Position) error

	// SaveQuote replaces any quote stored for the same (symbol, ts).
	SaveQuote(ctx context.Context, q model.Quote) error
	InsertDayBar(ctx context.Context, b model.DayBar) error
	InsertSimBar(ctx context.Context, b model.DayBar) error

	// InsertOrder appends to the ledger. Rows are never updated.
	InsertOrder(ctx context.Context, o model.Order) error
	// ReplaceDayReport drops any report for the same (account, date) first.
	ReplaceDayReport(ctx context.Context, r model.DayReport) error

	SaveCooldowns(ctx context.Context, c map[string]int) error
	SaveOrderID(ctx context.Context, id int64) error

	// ResetSimulation clears the ledger, quotes, reports, engine-visible
	// history and cooldowns, then puts every account back to SETUP with its
	// initial cash and every position flat.
	ResetSimulation(ctx context.Context, orderIDBase int64) error
}

type Tx interface {
	Reader
	Writer
}

// Store commits a whole tick through RunInTx: either every write in fn is
// applied or none is.
type Store interface {
	Tx
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
