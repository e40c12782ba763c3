package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const _schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                BIGINT PRIMARY KEY,
	account_type      TEXT NOT NULL,
	broker_account_id TEXT NOT NULL DEFAULT '',
	mode              TEXT NOT NULL DEFAULT 'setup',
	net_value         DOUBLE PRECISION NOT NULL DEFAULT 0,
	cash_to_trade     DOUBLE PRECISION NOT NULL DEFAULT 0,
	initial_cash      DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS positions (
	account_id      BIGINT NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
	symbol          TEXT NOT NULL,
	share           DOUBLE PRECISION NOT NULL,
	in_algorithm    TEXT NOT NULL,
	in_stance       INTEGER NOT NULL DEFAULT 0,
	out_algorithm   TEXT NOT NULL,
	out_stance      INTEGER NOT NULL DEFAULT 0,
	float_trade     BOOLEAN NOT NULL DEFAULT FALSE,
	count           DOUBLE PRECISION NOT NULL DEFAULT 0,
	value           DOUBLE PRECISION,
	last_count      DOUBLE PRECISION,
	last_value      DOUBLE PRECISION,
	last_buy_price  DOUBLE PRECISION,
	last_sell_price DOUBLE PRECISION,
	valid           BOOLEAN NOT NULL DEFAULT TRUE,
	failure_reason  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (account_id, symbol)
);

CREATE TABLE IF NOT EXISTS quotes (
	symbol TEXT NOT NULL,
	ts     TIMESTAMPTZ NOT NULL,
	ask    DOUBLE PRECISION NOT NULL,
	bid    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, ts)
);

CREATE TABLE IF NOT EXISTS day_history (
	symbol TEXT NOT NULL,
	date   DATE NOT NULL,
	open   DOUBLE PRECISION NOT NULL,
	high   DOUBLE PRECISION NOT NULL,
	low    DOUBLE PRECISION NOT NULL,
	close  DOUBLE PRECISION NOT NULL,
	volume DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS sim_history (
	symbol TEXT NOT NULL,
	date   DATE NOT NULL,
	open   DOUBLE PRECISION NOT NULL,
	high   DOUBLE PRECISION NOT NULL,
	low    DOUBLE PRECISION NOT NULL,
	close  DOUBLE PRECISION NOT NULL,
	volume DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS orders (
	order_id       BIGINT PRIMARY KEY,
	ts             TIMESTAMPTZ NOT NULL,
	account_id     BIGINT NOT NULL,
	symbol         TEXT NOT NULL,
	count          DOUBLE PRECISION NOT NULL,
	price          DOUBLE PRECISION NOT NULL,
	action         INTEGER NOT NULL,
	failure_reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_symbol_ts_idx ON orders (symbol, ts DESC, order_id DESC);

CREATE TABLE IF NOT EXISTS day_reports (
	account_id    BIGINT NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
	date          DATE NOT NULL,
	net_value     DOUBLE PRECISION NOT NULL,
	cash_to_trade DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (account_id, date)
);

CREATE TABLE IF NOT EXISTS cooldowns (
	symbol    TEXT PRIMARY KEY,
	remaining INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);
`

// Migrate creates missing tables. It is safe to run on every start.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, _schema); err != nil {
		return fmt.Errorf("%w: can't migrate schema", err)
	}
	return nil
}
