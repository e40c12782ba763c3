package postgres

import (
	"context"
	"fmt"

	"github.com/STTM-NSU/simtrade/internal/logger"
)

// Open connects with POSTGRES_* settings, migrates and returns the store
// with a function closing the connection.
func Open(ctx context.Context, l logger.Logger) (*Store, func(), error) {
	cfg := NewConfigFromEnv().Setup()
	l.Debugf("trying to connect to db with: %s", cfg.Redacted())

	db, err := NewDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("%w: can't prepare db", err)
	}
	return NewStore(db), func() {
		if err := db.Close(); err != nil {
			l.Warnf("%s: can't close db", err)
		}
	}, nil
}
