package feed

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

// Target picks the history table bars are written to.
type Target int

const (
	// SimHistory is the source the simulated broker prices from.
	SimHistory Target = iota
	// DayHistory is what algorithms read.
	DayHistory
)

func (t Target) String() string {
	if t == SimHistory {
		return "sim_history"
	}
	return "day_history"
}

type Loader struct {
	store  storage.Store
	target Target
	logger logger.Logger
}

func NewLoader(store storage.Store, target Target, l logger.Logger) *Loader {
	return &Loader{store: store, target: target, logger: l}
}

// Load stores bars newest first and stops at the first date already present,
// so a rerun only adds what is newer than the stored history.
func (l *Loader) Load(ctx context.Context, bars []model.DayBar) (int, error) {
	bars = slices.Clone(bars)
	slices.SortStableFunc(bars, func(a, b model.DayBar) int { return b.Date.Compare(a.Date) })

	var inserted int
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		inserted = 0
		seen := make(map[string]bool)
		for _, b := range bars {
			if seen[b.Symbol] {
				continue
			}
			exists, err := l.has(ctx, tx, b.Symbol, b.Date)
			if err != nil {
				return fmt.Errorf("%w: can't check %s %s", err, b.Symbol, b.Date.Format(time.DateOnly))
			}
			if exists {
				seen[b.Symbol] = true
				continue
			}
			if err := l.insert(ctx, tx, b); err != nil {
				return fmt.Errorf("%w: can't insert %s %s", err, b.Symbol, b.Date.Format(time.DateOnly))
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.logger.Infof("loaded %d bars into %s", inserted, l.target)
	return inserted, nil
}

func (l *Loader) has(ctx context.Context, tx storage.Tx, symbol string, date time.Time) (bool, error) {
	if l.target == SimHistory {
		return tx.HasSimBar(ctx, symbol, date)
	}
	return tx.HasDayBar(ctx, symbol, date)
}

func (l *Loader) insert(ctx context.Context, tx storage.Tx, b model.DayBar) error {
	if l.target == SimHistory {
		return tx.InsertSimBar(ctx, b)
	}
	return tx.InsertDayBar(ctx, b)
}
