package engine

import (
	"context"
	"fmt"

	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

// Provision writes configured accounts and positions. New accounts start in
// SETUP with their initial cash; existing ones keep their trading state and
// only take the new configuration.
func Provision(ctx context.Context, tx storage.Tx, cfg *config.Config) error {
	for _, a := range cfg.Accounts {
		err := tx.UpsertAccount(ctx, model.Account{
			ID:              a.ID,
			Type:            a.Type,
			BrokerAccountID: a.BrokerAccountID,
			Mode:            model.Setup,
			NetValue:        a.InitialCash,
			CashToTrade:     a.InitialCash,
			InitialCash:     a.InitialCash,
		})
		if err != nil {
			return fmt.Errorf("%w: can't provision account %d", err, a.ID)
		}

		for _, p := range a.Positions {
			in, out, err := p.Stances()
			if err != nil {
				return fmt.Errorf("%w: position %s", err, p.Symbol)
			}
			err = tx.UpsertPositionConfig(ctx, model.Position{
				AccountID:    a.ID,
				Symbol:       p.Symbol,
				Share:        p.Share,
				InAlgorithm:  p.InAlgorithm,
				InStance:     in,
				OutAlgorithm: p.OutAlgorithm,
				OutStance:    out,
				FloatTrade:   cfg.Instrument(p.Symbol).FloatTrade,
				Valid:        true,
			})
			if err != nil {
				return fmt.Errorf("%w: can't provision position %d/%s", err, a.ID, p.Symbol)
			}
		}
	}
	return nil
}
