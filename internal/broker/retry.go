package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
)

type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	Timeout  time.Duration
}

type retrying struct {
	next   Broker
	cfg    RetryConfig
	logger logger.Logger
}

// WithRetry bounds every call by cfg.Timeout and repeats transient failures.
// Orders are never repeated: a second attempt could fill twice.
func WithRetry(next Broker, cfg RetryConfig, l logger.Logger) Broker {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &retrying{next: next, cfg: cfg, logger: l}
}

func (r *retrying) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		err = r.once(ctx, fn)
		if !transient(err) {
			return err
		}
		r.logger.Warnf("%s: broker %s failed, attempt %d of %d", err, name, attempt, r.cfg.Attempts)
		if attempt == r.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.Delay):
		}
	}
	return err
}

func (r *retrying) once(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.cfg.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return fn(ctx)
}

func (r *retrying) Login(ctx context.Context) error {
	if err := r.call(ctx, "login", r.next.Login); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	return nil
}

func (r *retrying) Logout(ctx context.Context) error {
	return r.once(ctx, r.next.Logout)
}

func (r *retrying) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	var q model.Quote
	err := r.call(ctx, "quote "+symbol, func(ctx context.Context) error {
		var err error
		q, err = r.next.GetQuote(ctx, symbol)
		return err
	})
	return q, err
}

func (r *retrying) GetAccount(ctx context.Context, accountID string) (Account, error) {
	var a Account
	err := r.call(ctx, "account "+accountID, func(ctx context.Context) error {
		var err error
		a, err = r.next.GetAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &timedAccount{next: a, timeout: r.cfg.Timeout}, nil
}

type timedAccount struct {
	next    Account
	timeout time.Duration
}

func (a *timedAccount) PlaceMarketOrder(ctx context.Context, symbol string, quantity, price float64) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.next.PlaceMarketOrder(ctx, symbol, quantity, price)
}
