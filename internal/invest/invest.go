// Package invest is the live broker backed by the T-Invest API.
package invest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	investapi "github.com/russianinvestments/invest-api-go-sdk/proto"
	"go.uber.org/ratelimit"

	"github.com/STTM-NSU/simtrade/internal/broker"
	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/tools"
)

const (
	_orderIdPrefix = "simtrade-"
)

var (
	ErrBelowLot   = errors.New("quantity below one lot")
	ErrPartialLot = errors.New("quantity is not a whole number of lots")
)

type Broker struct {
	cfg         config.BrokerConfig
	instruments []model.Instrument
	logger      logger.Logger

	quotesRateLimiter ratelimit.Limiter
	ordersRateLimiter ratelimit.Limiter

	mu       sync.Mutex
	client   *investgo.Client
	resolver *resolver
}

func New(cfg config.BrokerConfig, instruments []model.Instrument, l logger.Logger) *Broker {
	return &Broker{
		cfg:               cfg,
		instruments:       instruments,
		logger:            l,
		quotesRateLimiter: ratelimit.New(cfg.QuotesPerMinute, ratelimit.Per(time.Minute)),
		ordersRateLimiter: ratelimit.New(cfg.OrdersPerMinute, ratelimit.Per(time.Minute)),
	}
}

func (b *Broker) Login(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return nil
	}

	investCfg, err := config.LoadInvestConfig(b.cfg.InvestConfig)
	if err != nil {
		return fmt.Errorf("%w: %w", broker.ErrLoginFailed, err)
	}
	client, err := investgo.NewClient(ctx, investCfg, b.logger)
	if err != nil {
		return fmt.Errorf("%w: can't create invest client", err)
	}

	b.client = client
	b.resolver = newResolver(client, b.instruments, b.logger)
	return nil
}

func (b *Broker) Logout(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Stop()
	b.client, b.resolver = nil, nil
	if err != nil {
		return fmt.Errorf("%w: can't stop invest client", err)
	}
	return nil
}

func (b *Broker) session() (*investgo.Client, *resolver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, nil, fmt.Errorf("%w: not logged in", broker.ErrLoginFailed)
	}
	return b.client, b.resolver, nil
}

func (b *Broker) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	client, r, err := b.session()
	if err != nil {
		return model.Quote{}, err
	}
	i, err := r.resolve(symbol)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %w", broker.ErrNoQuote, err)
	}
	if err := ctx.Err(); err != nil {
		return model.Quote{}, err
	}

	b.quotesRateLimiter.Take()
	resp, err := client.NewMarketDataServiceClient().GetLastPrices([]string{i.GetUID()})
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: can't get last price", err)
	}
	if len(resp.GetLastPrices()) == 0 {
		return model.Quote{}, fmt.Errorf("%w: empty last price for %s", broker.ErrNoQuote, symbol)
	}

	price := resp.GetLastPrices()[0].GetPrice().ToFloat()
	if price <= 0 {
		return model.Quote{}, fmt.Errorf("%w: zero last price for %s", broker.ErrNoQuote, symbol)
	}
	return model.Quote{Symbol: symbol, Ts: time.Now().UTC(), Ask: price, Bid: price}, nil
}

// GetAccount checks the account is reachable by reading its positions.
func (b *Broker) GetAccount(ctx context.Context, accountID string) (broker.Account, error) {
	client, r, err := b.session()
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, broker.ErrUnknownAccount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := client.NewOperationsServiceClient().GetPositions(accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: can't get positions of %s", err, accountID)
	}
	for _, m := range resp.GetMoney() {
		b.logger.Debugf("account %s: %v %s", accountID, m.ToFloat(), m.GetCurrency())
	}

	return &account{
		id:          accountID,
		orders:      client.NewOrdersServiceClient(),
		resolver:    r,
		rateLimiter: b.ordersRateLimiter,
		logger:      b.logger,
	}, nil
}

type account struct {
	id          string
	orders      *investgo.OrdersServiceClient
	resolver    *resolver
	rateLimiter ratelimit.Limiter
	logger      logger.Logger
}

// PlaceMarketOrder converts a share quantity into whole lots and posts a
// market order. Positive quantity buys. A quantity that is not a lot
// multiple is rejected before anything is posted.
func (a *account) PlaceMarketOrder(ctx context.Context, symbol string, quantity, price float64) error {
	i, err := a.resolver.resolve(symbol)
	if err != nil {
		return err
	}
	lots, err := toLots(quantity, i.Lot)
	if err != nil {
		return fmt.Errorf("%w: %s %v", err, symbol, quantity)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := &investgo.PostOrderRequestShort{
		InstrumentId: i.GetUID(),
		Quantity:     lots,
		Price:        tools.FloatToQuotation(price, i.MinPriceIncrement),
		AccountId:    a.id,
		OrderType:    investapi.OrderType_ORDER_TYPE_MARKET,
		OrderId:      _orderIdPrefix + uuid.NewString(),
	}

	post := a.orders.Sell
	if quantity > 0 {
		post = a.orders.Buy
	}

	a.rateLimiter.Take()
	resp, err := post(req)
	if err != nil {
		return fmt.Errorf("%w: can't post market order", err)
	}
	a.logger.Infof("account %s: order %s for %d lots of %s", a.id, resp.GetOrderId(), lots, symbol)
	return nil
}

// toLots fails unless quantity is a whole number of lots.
func toLots(quantity float64, lot int) (int64, error) {
	if lot <= 0 {
		lot = 1
	}
	shares := math.Abs(quantity)
	if shares < float64(lot) {
		return 0, ErrBelowLot
	}
	if shares != math.Trunc(shares) || int64(shares)%int64(lot) != 0 {
		return 0, ErrPartialLot
	}
	return int64(shares) / int64(lot), nil
}

var _ broker.Broker = (*Broker)(nil)
