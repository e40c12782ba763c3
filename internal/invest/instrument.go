package invest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	"go.uber.org/ratelimit"

	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
)

var (
	ErrInstrumentNotExist = errors.New("instrument doesn't exist")
	ErrInstrumentNotFound = errors.New("no tradable instrument found")
)

// resolver maps symbols to broker instruments. Configured instruments with
// a uid and a lot are used as is, the rest are looked up once and cached.
type resolver struct {
	instrClient *investgo.InstrumentsServiceClient
	rateLimiter ratelimit.Limiter
	logger      logger.Logger

	mu    sync.Mutex
	cache map[string]model.Instrument
}

func newResolver(client *investgo.Client, configured []model.Instrument, l logger.Logger) *resolver {
	r := &resolver{
		instrClient: client.NewInstrumentsServiceClient(),
		rateLimiter: ratelimit.New(200, ratelimit.Per(1*time.Minute)),
		logger:      l,
		cache:       make(map[string]model.Instrument, len(configured)),
	}
	r.seed(configured)
	return r
}

func (r *resolver) seed(configured []model.Instrument) {
	for _, i := range configured {
		if i.GetUID() != "" && i.Lot > 0 {
			r.cache[i.Symbol] = i
		}
	}
}

func (r *resolver) resolve(symbol string) (model.Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.cache[symbol]; ok {
		return i, nil
	}

	r.rateLimiter.Take()
	resp, err := r.instrClient.FindInstrument(symbol)
	if err != nil {
		return model.Instrument{}, fmt.Errorf("%w: can't find instrument %s", err, symbol)
	}
	if len(resp.GetInstruments()) == 0 {
		return model.Instrument{}, fmt.Errorf("%w: %s", ErrInstrumentNotExist, symbol)
	}

	for _, found := range resp.GetInstruments() {
		if !found.GetApiTradeAvailableFlag() || found.GetTicker() != symbol {
			continue
		}

		r.rateLimiter.Take()
		info, err := r.instrClient.InstrumentByFigi(found.GetFigi())
		if err != nil {
			r.logger.Warnf("%s: can't get info for figi=%s", err, found.GetFigi())
			continue
		}
		in := info.GetInstrument()
		if !in.GetBuyAvailableFlag() || !in.GetSellAvailableFlag() {
			continue
		}

		i := model.Instrument{
			Symbol:            symbol,
			FIGI:              in.GetFigi(),
			UID:               in.GetUid(),
			ClassCode:         in.GetClassCode(),
			Lot:               int(in.GetLot()),
			MinPriceIncrement: in.GetMinPriceIncrement().ToFloat(),
		}
		r.cache[symbol] = i
		return i, nil
	}

	return model.Instrument{}, fmt.Errorf("%w: %s", ErrInstrumentNotFound, symbol)
}
