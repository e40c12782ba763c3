package broker

import (
	"context"
	"fmt"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/tools"
)

// BarSource reads the historical bars a simulation replays.
type BarSource interface {
	SimBars(ctx context.Context, symbol string, upTo time.Time, limit int) ([]model.DayBar, error)
}

// Book is the simulated broker's own record of an account.
type Book struct {
	Cash     float64            `json:"cash"`
	Holdings map[string]float64 `json:"holdings"`
	Orders   int                `json:"orders"`
}

type Snapshot struct {
	Date     time.Time        `json:"date"`
	Accounts map[string]*Book `json:"accounts"`
}

// Sim prices every symbol at the open of its latest bar on or before the
// current simulated date, with ask equal to bid.
type Sim struct {
	bars         BarSource
	fee          float64
	snapshotPath string
	logger       logger.Logger

	mu       sync.Mutex
	now      time.Time
	loggedIn bool
	books    map[string]*Book
}

func NewSim(bars BarSource, fee float64, snapshotPath string, l logger.Logger) *Sim {
	return &Sim{
		bars:         bars,
		fee:          fee,
		snapshotPath: snapshotPath,
		logger:       l,
		books:        make(map[string]*Book),
	}
}

// SetTime moves the simulated clock.
func (s *Sim) SetTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

// Open starts a book with cash. Reopening resets it.
func (s *Sim) Open(accountID string, cash float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[accountID] = &Book{Cash: cash, Holdings: make(map[string]float64)}
}

func (s *Sim) Book(accountID string) (Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[accountID]
	if !ok {
		return Book{}, false
	}
	return Book{Cash: b.Cash, Holdings: maps.Clone(b.Holdings), Orders: b.Orders}, true
}

func (s *Sim) Login(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	return nil
}

// Logout writes the books to the snapshot file when one is configured.
func (s *Sim) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
	if s.snapshotPath == "" {
		return nil
	}

	data, err := sonic.ConfigStd.Marshal(Snapshot{Date: s.now, Accounts: s.books})
	if err != nil {
		return fmt.Errorf("%w: can't marshal sim snapshot", err)
	}
	if err := os.WriteFile(s.snapshotPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: can't write sim snapshot", err)
	}
	return nil
}

func (s *Sim) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()

	bars, err := s.bars.SimBars(ctx, symbol, now, 1)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: can't read sim history of %s", err, symbol)
	}
	if len(bars) == 0 {
		return model.Quote{}, fmt.Errorf("%w: %s as of %s", ErrNoQuote, symbol, now.Format(time.DateOnly))
	}
	price := bars[0].Open
	return model.Quote{Symbol: symbol, Ts: now, Ask: price, Bid: price}, nil
}

// GetAccount opens an empty book for ids it hasn't seen.
func (s *Sim) GetAccount(_ context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		return nil, fmt.Errorf("%w: not logged in", ErrUnknownAccount)
	}
	if _, ok := s.books[accountID]; !ok {
		s.books[accountID] = &Book{Holdings: make(map[string]float64)}
	}
	return &simAccount{sim: s, id: accountID}, nil
}

type simAccount struct {
	sim *Sim
	id  string
}

func (a *simAccount) PlaceMarketOrder(_ context.Context, symbol string, quantity, price float64) error {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()

	b := a.sim.books[a.id]
	b.Cash = tools.SettleCash(b.Cash, quantity, price, a.sim.fee)
	b.Holdings[symbol] = tools.Sum(b.Holdings[symbol], quantity)
	if b.Holdings[symbol] == 0 {
		delete(b.Holdings, symbol)
	}
	b.Orders++
	a.sim.logger.Debugf("sim %s: %v %s at %v, cash %v", a.id, quantity, symbol, price, b.Cash)
	return nil
}
