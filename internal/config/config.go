package config

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	"gopkg.in/yaml.v3"

	"github.com/STTM-NSU/simtrade/internal/model"
)

var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type Config struct {
	LogLevel    string             `yaml:"log_level"`
	Engine      EngineConfig       `yaml:"engine"`
	Simulation  SimulationConfig   `yaml:"simulation"`
	Calendar    CalendarConfig     `yaml:"calendar"`
	Instruments []model.Instrument `yaml:"instruments"`
	Accounts    []AccountConfig    `yaml:"accounts"`
	Broker      BrokerConfig       `yaml:"broker"`
	Feed        FeedConfig         `yaml:"feed"`
}

// Load reads a yaml file and fills defaults. LOG_LEVEL overrides the file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: can't read config", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: can't unmarshal config", err)
	}
	cfg.LogLevel = cmp.Or(os.Getenv("LOG_LEVEL"), cfg.LogLevel)
	if err := cfg.Setup(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Setup() error {
	c.LogLevel = cmp.Or(c.LogLevel, "info")
	c.Engine.Setup()
	if err := c.Simulation.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup simulation", err)
	}
	if err := c.Calendar.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup calendar", err)
	}
	for i := range c.Accounts {
		c.Accounts[i].Setup()
	}
	c.Broker.Setup()
	c.Feed.Setup()
	return nil
}

// Validate checks the account layout. isAlgorithm reports whether a name is
// registered.
func (c *Config) Validate(isAlgorithm func(name string) bool) error {
	if c.Engine.Fee < 0 {
		return invalid("negative fee %v", c.Engine.Fee)
	}
	if len(c.Accounts) == 0 {
		return invalid("no accounts")
	}

	seenAccounts := make(map[int64]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID <= 0 {
			return invalid("account id must be positive, got %d", a.ID)
		}
		if seenAccounts[a.ID] {
			return invalid("duplicate account %d", a.ID)
		}
		seenAccounts[a.ID] = true
		if err := a.Validate(isAlgorithm); err != nil {
			return fmt.Errorf("%w: account %d", err, a.ID)
		}
	}

	seenInstruments := make(map[string]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if in.Symbol == "" {
			return invalid("instrument without symbol")
		}
		if seenInstruments[in.Symbol] {
			return invalid("duplicate instrument %s", in.Symbol)
		}
		seenInstruments[in.Symbol] = true
	}
	return nil
}

// Instrument returns the configured instrument for a symbol, or a bare one.
func (c *Config) Instrument(symbol string) model.Instrument {
	for _, in := range c.Instruments {
		if in.Symbol == symbol {
			return in
		}
	}
	return model.Instrument{Symbol: symbol}
}

// Symbols lists every symbol tracked by any account, in config order.
func (c *Config) Symbols() []string {
	var (
		seen    = make(map[string]bool)
		symbols []string
	)
	for _, a := range c.Accounts {
		for _, p := range a.Positions {
			if !seen[p.Symbol] {
				seen[p.Symbol] = true
				symbols = append(symbols, p.Symbol)
			}
		}
	}
	return symbols
}

const (
	_feeDefault         = 6.95
	_orderIDBaseDefault = 500
	_historyDaysDefault = 120
)

type EngineConfig struct {
	// Fee is charged per executed order. Zero means the default.
	Fee         float64 `yaml:"fee"`
	OrderIDBase int64   `yaml:"order_id_base"`
	HistoryDays int     `yaml:"history_days"`
	MonkeySeed  int64   `yaml:"monkey_seed"`
}

func (c *EngineConfig) Setup() {
	if c.Fee == 0 {
		c.Fee = _feeDefault
	}
	if c.OrderIDBase <= 0 {
		c.OrderIDBase = _orderIDBaseDefault
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = _historyDaysDefault
	}
}

type SimulationConfig struct {
	Timezone     string `yaml:"timezone"`
	Start        string `yaml:"start"`
	End          string `yaml:"end"`
	From         string `yaml:"from"`
	To           string `yaml:"to"`
	SnapshotPath string `yaml:"snapshot_path"`

	loc        *time.Location
	start, end time.Duration
	from, to   time.Time
}

const _timeOfDay = "15:04:05"

func parseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse(_timeOfDay, s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad time of day %q", ErrInvalid, s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalid, s)
	}
	return t, nil
}

func (c *SimulationConfig) Setup() error {
	c.Timezone = cmp.Or(c.Timezone, "America/New_York")
	c.Start = cmp.Or(c.Start, "09:31:00")
	c.End = cmp.Or(c.End, "23:59:59")

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("%w: can't load timezone %s", err, c.Timezone)
	}
	c.loc = loc

	if c.start, err = parseTimeOfDay(c.Start); err != nil {
		return err
	}
	if c.end, err = parseTimeOfDay(c.End); err != nil {
		return err
	}
	if c.end < c.start {
		return invalid("simulation end %s before start %s", c.End, c.Start)
	}

	if c.from, err = parseDate(c.From); err != nil {
		return err
	}
	if c.to, err = parseDate(c.To); err != nil {
		return err
	}
	if !c.from.IsZero() && !c.to.IsZero() && c.from.After(c.to) {
		return invalid("simulation from %s after to %s", c.From, c.To)
	}
	return nil
}

func (c *SimulationConfig) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Window returns the tick times of a trading day and its last instant.
func (c *SimulationConfig) Window(day time.Time) (start, end time.Time) {
	y, m, d := day.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, c.Location())
	return midnight.Add(c.start), midnight.Add(c.end)
}

// Range returns the configured from and to dates; zero means open.
func (c *SimulationConfig) Range() (time.Time, time.Time) {
	return c.from, c.to
}

type CalendarConfig struct {
	DisableUSHolidays bool     `yaml:"disable_us_holidays"`
	Extra             []string `yaml:"extra"`

	extra []time.Time
}

func (c *CalendarConfig) Setup() error {
	c.extra = c.extra[:0]
	for _, s := range c.Extra {
		d, err := parseDate(s)
		if err != nil {
			return err
		}
		c.extra = append(c.extra, d)
	}
	return nil
}

func (c *CalendarConfig) ExtraDates() []time.Time {
	return c.extra
}

type PositionConfig struct {
	Symbol string  `yaml:"symbol"`
	Share  float64 `yaml:"share"`
	// Algorithm and Stance apply to both sides unless overridden.
	Algorithm    string `yaml:"algorithm"`
	Stance       string `yaml:"stance"`
	InAlgorithm  string `yaml:"in_algorithm"`
	InStance     string `yaml:"in_stance"`
	OutAlgorithm string `yaml:"out_algorithm"`
	OutStance    string `yaml:"out_stance"`
}

func (c *PositionConfig) Setup() {
	c.InAlgorithm = cmp.Or(c.InAlgorithm, c.Algorithm, "hold")
	c.OutAlgorithm = cmp.Or(c.OutAlgorithm, c.Algorithm, "hold")
	c.InStance = cmp.Or(c.InStance, c.Stance)
	c.OutStance = cmp.Or(c.OutStance, c.Stance)
}

func (c PositionConfig) Stances() (in, out model.Stance, err error) {
	if in, err = model.ParseStance(c.InStance); err != nil {
		return 0, 0, err
	}
	if out, err = model.ParseStance(c.OutStance); err != nil {
		return 0, 0, err
	}
	return in, out, nil
}

type AccountConfig struct {
	ID              int64             `yaml:"id"`
	Type            model.AccountType `yaml:"type"`
	BrokerAccountID string            `yaml:"broker_account_id"`
	InitialCash     float64           `yaml:"initial_cash"`
	Positions       []PositionConfig  `yaml:"positions"`
}

func (c *AccountConfig) Setup() {
	if c.Type == "" {
		c.Type = model.Simulation
	}
	for i := range c.Positions {
		c.Positions[i].Setup()
	}
}

const _shareEpsilon = 1e-9

func (c *AccountConfig) Validate(isAlgorithm func(string) bool) error {
	if c.Type != model.Simulation && c.Type != model.Invest {
		return invalid("unknown account type %q", c.Type)
	}
	if c.Type == model.Invest && c.BrokerAccountID == "" {
		return invalid("invest account needs broker_account_id")
	}
	if c.InitialCash <= 0 || math.IsInf(c.InitialCash, 0) {
		return invalid("initial cash must be positive, got %v", c.InitialCash)
	}

	var (
		total float64
		seen  = make(map[string]bool, len(c.Positions))
	)
	for _, p := range c.Positions {
		if p.Symbol == "" {
			return invalid("position without symbol")
		}
		if seen[p.Symbol] {
			return invalid("duplicate position %s", p.Symbol)
		}
		seen[p.Symbol] = true
		if p.Share < 0 || p.Share > 1 {
			return invalid("share of %s out of [0, 1]: %v", p.Symbol, p.Share)
		}
		total += p.Share
		if _, _, err := p.Stances(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if isAlgorithm != nil {
			for _, name := range []string{p.InAlgorithm, p.OutAlgorithm} {
				if !isAlgorithm(name) {
					return invalid("unknown algorithm %q for %s", name, p.Symbol)
				}
			}
		}
	}
	if total > 1+_shareEpsilon {
		return invalid("shares sum to %v", total)
	}
	return nil
}

type BrokerConfig struct {
	InvestConfig    string        `yaml:"invest_config"`
	Timeout         time.Duration `yaml:"timeout"`
	Retries         int           `yaml:"retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	QuotesPerMinute int           `yaml:"quotes_per_minute"`
	OrdersPerMinute int           `yaml:"orders_per_minute"`
}

func (c *BrokerConfig) Setup() {
	c.InvestConfig = cmp.Or(c.InvestConfig, "./configs/invest.yaml")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.QuotesPerMinute <= 0 {
		c.QuotesPerMinute = 300
	}
	if c.OrdersPerMinute <= 0 {
		c.OrdersPerMinute = 300
	}
}

type FeedConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Limit   int           `yaml:"limit"`
}

func (c *FeedConfig) Setup() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Limit <= 0 {
		c.Limit = 5000
	}
}

func LoadInvestConfig(filename string) (investgo.Config, error) {
	cfg, err := investgo.LoadConfig(filename)
	if err != nil {
		return investgo.Config{}, fmt.Errorf("%w: can't load invest config", err)
	}

	cfg.Token = os.Getenv("T_INVEST_API_TOKEN")
	if cfg.Token == "" {
		return investgo.Config{}, fmt.Errorf("empty t-invest api token")
	}

	return cfg, nil
}
