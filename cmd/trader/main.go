package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/STTM-NSU/simtrade/internal/algorithm"
	"github.com/STTM-NSU/simtrade/internal/broker"
	"github.com/STTM-NSU/simtrade/internal/calendar"
	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/engine"
	"github.com/STTM-NSU/simtrade/internal/invest"
	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/postgres"
	"github.com/STTM-NSU/simtrade/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/simtrade.yaml", "config file")
		force      = flag.Bool("force", false, "run even when the market is closed today")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%s: can't load config", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("%s: bad log level", err)
	}
	zapLogger, loggerSync, err := logger.NewZapLogger(level)
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	algorithms := algorithm.NewSeededRegistry(cfg.Engine.MonkeySeed)
	if err := cfg.Validate(algorithms.Has); err != nil {
		zapLogger.Fatalf("%s: config validation failed", err)
	}

	store, closeDB, err := postgres.Open(ctx, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't open db", err)
	}
	defer closeDB()

	if err := store.RunInTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return engine.Provision(ctx, tx, cfg)
	}); err != nil {
		zapLogger.Fatalf("%s: can't provision accounts", err)
	}

	b := broker.WithRetry(invest.New(cfg.Broker, cfg.Instruments, zapLogger), broker.RetryConfig{
		Attempts: cfg.Broker.Retries,
		Delay:    cfg.Broker.RetryDelay,
		Timeout:  cfg.Broker.Timeout,
	}, zapLogger)
	eng := engine.New(store, b, algorithms, cfg.Engine, zapLogger)

	now := time.Now().In(cfg.Simulation.Location())
	cal := calendar.New(!cfg.Calendar.DisableUSHolidays, cfg.Calendar.ExtraDates())
	if !cal.IsTradingDay(now) && !*force {
		floats := floatSymbols(cfg)
		if len(floats) == 0 {
			zapLogger.Infof("market closed on %s, nothing to do", now.Format(time.DateOnly))
			return
		}
		zapLogger.Infof("market closed on %s, trading only %v", now.Format(time.DateOnly), floats)
		eng.SetTradable(func(symbol string) bool { return floats[symbol] })
	}

	if err := eng.Run(ctx, now); err != nil {
		zapLogger.Fatalf("%s: tick failed", err)
	}
	zapLogger.Infof("tick %s done", now.Format(time.DateTime))
}

// floatSymbols are instruments that trade every day.
func floatSymbols(cfg *config.Config) map[string]bool {
	out := make(map[string]bool)
	for _, i := range cfg.Instruments {
		if i.FloatTrade {
			out[i.Symbol] = true
		}
	}
	return out
}
