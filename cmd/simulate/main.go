package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/STTM-NSU/simtrade/internal/algorithm"
	"github.com/STTM-NSU/simtrade/internal/broker"
	"github.com/STTM-NSU/simtrade/internal/calendar"
	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/engine"
	"github.com/STTM-NSU/simtrade/internal/feed"
	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/postgres"
	"github.com/STTM-NSU/simtrade/internal/server"
	"github.com/STTM-NSU/simtrade/internal/simulation"
	"github.com/STTM-NSU/simtrade/internal/storage"
	"github.com/STTM-NSU/simtrade/internal/storage/memory"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/simtrade.yaml", "config file")
		fromFlag   = flag.String("from", "", "first date, YYYY-MM-DD (overrides config)")
		toFlag     = flag.String("to", "", "last date, YYYY-MM-DD (overrides config)")
		inMemory   = flag.Bool("memory", false, "keep everything in memory instead of postgres")
		csvDir     = flag.String("csv", "", "directory with <SYMBOL>.csv files to load into sim history first")
		listen     = flag.String("listen", "", "serve results on this address after the run, e.g. :8080")
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

	var store storage.Store
	if *inMemory {
		store = memory.New()
	} else {
		pg, closeDB, err := postgres.Open(ctx, zapLogger)
		if err != nil {
			zapLogger.Fatalf("%s: can't open db", err)
		}
		defer closeDB()
		store = pg
	}

	if *csvDir != "" {
		if err := loadCSV(ctx, store, *csvDir, cfg.Symbols(), zapLogger); err != nil {
			zapLogger.Fatalf("%s: can't load csv history", err)
		}
	}

	from, to := cfg.Simulation.Range()
	if from, err = overrideDate(from, *fromFlag); err != nil {
		zapLogger.Fatalf("%s: bad -from", err)
	}
	if to, err = overrideDate(to, *toFlag); err != nil {
		zapLogger.Fatalf("%s: bad -to", err)
	}

	sim := broker.NewSim(store, cfg.Engine.Fee, cfg.Simulation.SnapshotPath, zapLogger)
	b := broker.WithRetry(sim, broker.RetryConfig{
		Attempts: cfg.Broker.Retries,
		Delay:    cfg.Broker.RetryDelay,
		Timeout:  cfg.Broker.Timeout,
	}, zapLogger)
	eng := engine.New(store, b, algorithms, cfg.Engine, zapLogger)
	cal := calendar.New(!cfg.Calendar.DisableUSHolidays, cfg.Calendar.ExtraDates())

	started := time.Now()
	res, err := simulation.New(store, sim, eng, cal, cfg, zapLogger).Simulate(ctx, from, to)
	if err != nil {
		zapLogger.Fatalf("%s: simulation failed", err)
	}
	zapLogger.Infof("simulated %d trading days %s - %s in %s",
		len(res.Ticks), res.From.Format(time.DateOnly), res.To.Format(time.DateOnly), time.Since(started))

	if err := printSummary(ctx, store); err != nil {
		zapLogger.Errorf("%s: can't print summary", err)
	}

	if *listen != "" {
		zapLogger.Infof("serving results on %s", *listen)
		srv := server.NewHTTPServer(ctx, *listen, server.NewHandler(store, zapLogger))
		if err := srv.Run(ctx); err != nil {
			zapLogger.Errorf("%s: server stopped", err)
		}
	}
}

func overrideDate(def time.Time, s string) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.DateOnly, s)
}

func loadCSV(ctx context.Context, store storage.Store, dir string, symbols []string, l logger.Logger) error {
	loader := feed.NewLoader(store, feed.SimHistory, l)
	for _, symbol := range symbols {
		f, err := os.Open(filepath.Join(dir, symbol+".csv"))
		if err != nil {
			return fmt.Errorf("%w: can't open history of %s", err, symbol)
		}
		bars, err := feed.ReadCSV(f, symbol)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("%w: %s", err, symbol)
		}
		if _, err := loader.Load(ctx, bars); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(ctx context.Context, store storage.Reader) error {
	accounts, err := store.Accounts(ctx)
	if err != nil {
		return err
	}
	orders, err := store.Orders(ctx)
	if err != nil {
		return err
	}

	type counts struct{ ok, failed int }
	byAccount := make(map[int64]counts)
	for _, o := range orders {
		c := byAccount[o.AccountID]
		if o.Succeeded() {
			c.ok++
		} else {
			c.failed++
		}
		byAccount[o.AccountID] = c
	}

	fmt.Printf("%-8s %-8s %14s %14s %14s %9s %7s %7s\n", "account", "mode", "initial", "net value", "cash", "return", "orders", "failed")
	for _, a := range accounts {
		ret := 0.0
		if a.InitialCash > 0 {
			ret = (a.NetValue/a.InitialCash - 1) * 100
		}
		c := byAccount[a.ID]
		fmt.Printf("%-8d %-8s %14.2f %14.2f %14.2f %8.2f%% %7d %7d\n",
			a.ID, a.Mode, a.InitialCash, a.NetValue, a.CashToTrade, ret, c.ok, c.failed)
	}
	return nil
}
