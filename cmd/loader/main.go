package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/STTM-NSU/simtrade/internal/config"
	"github.com/STTM-NSU/simtrade/internal/feed"
	"github.com/STTM-NSU/simtrade/internal/logger"
	"github.com/STTM-NSU/simtrade/internal/model"
	"github.com/STTM-NSU/simtrade/internal/postgres"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/simtrade.yaml", "config file")
		sim        = flag.Bool("sim", false, "load into sim history instead of day history")
		csvPath    = flag.String("csv", "", "read bars of -symbol from this csv file instead of the feed")
		symbol     = flag.String("symbol", "", "symbol of the csv file")
		fromFlag   = flag.String("from", "", "first date to request from the feed, YYYY-MM-DD")
		toFlag     = flag.String("to", "", "last date to request from the feed, YYYY-MM-DD")
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

	store, closeDB, err := postgres.Open(ctx, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't open db", err)
	}
	defer closeDB()

	target := feed.DayHistory
	if *sim {
		target = feed.SimHistory
	}
	loader := feed.NewLoader(store, target, zapLogger)

	if *csvPath != "" {
		if *symbol == "" {
			zapLogger.Fatalf("-csv needs -symbol")
		}
		f, err := os.Open(*csvPath)
		if err != nil {
			zapLogger.Fatalf("%s: can't open csv", err)
		}
		defer f.Close()
		bars, err := feed.ReadCSV(f, *symbol)
		if err != nil {
			zapLogger.Fatalf("%s: can't read csv", err)
		}
		if _, err := loader.Load(ctx, bars); err != nil {
			zapLogger.Fatalf("%s: can't load %s", err, *symbol)
		}
		return
	}

	if cfg.Feed.BaseURL == "" {
		zapLogger.Fatalf("feed.base_url is not set")
	}
	from, err := parseDate(*fromFlag)
	if err != nil {
		zapLogger.Fatalf("%s: bad -from", err)
	}
	to, err := parseDate(*toFlag)
	if err != nil {
		zapLogger.Fatalf("%s: bad -to", err)
	}

	client := feed.NewClient(cfg.Feed, zapLogger)
	defer client.Close()

	symbols := cfg.Symbols()
	if *symbol != "" {
		symbols = []string{*symbol}
	}
	for _, s := range symbols {
		if ctx.Err() != nil {
			break
		}
		bars, err := client.Bars(ctx, s, from, to)
		if err != nil {
			zapLogger.Errorf("%s: skip %s", err, s)
			continue
		}
		n, err := loader.Load(ctx, bars)
		if err != nil {
			zapLogger.Fatalf("%s: can't load %s", err, s)
		}
		zapLogger.Infof("%s: %d new bars, latest %s", s, n, latest(bars))
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

func latest(bars []model.DayBar) string {
	var t time.Time
	for _, b := range bars {
		if b.Date.After(t) {
			t = b.Date
		}
	}
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}
