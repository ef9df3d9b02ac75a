package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smcscan/smcscan/internal/data/cache"
	"github.com/smcscan/smcscan/internal/data/exchange"
)

// runWatch streams live tickers for a set of symbols to stdout, keeping
// the price cache warm along the way.
func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	symbolsCSV, _ := cmd.Flags().GetString("symbols")
	venueFlag, _ := cmd.Flags().GetString("exchange")
	offline, _ := cmd.Flags().GetBool("offline")

	if venueFlag != "" {
		cfg.App.Exchange = venueFlag
	}
	venue := cfg.App.Exchange
	if offline {
		venue = "fake"
	}

	symbols := splitSymbols(symbolsCSV)
	if len(symbols) == 0 {
		symbols = []string{cfg.App.MarketSymbol}
	}

	venues, err := newVenues(cfg)
	if err != nil {
		return err
	}
	adapter, err := venues.Get(venue)
	if err != nil {
		return err
	}
	feed, ok := tickerFeed(adapter)
	if !ok {
		return fmt.Errorf("venue %q does not stream tickers", venue)
	}

	cacheCfg, err := cfg.Cache.Build()
	if err != nil {
		return err
	}
	caches := cache.NewManager(cacheCfg)
	defer caches.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = feed.SubscribeTickers(ctx, symbols, func(tk exchange.Ticker) {
		caches.Price().Set(cache.PriceKey(tk.Symbol), tk)
		fmt.Printf("%s  %-12s last=%-10s bid=%-10s ask=%-10s\n",
			tk.Timestamp.Format("15:04:05"),
			tk.Symbol,
			formatPrice(tk.Last),
			formatPrice(tk.Bid),
			formatPrice(tk.Ask),
		)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// tickerFeed finds the streaming capability, unwrapping the resilience
// decorator when needed.
func tickerFeed(a exchange.Adapter) (exchange.TickerFeed, bool) {
	if feed, ok := a.(exchange.TickerFeed); ok {
		return feed, true
	}
	if u, ok := a.(interface{ Unwrap() exchange.Adapter }); ok {
		feed, ok := u.Unwrap().(exchange.TickerFeed)
		return feed, ok
	}
	return nil, false
}
