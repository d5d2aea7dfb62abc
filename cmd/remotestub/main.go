// remotestub runs a stand-alone remote matcher for manual end-to-end runs.
// It announces a cluster to every bridge that connects and prices each bid.
//
// Usage:
//
//	go run ./cmd/remotestub --addr :8080 --steps 11 --max 1
//	go run ./cmd/bridge --config configs/bridge.yaml --demo-bids 2s
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/matchbridge/internal/model"
	"github.com/rickgao/matchbridge/internal/remote"
	"github.com/rickgao/matchbridge/internal/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	path := flag.String("path", "/powermatcher/websockets/agentendpoint", "agent endpoint path")
	clusterID := flag.String("cluster", "stub-cluster", "cluster id announced to bridges")
	commodity := flag.String("commodity", "electricity", "market basis commodity")
	currency := flag.String("currency", "EUR", "market basis currency")
	minPrice := flag.String("min", "0", "market basis minimum price")
	maxPrice := flag.String("max", "1", "market basis maximum price")
	steps := flag.Int("steps", 11, "market basis price steps")
	significance := flag.Int("significance", 2, "market basis significance")
	fixed := flag.String("fixed-price", "", "answer every bid with this price instead of the equilibrium")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	basis, err := parseBasis(*commodity, *currency, *minPrice, *maxPrice, *steps, *significance)
	if err != nil {
		logger.Error("invalid market basis", "error", err)
		os.Exit(1)
	}

	var price remote.PriceFunc
	if *fixed != "" {
		p, err := decimal.NewFromString(*fixed)
		if err != nil {
			logger.Error("invalid fixed price", "value", *fixed, "error", err)
			os.Exit(1)
		}
		price = remote.Fixed(p)
	}

	stub := remote.NewServer(remote.Config{
		ClusterID:   *clusterID,
		MarketBasis: basis,
	}, price, logger)

	mux := http.NewServeMux()
	mux.Handle(*path, stub)

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("remote stub listening",
			"version", version.Get().Version,
			"addr", *addr,
			"path", *path,
			"cluster_id", *clusterID,
			"price_steps", basis.PriceSteps,
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stub.CloseAll()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown failed", "error", err)
	}
	stub.Wait()

	stats := stub.Stats()
	logger.Info("remote stub stopped",
		"bid_updates", stats.BidUpdates,
		"prices", stats.Prices,
		"rejected", stats.Rejected,
	)
}

func parseBasis(commodity, currency, min, max string, steps, significance int) (model.MarketBasis, error) {
	lo, err := decimal.NewFromString(min)
	if err != nil {
		return model.MarketBasis{}, err
	}
	hi, err := decimal.NewFromString(max)
	if err != nil {
		return model.MarketBasis{}, err
	}

	basis := model.MarketBasis{
		Commodity:    commodity,
		Currency:     currency,
		MinimumPrice: lo,
		MaximumPrice: hi,
		PriceSteps:   steps,
		Significance: significance,
	}
	return basis, basis.Validate()
}
