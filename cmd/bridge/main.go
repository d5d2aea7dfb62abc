package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/matchbridge/internal/bidstore"
	"github.com/rickgao/matchbridge/internal/bridge"
	"github.com/rickgao/matchbridge/internal/config"
	"github.com/rickgao/matchbridge/internal/connection"
	"github.com/rickgao/matchbridge/internal/database"
	"github.com/rickgao/matchbridge/internal/endpoint"
	"github.com/rickgao/matchbridge/internal/metrics"
	"github.com/rickgao/matchbridge/internal/model"
	"github.com/rickgao/matchbridge/internal/version"
	"github.com/rickgao/matchbridge/internal/writer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/bridge.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	demoInterval := flag.Duration("demo-bids", 0, "offer a synthetic bid at this interval (0 disables)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}

	// A missing .env is normal outside development
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	build := version.Get()
	logger.Info("starting bridge",
		"version", build.Version,
		"commit", build.Commit,
		"config", *configPath,
		"agent_id", cfg.Agent.ID,
		"remote_url", cfg.Remote.URL,
	)

	if err := run(cfg, *demoInterval, logger); err != nil {
		logger.Error("bridge exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}

func run(cfg *config.BridgeConfig, demoInterval time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	local := endpoint.NewLocal(endpoint.PriceHandlerFunc(func(price model.Price, bid model.AggregatedBid) {
		logger.Info("price received",
			"price", price.Value.String(),
			"step", price.Step(),
			"demand", bid.DemandAt(price.Value),
		)
	}), logger)
	registry := endpoint.NewRegistry(logger)

	b := bridge.New(bridgeConfig(cfg), local, registry, logger)

	m := metrics.New()
	m.RegisterBridge(b)
	m.RegisterGauge("registry_usable_endpoints", "Usable matcher endpoints in the local registry",
		func() float64 { return float64(len(registry.Usable())) })
	b.AddObserver(m)

	var (
		pool    *pgxpool.Pool
		journal *writer.Journal
	)
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)
		p, err := database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer p.Close()
		pool = p

		journal = writer.NewJournal(writer.JournalConfig{
			AgentID:       cfg.Agent.ID,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger)
		if err := journal.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure journal schema: %w", err)
		}
		if err := journal.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		b.AddObserver(journal)
		m.RegisterGauge("journal_queued_rows", "Journal rows waiting to be written",
			func() float64 { return float64(journal.Stats().Queued) })
	}

	if err := b.Start(ctx); err != nil {
		if journal != nil {
			journal.Stop(context.Background())
		}
		return fmt.Errorf("start bridge: %w", err)
	}

	throttle := local.NewThrottle(b.OnLocalBidProduced)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHTTPHandler(cfg, b, local, pool, m, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server",
			"port", cfg.Metrics.Port,
			"metrics_enabled", cfg.Metrics.Enabled,
			"metrics_path", cfg.Metrics.Path,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if demoInterval > 0 {
		g.Go(func() error {
			runDemoBids(gctx, demoInterval, local, throttle, logger)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		throttle.Stop()
		var errs []error
		if err := b.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if journal != nil {
			if err := journal.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop journal: %w", err))
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// bridgeConfig maps file configuration onto the bridge.
func bridgeConfig(cfg *config.BridgeConfig) bridge.Config {
	return bridge.Config{
		AgentID:                  cfg.Agent.ID,
		URL:                      cfg.Remote.URL,
		MinTimeBetweenBidUpdates: cfg.Matching.MinTimeBetweenBidUpdates,
		Supervisor: connection.SupervisorConfig{
			Session: connection.SessionConfig{
				ConnectTimeout: cfg.Remote.ConnectTimeout,
				PingInterval:   cfg.Remote.PingInterval,
				PingTimeout:    cfg.Remote.PingTimeout,
				WriteTimeout:   cfg.Remote.WriteTimeout,
				BufferSize:     cfg.Remote.BufferSize,
			},
			InitialDelay:      cfg.Remote.InitialDelay,
			ReconnectInterval: cfg.Remote.ReconnectInterval,
		},
		Store: bidstore.Config{
			MaxAge:        cfg.Bids.Expiration,
			SweepInterval: cfg.Bids.SweepInterval,
		},
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	// Validate already rejected unknown levels
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newHTTPHandler serves health, status and metrics.
func newHTTPHandler(
	cfg *config.BridgeConfig,
	b *bridge.Bridge,
	local *endpoint.Local,
	pool *pgxpool.Pool,
	m *metrics.Metrics,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, m.Handler())
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		stats := b.Stats()
		health.Components["remote"] = map[string]any{
			"state":      stats.Link.State.String(),
			"registered": stats.State == bridge.StateRegistered,
			"usable":     stats.Usable,
		}
		if !stats.Usable {
			health.Status = "degraded"
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["journal"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["journal"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("write health response", "error", err)
		}
	})

	mux.HandleFunc("/debug/bridge", func(w http.ResponseWriter, r *http.Request) {
		stats := b.Stats()
		status := map[string]any{
			"agent_id":         b.ID(),
			"state":            stats.State.String(),
			"usable":           stats.Usable,
			"session_id":       stats.SessionID.String(),
			"pending_bids":     stats.PendingBids,
			"last_sequence":    stats.LastSequence,
			"bids_sent":        stats.BidsSent,
			"transmit_errors":  stats.TransmitErrors,
			"prices_matched":   stats.PricesMatched,
			"prices_unmatched": stats.PricesUnmatched,
			"decode_errors":    stats.DecodeErrors,
			"connect_attempts": stats.Link.ConnectAttempts,
			"connect_failures": stats.Link.ConnectFailures,
			"version":          version.Get(),
		}
		if conf, ok := local.Configuration(); ok {
			status["cluster_id"] = conf.ClusterID
			status["configured_at"] = conf.ConfiguredAt
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			logger.Debug("write status response", "error", err)
		}
	})

	return mux
}

// runDemoBids offers a linear demand curve on the announced market basis.
func runDemoBids(ctx context.Context, interval time.Duration, local *endpoint.Local, throttle *endpoint.Throttle, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var n int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		conf, ok := local.Configuration()
		if !ok {
			continue
		}

		bid, err := model.NewBid(conf.MarketBasis, linearDemand(conf.MarketBasis.PriceSteps, 100))
		if err != nil {
			logger.Warn("demo bid rejected", "error", err)
			continue
		}
		n++
		throttle.Offer(model.NewAggregatedBid(bid, map[string]int64{"demo": n}))
	}
}

// linearDemand falls from max at the lowest price to -max at the highest.
func linearDemand(steps int, max float64) []float64 {
	demand := make([]float64, steps)
	for i := range demand {
		demand[i] = max - 2*max*float64(i)/float64(steps-1)
	}
	return demand
}
