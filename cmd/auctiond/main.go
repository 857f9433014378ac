package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkrogh/auctiond/internal/api"
	"github.com/mkrogh/auctiond/internal/arbiter"
	"github.com/mkrogh/auctiond/internal/clock"
	"github.com/mkrogh/auctiond/internal/config"
	"github.com/mkrogh/auctiond/internal/eligibility"
	"github.com/mkrogh/auctiond/internal/event"
	"github.com/mkrogh/auctiond/internal/fanout"
	"github.com/mkrogh/auctiond/internal/health"
	"github.com/mkrogh/auctiond/internal/leader"
	"github.com/mkrogh/auctiond/internal/settle"
	"github.com/mkrogh/auctiond/internal/store"
	"github.com/mkrogh/auctiond/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/mkrogh/auctiond/internal/store/memory"
	_ "github.com/mkrogh/auctiond/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "store opened", slog.String("driver", cfg.Database.Driver))

	// Local websocket fan-out runs on every replica.
	hub := fanout.NewHub(logger)
	go hub.Run(ctx)

	// Committed events go to the hub directly, or through Redis when a
	// broker is configured so other replicas' watchers see them too.
	publishers := event.Multi{}
	if cfg.Redis.Addr != "" {
		pub, pubErr := fanout.NewRedisPublisher(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if pubErr != nil {
			return fmt.Errorf("connecting redis publisher: %w", pubErr)
		}
		defer pub.Close()

		sub, subErr := fanout.NewRedisSubscriber(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, hub, logger)
		if subErr != nil {
			return fmt.Errorf("connecting redis subscriber: %w", subErr)
		}
		defer sub.Close()
		go func() {
			if runErr := sub.Run(ctx); runErr != nil && ctx.Err() == nil {
				logger.ErrorContext(ctx, "redis subscriber stopped", slog.Any("error", runErr))
			}
		}()

		publishers = append(publishers, pub)
		logger.InfoContext(ctx, "redis event bridge enabled", slog.String("addr", cfg.Redis.Addr))
	} else {
		publishers = append(publishers, hub)
	}

	if cfg.NATS.URL != "" {
		settler, settleErr := settle.NewPublisher(ctx, cfg.NATS.URL, logger)
		if settleErr != nil {
			return fmt.Errorf("connecting settlement stream: %w", settleErr)
		}
		defer settler.Close()
		publishers = append(publishers, settler)
		logger.InfoContext(ctx, "settlement stream enabled", slog.String("url", cfg.NATS.URL))
	}

	gate := eligibility.NewGate(repos.Participants)
	engine := arbiter.NewEngine(repos.Auctions, repos.Bids, gate, publishers, clk,
		arbiter.Options{
			MaxCommitRetries:       cfg.Bidding.MaxCommitRetries,
			DefaultExtensionWindow: cfg.Bidding.ExtensionWindow,
		},
		logger, tp.TracerProvider)

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	router := api.NewHandler(engine, hub, logger).Routes()
	router.HandleFunc("/healthz", healthHandler.LivenessHandler())
	router.HandleFunc("/readyz", healthHandler.ReadinessHandler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctiond is running", slog.String("version", version))

	// The lifecycle sweeper should run on a single replica. With leader
	// election it follows the lease; without it, it just runs here.
	if cfg.LeaderElection.Enabled {
		go func() {
			leaderErr := leader.Run(ctx, cfg.LeaderElection, logger,
				func(leadCtx context.Context) {
					engine.RunSweeper(leadCtx, cfg.Bidding.SweepInterval)
				},
				func() {
					logger.Info("lost sweeper leadership")
				})
			if leaderErr != nil {
				logger.ErrorContext(ctx, "leader election failed, sweeper not running", slog.Any("error", leaderErr))
			}
		}()
	} else {
		go engine.RunSweeper(ctx, cfg.Bidding.SweepInterval)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
