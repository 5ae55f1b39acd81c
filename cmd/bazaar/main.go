package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/jensholdgaard/bazaar/internal/api"
	"github.com/jensholdgaard/bazaar/internal/auction"
	"github.com/jensholdgaard/bazaar/internal/auth"
	"github.com/jensholdgaard/bazaar/internal/clock"
	"github.com/jensholdgaard/bazaar/internal/config"
	"github.com/jensholdgaard/bazaar/internal/health"
	"github.com/jensholdgaard/bazaar/internal/leader"
	"github.com/jensholdgaard/bazaar/internal/market"
	"github.com/jensholdgaard/bazaar/internal/media"
	"github.com/jensholdgaard/bazaar/internal/metrics"
	"github.com/jensholdgaard/bazaar/internal/ratelimit"
	"github.com/jensholdgaard/bazaar/internal/relay"
	"github.com/jensholdgaard/bazaar/internal/store"
	"github.com/jensholdgaard/bazaar/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/bazaar/internal/store/memstore"
	_ "github.com/jensholdgaard/bazaar/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	issueFor := flag.String("issue-token", "", "print a signed token for this user id and exit")
	issueAdmin := flag.Bool("admin", false, "with -issue-token, grant admin rights")
	issueTTL := flag.Duration("ttl", 24*time.Hour, "with -issue-token, token lifetime")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *issueFor != "" {
		if err := issueToken(*configPath, *issueFor, *issueAdmin, *issueTTL); err != nil {
			slog.Error("issuing token", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func issueToken(configPath, userID string, admin bool, ttl time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := auth.New(cfg.Auth, clock.Real{}).Issue(userID, admin, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
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

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	images, err := media.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening media store: %w", err)
	}

	auctions, err := auction.NewManager(logger, tp.TracerProvider, tp.MeterProvider, clk)
	if err != nil {
		return fmt.Errorf("creating auction manager: %w", err)
	}
	mgr, err := market.NewManager(repos, auctions, images, logger, tp.TracerProvider, tp.MeterProvider, clk)
	if err != nil {
		return fmt.Errorf("creating market: %w", err)
	}

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// A nil interface, not a nil *redis.Client, selects the local limiter.
	var limiterClient redis.Cmdable
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		limiterClient = rdb
		healthHandler.Add(health.Checker{
			Name:     "redis",
			Check:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			Optional: true,
		})
	}

	deps := api.Deps{
		Market:         mgr,
		Auth:           auth.New(cfg.Auth, clk),
		Limiter:        ratelimit.New(cfg.RateLimit, limiterClient),
		Metrics:        metrics.NewHTTP(),
		Health:         healthHandler,
		Logger:         logger,
		TracerProvider: tp.TracerProvider,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	}
	if local, ok := images.(*media.Local); ok {
		deps.Media = local.Handler()
		deps.MediaPrefix = local.Prefix()
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.New(deps).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	var wg sync.WaitGroup
	if cfg.Relay.Enabled {
		nc, natsErr := nats.Connect(cfg.NATS.URL,
			nats.Name("bazaar"),
			nats.MaxReconnects(-1),
		)
		if natsErr != nil {
			return fmt.Errorf("connecting to NATS: %w", natsErr)
		}
		defer nc.Drain()
		healthHandler.Add(health.Checker{
			Name: "nats",
			Check: func(context.Context) error {
				if !nc.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
			Optional: true,
		})

		pub, natsErr := relay.NewJetStream(ctx, nc, cfg.NATS)
		if natsErr != nil {
			return fmt.Errorf("setting up JetStream: %w", natsErr)
		}
		rl, relayErr := relay.New(repos.Events, repos.Cursors, pub, cfg.NATS, cfg.Relay, logger, tp.TracerProvider, tp.MeterProvider)
		if relayErr != nil {
			return fmt.Errorf("creating relay: %w", relayErr)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			leader.Campaign(ctx, cfg.LeaderElection, logger, rl.Run)
		}()
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "bazaar is running", slog.String("version", version))

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}
