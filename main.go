package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"deriv-bot/config"
	"deriv-bot/internal/api"
	"deriv-bot/internal/circuit"
	"deriv-bot/internal/database"
	"deriv-bot/internal/dataprovider"
	"deriv-bot/internal/engine"
	"deriv-bot/internal/events"
	"deriv-bot/internal/ledger"
	"deriv-bot/internal/metrics"
	"deriv-bot/internal/vault"
	"deriv-bot/internal/venue"
)

// snapshotPathEnv points at the indicator snapshot maintained by the
// analysis layer.
const snapshotPathEnv = "INDICATOR_SNAPSHOT_PATH"

// paperStartingBuyingPower seeds the simulator account.
const paperStartingBuyingPower = 10000

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Msg("Starting derivatives strategy engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := buildVenueClient(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize venue client")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unreachable, ledger runs memory-only")
			rdb = nil
		}
	}

	var archiver engine.TradeArchiver
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		archiver = database.NewRepository(db)
	}

	bus := events.NewBus()
	book := ledger.New(rdb, logger)
	if err := book.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore trade ledger, starting empty")
	}

	breaker := circuit.New(cfg.Breaker, bus, logger)
	eng := engine.New(cfg, client, book, breaker, bus, archiver, book, logger)
	if entries, err := book.LoadCooldowns(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore cooldowns")
	} else if entries != nil {
		eng.Cooldowns().Restore(entries)
	}

	var sentiment *dataprovider.FearGreedClient
	if cfg.Sentiment.Enabled {
		sentiment = dataprovider.NewFearGreedClient(cfg.Sentiment, logger)
	}
	snapshotPath := os.Getenv(snapshotPathEnv)
	if snapshotPath == "" {
		snapshotPath = "indicators.json"
	}
	inputs := dataprovider.NewInputsProvider(snapshotPath, sentiment, logger)

	if cfg.Server.Enabled {
		server := api.NewServer(cfg.Server, eng, breaker, bus, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Fatal().Err(err).Msg("Failed to start web server")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Error shutting down web server")
			}
		}()
	}

	go runCycles(ctx, cfg, eng, inputs, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")
	cancel()
	logger.Info().Msg("Shutdown complete")
}

// runCycles drives the engine on the configured interval until the context
// ends.
func runCycles(ctx context.Context, cfg *config.Config, eng *engine.Engine, provider *dataprovider.InputsProvider, logger zerolog.Logger) {
	interval := time.Duration(cfg.Strategy.CycleIntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.With().Str("component", "driver").Logger()
	log.Info().Dur("interval", interval).Msg("Cycle driver started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOne(ctx, eng, provider, log)
		}
	}
}

func runOne(ctx context.Context, eng *engine.Engine, provider *dataprovider.InputsProvider, log zerolog.Logger) {
	cycleCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	inputs, err := provider.Collect(cycleCtx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect cycle inputs, skipping cycle")
		metrics.ObserveCycleFailure()
		return
	}

	started := time.Now()
	result, err := eng.RunCycle(cycleCtx, inputs)
	if err != nil {
		log.Error().Err(err).Msg("Cycle failed")
		metrics.ObserveCycleFailure()
		return
	}
	metrics.ObserveCycle(result, time.Since(started).Seconds())
}

// buildVenueClient returns the paper simulator or the live REST client per
// config. Live credentials come from Vault when enabled, config otherwise.
func buildVenueClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (venue.Client, error) {
	if cfg.Venue.PaperTrading {
		logger.Info().Msg("Paper trading mode, orders are simulated in-memory")
		return venue.NewPaperClient(paperStartingBuyingPower, nil), nil
	}

	venueCfg := cfg.Venue
	if cfg.Vault.Enabled {
		vaultClient, err := vault.NewClient(cfg.Vault)
		if err != nil {
			return nil, err
		}
		creds, err := vaultClient.GetCredentials(ctx)
		if err != nil {
			return nil, err
		}
		venueCfg.APIKeyID = creds.APIKeyID
		venueCfg.APISecret = creds.APISecret
	}

	return venue.NewRESTClient(venueCfg, logger), nil
}

// newLogger builds the root zerolog logger from config.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := zerolog.New(os.Stdout)
	if cfg.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return out.Level(level).With().Timestamp().Logger()
}
