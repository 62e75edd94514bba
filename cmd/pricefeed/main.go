// pricefeed streams quotes from the feed, keeps the last value of every
// instrument and serves it over HTTP.
//
// Usage: go run ./cmd/pricefeed --config configs/pricefeed.example.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/pricefeed/internal/api"
	"github.com/rickgao/pricefeed/internal/app"
	"github.com/rickgao/pricefeed/internal/config"
	"github.com/rickgao/pricefeed/internal/database"
	"github.com/rickgao/pricefeed/internal/insurance"
	"github.com/rickgao/pricefeed/internal/lvp"
	"github.com/rickgao/pricefeed/internal/poller"
	"github.com/rickgao/pricefeed/internal/publish"
	"github.com/rickgao/pricefeed/internal/server"
	"github.com/rickgao/pricefeed/internal/streaming"
	"github.com/rickgao/pricefeed/internal/version"
	"github.com/rickgao/pricefeed/internal/writer"
)

// component is anything started after the client and stopped before it.
type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/pricefeed.example.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		slog.Error("pricefeed failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}

	logger, err := app.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	logger = logger.With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting pricefeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"endpoints", cfg.Feed.Endpoints,
		"instruments", len(cfg.Feed.Instruments),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	creds, err := app.LoadCredentials(cfg.Feed)
	if err != nil {
		return err
	}

	// Optional sinks, connected in parallel.
	var (
		pool *pgxpool.Pool
		rdb  *redis.Client
	)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Database.Timescale.Enabled() {
		g.Go(func() error {
			p, err := database.Connect(gctx, cfg.Database.Timescale)
			if err != nil {
				return fmt.Errorf("timescale: %w", err)
			}
			if err := database.EnsureSchema(gctx, p); err != nil {
				p.Close()
				return err
			}
			pool = p
			return nil
		})
	}
	if cfg.Redis.Enabled() {
		g.Go(func() error {
			c := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err := c.Ping(gctx).Err(); err != nil {
				c.Close()
				return fmt.Errorf("redis: %w", err)
			}
			rdb = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		logger.Info("timescale connected", "host", cfg.Database.Timescale.Host)
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// Value store, warm from the mirror when there is one.
	store := lvp.NewStore(cfg.Feed.CacheMaxAge)
	var mirror *lvp.RedisMirror
	if rdb != nil {
		mirror = lvp.NewRedisMirror(rdb, cfg.Redis.KeyPrefix, cfg.Feed.CacheMaxAge, logger)
		if !cfg.Mirror.SkipRestore {
			restoreCtx, restoreCancel := context.WithTimeout(ctx, cfg.Mirror.Timeout)
			n, err := mirror.RestoreInto(restoreCtx, store)
			restoreCancel()
			if err != nil {
				logger.Warn("lvp restore failed, starting empty", "error", err)
			} else {
				logger.Info("lvp restored", "entries", n)
			}
		}
	}

	srcCfg := app.SourceConfig(cfg.Feed, creds)
	client, err := streaming.New(app.StreamingConfig(cfg.Feed), app.SourceFactory(srcCfg, logger),
		streaming.WithLogger(logger),
		streaming.WithStore(store),
	)
	if err != nil {
		return err
	}

	// Sinks listen before the first connect so no quote is missed.
	var components []component
	if pool != nil {
		components = append(components, writer.NewQuoteWriter(
			app.WriterConfig(cfg.Writers), client.Listen(cfg.Writers.BufferSize), pool, logger))
	}
	if cfg.Kafka.Enabled() {
		pubCfg := app.PublishConfig(cfg.Kafka)
		components = append(components, publish.NewPublisher(
			pubCfg, client.Listen(cfg.Writers.BufferSize), publish.NewKafkaWriter(pubCfg), logger))
	}
	if mirror != nil {
		components = append(components, poller.New(app.PollerConfig(cfg), store, logger, mirror))
	}

	var proof server.ProofSource
	if cfg.Insurance.APIKey != "" {
		apiClient := api.NewClient(cfg.Insurance.Endpoint, cfg.Insurance.APIKey,
			api.WithLogger(logger),
			api.WithTimeout(cfg.Insurance.Timeout),
			api.WithRetries(cfg.Insurance.MaxRetries, time.Second),
		)
		fetchTimeout := cfg.Insurance.Timeout * time.Duration(cfg.Insurance.MaxRetries+1)
		proof = insurance.NewTransport(apiClient, fetchTimeout, logger)
	}
	srv := server.New(app.ServerConfig(cfg.HTTP), client, proof, logger)
	if pool != nil {
		srv.AddCheck("timescale", pool)
	}
	if mirror != nil {
		srv.AddCheck("redis", mirror)
	}

	if err := client.Start(ctx); err != nil {
		return err
	}
	for _, c := range components {
		if err := c.Start(ctx); err != nil {
			return err
		}
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}

	logger.Info("pricefeed running", "http_port", cfg.HTTP.Port)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("http stop", "error", err)
	}
	// Stopping the client closes the listener buffers the sinks drain.
	if err := client.Stop(shutdownCtx); err != nil {
		logger.Warn("streaming client stop", "error", err)
	}

	var sg errgroup.Group
	for _, c := range components {
		sg.Go(func() error { return c.Stop(shutdownCtx) })
	}
	if err := sg.Wait(); err != nil {
		logger.Warn("component stop", "error", err)
	}

	if mirror != nil {
		if err := mirror.Save(shutdownCtx, store.Snapshot()); err != nil {
			logger.Warn("final lvp save failed", "error", err)
		}
	}

	logger.Info("pricefeed stopped")
	return nil
}
