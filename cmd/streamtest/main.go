// streamtest connects to the feed and prints quote, heartbeat and state
// events to the console.
// Usage: go run ./cmd/streamtest --config configs/pricefeed.example.yaml
//
// Credentials come from the config, usually through environment variables:
//
//	FEED_USER_GROUP - user group issued by the provider
//	FEED_PASSWORD   - password for that group
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/pricefeed/internal/app"
	"github.com/rickgao/pricefeed/internal/config"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/router"
	"github.com/rickgao/pricefeed/internal/streaming"
)

func main() {
	configPath := flag.String("config", "configs/pricefeed.example.yaml", "path to config file")
	instruments := flag.String("instruments", "", "comma-separated instruments overriding the config")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	_ = godotenv.Load()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *instruments != "" {
		cfg.Feed.Instruments = strings.Split(*instruments, ",")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	creds, err := app.LoadCredentials(cfg.Feed)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}
	if creds == nil {
		logger.Warn("no credentials configured, connecting unauthenticated")
	}

	client, err := streaming.New(
		app.StreamingConfig(cfg.Feed),
		app.SourceFactory(app.SourceConfig(cfg.Feed, creds), logger),
		streaming.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create streaming client", "error", err)
		os.Exit(1)
	}

	events := client.Listen(1024)

	if err := client.Start(ctx); err != nil {
		logger.Error("failed to start streaming client", "error", err)
		os.Exit(1)
	}
	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	go printEvents(ctx, events, *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := client.Stats()
				logger.Info("stats",
					"state", s.State,
					"instruments", s.Instruments,
					"subscribed", s.Subscribed,
					"quotes", s.QuotesReceived,
					"parse_errors", s.ParseErrors,
					"out_of_order", s.OutOfOrder,
					"heartbeats", s.Heartbeats,
					"reconnects", s.Reconnects,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "instruments", cfg.Feed.Instruments)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	client.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEvents(ctx context.Context, buf *router.GrowableBuffer[model.Event], verbose bool) {
	for {
		ev, ok := buf.ReceiveContext(ctx)
		if !ok {
			return
		}

		if verbose {
			data, _ := json.MarshalIndent(ev, "", "  ")
			fmt.Printf("[%s] %s\n", strings.ToUpper(string(ev.Type)), data)
			continue
		}

		switch ev.Type {
		case model.EventQuote:
			q := ev.Quote
			mark := ""
			if q.OutOfOrder {
				mark = " out-of-order"
			}
			fmt.Printf("[QUOTE] %s bid=%.5f ask=%.5f mid=%.5f ts=%s%s\n",
				q.InstrumentKey, q.Bid, q.Ask, q.Mid, q.Timestamp.Format(time.RFC3339Nano), mark)
		case model.EventHeartbeat:
			fmt.Printf("[HEARTBEAT] %s\n", ev.Timestamp.Format(time.RFC3339Nano))
		case model.EventConnectionState:
			fmt.Printf("[STATE] %s session=%s reason=%q\n", ev.State, ev.SessionID, ev.Reason)
		}
	}
}
