// Demo wiring of the resilience layer: a flaky remote operation retried with
// backoff, an offline deferral replayed on reconnect, and deduplicated cache
// reads.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/resilient"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	_ = godotenv.Load()

	cfg := &resilient.Config{}
	if *configPath != "" {
		loaded, err := resilient.LoadConfig(*configPath)
		if err != nil {
			stylelog.InitDefault()
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	// Replay just logs; a real application would re-issue the remote write.
	replay := func(ctx context.Context, op *resilient.QueuedOperation) error {
		slog.Info("Replaying deferred operation", "id", op.ID, "kind", op.Kind)
		return nil
	}

	client, err := resilient.New(cfg, replay)
	if err != nil {
		slog.Error("Failed to initialize client", "error", err)
		os.Exit(1)
	}
	defer client.Stop()

	ctx := context.Background()
	client.Start(ctx)

	// 1. A flaky operation that fails twice with a transport error, then
	// succeeds.
	calls := 0
	flaky := func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return fmt.Sprintf("ok after %d calls", calls), nil
	}

	result, err := client.Run(ctx, flaky, resilient.RunOptions{
		Policy: resilient.RetryPolicy{
			MaxAttempts: 4,
			BaseDelay:   100 * time.Millisecond,
			Multiplier:  2,
		},
		CacheKey: "demo:flaky",
		CacheTTL: 10 * time.Second,
	})
	if err != nil {
		slog.Error("Run failed hard", "error", err)
		os.Exit(1)
	}
	slog.Info("Flaky operation finished",
		"status", result.Status,
		"attempts", result.Attempts,
		"value", result.Value,
	)

	// 2. Defer a write while offline, then reconnect and watch it replay.
	client.SetOnline(false)
	deferred, err := client.Run(ctx, flaky, resilient.RunOptions{
		DeferWhenOffline: true,
		Kind:             "submission",
		Payload:          map[string]string{"title": "offline draft"},
	})
	if err != nil {
		slog.Error("Deferral failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Operation deferred", "status", deferred.Status, "queued_id", deferred.QueuedID)

	client.SetOnline(true)
	time.Sleep(200 * time.Millisecond) // let the drain run

	// 3. Classify a few failure shapes.
	for _, v := range []any{
		errors.New("dial tcp: connection refused"),
		"request timed out",
		map[string]any{"status": 403, "message": "forbidden"},
		nil,
	} {
		c := resilient.Classify(v)
		slog.Info("Classified",
			"input", fmt.Sprintf("%v", v),
			"category", c.Category,
			"retryable", c.Retryable,
		)
	}

	// 4. Concurrent cache reads share one fetch.
	fetches := 0
	for i := 0; i < 3; i++ {
		v, err := client.GetOrFetch(ctx, "demo:events", func(ctx context.Context) (any, error) {
			fetches++
			return "event list", nil
		}, 5*time.Second)
		if err != nil {
			slog.Error("Cache read failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Cache read", "value", v, "fetches_so_far", fetches)
	}
}
