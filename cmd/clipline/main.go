package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cliplinehq/clipline/internal/ai"
	"github.com/cliplinehq/clipline/internal/ai/openai"
	"github.com/cliplinehq/clipline/internal/common"
	appcfg "github.com/cliplinehq/clipline/internal/config"
	"github.com/cliplinehq/clipline/internal/fetch"
	"github.com/cliplinehq/clipline/internal/fetch/ytdlp"
	"github.com/cliplinehq/clipline/internal/pipeline"
	"github.com/cliplinehq/clipline/internal/report"
	"github.com/cliplinehq/clipline/internal/retry"
	"github.com/cliplinehq/clipline/internal/store"
	"github.com/cliplinehq/clipline/internal/store/r2"
	"github.com/cliplinehq/clipline/internal/task"
	"github.com/cliplinehq/clipline/internal/webhook"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Logger first so config failures are already structured.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		var cfgErr *appcfg.Error
		if errors.As(err, &cfgErr) {
			for _, p := range cfgErr.Problems {
				logger.Error("config problem", "problem", p)
			}
		} else {
			logger.Error("load config", "err", err)
		}
		return common.ExitConfig
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Task context and working directory
	tc, err := task.NewContext(task.FromConfig(cfg.Task))
	if err != nil {
		logger.Error("create task context", "err", err)
		return common.ExitPipeline
	}

	// Fetch stage
	fetcher := fetch.NewFetcher(logger, ytdlp.New(logger), fetch.Limits{
		MaxVideoSize: uint64(cfg.Fetch.MaxVideoSize),
		MaxDuration:  cfg.Fetch.MaxDuration,
	}, retry.Policy{
		MaxAttempts:    cfg.Fetch.Retries + 1,
		BaseDelay:      cfg.Fetch.Backoff,
		Jitter:         0.2,
		AttemptTimeout: cfg.Fetch.Timeout,
	})

	// Storage stage (R2 over the S3 API)
	r2Client, err := r2.New(rootCtx, cfg.Storage)
	if err != nil {
		logger.Error("init storage client", "err", err)
		tc.Cleanup(logger)
		return common.ExitPipeline
	}
	uploader := store.NewUploader(logger, r2Client, cfg.Storage, retry.Policy{
		MaxAttempts:    cfg.Storage.Retries + 1,
		BaseDelay:      cfg.Storage.Backoff,
		Jitter:         0.2,
		AttemptTimeout: cfg.Storage.Timeout,
	})

	// Generation stage
	generator := ai.NewGenerator(logger, openai.New(cfg.AI), retry.Policy{
		MaxAttempts:    cfg.AI.Retries + 1,
		BaseDelay:      cfg.AI.Backoff,
		Jitter:         0.2,
		AttemptTimeout: cfg.AI.Timeout,
	})

	// Delivery stage
	notifier := webhook.NewNotifier(logger, cfg.Webhook, cfg.TestMode, retry.Policy{
		MaxAttempts:    cfg.Webhook.Retries + 1,
		BaseDelay:      cfg.Webhook.Backoff,
		Jitter:         0.2,
		AttemptTimeout: cfg.Webhook.Timeout,
	})

	orch := pipeline.New(logger, fetcher, uploader, generator, notifier)
	rep, runErr := orch.Run(rootCtx, tc)
	printReport(logger, rep)
	if runErr != nil {
		return common.ExitPipeline
	}
	return common.ExitOK
}

// printReport writes the terminal report to stdout for the trigger layer.
// Logs go to stderr, so stdout stays machine-parseable.
func printReport(logger *slog.Logger, rep *report.Report) {
	if rep == nil {
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		logger.Error("encode report", "err", err)
	}
}

// logLevel reads LOG_LEVEL directly. The logger has to exist before the
// config loader runs so its problems can be reported through it.
func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
