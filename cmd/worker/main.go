package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"threadline.app/processor/common/crypto"
	"threadline.app/processor/common/id"
	"threadline.app/processor/common/llm"
	"threadline.app/processor/common/logger"
	"threadline.app/processor/common/otel"
	"threadline.app/processor/core/config"
	"threadline.app/processor/core/db"
	"threadline.app/processor/internal/analyzer"
	"threadline.app/processor/internal/mention"
	"threadline.app/processor/internal/processor"
	"threadline.app/processor/internal/queue"
	"threadline.app/processor/internal/service"
	"threadline.app/processor/internal/source"
	"threadline.app/processor/internal/store"
	"threadline.app/processor/internal/tracker"
	"threadline.app/processor/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "threadline worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Different node ID than the server so ids never collide
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    1, // One discussion at a time
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: 2 * time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	cipher, err := crypto.NewCipher(cfg.CryptoKey)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize cipher", "error", err)
		os.Exit(1)
	}

	var analyzing processor.Analyzing
	if cfg.OpenAI.Enabled() {
		llmClient, err := llm.New(llm.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to initialize llm client", "error", err)
			os.Exit(1)
		}
		analyzing = analyzer.New(llmClient)
		slog.InfoContext(ctx, "llm client initialized", "model", cfg.OpenAI.Model)
	} else {
		slog.WarnContext(ctx, "no openai api key configured, all discussions get default tasks")
	}

	stores := store.NewStores(database.Pool())

	proc := processor.New(processor.Config{
		TxRunner:     service.NewTxRunner(database),
		Discussions:  stores.Discussions(),
		Jobs:         stores.Jobs(),
		Tasks:        stores.Tasks(),
		UserMappings: stores.UserMappings(),
		Resolver:     service.NewConfigResolver(stores.Flows(), stores.LegacyConfigs(), cipher),
		Sources:      source.NewRegistry(source.NewSlack(), source.NewFigma(), source.NewPage(source.WithPageBaseURL(cfg.Notion.BaseURL))),
		Analyzer:     analyzing,
		Trackers:     tracker.NotionFactory,
		Bot:          mention.BotIdentity{ID: cfg.Bot.UserID, Handle: cfg.Bot.Handle},
	})

	w := worker.New(consumer, proc, worker.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first (quick), then the worker (may be mid-discussion)
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
████████╗██╗  ██╗██████╗ ███████╗ █████╗ ██████╗ ██╗     ██╗███╗   ██╗███████╗
╚══██╔══╝██║  ██║██╔══██╗██╔════╝██╔══██╗██╔══██╗██║     ██║████╗  ██║██╔════╝
   ██║   ███████║██████╔╝█████╗  ███████║██║  ██║██║     ██║██╔██╗ ██║█████╗
   ██║   ██╔══██║██╔══██╗██╔══╝  ██╔══██║██║  ██║██║     ██║██║╚██╗██║██╔══╝
   ██║   ██║  ██║██║  ██║███████╗██║  ██║██████╔╝███████╗██║██║ ╚████║███████╗
   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚═════╝ ╚══════╝╚═╝╚═╝  ╚═══╝╚══════╝
                                                                       worker
`
