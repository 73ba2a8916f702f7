package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facegate/internal/api"
	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/facerec"
	"github.com/your-org/facegate/internal/imagesource"
	"github.com/your-org/facegate/internal/match"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/queue"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/internal/stream"
	"github.com/your-org/facegate/internal/training"
	"github.com/your-org/facegate/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := vision.InitRuntime(); err != nil {
		return err
	}
	defer vision.ShutdownRuntime()

	encoder, err := vision.NewEncoder(cfg.Vision)
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	defer encoder.Close()
	slog.Info("encoder ready", "provider", encoder.Name(), "dim", encoder.Dim())

	store, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	objects, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return err
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		return err
	}

	engine := match.NewEngine(cfg.Match.NearMissCap)
	recognition := facerec.NewService(encoder, store, engine, cfg.Match, cfg.Training.CacheRefresh, store)
	trainer := training.NewService(cfg.Training, store, store, objects)

	// Inline frames are processed here; decisions go through NATS so
	// the WebSocket fan-out is uniform for API- and worker-processed
	// frames alike.
	pipeline := stream.NewPipeline(cfg.Stream, recognition, trainer,
		func(ctx context.Context, ev models.DecisionEvent) {
			if err := producer.PublishDecision(ctx, ev); err != nil {
				slog.Error("publish decision", "stream_id", ev.StreamID, "error", err)
			}
		}, store)

	hub := ws.NewHub(func(ctx context.Context, streamID, frameID string, photo []byte) bool {
		return pipeline.Submit(ctx, streamID, frameID, time.Now(), photo)
	})
	go hub.Run(ctx)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer consumer.Close()
	err = consumer.ConsumeDecisions(ctx, "api-decisions", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.DecisionEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			slog.Warn("malformed decision event", "error", err)
			return nil // poison message, don't redeliver
		}
		hub.Broadcast(ev)
		return nil
	})
	if err != nil {
		return err
	}

	go watchQueueDepth(ctx, producer)

	h := &handlers.Handlers{
		Store:       store,
		Recognition: recognition,
		Training:    trainer,
		Pipeline:    pipeline,
		Fetcher:     imagesource.NewFetcher(objects),
		Producer:    producer,
		ObjectStore: objects,
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(cfg, h, hub),
	}

	go func() {
		slog.Info("api listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	pipeline.Wait()
	return nil
}

func watchQueueDepth(ctx context.Context, producer *queue.Producer) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := producer.QueueDepth(ctx)
			if err != nil {
				continue
			}
			observability.QueueDepth.Set(float64(depth))
		}
	}
}
