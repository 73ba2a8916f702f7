// The worker consumes frame tasks from the queue, fetches the frame
// bytes behind each task's reference, runs recognition and publishes
// the decision. Scale horizontally by running more workers.
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

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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
	workers := flag.Int("workers", 4, "concurrent frame processors")
	metricsPort := flag.Int("metrics-port", 9091, "prometheus metrics port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, *workers, *metricsPort); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, workers, metricsPort int) error {
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

	store, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	objects, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
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
	fetcher := imagesource.NewFetcher(objects)

	pipeline := stream.NewPipeline(cfg.Stream, recognition, trainer,
		func(ctx context.Context, ev models.DecisionEvent) {
			if err := producer.PublishDecision(ctx, ev); err != nil {
				slog.Error("publish decision", "stream_id", ev.StreamID, "error", err)
			}
		}, store)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer consumer.Close()

	handle := func(ctx context.Context, msg jetstream.Msg) error {
		var task models.FrameTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Warn("malformed frame task", "error", err)
			return nil // poison message, don't redeliver
		}

		fetchCtx, cancel := context.WithTimeout(ctx, cfg.Stream.FetchTimeout)
		photo, err := fetcher.Fetch(fetchCtx, task.FrameRef)
		cancel()
		if err != nil {
			// Let redelivery handle transient fetch trouble.
			return fmt.Errorf("fetch frame %s: %w", task.FrameID, err)
		}

		pipeline.Process(ctx, task, photo)
		return nil
	}
	if err := consumer.ConsumeFrames(ctx, "frame-workers", handle, workers); err != nil {
		return err
	}

	// Keep the classifier fresh without an external scheduler.
	go refreshLoop(ctx, trainer, cfg.Training.CacheRefresh)
	go serveMetrics(ctx, metricsPort)
	go watchQueueDepth(ctx, producer)

	slog.Info("worker running", "workers", workers)
	<-ctx.Done()
	pipeline.Wait()
	return nil
}

func refreshLoop(ctx context.Context, trainer *training.Service, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, trained, err := trainer.RetrainIfStale(ctx)
			if err != nil {
				if !errors.Is(err, facerec.ErrInsufficientData) && !errors.Is(err, context.Canceled) {
					slog.Warn("scheduled retrain", "error", err)
				}
				continue
			}
			if trained {
				slog.Info("scheduled retrain completed")
			}
		}
	}
}

func serveMetrics(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server", "error", err)
	}
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
