/**
 * SmartPaper Layout Worker - Main Entry Point
 *
 * Go worker that reconstructs PDF page layouts.
 *
 * Architecture:
 * - Asynq (or plain Redis LIST) consumer for page jobs
 * - Layout detection over rendered pages, or detections carried by the job
 * - Containment, formula-number and caption merging, reading-order sort
 * - Figure captioning with a Redis-backed caption cache
 * - VoyageAI embeddings of page Markdown
 * - PostgreSQL + Qdrant persistence for page layouts
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanbuphy/SmartPaper/internal/clients"
	"github.com/sanbuphy/SmartPaper/internal/config"
	"github.com/sanbuphy/SmartPaper/internal/figures"
	"github.com/sanbuphy/SmartPaper/internal/logging"
	"github.com/sanbuphy/SmartPaper/internal/processor"
	"github.com/sanbuphy/SmartPaper/internal/queue"
	"github.com/sanbuphy/SmartPaper/internal/storage"
)

// consumer is the part of both queue consumers main drives
type consumer struct {
	start func() error
	stop  func() error
	stats func() (map[string]interface{}, error)
}

func main() {
	// Load environment variables
	if file := config.LoadDotEnv(".env.smartpaper", ".env"); file != "" {
		log.Printf("Loaded environment from %s", file)
	} else {
		log.Printf("Warning: no .env file found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required to run the worker")
	}

	log.Printf("SmartPaper layout worker starting...")
	log.Printf("Configuration loaded: Qdrant=%s, Queue=%s (%s), Workers=%d, Captions=%s",
		cfg.QdrantURL, cfg.QueueName, cfg.QueueMode, cfg.WorkerConcurrency, cfg.CaptionProvider)

	ctx := context.Background()

	// Initialize unified storage manager (PostgreSQL + Qdrant)
	log.Printf("Connecting to storage (PostgreSQL + Qdrant)...")
	storageManager, err := storage.NewStorageManager(
		cfg.DatabaseURL,
		cfg.QdrantURL,
		cfg.QdrantCollection,
	)
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}
	log.Printf("Storage manager initialized (PostgreSQL + Qdrant)")

	// Figure caption cache shares the queue's Redis
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	cacheClient := redis.NewClient(redisOpt)
	defer cacheClient.Close()

	proc, err := newProcessor(ctx, cfg, storageManager, cacheClient)
	if err != nil {
		log.Fatalf("Failed to initialize page processor: %v", err)
	}
	log.Printf("Page processor initialized")

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue...")
	queueConsumer, err := newConsumer(cfg, proc)
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := queueConsumer.start(); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("SmartPaper layout worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s (%s)", cfg.QueueName, cfg.QueueMode)
	log.Printf("Workers: %d, figure fan-out: %d", cfg.WorkerConcurrency, cfg.FigureConcurrency)
	log.Printf("Timeout: %v per page", cfg.Timeout())
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	healthCtx, stopHealth := context.WithCancel(ctx)
	go monitorHealth(healthCtx, storageManager, queueConsumer, time.Minute)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	stopHealth()

	log.Printf("Stopping queue consumer...")
	if err := queueConsumer.stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	log.Printf("Closing storage manager...")
	if err := storageManager.Close(); err != nil {
		log.Printf("Error closing storage manager: %v", err)
	} else {
		log.Printf("Storage manager closed")
	}

	log.Printf("Shutdown complete")
}

// newProcessor wires the page processor's external services. Optional
// services are left nil when unconfigured.
func newProcessor(ctx context.Context, cfg *config.Config, store *storage.StorageManager, cacheClient *redis.Client) (*processor.PageProcessor, error) {
	layoutOpts := cfg.LayoutOptions()
	procCfg := &processor.ProcessorConfig{
		StorageManager:    store,
		FigureCache:       figures.NewCache(cacheClient, cfg.CacheTTL()),
		Layout:            &layoutOpts,
		Geometry:          cfg.Geometry(),
		StripReferences:   cfg.StripReferences,
		RenderZoom:        cfg.RenderZoom,
		FigureConcurrency: cfg.FigureConcurrency,
	}

	if cfg.DetectorURL != "" {
		detector := clients.NewDetectorClient(cfg.DetectorURL, cfg.DetectorModel, cfg.DetectorThreshold)
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := detector.HealthCheck(checkCtx); err != nil {
			log.Printf("WARNING: Layout detector health check failed: %v. Pages without detections will fail until it is reachable.", err)
		} else {
			log.Printf("Layout detector connection verified: %s", cfg.DetectorURL)
		}
		cancel()
		procCfg.Detector = detector
	}

	if cfg.ArtifactAPIURL != "" {
		artifacts := clients.NewArtifactClient(cfg.ArtifactAPIURL)
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := artifacts.HealthCheck(checkCtx); err != nil {
			log.Printf("WARNING: Artifact storage health check failed: %v. Figures will be embedded as data URIs.", err)
		} else {
			log.Printf("Artifact storage connection verified: %s", cfg.ArtifactAPIURL)
		}
		cancel()
		procCfg.Artifacts = artifacts
	} else {
		log.Printf("WARNING: Artifact API URL not configured. Figures will be embedded as data URIs.")
	}

	captioner, err := newCaptioner(ctx, cfg)
	if err != nil {
		return nil, err
	}
	procCfg.Captioner = captioner

	if cfg.VoyageAPIKey != "" {
		embedder, err := processor.NewEmbeddingClient(cfg.VoyageAPIKey, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding client: %w", err)
		}
		procCfg.Embedder = embedder
	}

	return processor.NewPageProcessor(procCfg)
}

// newCaptioner selects the figure captioner named by CAPTION_PROVIDER
func newCaptioner(ctx context.Context, cfg *config.Config) (clients.Captioner, error) {
	switch cfg.CaptionProvider {
	case config.CaptionGemini:
		log.Printf("Figure captions: Gemini (%s)", cfg.GeminiModel)
		return clients.NewGeminiCaptioner(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case config.CaptionOpenAI:
		log.Printf("Figure captions: %s (%s)", cfg.VisionAPIURL, cfg.VisionModel)
		return clients.NewVisionCaptioner(cfg.VisionAPIURL, cfg.VisionAPIKey, cfg.VisionModel)
	default:
		log.Printf("Figure captions disabled")
		return clients.NoopCaptioner{}, nil
	}
}

// newConsumer builds the consumer for the configured queue mode
func newConsumer(cfg *config.Config, proc processor.PageProcessorInterface) (*consumer, error) {
	if cfg.QueueMode == config.QueueModeList {
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
		if err != nil {
			return nil, err
		}
		return &consumer{
			start: c.Start,
			stop:  c.Stop,
			stats: func() (map[string]interface{}, error) {
				counts, err := c.GetStats()
				if err != nil {
					return nil, err
				}
				out := make(map[string]interface{}, len(counts))
				for k, v := range counts {
					out[k] = v
				}
				return out, nil
			},
		}, nil
	}

	c, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		return nil, err
	}
	return &consumer{
		start: func() error { return c.Start(context.Background()) },
		stop:  func() error { return c.Stop(context.Background()) },
		stats: func() (map[string]interface{}, error) { return c.GetStatistics(), nil },
	}, nil
}

// monitorHealth pings storage and logs queue and storage stats until ctx ends
func monitorHealth(ctx context.Context, store *storage.StorageManager, c *consumer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := healthCheck(ctx, store); err != nil {
				log.Printf("WARNING: %v", err)
				continue
			}
			if stats, err := c.stats(); err == nil {
				log.Printf("Queue stats: %v", stats)
			}
			if stats, err := store.GetStats(ctx); err == nil {
				log.Printf("Storage stats: %v", stats)
			}
		}
	}
}

func healthCheck(ctx context.Context, store *storage.StorageManager) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}

	return nil
}
