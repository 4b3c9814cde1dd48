package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/specsheet/config"
	"example.com/backstage/services/specsheet/internal/cache"
	"example.com/backstage/services/specsheet/internal/messaging"
	"example.com/backstage/services/specsheet/internal/metrics"
	"example.com/backstage/services/specsheet/internal/notify"
	"example.com/backstage/services/specsheet/internal/search"
	"example.com/backstage/services/specsheet/internal/services"
	"example.com/backstage/services/specsheet/internal/storage"
	"example.com/backstage/services/specsheet/internal/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that delivers signature-request notifications and flushes unsaved editing sessions`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = nil
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return err
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		elasticClient = nil
	}

	// Initialize Azure Service Bus client
	azureBus, err := messaging.NewAzureServiceBus(cfg.Azure, tracer)
	if err != nil {
		return err
	}
	defer func() {
		if err := azureBus.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Service Bus client")
		}
	}()

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize services
	repo := storage.NewSheetRepository(db, readOnlyDB)
	notifier := notify.NewClient(cfg.Editor.NotificationURL)
	editor := services.NewEditorService(repo, redisCache, elasticClient, azureBus, notifier, metricsCollector, tracer, cfg.Editor)

	// Start the service bus processor
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting signature-request processor")
		return azureBus.ProcessMessages(ctx, editor.ProcessSignatureRequest)
	})

	// Start the session flush cron job as a fallback for debounce timers
	// lost to restarts
	g.Go(func() error {
		log.Info().Msg("Starting session flush cron job")

		// Create a scheduler
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(1*time.Minute),
			gocron.NewTask(func() {
				if err := editor.FlushSessions(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to flush sessions in fallback job")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Start the scheduler
		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
