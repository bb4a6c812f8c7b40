package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/audit/config"
	"example.com/backstage/services/audit/internal/database"
	"example.com/backstage/services/audit/internal/events"
	"example.com/backstage/services/audit/internal/influx"
	"example.com/backstage/services/audit/internal/messaging"
	"example.com/backstage/services/audit/internal/models"
	"example.com/backstage/services/audit/internal/repository"
	"example.com/backstage/services/audit/internal/service"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to drain the dispatch queue and persist audit events`,
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

	// Initialize database connection
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	userRepo := repository.NewUserRepository(db)

	// Initialize Azure Service Bus client
	bus, err := messaging.NewServiceBusClient(cfg.ServiceBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	// Initialize the store, the processor and the self-audit pipeline
	store := influx.NewStore()
	processor := service.NewProcessor(store)
	factory := events.NewFactory(cfg.Environment,
		fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port), cfg.DB.Name)
	auditService := service.NewAuditService(bus, store, userRepo, cfg.Influx)

	// Start the queue processor
	g.Go(func() error {
		log.Info().Str("queue", cfg.ServiceBus.QueueName).Msg("Starting Service Bus processor")
		return bus.ProcessMessages(ctx, processor.ProcessMessage)
	})

	// Start the heartbeat job so the worker leaves its own audit trail
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(5*time.Minute),
			gocron.NewTask(func() {
				event, err := factory.HeartbeatEvent(cfg.ServiceBus.QueueName)
				if err != nil {
					log.Error().Err(err).Msg("Failed to build heartbeat event")
					return
				}
				if err := auditService.LogInternal(ctx, []models.Event{event}); err != nil {
					log.Error().Err(err).Msg("Failed to dispatch heartbeat event")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

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
