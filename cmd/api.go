package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/audit/config"
	"example.com/backstage/services/audit/internal/api"
	"example.com/backstage/services/audit/internal/cache"
	"example.com/backstage/services/audit/internal/database"
	"example.com/backstage/services/audit/internal/events"
	"example.com/backstage/services/audit/internal/influx"
	"example.com/backstage/services/audit/internal/messaging"
	"example.com/backstage/services/audit/internal/models"
	"example.com/backstage/services/audit/internal/repository"
	"example.com/backstage/services/audit/internal/service"
	"example.com/backstage/services/audit/internal/tracing"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server to accept audit events and serve retrieval queries`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	start := time.Now()

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

	// Initialize database connection
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	userRepo := repository.NewUserRepository(db)

	// Initialize cache
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	tokenStore := cache.NewTokenStore(redisClient, cfg.Auth.KeyTTL)

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = &tracing.NewRelicTracer{}
	}
	defer tracer.Close()

	// Initialize Azure Service Bus client
	bus, err := messaging.NewServiceBusClient(cfg.ServiceBus)
	if err != nil {
		return err
	}
	defer bus.Close()

	// Initialize the event factory and the services
	factory := events.NewFactory(cfg.Environment,
		fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port), cfg.DB.Name)
	auditService := service.NewAuditService(bus, influx.NewStore(), userRepo, cfg.Influx)
	authService := service.NewAuthService(userRepo, redisClient, tokenStore, factory, auditService, cfg.Auth)

	// Initialize and start the server
	server := api.NewServer(cfg, auditService, authService, factory, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	// Record the boot itself in the audit trail
	go func() {
		event, err := factory.StartupEvent(
			float64(time.Since(start).Microseconds())/1000.0,
			"api-startup", "API server started",
			map[string]interface{}{"address": cfg.ServerAddress},
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to build startup event")
			return
		}
		if err := auditService.LogInternal(ctx, []models.Event{event}); err != nil {
			log.Warn().Err(err).Msg("Failed to dispatch startup event")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	// Shutdown the server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
