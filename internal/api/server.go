package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/audit/config"
	"example.com/backstage/services/audit/internal/api/handlers"
	"example.com/backstage/services/audit/internal/api/middleware"
	"example.com/backstage/services/audit/internal/events"
	"example.com/backstage/services/audit/internal/service"
	"example.com/backstage/services/audit/internal/tracing"
)

// Server is the HTTP front of the audit service
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer wires the handlers and middleware into a gin engine
func NewServer(
	cfg config.Config,
	auditService *service.AuditService,
	authService *service.AuthService,
	factory *events.Factory,
	tracer tracing.Tracer,
) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Tracing(tracer))

	server := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress,
			Handler:      router,
			ReadTimeout:  cfg.ServerTimeout,
			WriteTimeout: cfg.ServerTimeout,
		},
	}

	server.setupRoutes(auditService, authService, factory)
	return server
}

func (s *Server) setupRoutes(
	auditService *service.AuditService,
	authService *service.AuthService,
	factory *events.Factory,
) {
	auditHandler := handlers.NewAuditHandler(auditService)
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(authService)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := s.router.Group("/auth")
	{
		auth.POST("/signup", authHandler.Signup)
		auth.POST("/login", authHandler.Login)
		auth.POST("/activate/:key", authHandler.Activate)
		auth.POST("/resend-activation", authHandler.ResendActivation)
	}

	users := s.router.Group("/users", middleware.JWTAuth(authService))
	{
		users.GET("/me", userHandler.Me)
		users.PUT("/password", userHandler.ChangePassword)
		users.POST("/access-key/forgot", userHandler.ForgotAccessKey)
	}
	s.router.POST("/users/access-key/reset/:key", userHandler.ResetAccessKey)

	audit := s.router.Group("/audit",
		middleware.APIKeyAuth(authService),
		middleware.SelfAudit(factory, auditService),
	)
	{
		audit.POST("/log", auditHandler.LogEvents)
		audit.GET("/log", auditHandler.ListEvents)
		audit.GET("/log/:event_id", auditHandler.EventTrail)
		audit.GET("/metrics", auditHandler.ListMetrics)
		audit.GET("/metrics/:metric_name", auditHandler.MetricSeries)
		audit.GET("/metrics/:metric_name/count", auditHandler.MetricCounts)
	}
}

// Start begins serving requests and blocks until the listener closes
func (s *Server) Start() error {
	log.Info().Str("address", s.httpServer.Addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
