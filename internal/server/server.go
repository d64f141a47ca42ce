// Package server wires the tracking core together and runs the HTTP and
// live channel surfaces.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fieldtrack/fieldtrack/internal/auth"
	"github.com/fieldtrack/fieldtrack/internal/config"
	"github.com/fieldtrack/fieldtrack/internal/directory"
	"github.com/fieldtrack/fieldtrack/internal/gateway"
	"github.com/fieldtrack/fieldtrack/internal/handlers"
	"github.com/fieldtrack/fieldtrack/internal/ingest"
	"github.com/fieldtrack/fieldtrack/internal/logger"
	"github.com/fieldtrack/fieldtrack/internal/ratelimit"
	"github.com/fieldtrack/fieldtrack/internal/storage"
)

// Server is the FieldTrack process: storage, ingestion, the realtime
// gateway and the query surface behind one router.
type Server struct {
	Router *gin.Engine

	config    *config.Config
	store     storage.PositionStore
	directory directory.AgentDirectory
	verifier  *auth.Verifier
	ingestor  *ingest.Service
	gateway   *gateway.Gateway
	// requestLimiter protects the HTTP API per identity. It is a separate
	// instance from the per-connection governor inside the gateway.
	requestLimiter ratelimit.Limiter

	httpServer *http.Server
}

// New builds a fully wired server from configuration. The directory may be
// nil, in which case the configured mode decides.
func New(cfg *config.Config, dir directory.AgentDirectory) (*Server, error) {
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	if dir == nil {
		switch cfg.Directory.Mode {
		case "http":
			dir = directory.NewHTTPDirectory(cfg.Directory.BaseURL, cfg.Directory.Timeout)
		default:
			dir = directory.NewStaticDirectory()
		}
	}

	verifier := auth.NewVerifier(cfg.Auth.Secret)
	ingestor := ingest.NewService(store, dir, ingest.Ordering(cfg.Tracking.Ordering))
	governor := ratelimit.NewInMemory(cfg.Tracking.GovernorWindow)
	gw := gateway.New(verifier, governor, cfg.Tracking.GovernorLimit, ingestor)

	var requestLimiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
			requestLimiter = ratelimit.NewRedis(client, cfg.RateLimit.Window)
		} else {
			requestLimiter = ratelimit.NewInMemory(cfg.RateLimit.Window)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	server := &Server{
		Router:         gin.New(),
		config:         cfg,
		store:          store,
		directory:      dir,
		verifier:       verifier,
		ingestor:       ingestor,
		gateway:        gw,
		requestLimiter: requestLimiter,
	}
	server.setupRoutes()
	return server, nil
}

func (s *Server) setupRoutes() {
	s.Router.Use(gin.Recovery())
	s.Router.Use(requestLogger())

	corsConfig := cors.Config{
		AllowOrigins:     s.config.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", auth.HeaderAuthToken},
		AllowCredentials: true,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	s.Router.Use(cors.New(corsConfig))

	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	thresholds := handlers.Thresholds{
		Recent:       s.config.Tracking.RecentThreshold,
		GoodAccuracy: s.config.Tracking.GoodAccuracyMeters,
	}

	api := s.Router.Group("/api/v1")
	{
		api.GET("/health", s.healthCheckHandler)

		// Live channel: the handshake does its own token verification.
		api.GET("/tracking/ws", s.gateway.Handler())

		authed := api.Group("")
		authed.Use(auth.Middleware(s.verifier))
		authed.Use(s.rateLimitMiddleware())
		{
			authed.PUT("/agents/:agent_id/position", handlers.UpdatePositionHandler(s.ingestor, s.gateway.Hub()))
			authed.GET("/agents/:agent_id/position", handlers.GetPositionHandler(s.store, thresholds))
			authed.POST("/agents/:agent_id/position/deactivate", handlers.DeactivatePositionHandler(s.ingestor))
			authed.GET("/tenants/:tenant_id/positions", handlers.TenantPositionsHandler(s.store, s.directory, thresholds))
			authed.GET("/tenants/:tenant_id/position-stats", handlers.TenantStatsHandler(s.store, s.directory, s.config.Tracking.RecentThreshold))
			authed.GET("/nearby/:lat/:lng", handlers.NearbyHandler(s.store, s.directory))
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// rateLimitMiddleware applies the identity-aware request limiter: keyed by
// the authenticated subject when present, else by client IP, with a higher
// ceiling for privileged roles.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.requestLimiter == nil {
			c.Next()
			return
		}

		limit := s.config.RateLimit.PerMinute
		key := "ip:" + c.ClientIP()
		if claims := auth.ClaimsFromContext(c); claims != nil {
			key = "agent:" + claims.AgentID
			if claims.IsPrivileged() {
				limit *= s.config.RateLimit.PrivilegedMultiplier
			}
		}

		decision := s.requestLimiter.Allow(key, limit)
		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) healthCheckHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"checks": gin.H{"storage": err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Start runs the HTTP server until Stop or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router}

	logger.Logger.Info().Str("addr", addr).Msg("fieldtrack listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down gracefully and closes storage.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Logger.Error().Err(err).Msg("http shutdown failed")
		}
	}
	return s.store.Close(ctx)
}
