// Package api serves the operator dashboard: engine status, portfolio and
// trade history over REST, live events over WebSocket, and Prometheus
// metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"deriv-bot/config"
	"deriv-bot/internal/circuit"
	"deriv-bot/internal/engine"
	"deriv-bot/internal/events"
)

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	engine     *engine.Engine
	breaker    *circuit.Breaker
	hub        *WSHub
	cfg        config.ServerConfig
	logger     zerolog.Logger
}

// NewServer creates the dashboard server. breaker may be nil.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, breaker *circuit.Breaker, bus *events.Bus, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		engine:  eng,
		breaker: breaker,
		hub:     NewWSHub(bus, logger),
		cfg:     cfg,
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()
	go s.hub.Run()

	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.hub.handleWS)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/portfolio", s.handlePortfolio)
		api.GET("/trades", s.handleTrades)
		api.GET("/decisions", s.handleDecisions)
		api.GET("/breaker", s.handleBreakerStatus)
		api.POST("/breaker/reset", s.handleBreakerReset)
		api.POST("/engine/toggle", s.handleEngineToggle)
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
