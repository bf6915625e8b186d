// Package api serves the status and control surface of the bot over
// HTTP: read endpoints for the dashboard, JWT-guarded control
// endpoints, Prometheus metrics and a websocket event feed.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"forex-trading-bot/config"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/engine"
	"forex-trading-bot/internal/metrics"
	"forex-trading-bot/internal/status"
)

// Store is the persistence surface the read endpoints serve from.
// *database.Repository satisfies it.
type Store interface {
	GetOpenTrades(ctx context.Context, mode string) ([]*database.Trade, error)
	GetClosedTrades(ctx context.Context, mode string, limit int) ([]*database.Trade, error)
	GetTradeByID(ctx context.Context, id int64) (*database.Trade, error)
	GetRecentEquity(ctx context.Context, mode string, limit int) ([]*database.EquitySnapshot, error)
	GetActiveZones(ctx context.Context, pair string) ([]*database.SRZone, error)
	GetBacktestRuns(ctx context.Context, limit int) ([]*database.BacktestRun, error)
	HealthCheck(ctx context.Context) error
}

// Controller is the manager surface the control and settings endpoints
// drive. *engine.Manager satisfies it.
type Controller interface {
	PauseAll()
	ResumeAll()
	Pause(name string) error
	Resume(name string) error
	ApplySettings(streams []config.StreamConfig) error
	Snapshot() []engine.StreamState
	EmergencyStop(ctx context.Context) error
}

// Deps carries the server's collaborators.
type Deps struct {
	Mode       string
	Risk       config.RiskConfig
	Controller Controller
	Projection *status.Projection
	Store      Store
	Broker     broker.Broker
	Hub        *Hub
}

// Server is the HTTP status and control server.
type Server struct {
	cfg        config.ServerConfig
	mode       string
	risk       config.RiskConfig
	router     *gin.Engine
	httpServer *http.Server
	controller Controller
	projection *status.Projection
	store      Store
	broker     broker.Broker
	hub        *Hub
	upgrader   websocket.Upgrader
	tokens     *tokenManager
	log        zerolog.Logger
}

// NewServer builds the router and wires every route. Start must be
// called to begin serving.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:        cfg,
		mode:       deps.Mode,
		risk:       deps.Risk,
		controller: deps.Controller,
		projection: deps.Projection,
		store:      deps.Store,
		broker:     deps.Broker,
		hub:        deps.Hub,
		upgrader:   newUpgrader(cfg.AllowedOrigins),
		log:        log.With().Str("component", "api").Logger(),
	}
	if cfg.AuthEnabled {
		s.tokens = newTokenManager(cfg.JWTSecret)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(s.log))
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	s.router = router
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	s.router.GET("/status", s.handleStatus)
	s.router.GET("/positions", s.handlePositions)
	s.router.GET("/signals/pending", s.handlePendingSignals)
	s.router.GET("/signals/history", s.handleSignalHistory)
	s.router.GET("/trades/closed", s.handleClosedTrades)
	s.router.GET("/trades/:id", s.handleTrade)
	s.router.GET("/strategy/insight", s.handleStrategyInsight)
	s.router.GET("/zones", s.handleZones)
	s.router.GET("/account", s.handleAccount)
	s.router.GET("/equity/history", s.handleEquityHistory)
	s.router.GET("/backtests", s.handleBacktestRuns)
	s.router.GET("/settings", s.handleGetSettings)
	s.router.GET("/stream-settings", s.handleGetStreamSettings)

	guarded := s.router.Group("/")
	if s.cfg.AuthEnabled {
		s.router.POST("/auth/login", s.handleLogin)
		guarded.Use(s.authMiddleware())
	}
	guarded.POST("/settings", s.handleUpdateSettings)
	guarded.POST("/stream-settings", s.handleUpdateStreamSettings)

	control := guarded.Group("/control")
	control.POST("/pause", s.handlePauseAll)
	control.POST("/resume", s.handleResumeAll)
	control.POST("/emergency-stop", s.handleEmergencyStop)
	control.POST("/stream/:name/pause", s.handleStreamPause)
	control.POST("/stream/:name/resume", s.handleStreamResume)
}

// Start blocks serving HTTP until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Bool("auth", s.cfg.AuthEnabled).Msg("status API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status API server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info().Msg("shutting down status API")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports process liveness and database reachability.
// Load balancers poll it, so the database probe is tightly bounded.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	httpStatus := http.StatusOK
	overall := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		dbStatus = "unreachable"
		httpStatus = http.StatusServiceUnavailable
		overall = "degraded"
	}

	resp := gin.H{
		"status":   overall,
		"mode":     s.mode,
		"database": dbStatus,
		"time":     time.Now().UTC(),
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ClientCount()
	}
	c.JSON(httpStatus, resp)
}

func corsConfig(allowedOrigins string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}

	if allowedOrigins == "" || allowedOrigins == "*" {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, origin := range strings.Split(allowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}
	cfg.AllowCredentials = true
	return cfg
}

// requestLogger replaces gin's default logger with structured zerolog
// output and counts served requests. Health and metrics probes are
// excluded from both.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		if path == "/health" || path == "/metrics" {
			return
		}

		// The route template keeps the label cardinality bounded.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()

		evt := logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("request")
	}
}

func successResponse(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": true, "message": message})
}
