package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"forex-trading-bot/config"
	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/engine"
)

const (
	defaultHistoryLimit  = 50
	defaultEquityLimit   = 100
	defaultBacktestLimit = 20
	maxQueryLimit        = 500
)

// limitQuery parses the optional ?limit= parameter, falling back on
// bad input and capping runaway values.
func limitQuery(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.projection.Snapshot())
}

func (s *Server) handlePositions(c *gin.Context) {
	trades, err := s.store.GetOpenTrades(c.Request.Context(), s.mode)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load open positions")
		errorResponse(c, http.StatusInternalServerError, "failed to load open positions")
		return
	}
	successResponse(c, trades)
}

func (s *Server) handlePendingSignals(c *gin.Context) {
	successResponse(c, s.projection.Pending())
}

func (s *Server) handleSignalHistory(c *gin.Context) {
	limit := limitQuery(c, defaultHistoryLimit)
	if stream := c.Query("stream"); stream != "" {
		successResponse(c, s.projection.StreamHistory(stream, limit))
		return
	}
	successResponse(c, s.projection.History(limit))
}

func (s *Server) handleClosedTrades(c *gin.Context) {
	trades, err := s.store.GetClosedTrades(c.Request.Context(), s.mode, limitQuery(c, defaultHistoryLimit))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load closed trades")
		errorResponse(c, http.StatusInternalServerError, "failed to load closed trades")
		return
	}
	successResponse(c, trades)
}

func (s *Server) handleTrade(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid trade id")
		return
	}
	trade, err := s.store.GetTradeByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "trade not found")
			return
		}
		s.log.Error().Err(err).Int64("trade_id", id).Msg("failed to load trade")
		errorResponse(c, http.StatusInternalServerError, "failed to load trade")
		return
	}
	successResponse(c, trade)
}

func (s *Server) handleStrategyInsight(c *gin.Context) {
	successResponse(c, s.projection.Insight())
}

// handleZones serves the currently persisted zone set for one
// instrument, newest first.
func (s *Server) handleZones(c *gin.Context) {
	pair := c.Query("pair")
	if pair == "" {
		errorResponse(c, http.StatusBadRequest, "pair is required")
		return
	}
	zones, err := s.store.GetActiveZones(c.Request.Context(), pair)
	if err != nil {
		s.log.Error().Err(err).Str("pair", pair).Msg("failed to load zones")
		errorResponse(c, http.StatusInternalServerError, "failed to load zones")
		return
	}
	successResponse(c, zones)
}

func (s *Server) handleAccount(c *gin.Context) {
	account, err := s.broker.GetAccount(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch account")
		errorResponse(c, http.StatusBadGateway, "failed to fetch account from broker")
		return
	}
	successResponse(c, account)
}

func (s *Server) handleEquityHistory(c *gin.Context) {
	snaps, err := s.store.GetRecentEquity(c.Request.Context(), s.mode, limitQuery(c, defaultEquityLimit))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load equity history")
		errorResponse(c, http.StatusInternalServerError, "failed to load equity history")
		return
	}
	successResponse(c, snaps)
}

func (s *Server) handleBacktestRuns(c *gin.Context) {
	runs, err := s.store.GetBacktestRuns(c.Request.Context(), limitQuery(c, defaultBacktestLimit))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load backtest runs")
		errorResponse(c, http.StatusInternalServerError, "failed to load backtest runs")
		return
	}
	successResponse(c, runs)
}

// serverView is the redacted server section of GET /settings. Secrets
// never leave the process.
type serverView struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
	AuthEnabled    bool   `json:"auth_enabled"`
}

// settingsView is the GET /settings document: the runtime-visible
// configuration. Boot-scoped sections (database, broker, vault) are
// omitted.
type settingsView struct {
	Mode    string               `json:"mode"`
	Risk    config.RiskConfig    `json:"risk"`
	Server  serverView           `json:"server"`
	Streams []engine.StreamState `json:"streams"`
}

func (s *Server) handleGetSettings(c *gin.Context) {
	successResponse(c, settingsView{
		Mode: s.mode,
		Risk: s.risk,
		Server: serverView{
			Host:           s.cfg.Host,
			Port:           s.cfg.Port,
			AllowedOrigins: s.cfg.AllowedOrigins,
			AuthEnabled:    s.cfg.AuthEnabled,
		},
		Streams: s.controller.Snapshot(),
	})
}

// settingsUpdate is the POST /settings payload. Only stream settings
// are runtime-adjustable; mode and risk limits are fixed at startup.
type settingsUpdate struct {
	Mode    *string               `json:"mode"`
	Risk    *config.RiskConfig    `json:"risk"`
	Streams []config.StreamConfig `json:"streams"`
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req settingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid settings payload")
		return
	}
	if req.Mode != nil && *req.Mode != s.mode {
		errorResponse(c, http.StatusBadRequest, "mode changes require a restart")
		return
	}
	if req.Risk != nil {
		errorResponse(c, http.StatusBadRequest, "risk limits are fixed at startup")
		return
	}
	if len(req.Streams) == 0 {
		errorResponse(c, http.StatusBadRequest, "no stream settings provided")
		return
	}
	s.applyStreamSettings(c, req.Streams)
}

func (s *Server) handleGetStreamSettings(c *gin.Context) {
	successResponse(c, s.controller.Snapshot())
}

func (s *Server) handleUpdateStreamSettings(c *gin.Context) {
	var streams []config.StreamConfig
	if err := c.ShouldBindJSON(&streams); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid stream settings payload")
		return
	}
	if len(streams) == 0 {
		errorResponse(c, http.StatusBadRequest, "no stream settings provided")
		return
	}
	s.applyStreamSettings(c, streams)
}

// applyStreamSettings stages new stream configurations. The whole
// batch is validated before anything is staged; accepted settings take
// effect at each stream's next cycle boundary.
func (s *Server) applyStreamSettings(c *gin.Context, streams []config.StreamConfig) {
	if err := s.controller.ApplySettings(streams); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info().Int("streams", len(streams)).Msg("stream settings staged via API")
	successResponse(c, gin.H{
		"staged":  len(streams),
		"message": "settings staged; they apply at each stream's next cycle",
	})
}

func (s *Server) handlePauseAll(c *gin.Context) {
	s.controller.PauseAll()
	s.log.Info().Msg("all streams paused via API")
	successResponse(c, gin.H{"state": "paused"})
}

func (s *Server) handleResumeAll(c *gin.Context) {
	s.controller.ResumeAll()
	s.log.Info().Msg("all streams resumed via API")
	successResponse(c, gin.H{"state": "polling"})
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	s.log.Warn().Str("client", c.ClientIP()).Msg("emergency stop requested via API")
	if err := s.controller.EmergencyStop(c.Request.Context()); err != nil {
		// Engines are already stopped at this point; the error means
		// some positions may not have been flattened.
		errorResponse(c, http.StatusInternalServerError, fmt.Sprintf("emergency stop incomplete: %v", err))
		return
	}
	successResponse(c, gin.H{"state": "stopped", "message": "all streams stopped and positions flattened"})
}

func (s *Server) handleStreamPause(c *gin.Context) {
	name := c.Param("name")
	if err := s.controller.Pause(name); err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	s.log.Info().Str("stream", name).Msg("stream paused via API")
	successResponse(c, gin.H{"stream": name, "state": "paused"})
}

func (s *Server) handleStreamResume(c *gin.Context) {
	name := c.Param("name")
	if err := s.controller.Resume(name); err != nil {
		errorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	s.log.Info().Str("stream", name).Msg("stream resumed via API")
	successResponse(c, gin.H{"stream": name, "state": "polling"})
}
