package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"ws_clients": s.hub.ClientCount(),
	})
}

// handleStatus returns the engine status summary
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

// handlePortfolio returns the last known portfolio state
func (s *Server) handlePortfolio(c *gin.Context) {
	state := s.engine.State()
	if state == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no portfolio state yet, engine has not completed a cycle"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleTrades returns the trade ledger, oldest first
func (s *Server) handleTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": s.engine.TradeHistory()})
}

// handleDecisions returns recent signal decisions
func (s *Server) handleDecisions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"decisions": s.engine.RecentDecisions()})
}

// handleBreakerStatus returns circuit breaker statistics
func (s *Server) handleBreakerStatus(c *gin.Context) {
	if s.breaker == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, s.breaker.Stats())
}

// handleBreakerReset manually resets the circuit breaker
func (s *Server) handleBreakerReset(c *gin.Context) {
	if s.breaker == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "circuit breaker not configured"})
		return
	}
	s.breaker.ForceReset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// handleEngineToggle enables or disables trading
func (s *Server) handleEngineToggle(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must include enabled: true|false"})
		return
	}

	s.engine.SetEnabled(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}
