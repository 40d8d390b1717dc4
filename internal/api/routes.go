package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up every API route on the router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/", s.handleRoot)
	router.GET("/version", s.handleVersion)
	router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// Documents.
	router.POST("/upload", s.limit(func(r RateLimits) int { return r.Upload }), s.handleUpload)
	router.GET("/documents", s.handleListDocuments)
	router.GET("/documents/:id", s.handleGetDocument)
	router.DELETE("/documents/:id", s.handleDeleteDocument)

	// Templates.
	router.GET("/agent-templates", s.handleTemplates)

	// Sessions and turns.
	createLimit := s.limit(func(r RateLimits) int { return r.Sessions })
	promptLimit := s.limit(func(r RateLimits) int { return r.Prompt })
	router.POST("/sessions", createLimit, s.handleCreateSession)
	router.POST("/sessions/from-template", createLimit, s.handleCreateFromTemplate)
	router.GET("/sessions", s.handleListSessions)
	router.GET("/sessions/:id", s.handleGetSession)
	router.DELETE("/sessions/:id", s.handleDeleteSession)
	router.POST("/sessions/:id/generate", promptLimit, s.handleGenerate)
	router.POST("/sessions/:id/prompt", promptLimit, s.handlePrompt)
	router.POST("/sessions/:id/regenerate", promptLimit, s.handleRegenerate)
	router.POST("/sessions/:id/revert", s.handleRevert)
	router.POST("/sessions/:id/actionable-summary", promptLimit, s.handleSummary)

	// Exports and usage.
	router.POST("/sessions/:id/export", s.handleExport)
	router.POST("/export/content", s.handleExportContent)
	router.GET("/sessions/:id/tokens", s.handleSessionTokens)
	router.GET("/tokens/summary", s.handleTotalTokens)

	// Live updates.
	router.GET("/ws", s.handleEchoSocket)
	router.GET("/ws/:id", s.handleSessionSocket)
	router.GET("/sessions/:id/events", s.handleSSE)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "AI Doc Read Studio API", "version": s.version})
}

// handleVersion reports the version and a cache buster that only changes
// when the process restarts.
func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":      s.version,
		"timestamp":    s.now().Format("2006-01-02T15:04:05.000000"),
		"cache_buster": "v" + s.startedStamp(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(s.orch.Sessions())})
}
