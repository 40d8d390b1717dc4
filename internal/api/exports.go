package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/danilop/ai-doc-read-studio/internal/export"
)

type exportRequest struct {
	Format          string `json:"format"`
	IncludeMetadata *bool  `json:"include_metadata"`
}

type contentExportRequest struct {
	Content  string `json:"content"`
	Format   string `json:"format"`
	Filename string `json:"filename"`
}

func (s *Server) handleExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		s.fail(c, err)
		return
	}
	snap, err := s.orch.Snapshot(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	include := req.IncludeMetadata == nil || *req.IncludeMetadata
	s.pdfFallback(format, snap.ID)
	s.sendFile(c, export.Conversation(snap, s.documents(snap.DocumentIDs), include, s.now()))
}

func (s *Server) handleExportContent(c *gin.Context) {
	var req contentExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.pdfFallback(format, "")
	s.sendFile(c, export.Content(req.Content, req.Filename))
}

// pdfFallback logs that a PDF request is answered with markdown.
func (s *Server) pdfFallback(format export.Format, sessionID string) {
	if format != export.FormatPDF {
		return
	}
	s.log.Warn("pdf rendering unavailable, exporting markdown", zap.String("session_id", sessionID))
}

func (s *Server) sendFile(c *gin.Context, f export.File) {
	c.Header("Content-Disposition", f.Disposition())
	c.Data(http.StatusOK, f.MediaType, f.Body)
}

func (s *Server) handleSessionTokens(c *gin.Context) {
	sum, err := s.usage.SessionSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleTotalTokens(c *gin.Context) {
	sum, err := s.usage.TotalSummary(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
