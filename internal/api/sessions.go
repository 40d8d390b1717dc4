package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/danilop/ai-doc-read-studio/internal/export"
	"github.com/danilop/ai-doc-read-studio/internal/orchestrator"
	"github.com/danilop/ai-doc-read-studio/internal/persona"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

type createSessionRequest struct {
	DocumentIDs   []string          `json:"document_ids"`
	TeamMembers   []persona.Persona `json:"team_members"`
	InitialPrompt string            `json:"initial_prompt"`
	Generate      bool              `json:"generate"`
}

type createFromTemplateRequest struct {
	TemplateIDs   []string `json:"template_ids"`
	DocumentIDs   []string `json:"document_ids"`
	InitialPrompt string   `json:"initial_prompt"`
	Generate      bool     `json:"generate"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type summaryRequest struct {
	Model string `json:"model"`
}

type sessionView struct {
	SessionID         string            `json:"session_id"`
	DocumentIDs       []string          `json:"document_ids"`
	DocumentFilenames []string          `json:"document_filenames"`
	TeamMembers       []persona.Persona `json:"team_members"`
	Conversation      []session.Message `json:"conversation"`
	CreatedAt         time.Time         `json:"created_at"`
	State             session.State     `json:"state"`
	Pending           bool              `json:"pending"`
	TemplatesUsed     []string          `json:"templates_used,omitempty"`
	Generating        bool              `json:"generating,omitempty"`
}

type sessionListItem struct {
	SessionID          string        `json:"session_id"`
	DocumentIDs        []string      `json:"document_ids"`
	TeamSize           int           `json:"team_size"`
	ConversationLength int           `json:"conversation_length"`
	State              session.State `json:"state"`
	CreatedAt          time.Time     `json:"created_at"`
}

type turnResponse struct {
	SessionID    string            `json:"session_id"`
	Conversation []session.Message `json:"conversation"`
	Responses    []session.Message `json:"responses"`
	Failed       []string          `json:"failed"`
}

type revertResponse struct {
	SessionID    string            `json:"session_id"`
	Conversation []session.Message `json:"conversation"`
	Removed      int               `json:"removed"`
	State        session.State     `json:"state"`
}

type summaryResponse struct {
	Summary  string `json:"summary"`
	Filename string `json:"filename"`
	Model    string `json:"model"`
}

func nonNil(msgs []session.Message) []session.Message {
	if msgs == nil {
		return []session.Message{}
	}
	return msgs
}

func (s *Server) view(snap session.Snapshot) sessionView {
	return sessionView{
		SessionID:         snap.ID,
		DocumentIDs:       snap.DocumentIDs,
		DocumentFilenames: s.filenames(snap.DocumentIDs),
		TeamMembers:       snap.Team.Members(),
		Conversation:      nonNil(snap.Conversation),
		CreatedAt:         snap.CreatedAt,
		State:             snap.State,
		Pending:           snap.Pending(),
	}
}

// bindOptional decodes a JSON body when one is present.
func bindOptional(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// turnContext detaches a turn from the client connection: a disconnect must
// not leave half a turn behind. Destroying the session still cancels it.
func turnContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	s.begin(c, orchestrator.BeginInput{
		DocumentIDs:   req.DocumentIDs,
		Team:          req.TeamMembers,
		InitialPrompt: req.InitialPrompt,
	}, req.Generate, nil)
}

func (s *Server) handleCreateFromTemplate(c *gin.Context) {
	if s.templates == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Agent templates not found"})
		return
	}
	var req createFromTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if len(req.TemplateIDs) == 0 || len(req.TemplateIDs) > persona.MaxTeamSize {
		s.fail(c, &session.ValidationError{Field: "template_ids", Reason: "between 1 and 10 templates are required"})
		return
	}
	members, err := s.templates.Personas(req.TemplateIDs, s.moderatorName)
	if err != nil {
		s.fail(c, &session.ValidationError{Field: "template_ids", Reason: err.Error()})
		return
	}
	used := make([]string, 0, len(req.TemplateIDs))
	for _, id := range req.TemplateIDs {
		t, _ := s.templates.Lookup(id)
		used = append(used, t.Name)
	}
	s.begin(c, orchestrator.BeginInput{
		DocumentIDs:   req.DocumentIDs,
		Team:          members,
		InitialPrompt: req.InitialPrompt,
	}, req.Generate, used)
}

// begin creates the session and, when asked, starts its first turn in the
// background. Progress is then observable on the live channel.
func (s *Server) begin(c *gin.Context, in orchestrator.BeginInput, generate bool, templates []string) {
	sess, err := s.orch.BeginSession(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	v := s.view(sess.Snapshot())
	v.TemplatesUsed = templates
	if generate {
		v.Generating = true
		ctx := turnContext(c)
		go func() {
			if _, err := s.orch.Generate(ctx, sess.ID); err != nil {
				s.log.Warn("initial turn failed", zap.String("session_id", sess.ID), zap.Error(err))
			}
		}()
	}
	c.JSON(http.StatusCreated, v)
}

func (s *Server) handleTemplates(c *gin.Context) {
	if s.templates == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Agent templates not found"})
		return
	}
	c.JSON(http.StatusOK, s.templates)
}

func (s *Server) handleListSessions(c *gin.Context) {
	snaps := s.orch.Sessions()
	out := make([]sessionListItem, len(snaps))
	for i, snap := range snaps {
		out[i] = sessionListItem{
			SessionID:          snap.ID,
			DocumentIDs:        snap.DocumentIDs,
			TeamSize:           snap.Team.Len(),
			ConversationLength: len(snap.Conversation),
			State:              snap.State,
			CreatedAt:          snap.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleGetSession(c *gin.Context) {
	snap, err := s.orch.Snapshot(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(snap))
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.orch.EndSession(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGenerate(c *gin.Context) {
	res, err := s.orch.Generate(turnContext(c), c.Param("id"))
	s.respondTurn(c, res, err)
}

func (s *Server) handlePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.orch.SubmitPrompt(turnContext(c), c.Param("id"), req.Prompt)
	s.respondTurn(c, res, err)
}

func (s *Server) handleRegenerate(c *gin.Context) {
	res, err := s.orch.RegenerateLast(turnContext(c), c.Param("id"))
	s.respondTurn(c, res, err)
}

func (s *Server) respondTurn(c *gin.Context, res orchestrator.TurnResult, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	snap, err := s.orch.Snapshot(res.SessionID)
	if err != nil {
		s.fail(c, err)
		return
	}
	failed := res.Failed
	if failed == nil {
		failed = []string{}
	}
	c.JSON(http.StatusOK, turnResponse{
		SessionID:    res.SessionID,
		Conversation: nonNil(snap.Conversation),
		Responses:    nonNil(res.Responses),
		Failed:       failed,
	})
}

func (s *Server) handleRevert(c *gin.Context) {
	id := c.Param("id")
	res, err := s.orch.RevertLast(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, revertResponse{
		SessionID:    id,
		Conversation: nonNil(res.Conversation),
		Removed:      len(res.Removed),
		State:        res.State,
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	var req summaryRequest
	if err := bindOptional(c, &req); err != nil {
		s.badRequest(c, err)
		return
	}
	id := c.Param("id")
	sum, err := s.orch.GenerateSynthesisSummary(turnContext(c), id, req.Model)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summaryResponse{
		Summary:  sum.Content,
		Filename: export.SummaryFilename(id),
		Model:    sum.Tier,
	})
}
