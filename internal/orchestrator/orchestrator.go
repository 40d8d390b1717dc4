// Package orchestrator drives review turns: it fans a prompt out to every
// non-moderator persona concurrently, appends responses in completion order,
// then runs the moderator's synthesis once all peers have resolved.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danilop/ai-doc-read-studio/internal/docstore"
	"github.com/danilop/ai-doc-read-studio/internal/generator"
	"github.com/danilop/ai-doc-read-studio/internal/live"
	"github.com/danilop/ai-doc-read-studio/internal/logging"
	"github.com/danilop/ai-doc-read-studio/internal/metrics"
	"github.com/danilop/ai-doc-read-studio/internal/persona"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

const (
	maxDocuments = 10
	maxPromptLen = 2000
)

// Documents is the document store as seen by the orchestrator.
type Documents interface {
	Get(id string) (docstore.Document, error)
	GetText(id string) (string, error)
}

// Responder produces one persona response.
type Responder interface {
	Generate(ctx context.Context, task generator.Task) (generator.Result, error)
}

// Publisher is the live update channel.
type Publisher interface {
	Publish(sessionID string, ev live.Event) live.Event
	Forget(sessionID string)
}

// Orchestrator owns turn execution for every session in its registry.
type Orchestrator struct {
	registry    *session.Registry
	docs        Documents
	gen         Responder
	hub         Publisher
	metrics     *metrics.Metrics
	log         *zap.Logger
	maxParallel int
	teamOpts    persona.TeamOpts
	summaryTier string
	now         func() time.Time
}

// Opts configures New.
type Opts struct {
	Registry    *session.Registry
	Documents   Documents
	Generator   Responder
	Hub         Publisher // optional
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	MaxParallel int // concurrent peer generations per turn, default 10
	Team        persona.TeamOpts
	SummaryTier string
	Clock       func() time.Time
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("orchestrator: registry is required")
	}
	if opts.Documents == nil {
		return nil, fmt.Errorf("orchestrator: documents is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("orchestrator: generator is required")
	}
	o := &Orchestrator{
		registry:    opts.Registry,
		docs:        opts.Documents,
		gen:         opts.Generator,
		hub:         opts.Hub,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		maxParallel: opts.MaxParallel,
		teamOpts:    opts.Team,
		summaryTier: opts.SummaryTier,
		now:         opts.Clock,
	}
	if o.hub == nil {
		o.hub = nopPublisher{}
	}
	if o.log == nil {
		o.log = logging.Log
	}
	o.log = o.log.Named("orchestrator")
	if o.maxParallel <= 0 {
		o.maxParallel = persona.MaxTeamSize
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(_ string, ev live.Event) live.Event { return ev }
func (nopPublisher) Forget(string)                              {}

// BeginInput is the input of BeginSession.
type BeginInput struct {
	DocumentIDs   []string
	Team          []persona.Persona
	InitialPrompt string
}

// TurnResult describes a completed turn.
type TurnResult struct {
	SessionID string
	Trigger   session.UserMessage
	Responses []session.Message // peers in completion order, moderator last
	Failed    []string          // personas replaced by a system message
}

// Summary is a generated action plan. It is not part of the conversation.
type Summary struct {
	SessionID   string
	Content     string
	Tier        string
	Model       string
	Elapsed     time.Duration
	GeneratedAt time.Time
}

// BeginSession validates the inputs, creates a session and records the
// initial prompt. Generation is started separately with Generate.
func (o *Orchestrator) BeginSession(ctx context.Context, in BeginInput) (*session.Session, error) {
	if err := validateDocumentIDs(in.DocumentIDs); err != nil {
		return nil, err
	}
	if err := validatePrompt(in.InitialPrompt); err != nil {
		return nil, err
	}
	team, err := persona.NewTeam(in.Team, o.teamOpts)
	if err != nil {
		var te *persona.TeamError
		if errors.As(err, &te) {
			return nil, &session.ValidationError{Field: "team_members", Reason: strings.Join(te.Problems, "; ")}
		}
		return nil, fmt.Errorf("orchestrator: begin session: %w", err)
	}
	for _, id := range in.DocumentIDs {
		if _, err := o.docs.Get(id); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil, &session.NotFoundError{Resource: "document", ID: id}
			}
			return nil, fmt.Errorf("orchestrator: begin session: %w", err)
		}
	}

	s := o.registry.Create(in.DocumentIDs, team)
	msg, err := s.RecordPrompt(in.InitialPrompt)
	if err != nil {
		_ = o.registry.Destroy(s.ID)
		return nil, fmt.Errorf("orchestrator: begin session: %w", err)
	}
	o.metrics.SetActiveSessions(o.registry.Len())
	o.hub.Publish(s.ID, live.Event{Type: live.EventSessionCreated, Message: msg, Data: map[string]any{
		"team_size":      team.Len(),
		"document_count": len(in.DocumentIDs),
	}})
	o.log.Info("session created",
		zap.String("session_id", s.ID),
		zap.Int("team_size", team.Len()),
		zap.Int("documents", len(in.DocumentIDs)))
	return s, nil
}

// Generate runs the pending initial turn of a session created by BeginSession.
func (o *Orchestrator) Generate(ctx context.Context, sessionID string) (TurnResult, error) {
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	turn, err := s.BeginPending()
	if err != nil {
		return TurnResult{}, err
	}
	return o.runTurn(ctx, s, turn, "generate")
}

// SubmitPrompt starts a new turn with prompt and runs it to completion. On a
// session whose opening prompt is still unanswered, the same prompt runs that
// turn and a different one takes its place.
func (o *Orchestrator) SubmitPrompt(ctx context.Context, sessionID, prompt string) (TurnResult, error) {
	if err := validatePrompt(prompt); err != nil {
		return TurnResult{}, err
	}
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	turn, err := s.BeginTurn(prompt)
	if err != nil {
		return TurnResult{}, err
	}
	if len(turn.Replaced) > 0 {
		o.hub.Publish(s.ID, live.Event{Type: live.EventConversationTruncated, Data: map[string]any{
			"removed":             len(turn.Replaced),
			"conversation_length": turn.Boundary,
		}})
	}
	return o.runTurn(ctx, s, turn, "submit")
}

// RegenerateLast discards the latest turn's responses and produces a fresh
// set for the same prompt.
func (o *Orchestrator) RegenerateLast(ctx context.Context, sessionID string) (TurnResult, error) {
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	turn, removed, err := s.BeginRegenerate()
	if err != nil {
		return TurnResult{}, err
	}
	o.hub.Publish(s.ID, live.Event{Type: live.EventConversationTruncated, Data: map[string]any{
		"removed":             len(removed),
		"conversation_length": turn.Boundary + 1,
	}})
	return o.runTurn(ctx, s, turn, "regenerate")
}

// RevertLast removes the latest prompt and its responses.
func (o *Orchestrator) RevertLast(sessionID string) (session.RevertResult, error) {
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return session.RevertResult{}, err
	}
	res, err := s.RevertLast()
	if err != nil {
		return session.RevertResult{}, err
	}
	o.hub.Publish(s.ID, live.Event{Type: live.EventConversationReverted, Data: map[string]any{
		"removed":             len(res.Removed),
		"conversation_length": len(res.Conversation),
		"state":               string(res.State),
	}})
	o.log.Info("turn reverted",
		zap.String("session_id", s.ID),
		zap.Int("removed", len(res.Removed)),
		zap.String("state", string(res.State)))
	return res, nil
}

// GenerateSynthesisSummary produces an action plan from every agent message
// so far. The conversation is not modified.
func (o *Orchestrator) GenerateSynthesisSummary(ctx context.Context, sessionID, tier string) (Summary, error) {
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return Summary{}, err
	}
	if tier == "" {
		tier = o.summaryTier
	}
	if tier != "" && len(o.teamOpts.Tiers) > 0 && !contains(o.teamOpts.Tiers, tier) {
		return Summary{}, &session.ValidationError{Field: "model", Reason: fmt.Sprintf("unknown model tier %q", tier)}
	}

	snap := s.Snapshot()
	agents := 0
	for _, m := range snap.Conversation {
		if m.Kind() == session.KindAgent {
			agents++
		}
	}
	if agents == 0 {
		return Summary{}, &session.ValidationError{Reason: "session has no agent responses to summarize"}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.Context(), cancel)
	defer stop()

	res, err := o.gen.Generate(ctx, generator.Task{
		Kind:          generator.KindActionPlan,
		SessionID:     s.ID,
		Persona:       persona.Persona{Name: "Action Plan", Role: "Project manager", Model: tier},
		Documents:     o.loadDocuments(snap.DocumentIDs),
		Conversation:  snap.Conversation,
		ModelOverride: tier,
	})
	if err != nil {
		o.log.Error("synthesis summary failed", zap.String("session_id", s.ID), zap.Error(err))
		return Summary{}, fmt.Errorf("orchestrator: synthesis summary: %w", err)
	}
	o.log.Info("synthesis summary generated",
		zap.String("session_id", s.ID),
		zap.String("model", res.Model),
		zap.Int("suggestions", agents))
	return Summary{
		SessionID:   s.ID,
		Content:     res.Content,
		Tier:        res.Tier,
		Model:       res.Model,
		Elapsed:     res.Elapsed,
		GeneratedAt: o.now(),
	}, nil
}

// Snapshot returns a copy of a session's state.
func (o *Orchestrator) Snapshot(sessionID string) (session.Snapshot, error) {
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Sessions returns snapshots of every live session, oldest first.
func (o *Orchestrator) Sessions() []session.Snapshot {
	all := o.registry.List()
	out := make([]session.Snapshot, len(all))
	for i, s := range all {
		out[i] = s.Snapshot()
	}
	return out
}

// EndSession destroys a session. Generation still running for it is
// abandoned and its results are discarded.
func (o *Orchestrator) EndSession(sessionID string) error {
	if err := o.registry.Destroy(sessionID); err != nil {
		return err
	}
	o.hub.Publish(sessionID, live.Event{Type: live.EventSessionDestroyed})
	o.hub.Forget(sessionID)
	o.metrics.SetActiveSessions(o.registry.Len())
	o.log.Info("session destroyed", zap.String("session_id", sessionID))
	return nil
}

func (o *Orchestrator) runTurn(ctx context.Context, s *session.Session, turn *session.Turn, op string) (TurnResult, error) {
	defer turn.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.Context(), cancel)
	defer stop()

	start := o.now()
	prompt := turn.Trigger.Content
	history := turn.Conversation()
	docs := o.loadDocuments(s.DocumentIDs)
	peers := s.Team.Peers()

	o.hub.Publish(s.ID, live.Event{Type: live.EventTurnStarted, Message: turn.Trigger, Data: map[string]any{
		"operation": op,
		"peers":     len(peers),
	}})
	o.log.Info("turn started",
		zap.String("session_id", s.ID),
		zap.String("operation", op),
		zap.Int("peers", len(peers)))

	result := TurnResult{SessionID: s.ID, Trigger: turn.Trigger}
	var (
		abandoned atomic.Bool
		failedCh  = make(chan string, len(peers))
	)

	// Peers run concurrently; none returns an error so the group never
	// cancels its siblings.
	var g errgroup.Group
	g.SetLimit(o.maxParallel)
	for _, p := range peers {
		g.Go(func() error {
			o.hub.Publish(s.ID, live.Event{Type: live.EventAgentThinking, Agent: p.Name})
			res, err := o.gen.Generate(ctx, generator.Task{
				Kind:         generator.KindDiscussion,
				SessionID:    s.ID,
				Persona:      p,
				Documents:    docs,
				Conversation: history,
				Prompt:       prompt,
			})
			if err != nil {
				stored, aerr := turn.Append(session.SystemMessage{AgentName: p.Name, Content: failureText(p, err)})
				if aerr != nil {
					abandoned.Store(true)
					return nil
				}
				failedCh <- p.Name
				o.hub.Publish(s.ID, live.Event{Type: live.EventAgentFailed, Agent: p.Name, Message: stored, Data: map[string]any{
					"kind": failureKind(err),
				}})
				return nil
			}
			stored, aerr := turn.Append(agentMessage(p, res, false))
			if aerr != nil {
				abandoned.Store(true)
				return nil
			}
			o.hub.Publish(s.ID, live.Event{Type: live.EventAgentFinished, Agent: p.Name, Message: stored})
			return nil
		})
	}
	_ = g.Wait()
	close(failedCh)
	for name := range failedCh {
		result.Failed = append(result.Failed, name)
	}

	if abandoned.Load() || s.Context().Err() != nil {
		o.log.Info("turn abandoned", zap.String("session_id", s.ID), zap.String("operation", op))
		o.metrics.TurnDone(op, "abandoned")
		return TurnResult{}, &session.NotFoundError{Resource: "session", ID: s.ID}
	}

	mod := s.Team.Moderator()
	o.hub.Publish(s.ID, live.Event{Type: live.EventAgentThinking, Agent: mod.Name})
	res, err := o.gen.Generate(ctx, generator.Task{
		Kind:         generator.KindModerator,
		SessionID:    s.ID,
		Persona:      mod,
		Documents:    docs,
		Conversation: turn.Conversation(),
		Prompt:       prompt,
	})
	if err != nil {
		if s.Context().Err() != nil {
			o.metrics.TurnDone(op, "abandoned")
			return TurnResult{}, &session.NotFoundError{Resource: "session", ID: s.ID}
		}
		o.hub.Publish(s.ID, live.Event{Type: live.EventTurnFailed, Agent: mod.Name, Data: map[string]any{
			"error": err.Error(),
			"kind":  failureKind(err),
		}})
		o.metrics.TurnDone(op, "failed")
		o.log.Error("moderator synthesis failed",
			zap.String("session_id", s.ID),
			zap.String("operation", op),
			zap.Strings("failed_peers", result.Failed),
			zap.Error(err))
		return TurnResult{}, &session.FatalOrchestrationError{SessionID: s.ID, Err: err}
	}
	stored, err := turn.Append(agentMessage(mod, res, true))
	if err != nil {
		o.metrics.TurnDone(op, "abandoned")
		return TurnResult{}, &session.NotFoundError{Resource: "session", ID: s.ID}
	}
	o.hub.Publish(s.ID, live.Event{Type: live.EventAgentFinished, Agent: mod.Name, Message: stored})

	conv := turn.Conversation()
	result.Responses = append([]session.Message(nil), conv[turn.Boundary+1:]...)
	o.hub.Publish(s.ID, live.Event{Type: live.EventTurnCompleted, Agent: mod.Name, Message: stored, Data: map[string]any{
		"operation":           op,
		"responses":           len(result.Responses),
		"failed":              len(result.Failed),
		"conversation_length": len(conv),
	}})
	o.metrics.TurnDone(op, "completed")
	o.log.Info("turn completed",
		zap.String("session_id", s.ID),
		zap.String("operation", op),
		zap.Int("responses", len(result.Responses)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("elapsed", o.now().Sub(start)))
	return result, nil
}

// loadDocuments resolves document text in session order. A document that
// can no longer be read is replaced by an error notice.
func (o *Orchestrator) loadDocuments(ids []string) []generator.DocumentText {
	out := make([]generator.DocumentText, 0, len(ids))
	for _, id := range ids {
		name := id
		if doc, err := o.docs.Get(id); err == nil {
			name = doc.Filename
		}
		text, err := o.docs.GetText(id)
		if err != nil {
			o.log.Warn("document unavailable", zap.String("doc_id", id), zap.Error(err))
			text = fmt.Sprintf("ERROR: could not read document: %v", err)
		}
		out = append(out, generator.DocumentText{Filename: name, Text: text})
	}
	return out
}

func agentMessage(p persona.Persona, res generator.Result, moderator bool) session.AgentMessage {
	return session.AgentMessage{
		AgentID:      p.ID,
		AgentName:    p.Name,
		Role:         p.Role,
		Model:        p.Model,
		Content:      res.Content,
		ResponseTime: res.Elapsed,
		Moderator:    moderator,
	}
}

func failureText(p persona.Persona, err error) string {
	var ge *generator.GenerationError
	if errors.As(err, &ge) {
		return fmt.Sprintf("%s (%s) could not respond: %s after %d attempt(s).", p.Name, p.Role, ge.Kind, ge.Attempts)
	}
	return fmt.Sprintf("%s (%s) could not respond: %v", p.Name, p.Role, err)
}

func failureKind(err error) string {
	var ge *generator.GenerationError
	if errors.As(err, &ge) {
		return string(ge.Kind)
	}
	return string(generator.ErrorUnavailable)
}

func validatePrompt(prompt string) error {
	p := strings.TrimSpace(prompt)
	if p == "" {
		return &session.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if len(p) > maxPromptLen {
		return &session.ValidationError{Field: "prompt", Reason: fmt.Sprintf("longer than %d characters", maxPromptLen)}
	}
	return nil
}

func validateDocumentIDs(ids []string) error {
	if len(ids) == 0 {
		return &session.ValidationError{Field: "document_ids", Reason: "at least one document is required"}
	}
	if len(ids) > maxDocuments {
		return &session.ValidationError{Field: "document_ids", Reason: fmt.Sprintf("at most %d documents allowed", maxDocuments)}
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return &session.ValidationError{Field: "document_ids", Reason: "document id must not be empty"}
		}
		if seen[id] {
			return &session.ValidationError{Field: "document_ids", Reason: fmt.Sprintf("duplicate document id %q", id)}
		}
		seen[id] = true
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
