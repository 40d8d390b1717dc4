// Package session holds the conversation data model, per-session turn
// bookkeeping and the process-wide session registry.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/danilop/ai-doc-read-studio/internal/persona"
)

// ErrClosed is returned when appending to a turn whose session was destroyed.
var ErrClosed = errors.New("session: closed")

// State is the turn state of a session.
type State string

const (
	StateNotStarted State = "not_started"
	StateIdle       State = "idle"
	StateInFlight   State = "in_flight"
)

// Session is one review discussion. Conversation and boundaries are only
// changed through the methods below, all of which hold mu.
type Session struct {
	ID          string
	DocumentIDs []string
	Team        persona.Team
	CreatedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	clock  func() time.Time

	mu           sync.Mutex
	conversation []Message
	boundaries   []int
	inFlight     bool
	closed       bool
	last         time.Time
}

// Snapshot is a deep copy of a session's observable state.
type Snapshot struct {
	ID           string
	DocumentIDs  []string
	Team         persona.Team
	CreatedAt    time.Time
	Conversation []Message
	Boundaries   []int
	State        State
}

// Pending reports whether the latest turn has a prompt but no responses yet.
func (s Snapshot) Pending() bool {
	return pending(s.Conversation, s.Boundaries)
}

// RevertResult is the outcome of RevertLast.
type RevertResult struct {
	Removed      []Message
	Conversation []Message
	State        State
}

func newSession(id string, docIDs []string, team persona.Team, clock func() time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          id,
		DocumentIDs: append([]string(nil), docIDs...),
		Team:        team,
		ctx:         ctx,
		cancel:      cancel,
		clock:       clock,
	}
	s.CreatedAt = s.nowLocked()
	return s
}

// Context is cancelled when the session is destroyed.
func (s *Session) Context() context.Context { return s.ctx }

// State returns the current turn state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Snapshot returns a copy of the session safe to read without locking.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.ID,
		DocumentIDs:  append([]string(nil), s.DocumentIDs...),
		Team:         s.Team,
		CreatedAt:    s.CreatedAt,
		Conversation: append([]Message(nil), s.conversation...),
		Boundaries:   append([]int(nil), s.boundaries...),
		State:        s.stateLocked(),
	}
}

// RecordPrompt stores the opening prompt of a fresh session without starting
// generation. The turn is left pending until BeginPending or BeginTurn picks
// it up.
func (s *Session) RecordPrompt(content string) (UserMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return UserMessage{}, &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return UserMessage{}, &NotFoundError{Resource: "session", ID: s.ID}
	}
	if len(s.boundaries) > 0 || s.inFlight {
		return UserMessage{}, &ConflictError{SessionID: s.ID, Reason: "session already has a prompt"}
	}
	return s.appendPromptLocked(content), nil
}

// BeginTurn appends a new user prompt, records its boundary and marks the
// session in flight. It fails fast when another turn is running. When the
// latest prompt has no responses yet, the same prompt starts that pending
// turn, and a different prompt replaces the unanswered one; Turn.Replaced
// then holds the dropped message.
func (s *Session) BeginTurn(prompt string) (*Turn, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(); err != nil {
		return nil, err
	}
	var replaced []Message
	if pending(s.conversation, s.boundaries) {
		b := s.boundaries[len(s.boundaries)-1]
		trigger := s.conversation[b].(UserMessage)
		if trigger.Content == prompt {
			s.inFlight = true
			return &Turn{s: s, Trigger: trigger, Boundary: b}, nil
		}
		replaced = s.truncateLocked(b)
		s.boundaries = s.boundaries[:len(s.boundaries)-1]
	}
	msg := s.appendPromptLocked(prompt)
	s.inFlight = true
	return &Turn{s: s, Trigger: msg, Boundary: s.boundaries[len(s.boundaries)-1], Replaced: replaced}, nil
}

// BeginPending starts generation for a recorded prompt that has no responses.
func (s *Session) BeginPending() (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(); err != nil {
		return nil, err
	}
	if !pending(s.conversation, s.boundaries) {
		return nil, &ConflictError{SessionID: s.ID, Reason: "no prompt is awaiting generation"}
	}
	b := s.boundaries[len(s.boundaries)-1]
	s.inFlight = true
	return &Turn{s: s, Trigger: s.conversation[b].(UserMessage), Boundary: b}, nil
}

// BeginRegenerate drops every response after the latest prompt, keeps the
// prompt itself and marks the session in flight. It returns the dropped
// messages.
func (s *Session) BeginRegenerate() (*Turn, []Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(); err != nil {
		return nil, nil, err
	}
	if len(s.boundaries) == 0 {
		return nil, nil, &ValidationError{Reason: "session has no turn to regenerate"}
	}
	if pending(s.conversation, s.boundaries) {
		return nil, nil, &ConflictError{SessionID: s.ID, Reason: "latest prompt has not been generated yet"}
	}
	b := s.boundaries[len(s.boundaries)-1]
	removed := s.truncateLocked(b + 1)
	s.inFlight = true
	return &Turn{s: s, Trigger: s.conversation[b].(UserMessage), Boundary: b}, removed, nil
}

// RevertLast removes the latest prompt and all of its responses and pops its
// boundary. Reverting the only turn returns the session to not started.
func (s *Session) RevertLast() (RevertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdleLocked(); err != nil {
		return RevertResult{}, err
	}
	if len(s.boundaries) == 0 {
		return RevertResult{}, &ValidationError{Reason: "session has no turn to revert"}
	}
	b := s.boundaries[len(s.boundaries)-1]
	removed := s.truncateLocked(b)
	s.boundaries = s.boundaries[:len(s.boundaries)-1]
	return RevertResult{
		Removed:      removed,
		Conversation: append([]Message(nil), s.conversation...),
		State:        s.stateLocked(),
	}, nil
}

func (s *Session) checkIdleLocked() error {
	if s.closed {
		return &NotFoundError{Resource: "session", ID: s.ID}
	}
	if s.inFlight {
		return &ConflictError{SessionID: s.ID, Reason: "a turn is already in flight"}
	}
	return nil
}

func (s *Session) appendPromptLocked(content string) UserMessage {
	msg := UserMessage{Content: content, At: s.nowLocked()}
	s.boundaries = append(s.boundaries, len(s.conversation))
	s.conversation = append(s.conversation, msg)
	return msg
}

// truncateLocked cuts the conversation to n entries and returns what was cut.
func (s *Session) truncateLocked(n int) []Message {
	removed := append([]Message(nil), s.conversation[n:]...)
	for i := n; i < len(s.conversation); i++ {
		s.conversation[i] = nil
	}
	s.conversation = s.conversation[:n]
	return removed
}

func (s *Session) stateLocked() State {
	switch {
	case s.inFlight:
		return StateInFlight
	case len(s.boundaries) == 0:
		return StateNotStarted
	default:
		return StateIdle
	}
}

// nowLocked returns the session clock, never earlier than the last stamp.
func (s *Session) nowLocked() time.Time {
	t := s.clock()
	if t.Before(s.last) {
		t = s.last
	}
	s.last = t
	return t
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func pending(conv []Message, boundaries []int) bool {
	if len(boundaries) == 0 {
		return false
	}
	return boundaries[len(boundaries)-1] == len(conv)-1
}

// Turn is the handle for one in-flight generation round. Exactly one Turn
// per session is live at a time; End must be called when the round is over.
type Turn struct {
	s        *Session
	Trigger  UserMessage
	Boundary int
	Replaced []Message // unanswered prompt superseded by Trigger, if any

	once sync.Once
}

// SessionID returns the owning session's id.
func (t *Turn) SessionID() string { return t.s.ID }

// Conversation returns a copy of the conversation as it stands now.
func (t *Turn) Conversation() []Message {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return append([]Message(nil), t.s.conversation...)
}

// Append stamps m with the session clock and appends it. Appends to a
// destroyed session are discarded with ErrClosed.
func (t *Turn) Append(m Message) (Message, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.closed {
		return nil, ErrClosed
	}
	m = m.stamped(t.s.nowLocked())
	t.s.conversation = append(t.s.conversation, m)
	return m, nil
}

// End marks the session idle again. It is safe to call more than once.
func (t *Turn) End() {
	t.once.Do(func() {
		t.s.mu.Lock()
		t.s.inFlight = false
		t.s.mu.Unlock()
	})
}
