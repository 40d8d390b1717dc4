package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danilop/ai-doc-read-studio/internal/persona"
)

// Registry maps session ids to live sessions for the process lifetime.
type Registry struct {
	clock func() time.Time
	newID func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// RegistryOpts holds optional overrides for NewRegistry.
type RegistryOpts struct {
	Clock func() time.Time // defaults to time.Now
	NewID func() string    // defaults to a random UUID
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts RegistryOpts) *Registry {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	return &Registry{
		clock:    clock,
		newID:    newID,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session with no conversation.
func (r *Registry) Create(documentIDs []string, team persona.Team) *Session {
	s := newSession(r.newID(), documentIDs, team, r.clock)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Resource: "session", ID: id}
	}
	return s, nil
}

// Destroy removes a session and cancels any generation still running for it.
func (r *Registry) Destroy(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return &NotFoundError{Resource: "session", ID: id}
	}
	s.close()
	return nil
}

// List returns all sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close destroys every session.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}
