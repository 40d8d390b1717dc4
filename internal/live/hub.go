// Package live is a fire-and-forget publish/subscribe channel that pushes
// session progress to connected observers. Publishers never block: a full
// subscriber buffer drops the event. Nothing is replayed to late subscribers.
package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/danilop/ai-doc-read-studio/internal/logging"
	"github.com/danilop/ai-doc-read-studio/internal/metrics"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

// EventType names a live event.
type EventType string

const (
	EventSessionCreated        EventType = "session_created"
	EventTurnStarted           EventType = "turn_started"
	EventAgentThinking         EventType = "agent_thinking"
	EventAgentFinished         EventType = "agent_finished"
	EventAgentFailed           EventType = "agent_failed"
	EventTurnCompleted         EventType = "turn_completed"
	EventTurnFailed            EventType = "turn_failed"
	EventConversationTruncated EventType = "conversation_truncated"
	EventConversationReverted  EventType = "conversation_reverted"
	EventSessionDestroyed      EventType = "session_destroyed"
	EventPing                  EventType = "ping"
)

// Event is one notification. Seq increases by one per event within a session
// and, together with the message timestamp, lets clients drop duplicates.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	At        time.Time       `json:"timestamp"`
	Agent     string          `json:"agent,omitempty"`
	Message   session.Message `json:"message,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
}

// cronParser accepts 5-field expressions and descriptors such as "@every 15s".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Hub routes events from the orchestrator to subscribers.
type Hub struct {
	buffer  int
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	seqs   map[string]uint64
	subs   map[string]map[*Subscription]struct{}
	all    map[*Subscription]struct{}
	cron   *cron.Cron
	closed bool
}

// HubOpts configures NewHub.
type HubOpts struct {
	Buffer  int // per-subscriber channel capacity, default 64
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

// NewHub creates a Hub.
func NewHub(opts HubOpts) *Hub {
	h := &Hub{
		buffer:  opts.Buffer,
		metrics: opts.Metrics,
		log:     opts.Logger,
		now:     opts.Clock,
		seqs:    make(map[string]uint64),
		subs:    make(map[string]map[*Subscription]struct{}),
		all:     make(map[*Subscription]struct{}),
	}
	if h.buffer <= 0 {
		h.buffer = 64
	}
	if h.log == nil {
		h.log = logging.Log
	}
	h.log = h.log.Named("live")
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Subscription receives events on C until Close is called or the hub closes.
type Subscription struct {
	C         <-chan Event
	ch        chan Event
	hub       *Hub
	sessionID string // empty for SubscribeAll
	once      sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Publish stamps ev with the session's next sequence number and delivers it
// to every subscriber without blocking. It returns the stamped event.
func (h *Hub) Publish(sessionID string, ev Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ev
	}
	h.seqs[sessionID]++
	ev.Seq = h.seqs[sessionID]
	ev.SessionID = sessionID
	if ev.At.IsZero() {
		if ev.Message != nil {
			ev.At = ev.Message.Time()
		} else {
			ev.At = h.now()
		}
	}
	for sub := range h.subs[sessionID] {
		h.deliverLocked(sub, ev)
	}
	for sub := range h.all {
		h.deliverLocked(sub, ev)
	}
	return ev
}

func (h *Hub) deliverLocked(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
	default:
		h.metrics.EventDropped()
		h.log.Debug("dropped live event",
			zap.String("session_id", ev.SessionID),
			zap.String("type", string(ev.Type)),
			zap.Uint64("seq", ev.Seq))
	}
}

// Subscribe attaches to one session's events.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	return h.add(sessionID)
}

// SubscribeAll attaches to every session's events.
func (h *Hub) SubscribeAll() *Subscription {
	return h.add("")
}

func (h *Hub) add(sessionID string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, sessionID: sessionID}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	if sessionID == "" {
		h.all[sub] = struct{}{}
	} else {
		set, ok := h.subs[sessionID]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.subs[sessionID] = set
		}
		set[sub] = struct{}{}
	}
	h.metrics.SubscriberAdded()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.sessionID == "" {
		if _, ok := h.all[sub]; !ok {
			return
		}
		delete(h.all, sub)
	} else {
		set := h.subs[sub.sessionID]
		if _, ok := set[sub]; !ok {
			return
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	close(sub.ch)
	h.metrics.SubscriberRemoved()
}

// Subscribers returns the number of subscribers attached to sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Forget closes every subscription to sessionID and drops its sequence
// counter. Call it after the session is destroyed.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		h.removeLocked(sub)
	}
	delete(h.seqs, sessionID)
}

// StartHeartbeat publishes a ping to every observed session on the given
// cron schedule.
func (h *Hub) StartHeartbeat(spec string) error {
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(spec, h.ping); err != nil {
		return fmt.Errorf("live: heartbeat schedule %q: %w", spec, err)
	}
	h.mu.Lock()
	if h.closed || h.cron != nil {
		h.mu.Unlock()
		return fmt.Errorf("live: heartbeat already running or hub closed")
	}
	h.cron = c
	h.mu.Unlock()
	c.Start()
	h.log.Info("heartbeat started", zap.String("schedule", spec))
	return nil
}

func (h *Hub) ping() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Publish(id, Event{Type: EventPing})
	}
}

// Close stops the heartbeat and closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	c := h.cron
	for sub := range h.all {
		h.removeLocked(sub)
	}
	for _, set := range h.subs {
		for sub := range set {
			h.removeLocked(sub)
		}
	}
	h.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
