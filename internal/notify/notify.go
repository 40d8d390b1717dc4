// Package notify relays finished moderator syntheses to chat platforms
// (Slack, Discord). Delivery is best effort.
package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/danilop/ai-doc-read-studio/internal/live"
	"github.com/danilop/ai-doc-read-studio/internal/logging"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

// Sender posts plain text to one chat channel.
type Sender interface {
	// Name identifies the platform in logs, e.g. "slack".
	Name() string
	// MaxLen is the longest message the platform accepts.
	MaxLen() int
	Send(ctx context.Context, text string) error
}

// Source is the event feed the relay listens to.
type Source interface {
	SubscribeAll() *live.Subscription
}

// Relay forwards turn outcomes from a Source to every Sender.
type Relay struct {
	source  Source
	senders []Sender
	log     *zap.Logger
	wg      sync.WaitGroup
}

// RelayOpts configures NewRelay.
type RelayOpts struct {
	Source  Source
	Senders []Sender
	Logger  *zap.Logger
}

// NewRelay creates a Relay.
func NewRelay(opts RelayOpts) (*Relay, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("notify: source is required")
	}
	if len(opts.Senders) == 0 {
		return nil, fmt.Errorf("notify: at least one sender is required")
	}
	r := &Relay{source: opts.Source, senders: opts.Senders, log: opts.Logger}
	if r.log == nil {
		r.log = logging.Log
	}
	r.log = r.log.Named("notify")
	return r, nil
}

// Start subscribes and relays events in the background until ctx is done or
// the source closes the subscription.
func (r *Relay) Start(ctx context.Context) {
	sub := r.source.SubscribeAll()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				r.handle(ctx, ev)
			}
		}
	}()
}

// Wait blocks until the relay loop has exited.
func (r *Relay) Wait() { r.wg.Wait() }

func (r *Relay) handle(ctx context.Context, ev live.Event) {
	text := formatEvent(ev)
	if text == "" {
		return
	}
	for _, s := range r.senders {
		for _, chunk := range chunkMessage(text, s.MaxLen()) {
			if err := s.Send(ctx, chunk); err != nil {
				r.log.Warn("relay failed",
					zap.String("platform", s.Name()),
					zap.String("session_id", ev.SessionID),
					zap.Error(err))
				break
			}
		}
	}
}

// formatEvent renders the events worth relaying; others yield "".
func formatEvent(ev live.Event) string {
	switch ev.Type {
	case live.EventTurnCompleted:
		msg, ok := ev.Message.(session.AgentMessage)
		if !ok {
			return ""
		}
		return fmt.Sprintf("*Review session %s* - synthesis from *%s*\n\n%s", shortID(ev.SessionID), msg.AgentName, msg.Content)
	case live.EventTurnFailed:
		reason, _ := ev.Data["error"].(string)
		return fmt.Sprintf("*Review session %s* - turn failed: %s", shortID(ev.SessionID), reason)
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
