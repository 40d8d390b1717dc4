// Package inference abstracts the model backend that produces persona text.
package inference

import (
	"context"
	"errors"
	"sort"
)

// Error kinds. Backends wrap one of these so callers can classify failures
// with errors.Is.
var (
	ErrTimeout         = errors.New("inference timeout")
	ErrRateLimited     = errors.New("inference rate limited")
	ErrInvalidResponse = errors.New("inference invalid response")
	ErrUnavailable     = errors.New("inference unavailable")
)

// Request is one completion call.
type Request struct {
	Model   string // backend model id
	System  string // system instruction
	Context string // documents and conversation history
	Prompt  string // task directive
	Agent   string // persona name, for logs and throttling labels
}

// Response is the backend's reply.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client produces completions.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// EstimateTokens approximates a token count as one token per four bytes.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// Tiers maps persona model tiers to backend model ids.
type Tiers struct {
	models      map[string]string
	defaultTier string
}

// NewTiers copies models and records the fallback tier.
func NewTiers(models map[string]string, defaultTier string) Tiers {
	m := make(map[string]string, len(models))
	for k, v := range models {
		m[k] = v
	}
	return Tiers{models: m, defaultTier: defaultTier}
}

// Resolve returns the model id for tier, falling back to the default tier.
func (t Tiers) Resolve(tier string) string {
	if id, ok := t.models[tier]; ok {
		return id
	}
	return t.models[t.defaultTier]
}

// Known reports whether tier is configured.
func (t Tiers) Known(tier string) bool {
	_, ok := t.models[tier]
	return ok
}

// Default returns the fallback tier name.
func (t Tiers) Default() string { return t.defaultTier }

// Names returns the configured tier names in sorted order.
func (t Tiers) Names() []string {
	names := make([]string, 0, len(t.models))
	for k := range t.models {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
