// Package generator produces one persona response per call, wrapping the
// inference backend with prompt construction, a bounded wait, retries and
// failure classification.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danilop/ai-doc-read-studio/internal/inference"
	"github.com/danilop/ai-doc-read-studio/internal/logging"
	"github.com/danilop/ai-doc-read-studio/internal/metrics"
	"github.com/danilop/ai-doc-read-studio/internal/persona"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

const (
	defaultTimeout     = 2 * time.Minute
	defaultMaxAttempts = 3
	defaultBaseBackoff = 2 * time.Second
	defaultMaxBackoff  = 10 * time.Second
)

// Kind selects the task directive.
type Kind string

const (
	KindDiscussion Kind = "discussion"
	KindModerator  Kind = "moderator"
	KindActionPlan Kind = "action_plan"
)

// DocumentText is one document as handed to the model.
type DocumentText struct {
	Filename string
	Text     string
}

// Task is the input of a single generation.
type Task struct {
	Kind          Kind
	SessionID     string
	Persona       persona.Persona
	Documents     []DocumentText
	Conversation  []session.Message
	Prompt        string
	ModelOverride string // tier to use instead of the persona's own
}

// Result is a successful generation.
type Result struct {
	Content      string
	Tier         string
	Model        string
	Elapsed      time.Duration
	Attempts     int
	InputTokens  int
	OutputTokens int
}

// Attempt is reported to the Recorder after every backend call.
type Attempt struct {
	SessionID    string
	Agent        string
	Kind         Kind
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	Err          error
}

// Recorder receives attempt outcomes, typically the usage ledger.
type Recorder interface {
	Record(ctx context.Context, a Attempt)
}

// Generator produces persona responses.
type Generator struct {
	client      inference.Client
	tiers       inference.Tiers
	timeout     time.Duration
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	recorder    Recorder
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
}

// Opts configures New.
type Opts struct {
	Client      inference.Client
	Tiers       inference.Tiers
	Timeout     time.Duration // bound on one Generate call, retries included
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Recorder    Recorder
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// New creates a Generator.
func New(opts Opts) (*Generator, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("generator: client is required")
	}
	g := &Generator{
		client:      opts.Client,
		tiers:       opts.Tiers,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		now:         opts.Clock,
	}
	if g.timeout <= 0 {
		g.timeout = defaultTimeout
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = defaultMaxAttempts
	}
	if g.baseBackoff <= 0 {
		g.baseBackoff = defaultBaseBackoff
	}
	if g.maxBackoff <= 0 {
		g.maxBackoff = defaultMaxBackoff
	}
	if g.log == nil {
		g.log = logging.Log
	}
	g.log = g.log.Named("generator")
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Generate runs one task. A failure is always a *GenerationError.
func (g *Generator) Generate(ctx context.Context, task Task) (Result, error) {
	tier := task.Persona.Model
	if task.ModelOverride != "" {
		tier = task.ModelOverride
	}
	model := g.tiers.Resolve(tier)
	if model == "" {
		model = tier
	}
	req := inference.Request{
		Model:   model,
		System:  systemPrompt(task),
		Context: contextBlock(task),
		Prompt:  directive(task),
		Agent:   task.Persona.Name,
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := g.now()
	var (
		lastErr  error
		kind     ErrorKind
		attempts int
	)
	for attempts = 1; attempts <= g.maxAttempts; attempts++ {
		callStart := g.now()
		res, err := g.client.Complete(ctx, req)
		if err == nil && strings.TrimSpace(res.Text) == "" {
			err = fmt.Errorf("generator: %w: empty response from %s", inference.ErrInvalidResponse, model)
		}
		g.record(ctx, task, model, req, res, err, g.now().Sub(callStart))

		if err == nil {
			elapsed := g.now().Sub(start)
			g.metrics.GenerationDone(string(task.Kind), "ok", elapsed)
			g.log.Debug("generation finished",
				zap.String("session_id", task.SessionID),
				zap.String("agent", task.Persona.Name),
				zap.String("model", model),
				zap.Int("attempts", attempts),
				zap.Duration("elapsed", elapsed))
			return Result{
				Content:      strings.TrimSpace(res.Text),
				Tier:         tier,
				Model:        model,
				Elapsed:      elapsed,
				Attempts:     attempts,
				InputTokens:  res.InputTokens,
				OutputTokens: res.OutputTokens,
			}, nil
		}

		lastErr = err
		kind = Classify(ctx, err)
		if ctx.Err() != nil || !kind.Retryable() || attempts == g.maxAttempts {
			break
		}

		wait := g.backoff(attempts)
		g.log.Warn("generation failed, retrying",
			zap.String("session_id", task.SessionID),
			zap.String("agent", task.Persona.Name),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = fmt.Errorf("generator: waiting to retry: %w", ctx.Err())
			kind = Classify(ctx, lastErr)
		case <-timer.C:
			continue
		}
		break
	}
	if attempts > g.maxAttempts {
		attempts = g.maxAttempts
	}

	elapsed := g.now().Sub(start)
	g.metrics.GenerationDone(string(task.Kind), string(kind), elapsed)
	g.log.Warn("generation failed",
		zap.String("session_id", task.SessionID),
		zap.String("agent", task.Persona.Name),
		zap.String("kind", string(kind)),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	return Result{}, &GenerationError{Persona: task.Persona.Name, Kind: kind, Attempts: attempts, Err: lastErr}
}

// backoff returns base * 2^(attempt-1), capped at the configured maximum.
func (g *Generator) backoff(attempt int) time.Duration {
	wait := time.Duration(math.Pow(2, float64(attempt-1))) * g.baseBackoff
	if wait > g.maxBackoff {
		wait = g.maxBackoff
	}
	return wait
}

func (g *Generator) record(ctx context.Context, task Task, model string, req inference.Request, res inference.Response, err error, latency time.Duration) {
	if g.recorder == nil {
		return
	}
	a := Attempt{
		SessionID:    task.SessionID,
		Agent:        task.Persona.Name,
		Kind:         task.Kind,
		Model:        model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		Latency:      latency,
		Err:          err,
	}
	if a.InputTokens == 0 {
		a.InputTokens = inference.EstimateTokens(req.System + req.Context + req.Prompt)
	}
	if err == nil && a.OutputTokens == 0 {
		a.OutputTokens = inference.EstimateTokens(res.Text)
	}
	if err != nil {
		a.OutputTokens = 0
	}
	g.recorder.Record(context.WithoutCancel(ctx), a)
}

// ErrorKind classifies a failed generation.
type ErrorKind string

const (
	ErrorTimeout         ErrorKind = "timeout"
	ErrorRateLimited     ErrorKind = "rate_limited"
	ErrorInvalidResponse ErrorKind = "invalid_response"
	ErrorUnavailable     ErrorKind = "unavailable"
)

// Retryable reports whether another attempt may succeed.
func (k ErrorKind) Retryable() bool {
	return k == ErrorRateLimited || k == ErrorUnavailable
}

// Classify maps err onto an ErrorKind. An expired ctx deadline is a timeout.
func Classify(ctx context.Context, err error) ErrorKind {
	switch {
	case errors.Is(err, inference.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, inference.ErrRateLimited):
		return ErrorRateLimited
	case errors.Is(err, inference.ErrInvalidResponse):
		return ErrorInvalidResponse
	default:
		return ErrorUnavailable
	}
}

// GenerationError is a per-persona failure after all attempts.
type GenerationError struct {
	Persona  string
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generator: %s: %s after %d attempt(s): %v", e.Persona, e.Kind, e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
