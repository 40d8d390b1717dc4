package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danilop/ai-doc-read-studio/internal/inference"
	"github.com/danilop/ai-doc-read-studio/internal/persona"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

// scriptedClient returns the scripted results in order, then repeats the last.
type scriptedClient struct {
	mu    sync.Mutex
	steps []step
	reqs  []inference.Request
}

type step struct {
	text  string
	err   error
	block bool
}

func (c *scriptedClient) Complete(ctx context.Context, req inference.Request) (inference.Response, error) {
	c.mu.Lock()
	i := len(c.reqs)
	c.reqs = append(c.reqs, req)
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	s := c.steps[i]
	c.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return inference.Response{}, ctx.Err()
	}
	if s.err != nil {
		return inference.Response{}, s.err
	}
	return inference.Response{Text: s.text}, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *memRecorder) Record(_ context.Context, a Attempt) {
	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()
}

var tiers = inference.NewTiers(map[string]string{
	"nova-lite": "gemini-2.0-flash",
	"nova-pro":  "gemini-2.5-flash",
}, "nova-lite")

func newGen(t *testing.T, c inference.Client, rec Recorder, timeout time.Duration) *Generator {
	t.Helper()
	g, err := New(Opts{
		Client:      c,
		Tiers:       tiers,
		Timeout:     timeout,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
		Recorder:    rec,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

var techLead = persona.Persona{ID: "tl", Name: "Tech Lead", Role: "Architecture", Model: "nova-lite"}

func discussion() Task {
	return Task{
		Kind:      KindDiscussion,
		SessionID: "s1",
		Persona:   techLead,
		Documents: []DocumentText{{Filename: "plan.md", Text: "# Plan"}},
		Conversation: []session.Message{
			session.UserMessage{Content: "Review this."},
		},
		Prompt: "Review this.",
	}
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(Opts{}); err == nil || !strings.Contains(err.Error(), "client is required") {
		t.Errorf("New err = %v", err)
	}
}

func TestGenerate_Success(t *testing.T) {
	c := &scriptedClient{steps: []step{{text: "  Looks solid.  "}}}
	rec := &memRecorder{}
	res, err := newGen(t, c, rec, time.Second).Generate(context.Background(), discussion())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Content != "Looks solid." {
		t.Errorf("Content = %q", res.Content)
	}
	if res.Model != "gemini-2.0-flash" || res.Tier != "nova-lite" || res.Attempts != 1 {
		t.Errorf("Result = %+v", res)
	}
	if len(rec.attempts) != 1 {
		t.Fatalf("recorded %d attempts, want 1", len(rec.attempts))
	}
	a := rec.attempts[0]
	if a.Agent != "Tech Lead" || a.SessionID != "s1" || a.Err != nil || a.InputTokens < 1 || a.OutputTokens < 1 {
		t.Errorf("Attempt = %+v", a)
	}
}

func TestGenerate_RetriesRateLimit(t *testing.T) {
	c := &scriptedClient{steps: []step{
		{err: inference.ErrRateLimited},
		{err: inference.ErrUnavailable},
		{text: "third time"},
	}}
	rec := &memRecorder{}
	res, err := newGen(t, c, rec, time.Second).Generate(context.Background(), discussion())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Attempts != 3 || c.calls() != 3 {
		t.Errorf("attempts = %d calls = %d, want 3", res.Attempts, c.calls())
	}
	if len(rec.attempts) != 3 || rec.attempts[0].Err == nil || rec.attempts[0].OutputTokens != 0 {
		t.Errorf("recorded attempts = %+v", rec.attempts)
	}
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		steps    []step
		timeout  time.Duration
		kind     ErrorKind
		attempts int
	}{
		{"invalid not retried", []step{{err: inference.ErrInvalidResponse}}, time.Second, ErrorInvalidResponse, 1},
		{"empty text", []step{{text: " \n "}}, time.Second, ErrorInvalidResponse, 1},
		{"exhausted", []step{{err: inference.ErrUnavailable}}, time.Second, ErrorUnavailable, 3},
		{"rate limited exhausted", []step{{err: inference.ErrRateLimited}}, time.Second, ErrorRateLimited, 3},
		{"timeout", []step{{block: true}}, 20 * time.Millisecond, ErrorTimeout, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &scriptedClient{steps: tt.steps}
			_, err := newGen(t, c, nil, tt.timeout).Generate(context.Background(), discussion())
			var ge *GenerationError
			if !errors.As(err, &ge) {
				t.Fatalf("err = %v, want *GenerationError", err)
			}
			if ge.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", ge.Kind, tt.kind)
			}
			if ge.Attempts != tt.attempts {
				t.Errorf("Attempts = %d, want %d", ge.Attempts, tt.attempts)
			}
			if ge.Persona != "Tech Lead" {
				t.Errorf("Persona = %q", ge.Persona)
			}
		})
	}
}

func TestGenerate_ModelOverride(t *testing.T) {
	c := &scriptedClient{steps: []step{{text: "plan"}}}
	task := discussion()
	task.Kind = KindActionPlan
	task.ModelOverride = "nova-pro"
	res, err := newGen(t, c, nil, time.Second).Generate(context.Background(), task)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Model != "gemini-2.5-flash" || c.reqs[0].Model != "gemini-2.5-flash" {
		t.Errorf("model = %q / %q, want override", res.Model, c.reqs[0].Model)
	}
}

func TestBackoff(t *testing.T) {
	g, _ := New(Opts{Client: &scriptedClient{}, BaseBackoff: 2 * time.Second, MaxBackoff: 10 * time.Second})
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := g.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	expired, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	<-expired.Done()

	tests := []struct {
		ctx  context.Context
		err  error
		want ErrorKind
	}{
		{ctx, inference.ErrTimeout, ErrorTimeout},
		{ctx, context.DeadlineExceeded, ErrorTimeout},
		{expired, errors.New("boom"), ErrorTimeout},
		{ctx, inference.ErrRateLimited, ErrorRateLimited},
		{ctx, inference.ErrInvalidResponse, ErrorInvalidResponse},
		{ctx, errors.New("boom"), ErrorUnavailable},
	}
	for _, tt := range tests {
		if got := Classify(tt.ctx, tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
