package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"
)

// GenAI calls Gemini through the Gemini API or Vertex AI.
type GenAI struct {
	client      *genai.Client
	temperature float32
	topP        float32
	maxTokens   int32
}

// GenAIOpts configures NewGenAI.
type GenAIOpts struct {
	Backend         string // "gemini" or "vertex"
	APIKey          string
	Project         string
	Location        string
	Temperature     float32
	MaxOutputTokens int32
}

// NewGenAI creates a client for the configured backend.
func NewGenAI(ctx context.Context, opts GenAIOpts) (*GenAI, error) {
	cc := &genai.ClientConfig{}
	switch opts.Backend {
	case "gemini":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("inference: genai: api key is required")
		}
		cc.APIKey = opts.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case "vertex":
		if opts.Project == "" || opts.Location == "" {
			return nil, fmt.Errorf("inference: genai: project and location are required")
		}
		cc.Project = opts.Project
		cc.Location = opts.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("inference: genai: unknown backend %q", opts.Backend)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("inference: genai: create client: %w", err)
	}
	temp := opts.Temperature
	if temp == 0 {
		temp = 0.7
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}
	return &GenAI{client: client, temperature: temp, topP: 0.9, maxTokens: maxTokens}, nil
}

// Complete implements Client.
func (g *GenAI) Complete(ctx context.Context, req Request) (Response, error) {
	var contents []*genai.Content
	if req.Context != "" {
		contents = append(contents, genai.NewContentFromText(req.Context, genai.RoleUser))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	temp := g.temperature
	topP := g.topP
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		MaxOutputTokens:   g.maxTokens,
	}

	res, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return Response{}, classify(ctx, err)
	}
	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("inference: %w: model %s returned empty text", ErrInvalidResponse, req.Model)
	}

	out := Response{Text: text}
	if u := res.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	return out, nil
}

// classify maps a genai failure onto the package error kinds.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("inference: %w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return fmt.Errorf("inference: %w", err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return fmt.Errorf("inference: %w: %w", ErrRateLimited, err)
		case apiErr.Code == 408 || apiErr.Code == 504:
			return fmt.Errorf("inference: %w: %w", ErrTimeout, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("inference: %w: %w", ErrUnavailable, err)
		default:
			return fmt.Errorf("inference: %w: %w", ErrInvalidResponse, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("inference: %w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("inference: %w: %w", ErrUnavailable, err)
}
