package inference

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// Offline is a deterministic local backend for development and demos. It
// never calls the network.
type Offline struct{}

// NewOffline returns an Offline backend.
func NewOffline() *Offline { return &Offline{} }

var offlineOpeners = []string{
	"From my side, the main thing I'd change is the structure.",
	"I mostly agree with the direction here, with a few caveats.",
	"There are gaps worth closing before this goes further.",
	"The core idea holds up; the details need tightening.",
}

// Complete implements Client.
func (o *Offline) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, fmt.Errorf("inference: offline: %w", err)
	}
	h := fnv.New32a()
	h.Write([]byte(req.Agent))
	h.Write([]byte(req.Prompt))
	opener := offlineOpeners[h.Sum32()%uint32(len(offlineOpeners))]

	docs := strings.Count(req.Context, "<document ")
	var b strings.Builder
	if req.Agent != "" {
		fmt.Fprintf(&b, "**%s** (offline mode)\n\n", req.Agent)
	}
	b.WriteString(opener)
	fmt.Fprintf(&b, " I looked at %d document(s) and the discussion so far.\n\n", docs)
	fmt.Fprintf(&b, "> %s\n", firstLine(req.Prompt))

	text := b.String()
	return Response{
		Text:         text,
		InputTokens:  EstimateTokens(req.System + req.Context + req.Prompt),
		OutputTokens: EstimateTokens(text),
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
