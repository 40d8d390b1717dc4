package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"

	"github.com/danilop/ai-doc-read-studio/internal/live"
	"github.com/danilop/ai-doc-read-studio/internal/session"
)

func TestChunkMessage(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"newline break", "aaaa\nbbbbbb", 8, []string{"aaaa", "bbbbbb"}},
		{"hard break", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkMessage(tt.text, tt.maxLen)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("chunkMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChunkMessage_KeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("é", 10) // 2 bytes each
	for _, c := range chunkMessage(text, 5) {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %q is not valid UTF-8", c)
		}
		if len(c) > 5 {
			t.Errorf("chunk %q longer than 5 bytes", c)
		}
	}
}

type mockSlackClient struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (m *mockSlackClient) PostMessageContext(_ context.Context, _ string, _ ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i < len(m.errs) {
		return "", "", m.errs[i]
	}
	return "C1", "123.456", nil
}

func TestSlack_RetriesRateLimit(t *testing.T) {
	client := &mockSlackClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	s, err := NewSlack(SlackOpts{ChannelID: "C1", Client: client})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	if err := s.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("calls = %d, want 2", client.calls)
	}
}

func TestSlack_OtherErrorNotRetried(t *testing.T) {
	client := &mockSlackClient{errs: []error{errors.New("channel_not_found")}}
	s, _ := NewSlack(SlackOpts{ChannelID: "C1", Client: client})
	err := s.Send(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "notify: slack post: channel_not_found") {
		t.Errorf("Send error = %v", err)
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}
}

func TestNewSenders_Validation(t *testing.T) {
	if _, err := NewSlack(SlackOpts{ChannelID: "C1"}); err == nil {
		t.Error("NewSlack without token should fail")
	}
	if _, err := NewSlack(SlackOpts{BotToken: "xoxb-1"}); err == nil {
		t.Error("NewSlack without channel should fail")
	}
	if _, err := NewDiscord(DiscordOpts{ChannelID: "1"}); err == nil {
		t.Error("NewDiscord without token should fail")
	}
	if _, err := NewDiscord(DiscordOpts{BotToken: "abc"}); err == nil {
		t.Error("NewDiscord without channel should fail")
	}
}

type mockDiscordSession struct {
	mu   sync.Mutex
	sent []*discordgo.MessageSend
	errs []error
}

func (m *mockDiscordSession) ChannelMessageSendComplex(_ string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.sent)
	m.sent = append(m.sent, data)
	if i < len(m.errs) {
		return nil, m.errs[i]
	}
	return &discordgo.Message{ID: "m1", Content: data.Content}, nil
}

func TestDiscord_RetriesRateLimit(t *testing.T) {
	sess := &mockDiscordSession{errs: []error{
		&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}},
	}}
	d, err := NewDiscord(DiscordOpts{ChannelID: "42", Session: sess})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	d.baseBackoff = time.Millisecond
	if err := d.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sess.sent) != 2 || sess.sent[1].Content != "hello" {
		t.Errorf("sent = %d messages", len(sess.sent))
	}
}

func TestRelay_ForwardsSynthesis(t *testing.T) {
	hub := live.NewHub(live.HubOpts{})
	defer hub.Close()
	sender := NewMockSender(40)
	r, err := NewRelay(RelayOpts{Source: hub, Senders: []Sender{sender}})
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	hub.Publish("0123456789", live.Event{Type: live.EventAgentFinished, Agent: "Alice"})
	hub.Publish("0123456789", live.Event{
		Type:    live.EventTurnCompleted,
		Message: session.AgentMessage{AgentName: "Team Moderator", Content: "Fix the budget.\nThen ship.", Moderator: true},
	})

	deadline := time.After(2 * time.Second)
	for len(sender.Sent()) < 2 {
		select {
		case <-sender.Notify():
		case <-deadline:
			t.Fatalf("sent = %q, want 2 chunks", sender.Sent())
		}
	}
	cancel()
	r.Wait()

	joined := strings.Join(sender.Sent(), "\n")
	if !strings.Contains(joined, "*Review session 01234567*") || !strings.Contains(joined, "Then ship.") {
		t.Errorf("relayed text = %q", joined)
	}
	for _, c := range sender.Sent() {
		if len(c) > 40 {
			t.Errorf("chunk longer than sender limit: %q", c)
		}
	}
}

func TestRelay_StopsWhenHubCloses(t *testing.T) {
	hub := live.NewHub(live.HubOpts{})
	sender := NewMockSender(100)
	sender.SetError(errors.New("offline"))
	r, _ := NewRelay(RelayOpts{Source: hub, Senders: []Sender{sender}})
	r.Start(context.Background())

	hub.Publish("s1", live.Event{Type: live.EventTurnFailed, Data: map[string]any{"error": "moderator timed out"}})
	hub.Close()

	done := make(chan struct{})
	go func() { r.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after hub close")
	}
}

func TestFormatEvent(t *testing.T) {
	if got := formatEvent(live.Event{Type: live.EventTurnFailed, SessionID: "s1", Data: map[string]any{"error": "boom"}}); got != "*Review session s1* - turn failed: boom" {
		t.Errorf("formatEvent(turn_failed) = %q", got)
	}
	if got := formatEvent(live.Event{Type: live.EventPing}); got != "" {
		t.Errorf("formatEvent(ping) = %q, want empty", got)
	}
}

func TestNewRelay_Validation(t *testing.T) {
	if _, err := NewRelay(RelayOpts{Senders: []Sender{NewMockSender(10)}}); err == nil {
		t.Error("expected error without source")
	}
	if _, err := NewRelay(RelayOpts{Source: live.NewHub(live.HubOpts{})}); err == nil {
		t.Error("expected error without senders")
	}
}
