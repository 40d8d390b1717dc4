package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
)

// slackMaxLen stays well below Slack's 40k character limit so long
// syntheses arrive as readable messages.
const slackMaxLen = 3900

// slackClient is the subset of the Slack Web API the sender uses.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts to one Slack channel with a bot token.
type Slack struct {
	client      slackClient
	channelID   string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// SlackOpts configures NewSlack.
type SlackOpts struct {
	BotToken  string // xoxb-...
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack sender.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: slack bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: slack channel id is required")
	}
	s := &Slack{
		client:      opts.Client,
		channelID:   opts.ChannelID,
		baseBackoff: time.Second,
		maxBackoff:  30 * time.Second,
	}
	if s.client == nil {
		s.client = slackapi.New(opts.BotToken)
	}
	return s, nil
}

func (s *Slack) Name() string { return "slack" }
func (s *Slack) MaxLen() int  { return slackMaxLen }

// Send posts text as a top-level message.
func (s *Slack) Send(ctx context.Context, text string) error {
	err := retryOnRateLimit(ctx, s.baseBackoff, s.maxBackoff, slackRateLimited, func() error {
		_, _, err := s.client.PostMessageContext(ctx, s.channelID, slackapi.MsgOptionText(text, false))
		return err
	})
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}

func slackRateLimited(err error) (time.Duration, bool) {
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}
