package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const discordMaxLen = 2000

// discordSession is the subset of discordgo.Session the sender uses. Posting
// goes through the REST API, so no gateway connection is opened.
type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts to one Discord channel with a bot token.
type Discord struct {
	sess        discordSession
	channelID   string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// DiscordOpts configures NewDiscord.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord sender.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord channel id is required")
	}
	d := &Discord{
		sess:        opts.Session,
		channelID:   opts.ChannelID,
		baseBackoff: 2 * time.Second,
		maxBackoff:  30 * time.Second,
	}
	if d.sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		d.sess = s
	}
	return d, nil
}

func (d *Discord) Name() string { return "discord" }
func (d *Discord) MaxLen() int  { return discordMaxLen }

// Send posts text to the channel.
func (d *Discord) Send(ctx context.Context, text string) error {
	data := &discordgo.MessageSend{Content: text}
	err := retryOnRateLimit(ctx, d.baseBackoff, d.maxBackoff, discordRateLimited, func() error {
		_, err := d.sess.ChannelMessageSendComplex(d.channelID, data, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	return nil
}

func discordRateLimited(err error) (time.Duration, bool) {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusTooManyRequests {
		return 0, true
	}
	return 0, false
}
