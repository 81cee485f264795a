// Package discord implements social.Client for Discord over the REST API.
// There is no public search, so status posts and mentions come from scanning
// the configured channels. Remote IDs have the form "<channel>:<message>".
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/socialdesk/internal/social"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration after a 429.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff      = 30 * time.Second
	defaultMaxPages = 3
	pageSize        = 100
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Client implements social.Client for Discord.
type Client struct {
	sess        session
	channels    []string // scanned channels; first is the default post target
	maxPages    int
	botUserID   string
	baseBackoff time.Duration
}

// ClientOpts holds parameters for creating a Discord Client.
type ClientOpts struct {
	BotToken string
	Channels []string
	MaxPages int
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	c := &Client{
		sess:        opts.Session,
		channels:    opts.Channels,
		maxPages:    opts.MaxPages,
		baseBackoff: baseBackoff,
	}
	if c.sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		c.sess = s
	}
	if c.maxPages <= 0 {
		c.maxPages = defaultMaxPages
	}
	return c, nil
}

// FetchStatusSearch returns channel messages containing term, compared
// case-insensitively.
func (c *Client) FetchStatusSearch(ctx context.Context, term string) ([]social.Post, error) {
	needle := strings.ToLower(term)
	return c.scan(ctx, func(m *discordgo.Message) bool {
		return strings.Contains(strings.ToLower(m.Content), needle)
	})
}

// FetchMentions returns channel messages mentioning the bot user. handle is
// ignored; Discord mentions are by user ID.
func (c *Client) FetchMentions(ctx context.Context, handle string) ([]social.Post, error) {
	botID, err := c.botID(ctx)
	if err != nil {
		return nil, err
	}
	return c.scan(ctx, func(m *discordgo.Message) bool {
		for _, u := range m.Mentions {
			if u != nil && u.ID == botID {
				return true
			}
		}
		return false
	})
}

// FetchDirectMessages is not available: bots cannot list their DM channels
// over REST.
func (c *Client) FetchDirectMessages(ctx context.Context) ([]social.DirectMessage, error) {
	return nil, fmt.Errorf("discord: fetch direct messages: %w", social.ErrUnsupported)
}

// PublishReply replies to inReplyTo, or posts to the default channel when
// inReplyTo is empty.
func (c *Client) PublishReply(ctx context.Context, body, inReplyTo string) (string, error) {
	var sent *discordgo.Message
	if inReplyTo == "" {
		if len(c.channels) == 0 {
			return "", fmt.Errorf("discord: no default channel configured")
		}
		channel := c.channels[0]
		err := c.retryOnRateLimit(ctx, func() error {
			var apiErr error
			sent, apiErr = c.sess.ChannelMessageSend(channel, body, discordgo.WithContext(ctx))
			return apiErr
		})
		if err != nil {
			return "", fmt.Errorf("discord: send message: %w", err)
		}
		return messageID(sent), nil
	}

	channel, msgID, ok := splitMessageID(inReplyTo)
	if !ok {
		return "", fmt.Errorf("discord: malformed message id %q", inReplyTo)
	}
	ref := &discordgo.MessageReference{MessageID: msgID, ChannelID: channel}
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		sent, apiErr = c.sess.ChannelMessageSendReply(channel, body, ref, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send reply: %w", err)
	}
	return messageID(sent), nil
}

// PublishDirectMessage opens the DM channel with recipient (a user ID) and
// sends body.
func (c *Client) PublishDirectMessage(ctx context.Context, recipient, body string) (string, error) {
	var dm *discordgo.Channel
	err := c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		dm, apiErr = c.sess.UserChannelCreate(recipient, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open DM with %s: %w", recipient, err)
	}
	var sent *discordgo.Message
	err = c.retryOnRateLimit(ctx, func() error {
		var apiErr error
		sent, apiErr = c.sess.ChannelMessageSend(dm.ID, body, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send DM: %w", err)
	}
	return messageID(sent), nil
}

// scan pages backwards through every configured channel and converts the
// messages accepted by keep. Bot authors are skipped.
func (c *Client) scan(ctx context.Context, keep func(*discordgo.Message) bool) ([]social.Post, error) {
	var posts []social.Post
	for _, channel := range c.channels {
		beforeID := ""
		for page := 0; page < c.maxPages; page++ {
			var msgs []*discordgo.Message
			err := c.retryOnRateLimit(ctx, func() error {
				var apiErr error
				msgs, apiErr = c.sess.ChannelMessages(channel, pageSize, beforeID, "", "", discordgo.WithContext(ctx))
				return apiErr
			})
			if err != nil {
				return nil, fmt.Errorf("discord: channel messages: %w", err)
			}
			for _, m := range msgs {
				if m.Author == nil || m.Author.Bot || !keep(m) {
					continue
				}
				posts = append(posts, toPost(m))
			}
			if len(msgs) < pageSize {
				break
			}
			beforeID = msgs[len(msgs)-1].ID
		}
	}
	return posts, nil
}

func (c *Client) botID(ctx context.Context) (string, error) {
	if c.botUserID != "" {
		return c.botUserID, nil
	}
	u, err := c.sess.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: current user: %w", err)
	}
	c.botUserID = u.ID
	return c.botUserID, nil
}

func toPost(m *discordgo.Message) social.Post {
	p := social.Post{
		ID:           m.ChannelID + ":" + m.ID,
		AuthorHandle: m.Author.ID,
		Text:         m.Content,
		CreatedAt:    m.Timestamp.UTC(),
	}
	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		ch := ref.ChannelID
		if ch == "" {
			ch = m.ChannelID
		}
		p.InReplyToID = ch + ":" + ref.MessageID
		if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
			p.InReplyToHandle = m.ReferencedMessage.Author.ID
		}
	}
	return p
}

func messageID(m *discordgo.Message) string {
	return m.ChannelID + ":" + m.ID
}

func splitMessageID(id string) (channel, msgID string, ok bool) {
	channel, msgID, ok = strings.Cut(id, ":")
	return channel, msgID, ok && channel != "" && msgID != ""
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (c *Client) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		log.Warn().Int("attempt", attempt+1).Dur("wait", wait).Msg("discord: rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
