// Package slack implements social.Client for a Slack workspace. Posts and
// replies are channel messages, mentions are messages addressing the bot
// user, and direct messages are the bot's IM conversations.
//
// Remote IDs have the form "<channel>:<ts>" so a reply can be routed back
// to the conversation it belongs to.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/socialdesk/internal/social"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// defaultMaxPages bounds paginated fetches.
	defaultMaxPages = 3
	pageSize        = 100
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	SearchMessagesContext(ctx context.Context, query string, params slackapi.SearchParameters) (*slackapi.SearchMessages, error)
	GetConversationsContext(ctx context.Context, params *slackapi.GetConversationsParameters) ([]slackapi.Channel, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slackapi.GetConversationHistoryParameters) (*slackapi.GetConversationHistoryResponse, error)
	OpenConversationContext(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Client implements social.Client for Slack.
type Client struct {
	bot       slackClient // bot token: history, IMs, posting
	search    slackClient // user token: search.messages
	channels  []string    // channels scanned for mentions; first is the default post target
	maxPages  int
	botUserID string
}

// ClientOpts holds parameters for creating a Slack Client.
type ClientOpts struct {
	BotToken  string   // xoxb-... bot token
	UserToken string   // xoxp-... user token; search needs one
	Channels  []string // channel IDs scanned for mentions
	MaxPages  int
	// For testing: inject mock clients instead of the real Slack API.
	Bot    slackClient
	Search slackClient
}

// New creates a Slack Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Bot == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	c := &Client{
		bot:      opts.Bot,
		search:   opts.Search,
		channels: opts.Channels,
		maxPages: opts.MaxPages,
	}
	if c.bot == nil {
		c.bot = slackapi.New(opts.BotToken)
	}
	if c.search == nil && opts.UserToken != "" {
		c.search = slackapi.New(opts.UserToken)
	}
	if c.maxPages <= 0 {
		c.maxPages = defaultMaxPages
	}
	return c, nil
}

// FetchStatusSearch returns messages matching term via search.messages.
func (c *Client) FetchStatusSearch(ctx context.Context, term string) ([]social.Post, error) {
	if c.search == nil {
		return nil, fmt.Errorf("slack: search needs a user token")
	}
	var posts []social.Post
	for page := 1; page <= c.maxPages; page++ {
		params := slackapi.NewSearchParameters()
		params.Sort = "timestamp"
		params.Count = pageSize
		params.Page = page

		var res *slackapi.SearchMessages
		err := retryOnRateLimit(ctx, func() error {
			var apiErr error
			res, apiErr = c.search.SearchMessagesContext(ctx, term, params)
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("slack: search %q: %w", term, err)
		}
		for _, m := range res.Matches {
			posts = append(posts, social.Post{
				ID:           messageID(m.Channel.ID, m.Timestamp),
				AuthorHandle: m.User,
				Text:         m.Text,
				CreatedAt:    parseSlackTimestamp(m.Timestamp),
			})
		}
		if res.Paging.Pages <= page {
			break
		}
	}
	return posts, nil
}

// FetchMentions scans the configured channels for messages addressing the
// bot user. handle is ignored; Slack mentions are by user ID.
func (c *Client) FetchMentions(ctx context.Context, handle string) ([]social.Post, error) {
	botID, err := c.botID(ctx)
	if err != nil {
		return nil, err
	}
	tag := "<@" + botID + ">"
	var posts []social.Post
	for _, ch := range c.channels {
		msgs, err := c.history(ctx, ch)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if !strings.Contains(m.Text, tag) {
				continue
			}
			posts = append(posts, toPost(ch, m))
		}
	}
	return posts, nil
}

// FetchDirectMessages returns the messages of the bot's IM conversations.
func (c *Client) FetchDirectMessages(ctx context.Context) ([]social.DirectMessage, error) {
	botID, err := c.botID(ctx)
	if err != nil {
		return nil, err
	}
	var ims []slackapi.Channel
	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		var chans []slackapi.Channel
		var next string
		err := retryOnRateLimit(ctx, func() error {
			var apiErr error
			chans, next, apiErr = c.bot.GetConversationsContext(ctx, &slackapi.GetConversationsParameters{
				Types:  []string{"im"},
				Cursor: cursor,
				Limit:  pageSize,
			})
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("slack: list IMs: %w", err)
		}
		ims = append(ims, chans...)
		if next == "" {
			break
		}
		cursor = next
	}

	var dms []social.DirectMessage
	for _, im := range ims {
		msgs, err := c.history(ctx, im.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			dm := social.DirectMessage{
				ID:              messageID(im.ID, m.Timestamp),
				SenderHandle:    m.User,
				RecipientHandle: botID,
				Text:            m.Text,
				CreatedAt:       parseSlackTimestamp(m.Timestamp),
			}
			if m.User == botID {
				dm.RecipientHandle = im.User
			}
			dms = append(dms, dm)
		}
	}
	return dms, nil
}

// PublishReply posts body in the thread of inReplyTo, or to the default
// channel when inReplyTo is empty.
func (c *Client) PublishReply(ctx context.Context, body, inReplyTo string) (string, error) {
	var channel string
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(body, false)}
	if inReplyTo != "" {
		ch, ts, ok := splitMessageID(inReplyTo)
		if !ok {
			return "", fmt.Errorf("slack: malformed message id %q", inReplyTo)
		}
		channel = ch
		opts = append(opts, slackapi.MsgOptionTS(ts))
	} else {
		if len(c.channels) == 0 {
			return "", fmt.Errorf("slack: no default channel configured")
		}
		channel = c.channels[0]
	}
	return c.post(ctx, channel, opts...)
}

// PublishDirectMessage opens (or reuses) the IM with recipient and posts body.
func (c *Client) PublishDirectMessage(ctx context.Context, recipient, body string) (string, error) {
	var im *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		im, _, _, apiErr = c.bot.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
			Users:    []string{recipient},
			ReturnIM: true,
		})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: open IM with %s: %w", recipient, err)
	}
	return c.post(ctx, im.ID, slackapi.MsgOptionText(body, false))
}

func (c *Client) post(ctx context.Context, channel string, opts ...slackapi.MsgOption) (string, error) {
	var ch, ts string
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, ts, apiErr = c.bot.PostMessageContext(ctx, channel, opts...)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	if ch == "" {
		ch = channel
	}
	return messageID(ch, ts), nil
}

// history returns up to maxPages pages of a channel's recent messages.
// Bot messages and subtypes (edits, joins, ...) are skipped.
func (c *Client) history(ctx context.Context, channel string) ([]slackapi.Message, error) {
	var out []slackapi.Message
	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		var res *slackapi.GetConversationHistoryResponse
		err := retryOnRateLimit(ctx, func() error {
			var apiErr error
			res, apiErr = c.bot.GetConversationHistoryContext(ctx, &slackapi.GetConversationHistoryParameters{
				ChannelID: channel,
				Cursor:    cursor,
				Limit:     pageSize,
			})
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("slack: history of %s: %w", channel, err)
		}
		for _, m := range res.Messages {
			if m.SubType != "" || (m.BotID != "" && m.User == "") {
				continue
			}
			out = append(out, m)
		}
		if !res.HasMore || res.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = res.ResponseMetaData.NextCursor
	}
	return out, nil
}

func (c *Client) botID(ctx context.Context) (string, error) {
	if c.botUserID != "" {
		return c.botUserID, nil
	}
	auth, err := c.bot.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("slack: auth test: %w", err)
	}
	c.botUserID = auth.UserID
	return c.botUserID, nil
}

func toPost(channel string, m slackapi.Message) social.Post {
	p := social.Post{
		ID:           messageID(channel, m.Timestamp),
		AuthorHandle: m.User,
		Text:         m.Text,
		CreatedAt:    parseSlackTimestamp(m.Timestamp),
	}
	if m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp {
		p.InReplyToID = messageID(channel, m.ThreadTimestamp)
		p.InReplyToHandle = m.ParentUserId
	}
	return p
}

func messageID(channel, ts string) string {
	return channel + ":" + ts
}

func splitMessageID(id string) (channel, ts string, ok bool) {
	channel, ts, ok = strings.Cut(id, ":")
	return channel, ts, ok && channel != "" && ts != ""
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var usec int64
	if frac != "" {
		usec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, usec*1000).UTC()
}
