// Package twitter implements social.Client against the Twitter (X) API v2.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gotwitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/zulandar/socialdesk/internal/social"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL  = "https://api.twitter.com"
	defaultMaxPages = 3
	pageSize        = 100

	userFields = "username"
)

var (
	tweetFields = []gotwitter.TweetField{
		gotwitter.TweetFieldCreatedAt,
		gotwitter.TweetFieldAuthorID,
		gotwitter.TweetFieldInReplyToUserID,
		gotwitter.TweetFieldReferencedTweets,
	}
	tweetExpansions = []gotwitter.Expansion{
		gotwitter.ExpansionAuthorID,
		gotwitter.ExpansionInReplyToUserID,
	}
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter: HTTP %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Client implements social.Client for Twitter. Tweet and user endpoints go
// through go-twitter; direct message endpoints are called directly.
type Client struct {
	api      *gotwitter.Client
	http     *http.Client
	baseURL  string
	maxPages int

	mu      sync.Mutex
	userIDs map[string]string // username (lowercase) -> user ID
}

// ClientOpts holds parameters for creating a Twitter Client.
type ClientOpts struct {
	BearerToken string
	BaseURL     string
	MaxPages    int
	// RequestsPerSecond throttles outgoing calls. Zero means one per second.
	RequestsPerSecond float64
	// For testing: use this client instead of an OAuth2 one.
	HTTPClient *http.Client
}

// New creates a Twitter Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.HTTPClient == nil && opts.BearerToken == "" {
		return nil, fmt.Errorf("twitter: bearer token is required")
	}
	base := opts.HTTPClient
	if base == nil {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.BearerToken, TokenType: "Bearer"})
		base = oauth2.NewClient(context.Background(), src)
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	hc := *base
	hc.Transport = &pacedTransport{base: base.Transport, limiter: rate.NewLimiter(rate.Limit(rps), 5)}

	c := &Client{
		http:     &hc,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		maxPages: opts.MaxPages,
		userIDs:  make(map[string]string),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.maxPages <= 0 {
		c.maxPages = defaultMaxPages
	}
	c.api = &gotwitter.Client{Authorizer: transportAuth{}, Client: c.http, Host: c.baseURL}
	return c, nil
}

// pacedTransport waits on the limiter before every request.
type pacedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// transportAuth leaves authorization to the oauth2 transport.
type transportAuth struct{}

func (transportAuth) Add(*http.Request) {}

// --- direct message wire types ---

type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type dmEvent struct {
	ID               string `json:"id"`
	EventType        string `json:"event_type"`
	Text             string `json:"text"`
	SenderID         string `json:"sender_id"`
	CreatedAt        string `json:"created_at"`
	DMConversationID string `json:"dm_conversation_id"`
}

type dmPage struct {
	Data     []dmEvent `json:"data"`
	Includes struct {
		Users []user `json:"users"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

// FetchStatusSearch returns recent tweets matching term.
func (c *Client) FetchStatusSearch(ctx context.Context, term string) ([]social.Post, error) {
	opts := gotwitter.TweetRecentSearchOpts{
		Expansions:  tweetExpansions,
		TweetFields: tweetFields,
		UserFields:  []gotwitter.UserField{gotwitter.UserFieldUserName},
		MaxResults:  pageSize,
	}
	var posts []social.Post
	for page := 0; page < c.maxPages; page++ {
		res, err := c.api.TweetRecentSearch(ctx, term, opts)
		if err != nil {
			return nil, fmt.Errorf("twitter: search %q: %w", term, apiError(err))
		}
		posts = append(posts, toPosts(res.Raw)...)
		if res.Meta == nil || res.Meta.NextToken == "" {
			break
		}
		opts.NextToken = res.Meta.NextToken
	}
	return posts, nil
}

// FetchMentions returns recent tweets mentioning handle.
func (c *Client) FetchMentions(ctx context.Context, handle string) ([]social.Post, error) {
	id, err := c.lookupUserID(ctx, handle)
	if err != nil {
		return nil, err
	}
	opts := gotwitter.UserMentionTimelineOpts{
		Expansions:  tweetExpansions,
		TweetFields: tweetFields,
		UserFields:  []gotwitter.UserField{gotwitter.UserFieldUserName},
		MaxResults:  pageSize,
	}
	var posts []social.Post
	for page := 0; page < c.maxPages; page++ {
		res, err := c.api.UserMentionTimeline(ctx, id, opts)
		if err != nil {
			return nil, fmt.Errorf("twitter: mentions of %s: %w", handle, apiError(err))
		}
		posts = append(posts, toPosts(res.Raw)...)
		if res.Meta == nil || res.Meta.NextToken == "" {
			break
		}
		opts.PaginationToken = res.Meta.NextToken
	}
	return posts, nil
}

// FetchDirectMessages returns recent one-to-one direct message events.
func (c *Client) FetchDirectMessages(ctx context.Context) ([]social.DirectMessage, error) {
	q := url.Values{}
	q.Set("event_types", "MessageCreate")
	q.Set("dm_event.fields", "id,text,sender_id,created_at,dm_conversation_id")
	q.Set("expansions", "sender_id,participant_ids")
	q.Set("user.fields", userFields)
	q.Set("max_results", fmt.Sprint(pageSize))

	var dms []social.DirectMessage
	for page := 0; page < c.maxPages; page++ {
		var res dmPage
		if err := c.do(ctx, http.MethodGet, "/2/dm_events?"+q.Encode(), nil, &res); err != nil {
			return nil, fmt.Errorf("twitter: dm events: %w", err)
		}
		names := usernames(res.Includes.Users)
		for _, ev := range res.Data {
			if ev.EventType != "" && ev.EventType != "MessageCreate" {
				continue
			}
			recipientID, ok := otherParticipant(ev.DMConversationID, ev.SenderID)
			if !ok {
				continue // group conversation
			}
			dms = append(dms, social.DirectMessage{
				ID:              ev.ID,
				SenderHandle:    handleFor(names, ev.SenderID),
				RecipientHandle: handleFor(names, recipientID),
				Text:            ev.Text,
				CreatedAt:       parseTime(ev.CreatedAt),
			})
		}
		if res.Meta.NextToken == "" {
			break
		}
		q.Set("pagination_token", res.Meta.NextToken)
	}
	return dms, nil
}

// PublishReply posts body as a reply to inReplyTo, or as a new tweet.
func (c *Client) PublishReply(ctx context.Context, body, inReplyTo string) (string, error) {
	req := gotwitter.CreateTweetRequest{Text: body}
	if inReplyTo != "" {
		req.Reply = &gotwitter.CreateTweetReply{InReplyToTweetID: inReplyTo}
	}
	res, err := c.api.CreateTweet(ctx, req)
	if err != nil {
		return "", fmt.Errorf("twitter: post tweet: %w", apiError(err))
	}
	if res.Tweet == nil || res.Tweet.ID == "" {
		return "", fmt.Errorf("twitter: post tweet: response carried no id")
	}
	return res.Tweet.ID, nil
}

// PublishDirectMessage sends body to the user with handle recipient.
func (c *Client) PublishDirectMessage(ctx context.Context, recipient, body string) (string, error) {
	id, err := c.lookupUserID(ctx, recipient)
	if err != nil {
		return "", err
	}
	var res struct {
		Data struct {
			DMEventID string `json:"dm_event_id"`
		} `json:"data"`
	}
	path := "/2/dm_conversations/with/" + url.PathEscape(id) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"text": body}, &res); err != nil {
		return "", fmt.Errorf("twitter: send dm to %s: %w", recipient, err)
	}
	if res.Data.DMEventID == "" {
		return "", fmt.Errorf("twitter: send dm to %s: response carried no id", recipient)
	}
	return res.Data.DMEventID, nil
}

func (c *Client) lookupUserID(ctx context.Context, handle string) (string, error) {
	name := strings.ToLower(strings.TrimPrefix(handle, "@"))
	c.mu.Lock()
	id, ok := c.userIDs[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	res, err := c.api.UserNameLookup(ctx, []string{name}, gotwitter.UserLookupOpts{})
	if err != nil {
		return "", fmt.Errorf("twitter: lookup user %s: %w", handle, apiError(err))
	}
	if res.Raw == nil || len(res.Raw.Users) == 0 || res.Raw.Users[0] == nil || res.Raw.Users[0].ID == "" {
		return "", fmt.Errorf("twitter: lookup user %s: not found", handle)
	}
	id = res.Raw.Users[0].ID
	c.mu.Lock()
	c.userIDs[name] = id
	c.mu.Unlock()
	return id, nil
}

// do sends one request to an endpoint go-twitter does not cover and decodes
// the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// apiError flattens go-twitter error responses into APIError.
func apiError(err error) error {
	var er *gotwitter.ErrorResponse
	if errors.As(err, &er) {
		return &APIError{Status: er.StatusCode, Body: strings.TrimSpace(er.Title + " " + er.Detail)}
	}
	return err
}

func toPosts(raw *gotwitter.TweetRaw) []social.Post {
	if raw == nil {
		return nil
	}
	names := make(map[string]string)
	if raw.Includes != nil {
		for _, u := range raw.Includes.Users {
			if u != nil {
				names[u.ID] = u.UserName
			}
		}
	}
	posts := make([]social.Post, 0, len(raw.Tweets))
	for _, t := range raw.Tweets {
		if t == nil {
			continue
		}
		p := social.Post{
			ID:           t.ID,
			AuthorHandle: handleFor(names, t.AuthorID),
			Text:         t.Text,
			CreatedAt:    parseTime(t.CreatedAt),
		}
		for _, ref := range t.ReferencedTweets {
			if ref != nil && ref.Type == "replied_to" {
				p.InReplyToID = ref.ID
				p.InReplyToHandle = handleFor(names, t.InReplyToUserID)
			}
		}
		posts = append(posts, p)
	}
	return posts
}

func usernames(users []user) map[string]string {
	m := make(map[string]string, len(users))
	for _, u := range users {
		m[u.ID] = u.Username
	}
	return m
}

// handleFor falls back to the raw ID when the user was not expanded.
func handleFor(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}

// otherParticipant derives the recipient from a one-to-one conversation ID
// of the form "<lowID>-<highID>".
func otherParticipant(conversationID, senderID string) (string, bool) {
	a, b, ok := strings.Cut(conversationID, "-")
	if !ok || a == "" || b == "" || strings.Contains(b, "-") {
		return "", false
	}
	switch senderID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
