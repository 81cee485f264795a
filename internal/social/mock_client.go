package social

import (
	"context"
	"fmt"
	"sync"
)

// Fetch sources, used to inject failures into MockClient.
const (
	SourceSearch         = "search"
	SourceMentions       = "mentions"
	SourceDirectMessages = "direct_messages"
)

// MockClient implements Client for testing. It serves pre-seeded remote
// state and records everything published.
type MockClient struct {
	mu         sync.Mutex
	search     map[string][]Post
	mentions   []Post
	dms        []DirectMessage
	published  []Published
	fetchErr   map[string]error
	blocking   map[string]bool
	publishErr error
	counter    int
	fetchCalls map[string]int
}

// Published records one call to PublishReply or PublishDirectMessage.
type Published struct {
	ID        string
	Direct    bool
	Recipient string
	InReplyTo string
	Body      string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		search:     make(map[string][]Post),
		fetchErr:   make(map[string]error),
		blocking:   make(map[string]bool),
		fetchCalls: make(map[string]int),
	}
}

// FetchStatusSearch returns seeded posts for term.
func (m *MockClient) FetchStatusSearch(ctx context.Context, term string) ([]Post, error) {
	if err := m.beforeFetch(ctx, SourceSearch); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Post(nil), m.search[term]...), nil
}

// FetchMentions returns seeded mentions. handle is ignored.
func (m *MockClient) FetchMentions(ctx context.Context, handle string) ([]Post, error) {
	if err := m.beforeFetch(ctx, SourceMentions); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Post(nil), m.mentions...), nil
}

// FetchDirectMessages returns seeded direct messages.
func (m *MockClient) FetchDirectMessages(ctx context.Context) ([]DirectMessage, error) {
	if err := m.beforeFetch(ctx, SourceDirectMessages); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DirectMessage(nil), m.dms...), nil
}

// PublishReply records the reply and returns a generated remote ID.
func (m *MockClient) PublishReply(ctx context.Context, body, inReplyTo string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return "", m.publishErr
	}
	m.counter++
	id := fmt.Sprintf("out-%d", m.counter)
	m.published = append(m.published, Published{ID: id, InReplyTo: inReplyTo, Body: body})
	return id, nil
}

// PublishDirectMessage records the message and returns a generated remote ID.
func (m *MockClient) PublishDirectMessage(ctx context.Context, recipient, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return "", m.publishErr
	}
	m.counter++
	id := fmt.Sprintf("out-dm-%d", m.counter)
	m.published = append(m.published, Published{ID: id, Direct: true, Recipient: recipient, Body: body})
	return id, nil
}

func (m *MockClient) beforeFetch(ctx context.Context, source string) error {
	m.mu.Lock()
	m.fetchCalls[source]++
	err := m.fetchErr[source]
	block := m.blocking[source]
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// --- Test helpers ---

// AddSearchResult seeds a post returned for term.
func (m *MockClient) AddSearchResult(term string, p Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.search[term] = append(m.search[term], p)
}

// AddMention seeds a mention.
func (m *MockClient) AddMention(p Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mentions = append(m.mentions, p)
}

// AddDirectMessage seeds a direct message.
func (m *MockClient) AddDirectMessage(dm DirectMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dms = append(m.dms, dm)
}

// SetFetchError makes every fetch of source fail with err (nil clears it).
func (m *MockClient) SetFetchError(source string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr[source] = err
}

// SetBlocking makes fetches of source block until their context ends.
func (m *MockClient) SetBlocking(source string, block bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocking[source] = block
}

// SetPublishError makes every publish fail with err (nil clears it).
func (m *MockClient) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

// AllPublished returns a copy of everything published so far.
func (m *MockClient) AllPublished() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.published))
	copy(out, m.published)
	return out
}

// FetchCalls returns how often source was fetched.
func (m *MockClient) FetchCalls(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls[source]
}
