package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zulandar/socialdesk/internal/config"
	"github.com/zulandar/socialdesk/internal/db"
	"github.com/zulandar/socialdesk/internal/models"
	"github.com/zulandar/socialdesk/internal/social"
	"gorm.io/gorm"
)

const (
	groupUsers   uint = 1
	groupTwitter uint = 2
	deskAccount       = "armin_theo"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stepClock returns a strictly increasing time on every call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock { return &stepClock{t: baseTime} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// recordingProducer captures emitted events.
type recordingProducer struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingProducer) ProduceTicketEvent(_ context.Context, event string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingProducer) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// fixture is one seeded desk: the "Users" and "Twitter" groups and a
// twitter channel routing #citheo42 to Twitter and #citheo24 to Users,
// with mentions and direct messages landing in Twitter.
type fixture struct {
	db       *gorm.DB
	client   *social.MockClient
	channel  models.Channel
	orch     *Orchestrator
	pub      *Publisher
	clock    *stepClock
	producer *recordingProducer
}

type fixtureOpts struct {
	channel      config.ChannelConfig
	fetchTimeout time.Duration
}

func defaultChannelConfig() config.ChannelConfig {
	return config.ChannelConfig{
		Name:     "twitter-main",
		Platform: config.PlatformTwitter,
		Account:  deskAccount,
		Sync: config.ChannelSync{
			Search: []config.SearchConfig{
				{Term: "#citheo42", GroupID: groupTwitter},
				{Term: "#citheo24", GroupID: groupUsers},
			},
			Mentions:       config.RouteConfig{GroupID: groupTwitter},
			DirectMessages: config.RouteConfig{GroupID: groupTwitter},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, fixtureOpts{channel: defaultChannelConfig()})
}

func newFixtureWith(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	gdb := openTestDB(t)
	require.NoError(t, db.SeedGroups(gdb, []config.GroupConfig{
		{ID: groupUsers, Name: "Users"},
		{ID: groupTwitter, Name: "Twitter"},
	}))
	require.NoError(t, db.SeedChannels(gdb, []config.ChannelConfig{opts.channel}))

	var ch models.Channel
	require.NoError(t, gdb.Where("name = ?", opts.channel.Name).First(&ch).Error)

	f := &fixture{
		db:       gdb,
		client:   social.NewMockClient(),
		channel:  ch,
		clock:    newStepClock(),
		producer: &recordingProducer{},
	}
	clients := ClientFunc(func(models.Channel) (social.Client, error) { return f.client, nil })

	orch, err := NewOrchestrator(OrchestratorOpts{
		DB:           gdb,
		Clients:      clients,
		Producer:     f.producer,
		FetchTimeout: opts.fetchTimeout,
		Holder:       "test-holder",
		Now:          f.clock.Now,
	})
	require.NoError(t, err)
	f.orch = orch

	pub, err := NewPublisher(PublisherOpts{DB: gdb, Clients: clients, Producer: f.producer, Now: f.clock.Now})
	require.NoError(t, err)
	f.pub = pub
	return f
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func (f *fixture) cycle(t *testing.T) *CycleReport {
	t.Helper()
	report, err := f.orch.RunCycle(context.Background(), f.channel.ID)
	require.NoError(t, err)
	return report
}

func (f *fixture) dm(id, from, text string, at time.Duration) {
	f.client.AddDirectMessage(social.DirectMessage{
		ID:              id,
		SenderHandle:    from,
		RecipientHandle: deskAccount,
		Text:            text,
		CreatedAt:       baseTime.Add(at),
	})
}

func (f *fixture) post(term, id, author, text, inReplyTo string, at time.Duration) {
	f.client.AddSearchResult(term, social.Post{
		ID:           id,
		AuthorHandle: author,
		Text:         text,
		InReplyToID:  inReplyTo,
		CreatedAt:    baseTime.Add(at),
	})
}

func (f *fixture) tickets(t *testing.T) []models.Ticket {
	t.Helper()
	var out []models.Ticket
	require.NoError(t, f.db.Preload("Articles", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Order("id").Find(&out).Error)
	return out
}

func (f *fixture) ticket(t *testing.T, id uint) models.Ticket {
	t.Helper()
	var out models.Ticket
	require.NoError(t, f.db.Preload("Articles", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).First(&out, id).Error)
	return out
}

func (f *fixture) setState(t *testing.T, id uint, s models.TicketState) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Ticket{}).Where("id = ?", id).
		Updates(map[string]interface{}{"state": s, "updated_at": f.clock.Now()}).Error)
}

// agentArticle stores an unpublished agent article on a ticket.
func (f *fixture) agentArticle(t *testing.T, ticketID uint, body string) models.Article {
	t.Helper()
	a := models.Article{
		TicketID:  ticketID,
		Sender:    models.SenderAgent,
		From:      deskAccount,
		Body:      body,
		CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&a).Error)
	return a
}

func (f *fixture) articleCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Article{}).Count(&n).Error)
	return n
}
