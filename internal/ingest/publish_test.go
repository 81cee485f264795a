package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/socialdesk/internal/events"
	"github.com/zulandar/socialdesk/internal/models"
	"github.com/zulandar/socialdesk/internal/social"
)

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(PublisherOpts{})
	assert.ErrorContains(t, err, "db is required")
}

func TestPublish_ReplyToLatestCustomerPost(t *testing.T) {
	f := newFixture(t)
	f.post("#citheo42", "p-1", "carol", "#citheo42 broken", "", 0)
	f.post("#citheo42", "p-2", "carol", "#citheo42 still broken", "p-1", time.Minute)
	f.cycle(t)
	tk := f.tickets(t)[0]

	reply := f.agentArticle(t, tk.ID, "@carol we're on it")
	got, err := f.pub.Publish(context.Background(), reply.ID)
	require.NoError(t, err)

	published := f.client.AllPublished()
	require.Len(t, published, 1)
	assert.False(t, published[0].Direct)
	assert.Equal(t, "p-2", published[0].InReplyTo)
	assert.Equal(t, "@carol we're on it", published[0].Body)

	require.NotNil(t, got.MessageID)
	assert.Equal(t, published[0].ID, *got.MessageID)
	require.NotNil(t, got.InReplyTo)
	assert.Equal(t, "p-2", *got.InReplyTo)
	assert.Equal(t, models.ArticleKindStatus, got.Kind)

	var stored models.Article
	require.NoError(t, f.db.First(&stored, reply.ID).Error)
	require.NotNil(t, stored.MessageID)
	assert.Equal(t, published[0].ID, *stored.MessageID)
	require.NotNil(t, stored.To)
	assert.Equal(t, "carol", *stored.To)
	assert.Equal(t, 1, f.producer.count(events.ArticlePublished))
}

func TestPublish_DirectMessage(t *testing.T) {
	f := newFixture(t)
	f.dm("dm-1", "alice", "hi", 0)
	f.cycle(t)
	tk := f.tickets(t)[0]

	reply := f.agentArticle(t, tk.ID, "hello alice")
	got, err := f.pub.Publish(context.Background(), reply.ID)
	require.NoError(t, err)

	published := f.client.AllPublished()
	require.Len(t, published, 1)
	assert.True(t, published[0].Direct)
	assert.Equal(t, "alice", published[0].Recipient)
	assert.Equal(t, models.ArticleKindDirectMessage, got.Kind)
}

func TestPublish_StatusKindOnDirectMessageTicketStaysPrivate(t *testing.T) {
	f := newFixture(t)
	f.dm("dm-1", "alice", "my card number leaked", 0)
	f.cycle(t)
	tk := f.tickets(t)[0]

	reply := models.Article{
		TicketID:  tk.ID,
		Kind:      models.ArticleKindStatus,
		Sender:    models.SenderAgent,
		From:      deskAccount,
		Body:      "hello alice",
		CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&reply).Error)

	got, err := f.pub.Publish(context.Background(), reply.ID)
	require.NoError(t, err)

	published := f.client.AllPublished()
	require.Len(t, published, 1)
	assert.True(t, published[0].Direct)
	assert.Equal(t, "alice", published[0].Recipient)
	assert.Empty(t, published[0].InReplyTo)
	assert.Equal(t, models.ArticleKindDirectMessage, got.Kind)
	assert.Nil(t, got.InReplyTo)
}

func TestPublish_NewStatusWithoutCustomerPost(t *testing.T) {
	f := newFixture(t)
	tk := models.Ticket{Title: "announce", GroupID: groupUsers, ChannelID: f.channel.ID, State: models.TicketStateOpen}
	require.NoError(t, f.db.Create(&tk).Error)

	reply := f.agentArticle(t, tk.ID, "Maintenance tonight")
	got, err := f.pub.Publish(context.Background(), reply.ID)
	require.NoError(t, err)

	published := f.client.AllPublished()
	require.Len(t, published, 1)
	assert.False(t, published[0].Direct)
	assert.Empty(t, published[0].InReplyTo)
	assert.Nil(t, got.InReplyTo)
}

func TestPublish_DirectMessageGroupWithoutHistory(t *testing.T) {
	f := newFixture(t)
	tk := models.Ticket{Title: "outreach", GroupID: groupTwitter, ChannelID: f.channel.ID,
		CustomerHandle: "zoe", State: models.TicketStateOpen}
	require.NoError(t, f.db.Create(&tk).Error)

	reply := f.agentArticle(t, tk.ID, "hi zoe")
	_, err := f.pub.Publish(context.Background(), reply.ID)
	require.NoError(t, err)

	published := f.client.AllPublished()
	require.Len(t, published, 1)
	assert.True(t, published[0].Direct)
	assert.Equal(t, "zoe", published[0].Recipient)
}

func TestPublish_ErrorSurfacedAndNotRetried(t *testing.T) {
	f := newFixture(t)
	f.dm("dm-1", "alice", "hi", 0)
	f.cycle(t)
	tk := f.tickets(t)[0]
	f.client.SetPublishError(errors.New("rate limited"))

	reply := f.agentArticle(t, tk.ID, "hello")
	_, err := f.pub.Publish(context.Background(), reply.ID)
	var pe *PublishError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, reply.ID, pe.ArticleID)
	assert.Contains(t, err.Error(), "rate limited")

	var stored models.Article
	require.NoError(t, f.db.First(&stored, reply.ID).Error)
	assert.Nil(t, stored.MessageID)
	assert.Empty(t, f.client.AllPublished())
}

func TestPublish_Rejects(t *testing.T) {
	f := newFixture(t)
	f.dm("dm-1", "alice", "hi", 0)
	f.cycle(t)
	tk := f.tickets(t)[0]

	t.Run("already published", func(t *testing.T) {
		_, err := f.pub.Publish(context.Background(), tk.Articles[0].ID)
		assert.ErrorIs(t, err, ErrAlreadyPublished)
	})

	t.Run("internal note", func(t *testing.T) {
		note := models.Article{TicketID: tk.ID, Kind: models.ArticleKindNote, Sender: models.SenderAgent, Internal: true, Body: "vip"}
		require.NoError(t, f.db.Create(&note).Error)
		_, err := f.pub.Publish(context.Background(), note.ID)
		assert.ErrorIs(t, err, ErrNotPublishable)
	})

	t.Run("published twice", func(t *testing.T) {
		reply := f.agentArticle(t, tk.ID, "once")
		_, err := f.pub.Publish(context.Background(), reply.ID)
		require.NoError(t, err)
		_, err = f.pub.Publish(context.Background(), reply.ID)
		assert.ErrorIs(t, err, ErrAlreadyPublished)
	})

	assert.Len(t, f.client.AllPublished(), 1)
}

func TestPublish_EchoIsNotReimported(t *testing.T) {
	f := newFixture(t)
	f.dm("dm-1", "alice", "hi", 0)
	f.cycle(t)
	tk := f.tickets(t)[0]

	reply := f.agentArticle(t, tk.ID, "hello alice")
	got, err := f.pub.Publish(context.Background(), reply.ID)
	require.NoError(t, err)

	// The platform returns our own DM on the next fetch.
	f.client.AddDirectMessage(social.DirectMessage{
		ID: *got.MessageID, SenderHandle: deskAccount, RecipientHandle: "alice",
		Text: "hello alice", CreatedAt: baseTime.Add(time.Minute),
	})
	before := f.articleCount(t)
	f.cycle(t)
	assert.Equal(t, before, f.articleCount(t))
}
