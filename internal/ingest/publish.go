package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/socialdesk/internal/db"
	"github.com/zulandar/socialdesk/internal/events"
	"github.com/zulandar/socialdesk/internal/models"
	"gorm.io/gorm"
)

// Publisher sends agent articles to the platform and writes the returned
// remote ID back, so the next fetch cycle recognizes the echo as imported.
type Publisher struct {
	db       *gorm.DB
	clients  ClientProvider
	producer events.TicketEventProducer
	now      func() time.Time
}

// PublisherOpts holds parameters for creating a Publisher.
type PublisherOpts struct {
	DB       *gorm.DB
	Clients  ClientProvider
	Producer events.TicketEventProducer // optional
	Now      func() time.Time           // defaults to time.Now
}

// NewPublisher creates a Publisher.
func NewPublisher(opts PublisherOpts) (*Publisher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("ingest: publisher: db is required")
	}
	if opts.Clients == nil {
		return nil, fmt.Errorf("ingest: publisher: client provider is required")
	}
	p := &Publisher{db: opts.DB, clients: opts.Clients, producer: opts.Producer, now: opts.Now}
	if p.producer == nil {
		p.producer = events.Noop{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// destination is where an agent article goes on the platform.
type destination struct {
	channel   models.Channel
	target    *models.Article // latest customer article with a remote ID
	direct    bool
	recipient string // direct messages only
}

// Check reports whether article, with its Ticket loaded, can be routed on
// the platform. It returns an error wrapping ErrNotPublishable when it
// cannot; nothing is sent.
func (p *Publisher) Check(ctx context.Context, article *models.Article) error {
	if article.Internal || article.Sender != models.SenderAgent {
		return fmt.Errorf("%w: article %d", ErrNotPublishable, article.ID)
	}
	_, err := p.destinationOf(ctx, article)
	return err
}

// destinationOf resolves where article goes. Direct message articles, and
// any article on a ticket whose latest customer message is a direct
// message, go to their recipient; everything else is a reply to the latest
// customer post, or a new status when there is none.
func (p *Publisher) destinationOf(ctx context.Context, article *models.Article) (*destination, error) {
	r := &destination{}
	if err := p.db.WithContext(ctx).First(&r.channel, article.Ticket.ChannelID).Error; err != nil {
		return nil, fmt.Errorf("ingest: load channel for ticket %d: %w", article.Ticket.ID, err)
	}
	target, err := p.latestCustomerArticle(ctx, article.Ticket.ID)
	if err != nil {
		return nil, err
	}
	r.target = target
	cc, err := ChannelConfigFromModel(r.channel)
	if err != nil {
		return nil, err
	}

	// A private conversation is always answered privately, whatever kind the
	// agent picked; a status reply would expose it and point at a DM id.
	r.direct = article.Kind == models.ArticleKindDirectMessage
	switch {
	case target != nil:
		r.direct = r.direct || target.Kind == models.ArticleKindDirectMessage
	case article.Kind != models.ArticleKindStatus:
		r.direct = r.direct || (cc.DirectMessagesGroupID != 0 && article.Ticket.GroupID == cc.DirectMessagesGroupID)
	}
	if !r.direct {
		return r, nil
	}

	r.recipient = article.Ticket.CustomerHandle
	switch {
	case article.To != nil && *article.To != "":
		r.recipient = *article.To
	case target != nil && target.From != "":
		r.recipient = target.From
	}
	if r.recipient == "" {
		return nil, fmt.Errorf("%w: article %d has no recipient", ErrNotPublishable, article.ID)
	}
	return r, nil
}

// Publish sends an outbound agent article to its destination and records the
// remote ID on it.
//
// Client failures are returned as *PublishError and leave the article
// unpublished; nothing is retried.
func (p *Publisher) Publish(ctx context.Context, articleID uint) (*models.Article, error) {
	var article models.Article
	if err := p.db.WithContext(ctx).Preload("Ticket").First(&article, articleID).Error; err != nil {
		return nil, fmt.Errorf("ingest: load article %d: %w", articleID, err)
	}
	if article.MessageID != nil {
		return nil, fmt.Errorf("%w: article %d is %s", ErrAlreadyPublished, article.ID, *article.MessageID)
	}
	if article.Internal || article.Sender != models.SenderAgent {
		return nil, fmt.Errorf("%w: article %d", ErrNotPublishable, article.ID)
	}

	r, err := p.destinationOf(ctx, &article)
	if err != nil {
		return nil, err
	}
	client, err := p.clients.ForChannel(r.channel)
	if err != nil {
		return nil, &PublishError{ArticleID: article.ID, Err: err}
	}

	var (
		remoteID  string
		inReplyTo *string
		to        = article.To
		direct    = r.direct
	)
	if direct {
		to = &r.recipient
		remoteID, err = client.PublishDirectMessage(ctx, r.recipient, article.Body)
	} else {
		parent := ""
		if r.target != nil && r.target.MessageID != nil {
			parent = *r.target.MessageID
			inReplyTo = r.target.MessageID
			if to == nil {
				to = optional(r.target.From)
			}
		}
		remoteID, err = client.PublishReply(ctx, article.Body, parent)
	}
	if err != nil {
		return nil, &PublishError{ArticleID: article.ID, Err: err}
	}
	if remoteID == "" {
		return nil, &PublishError{ArticleID: article.ID, Err: errors.New("platform returned no id")}
	}

	kind := models.ArticleKindStatus
	if direct {
		kind = models.ArticleKindDirectMessage
	}
	now := p.now()
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Article{}).
			Where("id = ? AND message_id IS NULL", article.ID).
			Updates(map[string]interface{}{
				"message_id":  remoteID,
				"in_reply_to": inReplyTo,
				"to_handle":   to,
				"kind":        kind,
			})
		if result.Error != nil {
			if db.IsDuplicateKey(result.Error) {
				return ErrDuplicateItem
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyPublished
		}
		return tx.Model(&models.Ticket{}).Where("id = ?", article.TicketID).Update("updated_at", now).Error
	})
	if err != nil {
		// The post is live remotely; only the write-back failed.
		log.Error().Err(err).Uint("article_id", article.ID).Str("message_id", remoteID).
			Msg("published article but could not record remote id")
		return nil, &PublishError{ArticleID: article.ID, Err: err}
	}

	article.MessageID = &remoteID
	article.InReplyTo = inReplyTo
	article.To = to
	article.Kind = kind
	log.Info().Uint("ticket_id", article.TicketID).Uint("article_id", article.ID).
		Str("message_id", remoteID).Bool("direct", direct).Msg("article published")
	p.producer.ProduceTicketEvent(ctx, events.ArticlePublished, articlePayload(&article.Ticket, &article))
	return &article, nil
}

// latestCustomerArticle returns the newest customer article of a ticket
// that carries a remote ID, or nil.
func (p *Publisher) latestCustomerArticle(ctx context.Context, ticketID uint) (*models.Article, error) {
	var a models.Article
	err := p.db.WithContext(ctx).
		Where("ticket_id = ? AND sender = ? AND message_id IS NOT NULL", ticketID, models.SenderCustomer).
		Order("id DESC").First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: latest customer article of ticket %d: %w", ticketID, err)
	}
	return &a, nil
}
