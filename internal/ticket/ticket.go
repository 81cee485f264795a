// Package ticket provides the agent-facing ticket operations: listing and
// reading tickets, setting their state and adding agent articles.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/socialdesk/internal/events"
	"github.com/zulandar/socialdesk/internal/ingest"
	"github.com/zulandar/socialdesk/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound reports an unknown ticket or article.
	ErrNotFound = errors.New("ticket: not found")
	// ErrInvalidTransition reports a state change the agent may not make.
	ErrInvalidTransition = errors.New("ticket: invalid state transition")
	// ErrInvalidArticle reports an article input that cannot be stored.
	ErrInvalidArticle = errors.New("ticket: invalid article")
)

// DefaultListLimit caps List results when no limit is given.
const DefaultListLimit = 50

// ValidTransitions maps each state to the states an agent may set next.
// Reopening a closed ticket is an agent decision; inbound items never do it.
var ValidTransitions = map[models.TicketState][]models.TicketState{
	models.TicketStateNew:             {models.TicketStateOpen, models.TicketStatePendingReminder, models.TicketStateClosed},
	models.TicketStateOpen:            {models.TicketStatePendingReminder, models.TicketStateClosed},
	models.TicketStatePendingReminder: {models.TicketStateOpen, models.TicketStateClosed},
	models.TicketStateClosed:          {models.TicketStateOpen},
}

// Publisher publishes agent articles to the platform.
type Publisher interface {
	// Check validates that an unsaved article, with its Ticket set, can be
	// routed. Nothing is sent.
	Check(ctx context.Context, article *models.Article) error
	Publish(ctx context.Context, articleID uint) (*models.Article, error)
}

// Service implements the ticket operations.
type Service struct {
	db        *gorm.DB
	publisher Publisher
	producer  events.TicketEventProducer
	now       func() time.Time
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	DB        *gorm.DB
	Publisher Publisher                  // required to publish agent articles
	Producer  events.TicketEventProducer // optional
	Now       func() time.Time
}

// NewService creates a Service.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("ticket: db is required")
	}
	s := &Service{db: opts.DB, publisher: opts.Publisher, producer: opts.Producer, now: opts.Now}
	if s.producer == nil {
		s.producer = events.Noop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Filter holds optional filters for listing tickets.
type Filter struct {
	GroupID   uint
	ChannelID uint
	State     models.TicketState
	Customer  string
	Limit     int
	Offset    int
}

// List returns tickets matching f, most recently updated first.
func (s *Service) List(ctx context.Context, f Filter) ([]models.Ticket, error) {
	q := s.db.WithContext(ctx).Model(&models.Ticket{})
	if f.GroupID != 0 {
		q = q.Where("group_id = ?", f.GroupID)
	}
	if f.ChannelID != 0 {
		q = q.Where("channel_id = ?", f.ChannelID)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Customer != "" {
		q = q.Where("LOWER(customer_handle) = LOWER(?)", strings.TrimPrefix(f.Customer, "@"))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var tickets []models.Ticket
	if err := q.Order("updated_at DESC, id DESC").Limit(limit).Offset(f.Offset).Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("ticket: list: %w", err)
	}
	return tickets, nil
}

// Get returns a ticket with its articles in conversation order.
func (s *Service) Get(ctx context.Context, id uint) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.WithContext(ctx).
		Preload("Articles", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ticket: get %d: %w", id, err)
	}
	return &t, nil
}

// History returns the state transitions of a ticket, oldest first.
func (s *Service) History(ctx context.Context, id uint) ([]models.TicketHistory, error) {
	var h []models.TicketHistory
	if err := s.db.WithContext(ctx).Where("ticket_id = ?", id).Order("id ASC").Find(&h).Error; err != nil {
		return nil, fmt.Errorf("ticket: history %d: %w", id, err)
	}
	return h, nil
}

// SetState applies an agent state change. Setting the current state is a
// no-op.
func (s *Service) SetState(ctx context.Context, id uint, to models.TicketState) (*models.Ticket, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}

	var t models.Ticket
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrNotFound, id)
			}
			return fmt.Errorf("ticket: get %d: %w", id, err)
		}
		if t.State == to {
			return nil
		}
		if !isValidTransition(t.State, to) {
			return fmt.Errorf("%w: from %q to %q; valid transitions: %v", ErrInvalidTransition, t.State, to, ValidTransitions[t.State])
		}

		from := t.State
		now := s.now()
		updates := map[string]interface{}{"state": to, "updated_at": now}
		if to == models.TicketStateClosed {
			updates["closed_at"] = now
		} else {
			updates["closed_at"] = nil
		}
		if err := tx.Model(&t).Updates(updates).Error; err != nil {
			return fmt.Errorf("ticket: update %d: %w", id, err)
		}
		t.State = to
		if err := ingest.RecordTransition(tx, t.ID, from, to, ingest.HistorySourceAgent); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		log.Info().Uint("ticket_id", id).Str("state", string(t.State)).Msg("ticket state set")
		s.producer.ProduceTicketEvent(ctx, events.TicketStateChanged, map[string]interface{}{
			"ticket_id": t.ID,
			"state":     string(t.State),
			"source":    ingest.HistorySourceAgent,
		})
	}
	return &t, nil
}

func isValidTransition(from, to models.TicketState) bool {
	for _, v := range ValidTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// ArticleInput describes an agent article.
type ArticleInput struct {
	Body     string
	From     string  // agent handle; defaults to the channel account
	To       *string // direct message recipient override
	Kind     string  // status or direct_message; inferred from the ticket when empty
	Internal bool    // internal notes are stored and never published
}

// AddArticle stores an agent article and, unless it is internal, publishes
// it. Articles that cannot be routed are rejected before anything is stored.
// A publish failure is returned as *ingest.PublishError together with the
// stored article, which keeps no remote ID and can be published again later.
func (s *Service) AddArticle(ctx context.Context, ticketID uint, in ArticleInput) (*models.Article, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is required", ErrInvalidArticle)
	}
	switch in.Kind {
	case "", models.ArticleKindStatus, models.ArticleKindDirectMessage:
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidArticle, in.Kind)
	}
	if !in.Internal && s.publisher == nil {
		return nil, fmt.Errorf("ticket: no publisher configured")
	}

	var t models.Ticket
	if err := s.db.WithContext(ctx).First(&t, ticketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, ticketID)
		}
		return nil, fmt.Errorf("ticket: get %d: %w", ticketID, err)
	}
	from := in.From
	if from == "" {
		var ch models.Channel
		if err := s.db.WithContext(ctx).First(&ch, t.ChannelID).Error; err == nil {
			from = ch.Account
		}
	}
	kind := in.Kind
	if in.Internal {
		kind = models.ArticleKindNote
	}
	article := models.Article{
		TicketID: t.ID,
		Kind:     kind,
		Sender:   models.SenderAgent,
		From:     from,
		To:       in.To,
		Body:     body,
		Internal: in.Internal,
	}
	if !in.Internal {
		draft := article
		draft.Ticket = t
		if err := s.publisher.Check(ctx, &draft); err != nil {
			return nil, err
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		article.CreatedAt = now
		if err := tx.Create(&article).Error; err != nil {
			return fmt.Errorf("ticket: create article: %w", err)
		}
		res := tx.Model(&models.Ticket{}).Where("id = ?", t.ID).Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %d", ErrNotFound, ticketID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.producer.ProduceTicketEvent(ctx, events.ArticleCreated, map[string]interface{}{
		"ticket_id":  ticketID,
		"article_id": article.ID,
		"sender":     article.Sender,
		"internal":   article.Internal,
	})
	if article.Internal {
		return &article, nil
	}
	published, err := s.Publish(ctx, article.ID)
	if err != nil {
		return &article, err
	}
	return published, nil
}

// Publish publishes a stored agent article, e.g. to retry after a failure.
func (s *Service) Publish(ctx context.Context, articleID uint) (*models.Article, error) {
	if s.publisher == nil {
		return nil, fmt.Errorf("ticket: no publisher configured")
	}
	a, err := s.publisher.Publish(ctx, articleID)
	if err != nil {
		var pe *ingest.PublishError
		if errors.As(err, &pe) {
			log.Warn().Err(err).Uint("article_id", articleID).Msg("publish failed")
		}
		return nil, err
	}
	return a, nil
}
