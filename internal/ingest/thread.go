package ingest

import (
	"errors"
	"fmt"

	"github.com/zulandar/socialdesk/internal/models"
	"gorm.io/gorm"
)

// Resolution is the outcome of threading one item. A nil Ticket means the
// item starts a new ticket in GroupID.
type Resolution struct {
	Ticket    *models.Ticket
	GroupID   uint
	Reason    string
	Ambiguous bool
}

// ThreadResolver decides whether an inbound item continues an existing
// ticket or starts a new one.
type ThreadResolver struct{}

// Resolve threads item for channel ch. Reads go through tx so the decision
// is consistent with the writes that follow it.
//
// Direct messages continue the most recently updated non-closed ticket in
// the direct message group that already exchanged messages with the same
// counter-party; mentions do the same in the mentions group. Posts that
// reply to an imported article continue that article's ticket unless it is
// closed, in which case a new ticket opens in the same group. Everything
// else opens a ticket in the group of the first matched search term.
func (ThreadResolver) Resolve(tx *gorm.DB, item InboundItem, ch ChannelConfig) (Resolution, error) {
	switch item.Kind {
	case KindDirectMessage:
		if ch.DirectMessagesGroupID == 0 {
			return Resolution{}, fmt.Errorf("%w: direct message %s", ErrNoRoute, item.PlatformID)
		}
		return byCounterParty(tx, item, ch, ch.DirectMessagesGroupID,
			[]string{models.ArticleKindDirectMessage})

	case KindMention:
		if res, ok, err := byReply(tx, item); err != nil || ok {
			return res, err
		}
		if ch.MentionsGroupID == 0 {
			return Resolution{}, fmt.Errorf("%w: mention %s", ErrNoRoute, item.PlatformID)
		}
		return byCounterParty(tx, item, ch, ch.MentionsGroupID,
			[]string{models.ArticleKindMention, models.ArticleKindStatus})

	case KindStatusPost:
		if res, ok, err := byReply(tx, item); err != nil || ok {
			return res, err
		}
		for _, term := range item.MatchedTerms {
			if group, ok := ch.groupForTerm(term); ok && group != 0 {
				return Resolution{GroupID: group, Reason: "search term " + term}, nil
			}
		}
		return Resolution{}, fmt.Errorf("%w: post %s matched no search term", ErrNoRoute, item.PlatformID)
	}
	return Resolution{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, item.Kind)
}

// byReply threads an item that replies to an already imported article.
func byReply(tx *gorm.DB, item InboundItem) (Resolution, bool, error) {
	if item.InReplyTo == nil {
		return Resolution{}, false, nil
	}
	var parent models.Article
	err := tx.Preload("Ticket").Where("message_id = ?", *item.InReplyTo).First(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, fmt.Errorf("ingest: resolve reply %s: %w", *item.InReplyTo, err)
	}
	ticket := parent.Ticket
	if !AcceptsInbound(ticket.State) {
		return Resolution{
			GroupID: ticket.GroupID,
			Reason:  fmt.Sprintf("reply to closed ticket %d", ticket.ID),
		}, true, nil
	}
	return Resolution{
		Ticket:  &ticket,
		GroupID: ticket.GroupID,
		Reason:  "reply to " + *item.InReplyTo,
	}, true, nil
}

// byCounterParty finds the most recently updated open conversation with the
// item's author in group.
func byCounterParty(tx *gorm.DB, item InboundItem, ch ChannelConfig, group uint, kinds []string) (Resolution, error) {
	var candidates []models.Ticket
	err := tx.Model(&models.Ticket{}).
		Where("group_id = ? AND channel_id = ? AND state <> ?", group, ch.ID, models.TicketStateClosed).
		Where("EXISTS (SELECT 1 FROM articles WHERE articles.ticket_id = tickets.id AND articles.kind IN ? "+
			"AND (LOWER(articles.from_handle) = LOWER(?) OR LOWER(articles.to_handle) = LOWER(?)))",
			kinds, item.Author, item.Author).
		Order("updated_at DESC").Order("id DESC").
		Limit(2).
		Find(&candidates).Error
	if err != nil {
		return Resolution{}, fmt.Errorf("ingest: resolve counter-party %s: %w", item.Author, err)
	}

	switch {
	case len(candidates) == 0:
		return Resolution{GroupID: group, Reason: "new conversation with " + item.Author}, nil
	case len(candidates) == 2 && candidates[0].UpdatedAt.Equal(candidates[1].UpdatedAt):
		return Resolution{
			GroupID:   group,
			Reason:    fmt.Sprintf("tickets %d and %d tie on recency", candidates[0].ID, candidates[1].ID),
			Ambiguous: true,
		}, nil
	}
	t := candidates[0]
	return Resolution{
		Ticket:  &t,
		GroupID: group,
		Reason:  "conversation with " + item.Author,
	}, nil
}
