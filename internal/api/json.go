package api

import (
	"time"

	"github.com/zulandar/socialdesk/internal/models"
)

type ticketJSON struct {
	ID             uint          `json:"id"`
	Title          string        `json:"title"`
	GroupID        uint          `json:"group_id"`
	ChannelID      uint          `json:"channel_id"`
	CustomerHandle string        `json:"customer"`
	State          string        `json:"state"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ClosedAt       *time.Time    `json:"closed_at,omitempty"`
	Articles       []articleJSON `json:"articles,omitempty"`
}

type articleJSON struct {
	ID        uint      `json:"id"`
	TicketID  uint      `json:"ticket_id"`
	MessageID *string   `json:"message_id"`
	InReplyTo *string   `json:"in_reply_to,omitempty"`
	Kind      string    `json:"kind"`
	Sender    string    `json:"sender"`
	From      string    `json:"from"`
	To        *string   `json:"to,omitempty"`
	Body      string    `json:"body"`
	Internal  bool      `json:"internal"`
	CreatedAt time.Time `json:"created_at"`
}

type historyJSON struct {
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Source    string    `json:"source"`
	ArticleID *uint     `json:"article_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toTicketJSON(t *models.Ticket) ticketJSON {
	out := ticketJSON{
		ID:             t.ID,
		Title:          t.Title,
		GroupID:        t.GroupID,
		ChannelID:      t.ChannelID,
		CustomerHandle: t.CustomerHandle,
		State:          string(t.State),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		ClosedAt:       t.ClosedAt,
	}
	for i := range t.Articles {
		out.Articles = append(out.Articles, toArticleJSON(&t.Articles[i]))
	}
	return out
}

func toArticleJSON(a *models.Article) articleJSON {
	return articleJSON{
		ID:        a.ID,
		TicketID:  a.TicketID,
		MessageID: a.MessageID,
		InReplyTo: a.InReplyTo,
		Kind:      a.Kind,
		Sender:    a.Sender,
		From:      a.From,
		To:        a.To,
		Body:      a.Body,
		Internal:  a.Internal,
		CreatedAt: a.CreatedAt,
	}
}
