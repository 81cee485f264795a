package models

import "time"

// TicketState is the lifecycle state of a ticket.
type TicketState string

const (
	TicketStateNew             TicketState = "new"
	TicketStateOpen            TicketState = "open"
	TicketStatePendingReminder TicketState = "pending_reminder"
	TicketStateClosed          TicketState = "closed"
)

// Valid reports whether s is a known ticket state.
func (s TicketState) Valid() bool {
	switch s {
	case TicketStateNew, TicketStateOpen, TicketStatePendingReminder, TicketStateClosed:
		return true
	}
	return false
}

// Ticket is a conversation aggregate. Articles are ordered by ID, which is
// the conversation order.
type Ticket struct {
	ID             uint        `gorm:"primaryKey;autoIncrement"`
	Title          string      `gorm:"size:255;not null"`
	GroupID        uint        `gorm:"not null;index:idx_ticket_group_state"`
	ChannelID      uint        `gorm:"index"`
	CustomerHandle string      `gorm:"size:128;index"`
	State          TicketState `gorm:"size:32;not null;default:new;index:idx_ticket_group_state"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
	ClosedAt       *time.Time

	Articles []Article `gorm:"foreignKey:TicketID"`
}

// Article kinds.
const (
	ArticleKindStatus        = "status"
	ArticleKindMention       = "mention"
	ArticleKindDirectMessage = "direct_message"
	ArticleKindNote          = "note"
)

// Article senders.
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderSystem   = "system"
)

// Article is one message within a ticket. MessageID carries the remote
// platform identifier and is unique across all articles; it is NULL for
// local notes and for outbound articles not yet published.
type Article struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	TicketID  uint    `gorm:"not null;index"`
	MessageID *string `gorm:"size:191;uniqueIndex"`
	InReplyTo *string `gorm:"size:191;index"`
	Kind      string  `gorm:"size:16;not null"`
	Sender    string  `gorm:"size:16;not null"`
	From      string  `gorm:"column:from_handle;size:128;index"`
	To        *string `gorm:"column:to_handle;size:128;index"`
	Body      string  `gorm:"type:text"`
	Internal  bool    `gorm:"default:false"`
	CreatedAt time.Time

	Ticket Ticket `gorm:"foreignKey:TicketID"`
}

// TicketHistory records one state transition and who caused it.
type TicketHistory struct {
	ID        uint        `gorm:"primaryKey;autoIncrement"`
	TicketID  uint        `gorm:"not null;index"`
	FromState TicketState `gorm:"size:32"`
	ToState   TicketState `gorm:"size:32;not null"`
	Source    string      `gorm:"size:16;not null"` // "inbound" or "agent"
	ArticleID *uint
	CreatedAt time.Time
}
