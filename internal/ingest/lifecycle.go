package ingest

import (
	"fmt"
	"time"

	"github.com/zulandar/socialdesk/internal/models"
	"gorm.io/gorm"
)

// History sources.
const (
	HistorySourceInbound = "inbound"
	HistorySourceAgent   = "agent"
)

// InitialState is the state of a ticket created from an inbound item.
const InitialState = models.TicketStateNew

// AcceptsInbound reports whether an inbound item may be appended to a ticket
// in state s. A closed thread is concluded: the item starts a new ticket.
func AcceptsInbound(s models.TicketState) bool {
	return s != models.TicketStateClosed
}

// StateAfterInbound returns the state a ticket moves to when an inbound item
// is appended. Callers must check AcceptsInbound first.
func StateAfterInbound(s models.TicketState) models.TicketState {
	switch s {
	case models.TicketStateNew, models.TicketStatePendingReminder:
		return models.TicketStateOpen
	default:
		return s
	}
}

// claimInbound advances ticket for an appended inbound item and bumps its
// UpdatedAt, but only if the stored state still equals ticket.State. It
// returns the previous state and false when an agent changed the ticket
// since it was read, in which case nothing is written. Runs inside the
// item's transaction.
func claimInbound(tx *gorm.DB, ticket *models.Ticket, now time.Time) (models.TicketState, bool, error) {
	from := ticket.State
	if !AcceptsInbound(from) {
		return from, false, nil
	}
	to := StateAfterInbound(from)
	res := tx.Model(&models.Ticket{}).
		Where("id = ? AND state = ?", ticket.ID, from).
		Updates(map[string]interface{}{
			"state":      to,
			"updated_at": now,
		})
	if res.Error != nil {
		return from, false, fmt.Errorf("ingest: advance ticket %d: %w", ticket.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return from, false, nil
	}
	ticket.State = to
	ticket.UpdatedAt = now
	return from, true, nil
}

// RecordTransition writes a ticket history row.
func RecordTransition(tx *gorm.DB, ticketID uint, from, to models.TicketState, source string) error {
	return recordTransition(tx, ticketID, from, to, source, nil, time.Now())
}

func recordTransition(tx *gorm.DB, ticketID uint, from, to models.TicketState, source string, articleID *uint, now time.Time) error {
	h := models.TicketHistory{
		TicketID:  ticketID,
		FromState: from,
		ToState:   to,
		Source:    source,
		ArticleID: articleID,
		CreatedAt: now,
	}
	if err := tx.Create(&h).Error; err != nil {
		return fmt.Errorf("ingest: record transition for ticket %d: %w", ticketID, err)
	}
	return nil
}
