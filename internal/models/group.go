package models

import "time"

// Group is a routing target for tickets (e.g. "Users", "Twitter").
type Group struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null;uniqueIndex"`
	CreatedAt time.Time
}
