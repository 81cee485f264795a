package models

import "time"

// Channel stores a configured social account and its sync routing rules.
// Options holds the JSON-encoded sync section (search terms, mentions and
// direct message groups); credentials are never persisted.
type Channel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:64;not null;uniqueIndex"`
	Platform  string `gorm:"size:16;not null;index"`
	Account   string `gorm:"size:128;not null"`
	Active    bool   `gorm:"index"`
	Options   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
