package models

import "time"

// ChannelLock is the per-channel fetch lock. One row exists per channel;
// an empty Holder means the lock is free. A holder whose heartbeat is older
// than the lock timeout may be displaced.
type ChannelLock struct {
	ChannelID     uint   `gorm:"primaryKey;autoIncrement:false"`
	Holder        string `gorm:"size:64;index"`
	AcquiredAt    *time.Time
	LastHeartbeat time.Time `gorm:"index"`
}

// SyncRun records the outcome of one fetch cycle for a channel.
type SyncRun struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"size:36;not null;uniqueIndex"`
	ChannelID   uint   `gorm:"not null;index"`
	Status      string `gorm:"size:16;not null;index"` // running, completed, skipped, failed
	Imported    int
	Duplicates  int
	Failed      int
	SourceErrs  int
	Error       string `gorm:"type:text"`
	StartedAt   time.Time
	CompletedAt *time.Time
}
