package ingest

import (
	"fmt"
	"time"

	"github.com/zulandar/socialdesk/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLockTimeout is the duration after which a lock holder's heartbeat
// is considered stale and the lock can be reclaimed.
const DefaultLockTimeout = 5 * time.Minute

// AcquireChannelLock takes the fetch lock of a channel for holder. The lock
// row is created on first use; a holder whose heartbeat is older than
// timeout is displaced. Returns an error wrapping ErrLockHeld if another
// holder owns the lock. The update is conditional, so two concurrent
// callers can never both succeed.
func AcquireChannelLock(db *gorm.DB, channelID uint, holder string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		row := models.ChannelLock{ChannelID: channelID, LastHeartbeat: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("ensure lock row: %w", err)
		}

		cutoff := now.Add(-timeout)
		result := tx.Model(&models.ChannelLock{}).
			Where("channel_id = ? AND (holder = ? OR holder IS NULL OR last_heartbeat < ?)", channelID, "", cutoff).
			Updates(map[string]interface{}{
				"holder":         holder,
				"acquired_at":    now,
				"last_heartbeat": now,
			})
		if result.Error != nil {
			return fmt.Errorf("take lock: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var existing models.ChannelLock
			if err := tx.First(&existing, "channel_id = ?", channelID).Error; err != nil {
				return fmt.Errorf("check existing lock: %w", err)
			}
			return fmt.Errorf("%w by %q", ErrLockHeld, existing.Holder)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest: acquire lock for channel %d: %w", channelID, err)
	}
	return nil
}

// ReleaseChannelLock frees the lock if holder still owns it.
func ReleaseChannelLock(db *gorm.DB, channelID uint, holder string) error {
	result := db.Model(&models.ChannelLock{}).
		Where("channel_id = ? AND holder = ?", channelID, holder).
		Updates(map[string]interface{}{
			"holder":      "",
			"acquired_at": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("ingest: release lock for channel %d: %w", channelID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ingest: release lock for channel %d: not held by %q", channelID, holder)
	}
	return nil
}

// HeartbeatChannelLock refreshes the heartbeat of a held lock.
func HeartbeatChannelLock(db *gorm.DB, channelID uint, holder string) error {
	result := db.Model(&models.ChannelLock{}).
		Where("channel_id = ? AND holder = ?", channelID, holder).
		Update("last_heartbeat", time.Now())
	if result.Error != nil {
		return fmt.Errorf("ingest: heartbeat lock for channel %d: %w", channelID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ingest: heartbeat lock for channel %d: not held by %q", channelID, holder)
	}
	return nil
}
