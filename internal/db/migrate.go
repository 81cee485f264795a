package db

import (
	"encoding/json"
	"fmt"

	"github.com/zulandar/socialdesk/internal/config"
	"github.com/zulandar/socialdesk/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Group{},
		&models.Channel{},
		&models.Ticket{},
		&models.Article{},
		&models.TicketHistory{},
		&models.ChannelLock{},
		&models.SyncRun{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedGroups upserts Group rows from configuration.
func SeedGroups(db *gorm.DB, groups []config.GroupConfig) error {
	for _, gc := range groups {
		group := models.Group{ID: gc.ID, Name: gc.Name}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&group)
		if result.Error != nil {
			return fmt.Errorf("db: seed group %q: %w", gc.Name, result.Error)
		}
	}
	return nil
}

// SeedChannels upserts Channel rows from configuration. Only the routing
// rules are stored; credentials stay in the config file.
func SeedChannels(db *gorm.DB, channels []config.ChannelConfig) error {
	for _, cc := range channels {
		options, err := marshalJSON(ChannelOptionsFromConfig(cc))
		if err != nil {
			return fmt.Errorf("db: marshal options for channel %q: %w", cc.Name, err)
		}

		ch := models.Channel{
			Name:     cc.Name,
			Platform: cc.Platform,
			Account:  cc.Account,
			Active:   cc.IsActive(),
			Options:  options,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"platform", "account", "active", "options", "updated_at"}),
		}).Create(&ch)
		if result.Error != nil {
			return fmt.Errorf("db: seed channel %q: %w", cc.Name, result.Error)
		}
	}
	return nil
}

// ChannelOptions is the persisted form of a channel's sync section.
type ChannelOptions struct {
	Search        []config.SearchConfig `json:"search"`
	MentionsGroup uint                  `json:"mentions_group_id"`
	DMGroup       uint                  `json:"direct_messages_group_id"`
	ThreeByteUTF8 bool                  `json:"three_byte_utf8,omitempty"`
}

// ChannelOptionsFromConfig extracts the persisted options from a channel config.
func ChannelOptionsFromConfig(cc config.ChannelConfig) ChannelOptions {
	return ChannelOptions{
		Search:        cc.Sync.Search,
		MentionsGroup: cc.Sync.Mentions.GroupID,
		DMGroup:       cc.Sync.DirectMessages.GroupID,
		ThreeByteUTF8: cc.ThreeByteUTF8,
	}
}

// DecodeChannelOptions parses a channel's Options column.
func DecodeChannelOptions(ch models.Channel) (ChannelOptions, error) {
	var opts ChannelOptions
	if ch.Options == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(ch.Options), &opts); err != nil {
		return opts, fmt.Errorf("db: decode options for channel %q: %w", ch.Name, err)
	}
	return opts, nil
}

// marshalJSON marshals a value to a JSON string, returning empty string for nil.
func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
