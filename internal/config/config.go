// Package config provides YAML-based configuration loading for socialdesk.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported social platforms.
const (
	PlatformTwitter = "twitter"
	PlatformSlack   = "slack"
	PlatformDiscord = "discord"
)

// Config is the top-level socialdesk configuration, loaded from socialdesk.yaml.
type Config struct {
	Database DatabaseConfig  `yaml:"database"`
	Log      LogConfig       `yaml:"log"`
	Sync     SyncConfig      `yaml:"sync"`
	API      APIConfig       `yaml:"api"`
	Events   EventsConfig    `yaml:"events"`
	Groups   []GroupConfig   `yaml:"groups"`
	Channels []ChannelConfig `yaml:"channels"`
}

// DatabaseConfig holds connection settings for the ticket store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite only
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// SyncConfig controls the fetch scheduler and cycle bounds.
type SyncConfig struct {
	Schedule        string `yaml:"schedule"` // 5-field cron expression
	FetchTimeoutSec int    `yaml:"fetch_timeout_sec"`
	LockTimeoutSec  int    `yaml:"lock_timeout_sec"`
	MaxPages        int    `yaml:"max_pages"`
}

// APIConfig configures the ticket-management HTTP surface.
type APIConfig struct {
	Port int `yaml:"port"`
}

// EventsConfig configures the ticket event producer. Empty brokers disable it.
type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	Topic        string   `yaml:"topic"`
}

// GroupConfig is a ticket group seeded at db init.
type GroupConfig struct {
	ID   uint   `yaml:"id"`
	Name string `yaml:"name"`
}

// ChannelConfig defines one social account to sync.
type ChannelConfig struct {
	Name          string      `yaml:"name"`
	Platform      string      `yaml:"platform"`
	Account       string      `yaml:"account"`
	Active        *bool       `yaml:"active"`
	ThreeByteUTF8 bool        `yaml:"three_byte_utf8"`
	Auth          AuthConfig  `yaml:"auth"`
	Sync          ChannelSync `yaml:"sync"`
}

// IsActive reports whether the channel is enabled. Channels default to active.
func (c ChannelConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

// AuthConfig carries opaque platform credentials.
type AuthConfig struct {
	BearerToken string   `yaml:"bearer_token"` // twitter
	BotToken    string   `yaml:"bot_token"`    // slack, discord
	UserToken   string   `yaml:"user_token"`   // slack search
	BaseURL     string   `yaml:"base_url"`     // twitter API override
	Channels    []string `yaml:"channels"`     // slack/discord channels to scan
}

// ChannelSync holds the routing rules for a channel.
type ChannelSync struct {
	Search         []SearchConfig `yaml:"search"`
	Mentions       RouteConfig    `yaml:"mentions"`
	DirectMessages RouteConfig    `yaml:"direct_messages"`
}

// SearchConfig maps a search term to its target group.
type SearchConfig struct {
	Term    string `yaml:"term"`
	GroupID uint   `yaml:"group_id"`
}

// RouteConfig routes a source to a group.
type RouteConfig struct {
	GroupID uint `yaml:"group_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
// Variables from .env files next to the working directory are loaded first
// so that ${VAR} references in the file can resolve secrets.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands environment references, unmarshals YAML bytes and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMySQL
	}
	switch c.Database.Driver {
	case DriverMySQL:
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	case DriverPostgres:
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.User == "" {
			c.Database.User = "postgres"
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			c.Database.Path = "socialdesk.db"
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "socialdesk"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "* * * * *"
	}
	if c.Sync.FetchTimeoutSec == 0 {
		c.Sync.FetchTimeoutSec = 30
	}
	if c.Sync.LockTimeoutSec == 0 {
		c.Sync.LockTimeoutSec = 300
	}
	if c.Sync.MaxPages == 0 {
		c.Sync.MaxPages = 3
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Events.Topic == "" {
		c.Events.Topic = "socialdesk.tickets"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}

	groups := make(map[uint]bool, len(c.Groups))
	for i, g := range c.Groups {
		if g.ID == 0 {
			errs = append(errs, fmt.Sprintf("groups[%d].id is required", i))
		}
		if g.Name == "" {
			errs = append(errs, fmt.Sprintf("groups[%d].name is required", i))
		}
		groups[g.ID] = true
	}
	knownGroup := func(id uint) bool {
		// Without a groups section the groups are managed elsewhere.
		return len(c.Groups) == 0 || groups[id]
	}

	names := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Name == "" {
			errs = append(errs, fmt.Sprintf("channels[%d].name is required", i))
		} else if names[ch.Name] {
			errs = append(errs, fmt.Sprintf("channels[%d].name %q is duplicated", i, ch.Name))
		}
		names[ch.Name] = true

		switch ch.Platform {
		case PlatformTwitter, PlatformSlack, PlatformDiscord:
		default:
			errs = append(errs, fmt.Sprintf("channels[%d].platform %q is not supported", i, ch.Platform))
		}
		if ch.Account == "" {
			errs = append(errs, fmt.Sprintf("channels[%d].account is required", i))
		}
		for j, s := range ch.Sync.Search {
			if strings.TrimSpace(s.Term) == "" {
				errs = append(errs, fmt.Sprintf("channels[%d].sync.search[%d].term is required", i, j))
			}
			if s.GroupID == 0 || !knownGroup(s.GroupID) {
				errs = append(errs, fmt.Sprintf("channels[%d].sync.search[%d].group_id %d is unknown", i, j, s.GroupID))
			}
		}
		if g := ch.Sync.Mentions.GroupID; g != 0 && !knownGroup(g) {
			errs = append(errs, fmt.Sprintf("channels[%d].sync.mentions.group_id %d is unknown", i, g))
		}
		if g := ch.Sync.DirectMessages.GroupID; g != 0 && !knownGroup(g) {
			errs = append(errs, fmt.Sprintf("channels[%d].sync.direct_messages.group_id %d is unknown", i, g))
		}
		if ch.Platform == PlatformDiscord && ch.Sync.DirectMessages.GroupID != 0 {
			errs = append(errs, fmt.Sprintf("channels[%d].sync.direct_messages is not supported on discord", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
