// Package clients builds platform clients from channel configuration.
package clients

import (
	"fmt"
	"sync"

	"github.com/zulandar/socialdesk/internal/config"
	"github.com/zulandar/socialdesk/internal/models"
	"github.com/zulandar/socialdesk/internal/social"
	"github.com/zulandar/socialdesk/internal/social/discord"
	"github.com/zulandar/socialdesk/internal/social/slack"
	"github.com/zulandar/socialdesk/internal/social/twitter"
)

// Registry hands out one client per configured channel, built on first use.
// Credentials come from the config file; the channel row only names the
// channel.
type Registry struct {
	byName   map[string]config.ChannelConfig
	maxPages int

	mu    sync.Mutex
	cache map[string]social.Client
}

// NewRegistry indexes the configured channels by name.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		byName:   make(map[string]config.ChannelConfig, len(cfg.Channels)),
		maxPages: cfg.Sync.MaxPages,
		cache:    make(map[string]social.Client),
	}
	for _, ch := range cfg.Channels {
		r.byName[ch.Name] = ch
	}
	return r
}

// ForChannel returns the client for ch, building it if needed.
func (r *Registry) ForChannel(ch models.Channel) (social.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache[ch.Name]; ok {
		return c, nil
	}
	cc, ok := r.byName[ch.Name]
	if !ok {
		return nil, fmt.Errorf("clients: channel %q has no configuration", ch.Name)
	}
	c, err := r.build(cc)
	if err != nil {
		return nil, fmt.Errorf("clients: channel %q: %w", ch.Name, err)
	}
	r.cache[ch.Name] = c
	return c, nil
}

func (r *Registry) build(cc config.ChannelConfig) (social.Client, error) {
	switch cc.Platform {
	case config.PlatformTwitter:
		return twitter.New(twitter.ClientOpts{
			BearerToken: cc.Auth.BearerToken,
			BaseURL:     cc.Auth.BaseURL,
			MaxPages:    r.maxPages,
		})
	case config.PlatformSlack:
		return slack.New(slack.ClientOpts{
			BotToken:  cc.Auth.BotToken,
			UserToken: cc.Auth.UserToken,
			Channels:  cc.Auth.Channels,
			MaxPages:  r.maxPages,
		})
	case config.PlatformDiscord:
		return discord.New(discord.ClientOpts{
			BotToken: cc.Auth.BotToken,
			Channels: cc.Auth.Channels,
			MaxPages: r.maxPages,
		})
	}
	return nil, fmt.Errorf("unsupported platform %q", cc.Platform)
}
