package clients

import (
	"strings"
	"testing"

	"github.com/zulandar/socialdesk/internal/config"
	"github.com/zulandar/socialdesk/internal/models"
	"github.com/zulandar/socialdesk/internal/social/discord"
	"github.com/zulandar/socialdesk/internal/social/slack"
	"github.com/zulandar/socialdesk/internal/social/twitter"
)

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{MaxPages: 2},
		Channels: []config.ChannelConfig{
			{Name: "tw", Platform: config.PlatformTwitter, Account: "desk", Auth: config.AuthConfig{BearerToken: "t"}},
			{Name: "sl", Platform: config.PlatformSlack, Account: "desk", Auth: config.AuthConfig{BotToken: "xoxb-1"}},
			{Name: "dc", Platform: config.PlatformDiscord, Account: "desk", Auth: config.AuthConfig{BotToken: "abc", Channels: []string{"C1"}}},
			{Name: "nokey", Platform: config.PlatformTwitter, Account: "desk"},
		},
	}
}

func TestForChannel_BuildsPerPlatform(t *testing.T) {
	r := NewRegistry(testConfig())

	c, err := r.ForChannel(models.Channel{Name: "tw"})
	if err != nil {
		t.Fatalf("twitter: %v", err)
	}
	if _, ok := c.(*twitter.Client); !ok {
		t.Errorf("tw client = %T, want *twitter.Client", c)
	}

	c, err = r.ForChannel(models.Channel{Name: "sl"})
	if err != nil {
		t.Fatalf("slack: %v", err)
	}
	if _, ok := c.(*slack.Client); !ok {
		t.Errorf("sl client = %T, want *slack.Client", c)
	}

	c, err = r.ForChannel(models.Channel{Name: "dc"})
	if err != nil {
		t.Fatalf("discord: %v", err)
	}
	if _, ok := c.(*discord.Client); !ok {
		t.Errorf("dc client = %T, want *discord.Client", c)
	}
}

func TestForChannel_Caches(t *testing.T) {
	r := NewRegistry(testConfig())
	a, err := r.ForChannel(models.Channel{Name: "tw"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.ForChannel(models.Channel{Name: "tw"})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("expected the cached client on second call")
	}
}

func TestForChannel_Errors(t *testing.T) {
	r := NewRegistry(testConfig())

	_, err := r.ForChannel(models.Channel{Name: "unknown"})
	if err == nil || !strings.Contains(err.Error(), "has no configuration") {
		t.Errorf("err = %v, want has no configuration", err)
	}

	_, err = r.ForChannel(models.Channel{Name: "nokey"})
	if err == nil || !strings.Contains(err.Error(), "bearer token is required") {
		t.Errorf("err = %v, want bearer token is required", err)
	}
}
