// Package ingest imports social platform items into tickets: it normalizes
// inbound items, skips already imported ones, threads follow-ups into
// existing tickets, drives the ticket lifecycle and publishes agent replies
// back to the platform.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/socialdesk/internal/db"
	"github.com/zulandar/socialdesk/internal/models"
)

// Kind identifies the kind of a remote item.
type Kind string

const (
	KindStatusPost    Kind = "status_post"
	KindMention       Kind = "mention"
	KindDirectMessage Kind = "direct_message"
)

// articleKind maps an item kind to the article kind it is stored as.
func (k Kind) articleKind() string {
	switch k {
	case KindMention:
		return models.ArticleKindMention
	case KindDirectMessage:
		return models.ArticleKindDirectMessage
	default:
		return models.ArticleKindStatus
	}
}

// InboundItem is the canonical form of one remote event.
type InboundItem struct {
	PlatformID   string
	Kind         Kind
	Author       string
	Recipient    *string // set only for direct messages and reply posts
	Body         string
	InReplyTo    *string
	MatchedTerms []string // search terms the item satisfied, in channel order
	PostedAt     time.Time
	ObservedAt   time.Time
}

// SearchTerm routes posts matching Term to GroupID.
type SearchTerm struct {
	Term    string
	GroupID uint
}

// ChannelConfig is the sync configuration of one channel.
type ChannelConfig struct {
	ID                    uint
	Name                  string
	Platform              string
	Account               string
	Active                bool
	SearchTerms           []SearchTerm
	MentionsGroupID       uint
	DirectMessagesGroupID uint
	ThreeByteUTF8         bool
}

// ChannelConfigFromModel decodes a persisted channel row.
func ChannelConfigFromModel(ch models.Channel) (ChannelConfig, error) {
	opts, err := db.DecodeChannelOptions(ch)
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("ingest: %w", err)
	}
	cc := ChannelConfig{
		ID:                    ch.ID,
		Name:                  ch.Name,
		Platform:              ch.Platform,
		Account:               normalizeHandle(ch.Account),
		Active:                ch.Active,
		MentionsGroupID:       opts.MentionsGroup,
		DirectMessagesGroupID: opts.DMGroup,
		ThreeByteUTF8:         opts.ThreeByteUTF8,
	}
	for _, s := range opts.Search {
		cc.SearchTerms = append(cc.SearchTerms, SearchTerm{Term: s.Term, GroupID: s.GroupID})
	}
	return cc, nil
}

// matchTerms returns the configured terms contained in text, in declared
// order. The term a post was fetched for always comes first.
func (c ChannelConfig) matchTerms(fetchedFor, text string) []string {
	matched := []string{fetchedFor}
	folded := foldText(text)
	for _, st := range c.SearchTerms {
		if st.Term == fetchedFor {
			continue
		}
		if strings.Contains(folded, foldText(st.Term)) {
			matched = append(matched, st.Term)
		}
	}
	return matched
}

// groupForTerm returns the target group of a configured search term.
func (c ChannelConfig) groupForTerm(term string) (uint, bool) {
	for _, st := range c.SearchTerms {
		if st.Term == term {
			return st.GroupID, true
		}
	}
	return 0, false
}
