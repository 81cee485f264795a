package ingest

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zulandar/socialdesk/internal/social"
	"golang.org/x/text/unicode/norm"
)

// Normalizer converts platform objects into InboundItems. It has no side
// effects.
type Normalizer struct {
	// ThreeByteUTF8 drops characters outside the Basic Multilingual Plane,
	// for stores limited to 3-byte UTF-8 columns.
	ThreeByteUTF8 bool
	// Now stamps ObservedAt; defaults to time.Now.
	Now func() time.Time
}

// NormalizePost converts a status post or mention. matched lists the search
// terms the post satisfied (empty for mentions).
func (n Normalizer) NormalizePost(kind Kind, p social.Post, matched []string) (InboundItem, error) {
	if kind != KindStatusPost && kind != KindMention {
		return InboundItem{}, fmt.Errorf("%w: post with kind %q", ErrInvalidItem, kind)
	}
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return InboundItem{}, fmt.Errorf("%w: post without id", ErrInvalidItem)
	}
	author := normalizeHandle(p.AuthorHandle)
	if author == "" {
		return InboundItem{}, fmt.Errorf("%w: post %s without author", ErrInvalidItem, id)
	}
	item := InboundItem{
		PlatformID: id,
		Kind:       kind,
		Author:     author,
		Body:       NormalizeText(p.Text, n.ThreeByteUTF8),
		InReplyTo:  optional(strings.TrimSpace(p.InReplyToID)),
		PostedAt:   p.CreatedAt,
		ObservedAt: n.now(),
	}
	if item.InReplyTo != nil {
		item.Recipient = optional(normalizeHandle(p.InReplyToHandle))
	}
	if len(matched) > 0 {
		item.MatchedTerms = append([]string(nil), matched...)
	}
	return item, nil
}

// NormalizeDirectMessage converts a direct message.
func (n Normalizer) NormalizeDirectMessage(dm social.DirectMessage) (InboundItem, error) {
	id := strings.TrimSpace(dm.ID)
	if id == "" {
		return InboundItem{}, fmt.Errorf("%w: direct message without id", ErrInvalidItem)
	}
	sender := normalizeHandle(dm.SenderHandle)
	if sender == "" {
		return InboundItem{}, fmt.Errorf("%w: direct message %s without sender", ErrInvalidItem, id)
	}
	return InboundItem{
		PlatformID: id,
		Kind:       KindDirectMessage,
		Author:     sender,
		Recipient:  optional(normalizeHandle(dm.RecipientHandle)),
		Body:       NormalizeText(dm.Text, n.ThreeByteUTF8),
		PostedAt:   dm.CreatedAt,
		ObservedAt: n.now(),
	}, nil
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// NormalizeText repairs invalid UTF-8 and strips NUL bytes; valid text is
// otherwise kept byte for byte, including its Unicode composition. With
// threeByte set, 4-byte sequences (emoji and other astral characters) are
// dropped.
func NormalizeText(s string, threeByte bool) string {
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	s = strings.ReplaceAll(s, "\x00", "")
	if !threeByte {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if utf8.RuneLen(r) < 4 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldText is the comparison form of s: NFC-composed and lower-cased. It is
// never stored.
func foldText(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

// normalizeHandle strips whitespace and a leading "@". Case is kept since
// some platforms address users by case-sensitive IDs; comparisons between
// handles are case-insensitive.
func normalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}

// optional returns nil for an empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
