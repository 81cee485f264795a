// Package social defines the contract between the ingestion engine and a
// social platform (Twitter, Slack, Discord, ...).
package social

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by clients for operations their platform does
// not offer.
var ErrUnsupported = errors.New("social: operation not supported by platform")

// Client is the interface that platform-specific implementations must
// satisfy. Credentials are supplied when the client is built; the engine
// treats a Client as an already-authorized handle.
type Client interface {
	// FetchStatusSearch returns recent public posts matching term.
	FetchStatusSearch(ctx context.Context, term string) ([]Post, error)

	// FetchMentions returns recent posts mentioning handle.
	FetchMentions(ctx context.Context, handle string) ([]Post, error)

	// FetchDirectMessages returns recent direct messages of the account.
	FetchDirectMessages(ctx context.Context) ([]DirectMessage, error)

	// PublishReply posts body as a reply to the remote post inReplyTo, or as
	// a new status when inReplyTo is empty. Returns the remote post ID.
	PublishReply(ctx context.Context, body, inReplyTo string) (string, error)

	// PublishDirectMessage sends body to recipient. Returns the remote ID.
	PublishDirectMessage(ctx context.Context, recipient, body string) (string, error)
}

// Post is a public status as reported by the platform. Empty reply fields
// mean the post is not a reply.
type Post struct {
	ID              string
	AuthorHandle    string
	Text            string
	InReplyToID     string
	InReplyToHandle string
	CreatedAt       time.Time
}

// DirectMessage is a private message as reported by the platform.
type DirectMessage struct {
	ID              string
	SenderHandle    string
	RecipientHandle string
	Text            string
	CreatedAt       time.Time
}
