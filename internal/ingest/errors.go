package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateItem reports that a remote item was already imported. It
	// short-circuits processing and is never escalated.
	ErrDuplicateItem = errors.New("ingest: item already imported")

	// ErrThreadAmbiguous reports that the tie-break could not pick a single
	// ticket. The item starts a new ticket instead.
	ErrThreadAmbiguous = errors.New("ingest: thread resolution ambiguous")

	// ErrLockHeld reports that another cycle holds the channel lock.
	ErrLockHeld = errors.New("ingest: channel lock held")

	// ErrInvalidItem reports a remote item that cannot be normalized.
	ErrInvalidItem = errors.New("ingest: invalid item")

	// ErrNoRoute reports an item no configured group accepts.
	ErrNoRoute = errors.New("ingest: no route for item")

	// ErrAlreadyPublished reports an article that already carries a remote ID.
	ErrAlreadyPublished = errors.New("ingest: article already published")

	// ErrNotPublishable reports an internal or non-agent article.
	ErrNotPublishable = errors.New("ingest: article is not publishable")
)

// TransportError wraps a failed or timed-out fetch of one source. The source
// is skipped for the current cycle and retried on the next one.
type TransportError struct {
	Source string
	Term   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Term != "" {
		return fmt.Sprintf("ingest: fetch %s %q: %v", e.Source, e.Term, e.Err)
	}
	return fmt.Sprintf("ingest: fetch %s: %v", e.Source, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PublishError wraps a failed outbound publish. It is returned to the caller
// and never retried automatically.
type PublishError struct {
	ArticleID uint
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("ingest: publish article %d: %v", e.ArticleID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
