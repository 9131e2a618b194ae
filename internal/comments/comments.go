// Package comments maps user-selected text ranges to durable comment
// records, keeps that mapping honest as the document changes, and removes
// comments whose anchor text has been deleted.
package comments

import (
	"context"
	"errors"
	"time"

	"hearth/api/internal/richtext"
)

// Comment is one anchored comment. AnchorText and Position are denormalized
// copies taken at creation time: the text is kept for display even after the
// mark is lost, and the position goes stale as the document is edited. The
// mark in the live document is the source of truth for visibility.
type Comment struct {
	ID         string
	DocumentID string
	AuthorID   string
	AuthorName string
	Content    string
	AnchorText string
	Position   richtext.Range
	CreatedAt  time.Time
}

// Store persists comment records. Every call is independently failable.
type Store interface {
	List(ctx context.Context, documentID string) ([]Comment, error)
	Create(ctx context.Context, comment Comment) (string, error)
	Update(ctx context.Context, commentID, content string) error
	Delete(ctx context.Context, commentID string) error
}

// Surface is the editing-surface capability the manager consumes: reading
// anchored text, attaching and enumerating comment marks, and serializing
// the document for a forced commit.
type Surface interface {
	GetSelection() richtext.Range
	TextBetween(r richtext.Range) string
	ApplyMark(r richtext.Range, commentID string)
	RemoveMark(commentID string)
	WalkMarks() []richtext.MarkSpan
	MarkIDsAt(pos int) []string
	Serialize() string
}

// Committer commits a content snapshot immediately, bypassing any debounce.
type Committer interface {
	ForceCommit(ctx context.Context, content string) error
}

// ErrEmptyRange rejects comment creation over a collapsed selection; a
// comment must anchor non-empty text. No store interaction happens.
var ErrEmptyRange = errors.New("comments: cannot anchor an empty range")

// ErrNoSnapshot is returned when creating from a snapshot that was never
// captured or was already consumed.
var ErrNoSnapshot = errors.New("comments: no selection snapshot held")
