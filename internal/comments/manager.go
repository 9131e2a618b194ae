package comments

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"hearth/api/internal/richtext"
)

// DefaultSweepDelay is how long after the last local mutation the orphan
// sweep runs.
const DefaultSweepDelay = 3 * time.Second

// Options tunes a Manager.
type Options struct {
	// SweepDelay overrides DefaultSweepDelay when positive.
	SweepDelay time.Duration
}

// Manager owns the comments of one document: creation, editing, deletion,
// tap resolution and the orphan sweep.
type Manager struct {
	surface    Surface
	store      Store
	committer  Committer
	documentID string
	sweepDelay time.Duration
	snapshot   SelectionSnapshot

	mu         sync.Mutex
	known      map[string]Comment
	sweepTimer *time.Timer
	ctx        context.Context
}

// NewManager creates a manager for documentID. Call Load before use so the
// sweep knows which comments exist.
func NewManager(surface Surface, store Store, committer Committer, documentID string, opts Options) *Manager {
	delay := opts.SweepDelay
	if delay <= 0 {
		delay = DefaultSweepDelay
	}
	return &Manager{
		surface:    surface,
		store:      store,
		committer:  committer,
		documentID: documentID,
		sweepDelay: delay,
		known:      map[string]Comment{},
		ctx:        context.Background(),
	}
}

// Load fetches the document's existing comments and retains ctx for
// timer-driven sweeps.
func (m *Manager) Load(ctx context.Context) error {
	listed, err := m.store.List(ctx, m.documentID)
	if err != nil {
		return fmt.Errorf("load comments: %w", err)
	}
	m.mu.Lock()
	m.ctx = ctx
	m.known = make(map[string]Comment, len(listed))
	for _, c := range listed {
		m.known[c.ID] = c
	}
	m.mu.Unlock()
	return nil
}

// Close cancels a pending sweep.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.sweepTimer != nil {
		m.sweepTimer.Stop()
		m.sweepTimer = nil
	}
	m.mu.Unlock()
}

// Comments returns the known comments for display.
func (m *Manager) Comments() []Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Comment, 0, len(m.known))
	for _, c := range m.known {
		out = append(out, c)
	}
	return out
}

// BeginAuthoring captures the live selection into the manager's snapshot,
// starting a comment-authoring flow. Reports false when the selection is
// collapsed or a flow is already in progress.
func (m *Manager) BeginAuthoring() bool {
	return m.snapshot.Capture(m.surface.GetSelection())
}

// CancelAuthoring abandons an authoring flow without creating a comment.
func (m *Manager) CancelAuthoring() {
	m.snapshot.Cancel()
}

// CreateFromSnapshot creates a comment over the range captured by
// BeginAuthoring, consuming the snapshot whether or not creation succeeds.
func (m *Manager) CreateFromSnapshot(ctx context.Context, authorID, authorName, text string) (string, error) {
	r, ok := m.snapshot.Consume()
	if !ok {
		return "", ErrNoSnapshot
	}
	return m.Create(ctx, r, authorID, authorName, text)
}

// Create anchors a new comment over r: the spanned text is copied as the
// anchor text, the record is persisted, a mark is applied in the surface,
// and the content is force-committed so the mark is never lost to echo
// suppression or a stale debounce value.
func (m *Manager) Create(ctx context.Context, r richtext.Range, authorID, authorName, text string) (string, error) {
	if r.Empty() {
		return "", ErrEmptyRange
	}
	comment := Comment{
		DocumentID: m.documentID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Content:    text,
		AnchorText: m.surface.TextBetween(r),
		Position:   r,
		CreatedAt:  time.Now().UTC(),
	}
	id, err := m.store.Create(ctx, comment)
	if err != nil {
		return "", fmt.Errorf("create comment: %w", err)
	}
	comment.ID = id

	m.surface.ApplyMark(r, id)

	m.mu.Lock()
	m.known[id] = comment
	m.mu.Unlock()

	if err := m.committer.ForceCommit(ctx, m.surface.Serialize()); err != nil {
		return id, fmt.Errorf("commit comment mark: %w", err)
	}
	return id, nil
}

// Delete removes the comment record, strips every span carrying its mark
// and force-commits the resulting content.
func (m *Manager) Delete(ctx context.Context, commentID string) error {
	if err := m.store.Delete(ctx, commentID); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	m.mu.Lock()
	delete(m.known, commentID)
	m.mu.Unlock()

	m.surface.RemoveMark(commentID)
	if err := m.committer.ForceCommit(ctx, m.surface.Serialize()); err != nil {
		return fmt.Errorf("commit mark removal: %w", err)
	}
	return nil
}

// Edit updates only the comment's text; marks and content are untouched.
func (m *Manager) Edit(ctx context.Context, commentID, text string) error {
	if err := m.store.Update(ctx, commentID, text); err != nil {
		return fmt.Errorf("edit comment: %w", err)
	}
	m.mu.Lock()
	if c, ok := m.known[commentID]; ok {
		c.Content = text
		m.known[commentID] = c
	}
	m.mu.Unlock()
	return nil
}

// ResolveTap returns the ids of every comment whose mark covers pos, via
// the surface's point-containment query.
func (m *Manager) ResolveTap(pos int) []string {
	return m.surface.MarkIDsAt(pos)
}

// NoteLocalMutation (re)arms the sweep timer. A user deleting highlighted
// text thereby cleans up the corresponding comment without an explicit
// action, within one sweep window.
func (m *Manager) NoteLocalMutation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepTimer != nil {
		m.sweepTimer.Stop()
	}
	m.sweepTimer = time.AfterFunc(m.sweepDelay, func() {
		m.mu.Lock()
		ctx := m.ctx
		m.mu.Unlock()
		if err := m.SweepOrphans(ctx); err != nil {
			log.Printf("comments: orphan sweep for %s: %v", m.documentID, err)
		}
	})
}

// SweepOrphans deletes every known comment whose id no longer appears as a
// mark anywhere in the live document. A comment whose deletion fails stays
// known and is retried on the next cycle.
func (m *Manager) SweepOrphans(ctx context.Context) error {
	live := map[string]bool{}
	for _, span := range m.surface.WalkMarks() {
		live[span.CommentID] = true
	}

	m.mu.Lock()
	var orphans []string
	for id := range m.known {
		if !live[id] {
			orphans = append(orphans, id)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range orphans {
		if err := m.store.Delete(ctx, id); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("sweep delete %s: %w", id, err)
			}
			continue
		}
		m.mu.Lock()
		delete(m.known, id)
		m.mu.Unlock()
	}
	return firstErr
}
