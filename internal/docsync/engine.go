// Package docsync keeps one document's serialized content eventually
// consistent between a local editing surface and a remote store. It owns the
// debounced-commit and remote-apply lifecycle: local edits coalesce into a
// single delayed write, remote snapshots replace the surface wholesale, and
// the echo of this client's own write is recognized and dropped so the
// cursor never resets on self-originated changes.
//
// Consistency is deliberately last-write-wins at whole-document granularity;
// concurrent edits from two clients are not merged.
package docsync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"hearth/api/internal/richtext"
)

// DefaultDebounce is how long local edits accumulate before a commit.
const DefaultDebounce = 1500 * time.Millisecond

// Surface is the subset of the editing surface the engine drives.
type Surface interface {
	GetSelection() richtext.Range
	SetSelection(richtext.Range)
	ReplaceContent(content string) error
	Len() int
}

// DocumentStore delivers remote snapshots and accepts whole-document writes.
// Subscribe returns a stop function; the callback receives every content
// value the store observes for the document, including echoes of this
// client's own writes.
type DocumentStore interface {
	Subscribe(ctx context.Context, documentID string, fn func(content string)) (func(), error)
	Write(ctx context.Context, documentID, content string) error
}

// ErrNotStarted is returned by operations that need an active subscription.
var ErrNotStarted = errors.New("docsync: engine not started")

type state int

const (
	stateIdle state = iota
	stateCommittingLocal
	stateApplyingRemote
)

// Options tunes an Engine.
type Options struct {
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration

	// OnWriteError observes failed commits. Failed writes are not retried
	// and lastCommitted is not rolled back; the caller decides whether to
	// retry or re-subscribe. Defaults to logging.
	OnWriteError func(error)
}

// Engine synchronizes one document between a Surface and a DocumentStore.
type Engine struct {
	surface    Surface
	store      DocumentStore
	documentID string
	debounce   time.Duration
	onWriteErr func(error)

	mu            sync.Mutex
	state         state
	lastCommitted string
	pending       string
	hasPending    bool
	timer         *time.Timer
	ctx           context.Context
	unsubscribe   func()

	// writeMu serializes store writes; commitSeq orders them. A debounced
	// commit that is superseded before its write starts must not reach the
	// store, or it would land after the forced write and become the
	// document's latest content.
	writeMu   sync.Mutex
	commitSeq uint64
}

// New creates an engine for documentID. Call Start to begin receiving
// remote snapshots.
func New(surface Surface, store DocumentStore, documentID string, opts Options) *Engine {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	onWriteErr := opts.OnWriteError
	if onWriteErr == nil {
		onWriteErr = func(err error) {
			log.Printf("docsync: commit failed for %s: %v", documentID, err)
		}
	}
	return &Engine{
		surface:    surface,
		store:      store,
		documentID: documentID,
		debounce:   debounce,
		onWriteErr: onWriteErr,
	}
}

// Start subscribes to the store. A subscription that cannot be established
// surfaces here; the engine then simply receives no updates until Start
// succeeds.
func (e *Engine) Start(ctx context.Context) error {
	stop, err := e.store.Subscribe(ctx, e.documentID, e.OnRemoteSnapshot)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ctx = ctx
	e.unsubscribe = stop
	e.mu.Unlock()
	return nil
}

// Close cancels any pending commit without writing and tears down the
// subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.hasPending = false
	stop := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// LastCommitted returns the most recent content this engine wrote or
// accepted as remote truth.
func (e *Engine) LastCommitted() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCommitted
}

// OnLocalEdit records a local content mutation and (re)arms the debounced
// commit. Mutations observed while a remote snapshot is being applied are
// the engine's own doing, not user input, and are dropped; that is the
// primary echo-suppression mechanism.
func (e *Engine) OnLocalEdit(newContent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateApplyingRemote {
		return
	}
	e.pending = newContent
	e.hasPending = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, e.commitPending)
}

func (e *Engine) commitPending() {
	e.mu.Lock()
	if !e.hasPending {
		e.mu.Unlock()
		return
	}
	content := e.pending
	e.hasPending = false
	e.state = stateCommittingLocal
	// Updated before the write is sent so the echo of this very write is
	// recognized as self-originated when the subscription delivers it.
	e.lastCommitted = content
	e.commitSeq++
	seq := e.commitSeq
	ctx := e.ctx
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	e.writeMu.Lock()
	e.mu.Lock()
	superseded := seq != e.commitSeq
	e.mu.Unlock()
	var err error
	if !superseded {
		err = e.store.Write(ctx, e.documentID, content)
	}
	e.writeMu.Unlock()

	e.mu.Lock()
	e.state = stateIdle
	e.mu.Unlock()
	if err != nil {
		e.onWriteErr(err)
	}
}

// ForceCommit bypasses the debounce window: any pending commit is cancelled
// and content is written immediately, with lastCommitted updated first.
// Used when a comment mark is applied or removed so the mark mutation is
// never lost to a stale debounce value. Bumping commitSeq also invalidates a
// debounced commit whose timer already fired but whose write has not started;
// a debounced write already in flight finishes first under writeMu, so the
// forced content is always the store's latest.
func (e *Engine) ForceCommit(ctx context.Context, content string) error {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.hasPending = false
	e.state = stateCommittingLocal
	e.lastCommitted = content
	e.commitSeq++
	e.mu.Unlock()

	e.writeMu.Lock()
	err := e.store.Write(ctx, e.documentID, content)
	e.writeMu.Unlock()

	e.mu.Lock()
	e.state = stateIdle
	e.mu.Unlock()
	return err
}

// OnRemoteSnapshot applies a content value delivered by the subscription.
// Snapshots equal to lastCommitted are self-echo and never touch the
// surface or the selection. Genuine changes replace the surface wholesale;
// the selection is restored afterwards, both endpoints clamped to the new
// document length.
func (e *Engine) OnRemoteSnapshot(remoteContent string) {
	e.mu.Lock()
	if remoteContent == e.lastCommitted {
		e.mu.Unlock()
		return
	}
	e.lastCommitted = remoteContent
	selection := e.surface.GetSelection()
	e.state = stateApplyingRemote
	e.mu.Unlock()

	// The surface may synchronously report the replacement back through
	// OnLocalEdit; the ApplyingRemote state swallows it, so the replace
	// runs outside the engine lock.
	if err := e.surface.ReplaceContent(remoteContent); err != nil {
		log.Printf("docsync: apply remote snapshot for %s: %v", e.documentID, err)
	}
	length := e.surface.Len()
	e.surface.SetSelection(richtext.Range{
		From: min(selection.From, length),
		To:   min(selection.To, length),
	})

	e.mu.Lock()
	e.state = stateIdle
	e.mu.Unlock()
}
