package comments

import (
	"sync"

	"hearth/api/internal/richtext"
)

// SelectionSnapshot decouples "what the user selected" from "what is
// currently selected". Opening a comment input panel blurs the editing
// surface and collapses the live selection, so the range is captured the
// moment the authoring flow starts and consumed exactly once when the
// comment is submitted.
type SelectionSnapshot struct {
	mu   sync.Mutex
	r    richtext.Range
	held bool
}

// Capture records sel and starts an authoring flow. It refuses collapsed
// selections and refuses to overwrite a snapshot already held by an
// in-progress flow, so the panel's own focus changes cannot corrupt the
// anchor. Reports whether a snapshot was taken.
func (s *SelectionSnapshot) Capture(sel richtext.Range) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sel.Empty() || s.held {
		return false
	}
	s.r = sel
	s.held = true
	return true
}

// Consume returns the captured range and discards it, ending the flow.
func (s *SelectionSnapshot) Consume() (richtext.Range, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held {
		return richtext.Range{}, false
	}
	s.held = false
	return s.r, true
}

// Cancel discards a held snapshot without consuming it.
func (s *SelectionSnapshot) Cancel() {
	s.mu.Lock()
	s.held = false
	s.mu.Unlock()
}
