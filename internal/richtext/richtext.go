// Package richtext implements the linear-content rich text model the sync
// engine edits: a block tree of marked text runs addressed by rune offsets,
// with comment marks that shift as the surrounding text changes.
package richtext

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Range is a half-open [From, To) span of the document's linear content.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Empty reports whether the range covers no content.
func (r Range) Empty() bool {
	return r.From >= r.To
}

// Contains reports whether pos falls inside the half-open range.
func (r Range) Contains(pos int) bool {
	return pos >= r.From && pos < r.To
}

// MarkSpan is one contiguous stretch of content carrying a comment mark.
type MarkSpan struct {
	CommentID string
	Range     Range
}

// Run is a stretch of text within a block sharing one set of comment marks.
type Run struct {
	Text     string
	Comments []string
}

// Block is a paragraph or heading.
type Block struct {
	Type  string // "paragraph" or "heading"
	Level int    // heading level, 0 for paragraphs
	Runs  []Run
}

// Document is the live editing surface. Offsets are rune positions over the
// blocks' text joined by single newline separators, so every block boundary
// occupies exactly one position.
type Document struct {
	Blocks    []Block
	selection Range
}

// New returns an empty document containing a single empty paragraph.
func New() *Document {
	return &Document{Blocks: []Block{{Type: "paragraph"}}}
}

// Len returns the document length in linear positions.
func (d *Document) Len() int {
	total := 0
	for i, b := range d.Blocks {
		if i > 0 {
			total++
		}
		total += blockLen(b)
	}
	return total
}

func blockLen(b Block) int {
	n := 0
	for _, r := range b.Runs {
		n += len([]rune(r.Text))
	}
	return n
}

// GetSelection returns the current selection.
func (d *Document) GetSelection() Range {
	return d.selection
}

// SetSelection moves the selection, clamping both endpoints to the document
// length rather than failing on out-of-bounds input.
func (d *Document) SetSelection(r Range) {
	n := d.Len()
	r.From = clamp(r.From, 0, n)
	r.To = clamp(r.To, 0, n)
	if r.From > r.To {
		r.From, r.To = r.To, r.From
	}
	d.selection = r
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Text returns the full linear text, block boundaries rendered as newlines.
func (d *Document) Text() string {
	var sb strings.Builder
	for i, b := range d.Blocks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for _, r := range b.Runs {
			sb.WriteString(r.Text)
		}
	}
	return sb.String()
}

// TextBetween returns the text spanned by r, clamped to the document.
func (d *Document) TextBetween(r Range) string {
	runes := []rune(d.Text())
	from := clamp(r.From, 0, len(runes))
	to := clamp(r.To, 0, len(runes))
	if from >= to {
		return ""
	}
	return string(runes[from:to])
}

// node mirrors the serialized tree shape.
type node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []markNode     `json:"marks,omitempty"`
}

type markNode struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Serialize renders the document tree as its canonical JSON string.
func (d *Document) Serialize() string {
	root := node{Type: "doc"}
	for _, b := range d.Blocks {
		bn := node{Type: b.Type}
		if b.Type == "heading" {
			bn.Attrs = map[string]any{"level": b.Level}
		}
		for _, run := range b.Runs {
			if run.Text == "" {
				continue
			}
			tn := node{Type: "text", Text: run.Text}
			for _, id := range run.Comments {
				tn.Marks = append(tn.Marks, markNode{
					Type:  "comment",
					Attrs: map[string]any{"commentId": id},
				})
			}
			bn.Content = append(bn.Content, tn)
		}
		root.Content = append(root.Content, bn)
	}
	encoded, err := json.Marshal(root)
	if err != nil {
		// The tree contains only strings, ints and maps; this cannot fail.
		return `{"type":"doc"}`
	}
	return string(encoded)
}

// ReplaceContent replaces the document wholesale from serialized form. The
// selection is clamped to the new length; callers that care about cursor
// position re-set it afterwards.
func (d *Document) ReplaceContent(content string) error {
	var root node
	if err := json.Unmarshal([]byte(content), &root); err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if root.Type != "doc" {
		return fmt.Errorf("parse document: unexpected root type %q", root.Type)
	}
	blocks := make([]Block, 0, len(root.Content))
	for _, bn := range root.Content {
		block := Block{Type: bn.Type}
		if block.Type != "paragraph" && block.Type != "heading" {
			block.Type = "paragraph"
		}
		if lvl, ok := bn.Attrs["level"].(float64); ok {
			block.Level = int(lvl)
		}
		for _, tn := range bn.Content {
			if tn.Type != "text" || tn.Text == "" {
				continue
			}
			run := Run{Text: tn.Text}
			for _, m := range tn.Marks {
				if m.Type != "comment" {
					continue
				}
				if id, ok := m.Attrs["commentId"].(string); ok && id != "" {
					run.Comments = append(run.Comments, id)
				}
			}
			block.Runs = append(block.Runs, run)
		}
		blocks = append(blocks, block)
	}
	if len(blocks) == 0 {
		blocks = []Block{{Type: "paragraph"}}
	}
	d.Blocks = blocks
	d.SetSelection(d.selection)
	return nil
}

// WalkMarks enumerates every comment mark span in document order, adjacent
// spans of the same comment coalesced.
func (d *Document) WalkMarks() []MarkSpan {
	open := map[string]*MarkSpan{}
	var spans []MarkSpan
	pos := 0
	flushExcept := func(live map[string]bool) {
		var ended []string
		for id := range open {
			if !live[id] {
				ended = append(ended, id)
			}
		}
		sort.Strings(ended)
		for _, id := range ended {
			spans = append(spans, *open[id])
			delete(open, id)
		}
	}
	for i, b := range d.Blocks {
		if i > 0 {
			flushExcept(nil) // block boundary ends every span
			pos++
		}
		for _, run := range b.Runs {
			n := len([]rune(run.Text))
			live := map[string]bool{}
			for _, id := range run.Comments {
				live[id] = true
			}
			flushExcept(live)
			for _, id := range run.Comments {
				if span, ok := open[id]; ok {
					span.Range.To = pos + n
				} else {
					open[id] = &MarkSpan{CommentID: id, Range: Range{From: pos, To: pos + n}}
				}
			}
			pos += n
		}
	}
	flushExcept(nil)
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Range.From != spans[j].Range.From {
			return spans[i].Range.From < spans[j].Range.From
		}
		return spans[i].CommentID < spans[j].CommentID
	})
	return spans
}

// MarkIDsAt returns the comment ids whose marks cover pos. The cost is
// proportional to the marks on the run at pos, not the comment count.
func (d *Document) MarkIDsAt(pos int) []string {
	cursor := 0
	for i, b := range d.Blocks {
		if i > 0 {
			if pos == cursor {
				return nil // block boundary carries no marks
			}
			cursor++
		}
		for _, run := range b.Runs {
			n := len([]rune(run.Text))
			if pos >= cursor && pos < cursor+n {
				if len(run.Comments) == 0 {
					return nil
				}
				ids := make([]string, len(run.Comments))
				copy(ids, run.Comments)
				return ids
			}
			cursor += n
		}
	}
	return nil
}
