package richtext

import "sort"

// cell is one linear position: a text rune with its comment marks, or a
// block break carrying the type of the block that follows it.
type cell struct {
	r        rune
	comments []string
	brk      bool
	btype    string
	level    int
}

func (d *Document) flatten() (cells []cell, firstType string, firstLevel int) {
	firstType = "paragraph"
	if len(d.Blocks) > 0 {
		firstType = d.Blocks[0].Type
		firstLevel = d.Blocks[0].Level
	}
	for i, b := range d.Blocks {
		if i > 0 {
			cells = append(cells, cell{brk: true, btype: b.Type, level: b.Level})
		}
		for _, run := range b.Runs {
			for _, r := range run.Text {
				c := cell{r: r}
				if len(run.Comments) > 0 {
					c.comments = append([]string(nil), run.Comments...)
				}
				cells = append(cells, c)
			}
		}
	}
	return cells, firstType, firstLevel
}

func (d *Document) unflatten(cells []cell, firstType string, firstLevel int) {
	blocks := []Block{{Type: firstType, Level: firstLevel}}
	cur := &blocks[len(blocks)-1]
	for _, c := range cells {
		if c.brk {
			blocks = append(blocks, Block{Type: c.btype, Level: c.level})
			cur = &blocks[len(blocks)-1]
			continue
		}
		if n := len(cur.Runs); n > 0 && sameMarks(cur.Runs[n-1].Comments, c.comments) {
			cur.Runs[n-1].Text += string(c.r)
		} else {
			cur.Runs = append(cur.Runs, Run{Text: string(c.r), Comments: c.comments})
		}
	}
	d.Blocks = blocks
	d.SetSelection(d.selection)
}

func sameMarks(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// InsertText inserts text at pos, clamped to the document. Newlines split
// blocks. Inserted runes take a comment mark only when the positions on both
// sides of the insertion point already carry it, so typing at either edge of
// a marked span never extends the mark.
func (d *Document) InsertText(pos int, text string) {
	if text == "" {
		return
	}
	cells, ft, fl := d.flatten()
	pos = clamp(pos, 0, len(cells))

	var inherited []string
	if pos > 0 && pos < len(cells) && !cells[pos-1].brk && !cells[pos].brk {
		inherited = intersectMarks(cells[pos-1].comments, cells[pos].comments)
	}

	inserted := make([]cell, 0, len(text))
	for _, r := range text {
		if r == '\n' {
			inserted = append(inserted, cell{brk: true, btype: "paragraph"})
			continue
		}
		c := cell{r: r}
		if len(inherited) > 0 {
			c.comments = append([]string(nil), inherited...)
		}
		inserted = append(inserted, c)
	}

	out := make([]cell, 0, len(cells)+len(inserted))
	out = append(out, cells[:pos]...)
	out = append(out, inserted...)
	out = append(out, cells[pos:]...)
	d.unflatten(out, ft, fl)
}

func intersectMarks(a, b []string) []string {
	var out []string
	for _, id := range a {
		for _, other := range b {
			if id == other {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// DeleteRange removes the content in r. Deleting across a block boundary
// merges the surrounding blocks; marks whose every position is deleted
// disappear from the document.
func (d *Document) DeleteRange(r Range) {
	cells, ft, fl := d.flatten()
	from := clamp(r.From, 0, len(cells))
	to := clamp(r.To, 0, len(cells))
	if from >= to {
		return
	}
	out := append(append([]cell(nil), cells[:from]...), cells[to:]...)
	d.unflatten(out, ft, fl)
}

// ApplyMark attaches commentID over r. Overlapping comment marks stack.
func (d *Document) ApplyMark(r Range, commentID string) {
	if commentID == "" || r.Empty() {
		return
	}
	cells, ft, fl := d.flatten()
	from := clamp(r.From, 0, len(cells))
	to := clamp(r.To, 0, len(cells))
	for i := from; i < to; i++ {
		if cells[i].brk || hasMark(cells[i].comments, commentID) {
			continue
		}
		cells[i].comments = append(cells[i].comments, commentID)
	}
	d.unflatten(cells, ft, fl)
}

// RemoveMark strips commentID everywhere it appears.
func (d *Document) RemoveMark(commentID string) {
	cells, ft, fl := d.flatten()
	for i := range cells {
		cells[i].comments = withoutMark(cells[i].comments, commentID)
	}
	d.unflatten(cells, ft, fl)
}

func hasMark(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func withoutMark(ids []string, id string) []string {
	var out []string
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
