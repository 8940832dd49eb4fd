package source

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrOverlappingEdit is returned when a new edit touches text another edit already owns.
var ErrOverlappingEdit = errors.New("edit overlaps a previous edit")

// Edit replaces the original text under Span with Text.
// A zero-width span is an insertion.
type Edit struct {
	Span Span
	Text string
	seq  int
}

// Replace schedules the node's text to be replaced.
func (t *Tree) Replace(n *Node, text string) error {
	return t.ReplaceSpan(n.span, text)
}

// Insert schedules text to be inserted at offset.
func (t *Tree) Insert(offset int, text string) error {
	return t.ReplaceSpan(Span{Start: offset, End: offset}, text)
}

// InsertBefore schedules text to be inserted before the node.
func (t *Tree) InsertBefore(n *Node, text string) error {
	return t.Insert(n.span.Start, text)
}

// InsertAfter schedules text to be inserted after the node.
func (t *Tree) InsertAfter(n *Node, text string) error {
	return t.Insert(n.span.End, text)
}

// ReplaceSpan schedules the original text under s to be replaced.
// Spans refer to the original text; edits never shift one another.
func (t *Tree) ReplaceSpan(s Span, text string) error {
	if s.Start < 0 || s.End > len(t.text) || s.Start > s.End {
		return fmt.Errorf("edit %s outside text of %d bytes: %w", s, len(t.text), ErrPositionOutOfRange)
	}
	// Overlaps also catches an insertion strictly inside a replaced range.
	// Insertions at a boundary, or at the same point, are allowed.
	for _, e := range t.edits {
		if e.Span.Overlaps(s) {
			return fmt.Errorf("edit %s conflicts with %s: %w", s, e.Span, ErrOverlappingEdit)
		}
	}
	t.edits = append(t.edits, Edit{Span: s, Text: text, seq: len(t.edits)})
	return nil
}

// Modified reports whether any edit is pending.
func (t *Tree) Modified() bool { return len(t.edits) > 0 }

// EditBounds returns the smallest span covering every edit, and false when
// there are none.
func (t *Tree) EditBounds() (Span, bool) {
	if len(t.edits) == 0 {
		return Span{}, false
	}
	b := t.edits[0].Span
	for _, e := range t.edits[1:] {
		if e.Span.Start < b.Start {
			b.Start = e.Span.Start
		}
		if e.Span.End > b.End {
			b.End = e.Span.End
		}
	}
	return b, true
}

// Render returns the whole text with edits applied. An unedited tree
// renders to exactly the text it was parsed from.
func (t *Tree) Render() string {
	return t.RenderSpan(Span{Start: 0, End: len(t.text)})
}

// RenderSpan renders the original text under s with every edit that lies
// inside s applied. Insertions at either boundary are included.
func (t *Tree) RenderSpan(s Span) string {
	var inside []Edit
	for _, e := range t.edits {
		if s.Contains(e.Span) {
			inside = append(inside, e)
		}
	}
	if len(inside) == 0 {
		return t.text[s.Start:s.End]
	}
	sort.SliceStable(inside, func(i, j int) bool {
		a, b := inside[i], inside[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.End != b.Span.End {
			return a.Span.End < b.Span.End
		}
		return a.seq < b.seq
	})

	var b strings.Builder
	pos := s.Start
	for _, e := range inside {
		b.WriteString(t.text[pos:e.Span.Start])
		b.WriteString(e.Text)
		pos = e.Span.End
	}
	b.WriteString(t.text[pos:s.End])
	return b.String()
}
