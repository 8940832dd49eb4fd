// Package diff renders the change between an input source and a spliced
// result as hunks and as a unified patch, using sergi/go-diff.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineKind marks a diff line.
type LineKind string

const (
	LineContext LineKind = "context"
	LineAdded   LineKind = "added"
	LineRemoved LineKind = "removed"
)

// Line is one line of a hunk, without its newline.
type Line struct {
	Kind LineKind `json:"kind"`
	Text string   `json:"text"`
	// NoNewline is set on the last line of a text lacking a final newline.
	NoNewline bool `json:"no_newline,omitempty"`
}

// Hunk is a run of changes with surrounding context. Starts are 1-based.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldCount int    `json:"old_count"`
	NewStart int    `json:"new_start"`
	NewCount int    `json:"new_count"`
	Lines    []Line `json:"lines"`
}

// Result is the outcome of comparing two texts.
type Result struct {
	Name    string `json:"name"`
	Changed bool   `json:"changed"`
	Hunks   []Hunk `json:"hunks"`
}

// Engine computes line diffs.
type Engine struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	Context int // context lines around each change
}

// NewEngine creates an engine with three lines of context.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &Engine{dmp: dmp, Context: 3}
}

// DefaultEngine is shared by Compute.
var DefaultEngine = NewEngine()

// Compute diffs original against modified with the default engine.
func Compute(name, original, modified string) *Result {
	return DefaultEngine.Compute(name, original, modified)
}

// op is a single line with its position in both texts (0-based, before the line).
type op struct {
	line   Line
	oldIdx int
	newIdx int
}

// Compute diffs original against modified line by line.
func (e *Engine) Compute(name, original, modified string) *Result {
	res := &Result{Name: name, Hunks: []Hunk{}}
	if original == modified {
		return res
	}
	res.Changed = true

	a, b, lines := e.dmp.DiffLinesToChars(original, modified)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lines)

	var ops []op
	oldIdx, newIdx := 0, 0
	for _, d := range diffs {
		for _, text := range strings.SplitAfter(d.Text, "\n") {
			if text == "" {
				continue
			}
			l := Line{Text: strings.TrimSuffix(text, "\n"), NoNewline: !strings.HasSuffix(text, "\n")}
			o := op{oldIdx: oldIdx, newIdx: newIdx}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				l.Kind = LineContext
				oldIdx++
				newIdx++
			case diffmatchpatch.DiffDelete:
				l.Kind = LineRemoved
				oldIdx++
			case diffmatchpatch.DiffInsert:
				l.Kind = LineAdded
				newIdx++
			}
			o.line = l
			ops = append(ops, o)
		}
	}
	res.Hunks = e.group(ops)
	return res
}

// group collects changes into hunks, merging changes whose context overlaps.
func (e *Engine) group(ops []op) []Hunk {
	ctx := e.Context
	var hunks []Hunk
	i := 0
	for i < len(ops) {
		if ops[i].line.Kind == LineContext {
			i++
			continue
		}
		start := i - ctx
		if start < 0 {
			start = 0
		}
		last := i
		for j := i; j < len(ops); j++ {
			if ops[j].line.Kind != LineContext {
				last = j
				continue
			}
			if j-last > 2*ctx {
				break
			}
		}
		stop := last + ctx + 1
		if stop > len(ops) {
			stop = len(ops)
		}
		hunks = append(hunks, makeHunk(ops[start:stop]))
		i = stop
	}
	return hunks
}

func makeHunk(ops []op) Hunk {
	h := Hunk{OldStart: ops[0].oldIdx + 1, NewStart: ops[0].newIdx + 1}
	for _, o := range ops {
		switch o.line.Kind {
		case LineContext:
			h.OldCount++
			h.NewCount++
		case LineRemoved:
			h.OldCount++
		case LineAdded:
			h.NewCount++
		}
		h.Lines = append(h.Lines, o.line)
	}
	// An empty side points at the line before the hunk.
	if h.OldCount == 0 {
		h.OldStart--
	}
	if h.NewCount == 0 {
		h.NewStart--
	}
	return h
}

// Unified renders the result as a unified patch. An unchanged result renders empty.
func (r *Result) Unified() string {
	if !r.Changed {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", r.Name, r.Name)
	for _, h := range r.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			switch l.Kind {
			case LineAdded:
				b.WriteByte('+')
			case LineRemoved:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(l.Text)
			b.WriteByte('\n')
			if l.NoNewline {
				b.WriteString("\\ No newline at end of file\n")
			}
		}
	}
	return b.String()
}

// Stats counts added and removed lines.
func (r *Result) Stats() (added, removed int) {
	for _, h := range r.Hunks {
		for _, l := range h.Lines {
			switch l.Kind {
			case LineAdded:
				added++
			case LineRemoved:
				removed++
			}
		}
	}
	return added, removed
}

