// Package region narrows a parsed tree to the top-level nodes touched by a
// caller-supplied line/column range.
package region

import (
	"fmt"

	"reddel/internal/logging"
	"reddel/internal/source"
)

// Kind classifies a region failure.
type Kind string

const (
	KindEmpty       Kind = "empty"         // nothing intersects the region
	KindOutOfBounds Kind = "out_of_bounds" // a position lies outside the text
	KindInverted    Kind = "inverted"      // start after end
	KindMisaligned  Kind = "misaligned"    // strict mode and the region cuts a node
)

// Region is a half-open [Start, End) range. Start == End is a point.
type Region struct {
	Start source.Position `json:"start"`
	End   source.Position `json:"end"`
}

func (r Region) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}

// Error reports why a region could not be resolved.
type Error struct {
	Kind    Kind
	Region  Region
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("region %s %s: %s", e.Region, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Options tunes resolution.
type Options struct {
	// Strict rejects regions whose bounds fall inside a node instead of
	// widening them to the enclosing top-level nodes.
	Strict bool
}

// Resolve maps r onto the contiguous run of top-level nodes it intersects.
// A nil region selects every top-level node.
func Resolve(tree *source.Tree, r *Region, opts Options) (source.Selection, error) {
	top := tree.TopLevel()
	if r == nil {
		sel := source.NewSelection(tree, top)
		sel.Whole = true
		return sel, nil
	}

	start, err := tree.Offset(r.Start)
	if err != nil {
		return source.Selection{}, &Error{Kind: KindOutOfBounds, Region: *r, Message: "start " + err.Error(), Err: err}
	}
	end, err := tree.Offset(r.End)
	if err != nil {
		return source.Selection{}, &Error{Kind: KindOutOfBounds, Region: *r, Message: "end " + err.Error(), Err: err}
	}
	if start > end {
		return source.Selection{}, &Error{Kind: KindInverted, Region: *r, Message: "start is after end"}
	}

	var nodes []*source.Node
	if start == end {
		// A point selects the node it sits in.
		for _, n := range top {
			if s := n.Span(); s.Start <= start && start < s.End {
				nodes = append(nodes, n)
				break
			}
		}
	} else {
		want := source.Span{Start: start, End: end}
		for _, n := range top {
			if n.Span().Overlaps(want) {
				nodes = append(nodes, n)
			}
		}
	}
	if len(nodes) == 0 {
		return source.Selection{}, &Error{Kind: KindEmpty, Region: *r, Message: "no top-level node intersects the region"}
	}

	sel := source.NewSelection(tree, nodes)
	if opts.Strict && start != end && (start > sel.Span.Start || end < sel.Span.End) {
		return source.Selection{}, &Error{
			Kind:    KindMisaligned,
			Region:  *r,
			Message: fmt.Sprintf("region cuts a node; nearest aligned region is %s-%s", sel.Start(), sel.End()),
		}
	}

	logging.PipelineDebug("region %s resolved to %d nodes at %s", r, len(nodes), sel.Span)
	return sel, nil
}
