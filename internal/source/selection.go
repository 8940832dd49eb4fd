package source

// Renderable is anything the pipeline can turn back into source text.
type Renderable interface {
	Render() string
}

// Fragment is literal replacement text returned by an operation body.
type Fragment string

// Render returns the fragment unchanged.
func (f Fragment) Render() string { return string(f) }

// Selection is a contiguous run of top-level nodes and the span they cover.
// Whole is set when no region restricted the selection.
type Selection struct {
	Tree  *Tree
	Nodes []*Node
	Span  Span
	Whole bool
}

// NewSelection builds a selection over nodes, which must be top-level and in order.
func NewSelection(t *Tree, nodes []*Node) Selection {
	sel := Selection{Tree: t, Nodes: nodes}
	if len(nodes) > 0 {
		sel.Span = Span{Start: nodes[0].span.Start, End: nodes[len(nodes)-1].span.End}
	}
	return sel
}

// Len returns the number of selected nodes.
func (s Selection) Len() int { return len(s.Nodes) }

// First returns the first selected node, or nil.
func (s Selection) First() *Node {
	if len(s.Nodes) == 0 {
		return nil
	}
	return s.Nodes[0]
}

// Kinds returns the kind of each selected node.
func (s Selection) Kinds() []string {
	out := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		out[i] = n.kind
	}
	return out
}

// Text returns the original text under the selection span.
func (s Selection) Text() string {
	if s.Tree == nil {
		return ""
	}
	return s.Tree.text[s.Span.Start:s.Span.End]
}

// Render returns the selection span with pending edits applied.
func (s Selection) Render() string {
	if s.Tree == nil {
		return ""
	}
	return s.Tree.RenderSpan(s.Span)
}

// Start returns the position of the selection start.
func (s Selection) Start() Position { return s.Tree.Position(s.Span.Start) }

// End returns the position just after the selection.
func (s Selection) End() Position { return s.Tree.Position(s.Span.End) }
