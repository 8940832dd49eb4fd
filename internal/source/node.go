package source

import (
	"strconv"
	"strings"
)

// Node is one syntactic unit of a Tree.
type Node struct {
	tree     *Tree
	parent   *Node
	kind     string
	field    string
	named    bool
	span     Span
	children []*Node // named children only
	all      []*Node // named children and anonymous tokens
}

// aliases maps tree-sitter kinds to the short identifiers callers use in
// kind policies.
var aliases = map[string][]string{
	"function_definition":   {"def", "function"},
	"class_definition":      {"class"},
	"decorated_definition":  {"decorated"},
	"if_statement":          {"if"},
	"for_statement":         {"for", "loop"},
	"while_statement":       {"while", "loop"},
	"try_statement":         {"try"},
	"with_statement":        {"with"},
	"import_statement":      {"import"},
	"import_from_statement": {"import", "from_import"},
	"expression_statement":  {"expression"},
	"return_statement":      {"return"},
	"assignment":            {"assign"},
	"call":                  {"call"},
	"identifier":            {"name"},
	"string":                {"str"},
	"comment":               {"comment"},
}

// Kind returns the tree-sitter node type, e.g. "function_definition".
func (n *Node) Kind() string { return n.kind }

// Field returns the field name the node occupies in its parent, or "".
func (n *Node) Field() string { return n.field }

// Named reports whether the node is a named grammar node rather than a token.
func (n *Node) Named() bool { return n.named }

// Parent returns the enclosing node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Tree returns the tree owning the node.
func (n *Node) Tree() *Tree { return n.tree }

// Children returns named children.
func (n *Node) Children() []*Node { return n.children }

// AllChildren returns named children and anonymous tokens in order.
func (n *Node) AllChildren() []*Node { return n.all }

// Child returns the first child stored under field, or nil.
func (n *Node) Child(field string) *Node {
	for _, c := range n.all {
		if c.field == field {
			return c
		}
	}
	return nil
}

// Span returns the byte span of the node in the original text.
func (n *Node) Span() Span { return n.span }

// Start returns the position of the first character.
func (n *Node) Start() Position { return n.tree.Position(n.span.Start) }

// End returns the position just after the last character.
func (n *Node) End() Position { return n.tree.Position(n.span.End) }

// Text returns the original text of the node, ignoring edits.
func (n *Node) Text() string { return n.tree.text[n.span.Start:n.span.End] }

// Render returns the node text with pending edits applied.
func (n *Node) Render() string { return n.tree.RenderSpan(n.span) }

// Identifiers returns the kind followed by its aliases. A decorated
// definition also answers to the identifiers of what it decorates.
func (n *Node) Identifiers() []string {
	ids := []string{n.kind}
	ids = append(ids, aliases[n.kind]...)
	if n.kind == "decorated_definition" {
		if def := n.Child("definition"); def != nil {
			ids = append(ids, def.Identifiers()...)
		}
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Is reports whether any of the node's identifiers equals one of ids.
func (n *Node) Is(ids ...string) bool {
	for _, have := range n.Identifiers() {
		for _, want := range ids {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Definition returns the function or class a node stands for, unwrapping
// decorators. Other nodes are returned unchanged.
func (n *Node) Definition() *Node {
	if n.kind == "decorated_definition" {
		if def := n.Child("definition"); def != nil {
			return def
		}
	}
	return n
}

// Walk visits n and its descendants depth first. Returning false skips children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.all {
		c.Walk(fn)
	}
}

// Find returns every descendant (including n) whose kind is one of kinds.
func (n *Node) Find(kinds ...string) []*Node {
	var out []*Node
	n.Walk(func(c *Node) bool {
		for _, k := range kinds {
			if c.kind == k {
				out = append(out, c)
				break
			}
		}
		return true
	})
	return out
}

// Dump writes an indented outline of the node down to depth levels.
// A negative depth means unlimited. Leaves show their text; withTokens also
// lists anonymous tokens such as keywords and punctuation.
func (n *Node) Dump(depth int, withTokens bool) string {
	var b strings.Builder
	n.dump(&b, 0, depth, withTokens)
	return b.String()
}

func (n *Node) dump(b *strings.Builder, indent, depth int, withTokens bool) {
	children := n.children
	if withTokens {
		children = n.all
	}
	b.WriteString(strings.Repeat("  ", indent))
	if n.field != "" {
		b.WriteString(n.field)
		b.WriteString(": ")
	}
	b.WriteString(n.kind)
	b.WriteString(" ")
	b.WriteString(n.Start().String())
	b.WriteString("-")
	b.WriteString(n.End().String())
	if len(children) == 0 && n.kind != "module" {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(n.Text()))
	}
	b.WriteString("\n")
	if depth == 0 {
		return
	}
	for _, c := range children {
		c.dump(b, indent+1, depth-1, withTokens)
	}
}
