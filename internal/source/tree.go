// Package source adapts the tree-sitter Python grammar into a lossless,
// editable tree. Nodes are copied out of the tree-sitter tree at parse time,
// so a Tree owns no C memory and is safe to keep after the parser moves on.
// Edits are kept as an overlay on the original text and applied on Render.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"reddel/internal/logging"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ParseError reports the first syntax error found in the text.
type ParseError struct {
	Pos     Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s: %s", e.Pos, e.Message)
}

// Parser wraps a tree-sitter parser configured for Python.
// A tree-sitter parser is not safe for concurrent use, so Parse serializes.
type Parser struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewParser creates a Python parser.
func NewParser() *Parser {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &Parser{parser: parser}
}

// Close releases the underlying tree-sitter parser.
func (p *Parser) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parser != nil {
		p.parser.Close()
		p.parser = nil
	}
}

var (
	defaultOnce   sync.Once
	defaultParser *Parser
)

// Parse parses text with a shared package-level parser.
func Parse(text string) (*Tree, error) {
	defaultOnce.Do(func() { defaultParser = NewParser() })
	return defaultParser.Parse(text)
}

// Parse builds a Tree from text. Malformed input yields a *ParseError.
func (p *Parser) Parse(text string) (*Tree, error) {
	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parser == nil {
		return nil, fmt.Errorf("parser is closed")
	}

	content := []byte(text)
	ts, err := p.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer ts.Close()

	t := &Tree{text: text, lines: newLineIndex(text)}
	root := ts.RootNode()
	if root.HasError() {
		bad := firstError(root)
		if bad == nil {
			bad = root
		}
		perr := &ParseError{Pos: t.Position(int(bad.StartByte())), Message: describeError(bad, content)}
		logging.ParserDebug("parse failed: %v", perr)
		return nil, perr
	}

	t.root = t.convert(root, nil, "")
	logging.ParserDebug("parsed %d bytes into %d top-level nodes in %v", len(text), len(t.root.children), time.Since(start))
	return t, nil
}

// firstError returns the first ERROR or MISSING node in document order.
func firstError(n *sitter.Node) *sitter.Node {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		if c.IsError() || c.IsMissing() {
			return c
		}
		if c.HasError() {
			if found := firstError(c); found != nil {
				return found
			}
		}
	}
	return nil
}

func describeError(n *sitter.Node, content []byte) string {
	if n.IsMissing() {
		return fmt.Sprintf("missing %s", n.Type())
	}
	text := string(content[n.StartByte():n.EndByte()])
	if utf8.RuneCountInString(text) > 40 {
		text = string([]rune(text)[:40]) + "..."
	}
	if text == "" {
		return "unexpected end of input"
	}
	return fmt.Sprintf("unexpected %q", text)
}

// fieldNames lists the Python grammar fields worth recording on nodes.
var fieldNames = []string{
	"name", "parameters", "body", "return_type", "superclasses", "definition",
	"left", "right", "type", "value", "function", "arguments", "object", "attribute",
	"condition", "consequence", "alternative", "module_name", "alias", "key",
	"operator", "argument", "subscript", "operand", "code",
}

type childKey struct {
	start, end uint32
	kind       string
}

func fieldIndex(n *sitter.Node) map[childKey]string {
	var fields map[childKey]string
	for _, name := range fieldNames {
		c := n.ChildByFieldName(name)
		if c == nil {
			continue
		}
		if fields == nil {
			fields = make(map[childKey]string)
		}
		key := childKey{c.StartByte(), c.EndByte(), c.Type()}
		if _, seen := fields[key]; !seen {
			fields[key] = name
		}
	}
	return fields
}

func (t *Tree) convert(n *sitter.Node, parent *Node, field string) *Node {
	node := &Node{
		tree:   t,
		parent: parent,
		kind:   n.Type(),
		field:  field,
		named:  n.IsNamed(),
		span:   Span{Start: int(n.StartByte()), End: int(n.EndByte())},
	}
	fields := fieldIndex(n)
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		child := t.convert(c, node, fields[childKey{c.StartByte(), c.EndByte(), c.Type()}])
		node.all = append(node.all, child)
		if child.named {
			node.children = append(node.children, child)
		}
	}
	return node
}

// Tree is a parsed source text plus its pending edits.
type Tree struct {
	text  string
	lines lineIndex
	root  *Node
	edits []Edit
}

// Text returns the original, unedited text.
func (t *Tree) Text() string { return t.text }

// Root returns the module node.
func (t *Tree) Root() *Node { return t.root }

// TopLevel returns the module's direct named children, comments excluded.
func (t *Tree) TopLevel() []*Node {
	var out []*Node
	for _, n := range t.root.children {
		if n.kind == "comment" {
			continue
		}
		out = append(out, n)
	}
	return out
}

// NodeAt returns the innermost named node whose span contains offset.
func (t *Tree) NodeAt(offset int) *Node {
	var found *Node
	n := t.root
	for n != nil {
		var next *Node
		for _, c := range n.children {
			if c.span.Start <= offset && offset < c.span.End {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		found = next
		n = next
	}
	return found
}

// Walk visits every node depth first. Returning false skips the node's children.
func (t *Tree) Walk(fn func(*Node) bool) {
	t.root.Walk(fn)
}
