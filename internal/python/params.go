package python

import "reddel/internal/source"

// paramName returns the identifier naming a parameter node, or nil for
// bare separators like "*" and "/".
func paramName(p *source.Node) *source.Node {
	switch p.Kind() {
	case "identifier":
		return p
	case "default_parameter", "typed_default_parameter":
		return p.Child("name")
	case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
		for _, c := range p.Children() {
			if c.Kind() == "identifier" {
				return c
			}
			if c.Kind() == "list_splat_pattern" || c.Kind() == "dictionary_splat_pattern" {
				return paramName(c)
			}
		}
	}
	return nil
}

// isSplat reports whether p collects *args or **kwargs.
func isSplat(p *source.Node) bool {
	switch p.Kind() {
	case "list_splat_pattern", "dictionary_splat_pattern", "keyword_separator", "positional_separator":
		return true
	case "typed_parameter":
		for _, c := range p.Children() {
			if c.Kind() == "list_splat_pattern" || c.Kind() == "dictionary_splat_pattern" {
				return true
			}
		}
	}
	return false
}

// parameters returns the parameter nodes of a function definition.
func parameters(def *source.Node) (*source.Node, []*source.Node) {
	list := def.Child("parameters")
	if list == nil {
		return nil, nil
	}
	var out []*source.Node
	for _, c := range list.Children() {
		if c.Kind() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return list, out
}

// references returns identifiers under n spelled name that refer to a
// variable, skipping attribute names (obj.name) and keyword names (f(name=1)).
func references(n *source.Node, name string) []*source.Node {
	var out []*source.Node
	n.Walk(func(c *source.Node) bool {
		if c.Kind() != "identifier" || c.Text() != name {
			return true
		}
		parent := c.Parent()
		if parent != nil {
			if parent.Kind() == "attribute" && c.Field() == "attribute" {
				return true
			}
			if parent.Kind() == "keyword_argument" && c.Field() == "name" {
				return true
			}
		}
		out = append(out, c)
		return true
	})
	return out
}
