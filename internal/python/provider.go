// Package python is the built-in provider of Python inspections and
// refactorings. Every operation takes the source text as its first argument.
package python

import (
	"fmt"
	"strings"

	"reddel/internal/pipeline"
	"reddel/internal/provider"
	"reddel/internal/source"
	"reddel/internal/validate"
)

// Name is the provider name and factory handle.
const Name = "python"

// Parent describes a node by kind and bounds. get_parents returns the
// enclosing nodes of a position; get_selection the selected nodes.
type Parent struct {
	Identifier string          `json:"identifier"`
	Start      source.Position `json:"start"`
	End        source.Position `json:"end"`
}

// New builds the Python provider. It matches provider.Factory.
func New(*provider.Registry) (*provider.Provider, error) {
	p := provider.New(Name, Name, "Inspect and refactor Python source.")
	for _, op := range []*pipeline.Operation{
		analyze(), renameArg(), getArgs(), addArg(), getCurrent(), getParents(), getSelection(),
	} {
		if err := p.Add(op); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// singleDef guards operations that work on exactly one function definition.
func singleDef() validate.Chain {
	return validate.Chain{validate.Optional(), validate.Single(), validate.Kinds("def")}
}

func analyze() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "analyze",
		Doc: "Return an indented outline of the syntax tree.\n" +
			"deep limits the nesting shown; with_formatting also lists keyword and punctuation tokens.",
		Params: []pipeline.Param{
			{Name: "deep", Default: 2, Optional: true},
			{Name: "with_formatting", Default: false, Optional: true},
		},
		Validators:    validate.Chain{validate.Optional()},
		ExpectsSource: true,
		Body: func(c *pipeline.Call) (interface{}, error) {
			deep, err := c.Int(0, "deep", 2)
			if err != nil {
				return nil, err
			}
			withFormatting, err := c.Bool(1, "with_formatting", false)
			if err != nil {
				return nil, err
			}
			if c.Selection.Whole {
				return strings.TrimSuffix(c.Tree.Root().Dump(deep, withFormatting), "\n"), nil
			}
			var b strings.Builder
			for _, n := range c.Selection.Nodes {
				b.WriteString(n.Dump(deep, withFormatting))
			}
			return strings.TrimSuffix(b.String(), "\n"), nil
		},
	}
}

func renameArg() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "rename_arg",
		Doc: "Rename a parameter of the selected function and every reference to it in the body.\n" +
			"Attribute names and keyword argument names are left alone.",
		Params:        []pipeline.Param{{Name: "oldname"}, {Name: "newname"}},
		Validators:    singleDef(),
		ExpectsSource: true,
		EmitsSource:   true,
		Body: func(c *pipeline.Call) (interface{}, error) {
			oldname, err := c.String(0, "oldname")
			if err != nil {
				return nil, err
			}
			newname, err := c.String(1, "newname")
			if err != nil {
				return nil, err
			}
			def := c.Selection.First().Definition()
			_, params := parameters(def)

			var target *source.Node
			var names []string
			for _, p := range params {
				id := paramName(p)
				if id == nil {
					continue
				}
				names = append(names, id.Text())
				if target == nil && id.Text() == oldname {
					target = id
				}
			}
			if target == nil {
				return nil, fmt.Errorf("expected argument %s to be one of %v", oldname, names)
			}
			if err := c.Tree.Replace(target, newname); err != nil {
				return nil, err
			}
			if body := def.Child("body"); body != nil {
				for _, ref := range references(body, oldname) {
					if err := c.Tree.Replace(ref, newname); err != nil {
						return nil, err
					}
				}
			}
			return def, nil
		},
	}
}

func getArgs() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "get_args",
		Doc: "Return the parameters of the selected function as [name, default] pairs.\n" +
			"default is the source text of the default value or null; *args and **kwargs are returned verbatim.",
		Params:        []pipeline.Param{},
		Validators:    singleDef(),
		ExpectsSource: true,
		Body: func(c *pipeline.Call) (interface{}, error) {
			def := c.Selection.First().Definition()
			_, params := parameters(def)
			out := make([][]interface{}, 0, len(params))
			for _, p := range params {
				if isSplat(p) {
					out = append(out, []interface{}{p.Text(), nil})
					continue
				}
				id := paramName(p)
				if id == nil {
					out = append(out, []interface{}{p.Text(), nil})
					continue
				}
				var dflt interface{}
				if v := p.Child("value"); v != nil {
					dflt = v.Text()
				}
				out = append(out, []interface{}{id.Text(), dflt})
			}
			return out, nil
		},
	}
}

func addArg() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "add_arg",
		Doc: "Insert a parameter into the selected function.\n" +
			"index follows list insertion: negative counts from the end and out-of-range values clamp.",
		Params:        []pipeline.Param{{Name: "index"}, {Name: "arg"}},
		Validators:    singleDef(),
		ExpectsSource: true,
		EmitsSource:   true,
		Body: func(c *pipeline.Call) (interface{}, error) {
			index, err := c.Int(0, "index", 0)
			if err != nil {
				return nil, err
			}
			arg, err := c.String(1, "arg")
			if err != nil {
				return nil, err
			}
			def := c.Selection.First().Definition()
			list, params := parameters(def)
			if list == nil {
				return nil, fmt.Errorf("function %s has no parameter list", def.Child("name").Text())
			}

			n := len(params)
			if index < 0 {
				index += n
				if index < 0 {
					index = 0
				}
			}
			if index > n {
				index = n
			}
			switch {
			case n == 0:
				err = c.Tree.Insert(list.Span().Start+1, arg)
			case index < n:
				err = c.Tree.InsertBefore(params[index], arg+", ")
			default:
				err = c.Tree.InsertAfter(params[n-1], ", "+arg)
			}
			if err != nil {
				return nil, err
			}
			return def, nil
		},
	}
}

// positionParams are row and column as separate arguments. row alone may
// also carry a whole position: [line, column], {"line", "column"} or "L:C".
var positionParams = []pipeline.Param{
	{Name: "row"},
	{Name: "column", Optional: true},
}

func positionArg(c *pipeline.Call) (source.Position, error) {
	if !c.Has(1, "column") {
		return c.Position(0, "row")
	}
	row, err := c.Int(0, "row", 0)
	if err != nil {
		return source.Position{}, err
	}
	column, err := c.Int(1, "column", 0)
	if err != nil {
		return source.Position{}, err
	}
	return source.Position{Line: row, Column: column}, nil
}

// nodeAt returns the innermost node at the position argument.
func nodeAt(c *pipeline.Call) (*source.Node, error) {
	pos, err := positionArg(c)
	if err != nil {
		return nil, err
	}
	off, err := c.Tree.Offset(pos)
	if err != nil {
		return nil, &pipeline.ArgError{Name: "row", Message: err.Error()}
	}
	n := c.Tree.NodeAt(off)
	if n == nil {
		return nil, fmt.Errorf("no node at %s", pos)
	}
	return n, nil
}

func getCurrent() *pipeline.Operation {
	return &pipeline.Operation{
		Name:          "get_current",
		Doc:           "Return the source text of the innermost node at a position.",
		Params:        positionParams,
		ExpectsSource: true,
		Body: func(c *pipeline.Call) (interface{}, error) {
			n, err := nodeAt(c)
			if err != nil {
				return nil, err
			}
			return n.Text(), nil
		},
	}
}

func getParents() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "get_parents",
		Doc: "Return the nodes enclosing a position, innermost first, as {identifier, start, end}.\n" +
			"When a parent spans exactly the same text as its child only the parent is kept. end is exclusive.",
		Params:        positionParams,
		ExpectsSource: true,
		Body: func(c *pipeline.Call) (interface{}, error) {
			current, err := nodeAt(c)
			if err != nil {
				return nil, err
			}

			parents := []Parent{}
			for n := current; n != nil && n != c.Tree.Root(); n = n.Parent() {
				p := Parent{Identifier: n.Kind(), Start: n.Start(), End: n.End()}
				if last := len(parents) - 1; last >= 0 && parents[last].Start == p.Start && parents[last].End == p.End {
					parents = parents[:last]
				}
				parents = append(parents, p)
			}
			return parents, nil
		},
	}
}

func getSelection() *pipeline.Operation {
	return &pipeline.Operation{
		Name: "get_selection",
		Doc: "Return the top-level nodes a region touches and the text they span.\n" +
			"A region is required; a region cutting into a node is widened to the whole node.",
		Params:        []pipeline.Param{},
		Validators:    validate.Chain{validate.Mandatory()},
		ExpectsSource: true,
		Body: func(c *pipeline.Call) (interface{}, error) {
			nodes := make([]Parent, 0, c.Selection.Len())
			for _, n := range c.Selection.Nodes {
				nodes = append(nodes, Parent{Identifier: n.Kind(), Start: n.Start(), End: n.End()})
			}
			return map[string]interface{}{
				"nodes": nodes,
				"start": c.Selection.Start(),
				"end":   c.Selection.End(),
				"text":  c.Selection.Text(),
			}, nil
		},
	}
}
