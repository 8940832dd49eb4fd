package pipeline

import (
	"encoding/json"

	"reddel/internal/source"
)

// Call is what an operation body receives. For source operations Tree and
// Selection are set and Args no longer contains the source text.
type Call struct {
	Op        string
	Tree      *source.Tree
	Selection source.Selection
	HadRegion bool
	Args      []interface{}
	Kwargs    map[string]interface{}
}

// Value returns the argument at position i, falling back to the keyword name.
func (c *Call) Value(i int, name string) (interface{}, bool) {
	if i >= 0 && i < len(c.Args) {
		return c.Args[i], true
	}
	v, ok := c.Kwargs[name]
	return v, ok
}

// Has reports whether the argument was passed at all.
func (c *Call) Has(i int, name string) bool {
	_, ok := c.Value(i, name)
	return ok
}

// String returns a required string argument.
func (c *Call) String(i int, name string) (string, error) {
	v, ok := c.Value(i, name)
	if !ok {
		return "", argErrorf(name, "missing required argument")
	}
	s, ok := v.(string)
	if !ok {
		return "", argErrorf(name, "expected a string but got %T", v)
	}
	return s, nil
}

// Int returns an integer argument or def when it is absent or null.
func (c *Call) Int(i int, name string, def int) (int, error) {
	v, ok := c.Value(i, name)
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, argErrorf(name, "expected an integer but got %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, argErrorf(name, "expected an integer: %v", err)
		}
		return int(i), nil
	default:
		return 0, argErrorf(name, "expected an integer but got %T", v)
	}
}

// Bool returns a boolean argument or def when it is absent or null.
func (c *Call) Bool(i int, name string, def bool) (bool, error) {
	v, ok := c.Value(i, name)
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, argErrorf(name, "expected a boolean but got %T", v)
	}
	return b, nil
}

// Position returns a required position argument.
func (c *Call) Position(i int, name string) (source.Position, error) {
	v, ok := c.Value(i, name)
	if !ok {
		return source.Position{}, argErrorf(name, "missing required argument")
	}
	p, err := source.ParsePosition(v)
	if err != nil {
		return source.Position{}, argErrorf(name, "%v", err)
	}
	return p, nil
}
