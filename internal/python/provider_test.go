package python

import (
	"errors"
	"testing"

	"reddel/internal/pipeline"
	"reddel/internal/provider"
	"reddel/internal/source"
	"reddel/internal/validate"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	r := provider.NewRegistry(pipeline.Options{})
	r.RegisterFactory(provider.CoreName, provider.Core)
	r.RegisterFactory(Name, New)
	for _, h := range []string{provider.CoreName, Name} {
		_, err := r.RegisterHandle(h)
		require.NoError(t, err)
	}
	return r
}

func call(t *testing.T, r *provider.Registry, op string, args []interface{}, kwargs map[string]interface{}) interface{} {
	t.Helper()
	out, err := r.Call(op, args, kwargs)
	require.NoError(t, err)
	return out
}

func validationKind(t *testing.T, err error) validate.ErrorKind {
	t.Helper()
	var verr *validate.ValidationError
	require.True(t, errors.As(err, &verr), "expected a validation error, got %v", err)
	return verr.Kind
}

func TestAddArg(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		name  string
		src   string
		index interface{}
		arg   string
		want  string
	}{
		{"middle", "def foo(arg1, arg3): pass", float64(1), "arg2", "def foo(arg1, arg2, arg3): pass"},
		{"front", "def foo(a, b): pass\n", float64(0), "x", "def foo(x, a, b): pass\n"},
		{"negative", "def foo(a, b): pass\n", float64(-1), "x", "def foo(a, x, b): pass\n"},
		{"very negative", "def foo(a, b): pass\n", float64(-9), "x", "def foo(x, a, b): pass\n"},
		{"past the end", "def foo(a, b): pass\n", float64(10), "x=1", "def foo(a, b, x=1): pass\n"},
		{"no params", "def foo(): pass\n", float64(0), "self", "def foo(self): pass\n"},
		{"decorated", "@dec\ndef foo(a): pass\n", float64(1), "b", "@dec\ndef foo(a, b): pass\n"},
		{"keeps comments", "def foo(a,  # first\n        c):\n    pass  # body\n", float64(1), "b", "def foo(a,  # first\n        b, c):\n    pass  # body\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := call(t, r, "add_arg", []interface{}{tt.src, tt.index, tt.arg}, nil)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestAddArgRejectsNonDefinitions(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Call("add_arg", []interface{}{"class A: pass\n", float64(0), "x"}, nil)
	assert.Equal(t, validate.KindWrongKind, validationKind(t, err))

	_, err = r.Call("add_arg", []interface{}{"def foo(a): pass\ndef bar(b): pass", float64(0), "x"}, nil)
	assert.Equal(t, validate.KindWrongCount, validationKind(t, err))
}

func TestAddArgWithRegionSplicesLocally(t *testing.T) {
	r := newRegistry(t)
	src := "import os\n\n\ndef foo(a):   # keep me\n    return a\n\n\ndef bar(b): pass  # and me\n"

	out := call(t, r, "add_arg", []interface{}{src, float64(1), "c"}, map[string]interface{}{
		"start": []interface{}{float64(8), float64(1)},
		"end":   []interface{}{float64(8), float64(5)},
	})
	assert.Equal(t, "import os\n\n\ndef foo(a):   # keep me\n    return a\n\n\ndef bar(b, c): pass  # and me\n", out)
}

func TestRenameArg(t *testing.T) {
	r := newRegistry(t)
	src := "def foo(arg1, arg2, kwarg2=1):  # arg2\n" +
		"    arg2 = arg2 + 1\n" +
		"    return self.arg2 + f(arg2=arg2)\n"
	want := "def foo(arg1, renamed, kwarg2=1):  # arg2\n" +
		"    renamed = renamed + 1\n" +
		"    return self.arg2 + f(arg2=renamed)\n"

	out := call(t, r, "rename_arg", []interface{}{src, "arg2", "renamed"}, nil)
	assert.Equal(t, want, out)

	out = call(t, r, "rename_arg", []interface{}{"def f(x: int = 3, *rest): return x\n"}, map[string]interface{}{
		"oldname": "rest", "newname": "others",
	})
	assert.Equal(t, "def f(x: int = 3, *others): return x\n", out)
}

func TestRenameArgUnknownName(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Call("rename_arg", []interface{}{"def foo(a, b): pass\n", "c", "d"}, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindBody, pipeline.KindOf(err))
	assert.Contains(t, err.Error(), "expected argument c to be one of [a b]")
}

func TestGetArgs(t *testing.T) {
	r := newRegistry(t)
	out := call(t, r, "get_args", []interface{}{"def foo(a, b=1, *args, c: int = 2, d: str, **kw): pass\n"}, nil)
	want := [][]interface{}{
		{"a", nil},
		{"b", "1"},
		{"*args", nil},
		{"c", "2"},
		{"d", nil},
		{"**kw", nil},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("get_args mismatch (-want +got):\n%s", diff)
	}
}

func TestGetParents(t *testing.T) {
	r := newRegistry(t)
	src := "def foo(a):\n    return a\n"

	for _, tc := range []struct {
		name   string
		args   []interface{}
		kwargs map[string]interface{}
	}{
		{name: "row and column", args: []interface{}{src, float64(2), float64(12)}},
		{name: "row and column by keyword", args: []interface{}{src}, kwargs: map[string]interface{}{"row": float64(2), "column": float64(12)}},
		{name: "position pair", args: []interface{}{src, []interface{}{float64(2), float64(12)}}},
		{name: "position string", args: []interface{}{src, "2:12"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := call(t, r, "get_parents", tc.args, tc.kwargs)
			parents := out.([]Parent)
			require.GreaterOrEqual(t, len(parents), 2)

			assert.Equal(t, Parent{Identifier: "identifier", Start: source.Position{Line: 2, Column: 12}, End: source.Position{Line: 2, Column: 13}}, parents[0])
			assert.Equal(t, "function_definition", parents[len(parents)-1].Identifier)
			assert.Equal(t, source.Position{Line: 1, Column: 1}, parents[len(parents)-1].Start)
			for i := 1; i < len(parents); i++ {
				same := parents[i].Start == parents[i-1].Start && parents[i].End == parents[i-1].End
				assert.False(t, same, "identical bounding boxes must be collapsed")
			}
		})
	}

	for _, args := range [][]interface{}{
		{src, "9:1"},
		{src, float64(9), float64(1)},
		{src, float64(0), float64(1)},
		{src, float64(2)},
		{src},
	} {
		_, err := r.Call("get_parents", args, nil)
		assert.Equal(t, pipeline.KindArgMismatch, pipeline.KindOf(err), "args %v", args[1:])
	}
}

func TestGetCurrent(t *testing.T) {
	r := newRegistry(t)
	src := "def foo(a, b=2):\n    return a + b\n"

	for _, tc := range []struct {
		name string
		args []interface{}
		want string
	}{
		{name: "parameter", args: []interface{}{src, float64(1), float64(9)}, want: "a"},
		{name: "default value", args: []interface{}{src, float64(1), float64(14)}, want: "2"},
		{name: "operand", args: []interface{}{src, "2:16"}, want: "b"},
		{name: "function name", args: []interface{}{src, []interface{}{float64(1), float64(5)}}, want: "foo"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, call(t, r, "get_current", tc.args, nil))
		})
	}

	_, err := r.Call("get_current", []interface{}{src, float64(7), float64(1)}, nil)
	assert.Equal(t, pipeline.KindArgMismatch, pipeline.KindOf(err))
}

func TestGetSelection(t *testing.T) {
	r := newRegistry(t)
	src := "a = 1\nb = 2\nc = 3\n"

	_, err := r.Call("get_selection", []interface{}{src}, nil)
	assert.Equal(t, validate.KindRegionRequired, validationKind(t, err))

	out := call(t, r, "get_selection", []interface{}{src}, map[string]interface{}{"start": "1:3", "end": "2:2"})
	res := out.(map[string]interface{})
	assert.Equal(t, "a = 1\nb = 2", res["text"])
	assert.Len(t, res["nodes"], 2)
	assert.Equal(t, source.Position{Line: 2, Column: 6}, res["end"])
}

func TestAnalyze(t *testing.T) {
	r := newRegistry(t)

	out := call(t, r, "analyze", []interface{}{"def foo(a): pass\n"}, nil)
	assert.Contains(t, out, "module 1:1")
	assert.Contains(t, out, "function_definition 1:1-1:17")

	deep := call(t, r, "analyze", []interface{}{"def foo(a): pass\n", float64(3), true}, nil)
	assert.Contains(t, deep, `name: identifier 1:5-1:8 "foo"`)
	assert.Contains(t, deep, `def 1:1-1:4 "def"`)

	shallow := call(t, r, "analyze", []interface{}{"x = 1\ny = 2\n"}, map[string]interface{}{"deep": float64(0), "start": "2:1", "end": "2:2"})
	assert.Equal(t, "expression_statement 2:1-2:6", shallow)
}

func TestListOperationsForSource(t *testing.T) {
	r := newRegistry(t)
	out := call(t, r, "list_operations", []interface{}{"class A: pass\n"}, nil)

	var names []string
	for _, info := range out.([]provider.OperationInfo) {
		if info.Provider == Name {
			names = append(names, info.Name)
		}
	}
	// get_selection needs a region, the def-only operations need a def.
	assert.Equal(t, []string{"analyze", "get_current", "get_parents"}, names)
}
