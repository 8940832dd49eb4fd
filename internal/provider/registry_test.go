package provider

import (
	"errors"
	"strings"
	"testing"

	"reddel/internal/logging"
	"reddel/internal/pipeline"
	"reddel/internal/source"
	"reddel/internal/validate"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(name, value string) *pipeline.Operation {
	return &pipeline.Operation{
		Name:   name,
		Params: []pipeline.Param{},
		Body:   func(c *pipeline.Call) (interface{}, error) { return value, nil },
	}
}

func renameDef() *pipeline.Operation {
	return &pipeline.Operation{
		Name:          "rename_def",
		Doc:           "Rename the selected function.",
		Params:        []pipeline.Param{{Name: "name"}},
		Validators:    validate.Chain{validate.Optional(), validate.Single(), validate.Kinds("def")},
		ExpectsSource: true,
		EmitsSource:   true,
		Body: func(c *pipeline.Call) (interface{}, error) {
			name, err := c.String(0, "name")
			if err != nil {
				return nil, err
			}
			def := c.Selection.First().Definition()
			return def, c.Tree.Replace(def.Child("name"), name)
		},
	}
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(pipeline.Options{})
	r.RegisterFactory(CoreName, Core)
	_, err := r.RegisterHandle(CoreName)
	require.NoError(t, err)
	return r
}

func TestRegisterDuplicate(t *testing.T) {
	r := newRegistry(t)
	err := r.Register(New(CoreName, "other", ""))
	assert.ErrorIs(t, err, ErrDuplicateProvider)
	assert.Len(t, r.Providers(), 1)
}

func TestUnknownOperation(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Call("does_not_exist", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)

	_, err = r.Describe("does_not_exist")
	assert.ErrorIs(t, err, ErrUnknownOperation)

	_, err = r.RegisterHandle("nowhere")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestShadowing(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(New("first", "first", "").MustAdd(constant("greet", "hello"), constant("only_first", "1"))))
	require.NoError(t, r.Register(New("second", "second", "").MustAdd(constant("greet", "hi"))))

	out, err := r.Call("greet", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	out, err = r.Call("only_first", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	var greets []OperationInfo
	for _, info := range r.Operations() {
		if info.Name == "greet" {
			greets = append(greets, info)
		}
	}
	want := []OperationInfo{
		{Name: "greet", Provider: "first", Signature: "greet()", Shadowed: true},
		{Name: "greet", Provider: "second", Signature: "greet()", Shadowed: false},
	}
	if diff := cmp.Diff(want, greets); diff != "" {
		t.Errorf("greet listing mismatch (-want +got):\n%s", diff)
	}
}

func TestOperationsStable(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(New("p", "p", "").MustAdd(constant("zeta", "z"), constant("alpha", "a"))))

	first := r.Operations()
	assert.Equal(t, first, r.Operations())

	// core operations come first, then p's in name order
	n := len(first)
	assert.Equal(t, "alpha", first[n-2].Name)
	assert.Equal(t, "zeta", first[n-1].Name)
	assert.Equal(t, CoreName, first[0].Provider)
}

func TestRuntimeExtension(t *testing.T) {
	r := newRegistry(t)
	r.RegisterFactory("refactor", func(*Registry) (*Provider, error) {
		return New("refactor", "", "").MustAdd(renameDef()), nil
	})

	_, err := r.Call("rename_def", []interface{}{"def foo(): pass"}, map[string]interface{}{"name": "bar"})
	assert.ErrorIs(t, err, ErrUnknownOperation)

	info, err := r.Call("register_provider", []interface{}{"refactor"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "refactor", info.(ProviderInfo).Name)
	assert.Equal(t, []string{"rename_def"}, info.(ProviderInfo).Operations)

	listed, err := r.Call("list_operations", nil, nil)
	require.NoError(t, err)
	var names []string
	for _, op := range listed.([]OperationInfo) {
		names = append(names, op.Name)
	}
	assert.Contains(t, names, "rename_def")

	out, err := r.Call("rename_def", []interface{}{"x = 1\n\ndef foo(): pass\n"}, map[string]interface{}{
		"name": "bar", "start": "3:1", "end": "3:16",
	})
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n\ndef bar(): pass\n", out)

	_, err = r.Call("register_provider", []interface{}{"refactor"}, nil)
	assert.ErrorIs(t, err, ErrDuplicateProvider)
	assert.Equal(t, pipeline.KindBody, pipeline.KindOf(err))
}

type stubLoader struct {
	paths []string
}

func (l *stubLoader) Load(path string) (*Provider, error) {
	l.paths = append(l.paths, path)
	if strings.Contains(path, "broken") {
		return nil, errors.New("syntax error")
	}
	return New("scripted", "", "").MustAdd(constant("scripted_op", path)), nil
}

func TestRegisterHandleUsesLoaderForScripts(t *testing.T) {
	r := newRegistry(t)
	_, err := r.RegisterHandle("plugins/x.go")
	assert.ErrorIs(t, err, ErrUnknownProvider, "no loader installed")

	loader := &stubLoader{}
	r.SetLoader(loader)

	p, err := r.RegisterHandle("plugins/x.go")
	require.NoError(t, err)
	assert.Equal(t, "plugins/x.go", p.Handle)
	assert.True(t, r.HasHandle("plugins/x.go"))

	_, err = r.RegisterHandle("plugins/broken.go")
	assert.Error(t, err)
	assert.Equal(t, []string{"plugins/x.go", "plugins/broken.go"}, loader.paths)
}

func TestDescribeAndHelp(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(New("refactor", "refactor", "").MustAdd(renameDef())))

	d, err := r.Describe("rename_def")
	require.NoError(t, err)
	assert.Equal(t, "refactor", d.Provider)
	assert.True(t, d.ExpectsSource)
	assert.True(t, d.EmitsSource)
	assert.Equal(t, "optional", d.RegionPolicy)
	assert.Equal(t, []string{"def"}, d.AllowedKinds)
	require.NotNil(t, d.Count)
	assert.Equal(t, 1, *d.Count)

	v, err := r.Describe("version")
	require.NoError(t, err)
	assert.Equal(t, "none", v.RegionPolicy)
	assert.Nil(t, v.Count)

	viaCall, err := r.Call("describe", []interface{}{"rename_def"}, nil)
	require.NoError(t, err)
	assert.Equal(t, d, viaCall)

	_, err = r.Call("describe", []interface{}{"nope"}, nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)

	help, err := r.Call("help", []interface{}{"rename_def"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "rename_def(source, name, start=None, end=None)\n\nRename the selected function.", help)
}

func TestListOperationsFiltersBySource(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(New("refactor", "refactor", "").MustAdd(renameDef())))

	names := func(v interface{}) []string {
		var out []string
		for _, info := range v.([]OperationInfo) {
			out = append(out, info.Name)
		}
		return out
	}

	got, err := r.Call("list_operations", []interface{}{"def foo(): pass\n"}, nil)
	require.NoError(t, err)
	assert.Contains(t, names(got), "rename_def")
	assert.Contains(t, names(got), "version")

	got, err = r.Call("list_operations", []interface{}{"class A: pass\n"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, names(got), "rename_def")

	got, err = r.Call("list_operations", nil, map[string]interface{}{
		"source": "x = 1\ndef foo(): pass\n", "start": "2:1", "end": "2:5",
	})
	require.NoError(t, err)
	assert.Contains(t, names(got), "rename_def")

	_, err = r.Call("list_operations", nil, map[string]interface{}{"source": "x = 1\n", "start": "1:1"})
	assert.Equal(t, pipeline.KindArgMismatch, pipeline.KindOf(err))
}

func TestCoreOperations(t *testing.T) {
	r := newRegistry(t)

	v, err := r.Call("version", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Version, v)

	e, err := r.Call("echo", []interface{}{[]interface{}{"a", float64(1)}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", float64(1)}, e)

	_, err = r.Call("echo", nil, nil)
	assert.Equal(t, pipeline.KindArgMismatch, pipeline.KindOf(err))

	d, err := r.Call("diff", []interface{}{"def foo(a): pass\n", "def foo(a, b): pass\n"}, nil)
	require.NoError(t, err)
	res := d.(map[string]interface{})
	assert.Equal(t, true, res["changed"])
	assert.Equal(t, 1, res["added"])
	assert.Equal(t, 1, res["removed"])
	assert.Contains(t, res["unified"], "+def foo(a, b): pass")

	providers, err := r.Call("list_providers", nil, nil)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, CoreName, providers.([]ProviderInfo)[0].Name)
}

func TestSetLoggingLevel(t *testing.T) {
	r := newRegistry(t)
	t.Cleanup(func() { _ = logging.SetLevel("info") })

	_, err := r.Call("set_logging_level", []interface{}{"DEBUG"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", logging.LevelName())

	_, err = r.Call("set_logging_level", []interface{}{"CRITICAL"}, nil)
	require.NoError(t, err)

	_, err = r.Call("set_logging_level", []interface{}{"CHATTY"}, nil)
	assert.Equal(t, pipeline.KindArgMismatch, pipeline.KindOf(err))
}

func TestFailedCallLeavesRegistryIntact(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Register(New("refactor", "refactor", "").MustAdd(renameDef())))
	before := r.Operations()

	_, err := r.Call("rename_def", []interface{}{"def (", "x"}, nil)
	assert.Equal(t, pipeline.KindParse, pipeline.KindOf(err))
	var perr *source.ParseError
	assert.True(t, errors.As(err, &perr))

	assert.Equal(t, before, r.Operations())
}

func TestProviderAddRejectsInvalid(t *testing.T) {
	p := New("p", "p", "")
	assert.ErrorIs(t, p.Add(&pipeline.Operation{Name: ""}), ErrInvalidOperation)
	assert.ErrorIs(t, p.Add(&pipeline.Operation{Name: "x"}), ErrInvalidOperation)
	require.NoError(t, p.Add(constant("x", "1")))
	assert.ErrorIs(t, p.Add(constant("x", "2")), ErrInvalidOperation)
}
