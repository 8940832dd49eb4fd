package server

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"reddel/internal/pipeline"
	"reddel/internal/provider"
	"reddel/internal/python"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	r := provider.NewRegistry(pipeline.Options{})
	r.RegisterFactory(provider.CoreName, provider.Core)
	r.RegisterFactory(python.Name, python.New)
	for _, h := range []string{provider.CoreName, python.Name} {
		_, err := r.RegisterHandle(h)
		require.NoError(t, err)
	}
	r.MustRegister(provider.New("testing", "testing", "").MustAdd(&pipeline.Operation{
		Name:   "explode",
		Params: []pipeline.Param{},
		Body: func(*pipeline.Call) (interface{}, error) {
			panic("boom")
		},
	}))
	return r
}

// dial serves one side of an in-memory pipe and returns a client on the other.
func dial(t *testing.T, s *Server) jsonrpc2.Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.ServeConn(ctx, serverSide)
	}()

	client := jsonrpc2.NewConn(jsonrpc2.NewStream(clientSide))
	client.Go(ctx, jsonrpc2.MethodNotFoundHandler)
	t.Cleanup(func() {
		client.Close()
		<-client.Done()
		<-done
		cancel()
	})
	return client
}

func rpcError(t *testing.T, err error) (*jsonrpc2.Error, ErrorData) {
	t.Helper()
	require.Error(t, err)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	var data ErrorData
	if rpcErr.Data != nil {
		require.NoError(t, json.Unmarshal(*rpcErr.Data, &data))
	}
	return rpcErr, data
}

func TestRoundTrip(t *testing.T) {
	client := dial(t, New(newRegistry(t), Options{}))
	ctx := context.Background()

	var version string
	_, err := client.Call(ctx, "version", nil, &version)
	require.NoError(t, err)
	assert.Equal(t, provider.Version, version)

	var echoed []interface{}
	_, err = client.Call(ctx, "echo", []interface{}{[]interface{}{"a", 1}}, &echoed)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", float64(1)}, echoed)

	var out string
	_, err = client.Call(ctx, "add_arg", []interface{}{"def foo(arg1, arg3): pass", 1, "arg2"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "def foo(arg1, arg2, arg3): pass", out)

	_, err = client.Call(ctx, "rename_arg", map[string]interface{}{
		"args":   []interface{}{"x = 1\n\ndef f(a): return a\n"},
		"kwargs": map[string]interface{}{"oldname": "a", "newname": "b", "start": []int{3, 1}, "end": []int{3, 2}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n\ndef f(b): return b\n", out)

	var parents []map[string]interface{}
	_, err = client.Call(ctx, "get_parents", []interface{}{"def f(a): return a\n", []int{1, 18}}, &parents)
	require.NoError(t, err)
	require.NotEmpty(t, parents)
	if diff := cmp.Diff(map[string]interface{}{
		"identifier": "identifier",
		"start":      []interface{}{float64(1), float64(18)},
		"end":        []interface{}{float64(1), float64(19)},
	}, parents[0]); diff != "" {
		t.Errorf("first parent mismatch (-want +got):\n%s", diff)
	}
}

func TestErrors(t *testing.T) {
	client := dial(t, New(newRegistry(t), Options{Debug: true}))
	ctx := context.Background()

	tests := []struct {
		name      string
		method    string
		params    interface{}
		code      jsonrpc2.Code
		kind      string
		reason    string
		withStack bool
	}{
		{"unknown operation", "nope", nil, jsonrpc2.MethodNotFound, "unknown_operation", "", false},
		{"arg mismatch", "add_arg", []interface{}{"def f(): pass\n"}, jsonrpc2.InvalidParams, "arg_mismatch", "", false},
		{"half a region", "get_args", map[string]interface{}{"args": []interface{}{"def f(): pass\n"}, "kwargs": map[string]interface{}{"start": "1:1"}}, jsonrpc2.InvalidParams, "arg_mismatch", "", false},
		{"parse", "get_args", []interface{}{"def f(:\n"}, CodeParse, "parse", "", false},
		{"region", "get_args", map[string]interface{}{"args": []interface{}{"def f(): pass\n"}, "kwargs": map[string]interface{}{"start": "9:1", "end": "9:2"}}, CodeRegion, "region", "out_of_bounds", false},
		{"validation", "get_selection", []interface{}{"x = 1\n"}, CodeValidation, "validation", "region_required", false},
		{"body", "rename_arg", []interface{}{"def f(a): pass\n", "b", "c"}, CodeBody, "body", "", false},
		{"panic", "explode", nil, CodeBody, "body", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out interface{}
			_, err := client.Call(ctx, tt.method, tt.params, &out)
			rpcErr, data := rpcError(t, err)
			assert.Equal(t, tt.code, rpcErr.Code)
			assert.Equal(t, tt.kind, data.Kind)
			assert.Equal(t, tt.method, data.Operation)
			assert.Equal(t, tt.reason, data.Reason)
			assert.NotEmpty(t, data.Detail)
			assert.Equal(t, tt.withStack, data.Stack != "")
		})
	}

	var out interface{}
	_, err := client.Call(ctx, "get_args", []interface{}{"def f(:\n"}, &out)
	_, data := rpcError(t, err)
	require.NotNil(t, data.Position)
	assert.Equal(t, 1, data.Position.Line)
}

func TestStackHiddenWithoutDebug(t *testing.T) {
	client := dial(t, New(newRegistry(t), Options{}))

	var out interface{}
	_, err := client.Call(context.Background(), "explode", nil, &out)
	_, data := rpcError(t, err)
	assert.Equal(t, "body", data.Kind)
	assert.Empty(t, data.Stack)
}

func TestRegistryExtensionOverRPC(t *testing.T) {
	r := newRegistry(t)
	r.RegisterFactory("extra", func(*provider.Registry) (*provider.Provider, error) {
		return provider.New("extra", "", "").MustAdd(&pipeline.Operation{
			Name:   "answer",
			Params: []pipeline.Param{},
			Body:   func(*pipeline.Call) (interface{}, error) { return 42, nil },
		}), nil
	})
	client := dial(t, New(r, Options{}))
	ctx := context.Background()

	var n int
	_, err := client.Call(ctx, "answer", nil, &n)
	rpcErr, _ := rpcError(t, err)
	assert.Equal(t, jsonrpc2.MethodNotFound, rpcErr.Code)

	var info provider.ProviderInfo
	_, err = client.Call(ctx, "register_provider", []interface{}{"extra"}, &info)
	require.NoError(t, err)
	assert.Equal(t, []string{"answer"}, info.Operations)

	_, err = client.Call(ctx, "answer", nil, &n)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestServeTCP(t *testing.T) {
	ln, err := Listen("127.0.0.1", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(newRegistry(t), Options{})
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, ln) }()

	nc, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	client := jsonrpc2.NewConn(jsonrpc2.NewStream(nc))
	client.Go(ctx, jsonrpc2.MethodNotFoundHandler)

	var version string
	_, err = client.Call(ctx, "version", nil, &version)
	require.NoError(t, err)
	assert.Equal(t, provider.Version, version)

	cancel()
	require.NoError(t, <-served)
	client.Close()
	<-client.Done()
}

func TestDecodeParams(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantArgs   []interface{}
		wantKwargs map[string]interface{}
		wantErr    bool
	}{
		{name: "empty", raw: ""},
		{name: "null", raw: "null"},
		{name: "array", raw: `["src", 1]`, wantArgs: []interface{}{"src", float64(1)}},
		{name: "kwargs", raw: `{"source": "x"}`, wantKwargs: map[string]interface{}{"source": "x"}},
		{name: "envelope", raw: `{"args": ["x"], "kwargs": {"start": "1:1"}}`, wantArgs: []interface{}{"x"}, wantKwargs: map[string]interface{}{"start": "1:1"}},
		{name: "args only", raw: `{"args": ["x"]}`, wantArgs: []interface{}{"x"}},
		{name: "bad args", raw: `{"args": "x"}`, wantErr: true},
		{name: "bad kwargs", raw: `{"kwargs": []}`, wantErr: true},
		{name: "scalar", raw: `3`, wantErr: true},
		{name: "garbage", raw: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, kwargs, err := DecodeParams(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgs, args)
			assert.Equal(t, tt.wantKwargs, kwargs)
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, jsonrpc2.InternalError, CodeOf(assert.AnError))
	assert.Equal(t, CodeBody, CodeOf(&pipeline.Error{Kind: pipeline.KindBody, Err: assert.AnError}))
}
