// Package server exposes the provider registry over JSON-RPC 2.0.
//
// The method of a request is the operation name. Params may be an array
// (positional arguments), an object with "args" and/or "kwargs" members, or
// any other object (keyword arguments only).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"reddel/internal/logging"
	"reddel/internal/provider"

	"github.com/google/uuid"
	"go.lsp.dev/jsonrpc2"
)

// Options configures a Server.
type Options struct {
	// Debug adds stack traces of panicking operations to error data.
	Debug bool
}

// Server answers JSON-RPC requests by calling operations on a registry.
// Requests on one connection are handled in order.
type Server struct {
	reg  *provider.Registry
	opts Options

	mu    sync.Mutex
	conns map[jsonrpc2.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a server for reg.
func New(reg *provider.Registry, opts Options) *Server {
	return &Server{reg: reg, opts: opts, conns: make(map[jsonrpc2.Conn]struct{})}
}

// Listen opens the TCP listener. Port 0 picks a free port.
func Listen(address string, port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen on %s:%d: %w", address, port, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled or ln fails. Open
// connections are closed before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logging.Server("Serving JSON-RPC on %s", ln.Addr())
	var err error
	for {
		var nc net.Conn
		nc, err = ln.Accept()
		if err != nil {
			break
		}
		logging.ServerDebug("Accepted connection from %s", nc.RemoteAddr())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ServeConn(ctx, nc); err != nil {
				logging.ServerDebug("Connection from %s ended: %v", nc.RemoteAddr(), err)
			}
		}()
	}

	cancel()
	s.closeAll()
	s.wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ServeConn serves one connection until the peer hangs up or ctx is cancelled.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	s.track(conn, true)
	defer s.track(conn, false)

	conn.Go(ctx, s.Handler())
	select {
	case <-conn.Done():
	case <-ctx.Done():
		// a blocked stdin read may outlive the close; do not wait for it
		conn.Close()
		return nil
	}
	if err := conn.Err(); err != nil && !isClosed(err) {
		return err
	}
	return nil
}

// ServeStdio serves a single client over in and out, as used by editors that
// spawn the server as a subprocess.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	logging.Server("Serving JSON-RPC on stdio")
	return s.ServeConn(ctx, &stdio{in: in, out: out})
}

// Close closes every open connection.
func (s *Server) Close() {
	s.closeAll()
}

func (s *Server) track(conn jsonrpc2.Conn, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]jsonrpc2.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// slowRequest is the call duration above which a request is logged as a warning.
const slowRequest = time.Second

// Handler returns the jsonrpc2 handler that dispatches to the registry.
func (s *Server) Handler() jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		requestID := uuid.NewString()
		log := logging.WithRequestID(logging.CategoryServer, requestID)
		log.Debug("-> %s", req.Method())

		args, kwargs, err := DecodeParams(req.Params())
		if err != nil {
			log.Debug("<- %s: bad params: %v", req.Method(), err)
			return reply(ctx, nil, &jsonrpc2.Error{Code: jsonrpc2.InvalidParams, Message: err.Error()})
		}

		timer := logging.StartTimer(logging.CategoryServer, req.Method())
		result, err := s.reg.Call(req.Method(), args, kwargs)
		timer.StopWithThreshold(slowRequest)
		if err != nil {
			if CodeOf(err) == jsonrpc2.InternalError {
				logging.ServerError("%s [%s] failed: %v", req.Method(), requestID, err)
			} else {
				log.Debug("<- %s: %v", req.Method(), err)
			}
			return reply(ctx, nil, toRPCError(req.Method(), err, s.opts.Debug))
		}
		log.Debug("<- %s: ok", req.Method())
		return reply(ctx, result, nil)
	}
}

// DecodeParams splits request params into positional and keyword arguments.
func DecodeParams(raw json.RawMessage) ([]interface{}, map[string]interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, nil, fmt.Errorf("decode params: %w", err)
	}
	switch p := v.(type) {
	case []interface{}:
		return p, nil, nil
	case map[string]interface{}:
		argsV, hasArgs := p["args"]
		kwargsV, hasKwargs := p["kwargs"]
		if !hasArgs && !hasKwargs {
			return nil, p, nil
		}
		var args []interface{}
		var kwargs map[string]interface{}
		if hasArgs && argsV != nil {
			a, ok := argsV.([]interface{})
			if !ok {
				return nil, nil, errors.New(`params "args" must be an array`)
			}
			args = a
		}
		if hasKwargs && kwargsV != nil {
			k, ok := kwargsV.(map[string]interface{})
			if !ok {
				return nil, nil, errors.New(`params "kwargs" must be an object`)
			}
			kwargs = k
		}
		return args, kwargs, nil
	default:
		return nil, nil, fmt.Errorf("params must be an array or an object, got %T", v)
	}
}

type stdio struct {
	in  io.Reader
	out io.Writer
}

func (s *stdio) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *stdio) Write(p []byte) (int, error) { return s.out.Write(p) }

func (s *stdio) Close() error {
	if c, ok := s.in.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
