// Package plugin loads providers written as Go scripts and watches a plugin
// directory for new ones.
//
// A script is a single Go file in package main interpreted with yaegi. It
// declares:
//
//	func Name() string                                          // provider name
//	func Operations() []string                                  // operation names
//	func Apply(op, text string, args []interface{}) (string, error)
//
// and optionally:
//
//	func Doc(op string) string       // operation documentation
//	func Kinds(op string) []string   // allowed node kinds
//	func Filter(op string) string    // expr-lang condition over the selection
//
// Every script operation takes source and emits source. Apply receives the
// rendered text of the selection and returns its replacement.
package plugin

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"reddel/internal/logging"
	"reddel/internal/pipeline"
	"reddel/internal/provider"
	"reddel/internal/source"
	"reddel/internal/validate"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DefaultAllowedImports are the packages a script may import when the
// configuration does not name any.
var DefaultAllowedImports = []string{
	"bytes",
	"errors",
	"fmt",
	"math",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"unicode",
	"unicode/utf8",
}

// ErrScriptTimeout is returned when Apply does not finish in time.
var ErrScriptTimeout = errors.New("script timed out")

// ErrScriptBusy is returned while a timed-out Apply is still running.
var ErrScriptBusy = errors.New("script is still running a previous call")

// ApplyFunc is the signature scripts export as Apply.
type ApplyFunc func(op, text string, args []interface{}) (string, error)

// Loader interprets script providers. It satisfies provider.Loader.
type Loader struct {
	allowed map[string]bool
	timeout time.Duration
}

// NewLoader creates a loader accepting the given imports (DefaultAllowedImports
// if empty). A zero timeout lets Apply run unbounded.
func NewLoader(allowed []string, timeout time.Duration) *Loader {
	if len(allowed) == 0 {
		allowed = DefaultAllowedImports
	}
	l := &Loader{allowed: make(map[string]bool, len(allowed)), timeout: timeout}
	for _, pkg := range allowed {
		l.allowed[pkg] = true
	}
	return l
}

// Allowed returns the accepted imports in sorted order.
func (l *Loader) Allowed() []string {
	out := make([]string, 0, len(l.allowed))
	for pkg := range l.allowed {
		out = append(out, pkg)
	}
	sort.Strings(out)
	return out
}

// Load reads, checks and interprets the script at path.
func (l *Loader) Load(path string) (*provider.Provider, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return l.LoadSource(path, string(code))
}

// LoadSource interprets code as the script stored at path. path becomes the
// provider handle.
func (l *Loader) LoadSource(path, code string) (*provider.Provider, error) {
	timer := logging.StartTimer(logging.CategoryPlugin, "load "+path)
	defer timer.Stop()

	if err := l.checkImports(path, code); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{Stdout: os.Stderr, Stderr: os.Stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(code); err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", path, err)
	}

	s := &script{path: path, timeout: l.timeout}
	if err := s.bind(i); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if s.name != nil {
		name = s.name()
	}
	p := provider.New(name, path, "Script provider loaded from "+path+".")
	for _, opName := range s.operations() {
		op, err := s.operation(opName)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := p.Add(op); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	logging.Plugin("Loaded script provider %s from %s with %d operations", name, path, len(p.Names()))
	return p, nil
}

// checkImports rejects scripts outside package main or importing packages
// missing from the allow-list.
func (l *Loader) checkImports(path, code string) error {
	f, err := parser.ParseFile(token.NewFileSet(), path, code, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse script: %w", err)
	}
	if f.Name.Name != "main" {
		return fmt.Errorf("script %s: package must be main, got %s", path, f.Name.Name)
	}
	var forbidden []string
	for _, imp := range f.Imports {
		pkg, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("script %s: bad import %s", path, imp.Path.Value)
		}
		if !l.allowed[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("script %s: forbidden imports %v (allowed: %v)", path, forbidden, l.Allowed())
	}
	return nil
}

// script holds the bound exports of one interpreted file. yaegi values are
// not safe for concurrent calls, so calls are serialized. running is closed
// when the last Apply returns; until then a timed-out call still owns the
// interpreter and new calls fail with ErrScriptBusy.
type script struct {
	mu      sync.Mutex
	running chan struct{}
	path    string
	timeout time.Duration

	name       func() string
	operations func() []string
	doc        func(string) string
	kinds      func(string) []string
	filter     func(string) string
	apply      ApplyFunc
}

func (s *script) bind(i *interp.Interpreter) error {
	lookup := func(sym string) (interface{}, bool) {
		v, err := i.Eval("main." + sym)
		if err != nil || !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	}
	wrong := func(sym, want string) error {
		return fmt.Errorf("%s has the wrong signature, want %s", sym, want)
	}

	v, ok := lookup("Operations")
	if !ok {
		return errors.New("missing func Operations() []string")
	}
	if s.operations, ok = v.(func() []string); !ok {
		return wrong("Operations", "func() []string")
	}

	v, ok = lookup("Apply")
	if !ok {
		return errors.New("missing func Apply(op, text string, args []interface{}) (string, error)")
	}
	apply, ok := v.(func(string, string, []interface{}) (string, error))
	if !ok {
		return wrong("Apply", "func(op, text string, args []interface{}) (string, error)")
	}
	s.apply = apply

	if v, ok := lookup("Name"); ok {
		if s.name, ok = v.(func() string); !ok {
			return wrong("Name", "func() string")
		}
	}
	if v, ok := lookup("Doc"); ok {
		if s.doc, ok = v.(func(string) string); !ok {
			return wrong("Doc", "func(op string) string")
		}
	}
	if v, ok := lookup("Kinds"); ok {
		if s.kinds, ok = v.(func(string) []string); !ok {
			return wrong("Kinds", "func(op string) []string")
		}
	}
	if v, ok := lookup("Filter"); ok {
		if s.filter, ok = v.(func(string) string); !ok {
			return wrong("Filter", "func(op string) string")
		}
	}
	return nil
}

// operation builds the pipeline operation for one exported op name.
func (s *script) operation(name string) (*pipeline.Operation, error) {
	chain := validate.Chain{validate.Optional()}
	if s.kinds != nil {
		if kinds := s.kinds(name); len(kinds) > 0 {
			chain = append(chain, validate.Kinds(kinds...))
		}
	}
	if s.filter != nil {
		if cond := strings.TrimSpace(s.filter(name)); cond != "" {
			ep, err := validate.NewExpr(cond)
			if err != nil {
				return nil, fmt.Errorf("operation %s: %w", name, err)
			}
			chain = append(chain, ep)
		}
	}
	doc := ""
	if s.doc != nil {
		doc = s.doc(name)
	}
	return &pipeline.Operation{
		Name:          name,
		Doc:           doc,
		Validators:    chain,
		ExpectsSource: true,
		EmitsSource:   true,
		Body: func(c *pipeline.Call) (interface{}, error) {
			out, err := s.call(name, c.Selection.Render(), c.Args)
			if err != nil {
				return nil, err
			}
			return source.Fragment(out), nil
		},
	}, nil
}

func (s *script) call(op, text string, args []interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != nil {
		select {
		case <-s.running:
			s.running = nil
		default:
			return "", fmt.Errorf("%s: %w", op, ErrScriptBusy)
		}
	}

	logging.PluginDebug("Calling %s in %s", op, s.path)
	if s.timeout <= 0 {
		return s.run(op, text, args)
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	running := make(chan struct{})
	s.running = running
	go func() {
		// the interpreter stays claimed until Apply returns, even after a timeout
		defer close(running)
		out, err := s.run(op, text, args)
		done <- result{out, err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.out, r.err
	case <-timer.C:
		logging.PluginWarn("Script %s: %s did not finish within %s", s.path, op, s.timeout)
		return "", fmt.Errorf("%s: %w after %s", op, ErrScriptTimeout, s.timeout)
	}
}

// run calls Apply and turns a panic in the script into an error.
func (s *script) run(op, text string, args []interface{}) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.PluginWarn("Script %s: %s panicked: %v\n%s", s.path, op, r, debug.Stack())
			out, err = "", fmt.Errorf("%s: panic: %v", op, r)
		}
	}()
	return s.apply(op, text, args)
}
