// Package pipeline runs an operation body inside the fixed sequence
// parse, resolve region, validate, call, splice. An invocation either
// returns a value or exactly one *Error; nothing is spliced unless the
// body succeeds.
package pipeline

import (
	"errors"
	"fmt"
	"runtime/debug"

	"reddel/internal/logging"
	"reddel/internal/region"
	"reddel/internal/source"
	"reddel/internal/validate"
)

// Reserved keyword arguments carrying the region.
const (
	StartKey = "start"
	EndKey   = "end"
)

// Body implements an operation. Source-emitting bodies return nil,
// *source.Node, source.Selection, *source.Tree, source.Fragment or string.
type Body func(call *Call) (interface{}, error)

// Param documents one argument after the source text.
type Param struct {
	Name     string      `json:"name"`
	Doc      string      `json:"doc,omitempty"`
	Default  interface{} `json:"default,omitempty"`
	Optional bool        `json:"optional,omitempty"`
}

// Operation is a named body plus the checks that guard it.
type Operation struct {
	Name          string
	Doc           string
	Params        []Param // nil disables argument shape checks
	Validators    validate.Chain
	ExpectsSource bool
	EmitsSource   bool
	Body          Body
}

// Signature renders the operation like a function header.
func (op *Operation) Signature() string {
	s := op.Name + "("
	first := true
	if op.ExpectsSource {
		s += "source"
		first = false
	}
	for _, p := range op.Params {
		if !first {
			s += ", "
		}
		first = false
		s += p.Name
		if p.Optional {
			if p.Default == nil {
				s += "=None"
			} else {
				s += fmt.Sprintf("=%v", p.Default)
			}
		}
	}
	if _, ok := op.Validators.Region(); ok {
		if !first {
			s += ", "
		}
		s += "start=None, end=None"
	}
	return s + ")"
}

// Options carries per-process pipeline settings.
type Options struct {
	Parser         *source.Parser // nil uses the shared parser
	Region         region.Options
	MaxSourceBytes int // 0 means unlimited
}

func (o Options) parse(text string) (*source.Tree, error) {
	if o.Parser != nil {
		return o.Parser.Parse(text)
	}
	return source.Parse(text)
}

// Invoke runs op against the raw call arguments.
func Invoke(op *Operation, args []interface{}, kwargs map[string]interface{}, opts Options) (interface{}, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, op.Name)
	defer timer.Stop()

	if !op.ExpectsSource {
		call := &Call{Op: op.Name, Args: args, Kwargs: kwargs}
		if err := checkShape(op, call); err != nil {
			return nil, &Error{Kind: KindArgMismatch, Op: op.Name, Err: err}
		}
		return runBody(op, call)
	}

	call, err := prepare(op, args, kwargs, opts)
	if err != nil {
		return nil, err
	}

	result, err := runBody(op, call)
	if err != nil {
		return nil, err
	}
	if !op.EmitsSource {
		return result, nil
	}
	return splice(op, call, result)
}

// Check runs the parse, region and validation steps for text without
// calling the body. Operations that take no source always pass.
func Check(op *Operation, text string, r *region.Region, opts Options) error {
	if !op.ExpectsSource {
		return nil
	}
	if _, ok := op.Validators.Region(); !ok {
		r = nil
	}
	_, err := selectAndValidate(op, text, r, opts)
	return err
}

// prepare performs steps one to four and builds the body's Call.
func prepare(op *Operation, args []interface{}, kwargs map[string]interface{}, opts Options) (*Call, error) {
	mismatch := func(err error) error {
		return &Error{Kind: KindArgMismatch, Op: op.Name, Err: err}
	}

	if len(args) == 0 {
		return nil, mismatch(argErrorf("source", "missing source text as first argument"))
	}
	text, ok := args[0].(string)
	if !ok {
		return nil, mismatch(argErrorf("source", "expected source text but got %T", args[0]))
	}
	if opts.MaxSourceBytes > 0 && len(text) > opts.MaxSourceBytes {
		return nil, mismatch(argErrorf("source", "source is %d bytes, limit is %d", len(text), opts.MaxSourceBytes))
	}

	rest := make(map[string]interface{}, len(kwargs))
	for k, v := range kwargs {
		rest[k] = v
	}
	var r *region.Region
	if _, ok := op.Validators.Region(); ok {
		var err error
		r, err = extractRegion(rest)
		if err != nil {
			return nil, mismatch(err)
		}
	}

	call := &Call{Op: op.Name, HadRegion: r != nil, Args: args[1:], Kwargs: rest}
	if err := checkShape(op, call); err != nil {
		return nil, mismatch(err)
	}

	sel, err := selectAndValidate(op, text, r, opts)
	if err != nil {
		return nil, err
	}
	call.Tree = sel.Tree
	call.Selection = sel
	return call, nil
}

func selectAndValidate(op *Operation, text string, r *region.Region, opts Options) (source.Selection, error) {
	tree, err := opts.parse(text)
	if err != nil {
		return source.Selection{}, &Error{Kind: KindParse, Op: op.Name, Err: err}
	}
	sel, err := region.Resolve(tree, r, opts.Region)
	if err != nil {
		return source.Selection{}, &Error{Kind: KindRegion, Op: op.Name, Err: err}
	}
	if err := op.Validators.Validate(sel, r != nil); err != nil {
		logging.PipelineDebug("%s rejected: %v", op.Name, err)
		return source.Selection{}, &Error{Kind: KindValidation, Op: op.Name, Err: err}
	}
	return sel, nil
}

// extractRegion removes start/end from kwargs and decodes them.
func extractRegion(kwargs map[string]interface{}) (*region.Region, error) {
	startV, endV := kwargs[StartKey], kwargs[EndKey]
	delete(kwargs, StartKey)
	delete(kwargs, EndKey)
	return RegionFromArgs(startV, endV)
}

// RegionFromArgs decodes the start and end arguments of a call into a
// Region. Both or neither must be present; null counts as absent. Failures
// are *ArgError.
func RegionFromArgs(startV, endV interface{}) (*region.Region, error) {
	if startV == nil && endV == nil {
		return nil, nil
	}
	if startV == nil || endV == nil {
		return nil, argErrorf("start/end", "start and end must be given together")
	}
	start, err := source.ParsePosition(startV)
	if err != nil {
		return nil, argErrorf(StartKey, "%v", err)
	}
	end, err := source.ParsePosition(endV)
	if err != nil {
		return nil, argErrorf(EndKey, "%v", err)
	}
	return &region.Region{Start: start, End: end}, nil
}

// checkShape rejects surplus positional arguments, unknown keywords and
// missing required parameters.
func checkShape(op *Operation, call *Call) error {
	if op.Params == nil {
		return nil
	}
	if len(call.Args) > len(op.Params) {
		return argErrorf("", "%s takes %d argument(s) after the source but got %d", op.Name, len(op.Params), len(call.Args))
	}
	known := make(map[string]int, len(op.Params))
	for i, p := range op.Params {
		known[p.Name] = i
	}
	for k := range call.Kwargs {
		i, ok := known[k]
		if !ok {
			return argErrorf(k, "unexpected keyword argument")
		}
		if i < len(call.Args) {
			return argErrorf(k, "given both by position and by keyword")
		}
	}
	for i, p := range op.Params {
		if !p.Optional && !call.Has(i, p.Name) {
			return argErrorf(p.Name, "missing required argument")
		}
	}
	return nil
}

func runBody(op *Operation, call *Call) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryPipeline).Error("%s panicked: %v", op.Name, r)
			result = nil
			err = &Error{Kind: KindBody, Op: op.Name, Err: fmt.Errorf("panic: %v", r), Stack: string(debug.Stack())}
		}
	}()
	result, err = op.Body(call)
	if err != nil {
		var aerr *ArgError
		if errors.As(err, &aerr) {
			return nil, &Error{Kind: KindArgMismatch, Op: op.Name, Err: err}
		}
		return nil, &Error{Kind: KindBody, Op: op.Name, Err: err}
	}
	return result, nil
}

// splice renders the body result and puts it back in place of the
// selection span. Text outside the span is copied from the input unchanged.
func splice(op *Operation, call *Call, result interface{}) (interface{}, error) {
	tree, sel := call.Tree, call.Selection
	if bounds, ok := tree.EditBounds(); ok && !sel.Span.Contains(bounds) {
		return nil, &Error{Kind: KindBody, Op: op.Name,
			Err: fmt.Errorf("edit at %s lies outside the selection %s", bounds, sel.Span)}
	}

	var rendered string
	switch v := result.(type) {
	case nil:
		rendered = sel.Render()
	case string:
		rendered = v
	case source.Fragment:
		rendered = v.Render()
	case *source.Node:
		if v.Tree() == tree {
			rendered = sel.Render()
		} else {
			rendered = v.Render()
		}
	case source.Selection:
		if v.Tree == tree {
			rendered = sel.Render()
		} else {
			rendered = v.Render()
		}
	case *source.Tree:
		if v == tree {
			rendered = sel.Render()
		} else {
			rendered = v.Render()
		}
	case source.Renderable:
		rendered = v.Render()
	default:
		return nil, &Error{Kind: KindBody, Op: op.Name,
			Err: fmt.Errorf("source-emitting body returned %T", result)}
	}

	text := tree.Text()
	out := text[:sel.Span.Start] + rendered + text[sel.Span.End:]
	logging.PipelineDebug("%s spliced %d bytes at %s", op.Name, len(rendered), sel.Span)
	return out, nil
}
