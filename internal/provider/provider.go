// Package provider groups operations into named providers and keeps them in
// an ordered, append-only registry that can grow while the server runs.
package provider

import (
	"fmt"
	"sort"

	"reddel/internal/pipeline"
)

// Provider is a named collection of operations.
type Provider struct {
	Name   string
	Handle string // factory name or script path it was created from
	Doc    string

	ops map[string]*pipeline.Operation
}

// New creates an empty provider.
func New(name, handle, doc string) *Provider {
	return &Provider{
		Name:   name,
		Handle: handle,
		Doc:    doc,
		ops:    make(map[string]*pipeline.Operation),
	}
}

// Add attaches an operation. Names must be unique within the provider.
func (p *Provider) Add(op *pipeline.Operation) error {
	if op == nil || op.Name == "" {
		return fmt.Errorf("%w: operation name cannot be empty", ErrInvalidOperation)
	}
	if op.Body == nil {
		return fmt.Errorf("%w: %s has no body", ErrInvalidOperation, op.Name)
	}
	if _, exists := p.ops[op.Name]; exists {
		return fmt.Errorf("%w: %s defined twice in %s", ErrInvalidOperation, op.Name, p.Name)
	}
	p.ops[op.Name] = op
	return nil
}

// MustAdd adds operations and panics on error.
// Use this for compiled-in providers.
func (p *Provider) MustAdd(ops ...*pipeline.Operation) *Provider {
	for _, op := range ops {
		if err := p.Add(op); err != nil {
			panic(fmt.Sprintf("failed to add operation to %s: %v", p.Name, err))
		}
	}
	return p
}

// Operation returns the named operation.
func (p *Provider) Operation(name string) (*pipeline.Operation, bool) {
	op, ok := p.ops[name]
	return op, ok
}

// Operations returns the provider's operations sorted by name.
func (p *Provider) Operations() []*pipeline.Operation {
	out := make([]*pipeline.Operation, 0, len(p.ops))
	for _, op := range p.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted operation names.
func (p *Provider) Names() []string {
	ops := p.Operations()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	return names
}

func (p *Provider) String() string {
	return fmt.Sprintf("<provider %s (%s) with %d operations>", p.Name, p.Handle, len(p.ops))
}
