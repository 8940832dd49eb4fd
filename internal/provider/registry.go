package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"reddel/internal/logging"
	"reddel/internal/pipeline"
	"reddel/internal/region"
)

// Factory builds a compiled-in provider. It receives the registry so that
// introspection operations can reach back into it.
type Factory func(r *Registry) (*Provider, error)

// Loader turns a script path into a provider.
type Loader interface {
	Load(path string) (*Provider, error)
}

// Registry is the ordered provider chain. Providers are only ever appended;
// lookups scan from the newest provider to the oldest, so a later provider
// shadows operations of the same name in earlier ones.
type Registry struct {
	mu        sync.RWMutex
	providers []*Provider
	factories map[string]Factory
	loader    Loader
	opts      pipeline.Options
}

// NewRegistry creates an empty registry whose calls run with opts.
func NewRegistry(opts pipeline.Options) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		opts:      opts,
	}
}

// Options returns the pipeline options calls run with.
func (r *Registry) Options() pipeline.Options {
	return r.opts
}

// RegisterFactory makes a compiled-in provider available by name.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Factories returns the sorted factory names.
func (r *Registry) Factories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetLoader installs the script loader used by RegisterHandle.
func (r *Registry) SetLoader(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loader = l
}

// Register appends a provider to the chain.
func (r *Registry) Register(p *Provider) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("%w: provider name cannot be empty", ErrInvalidOperation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.providers {
		if existing.Name == p.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name)
		}
	}
	r.providers = append(r.providers, p)
	logging.Registry("registered provider %s (%s): %s", p.Name, p.Handle, strings.Join(p.Names(), ", "))
	return nil
}

// MustRegister registers p and panics on error.
func (r *Registry) MustRegister(p *Provider) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// RegisterHandle creates a provider from a factory name or a script path
// and registers it.
func (r *Registry) RegisterHandle(handle string) (*Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[handle]
	loader := r.loader
	r.mu.RUnlock()

	var (
		p   *Provider
		err error
	)
	switch {
	case ok:
		p, err = factory(r)
	case strings.HasSuffix(handle, ".go") && loader != nil:
		p, err = loader.Load(handle)
	default:
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownProvider, handle, strings.Join(r.Factories(), ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", handle, err)
	}
	if p.Handle == "" {
		p.Handle = handle
	}
	if err := r.Register(p); err != nil {
		return nil, err
	}
	return p, nil
}

// HasHandle reports whether a provider created from handle is registered.
func (r *Registry) HasHandle(handle string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Handle == handle {
			return true
		}
	}
	return false
}

// Providers returns the chain in registration order.
func (r *Registry) Providers() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Provider returns a registered provider by name.
func (r *Registry) Provider(name string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Lookup resolves an operation name, newest provider first.
func (r *Registry) Lookup(name string) (*pipeline.Operation, *Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.providers) - 1; i >= 0; i-- {
		if op, ok := r.providers[i].Operation(name); ok {
			return op, r.providers[i], true
		}
	}
	return nil, nil, false
}

// Call resolves name and runs it through the pipeline. The registry lock
// is released before the operation runs, so operations may register
// providers themselves.
func (r *Registry) Call(name string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	op, p, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	logging.RegistryDebug("dispatching %s to provider %s", name, p.Name)
	return pipeline.Invoke(op, args, kwargs, r.opts)
}

// OperationInfo is one row of the operation listing.
type OperationInfo struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	Signature     string `json:"signature"`
	ExpectsSource bool   `json:"expects_source"`
	EmitsSource   bool   `json:"emits_source"`
	Shadowed      bool   `json:"shadowed"`
}

// Operations lists every operation of every provider in registration order,
// then by name. Operations hidden by a newer provider are marked shadowed.
func (r *Registry) Operations() []OperationInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner := make(map[string]int)
	for i, p := range r.providers {
		for name := range p.ops {
			owner[name] = i
		}
	}
	var out []OperationInfo
	for i, p := range r.providers {
		for _, op := range p.Operations() {
			out = append(out, OperationInfo{
				Name:          op.Name,
				Provider:      p.Name,
				Signature:     op.Signature(),
				ExpectsSource: op.ExpectsSource,
				EmitsSource:   op.EmitsSource,
				Shadowed:      owner[op.Name] != i,
			})
		}
	}
	return out
}

// Applicable lists the visible operations that would accept text and the
// optional region, i.e. whose argument, parse, region and validation steps
// pass. Operations taking no source are always included.
func (r *Registry) Applicable(text string, reg *region.Region) []OperationInfo {
	var out []OperationInfo
	for _, info := range r.Operations() {
		if info.Shadowed {
			continue
		}
		op, _, ok := r.Lookup(info.Name)
		if !ok {
			continue
		}
		if err := pipeline.Check(op, text, reg, r.opts); err != nil {
			logging.RegistryDebug("%s not applicable: %v", info.Name, err)
			continue
		}
		out = append(out, info)
	}
	return out
}

// Description is the introspection record of one operation.
type Description struct {
	Name          string           `json:"name"`
	Provider      string           `json:"provider"`
	Signature     string           `json:"signature"`
	ExpectsSource bool             `json:"expects_source"`
	EmitsSource   bool             `json:"emits_source"`
	RegionPolicy  string           `json:"region_policy"`
	AllowedKinds  []string         `json:"allowed_kinds"`
	Count         *int             `json:"count"`
	Filters       []string         `json:"filters,omitempty"`
	Params        []pipeline.Param `json:"params"`
	Doc           string           `json:"doc"`
}

// Describe returns the introspection record of the visible operation name.
func (r *Registry) Describe(name string) (*Description, error) {
	op, p, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	d := &Description{
		Name:          op.Name,
		Provider:      p.Name,
		Signature:     op.Signature(),
		ExpectsSource: op.ExpectsSource,
		EmitsSource:   op.EmitsSource,
		RegionPolicy:  "none",
		AllowedKinds:  op.Validators.AllowedKinds(),
		Filters:       op.Validators.Expressions(),
		Params:        op.Params,
		Doc:           op.Doc,
	}
	if rp, ok := op.Validators.Region(); ok {
		d.RegionPolicy = rp.String()
	}
	if n, ok := op.Validators.Count(); ok {
		d.Count = &n
	}
	if d.AllowedKinds == nil {
		d.AllowedKinds = []string{}
	}
	if d.Params == nil {
		d.Params = []pipeline.Param{}
	}
	return d, nil
}

// Help returns the signature and documentation of the visible operation name.
func (r *Registry) Help(name string) (string, error) {
	op, _, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	if op.Doc == "" {
		return op.Signature(), nil
	}
	return op.Signature() + "\n\n" + op.Doc, nil
}
