package provider

import (
	"reddel/internal/diff"
	"reddel/internal/logging"
	"reddel/internal/pipeline"
)

// Version is reported by the version operation. Overridden at link time.
var Version = "0.1.0"

// CoreName is the name and factory handle of the core provider.
const CoreName = "core"

// ProviderInfo summarizes a registered provider.
type ProviderInfo struct {
	Name       string   `json:"name"`
	Handle     string   `json:"handle"`
	Doc        string   `json:"doc,omitempty"`
	Operations []string `json:"operations"`
}

func infoOf(p *Provider) ProviderInfo {
	return ProviderInfo{Name: p.Name, Handle: p.Handle, Doc: p.Doc, Operations: p.Names()}
}

// Core builds the introspection and administration provider.
func Core(r *Registry) (*Provider, error) {
	p := New(CoreName, CoreName, "Introspection, runtime registration and server administration.")
	p.MustAdd(
		&pipeline.Operation{
			Name:   "version",
			Doc:    "Return the server version.",
			Params: []pipeline.Param{},
			Body: func(c *pipeline.Call) (interface{}, error) {
				return Version, nil
			},
		},
		&pipeline.Operation{
			Name:   "echo",
			Doc:    "Return the given value unchanged. Useful to check the connection.",
			Params: []pipeline.Param{{Name: "echo"}},
			Body: func(c *pipeline.Call) (interface{}, error) {
				v, _ := c.Value(0, "echo")
				return v, nil
			},
		},
		&pipeline.Operation{
			Name:   "help",
			Doc:    "Return the signature and documentation of an operation.",
			Params: []pipeline.Param{{Name: "name"}},
			Body: func(c *pipeline.Call) (interface{}, error) {
				name, err := c.String(0, "name")
				if err != nil {
					return nil, err
				}
				return r.Help(name)
			},
		},
		&pipeline.Operation{
			Name:   "describe",
			Doc:    "Return the metadata of an operation: source flags, region policy, allowed kinds, count and parameters.",
			Params: []pipeline.Param{{Name: "name"}},
			Body: func(c *pipeline.Call) (interface{}, error) {
				name, err := c.String(0, "name")
				if err != nil {
					return nil, err
				}
				return r.Describe(name)
			},
		},
		&pipeline.Operation{
			Name: "list_operations",
			Doc: "List operations of all providers, including shadowed ones.\n" +
				"With a source (and optionally a region) only the operations that accept it are listed.",
			Params: []pipeline.Param{
				{Name: "source", Optional: true},
				{Name: pipeline.StartKey, Optional: true},
				{Name: pipeline.EndKey, Optional: true},
			},
			Body: func(c *pipeline.Call) (interface{}, error) {
				v, ok := c.Value(0, "source")
				if !ok || v == nil {
					return r.Operations(), nil
				}
				text, err := c.String(0, "source")
				if err != nil {
					return nil, err
				}
				startV, _ := c.Value(1, pipeline.StartKey)
				endV, _ := c.Value(2, pipeline.EndKey)
				reg, err := pipeline.RegionFromArgs(startV, endV)
				if err != nil {
					return nil, err
				}
				return r.Applicable(text, reg), nil
			},
		},
		&pipeline.Operation{
			Name:   "list_providers",
			Doc:    "List registered providers in registration order.",
			Params: []pipeline.Param{},
			Body: func(c *pipeline.Call) (interface{}, error) {
				var out []ProviderInfo
				for _, p := range r.Providers() {
					out = append(out, infoOf(p))
				}
				return out, nil
			},
		},
		&pipeline.Operation{
			Name: "register_provider",
			Doc: "Register a provider by factory name or by the path of a Go script.\n" +
				"Its operations take precedence over existing ones with the same name.",
			Params: []pipeline.Param{{Name: "handle"}},
			Body: func(c *pipeline.Call) (interface{}, error) {
				handle, err := c.String(0, "handle")
				if err != nil {
					return nil, err
				}
				p, err := r.RegisterHandle(handle)
				if err != nil {
					return nil, err
				}
				return infoOf(p), nil
			},
		},
		&pipeline.Operation{
			Name:   "set_logging_level",
			Doc:    "Set the server log level: DEBUG, INFO, WARNING, ERROR or CRITICAL.",
			Params: []pipeline.Param{{Name: "level"}},
			Body: func(c *pipeline.Call) (interface{}, error) {
				level, err := c.String(0, "level")
				if err != nil {
					return nil, err
				}
				if err := logging.SetLevel(level); err != nil {
					return nil, &pipeline.ArgError{Name: "level", Message: err.Error()}
				}
				return nil, nil
			},
		},
		&pipeline.Operation{
			Name:   "diff",
			Doc:    "Return a unified patch, hunks and added/removed line counts describing how modified differs from original.",
			Params: []pipeline.Param{{Name: "original"}, {Name: "modified"}, {Name: "name", Default: "source.py", Optional: true}},
			Body: func(c *pipeline.Call) (interface{}, error) {
				original, err := c.String(0, "original")
				if err != nil {
					return nil, err
				}
				modified, err := c.String(1, "modified")
				if err != nil {
					return nil, err
				}
				name := "source.py"
				if c.Has(2, "name") {
					if name, err = c.String(2, "name"); err != nil {
						return nil, err
					}
				}
				res := diff.Compute(name, original, modified)
				added, removed := res.Stats()
				return map[string]interface{}{
					"changed": res.Changed,
					"added":   added,
					"removed": removed,
					"hunks":   res.Hunks,
					"unified": res.Unified(),
				}, nil
			},
		},
	)
	return p, nil
}
