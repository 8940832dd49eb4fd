// Package validate holds the structural checks that run against a selection
// before an operation body sees it. Validators are immutable values; a
// Chain runs them in order and stops at the first failure.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"reddel/internal/source"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Policy names the family a validator belongs to.
type Policy string

const (
	PolicyRegion Policy = "region-policy"
	PolicyCount  Policy = "count-policy"
	PolicyKind   Policy = "kind-policy"
	PolicyExpr   Policy = "expr-policy"
)

// ErrorKind classifies a validation failure.
type ErrorKind string

const (
	KindRegionRequired ErrorKind = "region_required"
	KindWrongCount     ErrorKind = "wrong_count"
	KindWrongKind      ErrorKind = "wrong_kind"
	KindRejected       ErrorKind = "rejected"
)

// ValidationError is the single error a failing chain returns.
type ValidationError struct {
	Kind    ErrorKind
	Policy  Policy
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", e.Policy, e.Kind, e.Message)
}

// Validator checks a selection. Implementations must not mutate it.
type Validator interface {
	Policy() Policy
	Check(sel source.Selection, hadRegion bool) error
}

// RegionPolicy decides whether a caller must pass a region.
type RegionPolicy struct {
	Mandatory bool
}

// Optional accepts calls with or without a region.
func Optional() RegionPolicy { return RegionPolicy{} }

// Mandatory rejects calls without a region.
func Mandatory() RegionPolicy { return RegionPolicy{Mandatory: true} }

func (RegionPolicy) Policy() Policy { return PolicyRegion }

func (p RegionPolicy) Check(_ source.Selection, hadRegion bool) error {
	if p.Mandatory && !hadRegion {
		return &ValidationError{
			Kind:    KindRegionRequired,
			Policy:  PolicyRegion,
			Message: "a region (start and end) is required for this operation",
		}
	}
	return nil
}

func (p RegionPolicy) String() string {
	if p.Mandatory {
		return "mandatory"
	}
	return "optional"
}

// CountPolicy requires an exact number of selected nodes.
type CountPolicy struct {
	Exactly int
}

// Exactly requires n selected nodes.
func Exactly(n int) CountPolicy { return CountPolicy{Exactly: n} }

// Single requires exactly one selected node.
func Single() CountPolicy { return Exactly(1) }

func (CountPolicy) Policy() Policy { return PolicyCount }

func (p CountPolicy) Check(sel source.Selection, _ bool) error {
	if n := sel.Len(); n != p.Exactly {
		return &ValidationError{
			Kind:    KindWrongCount,
			Policy:  PolicyCount,
			Message: fmt.Sprintf("expected exactly %d top-level node(s) but got %d", p.Exactly, n),
		}
	}
	return nil
}

// KindPolicy requires every selected node to answer to one of Allowed.
type KindPolicy struct {
	Allowed []string
}

// Kinds allows nodes carrying any of the given identifiers.
func Kinds(ids ...string) KindPolicy {
	allowed := append([]string(nil), ids...)
	return KindPolicy{Allowed: allowed}
}

func (KindPolicy) Policy() Policy { return PolicyKind }

func (p KindPolicy) Check(sel source.Selection, _ bool) error {
	for _, n := range sel.Nodes {
		if !n.Is(p.Allowed...) {
			return &ValidationError{
				Kind:   KindWrongKind,
				Policy: PolicyKind,
				Message: fmt.Sprintf("expected %s but got %s at %s",
					strings.Join(p.Allowed, " or "), n.Kind(), n.Start()),
			}
		}
	}
	return nil
}

// Env is what an expression policy sees.
type Env struct {
	Count     int      `expr:"count"`
	Kinds     []string `expr:"kinds"`
	HadRegion bool     `expr:"had_region"`
	Text      string   `expr:"text"`
}

// ExprPolicy accepts a selection when a boolean expression holds,
// e.g. `count <= 3 && all(kinds, # != "class_definition")`.
type ExprPolicy struct {
	Expression string
	program    *vm.Program
}

// NewExpr compiles expression once so a bad policy fails at registration.
func NewExpr(expression string) (*ExprPolicy, error) {
	prg, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid expr-policy %q: %w", expression, err)
	}
	return &ExprPolicy{Expression: expression, program: prg}, nil
}

// MustExpr is NewExpr for expressions known at compile time.
func MustExpr(expression string) *ExprPolicy {
	p, err := NewExpr(expression)
	if err != nil {
		panic(err)
	}
	return p
}

func (*ExprPolicy) Policy() Policy { return PolicyExpr }

func (p *ExprPolicy) Check(sel source.Selection, hadRegion bool) error {
	env := Env{
		Count:     sel.Len(),
		Kinds:     sel.Kinds(),
		HadRegion: hadRegion,
		Text:      sel.Text(),
	}
	out, err := expr.Run(p.program, env)
	if err != nil {
		return &ValidationError{Kind: KindRejected, Policy: PolicyExpr, Message: fmt.Sprintf("%s: %v", p.Expression, err)}
	}
	if ok, _ := out.(bool); !ok {
		return &ValidationError{Kind: KindRejected, Policy: PolicyExpr, Message: fmt.Sprintf("selection does not satisfy %s", p.Expression)}
	}
	return nil
}

// Chain is an ordered list of validators.
type Chain []Validator

// Validate runs every validator in order and returns the first failure.
func (c Chain) Validate(sel source.Selection, hadRegion bool) error {
	for _, v := range c {
		if err := v.Check(sel, hadRegion); err != nil {
			return err
		}
	}
	return nil
}

// Region returns the chain's region policy, if it declares one.
func (c Chain) Region() (RegionPolicy, bool) {
	for _, v := range c {
		if p, ok := v.(RegionPolicy); ok {
			return p, true
		}
	}
	return RegionPolicy{}, false
}

// Count returns the required node count, if any.
func (c Chain) Count() (int, bool) {
	for _, v := range c {
		if p, ok := v.(CountPolicy); ok {
			return p.Exactly, true
		}
	}
	return 0, false
}

// AllowedKinds returns the union of identifiers allowed by kind policies, sorted.
func (c Chain) AllowedKinds() []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range c {
		p, ok := v.(KindPolicy)
		if !ok {
			continue
		}
		for _, id := range p.Allowed {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Expressions returns the source of every expr policy in order.
func (c Chain) Expressions() []string {
	var out []string
	for _, v := range c {
		if p, ok := v.(*ExprPolicy); ok {
			out = append(out, p.Expression)
		}
	}
	return out
}
