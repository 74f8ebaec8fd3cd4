// Package derive computes secondary constants from a resolved configuration.
//
// Derivations declare their input symbols and a single output symbol; the
// engine evaluates them in dependency order so a derivation may consume
// another derivation's output. A missing input aborts the run instead of
// silently defaulting, and a dependency cycle is rejected when the engine is
// built, before anything evaluates.
package derive

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"github.com/shopspring/decimal"

	"github.com/firmkit/layerkit/resolve"
)

// Spec declares a single derivation. Integer arithmetic inside the
// expression runs on int64; results beyond that range wrap, so expressions
// are expected to stay within it.
type Spec struct {
	Output     resolve.Symbol
	Inputs     []resolve.Symbol
	Expression string
}

// Derived is one computed constant.
type Derived struct {
	Symbol resolve.Symbol
	Value  resolve.Value
	Inputs []resolve.Symbol
}

// UnresolvedInputError reports a derivation input that never resolved.
type UnresolvedInputError struct {
	Derivation resolve.Symbol
	Input      resolve.Symbol
}

func (e *UnresolvedInputError) Error() string {
	return fmt.Sprintf("derivation %s: input %s is unresolved", e.Derivation, e.Input)
}

// UndeclaredInputError reports an expression referencing a symbol outside
// its declared input list.
type UndeclaredInputError struct {
	Derivation resolve.Symbol
	Input      resolve.Symbol
}

func (e *UndeclaredInputError) Error() string {
	return fmt.Sprintf("derivation %s: expression references %s, which is not a declared input", e.Derivation, e.Input)
}

// CyclicDerivationError reports a dependency cycle between derivations.
type CyclicDerivationError struct {
	Symbols []resolve.Symbol
}

func (e *CyclicDerivationError) Error() string {
	names := make([]string, len(e.Symbols))
	for i, sym := range e.Symbols {
		names[i] = string(sym)
	}
	return fmt.Sprintf("derivation cycle involving %s", strings.Join(names, ", "))
}

type derivation struct {
	spec    Spec
	program *vm.Program
	order   int
}

// Engine holds compiled derivations in evaluation order.
type Engine struct {
	ordered []*derivation
}

// NewEngine compiles the declared derivations and fixes their evaluation
// order. Each output symbol may be produced by exactly one derivation.
func NewEngine(specs []Spec) (*Engine, error) {
	derivations := make([]*derivation, 0, len(specs))
	producers := make(map[resolve.Symbol]*derivation, len(specs))

	for idx, spec := range specs {
		if spec.Output == "" {
			return nil, fmt.Errorf("derivation %d: output symbol must not be empty", idx)
		}
		if spec.Expression == "" {
			return nil, fmt.Errorf("derivation %s: expression must not be empty", spec.Output)
		}
		if existing, ok := producers[spec.Output]; ok {
			return nil, fmt.Errorf("symbol %s produced by derivations %d and %d", spec.Output, existing.order, idx)
		}
		program, err := compileExpression(spec.Expression)
		if err != nil {
			return nil, fmt.Errorf("derivation %s: %w", spec.Output, err)
		}
		if err := checkDeclaredInputs(spec); err != nil {
			return nil, err
		}
		d := &derivation{spec: spec, program: program, order: idx}
		producers[spec.Output] = d
		derivations = append(derivations, d)
	}

	ordered, err := topoSort(derivations, producers)
	if err != nil {
		return nil, err
	}
	return &Engine{ordered: ordered}, nil
}

// Specs returns the derivations in declared order.
func (e *Engine) Specs() []Spec {
	if e == nil {
		return nil
	}
	specs := make([]Spec, len(e.ordered))
	for _, d := range e.ordered {
		specs[d.order] = d.spec
	}
	return specs
}

// Outputs lists the derived symbols in evaluation order.
func (e *Engine) Outputs() []resolve.Symbol {
	if e == nil {
		return nil
	}
	out := make([]resolve.Symbol, len(e.ordered))
	for i, d := range e.ordered {
		out[i] = d.spec.Output
	}
	return out
}

// DeriveAll evaluates every derivation against the resolved configuration.
// The result is a pure function of (engine, resolved); a derived value is
// never read from the configuration itself, only its declared inputs are.
func (e *Engine) DeriveAll(resolved *resolve.Configuration) (map[resolve.Symbol]Derived, error) {
	if e == nil {
		return map[resolve.Symbol]Derived{}, nil
	}
	derived := make(map[resolve.Symbol]Derived, len(e.ordered))

	for _, d := range e.ordered {
		env := make(map[string]interface{}, len(d.spec.Inputs))
		for _, input := range d.spec.Inputs {
			if prior, ok := derived[input]; ok {
				env[string(input)] = prior.Value.ExprValue()
				continue
			}
			if value, ok := resolved.Value(input); ok {
				env[string(input)] = value.ExprValue()
				continue
			}
			return nil, &UnresolvedInputError{Derivation: d.spec.Output, Input: input}
		}

		raw, err := vm.Run(d.program, env)
		if err != nil {
			return nil, fmt.Errorf("derivation %s: %w", d.spec.Output, err)
		}
		value, err := coerceValue(raw)
		if err != nil {
			return nil, fmt.Errorf("derivation %s: %w", d.spec.Output, err)
		}

		inputs := make([]resolve.Symbol, len(d.spec.Inputs))
		copy(inputs, d.spec.Inputs)
		derived[d.spec.Output] = Derived{Symbol: d.spec.Output, Value: value, Inputs: inputs}
	}

	return derived, nil
}

func compileExpression(src string) (*vm.Program, error) {
	return expr.Compile(src, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
}

// checkDeclaredInputs walks the parsed expression and rejects any identifier
// the derivation did not declare as an input. Without this, a missing
// declaration would only surface at run time as an opaque evaluation error.
func checkDeclaredInputs(spec Spec) error {
	tree, err := parser.Parse(spec.Expression)
	if err != nil {
		return fmt.Errorf("derivation %s: %w", spec.Output, err)
	}
	declared := make(map[string]struct{}, len(spec.Inputs))
	for _, input := range spec.Inputs {
		declared[string(input)] = struct{}{}
	}
	visitor := &inputVisitor{}
	ast.Walk(&tree.Node, visitor)
	for _, ident := range visitor.idents {
		if _, ok := declared[ident]; ok {
			continue
		}
		if _, ok := visitor.callees[ident]; ok {
			continue
		}
		return &UndeclaredInputError{Derivation: spec.Output, Input: resolve.Symbol(ident)}
	}
	return nil
}

// inputVisitor collects referenced identifiers, keeping call targets apart so
// function names are not mistaken for inputs.
type inputVisitor struct {
	idents  []string
	callees map[string]struct{}
}

func (v *inputVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.CallNode:
		if ident, ok := n.Callee.(*ast.IdentifierNode); ok {
			if v.callees == nil {
				v.callees = make(map[string]struct{})
			}
			v.callees[ident.Value] = struct{}{}
		}
	case *ast.IdentifierNode:
		v.idents = append(v.idents, n.Value)
	}
}

func topoSort(derivations []*derivation, producers map[resolve.Symbol]*derivation) ([]*derivation, error) {
	inDegree := make(map[*derivation]int, len(derivations))
	edges := make(map[*derivation][]*derivation, len(derivations))

	for _, d := range derivations {
		for _, input := range d.spec.Inputs {
			producer := producers[input]
			if producer == d {
				return nil, &CyclicDerivationError{Symbols: []resolve.Symbol{d.spec.Output}}
			}
			if producer == nil {
				continue
			}
			edges[producer] = append(edges[producer], d)
			inDegree[d]++
		}
	}

	queue := make([]*derivation, 0, len(derivations))
	for _, d := range derivations {
		if inDegree[d] == 0 {
			queue = append(queue, d)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].order < queue[j].order })

	ordered := make([]*derivation, 0, len(derivations))
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		ordered = append(ordered, d)
		for _, succ := range edges[d] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		sort.Slice(queue, func(i, j int) bool { return queue[i].order < queue[j].order })
	}

	if len(ordered) != len(derivations) {
		remaining := make([]*derivation, 0)
		for _, d := range derivations {
			if inDegree[d] > 0 {
				remaining = append(remaining, d)
			}
		}
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].order < remaining[j].order })
		symbols := make([]resolve.Symbol, len(remaining))
		for i, d := range remaining {
			symbols[i] = d.spec.Output
		}
		return nil, &CyclicDerivationError{Symbols: symbols}
	}
	return ordered, nil
}

func coerceValue(raw interface{}) (resolve.Value, error) {
	switch v := raw.(type) {
	case int:
		return resolve.IntegerValue(int64(v)), nil
	case int32:
		return resolve.IntegerValue(int64(v)), nil
	case int64:
		return resolve.IntegerValue(v), nil
	case uint:
		return resolve.IntegerValue(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return resolve.Value{}, fmt.Errorf("result %d overflows int64", v)
		}
		return resolve.IntegerValue(int64(v)), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return resolve.Value{}, fmt.Errorf("non-finite result %v", v)
		}
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return resolve.IntegerValue(int64(v)), nil
		}
		return resolve.DecimalValue(decimal.NewFromFloat(v)), nil
	case string:
		return resolve.EnumValue(v), nil
	default:
		return resolve.Value{}, fmt.Errorf("unsupported result type %T", raw)
	}
}
