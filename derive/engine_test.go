package derive

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/firmkit/layerkit/resolve"
)

func resolvedFixture(t *testing.T, cycles int64) *resolve.Configuration {
	t.Helper()
	device, err := resolve.NewConstantSet("device", []resolve.Entry{
		{Symbol: "cycles_per_microsecond", Value: resolve.IntegerValue(cycles)},
	})
	if err != nil {
		t.Fatalf("NewConstantSet: %v", err)
	}
	defaults := resolve.NewDefaultProvider("sdk", []resolve.Entry{
		{Symbol: "cycles_per_microsecond", Value: resolve.IntegerValue(48)},
		{Symbol: "tick_period_us", Value: resolve.IntegerValue(16)},
	})
	return resolve.Resolve([]*resolve.ConstantSet{device}, defaults)
}

func TestDeriveTicksPerInterrupt(t *testing.T) {
	engine, err := NewEngine([]Spec{
		{
			Output:     "ticks_per_interrupt",
			Inputs:     []resolve.Symbol{"cycles_per_microsecond"},
			Expression: "cycles_per_microsecond * 16",
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	derived, err := engine.DeriveAll(resolvedFixture(t, 24))
	if err != nil {
		t.Fatalf("DeriveAll: %v", err)
	}

	ticks, ok := derived["ticks_per_interrupt"]
	if !ok {
		t.Fatalf("ticks_per_interrupt must be derived")
	}
	if ticks.Value.Int() != 384 {
		t.Fatalf("ticks_per_interrupt = %s, want 384", ticks.Value)
	}
}

func TestDeriveChainUsesEarlierOutputs(t *testing.T) {
	// Declared out of dependency order on purpose; evaluation order must not
	// depend on declaration order.
	engine, err := NewEngine([]Spec{
		{
			Output:     "cycles_per_frame",
			Inputs:     []resolve.Symbol{"cycles_per_tick", "ticks_per_frame"},
			Expression: "cycles_per_tick * ticks_per_frame",
		},
		{
			Output:     "ticks_per_frame",
			Inputs:     []resolve.Symbol{},
			Expression: "4",
		},
		{
			Output:     "cycles_per_tick",
			Inputs:     []resolve.Symbol{"cycles_per_microsecond", "tick_period_us"},
			Expression: "cycles_per_microsecond * tick_period_us",
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	derived, err := engine.DeriveAll(resolvedFixture(t, 24))
	if err != nil {
		t.Fatalf("DeriveAll: %v", err)
	}
	if got := derived["cycles_per_tick"].Value.Int(); got != 384 {
		t.Fatalf("cycles_per_tick = %d, want 384", got)
	}
	if got := derived["cycles_per_frame"].Value.Int(); got != 1536 {
		t.Fatalf("cycles_per_frame = %d, want 1536", got)
	}
}

func TestDeriveAllIsPure(t *testing.T) {
	engine, err := NewEngine([]Spec{
		{
			Output:     "cycles_per_tick",
			Inputs:     []resolve.Symbol{"cycles_per_microsecond", "tick_period_us"},
			Expression: "cycles_per_microsecond * tick_period_us",
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	resolved := resolvedFixture(t, 24)
	first, err := engine.DeriveAll(resolved)
	if err != nil {
		t.Fatalf("first DeriveAll: %v", err)
	}
	second, err := engine.DeriveAll(resolved)
	if err != nil {
		t.Fatalf("second DeriveAll: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated derivation must yield identical results")
	}
}

func TestDeriveUnresolvedInput(t *testing.T) {
	engine, err := NewEngine([]Spec{
		{
			Output:     "cycles_per_tick",
			Inputs:     []resolve.Symbol{"cycles_per_microsecond", "prescaler"},
			Expression: "cycles_per_microsecond * prescaler",
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	_, err = engine.DeriveAll(resolvedFixture(t, 24))
	if err == nil {
		t.Fatalf("expected unresolved input error")
	}
	var unresolved *UnresolvedInputError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedInputError, got %v", err)
	}
	if unresolved.Derivation != "cycles_per_tick" || unresolved.Input != "prescaler" {
		t.Fatalf("error must name the offending symbols: %+v", unresolved)
	}
}

func TestNewEngineDetectsCycle(t *testing.T) {
	_, err := NewEngine([]Spec{
		{Output: "a", Inputs: []resolve.Symbol{"b"}, Expression: "b + 1"},
		{Output: "b", Inputs: []resolve.Symbol{"a"}, Expression: "a + 1"},
	})
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	var cyclic *CyclicDerivationError
	if !errors.As(err, &cyclic) {
		t.Fatalf("expected CyclicDerivationError, got %v", err)
	}
	if len(cyclic.Symbols) != 2 {
		t.Fatalf("cycle must name both members, got %v", cyclic.Symbols)
	}
}

func TestNewEngineDetectsSelfCycle(t *testing.T) {
	_, err := NewEngine([]Spec{
		{Output: "a", Inputs: []resolve.Symbol{"a"}, Expression: "a + 1"},
	})
	var cyclic *CyclicDerivationError
	if !errors.As(err, &cyclic) {
		t.Fatalf("self-referential derivation must fail with CyclicDerivationError, got %v", err)
	}
}

func TestNewEngineRejectsDuplicateOutputs(t *testing.T) {
	_, err := NewEngine([]Spec{
		{Output: "cycles_per_tick", Expression: "1"},
		{Output: "cycles_per_tick", Expression: "2"},
	})
	if err == nil {
		t.Fatalf("expected duplicate producer error")
	}
}

func TestDeriveNonFiniteResultIsAnError(t *testing.T) {
	engine, err := NewEngine([]Spec{
		{
			Output:     "cycles_per_tick",
			Inputs:     []resolve.Symbol{"cycles_per_microsecond", "prescaler"},
			Expression: "cycles_per_microsecond / prescaler",
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	defaults := resolve.NewDefaultProvider("sdk", []resolve.Entry{
		{Symbol: "cycles_per_microsecond", Value: resolve.IntegerValue(24)},
		{Symbol: "prescaler", Value: resolve.IntegerValue(0)},
	})
	resolved := resolve.Resolve(nil, defaults)

	_, err = engine.DeriveAll(resolved)
	if err == nil {
		t.Fatalf("division by zero must surface as an error, not a crash")
	}
	if !strings.Contains(err.Error(), "cycles_per_tick") {
		t.Fatalf("error must name the derivation, got %v", err)
	}
	if !strings.Contains(err.Error(), "non-finite") {
		t.Fatalf("error must name the non-finite result, got %v", err)
	}
}

func TestNewEngineRejectsUndeclaredExpressionInput(t *testing.T) {
	_, err := NewEngine([]Spec{
		{
			Output:     "cycles_per_tick",
			Inputs:     []resolve.Symbol{"cycles_per_microsecond"},
			Expression: "cycles_per_microsecond * tick_period_us",
		},
	})
	if err == nil {
		t.Fatalf("expression input missing from the declared list must be rejected")
	}
	var undeclared *UndeclaredInputError
	if !errors.As(err, &undeclared) {
		t.Fatalf("expected UndeclaredInputError, got %v", err)
	}
	if undeclared.Derivation != "cycles_per_tick" || undeclared.Input != "tick_period_us" {
		t.Fatalf("error must name the offending symbols: %+v", undeclared)
	}
}

func TestDeriveDecimalInputs(t *testing.T) {
	engine, err := NewEngine([]Spec{
		{
			Output:     "half_rate",
			Inputs:     []resolve.Symbol{"oscillator_mhz"},
			Expression: "oscillator_mhz / 2.0",
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	defaults := resolve.NewDefaultProvider("sdk", []resolve.Entry{
		{Symbol: "oscillator_mhz", Value: resolve.IntegerValue(7)},
	})
	resolved := resolve.Resolve(nil, defaults)

	derived, err := engine.DeriveAll(resolved)
	if err != nil {
		t.Fatalf("DeriveAll: %v", err)
	}
	half := derived["half_rate"]
	if half.Value.Kind() != resolve.ValueKindDecimal {
		t.Fatalf("non-integral result must be decimal, got %s", half.Value.Kind())
	}
	if half.Value.String() != "3.5" {
		t.Fatalf("half_rate = %s, want 3.5", half.Value)
	}
}
