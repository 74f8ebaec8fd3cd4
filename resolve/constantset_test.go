package resolve

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewConstantSetRejectsDuplicateSymbol(t *testing.T) {
	_, err := NewConstantSet("device", []Entry{
		{Symbol: "cycles_per_microsecond", Value: IntegerValue(24)},
		{Symbol: "cycles_per_microsecond", Value: IntegerValue(48)},
	})
	if err == nil {
		t.Fatalf("expected duplicate symbol error")
	}
	var dup *DuplicateSymbolError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateSymbolError, got %v", err)
	}
	if dup.Set != "device" || dup.Symbol != "cycles_per_microsecond" {
		t.Fatalf("unexpected error payload: %+v", dup)
	}
}

func TestConstantSetLookupAndOrder(t *testing.T) {
	set, err := NewConstantSet("device", []Entry{
		{Symbol: "cycles_per_microsecond", Value: IntegerValue(24)},
		{Symbol: "oscillator_mhz", Value: DecimalValue(decimal.RequireFromString("7.3728"))},
		{Symbol: "display_mode", Value: EnumValue("sh1106")},
	})
	if err != nil {
		t.Fatalf("NewConstantSet: %v", err)
	}

	value, ok := set.Lookup("oscillator_mhz")
	if !ok {
		t.Fatalf("oscillator_mhz must be declared")
	}
	if value.Kind() != ValueKindDecimal || value.String() != "7.3728" {
		t.Fatalf("unexpected value %s (%s)", value, value.Kind())
	}

	if _, ok := set.Lookup("missing"); ok {
		t.Fatalf("lookup of undeclared symbol must report absence")
	}

	symbols := set.Symbols()
	want := []Symbol{"cycles_per_microsecond", "oscillator_mhz", "display_mode"}
	if len(symbols) != len(want) {
		t.Fatalf("symbols = %v, want %v", symbols, want)
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Fatalf("symbols[%d] = %s, want %s", i, symbols[i], want[i])
		}
	}
}

func TestDefaultProviderFirstEntryWins(t *testing.T) {
	defaults := NewDefaultProvider("sdk", []Entry{
		{Symbol: "cycles_per_microsecond", Value: IntegerValue(48)},
		{Symbol: "cycles_per_microsecond", Value: IntegerValue(16)},
	})

	value, ok := defaults.DefaultFor("cycles_per_microsecond")
	if !ok {
		t.Fatalf("default must exist")
	}
	if value.Int() != 48 {
		t.Fatalf("first declaration must win, got %s", value)
	}

	if _, ok := defaults.DefaultFor("unknown"); ok {
		t.Fatalf("unknown symbol must have no default")
	}
}

func TestValueEquality(t *testing.T) {
	if !IntegerValue(24).Equal(IntegerValue(24)) {
		t.Fatalf("equal integers must compare equal")
	}
	if IntegerValue(24).Equal(IntegerValue(48)) {
		t.Fatalf("distinct integers must not compare equal")
	}
	if IntegerValue(1).Equal(EnumValue("1")) {
		t.Fatalf("values of different kinds must not compare equal")
	}
	a := DecimalValue(decimal.RequireFromString("7.3728"))
	b := DecimalValue(decimal.RequireFromString("7.37280"))
	if !a.Equal(b) {
		t.Fatalf("decimal equality must ignore trailing zeros")
	}
}
