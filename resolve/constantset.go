package resolve

import "fmt"

// Entry pairs a symbol with its declared value.
type Entry struct {
	Symbol Symbol
	Value  Value
}

// DuplicateSymbolError reports a symbol declared twice within a single set.
type DuplicateSymbolError struct {
	Set    string
	Symbol Symbol
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("layer %s declares symbol %s twice", e.Set, e.Symbol)
}

// ConstantSet is one layer's immutable contribution of symbol definitions.
type ConstantSet struct {
	name   string
	order  []Symbol
	values map[Symbol]Value
}

// NewConstantSet builds an immutable set from the declared entries. A symbol
// appearing twice within the same set is a self-conflict and rejected.
func NewConstantSet(name string, entries []Entry) (*ConstantSet, error) {
	set := &ConstantSet{
		name:   name,
		order:  make([]Symbol, 0, len(entries)),
		values: make(map[Symbol]Value, len(entries)),
	}
	for _, entry := range entries {
		if entry.Symbol == "" {
			return nil, fmt.Errorf("layer %s contains an entry without a symbol name", name)
		}
		if _, exists := set.values[entry.Symbol]; exists {
			return nil, &DuplicateSymbolError{Set: name, Symbol: entry.Symbol}
		}
		set.values[entry.Symbol] = entry.Value
		set.order = append(set.order, entry.Symbol)
	}
	return set, nil
}

// Name returns the layer name the set was declared under.
func (s *ConstantSet) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Lookup returns the value bound to the symbol, if the set declares it.
func (s *ConstantSet) Lookup(sym Symbol) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	value, ok := s.values[sym]
	return value, ok
}

// Symbols lists the declared symbols in authorship order.
func (s *ConstantSet) Symbols() []Symbol {
	if s == nil {
		return nil
	}
	out := make([]Symbol, len(s.order))
	copy(out, s.order)
	return out
}

// Len reports the number of declared symbols.
func (s *ConstantSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// DefaultProvider is the vendor fallback table. It supplies a value for a
// symbol only when no override layer bound it first. Duplicate entries are
// not an error; the first declaration wins, matching the resolver's own
// first-write rule.
type DefaultProvider struct {
	name   string
	order  []Symbol
	values map[Symbol]Value
}

// NewDefaultProvider builds the fallback table from the declared entries.
func NewDefaultProvider(name string, entries []Entry) *DefaultProvider {
	provider := &DefaultProvider{
		name:   name,
		order:  make([]Symbol, 0, len(entries)),
		values: make(map[Symbol]Value, len(entries)),
	}
	for _, entry := range entries {
		if entry.Symbol == "" {
			continue
		}
		if _, exists := provider.values[entry.Symbol]; exists {
			continue
		}
		provider.values[entry.Symbol] = entry.Value
		provider.order = append(provider.order, entry.Symbol)
	}
	return provider
}

// Name returns the name of the default table.
func (p *DefaultProvider) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// DefaultFor returns the fallback value for the symbol. Absence is a normal
// outcome, not an error; the symbol simply stays unresolved.
func (p *DefaultProvider) DefaultFor(sym Symbol) (Value, bool) {
	if p == nil {
		return Value{}, false
	}
	value, ok := p.values[sym]
	return value, ok
}

// Symbols lists the symbols the table has defaults for, in declaration order.
func (p *DefaultProvider) Symbols() []Symbol {
	if p == nil {
		return nil
	}
	out := make([]Symbol, len(p.order))
	copy(out, p.order)
	return out
}
