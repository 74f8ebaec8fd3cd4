package resolve

// Binding is one resolved symbol together with the layer that supplied it.
type Binding struct {
	Symbol Symbol
	Value  Value
	Origin Origin
}

// Configuration is the result of merging an ordered layer sequence with the
// default table. It is immutable; a changed layer sequence produces a new
// Configuration via Resolve rather than mutating an existing one.
type Configuration struct {
	order    []Symbol
	bindings map[Symbol]Binding
}

// Resolve merges the override layers, in declared order, with the default
// table. The first layer to define a symbol binds it; later definitions of
// the same symbol are shadowed without error, mirroring define-once
// semantics. Defaults apply last, only to symbols still unbound. The result
// is a pure function of its inputs.
func Resolve(layers []*ConstantSet, defaults *DefaultProvider) *Configuration {
	cfg := &Configuration{
		bindings: make(map[Symbol]Binding),
	}

	for rank, layer := range layers {
		if layer == nil {
			continue
		}
		for _, sym := range layer.Symbols() {
			if _, bound := cfg.bindings[sym]; bound {
				continue
			}
			value, _ := layer.Lookup(sym)
			cfg.bindings[sym] = Binding{
				Symbol: sym,
				Value:  value,
				Origin: Origin{Kind: LayerKindOverride, Layer: layer.Name(), Rank: rank},
			}
			cfg.order = append(cfg.order, sym)
		}
	}

	if defaults != nil {
		rank := len(layers)
		for _, sym := range defaults.Symbols() {
			if _, bound := cfg.bindings[sym]; bound {
				continue
			}
			value, _ := defaults.DefaultFor(sym)
			cfg.bindings[sym] = Binding{
				Symbol: sym,
				Value:  value,
				Origin: Origin{Kind: LayerKindDefault, Layer: defaults.Name(), Rank: rank},
			}
			cfg.order = append(cfg.order, sym)
		}
	}

	return cfg
}

// Lookup returns the binding for the symbol, if it resolved at all.
func (c *Configuration) Lookup(sym Symbol) (Binding, bool) {
	if c == nil {
		return Binding{}, false
	}
	binding, ok := c.bindings[sym]
	return binding, ok
}

// Value returns just the resolved value for the symbol.
func (c *Configuration) Value(sym Symbol) (Value, bool) {
	binding, ok := c.Lookup(sym)
	return binding.Value, ok
}

// Symbols lists every resolved symbol in binding order: override bindings
// first in the order they were won, then defaults in table order.
func (c *Configuration) Symbols() []Symbol {
	if c == nil {
		return nil
	}
	out := make([]Symbol, len(c.order))
	copy(out, c.order)
	return out
}

// Len reports the number of resolved symbols.
func (c *Configuration) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}
