// Package validate is a structural lint over a declared composition order.
// It answers, without resolving anything, whether a symbol the configuration
// cares about could silently take a vendor default instead of its intended
// override. Findings are report entries, never errors: the caller decides
// whether a non-empty report fails the build.
package validate

import (
	"fmt"

	"github.com/firmkit/layerkit/derive"
	"github.com/firmkit/layerkit/resolve"
)

// Reason classifies an ordering violation.
type Reason string

const (
	// ReasonMissingOverride flags a critical symbol no override layer
	// defines: it will silently take the vendor default.
	ReasonMissingOverride Reason = "missing_override"
	// ReasonShadowedOverride flags a critical symbol defined by more than
	// one override layer with conflicting values; the later declaration is
	// dead and its author likely expected it to win.
	ReasonShadowedOverride Reason = "shadowed_override"
	// ReasonForwardReference flags a derivation consuming another
	// derivation's output declared after it; a single-pass evaluation in
	// declared order would read the value before it exists.
	ReasonForwardReference Reason = "forward_reference"
	// ReasonUnsuppliedInput flags a derivation input that no layer, default
	// or derivation supplies; derivation would abort at build time.
	ReasonUnsuppliedInput Reason = "unsupplied_input"
)

// Violation is one ordering defect.
//
// Rank locates the defect in composition order: the violating layer's rank
// for shadowed overrides, len(layers) (the default table's logical slot) for
// missing overrides, the consuming derivation's declared index for forward
// references, and -1 when nothing supplies the symbol at all.
type Violation struct {
	Symbol resolve.Symbol
	Rank   int
	Reason Reason
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (rank %d): %s", v.Reason, v.Symbol, v.Rank, v.Detail)
}

// Report collects the violations found for one declared ordering.
type Report struct {
	Violations []Violation
}

// Empty reports whether the ordering passed every check.
func (r Report) Empty() bool { return len(r.Violations) == 0 }

// Len reports the number of violations.
func (r Report) Len() int { return len(r.Violations) }

func (r *Report) add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// Check lints the declared ordering. critical names the symbols whose
// resolution is timing or safety relevant; specs are the declared
// derivations in authoring order. The layer list is inspected, never
// resolved.
func Check(layers []*resolve.ConstantSet, defaults *resolve.DefaultProvider, critical []resolve.Symbol, specs []derive.Spec) Report {
	var report Report

	for _, sym := range critical {
		checkCritical(&report, layers, defaults, sym)
	}

	produced := make(map[resolve.Symbol]int, len(specs))
	for idx, spec := range specs {
		produced[spec.Output] = idx
	}

	for idx, spec := range specs {
		for _, input := range spec.Inputs {
			if producerIdx, ok := produced[input]; ok {
				if producerIdx > idx {
					report.add(Violation{
						Symbol: input,
						Rank:   idx,
						Reason: ReasonForwardReference,
						Detail: fmt.Sprintf("derivation %s consumes %s, which is derived only at position %d", spec.Output, input, producerIdx),
					})
				}
				continue
			}
			if firstLayerDefining(layers, input) >= 0 {
				continue
			}
			if _, ok := defaults.DefaultFor(input); ok {
				continue
			}
			report.add(Violation{
				Symbol: input,
				Rank:   -1,
				Reason: ReasonUnsuppliedInput,
				Detail: fmt.Sprintf("derivation %s consumes %s, which no layer or default supplies", spec.Output, input),
			})
		}
	}

	return report
}

func checkCritical(report *Report, layers []*resolve.ConstantSet, defaults *resolve.DefaultProvider, sym resolve.Symbol) {
	first := firstLayerDefining(layers, sym)
	if first < 0 {
		detail := "no override layer defines it"
		if value, ok := defaults.DefaultFor(sym); ok {
			detail = fmt.Sprintf("no override layer defines it; default %s from %s would apply", value, defaults.Name())
		}
		report.add(Violation{
			Symbol: sym,
			Rank:   len(layers),
			Reason: ReasonMissingOverride,
			Detail: detail,
		})
		return
	}

	winner := layers[first]
	winning, _ := winner.Lookup(sym)
	for rank := first + 1; rank < len(layers); rank++ {
		layer := layers[rank]
		value, ok := layer.Lookup(sym)
		if !ok {
			continue
		}
		if value.Equal(winning) {
			continue
		}
		report.add(Violation{
			Symbol: sym,
			Rank:   rank,
			Reason: ReasonShadowedOverride,
			Detail: fmt.Sprintf("layer %s declares %s but layer %s at rank %d already bound %s", layer.Name(), value, winner.Name(), first, winning),
		})
	}
}

func firstLayerDefining(layers []*resolve.ConstantSet, sym resolve.Symbol) int {
	for rank, layer := range layers {
		if _, ok := layer.Lookup(sym); ok {
			return rank
		}
	}
	return -1
}
