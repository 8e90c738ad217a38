package engine

import (
	"time"

	"turfwatch/internal/aggregate"
	"turfwatch/internal/types"
)

// passInputs bundles the materialized data one evaluation pass works from.
// It is built once per pass and read-only thereafter.
type passInputs struct {
	Aggregates map[types.AggregateKey]*aggregate.Window
	Facts      map[string]float64
	Ref        time.Time
}

// evaluateRule walks a rule's tier ladder and returns the first matching
// tier. Tiers arrive severity-descending from the catalog, so the first
// match is the most urgent applicable condition; lower tiers whose
// predicates also hold are deliberately shadowed.
//
// The dormant-window check comes before everything else: a rule outside
// its active window never touches aggregates, so missing winter data can
// never fail a summer-only rule.
func (e *Engine) evaluateRule(spec types.RuleSpec, in *passInputs) (Triggered, bool) {
	if !spec.ActiveAt(in.Ref) {
		return Triggered{}, false
	}
	for _, tier := range spec.Tiers {
		if !e.tierMatches(tier, in) {
			continue
		}
		return Triggered{
			Rule:    spec,
			Tier:    tier,
			Message: renderMessage(tier.MessageTemplate, tierValues(tier, in)),
		}, true
	}
	return Triggered{}, false
}

// tierMatches decides whether one tier's predicate holds. If any aggregate
// the predicate references has insufficient data, the whole tier is
// non-matching, even under a disjunction whose other branch is true:
// absence of data must never produce a recommendation. Missing season
// facts are softer, a days-since fact simply does not exist until the
// category has been applied, so a comparison against it is false rather
// than poisoning the tier.
func (e *Engine) tierMatches(tier types.RuleTier, in *passInputs) bool {
	if !aggregatesAvailable(tier.When, in) {
		return false
	}
	return evalPredicate(tier.When, in)
}

// aggregatesAvailable reports whether every aggregate referenced anywhere
// in the predicate tree resolves to a computable value.
func aggregatesAvailable(p types.Predicate, in *passInputs) bool {
	ok := true
	p.Walk(func(c types.Comparison) {
		if c.Aggregate == nil {
			return
		}
		w, found := in.Aggregates[c.Aggregate.Key()]
		if !found || w.Insufficient() {
			ok = false
			return
		}
		if _, statOK := w.Stat(c.Aggregate.Stat, c.Aggregate.Threshold); !statOK {
			ok = false
		}
	})
	return ok
}

func evalPredicate(p types.Predicate, in *passInputs) bool {
	switch {
	case len(p.All) > 0:
		for _, child := range p.All {
			if !evalPredicate(child, in) {
				return false
			}
		}
		return true
	case len(p.Any) > 0:
		for _, child := range p.Any {
			if evalPredicate(child, in) {
				return true
			}
		}
		return false
	case p.Cmp != nil:
		return evalComparison(*p.Cmp, in)
	}
	return false
}

func evalComparison(c types.Comparison, in *passInputs) bool {
	var actual float64
	if c.Aggregate != nil {
		w, ok := in.Aggregates[c.Aggregate.Key()]
		if !ok {
			return false
		}
		v, ok := w.Stat(c.Aggregate.Stat, c.Aggregate.Threshold)
		if !ok {
			return false
		}
		actual = v
	} else {
		v, ok := in.Facts[c.Fact]
		if !ok {
			return false
		}
		actual = v
	}
	return applyOp(c.Op, actual, c.Value)
}

func applyOp(op types.CompareOp, actual float64, values []float64) bool {
	if len(values) < op.Arity() {
		return false
	}
	switch op {
	case types.OpGreaterThan:
		return actual > values[0]
	case types.OpGreaterThanEq:
		return actual >= values[0]
	case types.OpLessThan:
		return actual < values[0]
	case types.OpLessThanEq:
		return actual <= values[0]
	case types.OpEqual:
		return actual == values[0]
	case types.OpNotEqual:
		return actual != values[0]
	case types.OpBetween:
		return actual >= values[0] && actual <= values[1]
	}
	return false
}
