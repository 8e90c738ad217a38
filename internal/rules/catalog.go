// Package rules holds the rule catalog: the ordered, immutable table of
// rule specifications the evaluation engine runs against. The catalog is
// assembled once at startup from the builtin definitions plus any optional
// JSON rule documents; it is never mutated afterwards and is shared
// read-only across evaluation passes.
//
// Catalog position matters: it is the tie-break when recommendations of
// equal severity are ranked.
package rules

import (
	"fmt"
	"sort"

	"turfwatch/internal/types"
)

// Catalog is an ordered set of validated rule specifications indexed by id.
type Catalog struct {
	specs []types.RuleSpec
	index map[string]int
}

// NewCatalog validates the given specs and builds a catalog preserving
// their order. Tiers within each rule are normalized to descending
// severity (stable, so authoring order is kept among equal severities),
// which lets the evaluator take the first matching tier as the highest.
//
// A malformed spec fails with catalog_invalid_rule; a repeated id fails
// with catalog_duplicate_rule_id. Both are fatal: the engine must not run
// against a partial catalog.
func NewCatalog(specs []types.RuleSpec) (*Catalog, error) {
	c := &Catalog{
		specs: make([]types.RuleSpec, 0, len(specs)),
		index: make(map[string]int, len(specs)),
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, types.NewAppError(types.ErrCodeCatalogInvalid,
				fmt.Sprintf("invalid rule definition %q", spec.ID), err)
		}
		if _, exists := c.index[spec.ID]; exists {
			return nil, types.NewAppError(types.ErrCodeCatalogDuplicate,
				fmt.Sprintf("rule id %q defined more than once", spec.ID), nil)
		}

		normalized := spec
		normalized.Tiers = sortTiers(spec.Tiers)

		c.index[spec.ID] = len(c.specs)
		c.specs = append(c.specs, normalized)
	}

	return c, nil
}

// sortTiers returns a copy of the tiers ordered by descending severity.
// The sort is stable: tiers of equal severity keep their authored order.
func sortTiers(tiers types.RuleTiers) types.RuleTiers {
	sorted := make(types.RuleTiers, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})
	return sorted
}

// Rules returns the specs in catalog order. Callers must treat the slice
// as read-only.
func (c *Catalog) Rules() []types.RuleSpec {
	return c.specs
}

// Get returns the rule with the given id.
func (c *Catalog) Get(id string) (types.RuleSpec, bool) {
	i, ok := c.index[id]
	if !ok {
		return types.RuleSpec{}, false
	}
	return c.specs[i], true
}

// IndexOf returns the catalog position of the rule id, or -1 if absent.
// Position is the severity tie-break for ranking recommendations.
func (c *Catalog) IndexOf(id string) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return -1
}

// Len returns the number of rules in the catalog.
func (c *Catalog) Len() int {
	return len(c.specs)
}

// MetricWindows returns, per metric, the longest window any rule in the
// catalog references. Data providers use this to size their fetch horizon
// for an evaluation pass.
func (c *Catalog) MetricWindows() map[types.Metric]int {
	horizons := make(map[types.Metric]int)
	for _, spec := range c.specs {
		for _, key := range spec.AggregateKeys() {
			if key.WindowDays > horizons[key.Metric] {
				horizons[key.Metric] = key.WindowDays
			}
		}
	}
	return horizons
}
