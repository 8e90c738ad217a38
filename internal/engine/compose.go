package engine

import (
	"sort"
	"time"

	"turfwatch/internal/types"
)

// WeatherValidity is how long a weather-driven recommendation stays
// actionable. Phenology recommendations instead expire with their window.
const WeatherValidity = 24 * time.Hour

// Triggered pairs a rule with the tier that matched during a pass.
type Triggered struct {
	Rule    types.RuleSpec
	Tier    types.RuleTier
	Message string
}

// compose turns the triggered tiers of one pass into the final ordered
// recommendation list: severity descending, catalog order breaking ties.
// The presentation layer relies on this ordering to show the most urgent
// item first.
//
// A rule fires at most once per pass by construction, so the duplicate
// guard only protects against a catalog that lists the same id twice.
func (e *Engine) compose(triggered []Triggered, ref time.Time) []types.Recommendation {
	kept := make([]Triggered, 0, len(triggered))
	seen := make(map[string]int, len(triggered))
	for _, t := range triggered {
		if i, ok := seen[t.Rule.ID]; ok {
			if t.Tier.Severity.Rank() > kept[i].Tier.Severity.Rank() {
				kept[i] = t
			}
			continue
		}
		seen[t.Rule.ID] = len(kept)
		kept = append(kept, t)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		ri, rj := kept[i].Tier.Severity.Rank(), kept[j].Tier.Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return e.Catalog.IndexOf(kept[i].Rule.ID) < e.Catalog.IndexOf(kept[j].Rule.ID)
	})

	recs := make([]types.Recommendation, 0, len(kept))
	for _, t := range kept {
		recs = append(recs, types.Recommendation{
			RuleID:      t.Rule.ID,
			Severity:    t.Tier.Severity,
			Message:     t.Message,
			TriggeredAt: ref,
			ValidUntil:  validUntil(t.Rule, ref),
		})
	}
	return recs
}

// validUntil derives a recommendation's expiry from the rule's declared
// kind: phenology rules stay valid until their window closes, everything
// else rides on fresh weather and expires in a day.
func validUntil(spec types.RuleSpec, ref time.Time) time.Time {
	if spec.Kind == types.RuleKindPhenology && spec.Window != nil {
		return spec.Window.EndFor(ref)
	}
	return ref.Add(WeatherValidity)
}
