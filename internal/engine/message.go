package engine

import (
	"math"
	"strconv"
	"strings"

	"turfwatch/internal/types"
)

// tierValues collects the concrete values a matched tier compared against,
// keyed by placeholder name: aggregates under their canonical
// metric_stat_windowd name, facts under the fact name. Only values that
// actually resolved are included; a template token with no value is left
// intact so authoring mistakes stay visible.
func tierValues(tier types.RuleTier, in *passInputs) map[string]float64 {
	vals := make(map[string]float64)
	tier.When.Walk(func(c types.Comparison) {
		if c.Aggregate != nil {
			if w, ok := in.Aggregates[c.Aggregate.Key()]; ok {
				if v, ok := w.Stat(c.Aggregate.Stat, c.Aggregate.Threshold); ok {
					vals[c.Aggregate.Name()] = v
				}
			}
			return
		}
		if v, ok := in.Facts[c.Fact]; ok {
			vals[c.Fact] = v
		}
	})
	return vals
}

// renderMessage substitutes {placeholder} tokens in a tier's message
// template with the values the tier evaluated.
func renderMessage(tpl string, vals map[string]float64) string {
	if !strings.ContainsRune(tpl, '{') {
		return tpl
	}
	var b strings.Builder
	b.Grow(len(tpl))
	for i := 0; i < len(tpl); {
		open := strings.IndexByte(tpl[i:], '{')
		if open < 0 {
			b.WriteString(tpl[i:])
			break
		}
		open += i
		end := strings.IndexByte(tpl[open:], '}')
		if end < 0 {
			b.WriteString(tpl[i:])
			break
		}
		end += open
		b.WriteString(tpl[i:open])
		name := tpl[open+1 : end]
		if v, ok := vals[name]; ok {
			b.WriteString(formatValue(v))
		} else {
			b.WriteString(tpl[open : end+1])
		}
		i = end + 1
	}
	return b.String()
}

// formatValue renders a measurement for prose: rounded to two decimals,
// trailing zeros dropped. 58.0 reads "58", 0.07 reads "0.07".
func formatValue(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
