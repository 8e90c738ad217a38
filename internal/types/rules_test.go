package types

import (
	"encoding/json"
	"testing"
	"time"
)

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("bad test date %q: %v", value, err)
	}
	return parsed.UTC()
}

func TestMonthDay_JSONRoundTrip(t *testing.T) {
	original := MonthDay{Month: time.November, Day: 15}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if string(data) != `"11-15"` {
		t.Errorf("Marshal = %s, want %q", data, `"11-15"`)
	}

	var decoded MonthDay
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip: got %+v, want %+v", decoded, original)
	}
}

func TestMonthDay_UnmarshalRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not a string", input: `42`},
		{name: "wrong shape", input: `"November 15"`},
		{name: "month zero", input: `"00-10"`},
		{name: "month thirteen", input: `"13-01"`},
		{name: "day zero", input: `"03-00"`},
		{name: "day beyond month", input: `"04-31"`},
		{name: "february thirtieth", input: `"02-30"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var md MonthDay
			if err := json.Unmarshal([]byte(tt.input), &md); err == nil {
				t.Errorf("Unmarshal(%s) succeeded, want error", tt.input)
			}
		})
	}
}

func TestMonthDay_DateInClampsLeapDay(t *testing.T) {
	feb29 := MonthDay{Month: time.February, Day: 29}

	leap := feb29.DateIn(2024)
	if leap.Day() != 29 {
		t.Errorf("leap year: got day %d, want 29", leap.Day())
	}

	nonLeap := feb29.DateIn(2026)
	if nonLeap.Month() != time.February || nonLeap.Day() != 28 {
		t.Errorf("non-leap year: got %s, want Feb 28", nonLeap.Format("2006-01-02"))
	}
}

func TestSeasonalWindow_Contains(t *testing.T) {
	wrapped := SeasonalWindow{
		Start: MonthDay{Month: time.November, Day: 15},
		End:   MonthDay{Month: time.February, Day: 1},
	}
	straight := SeasonalWindow{
		Start: MonthDay{Month: time.March, Day: 1},
		End:   MonthDay{Month: time.May, Day: 15},
	}

	tests := []struct {
		name   string
		window SeasonalWindow
		date   string
		want   bool
	}{
		{name: "wrapped active in head segment", window: wrapped, date: "2025-12-25", want: true},
		{name: "wrapped active in tail segment", window: wrapped, date: "2026-01-10", want: true},
		{name: "wrapped active on start day", window: wrapped, date: "2025-11-15", want: true},
		{name: "wrapped active on end day", window: wrapped, date: "2026-02-01", want: true},
		{name: "wrapped inactive in spring", window: wrapped, date: "2026-03-01", want: false},
		{name: "wrapped inactive just before start", window: wrapped, date: "2025-11-14", want: false},
		{name: "wrapped inactive just after end", window: wrapped, date: "2026-02-02", want: false},
		{name: "straight active mid-window", window: straight, date: "2026-04-10", want: true},
		{name: "straight active on endpoints", window: straight, date: "2026-03-01", want: true},
		{name: "straight inactive before", window: straight, date: "2026-02-28", want: false},
		{name: "straight inactive after", window: straight, date: "2026-05-16", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.window.Contains(mustDate(t, tt.date))
			if got != tt.want {
				t.Errorf("Contains(%s) = %v, want %v", tt.date, got, tt.want)
			}
		})
	}
}

func TestSeasonalWindow_EndFor(t *testing.T) {
	wrapped := SeasonalWindow{
		Start: MonthDay{Month: time.November, Day: 15},
		End:   MonthDay{Month: time.February, Day: 1},
	}
	straight := SeasonalWindow{
		Start: MonthDay{Month: time.March, Day: 1},
		End:   MonthDay{Month: time.May, Day: 15},
	}

	t.Run("wrapped window in head segment ends next year", func(t *testing.T) {
		got := wrapped.EndFor(mustDate(t, "2025-12-25"))
		want := time.Date(2026, time.February, 1, 23, 59, 59, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("EndFor = %s, want %s", got, want)
		}
	})

	t.Run("wrapped window in tail segment ends this year", func(t *testing.T) {
		got := wrapped.EndFor(mustDate(t, "2026-01-10"))
		want := time.Date(2026, time.February, 1, 23, 59, 59, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("EndFor = %s, want %s", got, want)
		}
	})

	t.Run("straight window mid-window ends this year", func(t *testing.T) {
		got := straight.EndFor(mustDate(t, "2026-04-10"))
		want := time.Date(2026, time.May, 15, 23, 59, 59, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("EndFor = %s, want %s", got, want)
		}
	})
}

func TestComparison_Validate(t *testing.T) {
	validAgg := &AggregateRef{Metric: MetricSoilTemp10cm, Stat: StatMean, WindowDays: 7}

	tests := []struct {
		name    string
		cmp     Comparison
		wantErr bool
	}{
		{
			name: "valid aggregate comparison",
			cmp:  Comparison{Aggregate: validAgg, Op: OpGreaterThanEq, Value: []float64{55}},
		},
		{
			name: "valid fact comparison",
			cmp:  Comparison{Fact: "fertilizer_count", Op: OpLessThan, Value: []float64{2}},
		},
		{
			name: "valid between comparison",
			cmp:  Comparison{Aggregate: validAgg, Op: OpBetween, Value: []float64{50, 70}},
		},
		{
			name:    "neither aggregate nor fact",
			cmp:     Comparison{Op: OpGreaterThan, Value: []float64{1}},
			wantErr: true,
		},
		{
			name:    "both aggregate and fact",
			cmp:     Comparison{Aggregate: validAgg, Fact: "has_fertilizer", Op: OpGreaterThan, Value: []float64{1}},
			wantErr: true,
		},
		{
			name:    "between with one value",
			cmp:     Comparison{Aggregate: validAgg, Op: OpBetween, Value: []float64{50}},
			wantErr: true,
		},
		{
			name:    "scalar op with two values",
			cmp:     Comparison{Aggregate: validAgg, Op: OpGreaterThan, Value: []float64{50, 70}},
			wantErr: true,
		},
		{
			name:    "unknown operator",
			cmp:     Comparison{Aggregate: validAgg, Op: CompareOp("~="), Value: []float64{50}},
			wantErr: true,
		},
		{
			name:    "bad aggregate window",
			cmp:     Comparison{Aggregate: &AggregateRef{Metric: MetricHumidity, Stat: StatMean, WindowDays: 0}, Op: OpGreaterThan, Value: []float64{80}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmp.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPredicate_Validate(t *testing.T) {
	leaf := Predicate{Cmp: &Comparison{Fact: "has_fertilizer", Op: OpEqual, Value: []float64{0}}}

	t.Run("leaf is valid", func(t *testing.T) {
		if err := leaf.Validate(); err != nil {
			t.Errorf("Validate() returned error: %v", err)
		}
	})

	t.Run("all of leaves is valid", func(t *testing.T) {
		p := Predicate{All: []Predicate{leaf, leaf}}
		if err := p.Validate(); err != nil {
			t.Errorf("Validate() returned error: %v", err)
		}
	})

	t.Run("empty predicate is invalid", func(t *testing.T) {
		if err := (Predicate{}).Validate(); err == nil {
			t.Error("Validate() succeeded on empty predicate, want error")
		}
	})

	t.Run("multiple variants are invalid", func(t *testing.T) {
		p := Predicate{All: []Predicate{leaf}, Cmp: leaf.Cmp}
		if err := p.Validate(); err == nil {
			t.Error("Validate() succeeded with two variants set, want error")
		}
	})

	t.Run("invalid leaf inside any is rejected", func(t *testing.T) {
		p := Predicate{Any: []Predicate{leaf, {Cmp: &Comparison{Op: OpGreaterThan}}}}
		if err := p.Validate(); err == nil {
			t.Error("Validate() succeeded with invalid nested leaf, want error")
		}
	})
}

func TestPredicate_WalkVisitsAllLeaves(t *testing.T) {
	p := Predicate{
		All: []Predicate{
			{Cmp: &Comparison{Fact: "a", Op: OpGreaterThan, Value: []float64{1}}},
			{Any: []Predicate{
				{Cmp: &Comparison{Fact: "b", Op: OpGreaterThan, Value: []float64{2}}},
				{Cmp: &Comparison{Fact: "c", Op: OpGreaterThan, Value: []float64{3}}},
			}},
		},
	}

	var seen []string
	p.Walk(func(cmp Comparison) { seen = append(seen, cmp.Fact) })

	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("visited %d leaves, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("leaf %d: got %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestRuleSpec_Validate(t *testing.T) {
	validTier := RuleTier{
		Severity:        SeverityAdvisory,
		When:            Predicate{Cmp: &Comparison{Aggregate: &AggregateRef{Metric: MetricSoilTemp10cm, Stat: StatMean, WindowDays: 7}, Op: OpGreaterThanEq, Value: []float64{50}}},
		MessageTemplate: "Soil is warming",
	}

	t.Run("valid weather rule", func(t *testing.T) {
		rule := RuleSpec{ID: "soil_warmup", Category: "fertilizer", Kind: RuleKindWeather, Tiers: RuleTiers{validTier}}
		if err := rule.Validate(); err != nil {
			t.Errorf("Validate() returned error: %v", err)
		}
	})

	t.Run("empty id rejected", func(t *testing.T) {
		rule := RuleSpec{Kind: RuleKindWeather, Tiers: RuleTiers{validTier}}
		if err := rule.Validate(); err == nil {
			t.Error("Validate() succeeded without id, want error")
		}
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		rule := RuleSpec{ID: "x", Kind: RuleKind("astrology"), Tiers: RuleTiers{validTier}}
		if err := rule.Validate(); err == nil {
			t.Error("Validate() succeeded with unknown kind, want error")
		}
	})

	t.Run("phenology rule requires window", func(t *testing.T) {
		rule := RuleSpec{ID: "x", Kind: RuleKindPhenology, Tiers: RuleTiers{validTier}}
		if err := rule.Validate(); err == nil {
			t.Error("Validate() succeeded without window, want error")
		}
	})

	t.Run("no tiers rejected", func(t *testing.T) {
		rule := RuleSpec{ID: "x", Kind: RuleKindWeather}
		if err := rule.Validate(); err == nil {
			t.Error("Validate() succeeded without tiers, want error")
		}
	})

	t.Run("tier with unknown severity rejected", func(t *testing.T) {
		badTier := validTier
		badTier.Severity = Severity("catastrophic")
		rule := RuleSpec{ID: "x", Kind: RuleKindWeather, Tiers: RuleTiers{badTier}}
		if err := rule.Validate(); err == nil {
			t.Error("Validate() succeeded with unknown severity, want error")
		}
	})
}

func TestRuleSpec_ActiveAt(t *testing.T) {
	window := &SeasonalWindow{
		Start: MonthDay{Month: time.August, Day: 15},
		End:   MonthDay{Month: time.September, Day: 30},
	}
	windowed := RuleSpec{ID: "overseed", Kind: RuleKindPhenology, Window: window}
	always := RuleSpec{ID: "heat_stress", Kind: RuleKindWeather}

	if !windowed.ActiveAt(mustDate(t, "2026-09-01")) {
		t.Error("expected windowed rule active inside window")
	}
	if windowed.ActiveAt(mustDate(t, "2026-11-01")) {
		t.Error("expected windowed rule inactive outside window")
	}
	if !always.ActiveAt(mustDate(t, "2026-11-01")) {
		t.Error("expected rule without window to always be active")
	}
}

func TestRuleSpec_AggregateKeys(t *testing.T) {
	rule := RuleSpec{
		ID:   "disease_pressure",
		Kind: RuleKindWeather,
		Tiers: RuleTiers{
			{
				Severity: SeverityAdvisory,
				When: Predicate{All: []Predicate{
					{Cmp: &Comparison{Aggregate: &AggregateRef{Metric: MetricHumidity, Stat: StatSustainedDaysAbove, WindowDays: 3, Threshold: 80}, Op: OpGreaterThanEq, Value: []float64{3}}},
					{Cmp: &Comparison{Aggregate: &AggregateRef{Metric: MetricAmbientTemp, Stat: StatMean, WindowDays: 3}, Op: OpBetween, Value: []float64{65, 85}}},
				}},
				MessageTemplate: "Disease pressure building",
			},
			{
				Severity: SeverityWarning,
				When: Predicate{All: []Predicate{
					// Same humidity window as the tier above: must dedupe.
					{Cmp: &Comparison{Aggregate: &AggregateRef{Metric: MetricHumidity, Stat: StatSustainedDaysAbove, WindowDays: 3, Threshold: 85}, Op: OpGreaterThanEq, Value: []float64{3}}},
					{Cmp: &Comparison{Fact: "has_fungicide", Op: OpEqual, Value: []float64{0}}},
				}},
				MessageTemplate: "Disease pressure high",
			},
		},
	}

	keys := rule.AggregateKeys()
	want := []AggregateKey{
		{Metric: MetricAmbientTemp, WindowDays: 3},
		{Metric: MetricHumidity, WindowDays: 3},
	}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d: %v", len(keys), len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: got %+v, want %+v", i, keys[i], want[i])
		}
	}
}

func TestRuleTiers_ScanValueRoundTrip(t *testing.T) {
	original := RuleTiers{
		{
			Severity:        SeverityCritical,
			When:            Predicate{Cmp: &Comparison{Aggregate: &AggregateRef{Metric: MetricSoilMoisture, Stat: StatMean, WindowDays: 5}, Op: OpLessThan, Value: []float64{0.10}}},
			MessageTemplate: "Severe drought stress",
		},
	}

	dv, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var decoded RuleTiers
	if err := decoded.Scan(dv); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	if len(decoded) != 1 {
		t.Fatalf("got %d tiers, want 1", len(decoded))
	}
	if decoded[0].Severity != SeverityCritical {
		t.Errorf("Severity = %q, want %q", decoded[0].Severity, SeverityCritical)
	}
	if decoded[0].When.Cmp == nil || decoded[0].When.Cmp.Aggregate == nil {
		t.Fatal("predicate did not survive the round trip")
	}
	if decoded[0].When.Cmp.Aggregate.Metric != MetricSoilMoisture {
		t.Errorf("Metric = %q, want %q", decoded[0].When.Cmp.Aggregate.Metric, MetricSoilMoisture)
	}
}

func TestRuleTiers_ScanNil(t *testing.T) {
	tiers := RuleTiers{{Severity: SeverityInfo}}
	if err := tiers.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if tiers != nil {
		t.Errorf("Scan(nil) should reset to nil, got %v", tiers)
	}
}

func TestSeasonalWindow_ScanValueRoundTrip(t *testing.T) {
	original := SeasonalWindow{
		Start: MonthDay{Month: time.February, Day: 15},
		End:   MonthDay{Month: time.April, Day: 30},
	}

	dv, err := original.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var decoded SeasonalWindow
	if err := decoded.Scan(dv); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip: got %+v, want %+v", decoded, original)
	}
}
