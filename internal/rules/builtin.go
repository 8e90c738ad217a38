package rules

import (
	"time"

	"turfwatch/internal/types"
)

// Predicate construction helpers. The builtin table below is dense enough
// that spelling out every literal would bury the agronomy in braces.

func allOf(children ...types.Predicate) types.Predicate {
	return types.Predicate{All: children}
}

func anyOf(children ...types.Predicate) types.Predicate {
	return types.Predicate{Any: children}
}

func metricCmp(metric types.Metric, stat types.AggregateStat, windowDays int, op types.CompareOp, values ...float64) types.Predicate {
	return types.Predicate{Cmp: &types.Comparison{
		Aggregate: &types.AggregateRef{Metric: metric, Stat: stat, WindowDays: windowDays},
		Op:        op,
		Value:     values,
	}}
}

func sustainedCmp(metric types.Metric, stat types.AggregateStat, windowDays int, threshold float64, op types.CompareOp, values ...float64) types.Predicate {
	return types.Predicate{Cmp: &types.Comparison{
		Aggregate: &types.AggregateRef{Metric: metric, Stat: stat, WindowDays: windowDays, Threshold: threshold},
		Op:        op,
		Value:     values,
	}}
}

func factCmp(fact string, op types.CompareOp, values ...float64) types.Predicate {
	return types.Predicate{Cmp: &types.Comparison{Fact: fact, Op: op, Value: values}}
}

func window(startMonth time.Month, startDay int, endMonth time.Month, endDay int) *types.SeasonalWindow {
	return &types.SeasonalWindow{
		Start: types.MonthDay{Month: startMonth, Day: startDay},
		End:   types.MonthDay{Month: endMonth, Day: endDay},
	}
}

// Builtin returns the stock rule table. Order is the agronomic calendar
// order and doubles as the ranking tie-break, so treat positions as part
// of the contract. Thresholds are for a transition-zone cool-season lawn;
// site-specific rules belong in JSON rule documents layered on top.
func Builtin() []types.RuleSpec {
	return []types.RuleSpec{
		{
			ID:       "pre_emergent",
			Category: string(types.CategoryPreEmergent),
			Kind:     types.RuleKindPhenology,
			Window:   window(time.February, 1, time.May, 31),
			Tiers: types.RuleTiers{
				{
					Severity: types.SeverityCritical,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpBetween, 60, 70),
						factCmp("has_pre_emergent", types.OpEqual, 0),
					),
					MessageTemplate: "Pre-emergent window nearly closed: soil has reached {soil_temp_10cm_mean_7d}°F and crabgrass germination is imminent. Apply immediately.",
				},
				{
					Severity: types.SeverityWarning,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpBetween, 55, 60),
						factCmp("has_pre_emergent", types.OpEqual, 0),
					),
					MessageTemplate: "Pre-emergent window narrowing: 7-day soil average is {soil_temp_10cm_mean_7d}°F. Apply within the next few days.",
				},
				{
					Severity: types.SeverityAdvisory,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpBetween, 50, 55),
						factCmp("has_pre_emergent", types.OpEqual, 0),
					),
					MessageTemplate: "Pre-emergent window open: soil is averaging {soil_temp_10cm_mean_7d}°F, in the optimal 50-55°F range.",
				},
			},
		},
		{
			ID:       "spring_nitrogen",
			Category: string(types.CategoryFertilizer),
			Kind:     types.RuleKindPhenology,
			Window:   window(time.March, 15, time.May, 31),
			Tiers: types.RuleTiers{
				{
					Severity: types.SeverityWarning,
					When: allOf(
						factCmp("has_fertilizer", types.OpEqual, 1),
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpLessThan, 50),
					),
					MessageTemplate: "Nitrogen went down before the soil was ready ({soil_temp_10cm_mean_7d}°F average). Expect poor uptake; hold further feeding until sustained warmth.",
				},
				{
					Severity: types.SeverityAdvisory,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpBetween, 55, 65),
						factCmp("has_fertilizer", types.OpEqual, 0),
					),
					MessageTemplate: "Soil is averaging {soil_temp_10cm_mean_7d}°F: roots are active. Good time for the first light spring feeding.",
				},
				{
					Severity: types.SeverityInfo,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpBetween, 50, 55),
						factCmp("has_fertilizer", types.OpEqual, 0),
					),
					MessageTemplate: "Soil at {soil_temp_10cm_mean_7d}°F, approaching the spring feeding range. Almost time.",
				},
				{
					Severity: types.SeverityInfo,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpLessThan, 50),
						factCmp("has_fertilizer", types.OpEqual, 0),
					),
					MessageTemplate: "Soil still cold ({soil_temp_10cm_mean_7d}°F). Patience: early nitrogen feeds weeds, not turf.",
				},
			},
		},
		{
			ID:       "grub_control",
			Category: string(types.CategoryGrubControl),
			Kind:     types.RuleKindPhenology,
			Window:   window(time.May, 15, time.July, 4),
			Tiers: types.RuleTiers{
				{
					Severity: types.SeverityAdvisory,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpBetween, 60, 75),
						factCmp("has_grub_control", types.OpEqual, 0),
					),
					MessageTemplate: "Preventative grub control window is open: soil is averaging {soil_temp_10cm_mean_7d}°F and egg-lay is ahead.",
				},
				{
					Severity: types.SeverityInfo,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpGreaterThan, 75),
						factCmp("has_grub_control", types.OpEqual, 0),
					),
					MessageTemplate: "Soil is warm ({soil_temp_10cm_mean_7d}°F) and grubs feed near the surface. Preventative timing has passed; switch to a curative product if damage appears.",
				},
			},
		},
		{
			ID:       "fertilizer_block",
			Category: string(types.CategoryFertilizer),
			Kind:     types.RuleKindWeather,
			Tiers: types.RuleTiers{
				{
					Severity: types.SeverityCritical,
					When: anyOf(
						metricCmp(types.MetricAmbientTemp, types.StatMax, 1, types.OpGreaterThan, 95),
						metricCmp(types.MetricSoilMoisture, types.StatMean, 1, types.OpLessThan, 0.05),
					),
					MessageTemplate: "Do not fertilize: extreme heat or bone-dry soil right now. Burn risk is severe.",
				},
				{
					Severity: types.SeverityWarning,
					When: anyOf(
						metricCmp(types.MetricAmbientTemp, types.StatMax, 1, types.OpGreaterThan, 85),
						metricCmp(types.MetricSoilMoisture, types.StatMean, 1, types.OpLessThan, 0.10),
						metricCmp(types.MetricSoilMoisture, types.StatMean, 1, types.OpGreaterThan, 0.40),
					),
					MessageTemplate: "Hold fertilizer: conditions are outside the safe range (heat, drought stress, or saturated soil).",
				},
			},
		},
		{
			ID:       "fungicide_risk",
			Category: string(types.CategoryFungicide),
			Kind:     types.RuleKindWeather,
			Tiers: types.RuleTiers{
				{
					Severity: types.SeverityCritical,
					When: allOf(
						metricCmp(types.MetricHumidity, types.StatMean, 1, types.OpGreaterThan, 90),
						metricCmp(types.MetricAmbientTemp, types.StatMean, 1, types.OpGreaterThan, 80),
						metricCmp(types.MetricAmbientTemp, types.StatMean, 7, types.OpGreaterThan, 75),
					),
					MessageTemplate: "Severe fungal conditions: {humidity_mean_1d}% humidity with sustained heat. Apply fungicide now if disease is present.",
				},
				{
					Severity: types.SeverityWarning,
					When: allOf(
						metricCmp(types.MetricHumidity, types.StatMean, 1, types.OpGreaterThan, 80),
						metricCmp(types.MetricAmbientTemp, types.StatMean, 1, types.OpGreaterThan, 70),
					),
					MessageTemplate: "Fungal pressure building: {humidity_mean_1d}% humidity at {ambient_temp_mean_1d}°F. Watch for brown patch and dollar spot.",
				},
				{
					Severity: types.SeverityAdvisory,
					When: allOf(
						metricCmp(types.MetricHumidity, types.StatMean, 7, types.OpGreaterThan, 75),
					),
					MessageTemplate: "A humid week ({humidity_mean_7d}% average) favors fungal disease. Mow high and water only in the morning.",
				},
			},
		},
		{
			ID:       "fall_overseeding",
			Category: string(types.CategoryOverseed),
			Kind:     types.RuleKindPhenology,
			Window:   window(time.August, 15, time.October, 31),
			Tiers: types.RuleTiers{
				{
					Severity: types.SeverityWarning,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpLessThan, 50),
						factCmp("has_overseed", types.OpEqual, 0),
					),
					MessageTemplate: "Soil has cooled to {soil_temp_10cm_mean_7d}°F: germination will be slow and frost is a risk. Overseed immediately or wait for spring.",
				},
				{
					Severity: types.SeverityAdvisory,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpBetween, 50, 65),
						factCmp("has_overseed", types.OpEqual, 0),
					),
					MessageTemplate: "Optimal overseeding conditions: soil is averaging {soil_temp_10cm_mean_7d}°F, ideal for cool-season germination.",
				},
				{
					Severity: types.SeverityInfo,
					When: allOf(
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpGreaterThan, 65),
						factCmp("has_overseed", types.OpEqual, 0),
					),
					MessageTemplate: "Soil still warm ({soil_temp_10cm_mean_7d}°F) for overseeding. Wait for it to drop below 65°F.",
				},
			},
		},
		{
			ID:       "fall_fertilization",
			Category: string(types.CategoryFertilizer),
			Kind:     types.RuleKindPhenology,
			Window:   window(time.September, 1, time.November, 30),
			Tiers: types.RuleTiers{
				{
					Severity: types.SeverityAdvisory,
					When: allOf(
						factCmp("fertilizer_count", types.OpLessThan, 2),
						anyOf(
							factCmp("fertilizer_count", types.OpEqual, 0),
							factCmp("days_since_fertilizer", types.OpGreaterThanEq, 21),
						),
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpBetween, 45, 65),
					),
					MessageTemplate: "Fall feeding due: {fertilizer_count} application(s) so far this fall and soil at {soil_temp_10cm_mean_7d}°F. This is the season that builds next year's lawn.",
				},
				{
					Severity: types.SeverityInfo,
					When: allOf(
						factCmp("fertilizer_count", types.OpBetween, 1, 2),
						factCmp("days_since_fertilizer", types.OpGreaterThanEq, 21),
						metricCmp(types.MetricSoilTemp10cm, types.StatMean, 7, types.OpBetween, 40, 50),
					),
					MessageTemplate: "Winterizer timing: soil is at {soil_temp_10cm_mean_7d}°F and cooling. One last feeding before dormancy pays off in spring.",
				},
			},
		},
		{
			ID:       "rain_delay",
			Category: string(types.CategoryOther),
			Kind:     types.RuleKindWeather,
			Tiers: types.RuleTiers{
				{
					Severity:        types.SeverityCritical,
					When:            metricCmp(types.MetricForecastRainProb, types.StatMax, 1, types.OpGreaterThanEq, 70),
					MessageTemplate: "Rain is imminent ({forecast_rain_prob_max_1d}% chance). Delay any application: product will wash away.",
				},
				{
					Severity:        types.SeverityWarning,
					When:            metricCmp(types.MetricForecastRainProb, types.StatMax, 1, types.OpGreaterThanEq, 50),
					MessageTemplate: "Rain likely ({forecast_rain_prob_max_1d}% chance). Plan applications around it.",
				},
				{
					Severity:        types.SeverityAdvisory,
					When:            metricCmp(types.MetricForecastRainProb, types.StatMax, 1, types.OpGreaterThanEq, 30),
					MessageTemplate: "Some rain in the forecast ({forecast_rain_prob_max_1d}% chance). Granular products may benefit; liquids may not stick.",
				},
			},
		},
		{
			ID:       "irrigation_need",
			Category: string(types.CategoryOther),
			Kind:     types.RuleKindWeather,
			Tiers: types.RuleTiers{
				{
					Severity:        types.SeverityCritical,
					When:            metricCmp(types.MetricSoilMoisture, types.StatMean, 1, types.OpLessThan, 0.10),
					MessageTemplate: "Severe drought stress: soil moisture at {soil_moisture_mean_1d} m³/m³. Water deeply today.",
				},
				{
					Severity:        types.SeverityWarning,
					When:            metricCmp(types.MetricSoilMoisture, types.StatMean, 1, types.OpLessThan, 0.15),
					MessageTemplate: "Soil is drying out ({soil_moisture_mean_1d} m³/m³). Irrigate within 24 hours.",
				},
				{
					Severity: types.SeverityAdvisory,
					When: allOf(
						metricCmp(types.MetricSoilMoisture, types.StatMean, 1, types.OpLessThan, 0.20),
						metricCmp(types.MetricForecastRainProb, types.StatMax, 1, types.OpLessThan, 30),
					),
					MessageTemplate: "Soil moisture at {soil_moisture_mean_1d} m³/m³ with no meaningful rain forecast. Schedule irrigation.",
				},
			},
		},
		{
			ID:       "heat_stress",
			Category: string(types.CategoryOther),
			Kind:     types.RuleKindWeather,
			Tiers: types.RuleTiers{
				{
					Severity:        types.SeverityCritical,
					When:            metricCmp(types.MetricAmbientTemp, types.StatMean, 1, types.OpGreaterThanEq, 90),
					MessageTemplate: "Heat stress: today is averaging {ambient_temp_mean_1d}°F. No mowing, no traffic, no applications. Water deeply at dawn.",
				},
				{
					Severity:        types.SeverityWarning,
					When:            metricCmp(types.MetricAmbientTemp, types.StatMean, 1, types.OpGreaterThanEq, 85),
					MessageTemplate: "High heat ({ambient_temp_mean_1d}°F average today). Raise the mowing height and avoid afternoon work.",
				},
				{
					Severity:        types.SeverityAdvisory,
					When:            metricCmp(types.MetricForecastTemp, types.StatMax, 1, types.OpGreaterThanEq, 90),
					MessageTemplate: "Heat wave incoming: forecast peaks at {forecast_temp_max_1d}°F. Water deeply beforehand and finish lawn work early.",
				},
			},
		},
		{
			ID:       "application_window",
			Category: string(types.CategoryOther),
			Kind:     types.RuleKindWeather,
			Tiers: types.RuleTiers{
				{
					Severity: types.SeverityInfo,
					When: allOf(
						metricCmp(types.MetricAmbientTemp, types.StatMean, 1, types.OpBetween, 50, 85),
						metricCmp(types.MetricWindSpeed, types.StatMean, 1, types.OpLessThan, 10),
						metricCmp(types.MetricHumidity, types.StatMean, 1, types.OpLessThan, 85),
						metricCmp(types.MetricPrecipitation, types.StatMax, 1, types.OpLessThan, 0.01),
						metricCmp(types.MetricForecastRainProb, types.StatMax, 1, types.OpLessThan, 30),
					),
					MessageTemplate: "Good application window: mild ({ambient_temp_mean_1d}°F), calm wind, dry, and no rain expected.",
				},
			},
		},
		{
			ID:       "disease_pressure",
			Category: string(types.CategoryFungicide),
			Kind:     types.RuleKindWeather,
			Tiers: types.RuleTiers{
				{
					Severity: types.SeverityCritical,
					When: allOf(
						sustainedCmp(types.MetricHumidity, types.StatSustainedDaysAbove, 3, 85, types.OpGreaterThanEq, 3),
						metricCmp(types.MetricAmbientTemp, types.StatMean, 3, types.OpBetween, 65, 85),
						factCmp("has_fungicide", types.OpEqual, 0),
					),
					MessageTemplate: "Disease outbreak conditions: humidity has stayed above 85% for {humidity_sustained_days_above_3d} straight days in brown patch temperatures, with no fungicide down. Treat preventatively now.",
				},
				{
					Severity: types.SeverityWarning,
					When: allOf(
						sustainedCmp(types.MetricHumidity, types.StatSustainedDaysAbove, 3, 80, types.OpGreaterThanEq, 2),
						metricCmp(types.MetricAmbientTemp, types.StatMean, 3, types.OpBetween, 65, 85),
						factCmp("has_fungicide", types.OpEqual, 0),
					),
					MessageTemplate: "Disease pressure high: {humidity_sustained_days_above_3d} humid days in the dollar spot range. Consider a preventative fungicide.",
				},
				{
					Severity: types.SeverityAdvisory,
					When: allOf(
						metricCmp(types.MetricHumidity, types.StatMean, 3, types.OpGreaterThan, 75),
						metricCmp(types.MetricAmbientTemp, types.StatMean, 3, types.OpBetween, 65, 85),
					),
					MessageTemplate: "Conditions lean toward fungal disease ({humidity_mean_3d}% humidity, {ambient_temp_mean_3d}°F). Morning watering only; check shaded areas.",
				},
			},
		},
	}
}
