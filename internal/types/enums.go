package types

// Metric identifies an environmental time series tracked per lawn.
// Units are fixed per metric and enforced at ingestion: temperatures are
// Fahrenheit, soil moisture is a volumetric fraction (0.0-1.0),
// precipitation is inches, rain probability is percent, wind is mph.
type Metric string

const (
	MetricSoilTemp10cm     Metric = "soil_temp_10cm"
	MetricSoilMoisture     Metric = "soil_moisture"
	MetricAmbientTemp      Metric = "ambient_temp"
	MetricHumidity         Metric = "humidity"
	MetricPrecipitation    Metric = "precipitation"
	MetricForecastTemp     Metric = "forecast_temp"
	MetricForecastRainProb Metric = "forecast_rain_prob"
	MetricWindSpeed        Metric = "wind_speed"
)

// AllMetrics lists every valid metric, in stable order.
// Used by validators and by the ingestion poller when registering series.
var AllMetrics = []Metric{
	MetricSoilTemp10cm,
	MetricSoilMoisture,
	MetricAmbientTemp,
	MetricHumidity,
	MetricPrecipitation,
	MetricForecastTemp,
	MetricForecastRainProb,
	MetricWindSpeed,
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	for _, known := range AllMetrics {
		if m == known {
			return true
		}
	}
	return false
}

// ApplicationCategory classifies a recorded lawn treatment.
type ApplicationCategory string

const (
	CategoryFertilizer  ApplicationCategory = "fertilizer"
	CategoryPreEmergent ApplicationCategory = "pre_emergent"
	CategoryFungicide   ApplicationCategory = "fungicide"
	CategoryGrubControl ApplicationCategory = "grub_control"
	CategoryOverseed    ApplicationCategory = "overseed"
	CategoryOther       ApplicationCategory = "other"
)

// AllCategories lists every valid treatment category, in stable order.
// Season facts are derived per category in this order so evaluation output
// stays deterministic.
var AllCategories = []ApplicationCategory{
	CategoryFertilizer,
	CategoryPreEmergent,
	CategoryFungicide,
	CategoryGrubControl,
	CategoryOverseed,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c ApplicationCategory) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Severity ranks a recommendation's urgency. The severity order is a total
// order: info < advisory < warning < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityAdvisory Severity = "advisory"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityRanks maps each severity to its position in the total order.
var severityRanks = map[Severity]int{
	SeverityInfo:     0,
	SeverityAdvisory: 1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// Rank returns the severity's position in the total order (info=0 ...
// critical=3). Unknown severities rank below info so they never win a
// tie-break.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRanks[s]
	return ok
}

// RuleKind declares how a rule's recommendations expire. Weather rules are
// driven by short-lived conditions and expire 24 hours after triggering;
// phenology rules are tied to a calendar window and expire when it closes.
type RuleKind string

const (
	RuleKindWeather   RuleKind = "weather"
	RuleKindPhenology RuleKind = "phenology"
)

// CompareOp defines comparison operators for predicate evaluation.
type CompareOp string

const (
	OpGreaterThan   CompareOp = ">"
	OpGreaterThanEq CompareOp = ">="
	OpLessThan      CompareOp = "<"
	OpLessThanEq    CompareOp = "<="
	OpEqual         CompareOp = "=="
	OpNotEqual      CompareOp = "!="
	OpBetween       CompareOp = "between"
)

// Arity returns the number of comparison values the operator requires.
func (op CompareOp) Arity() int {
	if op == OpBetween {
		return 2
	}
	return 1
}

// Valid reports whether op is a known operator.
func (op CompareOp) Valid() bool {
	switch op {
	case OpGreaterThan, OpGreaterThanEq, OpLessThan, OpLessThanEq,
		OpEqual, OpNotEqual, OpBetween:
		return true
	}
	return false
}

// AggregateStat identifies a derived statistic over a rolling window.
type AggregateStat string

const (
	StatMean               AggregateStat = "mean"
	StatMin                AggregateStat = "min"
	StatMax                AggregateStat = "max"
	StatSustainedDaysAbove AggregateStat = "sustained_days_above"
	StatSustainedDaysBelow AggregateStat = "sustained_days_below"
)

// Valid reports whether s is a known aggregate statistic.
func (s AggregateStat) Valid() bool {
	switch s {
	case StatMean, StatMin, StatMax, StatSustainedDaysAbove, StatSustainedDaysBelow:
		return true
	}
	return false
}

// NeedsThreshold reports whether the statistic is parameterized by a
// threshold (the sustained-day counts are; the plain stats are not).
func (s AggregateStat) NeedsThreshold() bool {
	return s == StatSustainedDaysAbove || s == StatSustainedDaysBelow
}

// Season partitions the calendar for season-scoped treatment facts.
// Winter spans two calendar years (Dec-Jan); a season instance is keyed by
// the year in which it starts.
type Season string

const (
	SeasonSpring Season = "spring" // Feb-May
	SeasonSummer Season = "summer" // Jun-Aug
	SeasonFall   Season = "fall"   // Sep-Nov
	SeasonWinter Season = "winter" // Dec-Jan
)

// GrassType identifies the turf species group a lawn is planted with.
// Cool-season grasses drive the spring/fall phenology rules.
type GrassType string

const (
	GrassKentuckyBluegrass GrassType = "kentucky_bluegrass"
	GrassTallFescue        GrassType = "tall_fescue"
	GrassPerennialRyegrass GrassType = "perennial_ryegrass"
	GrassFineFescue        GrassType = "fine_fescue"
	GrassBermuda           GrassType = "bermuda"
	GrassZoysia            GrassType = "zoysia"
	GrassStAugustine       GrassType = "st_augustine"
	GrassCentipede         GrassType = "centipede"
)

// CoolSeason reports whether the grass type is a cool-season species.
func (g GrassType) CoolSeason() bool {
	switch g {
	case GrassKentuckyBluegrass, GrassTallFescue, GrassPerennialRyegrass, GrassFineFescue:
		return true
	}
	return false
}

// Valid reports whether g is a known grass type.
func (g GrassType) Valid() bool {
	switch g {
	case GrassKentuckyBluegrass, GrassTallFescue, GrassPerennialRyegrass,
		GrassFineFescue, GrassBermuda, GrassZoysia, GrassStAugustine, GrassCentipede:
		return true
	}
	return false
}

// Trend describes the direction of a metric series across a window.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
	TrendUnknown Trend = "unknown"
)
