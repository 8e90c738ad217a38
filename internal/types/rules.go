package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// MonthDay is a recurring calendar date (month + day, no year). It is the
// granularity of rule activation windows. JSON form is "MM-DD".
type MonthDay struct {
	Month time.Month
	Day   int
}

// ordinal returns a comparable encoding of the month-day (Jan 1 = 101).
func (md MonthDay) ordinal() int {
	return int(md.Month)*100 + md.Day
}

// Valid reports whether the month-day names a real recurring date.
// Feb 29 is allowed; DateIn clamps it on non-leap years.
func (md MonthDay) Valid() bool {
	if md.Month < time.January || md.Month > time.December {
		return false
	}
	if md.Day < 1 {
		return false
	}
	// Day 29 is valid for February because of leap years.
	maxDay := daysInMonth[md.Month]
	return md.Day <= maxDay
}

var daysInMonth = map[time.Month]int{
	time.January: 31, time.February: 29, time.March: 31, time.April: 30,
	time.May: 31, time.June: 30, time.July: 31, time.August: 31,
	time.September: 30, time.October: 31, time.November: 30, time.December: 31,
}

// DateIn resolves the month-day to a concrete midnight-UTC date in the
// given year. Feb 29 clamps to Feb 28 when the year is not a leap year.
func (md MonthDay) DateIn(year int) time.Time {
	day := md.Day
	if md.Month == time.February && day == 29 && !isLeapYear(year) {
		day = 28
	}
	return time.Date(year, md.Month, day, 0, 0, 0, 0, time.UTC)
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// String returns the "MM-DD" form.
func (md MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day)
}

// MarshalJSON encodes the month-day as "MM-DD".
func (md MonthDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(md.String())
}

// UnmarshalJSON decodes the "MM-DD" form.
func (md *MonthDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("month-day must be a \"MM-DD\" string: %w", err)
	}
	var m, d int
	if _, err := fmt.Sscanf(s, "%d-%d", &m, &d); err != nil {
		return fmt.Errorf("month-day %q is not in MM-DD form: %w", s, err)
	}
	parsed := MonthDay{Month: time.Month(m), Day: d}
	if !parsed.Valid() {
		return fmt.Errorf("month-day %q is not a real date", s)
	}
	*md = parsed
	return nil
}

// SeasonalWindow is a recurring month-day range during which a rule is
// eligible to fire. The range may wrap the new year (e.g. Nov 15 - Feb 1).
// Both endpoints are inclusive.
type SeasonalWindow struct {
	Start MonthDay `json:"start"`
	End   MonthDay `json:"end"`
}

// Wraps reports whether the window crosses the year boundary.
func (w SeasonalWindow) Wraps() bool {
	return w.Start.ordinal() > w.End.ordinal()
}

// Contains reports whether the instant's UTC calendar date falls inside the
// window. Containment is resolved on month-day ordinals with the wrap case
// handled explicitly.
func (w SeasonalWindow) Contains(t time.Time) bool {
	t = t.UTC()
	d := MonthDay{Month: t.Month(), Day: t.Day()}.ordinal()
	start, end := w.Start.ordinal(), w.End.ordinal()
	if w.Wraps() {
		return d >= start || d <= end
	}
	return d >= start && d <= end
}

// EndFor resolves the window's closing instant (end date at 23:59:59 UTC)
// for the occurrence of the window containing or next following ref. For a
// wrapped window evaluated in its head segment (e.g. Dec 25 for
// Nov 15 - Feb 1), the end falls in the following calendar year.
func (w SeasonalWindow) EndFor(ref time.Time) time.Time {
	ref = ref.UTC()
	year := ref.Year()
	refOrd := MonthDay{Month: ref.Month(), Day: ref.Day()}.ordinal()

	switch {
	case w.Wraps() && refOrd >= w.Start.ordinal():
		// Head segment of a wrapped window; the end is next year.
		year++
	case !w.Wraps() && refOrd > w.End.ordinal():
		// Window already closed this year; the next occurrence ends next year.
		year++
	}

	end := w.End.DateIn(year)
	return end.Add(24*time.Hour - time.Second)
}

// Validate checks both endpoints.
func (w SeasonalWindow) Validate() error {
	if !w.Start.Valid() {
		return fmt.Errorf("window start %s is not a valid month-day", w.Start)
	}
	if !w.End.Valid() {
		return fmt.Errorf("window end %s is not a valid month-day", w.End)
	}
	return nil
}

// AggregateKey identifies one rolling-window computation: a metric paired
// with a trailing window length. The orchestrator computes each distinct
// key once per evaluation pass.
type AggregateKey struct {
	Metric     Metric `json:"metric"`
	WindowDays int    `json:"window_days"`
}

// AggregateRef points a comparison at a derived statistic of a rolling
// window. Threshold parameterizes the sustained-day statistics and is
// ignored for mean/min/max.
type AggregateRef struct {
	Metric     Metric        `json:"metric"`
	Stat       AggregateStat `json:"stat"`
	WindowDays int           `json:"window_days"`
	Threshold  float64       `json:"threshold,omitempty"`
}

// Key returns the aggregate computation this reference depends on.
func (r AggregateRef) Key() AggregateKey {
	return AggregateKey{Metric: r.Metric, WindowDays: r.WindowDays}
}

// Name returns the canonical placeholder name for this reference, used to
// fill message templates: "<metric>_<stat>_<N>d".
func (r AggregateRef) Name() string {
	return fmt.Sprintf("%s_%s_%dd", r.Metric, r.Stat, r.WindowDays)
}

// Validate checks the reference is well-formed.
func (r AggregateRef) Validate() error {
	if !r.Metric.Valid() {
		return fmt.Errorf("unknown metric %q", r.Metric)
	}
	if !r.Stat.Valid() {
		return fmt.Errorf("unknown aggregate stat %q", r.Stat)
	}
	if r.WindowDays < 1 {
		return fmt.Errorf("window_days must be >= 1, got %d", r.WindowDays)
	}
	return nil
}

// Comparison is a single atomic predicate: one aggregate statistic or one
// season fact compared against fixed values. Exactly one of Aggregate and
// Fact must be set. Between takes two values (inclusive); every other
// operator takes one.
type Comparison struct {
	Aggregate *AggregateRef `json:"aggregate,omitempty"`
	Fact      string        `json:"fact,omitempty"`
	Op        CompareOp     `json:"op"`
	Value     []float64     `json:"value"`
}

// Validate checks subject, operator, and value arity.
func (c Comparison) Validate() error {
	if (c.Aggregate == nil) == (c.Fact == "") {
		return fmt.Errorf("comparison must reference exactly one of an aggregate or a season fact")
	}
	if c.Aggregate != nil {
		if err := c.Aggregate.Validate(); err != nil {
			return err
		}
	}
	if !c.Op.Valid() {
		return fmt.Errorf("unknown operator %q", c.Op)
	}
	if len(c.Value) != c.Op.Arity() {
		return fmt.Errorf("operator %q requires %d value(s), got %d", c.Op, c.Op.Arity(), len(c.Value))
	}
	return nil
}

// Predicate is a closed tagged-variant condition tree: a conjunction (All),
// a disjunction (Any), or a leaf Comparison. Exactly one variant is set.
// Predicates are data, not code: the whole tree round-trips through JSON.
type Predicate struct {
	All []Predicate `json:"all,omitempty"`
	Any []Predicate `json:"any,omitempty"`
	Cmp *Comparison `json:"cmp,omitempty"`
}

// Validate checks that exactly one variant is populated, recursively.
func (p Predicate) Validate() error {
	set := 0
	if len(p.All) > 0 {
		set++
	}
	if len(p.Any) > 0 {
		set++
	}
	if p.Cmp != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("predicate must set exactly one of all/any/cmp")
	}
	for _, child := range p.All {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	for _, child := range p.Any {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	if p.Cmp != nil {
		return p.Cmp.Validate()
	}
	return nil
}

// Walk visits every leaf comparison in the tree in authoring order.
func (p Predicate) Walk(visit func(Comparison)) {
	switch {
	case p.Cmp != nil:
		visit(*p.Cmp)
	case len(p.All) > 0:
		for _, child := range p.All {
			child.Walk(visit)
		}
	case len(p.Any) > 0:
		for _, child := range p.Any {
			child.Walk(visit)
		}
	}
}

// RuleTier is one severity level within a rule's condition ladder.
// MessageTemplate may reference the tier's comparison subjects as
// {placeholder} names (see AggregateRef.Name); values are filled from the
// aggregates and facts the evaluation actually used.
type RuleTier struct {
	Severity        Severity  `json:"severity"`
	When            Predicate `json:"when"`
	MessageTemplate string    `json:"message"`
}

// Validate checks the tier.
func (t RuleTier) Validate() error {
	if !t.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", t.Severity)
	}
	if t.MessageTemplate == "" {
		return fmt.Errorf("tier message must not be empty")
	}
	return t.When.Validate()
}

// RuleTiers is a slice of RuleTier that implements sql.Scanner and
// driver.Valuer for JSONB column storage.
type RuleTiers []RuleTier

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (rt *RuleTiers) Scan(value interface{}) error {
	if value == nil {
		*rt = nil
		return nil
	}
	return scanJSONB(rt, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (rt RuleTiers) Value() (driver.Value, error) {
	if rt == nil {
		return nil, nil
	}
	return json.Marshal(rt)
}

// RuleSpec is one immutable rule definition: a treatment category, a
// declared expiry kind, an optional activation window, and an ordered
// ladder of severity tiers. Loaded once at startup and shared read-only
// across evaluation passes; there is no hot reload.
type RuleSpec struct {
	ID       string          `json:"id" validate:"required"`
	Category string          `json:"category"`
	Kind     RuleKind        `json:"kind"`
	Window   *SeasonalWindow `json:"active_window,omitempty"`
	Tiers    RuleTiers       `json:"tiers"`
}

// Validate checks the whole rule definition.
func (r RuleSpec) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if r.Kind != RuleKindWeather && r.Kind != RuleKindPhenology {
		return fmt.Errorf("rule %s: kind must be weather or phenology, got %q", r.ID, r.Kind)
	}
	if r.Kind == RuleKindPhenology && r.Window == nil {
		return fmt.Errorf("rule %s: phenology rules require an active window", r.ID)
	}
	if r.Window != nil {
		if err := r.Window.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	if len(r.Tiers) == 0 {
		return fmt.Errorf("rule %s: at least one tier is required", r.ID)
	}
	for i, tier := range r.Tiers {
		if err := tier.Validate(); err != nil {
			return fmt.Errorf("rule %s tier %d: %w", r.ID, i, err)
		}
	}
	return nil
}

// ActiveAt reports whether the rule may fire at the given instant. Rules
// without a window are always active.
func (r RuleSpec) ActiveAt(t time.Time) bool {
	if r.Window == nil {
		return true
	}
	return r.Window.Contains(t)
}

// AggregateKeys returns the distinct rolling-window computations this
// rule's tiers reference, sorted for deterministic evaluation order.
func (r RuleSpec) AggregateKeys() []AggregateKey {
	seen := make(map[AggregateKey]struct{})
	var keys []AggregateKey
	for _, tier := range r.Tiers {
		tier.When.Walk(func(cmp Comparison) {
			if cmp.Aggregate == nil {
				return
			}
			k := cmp.Aggregate.Key()
			if _, ok := seen[k]; ok {
				return
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		})
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Metric != keys[j].Metric {
			return keys[i].Metric < keys[j].Metric
		}
		return keys[i].WindowDays < keys[j].WindowDays
	})
	return keys
}
