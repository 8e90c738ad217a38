package types

import (
	"fmt"
	"time"
)

// Validation constraint constants.
const (
	MinLat          = -90.0
	MaxLat          = 90.0
	MinLon          = -180.0
	MaxLon          = 180.0
	MaxNameLength   = 200
	MaxNotesLength  = 2000
	MaxReadingBatch = 500
	MaxTiersPerRule = 10
	MaxWindowDays   = 90
)

// MetricMetadata defines the canonical rules for a sensor metric.
type MetricMetadata struct {
	ID          Metric     `json:"id"`
	Unit        string     `json:"unit"`
	Range       [2]float64 `json:"valid_range"`
	Description string     `json:"description"`
}

// StandardMetrics defines the authoritative constraints for the platform.
// All components MUST validate against these ranges. Values are stored in
// imperial units; providers convert at ingestion time.
var StandardMetrics = map[Metric]MetricMetadata{
	MetricSoilTemp10cm:    {ID: MetricSoilTemp10cm, Unit: "fahrenheit", Range: [2]float64{-40, 120}, Description: "Soil temperature at 10cm depth"},
	MetricSoilMoisture:    {ID: MetricSoilMoisture, Unit: "m3/m3", Range: [2]float64{0, 1}, Description: "Volumetric soil moisture at 10cm depth"},
	MetricAmbientTemp:     {ID: MetricAmbientTemp, Unit: "fahrenheit", Range: [2]float64{-60, 130}, Description: "Air temperature at 2m above ground level"},
	MetricHumidity:        {ID: MetricHumidity, Unit: "percent", Range: [2]float64{0, 100}, Description: "Relative humidity"},
	MetricPrecipitation:   {ID: MetricPrecipitation, Unit: "inches", Range: [2]float64{0, 20}, Description: "Accumulated precipitation per observation"},
	MetricForecastTemp:    {ID: MetricForecastTemp, Unit: "fahrenheit", Range: [2]float64{-60, 130}, Description: "Forecast air temperature"},
	MetricForecastRainProb: {ID: MetricForecastRainProb, Unit: "percent", Range: [2]float64{0, 100}, Description: "Forecast probability of precipitation"},
	MetricWindSpeed:       {ID: MetricWindSpeed, Unit: "mph", Range: [2]float64{0, 200}, Description: "Wind speed at 10m above ground level"},
}

// ValidateReadingValue checks that a reading's value is plausible for its metric.
func ValidateReadingValue(metric Metric, value float64) error {
	meta, ok := StandardMetrics[metric]
	if !ok {
		return fmt.Errorf("%s: unknown metric '%s'", ErrCodeValidationInvalidMetric, metric)
	}
	if value < meta.Range[0] || value > meta.Range[1] {
		return fmt.Errorf("%s: value %.2f outside valid range [%.2f, %.2f] for %s",
			ErrCodeValidationValueRange, value, meta.Range[0], meta.Range[1], metric)
	}
	return nil
}

// Validate checks a full reading record before persistence.
func (r Reading) Validate() error {
	if err := ValidateReadingValue(r.Metric, r.Value); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%s: recorded_at is required", ErrCodeValidationMissingField)
	}
	return nil
}

// Validate checks the coordinates are on the globe.
func (l Location) Validate() error {
	if l.Lat < MinLat || l.Lat > MaxLat {
		return fmt.Errorf("%s: latitude %.4f outside [%.1f, %.1f]", ErrCodeValidationInvalidLat, l.Lat, MinLat, MaxLat)
	}
	if l.Lon < MinLon || l.Lon > MaxLon {
		return fmt.Errorf("%s: longitude %.4f outside [%.1f, %.1f]", ErrCodeValidationInvalidLon, l.Lon, MinLon, MaxLon)
	}
	return nil
}

// Validate checks an application record before persistence.
func (a Application) Validate() error {
	if !a.Category.Valid() {
		return fmt.Errorf("%s: unknown category '%s'", ErrCodeValidationInvalidCategory, a.Category)
	}
	if a.AppliedAt.IsZero() {
		return fmt.Errorf("%s: applied_at is required", ErrCodeValidationMissingField)
	}
	if a.Amount < 0 {
		return fmt.Errorf("%s: amount must not be negative", ErrCodeValidationValueRange)
	}
	if len(a.Notes) > MaxNotesLength {
		return fmt.Errorf("%s: notes exceed %d characters", ErrCodeValidationValueRange, MaxNotesLength)
	}
	return nil
}

// NormalizeAppliedAt truncates an application timestamp to its UTC calendar
// date. Treatment history is tracked at day granularity.
func NormalizeAppliedAt(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
