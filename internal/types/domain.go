package types

import (
	"time"
)

// Location represents a geographic coordinate.
type Location struct {
	Lat float64 `json:"lat" db:"location_lat" validate:"required,latitude"`
	Lon float64 `json:"lon" db:"location_lon" validate:"required,longitude"`
}

// Reading is a single time-stamped sample of an environmental metric.
// Readings are immutable once recorded: ingestion converts values to the
// fixed per-metric units (Fahrenheit, volumetric fraction, inches, percent,
// mph) before a Reading is constructed, and nothing downstream mutates one.
type Reading struct {
	Metric    Metric    `json:"metric" db:"metric"`
	Timestamp time.Time `json:"timestamp" db:"recorded_at"`
	Value     float64   `json:"value" db:"value"`
	Source    string    `json:"source,omitempty" db:"source"`
}

// Application is an immutable record of a treatment the operator applied.
// It is the sole input to season-state derivation.
type Application struct {
	ID       string              `json:"id" db:"id"`
	LawnID   string              `json:"lawn_id" db:"lawn_id"`
	Category ApplicationCategory `json:"category" db:"category"`

	// AppliedAt is a calendar date; the time component is always midnight UTC.
	AppliedAt time.Time `json:"applied_at" db:"applied_at"`

	// Amount is the applied rate where one applies (nitrogen lbs/1000 sqft
	// for fertilizer). Zero when not recorded; free-form detail goes in Notes.
	Amount float64 `json:"amount,omitempty" db:"amount"`
	Notes  string  `json:"notes,omitempty" db:"notes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Lawn is an operator-managed turf area: the unit of ingestion and
// evaluation. StationID binds the lawn to a soil-monitoring station for the
// authoritative soil series; forecast data is resolved from the location.
type Lawn struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name" validate:"required,max=200"`
	Location  Location  `json:"location" db:"-"`
	GrassType GrassType `json:"grass_type" db:"grass_type" validate:"required"`
	StationID string    `json:"station_id,omitempty" db:"station_id"`
	AreaSqFt  int       `json:"area_sqft,omitempty" db:"area_sqft" validate:"omitempty,min=1"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Recommendation is the engine's output value object: one triggered rule
// tier, ranked and expiry-stamped. TriggeredAt is always the evaluation
// pass's reference instant, never wall-clock time, so identical inputs
// yield identical output. The engine never stores recommendations;
// persistence is the caller's job, which also stamps LawnID.
type Recommendation struct {
	RuleID      string    `json:"rule_id" db:"rule_id"`
	LawnID      string    `json:"lawn_id,omitempty" db:"lawn_id"`
	Severity    Severity  `json:"severity" db:"severity"`
	Message     string    `json:"message" db:"message"`
	TriggeredAt time.Time `json:"triggered_at" db:"triggered_at"`
	ValidUntil  time.Time `json:"valid_until" db:"valid_until"`
}

// APIKey is an issued access credential. The plaintext key is shown once at
// creation; only the bcrypt hash is stored. Prefix is the non-secret
// leading segment used for lookup.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Prefix     string     `json:"prefix" db:"prefix"`
	KeyHash    string     `json:"-" db:"key_hash"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
