package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants. Named with a Telemetry prefix to
// keep them visually distinct from the sensor Metric enum.
const (
	// Metric Names
	TelemetryEvaluationDuration     = "EvaluationDuration"
	TelemetryEvaluationFailure      = "EvaluationFailure"
	TelemetryRecommendationsEmitted = "RecommendationsEmitted"
	TelemetryRecommendationSeverity = "RecommendationSeverity"
	TelemetryReadingsIngested       = "ReadingsIngested"
	TelemetryIngestFailure          = "IngestFailure"
	TelemetryProviderFailure        = "ProviderFailure"
	TelemetryAPILatency             = "APILatency"
	TelemetryArchiveBytes           = "ArchiveBytes"
	TelemetryClockSkewWarning       = "ClockSkewWarning"

	// Dimension Keys
	DimLawnID   = "LawnID"
	DimRuleID   = "RuleID"
	DimSeverity = "Severity"
	DimMetric   = "Metric"
	DimProvider = "Provider"
	DimEndpoint = "Endpoint"
	DimTask     = "Task"

	// Metric Namespace
	MetricNamespace = "TurfWatch"
)
