package scheduler

import "time"

// TaskType identifies which maintenance routine an EventBridge invocation
// should run.
type TaskType string

const (
	// TaskArchiveReadings exports sensor readings older than the retention
	// window to object storage and deletes them from the hot table.
	TaskArchiveReadings TaskType = "archive_readings"

	// TaskPurgeRecommendations deletes recommendation snapshots whose
	// expiry passed more than the recommendation retention window ago.
	TaskPurgeRecommendations TaskType = "purge_recommendations"

	// TaskPurgeJobHistory trims old rows from the job history audit table.
	TaskPurgeJobHistory TaskType = "purge_job_history"

	// TaskPurgeRevokedKeys removes API keys revoked long enough ago that
	// they no longer matter for auditing.
	TaskPurgeRevokedKeys TaskType = "purge_revoked_keys"
)

// MaintenancePayload is the event body the maintenance worker receives.
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides the wall clock for manual invocations and
	// backfills. If nil, time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
