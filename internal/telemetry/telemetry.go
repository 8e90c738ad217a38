// Package telemetry emits operational metrics to CloudWatch. Emission is
// strictly best effort: failures are logged and never propagated, so a
// metrics outage cannot fail ingestion, evaluation, or archival.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"turfwatch/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics is the operational metrics sink shared by the API, the ingestion
// poller, the evaluator, and the archiver.
type Metrics interface {
	// RecordIngest counts readings stored for a lawn in one poll cycle.
	RecordIngest(ctx context.Context, lawnID string, readings int)
	// RecordIngestFailure counts a failed poll cycle for a lawn.
	RecordIngestFailure(ctx context.Context, lawnID string)
	// RecordProviderFailure counts a failed fetch from an upstream provider.
	RecordProviderFailure(ctx context.Context, provider string)
	// RecordEvaluation reports one completed evaluation pass: its duration
	// and how many recommendations it produced.
	RecordEvaluation(ctx context.Context, lawnID string, duration time.Duration, recommendations int)
	// RecordEvaluationFailure counts an evaluation pass that errored.
	RecordEvaluationFailure(ctx context.Context, lawnID string)
	// RecordSeverity counts emitted recommendations by severity.
	RecordSeverity(ctx context.Context, severity types.Severity, count int)
	// RecordClockSkew counts readings rejected by the evaluation-time
	// clock guard.
	RecordClockSkew(ctx context.Context, lawnID string)
	// RecordAPILatency reports request handling time for an endpoint.
	RecordAPILatency(ctx context.Context, endpoint string, duration time.Duration)
	// RecordArchive reports bytes written by a maintenance task.
	RecordArchive(ctx context.Context, task string, bytes int64)
}

var _ Metrics = (*CloudWatchMetrics)(nil)
var _ Metrics = Noop{}

// CloudWatchMetrics implements Metrics by publishing to a CloudWatch
// namespace.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace. An empty namespace falls back to types.MetricNamespace.
// If logger is nil, slog.Default() is used.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func (m *CloudWatchMetrics) RecordIngest(ctx context.Context, lawnID string, readings int) {
	m.put(ctx, datum(types.TelemetryReadingsIngested, float64(readings), cwtypes.StandardUnitCount,
		dim(types.DimLawnID, lawnID)))
}

func (m *CloudWatchMetrics) RecordIngestFailure(ctx context.Context, lawnID string) {
	m.put(ctx, datum(types.TelemetryIngestFailure, 1, cwtypes.StandardUnitCount,
		dim(types.DimLawnID, lawnID)))
}

func (m *CloudWatchMetrics) RecordProviderFailure(ctx context.Context, provider string) {
	m.put(ctx, datum(types.TelemetryProviderFailure, 1, cwtypes.StandardUnitCount,
		dim(types.DimProvider, provider)))
}

// RecordEvaluation batches the duration and recommendation count into a
// single PutMetricData call.
func (m *CloudWatchMetrics) RecordEvaluation(ctx context.Context, lawnID string, duration time.Duration, recommendations int) {
	m.put(ctx,
		datum(types.TelemetryEvaluationDuration, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
			dim(types.DimLawnID, lawnID)),
		datum(types.TelemetryRecommendationsEmitted, float64(recommendations), cwtypes.StandardUnitCount,
			dim(types.DimLawnID, lawnID)),
	)
}

func (m *CloudWatchMetrics) RecordEvaluationFailure(ctx context.Context, lawnID string) {
	m.put(ctx, datum(types.TelemetryEvaluationFailure, 1, cwtypes.StandardUnitCount,
		dim(types.DimLawnID, lawnID)))
}

func (m *CloudWatchMetrics) RecordSeverity(ctx context.Context, severity types.Severity, count int) {
	m.put(ctx, datum(types.TelemetryRecommendationSeverity, float64(count), cwtypes.StandardUnitCount,
		dim(types.DimSeverity, string(severity))))
}

func (m *CloudWatchMetrics) RecordClockSkew(ctx context.Context, lawnID string) {
	m.put(ctx, datum(types.TelemetryClockSkewWarning, 1, cwtypes.StandardUnitCount,
		dim(types.DimLawnID, lawnID)))
}

func (m *CloudWatchMetrics) RecordAPILatency(ctx context.Context, endpoint string, duration time.Duration) {
	m.put(ctx, datum(types.TelemetryAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimEndpoint, endpoint)))
}

func (m *CloudWatchMetrics) RecordArchive(ctx context.Context, task string, bytes int64) {
	m.put(ctx, datum(types.TelemetryArchiveBytes, float64(bytes), cwtypes.StandardUnitBytes,
		dim(types.DimTask, task)))
}

// put publishes the data, logging failures instead of returning them.
func (m *CloudWatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		names := make([]string, 0, len(data))
		for _, d := range data {
			names = append(names, aws.ToString(d.MetricName))
		}
		m.logger.Warn("failed to publish metrics",
			"metrics", names,
			"error", err,
		)
	}
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{
		Name:  aws.String(name),
		Value: aws.String(value),
	}
}

// Noop discards all metrics. Local single-process deployments run with
// this when CloudWatch is not configured.
type Noop struct{}

func (Noop) RecordIngest(context.Context, string, int)                      {}
func (Noop) RecordIngestFailure(context.Context, string)                    {}
func (Noop) RecordProviderFailure(context.Context, string)                  {}
func (Noop) RecordEvaluation(context.Context, string, time.Duration, int)   {}
func (Noop) RecordEvaluationFailure(context.Context, string)                {}
func (Noop) RecordSeverity(context.Context, types.Severity, int)            {}
func (Noop) RecordClockSkew(context.Context, string)                        {}
func (Noop) RecordAPILatency(context.Context, string, time.Duration)        {}
func (Noop) RecordArchive(context.Context, string, int64)                   {}
