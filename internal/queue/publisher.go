// Package queue provides SQS-based message producers for dispatching
// evaluation requests and recommendation events to downstream workers.
// Both producers are no-ops when their queue URL is unconfigured, so
// single-process deployments run without any messaging infrastructure.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"turfwatch/internal/config"
	"turfwatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EvaluationPublisher sends EvaluationRequest messages to the evaluations
// queue. The ingestion poller and the API's on-demand evaluation endpoint
// both publish through it.
type EvaluationPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewEvaluationPublisher creates an EvaluationPublisher reading the queue
// URL from the AWS configuration.
func NewEvaluationPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *EvaluationPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluationPublisher{
		client:   client,
		queueURL: awsCfg.EvalQueueURL,
		logger:   logger,
	}
}

// TriggerEvaluation enqueues a rules pass request for one lawn. A missing
// trace ID is filled in so the evaluator always has one to log.
func (p *EvaluationPublisher) TriggerEvaluation(ctx context.Context, req types.EvaluationRequest) error {
	if p.queueURL == "" {
		p.logger.DebugContext(ctx, "evaluation queue not configured, dropping trigger",
			"lawn_id", req.LawnID,
			"reason", req.Reason,
		)
		return nil
	}

	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal EvaluationRequest: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(req.Reason),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send EvaluationRequest to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "evaluation request sent",
		"queue_url", p.queueURL,
		"lawn_id", req.LawnID,
		"reason", req.Reason,
		"trace_id", req.TraceID,
	)

	return nil
}

// RecommendationPublisher sends RecommendationEvent envelopes to the
// recommendations queue for downstream notifiers.
type RecommendationPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewRecommendationPublisher creates a RecommendationPublisher reading the
// queue URL from the AWS configuration.
func NewRecommendationPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *RecommendationPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecommendationPublisher{
		client:   client,
		queueURL: awsCfg.RecommendationQueueURL,
		logger:   logger,
	}
}

// Publish enqueues a recommendation event. The event carries the full
// ordered recommendation set of one evaluation pass; the message's
// severity attribute holds the highest severity present so notifiers can
// filter without parsing the body.
func (p *RecommendationPublisher) Publish(ctx context.Context, event types.RecommendationEvent) error {
	if p.queueURL == "" {
		p.logger.DebugContext(ctx, "recommendation queue not configured, dropping event",
			"lawn_id", event.LawnID,
			"recommendations", len(event.Recommendations),
		)
		return nil
	}

	if event.EventID == "" {
		event.EventID = "evt_" + uuid.NewString()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal RecommendationEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if highest, ok := highestSeverity(event.Recommendations); ok {
		input.MessageAttributes = map[string]sqsTypes.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(highest)),
			},
		}
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send RecommendationEvent to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "recommendation event sent",
		"queue_url", p.queueURL,
		"event_id", event.EventID,
		"lawn_id", event.LawnID,
		"recommendations", len(event.Recommendations),
		"trace_id", event.TraceID,
	)

	return nil
}

func highestSeverity(recs []types.Recommendation) (types.Severity, bool) {
	if len(recs) == 0 {
		return "", false
	}
	highest := recs[0].Severity
	for _, r := range recs[1:] {
		if r.Severity.Rank() > highest.Rank() {
			highest = r.Severity
		}
	}
	return highest, true
}
