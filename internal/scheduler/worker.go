package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"turfwatch/internal/types"
)

// EvalRunner is the evaluation surface the queue worker drives.
type EvalRunner interface {
	EvaluateLawn(ctx context.Context, lawnID string, ref time.Time) ([]types.Recommendation, []string, error)
	RunAll(ctx context.Context, ref time.Time) (int, error)
}

// Worker consumes the evaluations queue. It accepts two payload shapes:
// an SQS event batch of evaluation requests, or a single request for
// manual invocation. A manual request without a lawn id runs a full
// sweep, which is how the scheduled EventBridge rule triggers the
// nightly pass.
type Worker struct {
	Eval  EvalRunner
	Clock types.Clock
	Log   *slog.Logger
}

// Handle processes one worker invocation and reports a short result
// string for the invocation log.
//
// Malformed message bodies are dropped rather than returned as errors:
// redelivery cannot fix them and would pin the batch in the queue until
// the DLQ policy gives up. Evaluation failures do return an error so SQS
// redelivers; passes are idempotent, re-running an already evaluated
// lawn just rewrites the same snapshot.
func (w *Worker) Handle(ctx context.Context, payload json.RawMessage) (string, error) {
	log := w.Log
	if log == nil {
		log = slog.Default()
	}
	clock := w.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	// SQS deliveries arrive wrapped in the Lambda event envelope.
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err == nil && len(sqsEvent.Records) > 0 {
		return w.handleBatch(ctx, log, clock, sqsEvent)
	}

	var req types.EvaluationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", fmt.Errorf("parsing payload as SQS event or evaluation request: %w", err)
	}
	return w.handleRequest(ctx, log, clock, req)
}

func (w *Worker) handleBatch(ctx context.Context, log *slog.Logger, clock types.Clock, event events.SQSEvent) (string, error) {
	processed := 0
	failed := 0
	var firstErr error

	for _, record := range event.Records {
		var req types.EvaluationRequest
		if err := json.Unmarshal([]byte(record.Body), &req); err != nil {
			log.ErrorContext(ctx, "dropping malformed evaluation request",
				"message_id", record.MessageId,
				"error", err,
			)
			continue
		}
		if req.LawnID == "" {
			log.ErrorContext(ctx, "dropping evaluation request without lawn id",
				"message_id", record.MessageId,
			)
			continue
		}

		ref := clock.Now()
		if req.ReferenceTime != nil {
			ref = *req.ReferenceTime
		}

		if _, _, err := w.Eval.EvaluateLawn(ctx, req.LawnID, ref); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			log.ErrorContext(ctx, "queued evaluation failed",
				"lawn_id", req.LawnID,
				"reason", req.Reason,
				"trace_id", req.TraceID,
				"error", err,
			)
			continue
		}
		processed++
	}

	if firstErr != nil {
		return "", fmt.Errorf("evaluated %d of %d requests: %w", processed, processed+failed, firstErr)
	}

	result := fmt.Sprintf("evaluated %d lawns", processed)
	log.InfoContext(ctx, result, "processed", processed, "records", len(event.Records))
	return result, nil
}

func (w *Worker) handleRequest(ctx context.Context, log *slog.Logger, clock types.Clock, req types.EvaluationRequest) (string, error) {
	ref := clock.Now()
	if req.ReferenceTime != nil {
		ref = *req.ReferenceTime
	}
	reason := req.Reason
	if reason == "" {
		reason = types.EvalReasonManual
	}

	if req.LawnID == "" {
		log.InfoContext(ctx, "running evaluation sweep",
			"reason", reason,
			"reference_time", ref.Format(time.RFC3339),
		)
		n, err := w.Eval.RunAll(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("evaluation sweep failed: %w", err)
		}
		return fmt.Sprintf("sweep complete: %d lawns evaluated", n), nil
	}

	log.InfoContext(ctx, "running requested evaluation",
		"lawn_id", req.LawnID,
		"reason", reason,
		"trace_id", req.TraceID,
	)
	if _, _, err := w.Eval.EvaluateLawn(ctx, req.LawnID, ref); err != nil {
		return "", fmt.Errorf("evaluating lawn %s: %w", req.LawnID, err)
	}
	return fmt.Sprintf("evaluated lawn %s", req.LawnID), nil
}
