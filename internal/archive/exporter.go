package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"turfwatch/internal/db"
	"turfwatch/internal/telemetry"
	"turfwatch/internal/types"
)

// DefaultBatchSize bounds how many rows one archive object holds. Batches
// keep memory flat on a large backlog and cap the work lost when a run is
// interrupted.
const DefaultBatchSize = 5000

// taskName tags telemetry and log lines from this exporter.
const taskName = "archive_readings"

// ReadingSource lists and deletes aged reading rows.
type ReadingSource interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]db.ReadingRow, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int, error)
}

// Stats summarizes one archive run.
type Stats struct {
	Rows    int
	Objects int
	// Bytes is the compressed size written to the store.
	Bytes int64
}

// record is the NDJSON line layout of one archived reading. The surrogate
// row id is kept so an archived reading stays traceable to its origin.
type record struct {
	ID         int64     `json:"id"`
	LawnID     string    `json:"lawn_id"`
	Metric     string    `json:"metric"`
	RecordedAt time.Time `json:"recorded_at"`
	Value      float64   `json:"value"`
	Source     string    `json:"source,omitempty"`
}

// Exporter drains readings older than a cutoff into compressed objects.
type Exporter struct {
	readings  ReadingSource
	store     BlobStore
	encoder   *zstd.Encoder
	batchSize int
	metrics   telemetry.Metrics
	clock     types.Clock
	logger    *slog.Logger
}

// ExporterConfig holds the configuration for creating an Exporter.
type ExporterConfig struct {
	Readings  ReadingSource
	Store     BlobStore
	BatchSize int
	Metrics   telemetry.Metrics
	Clock     types.Clock
	Logger    *slog.Logger
}

// NewExporter creates an Exporter with the given configuration.
func NewExporter(cfg ExporterConfig) (*Exporter, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("archive: creating zstd encoder: %w", err)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.Noop{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		readings:  cfg.Readings,
		store:     cfg.Store,
		encoder:   encoder,
		batchSize: batchSize,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
	}, nil
}

// ArchiveBefore exports every reading recorded before the cutoff and
// deletes the exported rows. Rows are only deleted after their object is
// stored; on any error the current batch stays in the hot table and the
// next run picks it up again.
func (e *Exporter) ArchiveBefore(ctx context.Context, cutoff time.Time) (Stats, error) {
	var stats Stats
	runStamp := e.clock.Now().UTC().Format("20060102T150405Z")

	for batch := 1; ; batch++ {
		rows, err := e.readings.ListBefore(ctx, cutoff, e.batchSize)
		if err != nil {
			return stats, fmt.Errorf("archive: listing readings before %s: %w",
				cutoff.UTC().Format(time.RFC3339), err)
		}
		if len(rows) == 0 {
			break
		}

		data, err := e.encode(rows)
		if err != nil {
			return stats, err
		}

		key := objectKey(cutoff, runStamp, batch)
		if err := e.store.Put(ctx, key, data); err != nil {
			return stats, fmt.Errorf("archive: storing %s: %w", key, err)
		}

		ids := make([]int64, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
		deleted, err := e.readings.DeleteByIDs(ctx, ids)
		if err != nil {
			// The object is already written. The rows stay hot and the
			// next run re-exports them under a fresh run stamp, so no
			// earlier object is ever overwritten.
			return stats, fmt.Errorf("archive: deleting %d exported rows: %w", len(ids), err)
		}

		stats.Rows += deleted
		stats.Objects++
		stats.Bytes += int64(len(data))
		e.metrics.RecordArchive(ctx, taskName, int64(len(data)))

		e.logger.InfoContext(ctx, "archived reading batch",
			"key", key,
			"rows", deleted,
			"compressed_bytes", len(data),
		)

		if len(rows) < e.batchSize {
			break
		}
	}

	return stats, nil
}

// encode renders the batch as zstd-compressed NDJSON, one reading per line.
func (e *Exporter) encode(rows []db.ReadingRow) ([]byte, error) {
	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	for _, row := range rows {
		rec := record{
			ID:         row.ID,
			LawnID:     row.LawnID,
			Metric:     string(row.Reading.Metric),
			RecordedAt: row.Reading.Timestamp.UTC(),
			Value:      row.Reading.Value,
			Source:     row.Reading.Source,
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("archive: encoding reading %d: %w", row.ID, err)
		}
	}
	return e.encoder.EncodeAll(raw.Bytes(), nil), nil
}

// objectKey names one archive object. The cutoff's year and month
// partition the tree; the run stamp isolates runs so a retry after a
// failed delete never overwrites an earlier object.
func objectKey(cutoff time.Time, runStamp string, batch int) string {
	cutoff = cutoff.UTC()
	return fmt.Sprintf("readings/%04d/%02d/%s_batch%d.ndjson.zst",
		cutoff.Year(), int(cutoff.Month()), runStamp, batch)
}
