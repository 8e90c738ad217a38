package types

import (
	"context"
	"time"
)

// MetricSeriesProvider supplies the readings for one metric going back to a
// point in time. Callers make no ordering assumption about the returned
// slice.
type MetricSeriesProvider interface {
	Series(ctx context.Context, metric Metric, since time.Time) ([]Reading, error)
}

// ApplicationHistoryProvider supplies the lawn's treatment history going
// back to a point in time.
type ApplicationHistoryProvider interface {
	Applications(ctx context.Context, since time.Time) ([]Application, error)
}

// Clock abstracts the current time so rule windows and poll schedules can be
// pinned in tests.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock. All stored and compared timestamps are
// UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }
