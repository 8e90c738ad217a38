package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the whole probe sweep. Probes still running at
// the deadline are reported as timed out rather than holding the response.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is a liveness check for one subsystem the service cannot run
// without (database, queue, archive store). Implementations must honor ctx
// cancellation; a hung probe only delays its own verdict, not the endpoint.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

var errProbeTimedOut = errors.New("health check timed out")

// HandleHealth runs every registered probe in parallel and reports 200 when
// all pass, 503 otherwise. Mounted unauthenticated at GET /health so load
// balancers and the deploy pipeline can poll it.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	verdicts := sweepProbes(ctx, s.HealthProbes)

	components := make(map[string]componentStatus, len(verdicts))
	healthy := true
	for name, err := range verdicts {
		if err == nil {
			components[name] = componentStatus{Status: "healthy"}
			continue
		}
		healthy = false
		components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
	}

	if !healthy {
		JSON(w, r, http.StatusServiceUnavailable, healthResponse{
			Status:     "unhealthy",
			Components: components,
		})
		return
	}
	JSON(w, r, http.StatusOK, healthResponse{
		Status:     "healthy",
		Components: components,
	})
}

// sweepProbes checks all probes concurrently and returns each probe's error
// (nil for healthy) keyed by name. Probes that have not reported when ctx
// expires are marked with errProbeTimedOut; their goroutines finish into a
// buffered channel, so none block.
func sweepProbes(ctx context.Context, probes []HealthProbe) map[string]error {
	type verdict struct {
		idx int
		err error
	}
	ch := make(chan verdict, len(probes))

	for i, probe := range probes {
		go func() {
			ch <- verdict{idx: i, err: runProbe(ctx, probe)}
		}()
	}

	results := make(map[string]error, len(probes))

collect:
	for range probes {
		select {
		case v := <-ch:
			results[probes[v.idx].Name()] = v.err
		case <-ctx.Done():
			break collect
		}
	}

	for _, probe := range probes {
		if _, reported := results[probe.Name()]; !reported {
			results[probe.Name()] = errProbeTimedOut
		}
	}
	return results
}

// runProbe shields the sweep from a panicking probe implementation.
func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("probe panicked: %v", rec)
		}
	}()
	return p.Check(ctx)
}
