package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"turfwatch/internal/external"
	"turfwatch/internal/types"
)

// stubClock returns a fixed instant, shared by the provider and poller tests.
type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time { return c.now }

// noSleep removes retry delays from tests.
func noSleep(time.Duration) {}

func newTestBase(t *testing.T, name string) *external.BaseClient {
	t.Helper()
	return external.NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		name,
		external.RetryPolicy{
			MaxRetries: 0, // No retries in tests for deterministic behavior
			MinWait:    1 * time.Millisecond,
			MaxWait:    10 * time.Millisecond,
		},
		"turfwatch-test/1.0",
		external.WithSleepFunc(noSleep),
	)
}

func newTestForecastClient(t *testing.T, serverURL string, now time.Time) *ForecastClient {
	t.Helper()
	return NewForecastClientWithBase(newTestBase(t, "test-forecast"), ForecastClientConfig{
		APIKey:  types.SecretString("owm_secret_123"),
		BaseURL: serverURL,
		Clock:   stubClock{now: now},
	})
}

func findReading(t *testing.T, readings []types.Reading, metric types.Metric) types.Reading {
	t.Helper()
	for _, r := range readings {
		if r.Metric == metric {
			return r
		}
	}
	t.Fatalf("no %s reading in %v", metric, readings)
	return types.Reading{}
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestForecastFetch_ReducesPointsToReadings(t *testing.T) {
	now := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

	var receivedQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedQuery = map[string]string{
			"lat":   r.URL.Query().Get("lat"),
			"lon":   r.URL.Query().Get("lon"),
			"appid": r.URL.Query().Get("appid"),
			"units": r.URL.Query().Get("units"),
		}
		json.NewEncoder(w).Encode(owmForecastResponse{
			// First slot sits an hour in the past, as the provider's
			// current three-hour window often does.
			List: []owmForecastItem{
				{
					Dt:   now.Add(-1 * time.Hour).Unix(),
					Main: owmMain{Temp: 85, Humidity: 40},
					Wind: owmWind{Speed: 5},
					Pop:  0.2,
				},
				{
					Dt:   now.Add(30 * time.Hour).Unix(),
					Main: owmMain{Temp: 92, Humidity: 50},
					Wind: owmWind{Speed: 12},
					Pop:  0.7,
				},
				{
					// Within the temperature horizon but beyond the rain one.
					Dt:   now.Add(60 * time.Hour).Unix(),
					Main: owmMain{Temp: 96, Humidity: 60},
					Wind: owmWind{Speed: 20},
					Pop:  0.9,
				},
			},
			City: owmCity{Name: "Lexington"},
		})
	}))
	defer server.Close()

	client := newTestForecastClient(t, server.URL, now)
	readings, err := client.Fetch(context.Background(), types.Location{Lat: 38.0406, Lon: -84.5037})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if receivedQuery["lat"] != "38.0406" {
		t.Errorf("expected lat 38.0406, got %s", receivedQuery["lat"])
	}
	if receivedQuery["lon"] != "-84.5037" {
		t.Errorf("expected lon -84.5037, got %s", receivedQuery["lon"])
	}
	if receivedQuery["appid"] != "owm_secret_123" {
		t.Errorf("expected raw API key in query, got %s", receivedQuery["appid"])
	}
	if receivedQuery["units"] != "imperial" {
		t.Errorf("expected units=imperial, got %s", receivedQuery["units"])
	}

	if len(readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(readings))
	}

	temp := findReading(t, readings, types.MetricForecastTemp)
	if temp.Value != 96 {
		t.Errorf("expected max forecast temp 96, got %f", temp.Value)
	}

	// The 0.9 pop point lies beyond the rain horizon; 0.7 is the max inside it.
	rain := findReading(t, readings, types.MetricForecastRainProb)
	if !floatEquals(rain.Value, 70) {
		t.Errorf("expected rain probability 70, got %f", rain.Value)
	}

	// Wind comes from the temporally nearest slot.
	wind := findReading(t, readings, types.MetricWindSpeed)
	if wind.Value != 5 {
		t.Errorf("expected wind speed 5, got %f", wind.Value)
	}

	for _, r := range readings {
		if !r.Timestamp.Equal(now) {
			t.Errorf("%s: expected poll-time timestamp %s, got %s", r.Metric, now, r.Timestamp)
		}
		if r.Source != "forecast" {
			t.Errorf("%s: expected source forecast, got %s", r.Metric, r.Source)
		}
	}
}

func TestForecastFetch_AllPointsBeyondHorizons(t *testing.T) {
	now := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(owmForecastResponse{
			List: []owmForecastItem{
				{
					Dt:   now.Add(100 * time.Hour).Unix(),
					Main: owmMain{Temp: 90},
					Wind: owmWind{Speed: 8},
					Pop:  0.5,
				},
			},
			City: owmCity{Name: "Lexington"},
		})
	}))
	defer server.Close()

	client := newTestForecastClient(t, server.URL, now)
	readings, err := client.Fetch(context.Background(), types.Location{Lat: 38, Lon: -84})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	// Only wind survives: it always takes the nearest slot.
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(readings))
	}
	if readings[0].Metric != types.MetricWindSpeed {
		t.Errorf("expected wind_speed, got %s", readings[0].Metric)
	}
	if readings[0].Value != 8 {
		t.Errorf("expected wind speed 8, got %f", readings[0].Value)
	}
}

func TestForecastFetch_EmptyListReturnsBadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(owmForecastResponse{City: owmCity{Name: "Lexington"}})
	}))
	defer server.Close()

	client := newTestForecastClient(t, server.URL, time.Now().UTC())
	_, err := client.Fetch(context.Background(), types.Location{Lat: 38, Lon: -84})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got: %v", err)
	}
	if appErr.Code != types.ErrCodeProviderBadPayload {
		t.Errorf("expected %s, got %s", types.ErrCodeProviderBadPayload, appErr.Code)
	}
}

func TestForecastFetch_MalformedJSONReturnsBadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := newTestForecastClient(t, server.URL, time.Now().UTC())
	_, err := client.Fetch(context.Background(), types.Location{Lat: 38, Lon: -84})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got: %v", err)
	}
	if appErr.Code != types.ErrCodeProviderBadPayload {
		t.Errorf("expected %s, got %s", types.ErrCodeProviderBadPayload, appErr.Code)
	}
}

func TestForecastFetch_ServerErrorMapsToProviderUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestForecastClient(t, server.URL, time.Now().UTC())
	_, err := client.Fetch(context.Background(), types.Location{Lat: 38, Lon: -84})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got: %v", err)
	}
	if appErr.Code != types.ErrCodeProviderUnavailable {
		t.Errorf("expected %s, got %s", types.ErrCodeProviderUnavailable, appErr.Code)
	}
}
