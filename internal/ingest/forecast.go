// Package ingest pulls environmental data from upstream providers and
// reduces it to canonical readings. Two providers feed a lawn: a forecast
// API resolved from the lawn's coordinates and an hourly soil-station
// product bound by station ID. All values are converted to the fixed
// per-metric units here so nothing downstream ever sees provider units.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"turfwatch/internal/external"
	"turfwatch/internal/types"
)

// forecastAPIBase is the default forecast provider base URL.
// Overridable in tests via ForecastClientConfig.BaseURL.
const forecastAPIBase = "https://api.openweathermap.org/data/2.5"

// Default reduction horizons. The forecast list covers five days in
// three-hour steps; temperature looks further out than rain probability
// because heat stress builds over days while rain delays decisions today.
const (
	defaultTempHorizon = 72 * time.Hour
	defaultRainHorizon = 48 * time.Hour
)

// forecastSourceName tags readings produced by this provider.
const forecastSourceName = "forecast"

// ForecastClientConfig holds the configuration for creating a ForecastClient.
type ForecastClientConfig struct {
	APIKey  types.SecretString
	BaseURL string // Override for testing; defaults to forecastAPIBase

	// TempHorizon and RainHorizon bound how far into the forecast list the
	// reductions look. Zero values take the defaults.
	TempHorizon time.Duration
	RainHorizon time.Duration

	Clock  types.Clock
	Logger *slog.Logger
}

// owmForecastResponse is the provider's 5-day/3-hour forecast envelope.
type owmForecastResponse struct {
	List []owmForecastItem `json:"list"`
	City owmCity           `json:"city"`
}

// owmForecastItem is one three-hour forecast slot. With units=imperial the
// temperature arrives in Fahrenheit and wind speed in mph; pop is a 0..1
// probability fraction regardless of units.
type owmForecastItem struct {
	Dt   int64   `json:"dt"`
	Main owmMain `json:"main"`
	Wind owmWind `json:"wind"`
	Pop  float64 `json:"pop"`
}

type owmMain struct {
	Temp     float64 `json:"temp"`
	Humidity float64 `json:"humidity"`
}

type owmWind struct {
	Speed float64 `json:"speed"`
}

type owmCity struct {
	Name string `json:"name"`
}

// ForecastClient fetches the 5-day/3-hour forecast for a location and
// reduces it to point-in-time readings stamped at poll time: the maximum
// forecast temperature within TempHorizon, the maximum rain probability
// within RainHorizon (as a percentage), and the wind speed at the nearest
// forecast slot. Stamping at poll time keeps the values inside trailing
// evaluation windows.
type ForecastClient struct {
	base        *external.BaseClient
	apiKey      types.SecretString
	baseURL     string
	tempHorizon time.Duration
	rainHorizon time.Duration
	clock       types.Clock
	logger      *slog.Logger
}

// NewForecastClient creates a ForecastClient with the platform's default
// resilience settings. The httpClient timeout should match the provider
// request budget.
func NewForecastClient(httpClient *http.Client, cfg ForecastClientConfig) *ForecastClient {
	base := external.NewBaseClient(
		httpClient,
		"forecast",
		external.DefaultRetryPolicy(),
		"turfwatch/1.0",
	)
	return NewForecastClientWithBase(base, cfg)
}

// NewForecastClientWithBase creates a ForecastClient with a pre-configured
// BaseClient. This is useful for testing when you want to control retry
// behavior.
func NewForecastClientWithBase(base *external.BaseClient, cfg ForecastClientConfig) *ForecastClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = forecastAPIBase
	}
	tempHorizon := cfg.TempHorizon
	if tempHorizon <= 0 {
		tempHorizon = defaultTempHorizon
	}
	rainHorizon := cfg.RainHorizon
	if rainHorizon <= 0 {
		rainHorizon = defaultRainHorizon
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ForecastClient{
		base:        base,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		tempHorizon: tempHorizon,
		rainHorizon: rainHorizon,
		clock:       clock,
		logger:      logger,
	}
}

// Fetch retrieves the forecast for a location and returns the reduced
// readings. An empty forecast list is a provider payload error; a partial
// list still yields whatever readings its points support.
func (c *ForecastClient) Fetch(ctx context.Context, loc types.Location) ([]types.Reading, error) {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	query.Set("appid", c.apiKey.Unmask())
	query.Set("units", "imperial")

	reqURL := fmt.Sprintf("%s/forecast?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create forecast request",
			err,
		)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// BaseClient returns 4xx responses (other than 429) as-is without error.
	if resp.StatusCode >= 400 {
		c.logger.ErrorContext(ctx, "forecast provider error",
			"status_code", resp.StatusCode,
		)
		return nil, types.NewAppError(
			types.ErrCodeProviderUnavailable,
			fmt.Sprintf("forecast provider returned %d", resp.StatusCode),
			nil,
		)
	}

	var payload owmForecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeProviderBadPayload,
			"failed to decode forecast response",
			err,
		)
	}
	if len(payload.List) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeProviderBadPayload,
			"forecast response contained no points",
			nil,
		)
	}

	now := c.clock.Now()
	readings := c.reduce(now, payload.List)

	c.logger.InfoContext(ctx, "forecast fetched",
		"city", payload.City.Name,
		"points", len(payload.List),
		"readings", len(readings),
	)

	return readings, nil
}

// reduce collapses the forecast list to poll-time readings. Points earlier
// than the poll instant still count: the provider's first slot can sit up
// to three hours in the past.
func (c *ForecastClient) reduce(now time.Time, items []owmForecastItem) []types.Reading {
	var (
		maxTemp, maxPop   float64
		haveTemp, havePop bool

		nearestWind  float64
		nearestDelta time.Duration = math.MaxInt64
	)

	tempCutoff := now.Add(c.tempHorizon)
	rainCutoff := now.Add(c.rainHorizon)

	for _, item := range items {
		at := time.Unix(item.Dt, 0).UTC()

		if !at.After(tempCutoff) && (!haveTemp || item.Main.Temp > maxTemp) {
			maxTemp = item.Main.Temp
			haveTemp = true
		}
		if !at.After(rainCutoff) && (!havePop || item.Pop > maxPop) {
			maxPop = item.Pop
			havePop = true
		}

		delta := at.Sub(now)
		if delta < 0 {
			delta = -delta
		}
		if delta < nearestDelta {
			nearestDelta = delta
			nearestWind = item.Wind.Speed
		}
	}

	readings := make([]types.Reading, 0, 3)
	if haveTemp {
		readings = append(readings, types.Reading{
			Metric:    types.MetricForecastTemp,
			Timestamp: now,
			Value:     maxTemp,
			Source:    forecastSourceName,
		})
	}
	if havePop {
		readings = append(readings, types.Reading{
			Metric:    types.MetricForecastRainProb,
			Timestamp: now,
			Value:     maxPop * 100,
			Source:    forecastSourceName,
		})
	}
	readings = append(readings, types.Reading{
		Metric:    types.MetricWindSpeed,
		Timestamp: now,
		Value:     nearestWind,
		Source:    forecastSourceName,
	})

	return readings
}
