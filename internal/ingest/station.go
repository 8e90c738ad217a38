package ingest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"turfwatch/internal/external"
	"turfwatch/internal/types"
)

// stationAPIBase is the default soil-station product base URL.
// Overridable in tests via StationClientConfig.BaseURL.
const stationAPIBase = "https://www.ncei.noaa.gov/pub/data/uscrn/products/hourly02"

// stationSourceName tags readings produced by this provider.
const stationSourceName = "station"

// The hourly product is a fixed-order space-separated text file, one row
// per hour. Column positions after splitting on whitespace.
const (
	stationFieldCount = 38

	fieldUTCDate        = 1  // YYYYMMDD
	fieldUTCTime        = 2  // HHMM
	fieldAmbientTempC   = 8  // T_CALC, degrees C
	fieldPrecipMM       = 12 // P_CALC, millimeters
	fieldHumidityPct    = 26 // RH_HR_AVG, percent
	fieldSoilMoisture10 = 29 // SOIL_MOISTURE_10, volumetric fraction
	fieldSoilTemp10C    = 34 // SOIL_TEMP_10, degrees C
)

// stationTimeLayout parses the concatenated UTC date and time columns.
const stationTimeLayout = "200601021504"

// missingTempSentinel marks absent temperature values in the product.
// Non-negative quantities (moisture, humidity, precipitation) use negative
// sentinels instead, so for those any negative value means missing.
const missingTempSentinel = -9998.0

// maxStationBody caps how much of a yearly product file is read. A full
// year of hourly rows is around 3 MB.
const maxStationBody = 32 << 20

// StationClientConfig holds the configuration for creating a StationClient.
type StationClientConfig struct {
	BaseURL string // Override for testing; defaults to stationAPIBase
	Clock   types.Clock
	Logger  *slog.Logger
}

// StationClient fetches the hourly soil-station text product and converts
// rows to canonical readings: soil temperature and ambient temperature from
// Celsius to Fahrenheit, precipitation from millimeters to inches, soil
// moisture and humidity as published. Files are organized one per station
// per year, so a fetch spanning a year boundary pulls multiple files.
type StationClient struct {
	base    *external.BaseClient
	baseURL string
	clock   types.Clock
	logger  *slog.Logger
}

// NewStationClient creates a StationClient with the platform's default
// resilience settings.
func NewStationClient(httpClient *http.Client, cfg StationClientConfig) *StationClient {
	base := external.NewBaseClient(
		httpClient,
		"station",
		external.DefaultRetryPolicy(),
		"turfwatch/1.0",
	)
	return NewStationClientWithBase(base, cfg)
}

// NewStationClientWithBase creates a StationClient with a pre-configured
// BaseClient. This is useful for testing when you want to control retry
// behavior.
func NewStationClientWithBase(base *external.BaseClient, cfg StationClientConfig) *StationClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stationAPIBase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StationClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		clock:   clock,
		logger:  logger,
	}
}

// FetchSince retrieves all station rows strictly after since and returns
// their readings in row order. A missing yearly file (the current year's
// file appears with the first January row) is skipped, not an error.
func (c *StationClient) FetchSince(ctx context.Context, stationID string, since time.Time) ([]types.Reading, error) {
	if stationID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"station ID is required",
			nil,
		)
	}

	var readings []types.Reading
	currentYear := c.clock.Now().Year()

	for year := since.Year(); year <= currentYear; year++ {
		yearReadings, err := c.fetchYear(ctx, stationID, year, since)
		if err != nil {
			return nil, err
		}
		readings = append(readings, yearReadings...)
	}

	c.logger.InfoContext(ctx, "station data fetched",
		"station_id", stationID,
		"since", since.Format(time.RFC3339),
		"readings", len(readings),
	)

	return readings, nil
}

func (c *StationClient) fetchYear(ctx context.Context, stationID string, year int, since time.Time) ([]types.Reading, error) {
	reqURL := fmt.Sprintf("%s/%d/CRNH0203-%d-%s.txt", c.baseURL, year, year, stationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create station request",
			err,
		)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.DebugContext(ctx, "station file not published yet",
			"station_id", stationID,
			"year", year,
		)
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewAppError(
			types.ErrCodeProviderUnavailable,
			fmt.Sprintf("station provider returned %d", resp.StatusCode),
			nil,
		)
	}

	var readings []types.Reading
	skipped := 0

	scanner := bufio.NewScanner(http.MaxBytesReader(nil, resp.Body, maxStationBody))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		rowReadings, ok := parseStationRow(scanner.Text(), since)
		if !ok {
			skipped++
			continue
		}
		readings = append(readings, rowReadings...)
	}
	if err := scanner.Err(); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeProviderBadPayload,
			"failed to read station response",
			err,
		)
	}

	if skipped > 0 {
		c.logger.DebugContext(ctx, "station rows skipped",
			"station_id", stationID,
			"year", year,
			"skipped", skipped,
		)
	}

	return readings, nil
}

// parseStationRow converts one product row to readings. Rows at or before
// since, short rows, and unparseable timestamps are dropped; within a valid
// row each metric is taken independently so one sentinel value never
// discards the rest.
func parseStationRow(line string, since time.Time) ([]types.Reading, bool) {
	fields := strings.Fields(line)
	if len(fields) < stationFieldCount {
		return nil, false
	}

	at, err := time.ParseInLocation(stationTimeLayout, fields[fieldUTCDate]+fields[fieldUTCTime], time.UTC)
	if err != nil {
		return nil, false
	}
	if !at.After(since) {
		return nil, false
	}

	readings := make([]types.Reading, 0, 5)
	add := func(metric types.Metric, value float64) {
		readings = append(readings, types.Reading{
			Metric:    metric,
			Timestamp: at,
			Value:     value,
			Source:    stationSourceName,
		})
	}

	if v, ok := parseField(fields[fieldSoilTemp10C]); ok && v > missingTempSentinel {
		add(types.MetricSoilTemp10cm, celsiusToFahrenheit(v))
	}
	if v, ok := parseField(fields[fieldSoilMoisture10]); ok && v >= 0 {
		add(types.MetricSoilMoisture, v)
	}
	if v, ok := parseField(fields[fieldAmbientTempC]); ok && v > missingTempSentinel {
		add(types.MetricAmbientTemp, celsiusToFahrenheit(v))
	}
	if v, ok := parseField(fields[fieldHumidityPct]); ok && v >= 0 {
		add(types.MetricHumidity, v)
	}
	if v, ok := parseField(fields[fieldPrecipMM]); ok && v >= 0 {
		add(types.MetricPrecipitation, millimetersToInches(v))
	}

	return readings, true
}

func parseField(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func celsiusToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

func millimetersToInches(mm float64) float64 {
	return mm / 25.4
}
