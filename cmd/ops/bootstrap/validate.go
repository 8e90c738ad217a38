package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// probeTimeout bounds each outbound verification call so a wedged endpoint
// cannot hang the prompt.
const probeTimeout = 15 * time.Second

// checkResult reports whether an entered value passed verification.
// Detail is shown to the operator either way.
type checkResult struct {
	OK     bool
	Detail string
}

func pass(format string, args ...any) checkResult {
	return checkResult{OK: true, Detail: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) checkResult {
	return checkResult{Detail: fmt.Sprintf(format, args...)}
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type dbDialer interface {
	Dial(ctx context.Context, dsn string) error
}

// pgxDialer verifies a DSN by opening and closing a real connection.
type pgxDialer struct{}

func (pgxDialer) Dial(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// checker verifies operator-entered values against the live services they
// point at, so typos surface during bootstrap instead of at first deploy.
type checker struct {
	http httpDoer
	db   dbDialer
}

func newChecker() *checker {
	return checkerWith(&http.Client{Timeout: 10 * time.Second}, pgxDialer{})
}

func checkerWith(h httpDoer, db dbDialer) *checker {
	return &checker{http: h, db: db}
}

// databaseURL accepts a postgres:// or postgresql:// URL with a host and
// confirms the database answers a connection.
func (c *checker) databaseURL(ctx context.Context, raw string) checkResult {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fail("database URL must not be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fail("unparseable URL: %v", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fail("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fail("database URL must include a host")
	}

	dialCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := c.db.Dial(dialCtx, raw); err != nil {
		return fail("connection failed: %v", err)
	}
	return pass("connected to %s", parsed.Hostname())
}

var forecastKeyShape = regexp.MustCompile(`^[0-9a-f]{32}$`)

const weatherProbeURL = "https://api.openweathermap.org/data/2.5/weather"

// forecastKey checks the OpenWeatherMap key shape and then spends one real
// request on it. Probe coordinates are the Overland Park pilot region.
func (c *checker) forecastKey(ctx context.Context, key string) checkResult {
	key = strings.TrimSpace(key)
	if key == "" {
		return fail("forecast API key must not be empty")
	}
	if !forecastKeyShape.MatchString(key) {
		return fail("key must be 32 lowercase hex characters")
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	query := url.Values{}
	query.Set("lat", "38.88")
	query.Set("lon", "-94.81")
	query.Set("appid", key)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, weatherProbeURL+"?"+query.Encode(), nil)
	if err != nil {
		return fail("building probe request: %v", err)
	}
	req.Header.Set("User-Agent", "TurfWatch-Bootstrap/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fail("probe request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fail("the weather API rejected the key (401); brand-new keys can take a few minutes to activate")
	case resp.StatusCode != http.StatusOK:
		return fail("weather API answered HTTP %d: %s", resp.StatusCode, clip(body, 200))
	}

	var place struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(body, &place) == nil && place.Name != "" {
		return pass("key accepted (probe resolved %s)", place.Name)
	}
	return pass("key accepted")
}

// baseURL checks structure only. Override endpoints may be private hosts
// unreachable from the operator's machine, so no request is sent.
func (c *checker) baseURL(_ context.Context, raw, what string) checkResult {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fail("%s must not be empty", what)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fail("unparseable %s: %v", what, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fail("%s must use http or https, got %q", what, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fail("%s must include a host", what)
	}
	return pass("%s looks well-formed", what)
}

func clip(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
