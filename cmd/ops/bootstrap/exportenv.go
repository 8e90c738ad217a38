package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// envVarFor maps each inventory key to the environment variable name the
// service configuration reads. Every inventory entry must appear here; the
// export walks the inventory and looks each key up.
var envVarFor = map[string]string{
	"database/url":                "DATABASE_URL",
	"providers/forecast_api_key":  "FORECAST_API_KEY",
	"providers/forecast_base_url": "FORECAST_BASE_URL",
	"providers/station_base_url":  "STATION_BASE_URL",
	"security/admin_api_key":      "ADMIN_API_KEY",
	"queues/evaluations_url":      "SQS_EVALUATIONS",
	"queues/recommendations_url":  "SQS_RECOMMENDATIONS",
}

// localDevDefaults are variables local development needs that never live
// in SSM. AWS_ENDPOINT_URL points the SQS and CloudWatch clients at
// LocalStack; ARCHIVE_DIR replaces the production path, which is not
// writable on a developer machine.
var localDevDefaults = map[string]string{
	"APP_ENV":          "local",
	"PORT":             "8080",
	"LOG_LEVEL":        "debug",
	"AWS_REGION":       "us-east-1",
	"AWS_ENDPOINT_URL": "http://localhost:4566",
	"ARCHIVE_DIR":      "./archive",
}

// envExport holds the inputs for writeEnvFile.
type envExport struct {
	// OutputPath is where the env file lands. Parent directories are
	// created as needed.
	OutputPath string

	// Env is recorded in the file header.
	Env string

	// Store reads parameter values back from SSM.
	Store *paramStore

	// Stderr receives progress and summary output.
	Stderr io.Writer

	// WithLocalDefaults appends the localDevDefaults section.
	WithLocalDefaults bool
}

// writeEnvFile reads the inventory parameters back from SSM and writes
// them to an env file for local development. SecureStrings are decrypted.
// Parameters that cannot be read, for example because they were skipped
// during bootstrap, are omitted with a warning.
//
// The file holds plaintext secrets: it is written 0600 and must never be
// committed to version control.
func writeEnvFile(ctx context.Context, job envExport) error {
	// Checks never run during export; only the inventory's keys and
	// Secure flags matter here.
	specs := parameterInventory(checkerWith(nil, nil))

	var buf strings.Builder
	fmt.Fprintf(&buf, "# Auto-generated by bootstrap --export-env\n")
	fmt.Fprintf(&buf, "# Environment: %s\n", job.Env)
	fmt.Fprintf(&buf, "# Generated:   %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "#\n")
	fmt.Fprintf(&buf, "# SECURITY WARNING: this file contains plaintext secrets.\n")
	fmt.Fprintf(&buf, "# Do not commit it to version control.\n")
	fmt.Fprintf(&buf, "\n")

	written := 0
	for _, spec := range specs {
		envVar, ok := envVarFor[spec.Key]
		if !ok {
			// An unmapped inventory entry is a programming error; warn
			// loudly instead of silently dropping it from the export.
			fmt.Fprintf(job.Stderr, "  Warning: no env var mapping for %s\n", spec.Key)
			continue
		}

		value, err := job.Store.read(ctx, job.Store.path(spec.Key), spec.Secure)
		if err != nil {
			fmt.Fprintf(job.Stderr, "  Skipped %s: %v\n", envVar, err)
			continue
		}

		// A placeholder would fail config validation on startup (queue
		// URLs carry a url tag), so leave the variable unset. Absent
		// queue URLs disable event publishing, which is the right
		// local-dev behavior.
		if value == pendingPlaceholder {
			fmt.Fprintf(job.Stderr, "  Skipped %s: still %q (deploy pipeline has not replaced it)\n", envVar, pendingPlaceholder)
			continue
		}

		fmt.Fprintf(&buf, "%s\n", formatEnvLine(envVar, value))
		written++
	}

	if written == 0 {
		return fmt.Errorf("no parameters could be read from SSM for environment %q", job.Env)
	}

	if job.WithLocalDefaults {
		appendLocalDefaults(&buf)
	}

	if dir := filepath.Dir(job.OutputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating output directory %q: %w", dir, err)
		}
	}

	// 0600: the file holds decrypted secrets.
	if err := os.WriteFile(job.OutputPath, []byte(buf.String()), 0o600); err != nil {
		return fmt.Errorf("writing env file %q: %w", job.OutputPath, err)
	}

	fmt.Fprintf(job.Stderr, "\nEnvironment file exported: %s\n", job.OutputPath)
	fmt.Fprintf(job.Stderr, "  Parameters written: %d\n", written)
	fmt.Fprintf(job.Stderr, "  File permissions: 0600\n")

	return nil
}

func appendLocalDefaults(buf *strings.Builder) {
	fmt.Fprintf(buf, "\n")
	fmt.Fprintf(buf, "# ----------------------------------------------------------\n")
	fmt.Fprintf(buf, "# Local Development Defaults (not sourced from SSM)\n")
	fmt.Fprintf(buf, "# ----------------------------------------------------------\n")

	keys := make([]string, 0, len(localDevDefaults))
	for k := range localDevDefaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(buf, "%s\n", formatEnvLine(k, localDevDefaults[k]))
	}
}

// formatEnvLine renders a single KEY=value line. Values containing shell
// metacharacters, whitespace, or quotes are double-quoted with backslash
// escaping so godotenv parses them back to the original string.
func formatEnvLine(key, value string) string {
	if !needsQuoting(value) {
		return key + "=" + value
	}

	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	return key + `="` + escaped + `"`
}

// needsQuoting reports whether a value must be quoted in an env file.
// Empty values are quoted so the assignment is visibly intentional.
func needsQuoting(value string) bool {
	if value == "" {
		return true
	}
	return strings.ContainsAny(value, " \t\"#$\\\n{}")
}
