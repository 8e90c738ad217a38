package config

import (
	"context"
	"testing"
)

func TestEnvVarProviderResolvesSetVariables(t *testing.T) {
	t.Setenv("TURFWATCH_TEST_DB_URL", "postgres://local:pw@localhost/turfwatch")
	t.Setenv("TURFWATCH_TEST_FORECAST_KEY", "owm-local")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(), []string{
		"TURFWATCH_TEST_DB_URL",
		"TURFWATCH_TEST_FORECAST_KEY",
	})
	if err != nil {
		t.Fatalf("GetParametersBatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("resolved %d values, want 2: %v", len(got), got)
	}
	if got["TURFWATCH_TEST_DB_URL"] != "postgres://local:pw@localhost/turfwatch" {
		t.Errorf("TURFWATCH_TEST_DB_URL = %q", got["TURFWATCH_TEST_DB_URL"])
	}
	if got["TURFWATCH_TEST_FORECAST_KEY"] != "owm-local" {
		t.Errorf("TURFWATCH_TEST_FORECAST_KEY = %q", got["TURFWATCH_TEST_FORECAST_KEY"])
	}
}

// Missing keys are omitted, not errors; the loader reports what it could
// not fill in.
func TestEnvVarProviderOmitsUnsetVariables(t *testing.T) {
	t.Setenv("TURFWATCH_TEST_PRESENT", "here")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(), []string{
		"TURFWATCH_TEST_PRESENT",
		"TURFWATCH_TEST_NEVER_SET_ANYWHERE",
	})
	if err != nil {
		t.Fatalf("GetParametersBatch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("resolved %d values, want 1: %v", len(got), got)
	}
	if _, ok := got["TURFWATCH_TEST_NEVER_SET_ANYWHERE"]; ok {
		t.Error("unset variable appeared in result")
	}
}

// A variable set to "" exists and must resolve to the empty string.
func TestEnvVarProviderKeepsEmptyValues(t *testing.T) {
	t.Setenv("TURFWATCH_TEST_EMPTY", "")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(), []string{"TURFWATCH_TEST_EMPTY"})
	if err != nil {
		t.Fatalf("GetParametersBatch: %v", err)
	}
	val, ok := got["TURFWATCH_TEST_EMPTY"]
	if !ok {
		t.Fatal("empty-valued variable missing from result")
	}
	if val != "" {
		t.Errorf("value = %q, want empty string", val)
	}
}

func TestEnvVarProviderNoKeys(t *testing.T) {
	for _, keys := range [][]string{nil, {}} {
		got, err := NewEnvVarProvider().GetParametersBatch(context.Background(), keys)
		if err != nil {
			t.Fatalf("GetParametersBatch(%v): %v", keys, err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("GetParametersBatch(%v) = %v, want empty non-nil map", keys, got)
		}
	}
}
