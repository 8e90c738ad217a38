package types

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// redactedPlaceholder replaces secret values on every rendering path.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"` + redactedPlaceholder + `"`)

// SecretString holds a credential (provider API key, database URL, admin
// key) in a form that cannot leak by accident. All the ways a value escapes
// into output yield the placeholder instead: fmt verbs including %#v, JSON
// encoding, and slog attributes. Only an explicit Unmask call produces the
// plaintext, which keeps the leak surface greppable.
type SecretString string

var (
	_ fmt.Stringer   = SecretString("")
	_ fmt.GoStringer = SecretString("")
	_ json.Marshaler = SecretString("")
	_ slog.LogValuer = SecretString("")
)

func (s SecretString) String() string { return redactedPlaceholder }

// GoString guards the %#v verb, which bypasses Stringer and would otherwise
// print the raw value in Go syntax.
func (s SecretString) GoString() string { return redactedPlaceholder }

func (s SecretString) MarshalJSON() ([]byte, error) { return redactedJSON, nil }

// LogValue resolves to the placeholder before any slog handler sees the
// value.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(redactedPlaceholder) }

// Unmask returns the plaintext. Callers hand it straight to the client that
// needs it (HTTP header, pgx connection string) and never store or log it.
func (s SecretString) Unmask() string { return string(s) }
