package api

import (
	"log/slog"
	"strings"
)

// Secret wraps an authorization secret to prevent accidental logging.
// Implements fmt.Stringer, fmt.GoStringer, slog.LogValuer, and encoding.TextMarshaler.
type Secret string

// Value returns the raw secret.
// Only use this when building the Authorization header.
func (s Secret) Value() string { return string(s) }

// String returns a redacted placeholder (fmt.Stringer).
func (s Secret) String() string { return "[REDACTED]" }

// GoString returns redacted for %#v (fmt.GoStringer).
func (s Secret) GoString() string { return `api.Secret("[REDACTED]")` }

// LogValue returns a redacted value for slog (slog.LogValuer).
func (s Secret) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// MarshalText returns redacted bytes (encoding.TextMarshaler).
func (s Secret) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// IsEmpty returns true if the secret is empty.
func (s Secret) IsEmpty() bool {
	return s == ""
}

// Trimmed returns the secret with leading and trailing whitespace removed.
func (s Secret) Trimmed() Secret {
	return Secret(strings.TrimSpace(string(s)))
}

// Masked returns a display-safe form: the first and last four characters
// around an ellipsis, or "****" for secrets too short to mask.
func (s Secret) Masked() string {
	v := []rune(string(s))
	if len(v) < 12 {
		return "****"
	}
	return string(v[:4]) + "…" + string(v[len(v)-4:])
}
