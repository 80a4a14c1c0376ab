// Package validate holds the local checks run before a message leaves the process.
package validate

import (
	"strings"

	"github.com/prilive-com/relaygo/api"
)

// maxSnowflakeDigits is the length of the largest uint64.
const maxSnowflakeDigits = 20

// ChannelID validates a channel identifier.
// Valid: a non-empty decimal snowflake of at most 20 digits.
func ChannelID(id string) error {
	if id == "" {
		return api.NewValidationError("channel_id", "cannot be empty")
	}
	if len(id) > maxSnowflakeDigits {
		return api.NewValidationError("channel_id", "too long for a snowflake")
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return api.NewValidationError("channel_id", "must be numeric")
		}
	}
	return nil
}

// Secret validates a credential secret after trimming.
func Secret(s api.Secret) error {
	v := s.Trimmed().Value()
	if v == "" {
		return api.NewValidationError("secret", "cannot be empty")
	}
	if strings.ContainsAny(v, "\r\n") {
		return api.NewValidationError("secret", "cannot contain line breaks")
	}
	return nil
}
