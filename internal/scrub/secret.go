// Package scrub provides security helpers for removing sensitive data from errors.
package scrub

import (
	"strings"

	"github.com/prilive-com/relaygo/api"
)

// SecretFromError removes a credential secret from error messages.
// Transport errors can echo request data back, so every error leaving the
// sender passes through here. Preserves the error chain for errors.Is/As via Unwrap().
func SecretFromError(err error, secret api.Secret) error {
	if err == nil {
		return nil
	}
	v := secret.Trimmed().Value()
	if v == "" {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, v) {
		return &scrubbedError{
			msg: strings.ReplaceAll(msg, v, "[REDACTED]"),
			err: err,
		}
	}
	return err
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }
