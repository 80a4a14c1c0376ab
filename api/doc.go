// Package api contains the types shared by every relaygo package: credentials
// and their redacting secret wrapper, the message object returned by the
// messaging endpoint, and the error model (sentinels plus APIError).
//
// # Errors
//
// Match sentinels with errors.Is and extract details with errors.As:
//
//	var apiErr *api.APIError
//	if errors.As(err, &apiErr) {
//	    log.Println(apiErr.StatusCode, apiErr.Code, apiErr.Message)
//	}
//	if errors.Is(err, api.ErrTooManyRequests) {
//	    // 429, not retried unless RetryRateLimited is set
//	}
package api
