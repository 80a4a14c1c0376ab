// Package resilience provides the retry loop, circuit breaker and rate limiting
// used by the sender. Uses sony/gobreaker for circuit breaking and
// golang.org/x/time/rate for rate limiting.
package resilience
