package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prilive-com/relaygo/sender"
)

// unlimited turns off client-side throttling so tests run at full speed.
func unlimited() []sender.Option {
	return []sender.Option{
		sender.WithRateLimit(0, 0),
		sender.WithPerChannelRateLimit(0, 0),
	}
}

// NewRetryTestClient creates a client for testing retry behavior.
// The circuit breaker never trips.
func NewRetryTestClient(t *testing.T, baseURL string, sleeper *FakeSleeper, opts ...sender.Option) *sender.Client {
	t.Helper()

	defaultOpts := append(unlimited(),
		sender.WithBaseURL(baseURL),
		sender.WithBreaker(0, 0),
	)

	if sleeper != nil {
		defaultOpts = append(defaultOpts, sender.WithSleeper(sleeper))
	}

	client, err := sender.New(append(defaultOpts, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() { client.Close() })
	return client
}

// NewBreakerTestClient creates a client for testing circuit breaker behavior.
// The breaker trips after 2 consecutive failures and retries are off.
func NewBreakerTestClient(t *testing.T, baseURL string, opts ...sender.Option) *sender.Client {
	t.Helper()

	defaultOpts := append(unlimited(),
		sender.WithBaseURL(baseURL),
		sender.WithBreaker(2, 0),
		sender.WithRetries(0), // No retries - test breaker directly
	)

	client, err := sender.New(append(defaultOpts, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() { client.Close() })
	return client
}

// NewTestClient creates a standard test client with sensible defaults.
func NewTestClient(t *testing.T, baseURL string, opts ...sender.Option) *sender.Client {
	t.Helper()

	defaultOpts := append(unlimited(),
		sender.WithBaseURL(baseURL),
		sender.WithRetries(0), // No retries by default for simple tests
	)

	client, err := sender.New(append(defaultOpts, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() { client.Close() })
	return client
}
