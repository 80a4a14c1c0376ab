// Package relaygo relays text messages to a chat channel over its REST API,
// rotating through a pool of credentials as it goes.
//
// relaygo queues messages, sends them one at a time in FIFO order, and
// switches to the next credential every ten sends.
//
// # Quick Start
//
//	relay, err := relaygo.New(
//	    relaygo.WithChannel("123456789012345678"),
//	    relaygo.WithCredentials(api.NewCredential(secret, "bot1")),
//	    relaygo.WithOnSendResult(func(msg string, ok bool, detail string) {
//	        log.Printf("%q ok=%v %s", msg, ok, detail)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer relay.Close()
//
//	relay.Enqueue("hello")
//	_ = relay.Start(ctx)
//
// # Packages
//
// The pieces can be used on their own:
//
//	rotator   ordered credential set with a cursor
//	sender    transport client: retries, circuit breaker, rate limits
//	dispatch  the single-consumer queue loop
//	api       shared types and errors
//
// cmd/relaygo wraps a Relay in a command that sends stdin lines.
//
// # Features
//
//   - Retry on 500/502/503/504 with exponential backoff; 429 fails fast unless opted in
//   - Opt-in circuit breaker with sony/gobreaker
//   - Per-channel and global rate limiting
//   - TLS 1.2+ with an optional CA bundle
//   - Secret redaction in logs and errors
//   - Structured logging with slog
package relaygo
