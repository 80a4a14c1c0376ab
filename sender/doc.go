// Package sender is the transport client: it posts one text message per call
// to a channel's messages endpoint, authenticated with a caller-supplied
// credential.
//
// # Features
//
//   - Pooled HTTP client with TLS 1.2+ and mandatory certificate verification
//   - Transparent retry on 500, 502, 503 and 504 (429 only when opted in)
//   - Opt-in circuit breaker (WithBreaker)
//   - Per-channel and global rate limiting
//   - Secret redaction in logs and errors
//
// # Usage
//
//	client, err := sender.New(
//	    sender.WithRetries(5),
//	    sender.WithRateLimit(50, 50),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	msg, err := client.SendMessage(ctx, api.NewCredential(secret, "bot1"), sender.SendMessageRequest{
//	    ChannelID: "123456789012345678",
//	    Content:   "Hello, World!",
//	})
package sender
