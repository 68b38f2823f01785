// Package eduapi is the secure request pipeline for the school directory
// backend. Every outbound call is authenticated, signed against replay, and
// transparently decrypted:
//
//   - Credential lifecycle: short-lived bearer tokens or server-minted
//     signature bundles, with single-flight acquisition under concurrency
//   - Bounded recovery: exactly one invalidate + reacquire + resend cycle on
//     credential rejection, never more
//   - Payload decryption: AES-256-CBC response envelopes decrypted in place,
//     failing soft when the backend returns plaintext
//   - Device fingerprinting as a non-authoritative anti-abuse header
//   - Response caching, rate limiting, middleware chain and Prometheus metrics
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Credentials owned by their provider; callers only see header values
//
// Typical usage:
//
//	provider := eduapi.NewTokenProvider("https://betterschool.hk/api",
//	    eduapi.WithTokenStore(eduapi.NewFileStore("/var/cache/eduapi/token.json")),
//	)
//	client := eduapi.New("https://betterschool.hk/api",
//	    eduapi.WithCredentialProvider(provider),
//	    eduapi.WithCipher(eduapi.NewCipher(secret)),
//	    eduapi.WithCache(5*time.Minute),
//	)
//	resp, err := client.Get(ctx, "/schools/primary/", map[string]string{"page": "1"})
//
// Timeouts and network failures propagate immediately; retrying those is the
// caller's decision. Decryption failures never fail a call: the original
// payload is passed through and a warning is logged.
package eduapi
