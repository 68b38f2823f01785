package eduapi

import (
	"context"
	"net/http"
)

// Credential is opaque authentication material produced by a provider. The
// pipeline only ever asks it to write its headers; the value itself stays
// inside the provider's ownership boundary.
type Credential interface {
	// Apply writes the credential's headers onto an outgoing request.
	Apply(h http.Header)
}

// CredentialProvider produces valid credential material for outgoing
// requests, hiding acquisition latency.
//
// Implementations guarantee at most one in-flight acquisition per credential
// key. For a shared credential (bearer tokens) concurrent Acquire calls join
// one network round-trip and observe the same result; single-use credentials
// (signature bundles) are keyed per call, so every Acquire yields material no
// other transport call has consumed.
type CredentialProvider interface {
	// Acquire returns a currently valid credential for the given request,
	// performing a network round-trip if nothing valid is cached. This is a
	// blocking call; ctx bounds the wait.
	Acquire(ctx context.Context, req *Request) (Credential, error)

	// Invalidate clears any cached credential synchronously, including its
	// durable storage backing. Subsequent Acquire calls trigger fresh issuance.
	Invalidate()

	// IsValid reports whether the credential still satisfies the provider's
	// validity invariant. Pure predicate, no side effects.
	IsValid(c Credential) bool

	// Rejected reports whether an HTTP status and server message indicate the
	// server rejected this provider's credential, which drives the pipeline's
	// single invalidate+reacquire+resend cycle.
	Rejected(status int, message string) bool
}
