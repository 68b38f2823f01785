package eduapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Request describes one logical API call. It is immutable once handed to the
// pipeline: retries rebuild headers but never mutate the descriptor.
type Request struct {
	// Method is one of GET, POST, PUT, DELETE.
	Method string
	// Path is joined onto the client base URL.
	Path string
	// Query holds URL query parameters; nil values are simply absent from the
	// map. For GET requests they are also the signing input.
	Query map[string]string
	// Body is JSON-marshaled for non-GET requests. Nil means no body.
	Body any
	// Timeout overrides the client timeout for this call when positive.
	Timeout time.Duration
	// SkipAuth skips credential acquisition and the fingerprint header.
	// Intended for public endpoints such as credential issuance itself.
	SkipAuth bool
}

// Response is the envelope every backend endpoint returns:
// {code, message, data, success}. Data is the final decrypted value; if
// decryption failed the raw (possibly still encrypted) value is kept.
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`

	// StatusCode is the HTTP status the envelope arrived with.
	StatusCode int `json:"-"`
}

// EncryptedEnvelope is the shape the backend wraps protected payloads in.
// IV and Payload are base64; the pipeline treats everything else as opaque.
type EncryptedEnvelope struct {
	Encrypted bool   `json:"encrypted"`
	IV        string `json:"iv"`
	Payload   string `json:"payload"`
}

// asEncryptedEnvelope reports whether raw data has the encrypted envelope
// shape. The backend sets the encrypted flag, but iv+payload alone is also
// accepted since older responses omit the flag.
func asEncryptedEnvelope(data json.RawMessage) (*EncryptedEnvelope, bool) {
	if len(data) == 0 || data[0] != '{' {
		return nil, false
	}
	var env EncryptedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if env.IV == "" || env.Payload == "" {
		return nil, false
	}
	return &env, true
}

// DecodeData unmarshals the envelope's data field into T.
func DecodeData[T any](resp *Response) (T, error) {
	var v T
	if resp == nil || len(resp.Data) == 0 {
		return v, fmt.Errorf("eduapi: response has no data")
	}
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		return v, fmt.Errorf("eduapi: decode data: %w", err)
	}
	return v, nil
}

// Middleware represents a middleware function wrapping the transport.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option represents a configuration option.
type Option func(*Client)

// Context keys for per-request cache control.
type contextKey string

const (
	// CacheControlKey carries a *CacheControl value on the request context.
	CacheControlKey contextKey = "eduapi_cache_control"
)

// CacheControl holds cache control options for a single request.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// Outbound header names. The four signature headers and the device identifier
// must match what the backend's validation middleware reads.
const (
	HeaderAuthorization = "Authorization"
	HeaderDeviceID      = "X-Device-Id"
	HeaderAPIKey        = "X-Api-Key"
	HeaderTimestamp     = "X-Timestamp"
	HeaderNonce         = "X-Nonce"
	HeaderSignature     = "X-Signature"
)
