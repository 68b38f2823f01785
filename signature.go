package eduapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultMintPath = "/generate-signature"

// SignatureBundle is the per-request credential variant: a server-minted
// digest over the canonical request representation plus the timestamp/nonce
// pair that makes it replay-resistant. Bundles are single-use; the provider
// mints a fresh one per logical request.
type SignatureBundle struct {
	APIKey    string `json:"apiKey"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// Apply writes the four signature headers.
func (s *SignatureBundle) Apply(h http.Header) {
	h.Set(HeaderAPIKey, s.APIKey)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
	h.Set(HeaderNonce, s.Nonce)
	h.Set(HeaderSignature, s.Signature)
}

// Canonicalize serializes query parameters deterministically for signing:
// keys sorted lexicographically, joined as key=value pairs with "&". Empty
// values are omitted, mirroring the server-side validator.
func Canonicalize(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// ComputeSignature produces the hex SHA-256 digest the backend validates:
// SHA256(timestamp + nonce + apiKey + canonicalParams + body + secret).
func ComputeSignature(timestamp int64, nonce, apiKey string, params map[string]string, body, secret string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString(nonce)
	b.WriteString(apiKey)
	b.WriteString(Canonicalize(params))
	b.WriteString(body)
	b.WriteString(secret)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// LocalSigner mints signature bundles with a locally held secret. It exists
// for tests and server-side tooling that need parity with the backend
// validator; distributed clients use SignatureProvider instead, which never
// sees the secret.
type LocalSigner struct {
	APIKey string
	Secret string

	now   func() time.Time
	nonce func() string
}

// NewLocalSigner creates a signer for the given API key and shared secret.
func NewLocalSigner(apiKey, secret string) *LocalSigner {
	return &LocalSigner{
		APIKey: apiKey,
		Secret: secret,
		now:    time.Now,
		nonce:  uuid.NewString,
	}
}

// Sign mints a bundle for the given request parameters. Params are signed
// for GET requests, the serialized body for everything else.
func (s *LocalSigner) Sign(method string, params map[string]string, body string) *SignatureBundle {
	ts := s.now().Unix()
	nonce := s.nonce()
	if method == http.MethodGet {
		body = ""
	} else {
		params = nil
	}
	return &SignatureBundle{
		APIKey:    s.APIKey,
		Timestamp: ts,
		Nonce:     nonce,
		Signature: ComputeSignature(ts, nonce, s.APIKey, params, body, s.Secret),
	}
}

// SignatureProvider acquires server-minted signature bundles: the backend
// holds the signing secret and mints a bundle for the canonical request the
// client is about to send. Every acquisition mints a fresh bundle; the
// backend's replay cache consumes each nonce on first use, so a bundle must
// never be shared between transport calls, even for identical requests.
// It is safe for concurrent use.
type SignatureProvider struct {
	baseURL    string
	mintPath   string
	httpClient *http.Client
	logger     Logger
	metrics    *MetricsCollector
}

// SignatureOption configures a SignatureProvider.
type SignatureOption func(*SignatureProvider)

// WithMintPath overrides the signature mint endpoint path.
func WithMintPath(path string) SignatureOption {
	return func(p *SignatureProvider) {
		p.mintPath = path
	}
}

// WithSignatureHTTPClient sets the HTTP client used for the mint endpoint.
func WithSignatureHTTPClient(client *http.Client) SignatureOption {
	return func(p *SignatureProvider) {
		p.httpClient = client
	}
}

// WithSignatureLogger sets the provider's logger.
func WithSignatureLogger(logger Logger) SignatureOption {
	return func(p *SignatureProvider) {
		p.logger = logger
	}
}

// WithSignatureMetrics sets the provider's metrics collector.
func WithSignatureMetrics(collector *MetricsCollector) SignatureOption {
	return func(p *SignatureProvider) {
		p.metrics = collector
	}
}

// NewSignatureProvider creates a server-minted signature provider for the
// given API base URL.
func NewSignatureProvider(baseURL string, opts ...SignatureOption) *SignatureProvider {
	p := &SignatureProvider{
		baseURL:    baseURL,
		mintPath:   defaultMintPath,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire mints a signature bundle for the request. Each call performs its
// own mint round-trip: bundles carry a single-use nonce, so two transport
// calls must never share one, however identical their descriptors are.
func (p *SignatureProvider) Acquire(ctx context.Context, req *Request) (Credential, error) {
	if req == nil {
		return nil, &ClientError{Type: ErrorTypeCredential, Message: "nil request descriptor", Timestamp: time.Now()}
	}

	bodyStr, err := requestBodyString(req)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeCredential, Message: "serialize body for signing", Cause: err, Timestamp: time.Now()}
	}

	return p.mint(ctx, req, bodyStr)
}

// IsValid always reports false: a bundle is bound to one logical request and
// its nonce/timestamp pair must never be reused.
func (p *SignatureProvider) IsValid(_ Credential) bool {
	return false
}

// Rejected reports whether the response indicates a rejected or expired
// signature: a 403 whose message names the token or signature.
func (p *SignatureProvider) Rejected(status int, message string) bool {
	if status != http.StatusForbidden {
		return false
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "token") || strings.Contains(m, "signature") || strings.Contains(m, "sign")
}

// Invalidate is a synchronous no-op for cached state: bundles are minted per
// request and never cached, so there is nothing durable to clear.
func (p *SignatureProvider) Invalidate() {
	if p.metrics != nil {
		p.metrics.RecordCredentialInvalidation("signature")
	}
}

func (p *SignatureProvider) mint(ctx context.Context, req *Request, bodyStr string) (*SignatureBundle, error) {
	payload := map[string]any{
		"method": req.Method,
	}
	if req.Method == http.MethodGet {
		payload["params"] = req.Query
	} else if bodyStr != "" {
		payload["body"] = bodyStr
	}

	raw, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.mintPath, bytes.NewReader(raw))
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeCredential, Message: "build mint request", Cause: err, Timestamp: time.Now()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordCredentialIssuance("signature", "error")
		}
		return nil, &ClientError{Type: ErrorTypeCredential, Message: "signature mint failed", Cause: err, Timestamp: time.Now()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if p.metrics != nil {
			p.metrics.RecordCredentialIssuance("signature", "error")
		}
		return nil, &ClientError{
			Type:      ErrorTypeCredential,
			Status:    resp.StatusCode,
			Message:   fmt.Sprintf("signature mint failed: HTTP %d", resp.StatusCode),
			Timestamp: time.Now(),
		}
	}

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &ClientError{Type: ErrorTypeCredential, Message: "malformed mint response", Cause: err, Timestamp: time.Now()}
	}
	if !envelope.Success || len(envelope.Data) == 0 {
		return nil, &ClientError{
			Type:      ErrorTypeCredential,
			Status:    envelope.Code,
			Message:   "signature mint rejected: " + envelope.Message,
			Timestamp: time.Now(),
		}
	}

	var bundle SignatureBundle
	if err := json.Unmarshal(envelope.Data, &bundle); err != nil {
		return nil, &ClientError{Type: ErrorTypeCredential, Message: "malformed signature bundle", Cause: err, Timestamp: time.Now()}
	}
	if bundle.Signature == "" || bundle.Nonce == "" {
		return nil, &ClientError{Type: ErrorTypeCredential, Message: "malformed signature bundle: missing fields", Timestamp: time.Now()}
	}

	if p.metrics != nil {
		p.metrics.RecordCredentialIssuance("signature", "success")
	}
	if p.logger != nil {
		p.logger.Debug("signature minted", "method", req.Method, "path", req.Path)
	}
	return &bundle, nil
}

// requestBodyString serializes a request body the way it will be sent, which
// is also the form the backend signs over.
func requestBodyString(req *Request) (string, error) {
	if req.Body == nil || req.Method == http.MethodGet {
		return "", nil
	}
	if s, ok := req.Body.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(req.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
