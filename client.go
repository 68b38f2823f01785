package eduapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client executes logical API calls end to end: credential acquisition,
// request signing headers, device fingerprint, transport with a hard
// per-attempt deadline, the single credential-rejection recovery cycle, and
// transparent payload decryption. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string

	provider    CredentialProvider
	cipher      *Cipher
	device      DeviceInfo
	fingerprint string

	middleware []Middleware

	rateLimiter *RateLimiter

	cache          Cache
	cacheTTL       time.Duration
	cacheKeyFunc   CacheKeyFunc
	cacheCondition CacheCondition

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// New constructs a Client for the given API base URL using the provided
// functional options. A best effort validation is performed; call IsValid /
// ValidationError for errors.
func New(baseURL string, options ...Option) *Client {
	client := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		timeout:        10 * time.Second,
		headers:        map[string]string{"Content-Type": "application/json"},
		device:         DefaultDeviceInfo(),
		cacheTTL:       5 * time.Minute,
		cacheKeyFunc:   DefaultCacheKeyFunc,
		cacheCondition: DefaultCacheCondition,
		debug:          DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	// The fingerprint is stable for the client's lifetime.
	client.fingerprint = client.device.Fingerprint()

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs a GET call with query parameters.
func (c *Client) Get(ctx context.Context, path string, query map[string]string) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST call with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT call with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Delete performs a DELETE call.
func (c *Client) Delete(ctx context.Context, path string, query map[string]string) (*Response, error) {
	return c.Execute(ctx, &Request{Method: http.MethodDelete, Path: path, Query: query})
}

// Execute runs one logical call through the full pipeline and returns the
// parsed (and, where applicable, decrypted) response envelope.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	if req == nil || req.Path == "" {
		return nil, &ClientError{Type: ErrorTypeValidation, Message: "request descriptor missing path", Timestamp: time.Now()}
	}

	start := time.Now()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	endpoint := req.Path

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}
	if c.debugOn(c.debug != nil && c.debug.LogRequests) {
		c.logger.Debug("starting request", "requestID", requestID, "method", method, "path", req.Path)
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(method, endpoint)
	}

	cacheEnabled := c.cache != nil && c.cacheAllowed(ctx, req)
	if cacheEnabled {
		cacheKey := c.cacheKeyFunc(req)
		if entry, found := c.cache.Get(cacheKey); found {
			if c.metrics != nil {
				c.metrics.RecordCacheHit(method, endpoint)
				c.metrics.RecordRequestEnd(method, endpoint)
				c.metrics.RecordRequest(method, endpoint, entry.Response.StatusCode, time.Since(start))
			}
			if c.debugOn(c.debug != nil && c.debug.LogCache) {
				c.logger.Debug("cache hit", "requestID", requestID, "cacheKey", cacheKey)
			}
			return entry.Response, nil
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(method, endpoint)
		}
	}

	res, err := c.executeWithRecovery(ctx, req, method, requestID)

	if c.metrics != nil {
		c.metrics.RecordRequestEnd(method, endpoint)
		statusCode := 0
		if res != nil {
			statusCode = res.StatusCode
		} else {
			var ce *ClientError
			if errors.As(err, &ce) {
				statusCode = ce.Status
			}
		}
		c.metrics.RecordRequest(method, endpoint, statusCode, time.Since(start))
		if err != nil {
			var ce *ClientError
			if errors.As(err, &ce) {
				c.metrics.RecordError(ce.Type, method, endpoint)
			}
		}
	}

	if err != nil {
		c.stampError(err, requestID, method, req, start)
		return nil, err
	}

	if cacheEnabled && res.StatusCode < 400 {
		cacheKey := c.cacheKeyFunc(req)
		c.cache.Set(cacheKey, &CacheEntry{Response: res}, c.cacheTTLFor(ctx))
		if c.debugOn(c.debug != nil && c.debug.LogCache) {
			c.logger.Debug("response cached", "requestID", requestID, "cacheKey", cacheKey)
		}
	}

	return res, nil
}

// executeWithRecovery drives the bounded retry protocol: one attempt, and on
// a credential rejection exactly one invalidate + reacquire + resend cycle.
// A second rejection is terminal; retries never cascade.
func (c *Client) executeWithRecovery(ctx context.Context, req *Request, method, requestID string) (*Response, error) {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		if c.debugOn(c.debug != nil && c.debug.LogRateLimit) {
			c.logger.Warn("rate limit exceeded", "requestID", requestID, "path", req.Path)
		}
		if c.metrics != nil {
			c.metrics.RecordRateLimitRejection(req.Path)
		}
		return nil, &ClientError{
			Type:      ErrorTypeRateLimit,
			Message:   "rate limit exceeded",
			Cause:     ErrRateLimited,
			Timestamp: time.Now(),
		}
	}

	res, err := c.attempt(ctx, req, method)
	if err == nil {
		return res, nil
	}

	var ce *ClientError
	if !errors.As(err, &ce) || c.provider == nil || req.SkipAuth {
		return nil, err
	}
	if ce.Type != ErrorTypeServer || !c.provider.Rejected(ce.Status, ce.Message) {
		return nil, err
	}

	// Credential rejected on the first attempt: recover locally once.
	c.provider.Invalidate()
	if c.metrics != nil {
		c.metrics.RecordAuthRetry(method, req.Path)
	}
	if c.debugOn(c.debug != nil && c.debug.LogRetries) {
		c.logger.Info("credential rejected, reacquiring and resending", "requestID", requestID, "status", ce.Status)
	}

	res, err = c.attempt(ctx, req, method)
	if err == nil {
		return res, nil
	}

	var ce2 *ClientError
	if errors.As(err, &ce2) && ce2.Type == ErrorTypeServer && c.provider.Rejected(ce2.Status, ce2.Message) {
		return nil, &ClientError{
			Type:      ErrorTypeAuthRejected,
			Status:    ce2.Status,
			Message:   ce2.Message,
			Cause:     ce2.Cause,
			Attempt:   1,
			Timestamp: time.Now(),
		}
	}
	return nil, err
}

// attempt performs one transport round-trip with freshly built headers and
// its own timeout window.
func (c *Client) attempt(ctx context.Context, req *Request, method string) (*Response, error) {
	var cred Credential
	if c.provider != nil && !req.SkipAuth {
		var err error
		cred, err = c.provider.Acquire(ctx, req)
		if err != nil {
			var ce *ClientError
			if errors.As(err, &ce) {
				return nil, err
			}
			return nil, &ClientError{Type: ErrorTypeCredential, Message: "credential acquisition failed", Cause: err, Timestamp: time.Now()}
		}
	}

	target := c.baseURL + req.Path
	if method == http.MethodGet && len(req.Query) > 0 {
		values := url.Values{}
		for k, v := range req.Query {
			values.Set(k, v)
		}
		target += "?" + values.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil && method != http.MethodGet {
		raw, err := requestBodyString(req)
		if err != nil {
			return nil, &ClientError{Type: ErrorTypeValidation, Message: "marshal request body", Cause: err, Timestamp: time.Now()}
		}
		bodyReader = bytes.NewReader([]byte(raw))
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, bodyReader)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeValidation, Message: "build request", Cause: err, Timestamp: time.Now()}
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	if cred != nil {
		cred.Apply(httpReq.Header)
	}
	if !req.SkipAuth {
		httpReq.Header.Set(HeaderDeviceID, c.fingerprint)
	}

	httpResp, err := c.transport(httpReq)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}

	var envelope Response
	parseErr := json.Unmarshal(raw, &envelope)

	if httpResp.StatusCode >= 400 {
		message := envelope.Message
		if parseErr != nil || message == "" {
			message = fmt.Sprintf("HTTP Error: %d", httpResp.StatusCode)
		}
		return nil, &ClientError{
			Type:      ErrorTypeServer,
			Status:    httpResp.StatusCode,
			Message:   message,
			Timestamp: time.Now(),
		}
	}

	if parseErr != nil {
		return nil, &ClientError{
			Type:      ErrorTypeServer,
			Status:    httpResp.StatusCode,
			Message:   "malformed response body",
			Cause:     parseErr,
			Timestamp: time.Now(),
		}
	}

	envelope.StatusCode = httpResp.StatusCode

	if c.cipher != nil && len(envelope.Data) > 0 {
		envelope.Data = c.cipher.Decrypt(envelope.Data)
	}

	return &envelope, nil
}

// transport runs the middleware chain ending at the HTTP client.
func (c *Client) transport(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}
	return current.RoundTrip(req)
}

// classifyTransportError maps transport failures to the error taxonomy:
// deadline overruns synthesize status 408, everything else is a
// network-level failure with status 0.
func (c *Client) classifyTransportError(err error) *ClientError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ClientError{
			Type:      ErrorTypeTimeout,
			Status:    http.StatusRequestTimeout,
			Message:   "request timed out",
			Cause:     err,
			Timestamp: time.Now(),
		}
	}
	return &ClientError{
		Type:      ErrorTypeNetwork,
		Status:    0,
		Message:   "network request failed",
		Cause:     err,
		Timestamp: time.Now(),
	}
}

func (c *Client) cacheAllowed(ctx context.Context, req *Request) bool {
	if control, ok := ctx.Value(CacheControlKey).(*CacheControl); ok {
		return control.Enabled
	}
	return c.cacheCondition(req)
}

func (c *Client) cacheTTLFor(ctx context.Context) time.Duration {
	if control, ok := ctx.Value(CacheControlKey).(*CacheControl); ok && control.TTL > 0 {
		return control.TTL
	}
	return c.cacheTTL
}

// stampError fills request context onto a terminal ClientError.
func (c *Client) stampError(err error, requestID, method string, req *Request, start time.Time) {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return
	}
	if ce.RequestID == "" {
		ce.RequestID = requestID
	}
	if ce.Method == "" {
		ce.Method = method
	}
	if ce.URL == "" {
		ce.URL = c.baseURL + req.Path
	}
	if ce.Duration == 0 {
		ce.Duration = time.Since(start)
	}
}

func (c *Client) debugOn(flag bool) bool {
	return c.debug != nil && c.debug.Enabled && flag && c.logger != nil
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}
