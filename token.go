package eduapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/laolei112/Educational-Counselor-Assistant/internal/backoff"
	"github.com/laolei112/Educational-Counselor-Assistant/internal/singleflight"
)

// Storage keys for the persisted token. These match what earlier deployments
// of the web client wrote, so an upgraded client adopts an existing token.
const (
	tokenStorageKey = "api_access_token"
	tokenExpiryKey  = "api_token_expiry"
)

const (
	// defaultExpiryBuffer makes a token invalid 5 minutes before its actual
	// expiry so requests never race the server-side cutoff.
	defaultExpiryBuffer = 5 * time.Minute
	// defaultRefreshWindow is how far ahead of expiry the auto-refresh loop
	// renews proactively.
	defaultRefreshWindow = 10 * time.Minute

	defaultTokenIssuePath   = "/auth/token"
	defaultTokenRefreshPath = "/auth/refresh"
	defaultTokenRevokePath  = "/auth/revoke"
)

// BearerToken is the bearer credential variant. It is created and replaced
// only by its TokenProvider.
type BearerToken struct {
	Token     string
	ExpiresAt time.Time
}

// Apply writes the authorization header.
func (t *BearerToken) Apply(h http.Header) {
	h.Set(HeaderAuthorization, "Bearer "+t.Token)
}

// tokenGrant is the wire shape of the issuance and refresh endpoints' data.
type tokenGrant struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	TokenType string `json:"token_type"`
}

// TokenProvider acquires, caches and persists short-lived bearer tokens.
// Concurrent Acquire calls are collapsed into a single issuance round-trip.
// It is safe for concurrent use.
type TokenProvider struct {
	baseURL     string
	issuePath   string
	refreshPath string
	revokePath  string
	httpClient  *http.Client
	store       Store
	buffer      time.Duration
	window      time.Duration
	logger      Logger
	metrics     *MetricsCollector
	now         func() time.Time

	refreshEvery time.Duration

	mu    sync.Mutex
	token *BearerToken

	group *singleflight.Group

	stop     chan struct{}
	stopOnce sync.Once
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithTokenStore sets the durable store backing token persistence.
func WithTokenStore(store Store) TokenOption {
	return func(p *TokenProvider) {
		p.store = store
	}
}

// WithTokenHTTPClient sets the HTTP client used for credential endpoints.
func WithTokenHTTPClient(client *http.Client) TokenOption {
	return func(p *TokenProvider) {
		p.httpClient = client
	}
}

// WithExpiryBuffer sets how long before actual expiry a token is treated as
// invalid.
func WithExpiryBuffer(d time.Duration) TokenOption {
	return func(p *TokenProvider) {
		p.buffer = d
	}
}

// WithRefreshWindow sets how far ahead of expiry the auto-refresh loop renews.
func WithRefreshWindow(d time.Duration) TokenOption {
	return func(p *TokenProvider) {
		p.window = d
	}
}

// WithTokenPaths overrides the credential endpoint paths.
func WithTokenPaths(issue, refresh, revoke string) TokenOption {
	return func(p *TokenProvider) {
		p.issuePath = issue
		p.refreshPath = refresh
		p.revokePath = revoke
	}
}

// WithTokenLogger sets the provider's logger.
func WithTokenLogger(logger Logger) TokenOption {
	return func(p *TokenProvider) {
		p.logger = logger
	}
}

// WithTokenMetrics sets the provider's metrics collector.
func WithTokenMetrics(collector *MetricsCollector) TokenOption {
	return func(p *TokenProvider) {
		p.metrics = collector
	}
}

// WithAutoRefresh enables a background loop that checks the token every
// interval and renews it when inside the refresh window, so expiry is
// usually absorbed without any request paying the issuance latency. The loop
// starts once construction finishes, after every option has been applied.
func WithAutoRefresh(interval time.Duration) TokenOption {
	return func(p *TokenProvider) {
		p.refreshEvery = interval
	}
}

// withTokenClock injects a clock for tests.
func withTokenClock(now func() time.Time) TokenOption {
	return func(p *TokenProvider) {
		p.now = now
	}
}

// NewTokenProvider creates a bearer token provider for the given API base
// URL. A persisted token is adopted from the store if it has not expired.
func NewTokenProvider(baseURL string, opts ...TokenOption) *TokenProvider {
	p := &TokenProvider{
		baseURL:     baseURL,
		issuePath:   defaultTokenIssuePath,
		refreshPath: defaultTokenRefreshPath,
		revokePath:  defaultTokenRevokePath,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		store:       NewMemoryStore(),
		buffer:      defaultExpiryBuffer,
		window:      defaultRefreshWindow,
		now:         time.Now,
		group:       singleflight.New(),
		stop:        make(chan struct{}),
	}

	// Options first so the configured store and clock govern adoption. The
	// auto-refresh loop starts last so it never observes a half-built provider.
	for _, opt := range opts {
		opt(p)
	}
	p.loadFromStore()

	if p.refreshEvery > 0 {
		go p.autoRefresh(p.refreshEvery)
	}

	return p
}

// Acquire returns a valid bearer token, issuing a new one when the cached
// token fails the validity invariant. Concurrent callers share one issuance.
// A closed provider refuses with ErrNoCredential.
func (p *TokenProvider) Acquire(ctx context.Context, _ *Request) (Credential, error) {
	select {
	case <-p.stop:
		return nil, p.credentialError("provider closed", 0, ErrNoCredential)
	default:
	}

	p.mu.Lock()
	if t := p.token; t != nil && p.validAt(t, p.now()) {
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	v, err := p.group.Do(ctx, "token", func() (interface{}, error) {
		// Re-check under the flight: a waiter that queued behind a completed
		// issuance finds the fresh token here without another round-trip.
		p.mu.Lock()
		if t := p.token; t != nil && p.validAt(t, p.now()) {
			p.mu.Unlock()
			return t, nil
		}
		p.mu.Unlock()
		return p.issue(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BearerToken), nil
}

// IsValid reports whether the credential is a bearer token that is strictly
// before (expiry - buffer).
func (p *TokenProvider) IsValid(c Credential) bool {
	t, ok := c.(*BearerToken)
	if !ok || t == nil {
		return false
	}
	return p.validAt(t, p.now())
}

func (p *TokenProvider) validAt(t *BearerToken, now time.Time) bool {
	return t.Token != "" && now.Before(t.ExpiresAt.Add(-p.buffer))
}

// Rejected reports whether the status indicates the server rejected the
// bearer token.
func (p *TokenProvider) Rejected(status int, _ string) bool {
	return status == http.StatusUnauthorized
}

// Invalidate clears the cached token and its storage backing synchronously.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()

	_ = p.store.Remove(tokenStorageKey)
	_ = p.store.Remove(tokenExpiryKey)

	if p.metrics != nil {
		p.metrics.RecordCredentialInvalidation("bearer")
	}
	if p.logger != nil {
		p.logger.Debug("bearer token invalidated")
	}
}

// Refresh renews the current token against the refresh endpoint, falling
// back to fresh issuance when there is no current token or the refresh is
// declined. Shares the single-flight key with Acquire.
func (p *TokenProvider) Refresh(ctx context.Context) (*BearerToken, error) {
	v, err := p.group.Do(ctx, "token", func() (interface{}, error) {
		return p.refreshOrIssue(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BearerToken), nil
}

// Revoke invalidates the current token server-side, then clears it locally
// regardless of the outcome.
func (p *TokenProvider) Revoke(ctx context.Context) error {
	p.mu.Lock()
	cur := p.token
	p.mu.Unlock()

	defer p.Invalidate()

	if cur == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.revokePath, nil)
	if err != nil {
		return err
	}
	cur.Apply(req.Header)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// ExpiringSoon reports whether the token is inside the refresh window but
// not yet expired.
func (p *TokenProvider) ExpiringSoon() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return false
	}
	now := p.now()
	return now.After(p.token.ExpiresAt.Add(-p.window)) && now.Before(p.token.ExpiresAt)
}

// Remaining returns the time left before the token's actual expiry.
func (p *TokenProvider) Remaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == nil {
		return 0
	}
	d := p.token.ExpiresAt.Sub(p.now())
	if d < 0 {
		return 0
	}
	return d
}

// Close stops the auto-refresh loop, if one was started.
func (p *TokenProvider) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

func (p *TokenProvider) issue(ctx context.Context) (*BearerToken, error) {
	body, _ := json.Marshal(map[string]string{
		"platform": "web",
		"version":  Version,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.issuePath, bytes.NewReader(body))
	if err != nil {
		return nil, p.credentialError("build issuance request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.clear()
		return nil, p.credentialError("token issuance failed", 0, err)
	}
	defer resp.Body.Close()

	grant, err := decodeGrant(resp)
	if err != nil {
		p.clear()
		return nil, p.credentialError("token issuance failed", resp.StatusCode, err)
	}

	t := p.save(grant)
	if p.metrics != nil {
		p.metrics.RecordCredentialIssuance("bearer", "success")
	}
	if p.logger != nil {
		p.logger.Info("bearer token issued", "expiresIn", grant.ExpiresIn)
	}
	return t, nil
}

func (p *TokenProvider) refreshOrIssue(ctx context.Context) (*BearerToken, error) {
	p.mu.Lock()
	cur := p.token
	p.mu.Unlock()

	if cur == nil {
		return p.issue(ctx)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.refreshPath, nil)
	if err != nil {
		return p.issue(ctx)
	}
	req.Header.Set("Content-Type", "application/json")
	cur.Apply(req.Header)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return p.issue(ctx)
	}
	defer resp.Body.Close()

	grant, err := decodeGrant(resp)
	if err != nil {
		// The refresh endpoint signalling "issue fresh" lands here too.
		if p.logger != nil {
			p.logger.Debug("token refresh declined, issuing fresh", "error", err.Error())
		}
		return p.issue(ctx)
	}

	t := p.save(grant)
	if p.metrics != nil {
		p.metrics.RecordCredentialIssuance("bearer", "refreshed")
	}
	return t, nil
}

func decodeGrant(resp *http.Response) (*tokenGrant, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("malformed issuance response: %w", err)
	}
	if !envelope.Success || len(envelope.Data) == 0 {
		return nil, fmt.Errorf("issuance rejected: %s", envelope.Message)
	}
	var grant tokenGrant
	if err := json.Unmarshal(envelope.Data, &grant); err != nil {
		return nil, fmt.Errorf("malformed grant: %w", err)
	}
	if grant.Token == "" || grant.ExpiresIn <= 0 {
		return nil, fmt.Errorf("malformed grant: missing token or expiry")
	}
	return &grant, nil
}

func (p *TokenProvider) save(grant *tokenGrant) *BearerToken {
	t := &BearerToken{
		Token:     grant.Token,
		ExpiresAt: p.now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}

	p.mu.Lock()
	p.token = t
	p.mu.Unlock()

	if err := p.store.Set(tokenStorageKey, t.Token); err == nil {
		_ = p.store.Set(tokenExpiryKey, strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10))
	} else if p.logger != nil {
		p.logger.Warn("persisting token failed", "error", err.Error())
	}
	return t
}

func (p *TokenProvider) clear() {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()
	_ = p.store.Remove(tokenStorageKey)
	_ = p.store.Remove(tokenExpiryKey)
}

func (p *TokenProvider) loadFromStore() {
	tok, err := p.store.Get(tokenStorageKey)
	if err != nil || tok == "" {
		return
	}
	expiryRaw, err := p.store.Get(tokenExpiryKey)
	if err != nil {
		return
	}
	expiryMillis, err := strconv.ParseInt(expiryRaw, 10, 64)
	if err != nil {
		return
	}
	expiry := time.UnixMilli(expiryMillis)
	if !p.now().Before(expiry) {
		return
	}
	p.mu.Lock()
	p.token = &BearerToken{Token: tok, ExpiresAt: expiry}
	p.mu.Unlock()
}

func (p *TokenProvider) autoRefresh(interval time.Duration) {
	calc := backoff.NewCalculator()
	failures := 0
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-timer.C:
		}

		if p.ExpiringSoon() {
			if _, err := p.Refresh(context.Background()); err != nil {
				failures++
				if p.logger != nil {
					p.logger.Warn("proactive token refresh failed", "failures", failures, "error", err.Error())
				}
				timer.Reset(calc.Delay(failures))
				continue
			}
			failures = 0
		}
		timer.Reset(interval)
	}
}

func (p *TokenProvider) credentialError(message string, status int, cause error) *ClientError {
	return &ClientError{
		Type:      ErrorTypeCredential,
		Status:    status,
		Message:   message,
		Cause:     cause,
		Timestamp: p.now(),
	}
}
