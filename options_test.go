package eduapi

import (
	"net/http"
	"testing"
	"time"
)

func TestOptionsApply(t *testing.T) {
	hc := &http.Client{Timeout: 30 * time.Second}
	logger := NewSimpleLogger()
	provider := &stubProvider{}
	cipher := NewCipher(testSecret)

	client := New("https://example.test",
		WithHTTPClient(hc),
		WithTimeout(3*time.Second),
		WithHeader("X-App-Version", "1.2.3"),
		WithCredentialProvider(provider),
		WithCipher(cipher),
		WithLogger(logger),
	)

	if client.httpClient != hc {
		t.Error("WithHTTPClient not applied")
	}
	if client.timeout != 3*time.Second {
		t.Error("WithTimeout not applied")
	}
	if client.headers["X-App-Version"] != "1.2.3" {
		t.Error("WithHeader not applied")
	}
	if client.provider != provider {
		t.Error("WithCredentialProvider not applied")
	}
	if client.cipher != cipher {
		t.Error("WithCipher not applied")
	}
	if client.logger != logger {
		t.Error("WithLogger not applied")
	}
}

func TestWithDeviceInfoChangesFingerprint(t *testing.T) {
	base := New("https://example.test")
	custom := New("https://example.test", WithDeviceInfo(DeviceInfo{
		Platform: "ios/17",
		Locale:   "zh-HK",
	}))
	if base.fingerprint == custom.fingerprint {
		t.Error("custom device info must yield a different fingerprint")
	}
}

func TestValidateConfiguration(t *testing.T) {
	cases := []struct {
		name    string
		options []Option
		valid   bool
	}{
		{"defaults", nil, true},
		{"nil http client", []Option{WithHTTPClient(nil)}, false},
		{"zero timeout", []Option{WithTimeout(0)}, false},
		{"negative timeout", []Option{WithTimeout(-time.Second)}, false},
		{"nil middleware", []Option{WithMiddleware(nil)}, false},
		{"cache with zero ttl", []Option{WithCache(0)}, false},
		{"cache without key func", []Option{WithCache(time.Minute), WithCacheKeyFunc(nil)}, false},
		{"valid cache", []Option{WithCache(time.Minute)}, true},
		{"valid rate limiter", []Option{WithRateLimiter(5, time.Second)}, true},
		{"debug without logger", []Option{WithDebugConfig(&DebugConfig{Enabled: true, RequestIDGen: shortRequestID})}, false},
		{"debug with simple logger", []Option{WithSimpleLogger()}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := New("https://example.test", tc.options...)
			if got := client.IsValid(); got != tc.valid {
				t.Errorf("IsValid() = %v, want %v (err=%v)", got, tc.valid, client.ValidationError())
			}
		})
	}
}

func TestValidationErrorIsTyped(t *testing.T) {
	client := New("", WithTimeout(-1))
	err := client.ValidationError()
	ce, ok := err.(*ClientError)
	if !ok {
		t.Fatalf(expectedClientErr, err, err)
	}
	if ce.Type != ErrorTypeValidation {
		t.Errorf(expectedErrTypeMsg, ErrorTypeValidation, ce.Type)
	}
}

func TestWithRequestIDGenerator(t *testing.T) {
	client := New("https://example.test", WithRequestIDGenerator(func() string { return "fixed-id" }))
	if got := client.debug.RequestIDGen(); got != "fixed-id" {
		t.Errorf("RequestIDGen() = %q", got)
	}
}
