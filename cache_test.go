package eduapi

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestInMemoryCacheSetGet(t *testing.T) {
	cache := NewInMemoryCache()
	entry := &CacheEntry{Response: &Response{Code: 200, Success: true}}

	cache.Set("k1", entry, time.Minute)

	got, ok := cache.Get("k1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Response.Code != 200 {
		t.Errorf("unexpected cached response: %+v", got.Response)
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	cache := NewInMemoryCache()
	cache.Set("k1", &CacheEntry{Response: &Response{}}, 10*time.Millisecond)

	if _, ok := cache.Get("k1"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok := cache.Get("k1"); ok {
		t.Error("expected miss after expiry")
	}
	if cache.Size() != 0 {
		t.Errorf("expired entry should be evicted on read, size=%d", cache.Size())
	}
}

func TestInMemoryCacheDeleteAndClear(t *testing.T) {
	cache := NewInMemoryCache()
	cache.Set("k1", &CacheEntry{Response: &Response{}}, time.Minute)
	cache.Set("k2", &CacheEntry{Response: &Response{}}, time.Minute)

	cache.Delete("k1")
	if _, ok := cache.Get("k1"); ok {
		t.Error("expected k1 deleted")
	}
	if _, ok := cache.Get("k2"); !ok {
		t.Error("expected k2 untouched")
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("expected empty cache after Clear, size=%d", cache.Size())
	}
}

func TestDefaultCacheKeyFunc(t *testing.T) {
	a := DefaultCacheKeyFunc(&Request{Method: http.MethodGet, Path: "/schools/", Query: map[string]string{"page": "1", "size": "20"}})
	b := DefaultCacheKeyFunc(&Request{Method: http.MethodGet, Path: "/schools/", Query: map[string]string{"size": "20", "page": "1"}})
	if a != b {
		t.Errorf("key must not depend on map iteration order: %q vs %q", a, b)
	}

	c := DefaultCacheKeyFunc(&Request{Method: http.MethodGet, Path: "/schools/", Query: map[string]string{"page": "2", "size": "20"}})
	if a == c {
		t.Error("different queries must key differently")
	}
}

func TestDefaultCacheCondition(t *testing.T) {
	if !DefaultCacheCondition(&Request{Method: http.MethodGet}) {
		t.Error("GET must be cacheable")
	}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		if DefaultCacheCondition(&Request{Method: method}) {
			t.Errorf("%s must not be cacheable by default", method)
		}
	}
}

func TestContextCacheControl(t *testing.T) {
	ctx := WithContextCacheTTL(context.Background(), 42*time.Second)
	cc, ok := ctx.Value(CacheControlKey).(*CacheControl)
	if !ok {
		t.Fatal("expected CacheControl on context")
	}
	if !cc.Enabled || cc.TTL != 42*time.Second {
		t.Errorf("unexpected control: %+v", cc)
	}

	cc, _ = WithContextCacheDisabled(context.Background()).Value(CacheControlKey).(*CacheControl)
	if cc == nil || cc.Enabled {
		t.Error("expected caching disabled")
	}
}
