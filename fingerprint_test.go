package eduapi

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestFingerprintIsDeterministic(t *testing.T) {
	info := DeviceInfo{
		Platform:       "go/linux-amd64",
		Locale:         "zh-TW",
		TimezoneOffset: -480,
		ScreenWidth:    1920,
		ScreenHeight:   1080,
		ColorDepth:     24,
	}

	first := info.Fingerprint()
	for i := 0; i < 5; i++ {
		if got := info.Fingerprint(); got != first {
			t.Fatalf("fingerprint not stable: %q vs %q", got, first)
		}
	}
}

func TestFingerprintEncodesComponentsInOrder(t *testing.T) {
	info := DeviceInfo{
		Platform:       "go/linux-amd64",
		Locale:         "en",
		TimezoneOffset: 0,
		ScreenWidth:    0,
		ScreenHeight:   0,
		ColorDepth:     24,
	}

	raw, err := base64.StdEncoding.DecodeString(info.Fingerprint())
	if err != nil {
		t.Fatalf("fingerprint is not valid base64: %v", err)
	}
	if got, want := string(raw), "go/linux-amd64|en|0|0x0|24"; got != want {
		t.Errorf("decoded fingerprint = %q, want %q", got, want)
	}
}

func TestFingerprintDistinguishesDevices(t *testing.T) {
	a := DeviceInfo{Platform: "go/linux-amd64", Locale: "en", ColorDepth: 24}
	b := a
	b.Locale = "zh-TW"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different device signals must not collide")
	}
}

func TestDefaultDeviceInfo(t *testing.T) {
	info := DefaultDeviceInfo()
	if !strings.HasPrefix(info.Platform, "go/") {
		t.Errorf("unexpected platform %q", info.Platform)
	}
	if info.Locale == "" {
		t.Error("locale must never be empty")
	}
	if info.ColorDepth != 24 {
		t.Errorf("expected default color depth 24, got %d", info.ColorDepth)
	}
	if info.ScreenWidth != 0 || info.ScreenHeight != 0 {
		t.Error("headless geometry should be zero")
	}
}

func TestLocaleFromEnv(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "zh_TW.UTF-8")
	if got := localeFromEnv(); got != "zh_TW" {
		t.Errorf("localeFromEnv() = %q, want zh_TW", got)
	}

	t.Setenv("LANG", "")
	if got := localeFromEnv(); got != "en" {
		t.Errorf("localeFromEnv() fallback = %q, want en", got)
	}
}
