package eduapi

import (
	"encoding/base64"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// DeviceInfo holds the environment signals a fingerprint derives from.
// None of them are secrets; the fingerprint is an anti-abuse signal the
// backend correlates on, not a capability.
type DeviceInfo struct {
	// Platform is the user-agent-equivalent identifier.
	Platform string
	// Locale is the BCP-47-ish language tag, e.g. "zh-TW".
	Locale string
	// TimezoneOffset is minutes west of UTC.
	TimezoneOffset int
	// ScreenWidth and ScreenHeight describe display geometry; zero when the
	// runtime has no display.
	ScreenWidth  int
	ScreenHeight int
	// ColorDepth in bits per pixel.
	ColorDepth int
}

// Fingerprint derives the stable client identifier: the signals joined with
// "|" and base64-encoded. Deterministic for a given DeviceInfo.
func (d DeviceInfo) Fingerprint() string {
	components := []string{
		d.Platform,
		d.Locale,
		strconv.Itoa(d.TimezoneOffset),
		fmt.Sprintf("%dx%d", d.ScreenWidth, d.ScreenHeight),
		strconv.Itoa(d.ColorDepth),
	}
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(components, "|")))
}

// DefaultDeviceInfo derives signals from the local runtime: OS/arch as the
// platform, locale from the environment, and the zone offset of the local
// clock. Geometry stays zero for headless processes.
func DefaultDeviceInfo() DeviceInfo {
	_, offsetSeconds := time.Now().Zone()
	return DeviceInfo{
		Platform: "go/" + runtime.GOOS + "-" + runtime.GOARCH,
		Locale:   localeFromEnv(),
		// Minutes west of UTC, matching the sign convention of the web client.
		TimezoneOffset: -offsetSeconds / 60,
		ColorDepth:     24,
	}
}

func localeFromEnv() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			// "zh_TW.UTF-8" -> "zh_TW"
			if i := strings.IndexByte(v, '.'); i > 0 {
				v = v[:i]
			}
			return v
		}
	}
	return "en"
}
