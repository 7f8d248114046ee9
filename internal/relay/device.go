package relay

import (
	"regexp"
	"strings"
)

// DefaultDevice is assumed when a User-Agent tells nothing about the device.
var DefaultDevice = DeviceInfo{OS: "Android", OSVersion: "15", Model: "SM-S938B"}

var (
	iosUA          = regexp.MustCompile(`\((iPhone|iPad).*?OS (\d+[_.\d]*)`)
	androidVersion = regexp.MustCompile(`Android (\d+[.\d]*)`)
	androidModel   = regexp.MustCompile(`Android [^;]+;\s*([^;)]+)`)
)

// ParseUserAgent derives the device an upstream request should claim to come
// from. Unknown agents yield DefaultDevice.
func ParseUserAgent(ua string) DeviceInfo {
	d := DefaultDevice
	if ua == "" {
		return d
	}

	if m := iosUA.FindStringSubmatch(ua); m != nil {
		return DeviceInfo{
			OS:        "iOS",
			OSVersion: strings.ReplaceAll(m[2], "_", "."),
			Model:     m[1],
		}
	}

	if m := androidVersion.FindStringSubmatch(ua); m != nil {
		d.OS = "Android"
		d.OSVersion = m[1]
	}
	if m := androidModel.FindStringSubmatch(ua); m != nil {
		d.Model = strings.TrimSpace(m[1])
	}
	return d
}

// clientHints returns the sec-ch-ua brand list for the device's OS.
func (d DeviceInfo) clientHints() string {
	if d.OS == "Android" {
		return `"Chromium";v="140", "Not=A?Brand";v="24", "Android WebView";v="140"`
	}
	return `"Safari";v="17", "Not=A?Brand";v="99"`
}
