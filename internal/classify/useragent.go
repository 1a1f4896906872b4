package classify

import (
	"strings"

	"github.com/mssola/useragent"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"

	Unknown = "Unknown"
)

// ClientInfo is the classification of a user-agent string.
type ClientInfo struct {
	Device         string `json:"device_type"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os"`
	Bot            bool   `json:"bot,omitempty"`
}

type pattern struct {
	name    string
	matches []string
	// excludes disqualify a match even when one of matches is present
	excludes []string
}

func (p pattern) match(ua string) bool {
	for _, ex := range p.excludes {
		if strings.Contains(ua, ex) {
			return false
		}
	}
	for _, m := range p.matches {
		if strings.Contains(ua, m) {
			return true
		}
	}
	return false
}

// Tablets come first: many tablet user agents also carry mobile tokens.
var devicePatterns = []pattern{
	{name: DeviceTablet, matches: []string{"ipad", "tablet", "kindle", "silk/", "playbook"}},
	{name: DeviceTablet, matches: []string{"android"}, excludes: []string{"mobile"}},
	{name: DeviceMobile, matches: []string{"mobi", "iphone", "ipod", "android", "blackberry", "iemobile", "opera mini", "windows phone"}},
}

// Edge and Opera embed "chrome", Chrome embeds "safari".
var browserPatterns = []pattern{
	{name: "Edge", matches: []string{"edg/", "edge/", "edga/", "edgios/"}},
	{name: "Opera", matches: []string{"opr/", "opera"}},
	{name: "Samsung Internet", matches: []string{"samsungbrowser"}},
	{name: "Firefox", matches: []string{"firefox", "fxios"}},
	{name: "Chrome", matches: []string{"chrome", "crios", "chromium"}},
	{name: "Safari", matches: []string{"safari"}},
	{name: "Internet Explorer", matches: []string{"msie", "trident/"}},
}

var osPatterns = []pattern{
	{name: "Windows Phone", matches: []string{"windows phone"}},
	{name: "Windows", matches: []string{"windows"}},
	{name: "iOS", matches: []string{"iphone", "ipad", "ipod"}},
	{name: "Android", matches: []string{"android"}},
	{name: "macOS", matches: []string{"mac os x", "macintosh"}},
	{name: "Chrome OS", matches: []string{"cros "}},
	{name: "Linux", matches: []string{"linux"}},
}

func firstMatch(patterns []pattern, ua, fallback string) string {
	ua = strings.ToLower(ua)
	for _, p := range patterns {
		if p.match(ua) {
			return p.name
		}
	}
	return fallback
}

// Device returns tablet, mobile or desktop. Anything unrecognized is a desktop.
func Device(ua string) string {
	return firstMatch(devicePatterns, ua, DeviceDesktop)
}

// Browser returns the browser family or Unknown.
func Browser(ua string) string {
	return firstMatch(browserPatterns, ua, Unknown)
}

// OS returns the operating system family or Unknown.
func OS(ua string) string {
	return firstMatch(osPatterns, ua, Unknown)
}

// Client classifies ua. Version and bot detection come from the
// useragent parser; the families come from the pattern tables above.
func Client(ua string) ClientInfo {
	info := ClientInfo{
		Device:  Device(ua),
		Browser: Browser(ua),
		OS:      OS(ua),
	}
	if ua == "" {
		return info
	}

	parsed := useragent.New(ua)
	info.Bot = parsed.Bot()
	if name, version := parsed.Browser(); version != "" && strings.EqualFold(name, info.Browser) {
		info.BrowserVersion = version
	}
	return info
}
