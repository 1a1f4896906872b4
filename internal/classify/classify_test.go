package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	uaChromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaEdgeWindows   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91"
	uaSafariMac     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
	uaFirefoxLinux  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaIPhone        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	uaIPad          = "Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	uaAndroidPhone  = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaAndroidTablet = "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaGooglebot     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestDevice(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"desktop chrome", uaChromeWindows, DeviceDesktop},
		{"iphone", uaIPhone, DeviceMobile},
		{"ipad before mobile", uaIPad, DeviceTablet},
		{"android phone", uaAndroidPhone, DeviceMobile},
		{"android tablet", uaAndroidTablet, DeviceTablet},
		{"garbage falls back to desktop", "%%%not a user agent%%%", DeviceDesktop},
		{"empty falls back to desktop", "", DeviceDesktop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Device(tt.ua))
		})
	}
}

func TestBrowser(t *testing.T) {
	assert.Equal(t, "Chrome", Browser(uaChromeWindows))
	assert.Equal(t, "Edge", Browser(uaEdgeWindows))
	assert.Equal(t, "Safari", Browser(uaSafariMac))
	assert.Equal(t, "Firefox", Browser(uaFirefoxLinux))
	assert.Equal(t, "Safari", Browser(uaIPhone))
	assert.Equal(t, Unknown, Browser("curl/8.4.0"))
}

func TestOS(t *testing.T) {
	assert.Equal(t, "Windows", OS(uaChromeWindows))
	assert.Equal(t, "macOS", OS(uaSafariMac))
	assert.Equal(t, "Linux", OS(uaFirefoxLinux))
	assert.Equal(t, "iOS", OS(uaIPhone))
	assert.Equal(t, "iOS", OS(uaIPad))
	assert.Equal(t, "Android", OS(uaAndroidPhone))
	assert.Equal(t, Unknown, OS("curl/8.4.0"))
}

func TestClient(t *testing.T) {
	info := Client(uaChromeWindows)
	assert.Equal(t, DeviceDesktop, info.Device)
	assert.Equal(t, "Chrome", info.Browser)
	assert.Equal(t, "Windows", info.OS)
	assert.False(t, info.Bot)

	assert.True(t, Client(uaGooglebot).Bot)

	empty := Client("")
	assert.Equal(t, ClientInfo{Device: DeviceDesktop, Browser: Unknown, OS: Unknown}, empty)
}

func TestReferrer(t *testing.T) {
	tests := []struct {
		name     string
		referrer string
		want     Attribution
	}{
		{"absent", "", Attribution{Source: SourceDirect}},
		{"google search", "https://www.google.com/search?q=gaming+pc", Attribution{Source: "Google", SearchTerm: "gaming pc"}},
		{"google country domain", "https://www.google.co.uk/search?q=rtx", Attribution{Source: "Google", SearchTerm: "rtx"}},
		{"bing", "https://www.bing.com/search?q=ssd", Attribution{Source: "Bing", SearchTerm: "ssd"}},
		{"yahoo uses p", "https://search.yahoo.com/search?p=ram", Attribution{Source: "Yahoo", SearchTerm: "ram"}},
		{"baidu uses wd", "https://www.baidu.com/s?wd=cpu", Attribution{Source: "Baidu", SearchTerm: "cpu"}},
		{"yandex uses text", "https://yandex.ru/search/?text=gpu", Attribution{Source: "Yandex", SearchTerm: "gpu"}},
		{"search without term", "https://duckduckgo.com/", Attribution{Source: "DuckDuckGo"}},
		{"facebook", "https://m.facebook.com/story.php", Attribution{Source: "Facebook"}},
		{"twitter shortener", "https://t.co/abc123", Attribution{Source: "Twitter"}},
		{"webmail before search", "https://mail.google.com/mail/u/0/", Attribution{Source: SourceEmail}},
		{"outlook", "https://outlook.live.com/mail/0/inbox", Attribution{Source: SourceEmail}},
		{"other site", "https://www.example.org/blog/post", Attribution{Source: "example.org"}},
		{"not a url", "not a url at all", Attribution{Source: SourceUnknown}},
		{"broken", "http://[::1", Attribution{Source: SourceUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Referrer(tt.referrer))
		})
	}
}

func TestCampaignParams(t *testing.T) {
	utm := CampaignParams("https://shop.example.com/builds?utm_source=newsletter&utm_medium=email&utm_campaign=winter&utm_term=pc")
	assert.Equal(t, UTM{Source: "newsletter", Medium: "email", Campaign: "winter", Term: "pc"}, utm)

	assert.True(t, CampaignParams("https://shop.example.com/").IsZero())
	assert.True(t, CampaignParams("").IsZero())
	assert.True(t, CampaignParams("http://[::1").IsZero())
}
