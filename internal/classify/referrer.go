// Package classify derives traffic attribution and client classification
// from the environment strings a host adapter hands to the tracker.
package classify

import (
	"net/url"
	"strings"
)

const (
	SourceDirect  = "Direct"
	SourceEmail   = "Email"
	SourceUnknown = "Unknown"
)

// Attribution is the traffic source of a session.
type Attribution struct {
	Source     string `json:"source"`
	SearchTerm string `json:"search_term,omitempty"`
}

type searchEngine struct {
	name  string
	host  string
	param string
}

// Order matters: the first matching host wins.
var searchEngines = []searchEngine{
	{name: "Google", host: "google.", param: "q"},
	{name: "Bing", host: "bing.com", param: "q"},
	{name: "Yahoo", host: "yahoo.", param: "p"},
	{name: "DuckDuckGo", host: "duckduckgo.com", param: "q"},
	{name: "Baidu", host: "baidu.com", param: "wd"},
	{name: "Yandex", host: "yandex.", param: "text"},
	{name: "Ecosia", host: "ecosia.org", param: "q"},
	{name: "Ask", host: "ask.com", param: "q"},
}

type socialPlatform struct {
	name  string
	hosts []string
}

var socialPlatforms = []socialPlatform{
	{name: "Facebook", hosts: []string{"facebook.com", "fb.com", "fb.me"}},
	{name: "Instagram", hosts: []string{"instagram.com"}},
	{name: "Twitter", hosts: []string{"twitter.com", "t.co", "x.com"}},
	{name: "LinkedIn", hosts: []string{"linkedin.com", "lnkd.in"}},
	{name: "Pinterest", hosts: []string{"pinterest."}},
	{name: "Reddit", hosts: []string{"reddit.com"}},
	{name: "YouTube", hosts: []string{"youtube.com", "youtu.be"}},
	{name: "TikTok", hosts: []string{"tiktok.com"}},
}

var emailHosts = []string{
	"mail.google.com", "outlook.live.com", "outlook.office.com",
	"mail.yahoo.com", "mail.aol.com", "webmail.",
}

// Referrer classifies a referrer URL into a traffic source. It never fails:
// an empty referrer is Direct and an unparseable one is Unknown.
func Referrer(referrerURL string) Attribution {
	referrerURL = strings.TrimSpace(referrerURL)
	if referrerURL == "" {
		return Attribution{Source: SourceDirect}
	}

	u, err := url.Parse(referrerURL)
	if err != nil || u.Hostname() == "" {
		return Attribution{Source: SourceUnknown}
	}
	host := strings.ToLower(u.Hostname())

	// Webmail hosts overlap with search engine domains, check them first
	if isEmailHost(host) {
		return Attribution{Source: SourceEmail}
	}

	for _, se := range searchEngines {
		if hostMatches(host, se.host) {
			return Attribution{
				Source:     se.name,
				SearchTerm: u.Query().Get(se.param),
			}
		}
	}

	for _, sp := range socialPlatforms {
		for _, h := range sp.hosts {
			if hostMatches(host, h) {
				return Attribution{Source: sp.name}
			}
		}
	}

	return Attribution{Source: strings.TrimPrefix(host, "www.")}
}

func isEmailHost(host string) bool {
	if strings.HasPrefix(host, "mail.") {
		return true
	}
	for _, h := range emailHosts {
		if hostMatches(host, h) {
			return true
		}
	}
	return false
}

// hostMatches reports whether host is pattern or a subdomain of it. A pattern
// ending in "." matches any top-level domain (google.com, google.co.uk).
func hostMatches(host, pattern string) bool {
	if strings.HasSuffix(pattern, ".") {
		return strings.HasPrefix(host, pattern) || strings.Contains(host, "."+pattern)
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// UTM holds the campaign parameters captured at the start of a page visit.
type UTM struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
}

// IsZero reports whether no campaign parameter was present.
func (u UTM) IsZero() bool {
	return u == UTM{}
}

// CampaignParams extracts utm_* parameters from a page URL.
func CampaignParams(rawURL string) UTM {
	if rawURL == "" {
		return UTM{}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return UTM{}
	}
	q := u.Query()
	return UTM{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
	}
}
