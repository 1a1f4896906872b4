package enricher

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/session"
)

// Enricher fills in what the browser cannot report about itself.
type Enricher struct {
	geoIP *geoip2.Reader
}

func NewEnricher(geoIPPath string) *Enricher {
	// Try to load GeoIP database
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		var err error
		geoIP, err = geoip2.Open(geoIPPath)
		if err != nil {
			log.Warn().Err(err).Str("path", geoIPPath).Msg("GeoIP database unavailable, geo enrichment disabled")
			geoIP = nil
		}
	}

	return &Enricher{
		geoIP: geoIP,
	}
}

// Locate returns the ISO country code and English city name for an IP.
// Both are empty when there is no database or no match.
func (e *Enricher) Locate(clientIP string) (country, city string) {
	if e == nil || e.geoIP == nil {
		return "", ""
	}
	ip := net.ParseIP(StripPort(clientIP))
	if ip == nil {
		return "", ""
	}
	record, err := e.geoIP.City(ip)
	if err != nil {
		return "", ""
	}
	return record.Country.IsoCode, record.City.Names["en"]
}

// Enrich sets the geo fields of env that the host left empty.
func (e *Enricher) Enrich(env *session.Environment, clientIP string) {
	if env.Country != "" {
		return
	}
	env.Country, env.City = e.Locate(clientIP)
}

// StripPort returns the host part of "host:port" or the first hop of an
// X-Forwarded-For list.
func StripPort(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = strings.TrimSpace(addr[:i])
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func (e *Enricher) Close() {
	if e != nil && e.geoIP != nil {
		e.geoIP.Close()
	}
}
