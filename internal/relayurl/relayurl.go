// Package relayurl groups relay URLs by registrable domain, adapted from
// the teacher's protocol.Parse domain splitter. It exists purely as a
// diagnostic aid (SPEC_FULL.md §11): tagging ErrorPacket/log lines so an
// operator running many relays on one domain can correlate failures.
// It is never used for the protocol-relevant URL normalization the spec
// delegates to nostr.NormalizeURL.
package relayurl

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// RegistrableDomain returns the eTLD+1 of a relay URL's host, or the raw
// host if it can't be classified (IP literal, localhost, malformed).
// Never errors; a best-effort diagnostic string is always produced.
func RegistrableDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := u.Hostname()
	host = strings.ToLower(host)

	if ip := net.ParseIP(host); ip != nil {
		return host
	}
	if host == "localhost" {
		return host
	}

	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	ascii, err := idna.ToASCII(etld1)
	if err != nil {
		return etld1
	}
	return ascii
}
