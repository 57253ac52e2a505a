package netutil

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// BaseDomain reduces a hostname to its registrable domain (eTLD+1).
//
// Two-label hosts skip the public suffix list entirely; hosts the list
// cannot place fall back to their last two labels.
//
// Examples:
//
//	"mastodon.social"        -> "mastodon.social"
//	"social.example.co.uk"   -> "example.co.uk"
//	"a.b.unknown-suffix"     -> "b.unknown-suffix"
func BaseDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	labels := strings.Split(host, ".")
	if len(labels) == 2 {
		return host
	}

	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}

	// IP addresses, single labels, and suffix-list misses.
	if len(labels) > 2 && net.ParseIP(host) == nil {
		return strings.Join(labels[len(labels)-2:], ".")
	}
	return host
}
