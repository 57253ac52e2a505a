// Package proto speaks the public read-only APIs of the fediverse server
// families: nodeinfo discovery, the mastodon client API, peertube's config
// API, and diaspora's pods listing.
package proto

import (
	"regexp"
	"strings"
)

// FediVersion is the breakdown of an advertised version string. Empty
// fields mean the value could not be determined.
type FediVersion struct {
	Software        string
	MastodonVersion string
	SoftwareVersion string
}

var (
	owncastVersionRE = regexp.MustCompile(`^Owncast v(\d+\.\d+\.\d+\S*)`)
	plainVersionRE   = regexp.MustCompile(`^(\d+\.\d+\.\d+\S*)`)
	compatibleRE     = regexp.MustCompile(`^(\d+\.\d+\.\d+\S*) \(compatible; (\w+) (\d+\.\d+\.*\d*\S*)\)`)
)

// ParseVersion breaks an advertised version string into software, the
// mastodon API version it claims, and the software's own version.
//
// Forks that advertise a plain semver ("4.1.2") are mastodon. Forks that
// advertise a compatible clause ("4.1.2 (compatible; Pleroma 2.5.0)") are
// named by the clause. A handful of families use formats of their own and
// are handled up front.
func ParseVersion(version string) FediVersion {
	switch {
	case strings.HasPrefix(version, "takahe"):
		return takaheVersion(version)
	case strings.HasPrefix(version, "Owncast v"):
		return owncastVersion(version)
	case strings.Contains(version, "glitch"):
		fv := plainVersion(version)
		fv.Software = "glitch"
		return fv
	case strings.Contains(version, "hometown"):
		return hometownVersion(version)
	}
	return plainVersion(version)
}

// takahe/0.9.0
func takaheVersion(version string) FediVersion {
	fv := FediVersion{Software: "takahe"}
	if _, after, ok := strings.Cut(version, "/"); ok {
		fv.SoftwareVersion = after
	}
	return fv
}

// Owncast v0.0.13-linux-64bit
func owncastVersion(version string) FediVersion {
	m := owncastVersionRE.FindStringSubmatch(version)
	if m == nil {
		return FediVersion{}
	}
	return FediVersion{Software: "owncast", SoftwareVersion: m[1]}
}

// 4.0.10+hometown-1.1.1
func hometownVersion(version string) FediVersion {
	fv := plainVersion(version)
	fv.Software = "hometown"
	if fv.SoftwareVersion != "" {
		if parts := strings.Split(fv.SoftwareVersion, "-"); len(parts) > 1 {
			fv.SoftwareVersion = parts[1]
		}
	}
	if fv.MastodonVersion != "" {
		fv.MastodonVersion, _, _ = strings.Cut(fv.MastodonVersion, "+")
	}
	return fv
}

func plainVersion(version string) FediVersion {
	var fv FediVersion

	m := plainVersionRE.FindStringSubmatch(version)
	if m == nil {
		return fv
	}
	fv.MastodonVersion = m[1]

	if strings.Contains(version, "compatible") {
		if sub := compatibleRE.FindStringSubmatch(version); sub != nil {
			fv.Software = strings.ToLower(sub[2])
			fv.SoftwareVersion = sub[3]
			return fv
		}
	}
	fv.Software = "mastodon"
	fv.SoftwareVersion = fv.MastodonVersion
	return fv
}
