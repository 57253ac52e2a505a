package probe

import (
	"regexp"
	"strings"
)

// ASN owner strings are registry free-text. The cascade below normalizes the
// common shapes down to a single company label so instances hosted by the
// same provider group together.
var asnPatterns = []*regexp.Regexp{
	// THE-1984-AS -> THE-1984
	regexp.MustCompile(`^(THE-[A-Z\d]*)-(?:A[SP]N?)`),
	// UNI2-AS -> UNI2
	regexp.MustCompile(`^([A-Z\d]*)-(?:A[SP]N?)`),
	// ALIBABA-CN-NET -> ALIBABA
	regexp.MustCompile(`^([A-Z\d]*)-CN-NET`),
	// HETZNER-CLOUD3-AS -> HETZNER-CLOUD
	regexp.MustCompile(`^([A-Z-]*)\d*-(?:A[SP]N?)`),
	// ORACLE-BMC-31898 -> ORACLE-BMC
	regexp.MustCompile(`^([A-Z-]*)-\d+[\s|,-]`),
	// AS-CHOOPA -> CHOOPA
	regexp.MustCompile(`^ASN?-([A-Z]*), [A-Z]{2}`),
	// All caps, no spaces or punctuation.
	regexp.MustCompile(`^([A-Z]*), [A-Z]{2}`),
}

// These companies register many ASNs under differing suffixes.
var companyPrefixes = []string{
	"LEASEWEB",
	"SAKURA",
	"CLOUDFLARE",
	"TWC",
	// This one is just annoying.
	"SWITCH Peering",
}

var countrySuffix = regexp.MustCompile(`, [A-Z]{2}$`)

// CleanASNCompany normalizes a raw ASN owner string to a company label.
// Prefix matches win, then the regex cascade, then heuristics on the
// remaining words. Cleaning an already-clean label returns it unchanged.
func CleanASNCompany(company string) string {
	for _, prefix := range companyPrefixes {
		if strings.HasPrefix(company, prefix) {
			return prefix
		}
	}

	for _, pattern := range asnPatterns {
		if m := pattern.FindStringSubmatch(company); m != nil {
			return m[1]
		}
	}

	// These people have the most ridiculous cc entry.
	if strings.Contains(company, "6NETWORK") {
		return "6NETWORK"
	}

	// Remove country suffix. Only when one is present, so cleaning is
	// stable under repeated application.
	company = countrySuffix.ReplaceAllString(company, "")

	parts := strings.Fields(company)
	if len(parts) < 2 {
		return company
	}

	if parts[0] == strings.ToUpper(parts[0]) {
		// URL check.
		if parts[1] == strings.ToLower(parts[1]) && strings.Contains(parts[1], ".") {
			return parts[0]
		}

		if len(parts[0]) > 4 {
			// Sometimes words are duplicated back to back just with
			// different casing.
			if strings.HasPrefix(strings.ToUpper(parts[1]), strings.ToUpper(parts[0])) {
				return parts[0]
			}

			// Sometimes the first field mirrors the second with additional
			// characters: VOCUSGROUPNZ VocusGroup.
			if strings.HasPrefix(strings.ToUpper(parts[0]), strings.ToUpper(parts[1])) {
				return parts[0]
			}
		}
	}

	return company
}
