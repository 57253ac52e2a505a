package proto

import "testing"

func TestParseVersion(t *testing.T) {
	cases := []struct {
		version string
		want    FediVersion
	}{
		{
			"4.1.2",
			FediVersion{Software: "mastodon", MastodonVersion: "4.1.2", SoftwareVersion: "4.1.2"},
		},
		{
			"3.5.3+security-patch",
			FediVersion{Software: "mastodon", MastodonVersion: "3.5.3+security-patch", SoftwareVersion: "3.5.3+security-patch"},
		},
		{
			"2.7.2 (compatible; Pleroma 2.5.0)",
			FediVersion{Software: "pleroma", MastodonVersion: "2.7.2", SoftwareVersion: "2.5.0"},
		},
		{
			"3.0.0 (compatible; Akkoma 3.10.4-0-gebfb617)",
			FediVersion{Software: "akkoma", MastodonVersion: "3.0.0", SoftwareVersion: "3.10.4-0-gebfb617"},
		},
		{
			"takahe/0.9.0",
			FediVersion{Software: "takahe", SoftwareVersion: "0.9.0"},
		},
		{
			"Owncast v0.0.13-linux-64bit",
			FediVersion{Software: "owncast", SoftwareVersion: "0.0.13-linux-64bit"},
		},
		{
			"4.1.2+glitch",
			FediVersion{Software: "glitch", MastodonVersion: "4.1.2+glitch", SoftwareVersion: "4.1.2+glitch"},
		},
		{
			"4.0.10+hometown-1.1.1",
			FediVersion{Software: "hometown", MastodonVersion: "4.0.10", SoftwareVersion: "1.1.1"},
		},
		{
			"not a version at all",
			FediVersion{},
		},
		{
			"",
			FediVersion{},
		},
	}
	for _, tc := range cases {
		if got := ParseVersion(tc.version); got != tc.want {
			t.Errorf("ParseVersion(%q) = %+v, want %+v", tc.version, got, tc.want)
		}
	}
}
