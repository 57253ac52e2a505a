package proto

import (
	"context"
	"fmt"

	"github.com/fedimapper/fedimapper/internal/netutil"
)

// PeertubeConfig is the subset of /api/v1/config the crawler consumes.
type PeertubeConfig struct {
	Instance struct {
		Name             string `json:"name"`
		ShortDescription string `json:"shortDescription"`
	} `json:"instance"`
	Signup struct {
		Allowed *bool `json:"allowed"`
	} `json:"signup"`
	ServerVersion string `json:"serverVersion"`
}

// PeertubeAbout carries the admin contact from /api/v1/config/about.
type PeertubeAbout struct {
	Instance struct {
		Admin struct {
			Email string `json:"email"`
		} `json:"admin"`
	} `json:"instance"`
	Admin struct {
		Email string `json:"email"`
	} `json:"admin"`
}

// AdminEmail returns the admin contact, wherever the server version put it.
func (a *PeertubeAbout) AdminEmail() string {
	if a.Admin.Email != "" {
		return a.Admin.Email
	}
	return a.Instance.Admin.Email
}

// PeertubeStats carries server-wide counters.
type PeertubeStats struct {
	TotalUsers  *int64 `json:"totalUsers"`
	TotalVideos *int64 `json:"totalVideos"`
}

// PeertubeFollowers is the follower listing used as the peer set.
type PeertubeFollowers struct {
	Total *int64 `json:"total"`
	Data  []struct {
		Follower struct {
			Host string `json:"host"`
		} `json:"follower"`
	} `json:"data"`
}

// Hosts returns the deduplicated follower hostnames.
func (f *PeertubeFollowers) Hosts() []string {
	seen := make(map[string]struct{}, len(f.Data))
	out := make([]string, 0, len(f.Data))
	for _, entry := range f.Data {
		host := entry.Follower.Host
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	return out
}

// GetPeertubeConfig fetches the server config document.
func GetPeertubeConfig(ctx context.Context, client *netutil.Client, host string) (*PeertubeConfig, error) {
	var cfg PeertubeConfig
	if err := client.FetchJSON(ctx, fmt.Sprintf("https://%s/api/v1/config", host), netutil.FetchOptions{}, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetPeertubeAbout fetches the about document.
func GetPeertubeAbout(ctx context.Context, client *netutil.Client, host string) (*PeertubeAbout, error) {
	var about PeertubeAbout
	if err := client.FetchJSON(ctx, fmt.Sprintf("https://%s/api/v1/config/about", host), netutil.FetchOptions{}, &about); err != nil {
		return nil, err
	}
	return &about, nil
}

// GetPeertubeStats fetches server counters.
func GetPeertubeStats(ctx context.Context, client *netutil.Client, host string) (*PeertubeStats, error) {
	var stats PeertubeStats
	if err := client.FetchJSON(ctx, fmt.Sprintf("https://%s/api/v1/server/stats", host), netutil.FetchOptions{}, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetPeertubeFollowers fetches the follower listing.
func GetPeertubeFollowers(ctx context.Context, client *netutil.Client, host string) (*PeertubeFollowers, error) {
	var followers PeertubeFollowers
	if err := client.FetchJSON(ctx, fmt.Sprintf("https://%s/api/v1/server/followers", host), netutil.FetchOptions{}, &followers); err != nil {
		return nil, err
	}
	return &followers, nil
}
