package proto

import (
	"context"
	"fmt"
	"net"

	"github.com/fedimapper/fedimapper/internal/netutil"
)

// GetPods fetches the diaspora pods listing and returns peer hostnames.
// Bare IP literals are dropped: they churn constantly and never federate
// under a stable identity.
func GetPods(ctx context.Context, client *netutil.Client, host string) ([]string, error) {
	var pods []struct {
		Host string `json:"host"`
	}
	if err := client.FetchJSON(ctx, fmt.Sprintf("https://%s/pods.json", host), netutil.FetchOptions{}, &pods); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(pods))
	out := make([]string, 0, len(pods))
	for _, pod := range pods {
		if pod.Host == "" || net.ParseIP(pod.Host) != nil {
			continue
		}
		if _, dup := seen[pod.Host]; dup {
			continue
		}
		seen[pod.Host] = struct{}{}
		out = append(out, pod.Host)
	}
	return out, nil
}
