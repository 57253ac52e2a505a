package proto

import (
	"context"
	"fmt"
	"strings"

	"github.com/fedimapper/fedimapper/internal/netutil"
)

// NodeInfoSoftware identifies the server implementation.
type NodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NodeInfoUsers carries the user counters a node chooses to publish.
type NodeInfoUsers struct {
	Total          *int64 `json:"total"`
	ActiveHalfyear *int64 `json:"activeHalfyear"`
	ActiveMonth    *int64 `json:"activeMonth"`
}

// NodeInfoUsage carries activity counters.
type NodeInfoUsage struct {
	Users         NodeInfoUsers `json:"users"`
	LocalPosts    *int64        `json:"localPosts"`
	LocalComments *int64        `json:"localComments"`
}

// NodeInfo is the subset of the nodeinfo 2.x document the crawler consumes.
type NodeInfo struct {
	Version           string           `json:"version"`
	Software          NodeInfoSoftware `json:"software"`
	Usage             NodeInfoUsage    `json:"usage"`
	OpenRegistrations bool             `json:"openRegistrations"`
	Metadata          map[string]any   `json:"metadata"`
}

// SoftwareName returns the advertised implementation name, lowercased.
func (n *NodeInfo) SoftwareName() string {
	return strings.ToLower(n.Software.Name)
}

// MetadataNodeName returns metadata.nodeName when present. Diaspora-family
// servers publish their display title there.
func (n *NodeInfo) MetadataNodeName() string {
	if v, ok := n.Metadata["nodeName"].(string); ok {
		return v
	}
	return ""
}

type nodeInfoReference struct {
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// GetNodeInfo discovers and fetches a host's nodeinfo document. The
// well-known reference lists documents oldest first, so the last link wins.
func GetNodeInfo(ctx context.Context, client *netutil.Client, host string) (*NodeInfo, error) {
	var ref nodeInfoReference
	if err := client.FetchJSON(ctx, fmt.Sprintf("https://%s/.well-known/nodeinfo", host), netutil.FetchOptions{}, &ref); err != nil {
		return nil, err
	}
	if len(ref.Links) == 0 {
		return nil, fmt.Errorf("proto: no nodeinfo links for %s", host)
	}

	href := ref.Links[len(ref.Links)-1].Href
	if href == "" {
		return nil, fmt.Errorf("proto: empty nodeinfo href for %s", host)
	}

	var info NodeInfo
	if err := client.FetchJSON(ctx, href, netutil.FetchOptions{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
