package proto

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fedimapper/fedimapper/internal/netutil"
)

// InstanceStats are the counters from the v1 instance endpoint.
type InstanceStats struct {
	UserCount   *int64 `json:"user_count"`
	StatusCount *int64 `json:"status_count"`
	DomainCount *int64 `json:"domain_count"`
}

// InstanceMetadata is the subset of /api/v1/instance the crawler consumes.
type InstanceMetadata struct {
	Title            string          `json:"title"`
	ShortDescription string          `json:"short_description"`
	Email            string          `json:"email"`
	Version          string          `json:"version"`
	Thumbnail        string          `json:"thumbnail"`
	Registrations    json.RawMessage `json:"registrations"`
	ApprovalRequired *bool           `json:"approval_required"`
	Stats            *InstanceStats  `json:"stats"`
}

// RegistrationsOpen coerces the registrations field, which older servers
// publish as a bool and some forks as a number or string.
func (m *InstanceMetadata) RegistrationsOpen() *bool {
	if len(m.Registrations) == 0 || string(m.Registrations) == "null" {
		return nil
	}
	var b bool
	if err := json.Unmarshal(m.Registrations, &b); err == nil {
		return &b
	}
	var n float64
	if err := json.Unmarshal(m.Registrations, &n); err == nil {
		b = n != 0
		return &b
	}
	var s string
	if err := json.Unmarshal(m.Registrations, &s); err == nil {
		b = s != "" && s != "false" && s != "0"
		return &b
	}
	return nil
}

// DomainBlock is one entry from the public domain_blocks listing.
type DomainBlock struct {
	Domain   string `json:"domain"`
	Digest   string `json:"digest"`
	Severity string `json:"severity"`
	Comment  string `json:"comment"`
}

// GetInstanceMetadata fetches the v1 instance document.
func GetInstanceMetadata(ctx context.Context, client *netutil.Client, host string) (*InstanceMetadata, error) {
	var meta InstanceMetadata
	if err := client.FetchJSON(ctx, fmt.Sprintf("https://%s/api/v1/instance", host), netutil.FetchOptions{}, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetPeers fetches the public peer listing. Errors when the list is not
// public.
func GetPeers(ctx context.Context, client *netutil.Client, host string) ([]string, error) {
	var peers []string
	if err := client.FetchJSON(ctx, fmt.Sprintf("https://%s/api/v1/instance/peers", host), netutil.FetchOptions{}, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// GetDomainBlocks fetches the public ban listing. Errors when the list is
// not public.
func GetDomainBlocks(ctx context.Context, client *netutil.Client, host string) ([]DomainBlock, error) {
	var blocks []DomainBlock
	if err := client.FetchJSON(ctx, fmt.Sprintf("https://%s/api/v1/instance/domain_blocks", host), netutil.FetchOptions{}, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}
