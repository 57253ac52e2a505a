// Package probe answers the pre-crawl questions about a host: does it
// resolve, who announces its IP, and does it serve HTTPS at all.
package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fedimapper/fedimapper/internal/netutil"
)

// Bodies served by parked or tunnel-expired domains. Matched
// case-insensitively against the probe response.
var parkedBodyMarkers = []string{
	"domain parking",
	"err_ngrok_3200",
}

// Reachability is the outcome of an HTTPS probe.
type Reachability struct {
	Reachable  bool
	Parked     bool
	StatusCode int
}

// Prober bundles the network checks that run before any protocol fetch.
type Prober struct {
	client   *netutil.Client
	resolver *net.Resolver
	asn      ASNLookup
	window   time.Duration
}

// New creates a Prober. client must not be robots-gated: reachability has a
// chicken/egg problem, robots.txt itself needs a working HTTPS service.
// asn may be nil when no lookup backend is configured.
func New(client *netutil.Client, asn ASNLookup, window time.Duration) *Prober {
	return &Prober{
		client:   client,
		resolver: net.DefaultResolver,
		asn:      asn,
		window:   window,
	}
}

// ResolveIP returns the first resolved address for host.
func (p *Prober) ResolveIP(ctx context.Context, host string) (string, error) {
	addrs, err := p.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", fmt.Errorf("probe: resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("probe: no addresses for %s", host)
	}
	return addrs[0].IP.String(), nil
}

// LookupASN resolves the announcing AS for ip, or nil when no backend is
// configured.
func (p *Prober) LookupASN(ctx context.Context, ip string) (*ASNRecord, error) {
	if p.asn == nil {
		return nil, nil
	}
	return p.asn.LookupASN(ctx, ip)
}

// CheckHTTPS probes https://host/ inside the short probe window.
//
// Transport failures, 404, and 500 through 520 read as unreachable. Status
// 530 and parking-page bodies read as parked: DNS answers but nothing real
// is behind it.
func (p *Prober) CheckHTTPS(ctx context.Context, host string) Reachability {
	resp, err := p.client.Fetch(ctx, "https://"+host, netutil.FetchOptions{
		SkipRobots: true,
		Timeout:    p.window,
	})
	if err != nil {
		return Reachability{}
	}

	out := Reachability{StatusCode: resp.StatusCode}
	if UnreachableStatus(resp.StatusCode) {
		return out
	}
	if resp.StatusCode == 530 || isParkedBody(resp.Body) {
		out.Parked = true
		return out
	}
	out.Reachable = true
	return out
}

// UnreachableStatus reports whether an HTTPS probe status means the host
// has no usable service behind it.
func UnreachableStatus(code int) bool {
	return code == 404 || (code >= 500 && code <= 520)
}

func isParkedBody(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lowered := strings.ToLower(string(body))
	for _, marker := range parkedBodyMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
