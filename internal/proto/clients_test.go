package proto

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/fedimapper/fedimapper/internal/netutil"
)

// rewriteTransport sends every request to the test server regardless of the
// https://host URL the clients compose.
type rewriteTransport struct {
	target *url.URL
	inner  http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return t.inner.RoundTrip(req)
}

func newTestProtoClient(t *testing.T, handler http.Handler) *netutil.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test url: %v", err)
	}
	client := netutil.NewClient("fedimapper-test", 1<<20, 5*time.Second, nil)
	client.HTTP = &http.Client{Transport: &rewriteTransport{target: target, inner: http.DefaultTransport}}
	return client
}

func TestGetNodeInfo(t *testing.T) {
	client := newTestProtoClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/nodeinfo":
			w.Write([]byte(`{"links":[
				{"rel":"http://nodeinfo.diaspora.software/ns/schema/1.0","href":"https://social.example/nodeinfo/1.0"},
				{"rel":"http://nodeinfo.diaspora.software/ns/schema/2.0","href":"https://social.example/nodeinfo/2.0"}]}`))
		case "/nodeinfo/2.0":
			w.Write([]byte(`{"version":"2.0",
				"software":{"name":"Mastodon","version":"4.1.2"},
				"usage":{"users":{"total":1200,"activeMonth":300},"localPosts":90000},
				"openRegistrations":true,
				"metadata":{"nodeName":"Example Social"}}`))
		case "/nodeinfo/1.0":
			t.Error("fetched the older nodeinfo document")
		default:
			http.NotFound(w, r)
		}
	}))

	info, err := GetNodeInfo(context.Background(), client, "social.example")
	if err != nil {
		t.Fatalf("GetNodeInfo: %v", err)
	}
	if info.SoftwareName() != "mastodon" {
		t.Errorf("SoftwareName = %q", info.SoftwareName())
	}
	if info.Software.Version != "4.1.2" || info.Version != "2.0" {
		t.Errorf("versions = %q / %q", info.Software.Version, info.Version)
	}
	if info.Usage.Users.Total == nil || *info.Usage.Users.Total != 1200 {
		t.Errorf("Usage.Users.Total = %v", info.Usage.Users.Total)
	}
	if info.MetadataNodeName() != "Example Social" {
		t.Errorf("MetadataNodeName = %q", info.MetadataNodeName())
	}
}

func TestGetNodeInfoMissing(t *testing.T) {
	client := newTestProtoClient(t, http.NotFoundHandler())
	if _, err := GetNodeInfo(context.Background(), client, "social.example"); err == nil {
		t.Fatal("GetNodeInfo succeeded without a well-known document")
	}
}

func TestGetInstanceMetadata(t *testing.T) {
	client := newTestProtoClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/instance" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"title":"Example","short_description":"an instance","email":"admin@example.com",
			"version":"4.1.2","registrations":true,"approval_required":false,
			"stats":{"user_count":1200,"status_count":90000,"domain_count":450}}`))
	}))

	meta, err := GetInstanceMetadata(context.Background(), client, "social.example")
	if err != nil {
		t.Fatalf("GetInstanceMetadata: %v", err)
	}
	if meta.Title != "Example" || meta.Version != "4.1.2" {
		t.Errorf("meta = %+v", meta)
	}
	if open := meta.RegistrationsOpen(); open == nil || !*open {
		t.Errorf("RegistrationsOpen = %v", open)
	}
	if meta.Stats == nil || meta.Stats.DomainCount == nil || *meta.Stats.DomainCount != 450 {
		t.Errorf("Stats = %+v", meta.Stats)
	}
}

func TestRegistrationsOpenCoercion(t *testing.T) {
	cases := []struct {
		raw  string
		want string // "true", "false", or "nil"
	}{
		{`{"registrations":true}`, "true"},
		{`{"registrations":false}`, "false"},
		{`{"registrations":1}`, "true"},
		{`{"registrations":0}`, "false"},
		{`{"registrations":"false"}`, "false"},
		{`{"registrations":null}`, "nil"},
		{`{}`, "nil"},
	}
	for _, tc := range cases {
		client := newTestProtoClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(tc.raw))
		}))
		meta, err := GetInstanceMetadata(context.Background(), client, "social.example")
		if err != nil {
			t.Fatalf("GetInstanceMetadata(%s): %v", tc.raw, err)
		}
		got := "nil"
		if open := meta.RegistrationsOpen(); open != nil {
			if *open {
				got = "true"
			} else {
				got = "false"
			}
		}
		if got != tc.want {
			t.Errorf("RegistrationsOpen for %s = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestGetDomainBlocks(t *testing.T) {
	client := newTestProtoClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/instance/domain_blocks" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[{"domain":"spam.example","digest":"abc123","severity":"suspend","comment":"spam and harassment"}]`))
	}))

	blocks, err := GetDomainBlocks(context.Background(), client, "social.example")
	if err != nil {
		t.Fatalf("GetDomainBlocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Domain != "spam.example" || blocks[0].Severity != "suspend" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestGetPeertubeFollowers(t *testing.T) {
	client := newTestProtoClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":3,"data":[
			{"follower":{"host":"tube.example"}},
			{"follower":{"host":"video.example"}},
			{"follower":{"host":"tube.example"}}]}`))
	}))

	followers, err := GetPeertubeFollowers(context.Background(), client, "tube.example")
	if err != nil {
		t.Fatalf("GetPeertubeFollowers: %v", err)
	}
	if followers.Total == nil || *followers.Total != 3 {
		t.Errorf("Total = %v", followers.Total)
	}
	hosts := followers.Hosts()
	if len(hosts) != 2 {
		t.Errorf("Hosts = %v, want deduplicated pair", hosts)
	}
}

func TestGetPodsFiltersIPLiterals(t *testing.T) {
	client := newTestProtoClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"host":"pod.example"},{"host":"192.168.1.1"},{"host":"2001:db8::1"},{"host":"other.example"}]`))
	}))

	pods, err := GetPods(context.Background(), client, "diasp.example")
	if err != nil {
		t.Fatalf("GetPods: %v", err)
	}
	if len(pods) != 2 || pods[0] != "pod.example" || pods[1] != "other.example" {
		t.Errorf("pods = %v", pods)
	}
}
