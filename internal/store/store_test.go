package store

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, 0)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s.Close()

	s, err = Open(path, 0)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	s.Close()
}

func TestGetInstanceAbsent(t *testing.T) {
	s := newTestStore(t)

	inst, err := s.GetInstance("missing.example")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst != nil {
		t.Fatalf("expected nil for absent host, got %+v", inst)
	}
}

func TestEnsureInstance(t *testing.T) {
	s := newTestStore(t)

	inst, err := s.EnsureInstance("mastodon.example")
	if err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}
	if inst.Host != "mastodon.example" {
		t.Fatalf("host = %q", inst.Host)
	}
	if inst.LastIngest != nil || inst.Title != nil {
		t.Fatalf("new row should be bare: %+v", inst)
	}

	again, err := s.EnsureInstance("mastodon.example")
	if err != nil {
		t.Fatalf("EnsureInstance again: %v", err)
	}
	if again.Host != inst.Host {
		t.Fatalf("second call host = %q", again.Host)
	}
}

func TestSaveInstanceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.EnsureInstance("mastodon.example"); err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	users := int64(1200)
	open := true
	inst := &Instance{
		Host:              "mastodon.example",
		Digest:            StrPtr("abc123"),
		BaseDomain:        StrPtr("example"),
		WWWHost:           StrPtr("mastodon.example"),
		LastIngest:        &now,
		LastIngestStatus:  StrPtr(StatusSuccess),
		LastIngestSuccess: &now,
		Title:             StrPtr("Example"),
		Email:             StrPtr("admin@example"),
		CurrentUserCount:  &users,
		RegistrationOpen:  &open,
		Software:          StrPtr("mastodon"),
		MastodonVersion:   StrPtr("4.1.2"),
		SoftwareVersion:   StrPtr("4.1.2"),
		IPAddress:         StrPtr("192.0.2.10"),
		ASN:               StrPtr("64496"),
	}
	if err := s.SaveInstance(inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	got, err := s.GetInstance("mastodon.example")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got == nil {
		t.Fatal("instance vanished")
	}
	if *got.Title != "Example" || *got.MastodonVersion != "4.1.2" {
		t.Fatalf("descriptive columns lost: %+v", got)
	}
	if *got.CurrentUserCount != 1200 {
		t.Fatalf("user count = %d", *got.CurrentUserCount)
	}
	if got.RegistrationOpen == nil || !*got.RegistrationOpen {
		t.Fatalf("registration_open = %v", got.RegistrationOpen)
	}
	if got.LastIngest == nil || !got.LastIngest.Equal(now) {
		t.Fatalf("last ingest = %v, want %v", got.LastIngest, now)
	}
	if got.FirstIngestSuccess != nil || got.ApprovalRequired != nil {
		t.Fatalf("unset columns should stay NULL: %+v", got)
	}
}

func TestSetStatus(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.EnsureInstance("down.example"); err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}
	if err := s.SetStatus("down.example", StatusUnreachable); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	inst, err := s.GetInstance("down.example")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.LastIngestStatus == nil || *inst.LastIngestStatus != StatusUnreachable {
		t.Fatalf("status = %v", inst.LastIngestStatus)
	}
}

func TestEnsureSeeds(t *testing.T) {
	s := newTestStore(t)

	seeds := []InstanceSeed{
		{Host: "a.example", BaseDomain: "example"},
		{Host: "b.example", BaseDomain: "example"},
		{Host: "c.other", BaseDomain: "other"},
	}
	if err := s.EnsureSeeds(seeds); err != nil {
		t.Fatalf("EnsureSeeds: %v", err)
	}

	// Re-seeding with a corrected base domain updates in place.
	if err := s.EnsureSeeds([]InstanceSeed{{Host: "c.other", BaseDomain: "c.other"}}); err != nil {
		t.Fatalf("EnsureSeeds update: %v", err)
	}

	inst, err := s.GetInstance("c.other")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst == nil || inst.BaseDomain == nil || *inst.BaseDomain != "c.other" {
		t.Fatalf("base domain not refreshed: %+v", inst)
	}

	hosts, err := s.ListUnscanned(10)
	if err != nil {
		t.Fatalf("ListUnscanned: %v", err)
	}
	if len(hosts) != 3 {
		t.Fatalf("unscanned = %v", hosts)
	}
}

func TestAppendStats(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	users := int64(10)
	for i := 0; i < 3; i++ {
		st := InstanceStats{
			Host:       "mastodon.example",
			IngestTime: base.Add(time.Duration(i) * time.Hour),
			UserCount:  &users,
		}
		if err := s.AppendStats(st); err != nil {
			t.Fatalf("AppendStats: %v", err)
		}
	}

	got, err := s.StatsOf("mastodon.example")
	if err != nil {
		t.Fatalf("StatsOf: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("samples = %d", len(got))
	}
	if !got[0].IngestTime.Equal(base) {
		t.Fatalf("first sample at %v", got[0].IngestTime)
	}
	if got[0].UserCount == nil || *got[0].UserCount != 10 {
		t.Fatalf("user count = %v", got[0].UserCount)
	}
	if got[0].StatusCount != nil {
		t.Fatal("absent counters should stay nil")
	}
}

func TestReplacePeersSweepsOldEdges(t *testing.T) {
	// Bulk buffer of 2 forces chunking across transactions.
	s := newTestStore(t)

	first := []Peer{
		{Host: "hub.example", PeerHost: "a.example"},
		{Host: "hub.example", PeerHost: "b.example"},
		{Host: "hub.example", PeerHost: "c.example"},
	}
	if err := s.ReplacePeers("hub.example", first, "ingest-1"); err != nil {
		t.Fatalf("ReplacePeers: %v", err)
	}

	second := []Peer{
		{Host: "hub.example", PeerHost: "b.example"},
		{Host: "hub.example", PeerHost: "d.example"},
	}
	if err := s.ReplacePeers("hub.example", second, "ingest-2"); err != nil {
		t.Fatalf("ReplacePeers second pass: %v", err)
	}

	got, err := s.PeersOf("hub.example")
	if err != nil {
		t.Fatalf("PeersOf: %v", err)
	}
	var hosts []string
	for _, p := range got {
		if p.IngestID != "ingest-2" {
			t.Fatalf("stale ingest id on %s: %s", p.PeerHost, p.IngestID)
		}
		hosts = append(hosts, p.PeerHost)
	}
	want := []string{"b.example", "d.example"}
	if !reflect.DeepEqual(hosts, want) {
		t.Fatalf("peers = %v, want %v", hosts, want)
	}
}

func TestReplaceBans(t *testing.T) {
	s := newTestStore(t)

	first := []Ban{
		{Host: "hub.example", BannedHost: "spam.example", Severity: "suspend", Comment: StrPtr("spam"), Keywords: []string{"spam"}},
		{Host: "hub.example", BannedHost: "troll.example", Severity: "silence"},
	}
	if err := s.ReplaceBans("hub.example", first, "ingest-1"); err != nil {
		t.Fatalf("ReplaceBans: %v", err)
	}

	second := []Ban{
		{Host: "hub.example", BannedHost: "spam.example", Severity: "suspend", Keywords: []string{"spam", "bots"}},
	}
	if err := s.ReplaceBans("hub.example", second, "ingest-2"); err != nil {
		t.Fatalf("ReplaceBans second pass: %v", err)
	}

	got, err := s.BansOf("hub.example")
	if err != nil {
		t.Fatalf("BansOf: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("bans = %+v", got)
	}
	if got[0].BannedHost != "spam.example" || got[0].IngestID != "ingest-2" {
		t.Fatalf("ban = %+v", got[0])
	}
	if !reflect.DeepEqual(got[0].Keywords, []string{"spam", "bots"}) {
		t.Fatalf("keywords = %v", got[0].Keywords)
	}
	if got[0].Comment != nil {
		t.Fatalf("comment should be cleared, got %v", *got[0].Comment)
	}

	if err := s.ClearBans("hub.example"); err != nil {
		t.Fatalf("ClearBans: %v", err)
	}
	got, err = s.BansOf("hub.example")
	if err != nil {
		t.Fatalf("BansOf after clear: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("bans remain after clear: %+v", got)
	}
}

func TestUpsertASN(t *testing.T) {
	s := newTestStore(t)

	a := ASN{ASN: "64496", CC: StrPtr("US"), Company: StrPtr("AMAZON"), Owner: StrPtr("AMAZON-02, US")}
	if err := s.UpsertASN(a); err != nil {
		t.Fatalf("UpsertASN: %v", err)
	}

	a.Company = StrPtr("CLOUDFLARE")
	if err := s.UpsertASN(a); err != nil {
		t.Fatalf("UpsertASN update: %v", err)
	}

	got, err := s.GetASN("64496")
	if err != nil {
		t.Fatalf("GetASN: %v", err)
	}
	if got == nil || *got.Company != "CLOUDFLARE" {
		t.Fatalf("asn = %+v", got)
	}

	missing, err := s.GetASN("64497")
	if err != nil {
		t.Fatalf("GetASN missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil, got %+v", missing)
	}
}

func TestEvilDomains(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertEvilDomains([]string{"gab.best", "activitypub-troll.cf"}); err != nil {
		t.Fatalf("InsertEvilDomains: %v", err)
	}
	// Duplicates are ignored.
	if err := s.InsertEvilDomains([]string{"gab.best"}); err != nil {
		t.Fatalf("InsertEvilDomains duplicate: %v", err)
	}

	got, err := s.ListEvilDomains()
	if err != nil {
		t.Fatalf("ListEvilDomains: %v", err)
	}
	want := []string{"activitypub-troll.cf", "gab.best"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("domains = %v, want %v", got, want)
	}
}

func TestSelectionTiers(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)
	fresh := now.Add(-time.Minute)

	mark := func(host, status string, at time.Time) {
		t.Helper()
		inst, err := s.EnsureInstance(host)
		if err != nil {
			t.Fatalf("EnsureInstance %s: %v", host, err)
		}
		inst.LastIngest = &at
		inst.LastIngestStatus = StrPtr(status)
		if err := s.SaveInstance(inst); err != nil {
			t.Fatalf("SaveInstance %s: %v", host, err)
		}
	}

	// A crawl that died after the touch step leaves last_ingest set and no
	// status; those hosts re-enter through the unreachable tier.
	markInterrupted := func(host string, at time.Time) {
		t.Helper()
		inst, err := s.EnsureInstance(host)
		if err != nil {
			t.Fatalf("EnsureInstance %s: %v", host, err)
		}
		inst.LastIngest = &at
		if err := s.SaveInstance(inst); err != nil {
			t.Fatalf("SaveInstance %s: %v", host, err)
		}
	}

	if _, err := s.EnsureInstance("new.example"); err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}
	mark("stale.example", StatusSuccess, old)
	mark("fresh.example", StatusSuccess, fresh)
	mark("down-old.example", StatusUnreachable, old)
	mark("down-fresh.example", StatusNoDNS, fresh)
	markInterrupted("interrupted.example", now.Add(-72*time.Hour))
	markInterrupted("interrupted-fresh.example", fresh)

	unscanned, err := s.ListUnscanned(10)
	if err != nil {
		t.Fatalf("ListUnscanned: %v", err)
	}
	if !reflect.DeepEqual(unscanned, []string{"new.example"}) {
		t.Fatalf("unscanned = %v", unscanned)
	}

	cutoff := now.Add(-time.Hour)
	stale, err := s.ListStale(cutoff, 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if !reflect.DeepEqual(stale, []string{"stale.example"}) {
		t.Fatalf("stale = %v", stale)
	}

	unreachable, err := s.ListUnreachable(cutoff, 10)
	if err != nil {
		t.Fatalf("ListUnreachable: %v", err)
	}
	if !reflect.DeepEqual(unreachable, []string{"interrupted.example", "down-old.example"}) {
		t.Fatalf("unreachable = %v", unreachable)
	}
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	if err := s.Vacuum(); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
}
