package store

import "time"

// Ingest statuses recorded on instances.last_ingest_status.
const (
	StatusSuccess        = "success"
	StatusUnreachable    = "unreachable"
	StatusUnknownService = "unknown_service"
	StatusNoDNS          = "no_dns"
	StatusDisabled       = "disabled"
	StatusCrawlError     = "crawl_error"
	StatusRobotsBlocked  = "robots_blocked"
)

// UnreadableStatuses are the terminal statuses that mean the last scan got
// nothing useful. Hosts in these states retry on the unreachable cadence.
var UnreadableStatuses = []string{
	StatusUnreachable,
	StatusUnknownService,
	StatusNoDNS,
	StatusDisabled,
	StatusCrawlError,
	StatusRobotsBlocked,
}

// Instance is one fediverse host. Nil pointers are SQL NULLs.
type Instance struct {
	Host       string
	Digest     *string
	BaseDomain *string
	WWWHost    *string

	LastIngest         *time.Time
	LastIngestStatus   *string
	LastIngestSuccess  *time.Time
	FirstIngestSuccess *time.Time
	LastIngestPeers    *time.Time

	Title            *string
	ShortDescription *string
	Email            *string
	Version          *string

	CurrentUserCount   *int64
	CurrentStatusCount *int64
	CurrentDomainCount *int64

	Thumbnail *string

	RegistrationOpen *bool
	ApprovalRequired *bool

	HasPublicBans  *bool
	HasPublicPeers *bool

	Software        *string
	MastodonVersion *string
	SoftwareVersion *string
	NodeinfoVersion *string

	IPAddress *string
	ASN       *string
}

// InstanceStats is an append-only activity sample for one host.
type InstanceStats struct {
	Host               string
	IngestTime         time.Time
	UserCount          *int64
	ActiveMonthlyUsers *int64
	StatusCount        *int64
	DomainCount        *int64
}

// Peer is one federation edge observed on host's public peer list.
type Peer struct {
	Host     string
	PeerHost string
	IngestID string
}

// Ban is one entry from host's public ban list.
type Ban struct {
	Host       string
	BannedHost string
	IngestID   string
	Digest     *string
	Severity   string
	Comment    *string
	Keywords   []string
}

// ASN is the announcing autonomous system for one or more instances.
type ASN struct {
	ASN     string
	CC      *string
	Company *string
	Owner   *string
	Prefix  *string
}

// InstanceSeed is the minimal row inserted for hosts learned from peer and
// ban lists before they are ever crawled.
type InstanceSeed struct {
	Host       string
	BaseDomain string
}

// --- pointer and time helpers ---

func StrPtr(s string) *string { return &s }

// NullableStr returns nil for the empty string.
func NullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nsOf(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ns := t.UnixNano()
	return &ns
}

func timeOf(ns *int64) *time.Time {
	if ns == nil {
		return nil
	}
	t := time.Unix(0, *ns).UTC()
	return &t
}
