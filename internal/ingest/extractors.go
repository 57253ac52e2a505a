package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fedimapper/fedimapper/internal/netutil"
	"github.com/fedimapper/fedimapper/internal/proto"
	"github.com/fedimapper/fedimapper/internal/stopwords"
	"github.com/fedimapper/fedimapper/internal/store"
)

// Counter values above these are treated as garbage: a few instances
// publish wildly inflated numbers to game rankings.
const (
	maxPlausibleUsers = 1_250_000
	maxPlausiblePosts = 1_000_000_000
)

// errEscalateUnreachable bubbles a mid-extract transport failure up to the
// orchestrator so the host lands in unreachable instead of unknown_service.
var errEscalateUnreachable = errors.New("ingest: host became unreachable")

func isTransport(err error) bool {
	return errors.Is(err, netutil.ErrUnreachable) || errors.Is(err, netutil.ErrResponseTooSlow)
}

// --- mastodon ---

func (ing *Ingester) extractMastodon(ctx context.Context, inst *store.Instance, info *proto.NodeInfo) (bool, error) {
	wwwHost := inst.Host
	if inst.WWWHost != nil {
		wwwHost = *inst.WWWHost
	}

	meta, err := proto.GetInstanceMetadata(ctx, ing.client, wwwHost)
	if err != nil {
		if errors.Is(err, netutil.ErrRobotsBlocked) {
			return false, err
		}
		if isTransport(err) {
			return false, errEscalateUnreachable
		}
		log.Debug().Err(err).Str("host", inst.Host).Msg("not mastodon compatible")
		return false, nil
	}

	log.Info().Str("host", inst.Host).Msg("host is mastodon compatible")

	inst.Title = store.NullableStr(meta.Title)
	inst.ShortDescription = store.NullableStr(meta.ShortDescription)
	inst.Email = store.NullableStr(meta.Email)

	if info != nil {
		inst.Version = store.NullableStr(info.Software.Version)
		inst.SoftwareVersion = store.NullableStr(info.Software.Version)
		inst.Software = store.NullableStr(info.SoftwareName())
	}

	if meta.Version != "" {
		inst.Version = store.StrPtr(meta.Version)
		parsed := proto.ParseVersion(meta.Version)
		if parsed != (proto.FediVersion{}) {
			inst.MastodonVersion = store.NullableStr(parsed.MastodonVersion)
			if info == nil {
				inst.Software = store.NullableStr(parsed.Software)
				inst.SoftwareVersion = store.NullableStr(parsed.SoftwareVersion)
			}
		}
	}

	var niUsers, niMonthly, niPosts *int64
	if info != nil {
		niUsers = info.Usage.Users.Total
		niMonthly = info.Usage.Users.ActiveMonth
		niPosts = info.Usage.LocalPosts
	}

	inst.CurrentUserCount = niUsers
	inst.CurrentStatusCount = niPosts
	inst.CurrentDomainCount = nil
	if meta.Stats != nil {
		if meta.Stats.UserCount != nil {
			inst.CurrentUserCount = meta.Stats.UserCount
		}
		if meta.Stats.StatusCount != nil {
			inst.CurrentStatusCount = meta.Stats.StatusCount
		}
		inst.CurrentDomainCount = meta.Stats.DomainCount
	}

	inst.Thumbnail = store.NullableStr(meta.Thumbnail)
	if open := meta.RegistrationsOpen(); open != nil {
		inst.RegistrationOpen = open
	}
	inst.ApprovalRequired = meta.ApprovalRequired

	if err := ing.store.SaveInstance(inst); err != nil {
		return false, err
	}
	if err := ing.store.AppendStats(store.InstanceStats{
		Host:               inst.Host,
		IngestTime:         ing.now(),
		UserCount:          inst.CurrentUserCount,
		ActiveMonthlyUsers: niMonthly,
		StatusCount:        inst.CurrentStatusCount,
		DomainCount:        inst.CurrentDomainCount,
	}); err != nil {
		return false, err
	}

	if err := ing.saveMastodonBans(ctx, inst, wwwHost); err != nil {
		return false, err
	}
	if ing.shouldRefreshPeers(inst) {
		if err := ing.saveMastodonPeers(ctx, inst, wwwHost); err != nil {
			return false, err
		}
	}
	return true, ing.store.SaveInstance(inst)
}

func (ing *Ingester) saveMastodonBans(ctx context.Context, inst *store.Instance, wwwHost string) error {
	blocks, err := proto.GetDomainBlocks(ctx, ing.client, wwwHost)
	if err != nil {
		// Most instances keep their ban list private.
		log.Debug().Err(err).Str("host", inst.Host).Msg("no public ban list")
		inst.HasPublicBans = boolPtr(false)
		return ing.store.ClearBans(inst.Host)
	}
	inst.HasPublicBans = boolPtr(true)

	domains := make([]string, 0, len(blocks))
	for _, b := range blocks {
		domains = append(domains, strings.ToLower(b.Domain))
	}
	spammers := ing.spammersFrom(domains)

	var bans []store.Ban
	var seeds []store.InstanceSeed
	for _, b := range blocks {
		domain := strings.ToLower(b.Domain)
		if domain == "" {
			continue
		}
		if _, evil := ing.evilMatch(domain); evil {
			continue
		}
		if suffixMatch(domain, spammers) {
			continue
		}
		bans = append(bans, store.Ban{
			Host:       inst.Host,
			BannedHost: domain,
			Digest:     store.NullableStr(b.Digest),
			Severity:   b.Severity,
			Comment:    store.NullableStr(b.Comment),
			// Servers advertise a language but it is almost always left at
			// the english default, whatever the admins actually speak.
			Keywords: stopwords.Keywords("en", b.Comment),
		})
		seeds = append(seeds, store.InstanceSeed{Host: domain, BaseDomain: netutil.BaseDomain(domain)})
	}
	sort.Slice(bans, func(i, j int) bool { return bans[i].BannedHost < bans[j].BannedHost })

	if err := ing.store.EnsureSeeds(seeds); err != nil {
		return err
	}
	return ing.store.ReplaceBans(inst.Host, bans, ing.newID())
}

func (ing *Ingester) saveMastodonPeers(ctx context.Context, inst *store.Instance, wwwHost string) error {
	log.Info().Str("host", inst.Host).Msg("refreshing peers")
	now := ing.now()
	inst.LastIngestPeers = &now

	peers, err := proto.GetPeers(ctx, ing.client, wwwHost)
	if err != nil {
		log.Debug().Err(err).Str("host", inst.Host).Msg("no public peer list")
		inst.HasPublicPeers = boolPtr(false)
		return nil
	}
	inst.HasPublicPeers = boolPtr(true)
	return ing.savePeers(inst.Host, peers)
}

// --- nodeinfo ---

func (ing *Ingester) extractNodeinfo(_ context.Context, inst *store.Instance, info *proto.NodeInfo) (bool, error) {
	if info == nil {
		return false, nil
	}

	log.Info().Str("host", inst.Host).Msg("host is nodeinfo compatible")

	if name := info.SoftwareName(); name != "" {
		inst.Software = store.StrPtr(name)
	}
	inst.SoftwareVersion = store.NullableStr(info.Software.Version)
	inst.Version = store.NullableStr(info.Software.Version)

	if inst.HasPublicBans == nil {
		inst.HasPublicBans = boolPtr(false)
	}
	if inst.HasPublicPeers == nil {
		inst.HasPublicPeers = boolPtr(false)
	}

	if err := ing.store.SaveInstance(inst); err != nil {
		return false, err
	}
	return true, ing.saveNodeinfoStats(inst, info)
}

// saveNodeinfoStats writes the sanity-capped usage counters and one stats
// sample.
func (ing *Ingester) saveNodeinfoStats(inst *store.Instance, info *proto.NodeInfo) error {
	if name := info.MetadataNodeName(); name != "" {
		inst.Title = store.StrPtr(name)
	}

	inst.CurrentUserCount = capCount(info.Usage.Users.Total, maxPlausibleUsers)
	inst.CurrentStatusCount = capCountExclusive(info.Usage.LocalPosts, maxPlausiblePosts)
	monthly := capCount(info.Usage.Users.ActiveMonth, maxPlausibleUsers)

	if err := ing.store.SaveInstance(inst); err != nil {
		return err
	}
	return ing.store.AppendStats(store.InstanceStats{
		Host:               inst.Host,
		IngestTime:         ing.now(),
		UserCount:          inst.CurrentUserCount,
		ActiveMonthlyUsers: monthly,
		StatusCount:        inst.CurrentStatusCount,
	})
}

// --- peertube ---

func (ing *Ingester) extractPeertube(ctx context.Context, inst *store.Instance, info *proto.NodeInfo) (bool, error) {
	cfg, err := proto.GetPeertubeConfig(ctx, ing.client, inst.Host)
	if err != nil {
		if errors.Is(err, netutil.ErrRobotsBlocked) {
			return false, err
		}
		if isTransport(err) {
			return false, errEscalateUnreachable
		}
		log.Debug().Err(err).Str("host", inst.Host).Msg("not peertube compatible")
		return false, nil
	}

	log.Info().Str("host", inst.Host).Msg("host is peertube compatible")

	inst.Software = store.StrPtr("peertube")
	inst.Title = store.NullableStr(cfg.Instance.Name)
	inst.ShortDescription = store.NullableStr(cfg.Instance.ShortDescription)
	inst.RegistrationOpen = cfg.Signup.Allowed
	inst.Version = store.NullableStr(cfg.ServerVersion)
	inst.SoftwareVersion = store.NullableStr(cfg.ServerVersion)

	var users, posts *int64
	if info != nil {
		users = info.Usage.Users.Total
		posts = info.Usage.LocalPosts
	}
	if users == nil || posts == nil {
		if stats, err := proto.GetPeertubeStats(ctx, ing.client, inst.Host); err == nil {
			users = stats.TotalUsers
			posts = stats.TotalVideos
		}
	}
	inst.CurrentUserCount = users
	inst.CurrentStatusCount = posts

	if about, err := proto.GetPeertubeAbout(ctx, ing.client, inst.Host); err == nil {
		inst.Email = store.NullableStr(about.AdminEmail())
	}

	if err := ing.store.SaveInstance(inst); err != nil {
		return false, err
	}
	if info != nil {
		if err := ing.saveNodeinfoStats(inst, info); err != nil {
			return false, err
		}
	}

	followers, err := proto.GetPeertubeFollowers(ctx, ing.client, inst.Host)
	if err != nil {
		log.Debug().Err(err).Str("host", inst.Host).Msg("no follower list")
		inst.HasPublicPeers = boolPtr(false)
	} else {
		inst.CurrentDomainCount = followers.Total
		inst.HasPublicPeers = boolPtr(true)
		if err := ing.savePeers(inst.Host, followers.Hosts()); err != nil {
			return false, err
		}
	}

	// PeerTube has no public ban list API.
	inst.HasPublicBans = boolPtr(false)
	return true, ing.store.SaveInstance(inst)
}

// --- diaspora ---

func (ing *Ingester) extractDiaspora(ctx context.Context, inst *store.Instance, info *proto.NodeInfo) (bool, error) {
	ok, err := ing.extractNodeinfo(ctx, inst, info)
	if err != nil || !ok {
		return ok, err
	}

	log.Info().Str("host", inst.Host).Msg("host is diaspora compatible")

	if ing.shouldRefreshPeers(inst) {
		wwwHost := inst.Host
		if inst.WWWHost != nil {
			wwwHost = *inst.WWWHost
		}
		now := ing.now()
		inst.LastIngestPeers = &now

		pods, err := proto.GetPods(ctx, ing.client, wwwHost)
		if err != nil {
			log.Debug().Err(err).Str("host", inst.Host).Msg("no pod list")
			inst.HasPublicPeers = boolPtr(false)
		} else if len(pods) > 0 {
			inst.HasPublicPeers = boolPtr(true)
			if err := ing.savePeers(inst.Host, pods); err != nil {
				return false, err
			}
		}
		if err := ing.store.SaveInstance(inst); err != nil {
			return false, err
		}
	}
	return true, nil
}

// --- shared helpers ---

// savePeers seeds each surviving peer as an instance, then replaces the
// edge set under a fresh ingest id. Peer names are lowercased so a host
// never appears under two spellings.
func (ing *Ingester) savePeers(host string, peers []string) error {
	lowered := make([]string, 0, len(peers))
	for _, p := range peers {
		lowered = append(lowered, strings.ToLower(p))
	}
	spammers := ing.spammersFrom(lowered)
	kept := ing.filterHosts(lowered, spammers)

	seeds := make([]store.InstanceSeed, 0, len(kept))
	rows := make([]store.Peer, 0, len(kept))
	for _, peer := range kept {
		seeds = append(seeds, store.InstanceSeed{Host: peer, BaseDomain: netutil.BaseDomain(peer)})
		rows = append(rows, store.Peer{Host: host, PeerHost: peer})
	}

	if err := ing.store.EnsureSeeds(seeds); err != nil {
		return err
	}
	return ing.store.ReplacePeers(host, rows, ing.newID())
}

// shouldRefreshPeers gates the expensive peer list fetch: due when never
// fetched, older than refresh_peers_hours, or one time in seven older than
// half that, to spread refreshes out.
func (ing *Ingester) shouldRefreshPeers(inst *store.Instance) bool {
	if inst.LastIngestPeers == nil {
		return true
	}
	due := ing.settings.RefreshPeersWindow()
	if ing.randF() < 1.0/7.0 {
		due /= 2
	}
	return ing.now().Sub(*inst.LastIngestPeers) >= due
}

func capCount(v *int64, max int64) *int64 {
	if v == nil || *v <= 0 || *v > max {
		return nil
	}
	return v
}

func capCountExclusive(v *int64, max int64) *int64 {
	if v == nil || *v <= 0 || *v >= max {
		return nil
	}
	return v
}

func boolPtr(b bool) *bool { return &b }
