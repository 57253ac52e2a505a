// Package ingest runs the per-host crawl: resolve and probe the host,
// discover which fediverse software it runs, and persist its metadata,
// peers, and bans.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog/log"

	"github.com/fedimapper/fedimapper/internal/config"
	"github.com/fedimapper/fedimapper/internal/netutil"
	"github.com/fedimapper/fedimapper/internal/probe"
	"github.com/fedimapper/fedimapper/internal/proto"
	"github.com/fedimapper/fedimapper/internal/store"
)

// An extractor identifies one software family and populates the instance
// from its APIs. Returns false to let the next strategy try.
type extractorFunc func(ctx context.Context, inst *store.Instance, info *proto.NodeInfo) (bool, error)

// Ingester crawls single hosts. Safe for concurrent use: the evil-domain
// set is shared across workers.
type Ingester struct {
	store    *store.Store
	client   *netutil.Client
	prober   *probe.Prober
	settings *config.Settings

	// Domain suffixes that must never be crawled or persisted. Grows at
	// runtime when the spam heuristic fires.
	evil *xsync.Map[string, struct{}]

	extractors map[string]extractorFunc

	now   func() time.Time
	newID func() string
	randF func() float64
}

// New creates an Ingester. client must be the robots-gated fetcher; the
// prober carries its own ungated one.
func New(st *store.Store, client *netutil.Client, prober *probe.Prober, settings *config.Settings) *Ingester {
	ing := &Ingester{
		store:    st,
		client:   client,
		prober:   prober,
		settings: settings,
		evil:     xsync.NewMap[string, struct{}](),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		randF:    rand.Float64,
	}
	ing.extractors = map[string]extractorFunc{
		"diaspora": ing.extractDiaspora,
		"mastodon": ing.extractMastodon,
		"nodeinfo": ing.extractNodeinfo,
		"peertube": ing.extractPeertube,
	}

	for _, d := range settings.EvilDomains {
		ing.evil.Store(d, struct{}{})
	}
	persisted, err := st.ListEvilDomains()
	if err != nil {
		log.Warn().Err(err).Msg("could not load persisted evil domains")
	}
	for _, d := range persisted {
		ing.evil.Store(d, struct{}{})
	}
	return ing
}

// IngestHost crawls one host end to end. The bool reports whether the host
// was processed far enough to record a service verdict; evil-domain skips
// and network dead ends return false.
func (ing *Ingester) IngestHost(ctx context.Context, host string) (bool, error) {
	host = strings.ToLower(host)
	log.Info().Str("host", host).Msg("ingesting host")

	if suffix, evil := ing.evilMatch(host); evil {
		log.Info().Str("host", host).Str("suffix", suffix).Msg("skipping evil domain")
		return false, nil
	}

	processed, err := ing.ingest(ctx, host)
	if err != nil {
		log.Error().Err(err).Str("host", host).Msg("ingest failed")
		if serr := ing.store.SetStatus(host, store.StatusCrawlError); serr != nil {
			log.Error().Err(serr).Str("host", host).Msg("could not record crawl error")
		}
		return false, err
	}
	return processed, nil
}

func (ing *Ingester) ingest(ctx context.Context, host string) (processed bool, err error) {
	// A panic below (a hostile document tripping an extractor) surfaces as
	// an error so the caller still records crawl_error.
	defer func() {
		if p := recover(); p != nil {
			processed = false
			err = fmt.Errorf("panic crawling %s: %v", host, p)
		}
	}()

	// Hook for redirect resolution; for now hosts serve themselves.
	wwwHost := host

	inst, err := ing.store.EnsureInstance(host)
	if err != nil {
		return false, err
	}

	now := ing.now()
	inst.LastIngest = &now
	inst.WWWHost = &wwwHost
	if inst.Digest == nil {
		inst.Digest = store.StrPtr(hostDigest(host))
	}
	if inst.BaseDomain == nil {
		inst.BaseDomain = store.StrPtr(netutil.BaseDomain(host))
	}
	if err := ing.store.SaveInstance(inst); err != nil {
		return false, err
	}

	fail := func(status string) (bool, error) {
		inst.LastIngestStatus = store.StrPtr(status)
		return false, ing.store.SaveInstance(inst)
	}

	ip, err := ing.prober.ResolveIP(ctx, host)
	if err != nil || ip == "" {
		log.Info().Str("host", host).Msg("no DNS")
		return fail(store.StatusNoDNS)
	}

	inst.IPAddress = &ip
	if rec, err := ing.prober.LookupASN(ctx, ip); err != nil {
		log.Debug().Err(err).Str("host", host).Msg("asn lookup failed")
	} else if rec != nil {
		inst.ASN = store.StrPtr(rec.ASN)
		if err := ing.saveASN(rec); err != nil {
			return false, err
		}
	}

	reach := ing.prober.CheckHTTPS(ctx, wwwHost)
	if reach.Parked {
		log.Info().Str("host", host).Int("status", reach.StatusCode).Msg("host parked or disabled")
		return fail(store.StatusDisabled)
	}
	if !reach.Reachable {
		log.Info().Str("host", host).Int("status", reach.StatusCode).Msg("host unreachable")
		return fail(store.StatusUnreachable)
	}

	info, err := proto.GetNodeInfo(ctx, ing.client, wwwHost)
	if err != nil {
		if errors.Is(err, netutil.ErrRobotsBlocked) {
			log.Info().Str("host", host).Msg("robots disallow crawling")
			return fail(store.StatusRobotsBlocked)
		}
		log.Debug().Err(err).Str("host", host).Msg("no nodeinfo")
		info = nil
	}
	if info != nil {
		inst.NodeinfoVersion = store.NullableStr(info.Version)
		if err := ing.store.SaveInstance(inst); err != nil {
			return false, err
		}
	}

	extract := ing.extractorFor(info)
	ok, err := extract(ctx, inst, info)
	switch {
	case errors.Is(err, errEscalateUnreachable):
		return fail(store.StatusUnreachable)
	case errors.Is(err, netutil.ErrRobotsBlocked):
		return fail(store.StatusRobotsBlocked)
	case err != nil:
		return false, err
	}
	if ok {
		return true, ing.markSuccess(inst)
	}

	// Whatever claimed the host, keep the nodeinfo we have.
	if info != nil {
		ok, err = ing.extractNodeinfo(ctx, inst, info)
		if err != nil {
			return false, err
		}
		if ok {
			return true, ing.markSuccess(inst)
		}
	}

	log.Info().Str("host", host).Msg("unknown service")
	inst.LastIngestStatus = store.StrPtr(store.StatusUnknownService)
	return true, ing.store.SaveInstance(inst)
}

// extractorFor picks the strategy for the advertised software. Many
// non-mastodon services still answer the mastodon informational APIs, so
// unknown software falls through to the mastodon extractor.
func (ing *Ingester) extractorFor(info *proto.NodeInfo) extractorFunc {
	if info != nil {
		if fn, ok := ing.extractors[info.SoftwareName()]; ok {
			return fn
		}
	}
	return ing.extractors["mastodon"]
}

func (ing *Ingester) markSuccess(inst *store.Instance) error {
	now := ing.now()
	inst.LastIngestStatus = store.StrPtr(store.StatusSuccess)
	inst.LastIngestSuccess = &now
	if inst.FirstIngestSuccess == nil {
		inst.FirstIngestSuccess = &now
	}
	if err := ing.store.SaveInstance(inst); err != nil {
		return err
	}
	log.Info().Str("host", inst.Host).Msg("ingest succeeded")
	return nil
}

func (ing *Ingester) saveASN(rec *probe.ASNRecord) error {
	return ing.store.UpsertASN(store.ASN{
		ASN:     rec.ASN,
		CC:      store.NullableStr(rec.CC),
		Company: store.NullableStr(probe.CleanASNCompany(rec.Owner)),
		Owner:   store.NullableStr(rec.Owner),
		Prefix:  store.NullableStr(rec.Prefix),
	})
}

// evilMatch reports whether host ends with any known evil suffix.
func (ing *Ingester) evilMatch(host string) (string, bool) {
	var hit string
	ing.evil.Range(func(suffix string, _ struct{}) bool {
		if strings.HasSuffix(host, suffix) {
			hit = suffix
			return false
		}
		return true
	})
	return hit, hit != ""
}

// spammersFrom finds registrable domains dominating a peer or ban list.
// Offenders join the shared evil set and are persisted so they stay
// filtered across restarts.
func (ing *Ingester) spammersFrom(hosts []string) map[string]struct{} {
	counts := make(map[string]int)
	for _, h := range hosts {
		counts[netutil.BaseDomain(h)]++
	}

	spammers := make(map[string]struct{})
	for domain, n := range counts {
		if n >= ing.settings.SpamDomainThreshold {
			spammers[domain] = struct{}{}
		}
	}
	if len(spammers) == 0 {
		return spammers
	}

	domains := make([]string, 0, len(spammers))
	for d := range spammers {
		ing.evil.Store(d, struct{}{})
		domains = append(domains, d)
	}
	log.Info().Strs("domains", domains).Msg("spam domains detected")
	if err := ing.store.InsertEvilDomains(domains); err != nil {
		log.Warn().Err(err).Msg("could not persist spam domains")
	}
	return spammers
}

// filterHosts drops empty hosts and anything under an evil or spammer
// suffix.
func (ing *Ingester) filterHosts(hosts []string, spammers map[string]struct{}) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h == "" {
			continue
		}
		if _, evil := ing.evilMatch(h); evil {
			continue
		}
		if suffixMatch(h, spammers) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func suffixMatch(host string, suffixes map[string]struct{}) bool {
	for suffix := range suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func hostDigest(host string) string {
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:])
}
