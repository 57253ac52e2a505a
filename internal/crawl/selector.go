// Package crawl schedules the continuous crawl: a supervisor keeps a
// bounded queue of hosts topped up from the freshness tiers while a pool
// of recycled workers drains it.
package crawl

import (
	"time"

	"github.com/fedimapper/fedimapper/internal/config"
	"github.com/fedimapper/fedimapper/internal/netutil"
	"github.com/fedimapper/fedimapper/internal/store"
)

// Selector picks the next hosts to crawl. Tiers run in order and each
// satisfied host shrinks the demand passed to the next tier: never-scanned
// hosts first, then stale successes, then failed hosts on the slower
// retry cadence.
type Selector struct {
	store    *store.Store
	settings *config.Settings

	now func() time.Time
}

func NewSelector(st *store.Store, settings *config.Settings) *Selector {
	return &Selector{
		store:    st,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Bootstrap seeds the configured starting instances so the unscanned tier
// has something to serve on a fresh database.
func (s *Selector) Bootstrap() error {
	seeds := make([]store.InstanceSeed, 0, len(s.settings.BootstrapInstances))
	for _, host := range s.settings.BootstrapInstances {
		seeds = append(seeds, store.InstanceSeed{Host: host, BaseDomain: netutil.BaseDomain(host)})
	}
	return s.store.EnsureSeeds(seeds)
}

// Next returns up to demand hosts due for a crawl.
func (s *Selector) Next(demand int) ([]string, error) {
	if demand <= 0 {
		return nil, nil
	}
	now := s.now()

	tiers := []func(n int) ([]string, error){
		s.store.ListUnscanned,
		func(n int) ([]string, error) {
			return s.store.ListStale(now.Add(-s.settings.StaleRescanWindow()), n)
		},
		func(n int) ([]string, error) {
			return s.store.ListUnreachable(now.Add(-s.settings.UnreachableRescanWindow()), n)
		},
	}

	var out []string
	for _, tier := range tiers {
		hosts, err := tier(demand)
		if err != nil {
			return nil, err
		}
		out = append(out, hosts...)
		demand -= len(hosts)
		if demand <= 0 {
			break
		}
	}
	return out, nil
}
