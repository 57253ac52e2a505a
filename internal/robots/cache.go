// Package robots implements a higher-level robots.txt interface.
//
// The package caches parsed robots.txt structures per origin so crawl
// decisions for hot hosts stay in memory.
package robots

import (
	"context"
	"net/url"
	"time"

	"github.com/maypok86/otter"
	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"

	"github.com/fedimapper/fedimapper/internal/netutil"
)

// Cache maintains a bounded TTL cache of origin -> parsed robots.txt.
// When a new origin is seen the cache fetches its /robots.txt with robots
// validation off, parses it, and stores the result until the TTL lapses.
type Cache struct {
	client *netutil.Client
	agent  string
	cache  otter.Cache[string, *robotstxt.RobotsData]
}

// NewCache returns a cache bounded to capacity origins with the given entry
// lifetime. client must have robots gating disabled or unset.
func NewCache(client *netutil.Client, agent string, capacity int, ttl time.Duration) *Cache {
	cache, err := otter.MustBuilder[string, *robotstxt.RobotsData](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		panic("robots: failed to create cache: " + err.Error())
	}
	return &Cache{client: client, agent: agent, cache: cache}
}

// Allowed reports whether rawURL may be fetched by the configured agent.
//
// Fetch failures for /robots.txt deny everything on that origin until the
// cache entry expires; unparseable URLs are allowed through so the real
// fetch surfaces the error.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	data := c.lookup(ctx, u)
	return data.TestAgent(path, c.agent)
}

// Lookup returns the robots data for the URL's origin, fetching on miss.
//
// There is a logical race: concurrent misses on one origin may fetch
// robots.txt more than once. The last fetch wins, which is harmless.
func (c *Cache) lookup(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	origin := u.Scheme + "://" + u.Host
	if data, ok := c.cache.Get(origin); ok {
		return data
	}

	data := c.fetch(ctx, origin)
	c.cache.Set(origin, data)
	return data
}

func (c *Cache) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	resp, err := c.client.Fetch(ctx, origin+"/robots.txt", netutil.FetchOptions{SkipRobots: true})
	if err != nil {
		log.Debug().Str("origin", origin).Err(err).Msg("robots.txt fetch failed, denying origin")
		return denyAll()
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		// Server errors and mangled files read as deny-all until the
		// TTL gives the origin another chance.
		log.Debug().Str("origin", origin).Err(err).Msg("robots.txt unusable, denying origin")
		return denyAll()
	}
	return data
}

func denyAll() *robotstxt.RobotsData {
	data, _ := robotstxt.FromStatusAndBytes(403, nil)
	return data
}

// Close releases resources held by the underlying cache.
func (c *Cache) Close() {
	c.cache.Close()
}
