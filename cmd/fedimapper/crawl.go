package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fedimapper/fedimapper/internal/config"
	"github.com/fedimapper/fedimapper/internal/crawl"
	"github.com/fedimapper/fedimapper/internal/ingest"
	"github.com/fedimapper/fedimapper/internal/netutil"
	"github.com/fedimapper/fedimapper/internal/probe"
	"github.com/fedimapper/fedimapper/internal/robots"
	"github.com/fedimapper/fedimapper/internal/store"
)

// crawlStack is everything a crawl needs wired together.
type crawlStack struct {
	store    *store.Store
	ingester *ingest.Ingester

	robotsCache *robots.Cache
	mmdb        *probe.MMDBLookup
}

func (s *crawlStack) Close() {
	if s.mmdb != nil {
		s.mmdb.Stop()
	}
	s.robotsCache.Close()
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("closing database")
	}
}

// newCrawlStack builds the fetchers, prober, store and ingester. The
// probe client skips robots gating; everything else goes through the
// cache.
func newCrawlStack(settings *config.Settings) (*crawlStack, error) {
	st, err := store.Open(settings.DatabasePath, settings.BulkInsertBuffer)
	if err != nil {
		return nil, err
	}

	probeClient := netutil.NewClient(settings.UserAgent, settings.MaxBodyBytes, settings.FetchTimeout, nil)
	robotsCache := robots.NewCache(probeClient, settings.CrawlerName, settings.CacheSizeRobots, settings.RobotsCacheTTL)
	gated := netutil.NewClient(settings.UserAgent, settings.MaxBodyBytes, settings.FetchTimeout, robotsCache)

	var asnBackend probe.ASNLookup
	var mmdb *probe.MMDBLookup
	if settings.ASNDatabasePath != "" {
		mmdb = probe.NewMMDBLookup(settings.ASNDatabasePath, settings.ASNReloadSchedule)
		if err := mmdb.Start(); err != nil {
			log.Warn().Err(err).Str("path", settings.ASNDatabasePath).Msg("asn database unavailable, falling back to whois")
			mmdb = nil
		} else {
			asnBackend = mmdb
		}
	}
	if asnBackend == nil && settings.ASNWhoisAddr != "" {
		asnBackend = probe.NewWhoisLookup(settings.ASNWhoisAddr)
	}

	prober := probe.New(probeClient, asnBackend, settings.HTTPSProbeWindow)

	return &crawlStack{
		store:       st,
		ingester:    ingest.New(st, gated, prober, settings),
		robotsCache: robotsCache,
		mmdb:        mmdb,
	}, nil
}

func newCrawlCmd(settings **config.Settings) *cobra.Command {
	var numProcesses int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the continuous crawl until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *settings
			if numProcesses > 0 {
				cfg.NumProcesses = numProcesses
				if block := numProcesses * 4; block < cfg.MaxQueueSize {
					cfg.LookupBlockSize = block
				}
			}

			stack, err := newCrawlStack(cfg)
			if err != nil {
				return err
			}
			defer stack.Close()

			runner := crawl.NewRunner(crawl.NewSelector(stack.store, cfg), stack.ingester.IngestHost, cfg)

			// SIGTERM drains the workers; SIGINT aborts in-flight fetches.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				for sig := range sigCh {
					log.Info().Str("signal", sig.String()).Msg("shutdown requested")
					if sig == syscall.SIGTERM {
						runner.Shutdown()
					} else {
						cancel()
					}
				}
			}()

			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&numProcesses, "num-processes", 0, "number of crawl workers (0 uses the configured default)")
	return cmd
}

func newIngestInstanceCmd(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest-instance HOST",
		Short: "Crawl a single host and persist the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := newCrawlStack(*settings)
			if err != nil {
				return err
			}
			defer stack.Close()

			if _, err := stack.ingester.IngestHost(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Println("Ingest complete.")
			return nil
		},
	}
}
