package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fedimapper/fedimapper/internal/config"
	"github.com/fedimapper/fedimapper/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var settings *config.Settings

	root := &cobra.Command{
		Use:           "fedimapper",
		Short:         "Crawl the fediverse and map its instances",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			settings, err = config.Load()
			if err != nil {
				return err
			}
			setupLogging(settings.LogLevel)
			return nil
		},
	}

	root.AddCommand(
		newCrawlCmd(&settings),
		newIngestInstanceCmd(&settings),
		newInstanceCmd(&settings),
		newInstanceNodeinfoCmd(&settings),
		newInstanceVersionCmd(&settings),
		newInstancePeersCmd(&settings),
		newInstanceBlocksCmd(&settings),
		newASNCompanyCmd(),
		newVacuumCmd(&settings),
	)
	return root
}

func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func newVacuumCmd(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum-database",
		Short: "Rebuild the database file to reclaim space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open((*settings).DatabasePath, (*settings).BulkInsertBuffer)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Vacuum()
		},
	}
}
