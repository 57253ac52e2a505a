package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fedimapper/fedimapper/internal/config"
	"github.com/fedimapper/fedimapper/internal/netutil"
	"github.com/fedimapper/fedimapper/internal/probe"
	"github.com/fedimapper/fedimapper/internal/proto"
)

// inspectClient builds the fetcher used by the one-shot lookup commands.
// They query a single named host, so robots gating is skipped.
func inspectClient(settings *config.Settings) *netutil.Client {
	return netutil.NewClient(settings.UserAgent, settings.MaxBodyBytes, settings.FetchTimeout, nil)
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func newInstanceCmd(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "instance HOST",
		Short: "Print a host's instance metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := proto.GetInstanceMetadata(cmd.Context(), inspectClient(*settings), args[0])
			if err != nil {
				return err
			}
			return printYAML(map[string]any{
				"title":             meta.Title,
				"short_description": meta.ShortDescription,
				"email":             meta.Email,
				"version":           meta.Version,
				"thumbnail":         meta.Thumbnail,
				"registration_open": meta.RegistrationsOpen(),
				"approval_required": meta.ApprovalRequired,
				"stats":             meta.Stats,
			})
		},
	}
}

func newInstanceNodeinfoCmd(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "instance-nodeinfo HOST",
		Short: "Print a host's nodeinfo document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := proto.GetNodeInfo(cmd.Context(), inspectClient(*settings), args[0])
			if err != nil {
				return err
			}
			return printYAML(info)
		},
	}
}

func newInstanceVersionCmd(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "instance-version HOST",
		Short: "Print a host's parsed software version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := proto.GetInstanceMetadata(cmd.Context(), inspectClient(*settings), args[0])
			if err != nil {
				return fmt.Errorf("unable to get metadata: %w", err)
			}
			if meta.Version == "" {
				return fmt.Errorf("unable to get version string for %s", args[0])
			}
			parsed := proto.ParseVersion(meta.Version)
			return printYAML(map[string]string{
				"software":         parsed.Software,
				"software_version": parsed.SoftwareVersion,
				"mastodon_version": parsed.MastodonVersion,
			})
		},
	}
}

func newASNCompanyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "asn-company OWNER",
		Short: "Print the normalized company name for an ASN owner string",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(probe.CleanASNCompany(args[0]))
		},
	}
}

func newInstancePeersCmd(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "instance-peers HOST",
		Short: "Print a host's public peer list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := proto.GetPeers(cmd.Context(), inspectClient(*settings), args[0])
			if err != nil {
				return err
			}
			return printYAML(peers)
		},
	}
}

func newInstanceBlocksCmd(settings **config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "instance-blocks HOST",
		Short: "Print a host's public ban list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blocks, err := proto.GetDomainBlocks(cmd.Context(), inspectClient(*settings), args[0])
			if err != nil {
				return err
			}
			return printYAML(blocks)
		},
	}
}
