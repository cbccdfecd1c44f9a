package fetch

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvr-ai/parking-occupancy/config"
	snapshots "github.com/nvr-ai/parking-occupancy/fetch"
	"github.com/spf13/cobra"
)

// Command creates the command that downloads the latest camera snapshots.
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the latest snapshots from every camera host",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, err := snapshots.New(ctx.Settings.Fetch, ctx.Logger).Fetch(sigCtx)
			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(out, "%-24s failed: %v\n", r.Host, r.Err)
					continue
				}
				fmt.Fprintf(out, "%-24s %d files -> %s\n", r.Host, r.Files, r.Dir)
			}
			return err
		},
	}

	v := ctx.Viper
	flags := cmd.Flags()
	flags.StringSlice("hosts", v.GetStringSlice("fetch.hosts"), "Camera hosts, host or host:port")
	flags.String("dest", v.GetString("fetch.dest"), "Local directory receiving one subdirectory per host")
	flags.String("remote-dir", v.GetString("fetch.remote_dir"), "Snapshot directory on the camera hosts")
	flags.String("user", v.GetString("fetch.user"), "SSH user")
	flags.String("password", v.GetString("fetch.password"), "SSH password, used when no key file is given")
	flags.String("key-file", v.GetString("fetch.key_file"), "SSH private key file")
	flags.Int("concurrency", v.GetInt("fetch.concurrency"), "Hosts fetched at once")
	if err := config.MapFlags(flags, map[string]string{
		"hosts":       "fetch.hosts",
		"dest":        "fetch.dest",
		"remote-dir":  "fetch.remote_dir",
		"user":        "fetch.user",
		"password":    "fetch.password",
		"key-file":    "fetch.key_file",
		"concurrency": "fetch.concurrency",
	}); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}
