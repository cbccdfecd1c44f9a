package cmd

import (
	"github.com/nvr-ai/parking-occupancy/cmd/fetch"
	"github.com/nvr-ai/parking-occupancy/cmd/resolve"
	"github.com/nvr-ai/parking-occupancy/cmd/run"
	"github.com/nvr-ai/parking-occupancy/cmd/serve"
	"github.com/nvr-ai/parking-occupancy/config"
	"github.com/spf13/cobra"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *config.Context) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "parking",
		Short:        "Parking space occupancy from background subtraction",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default ./parking.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", ctx.Viper.GetString("log.level"), "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", ctx.Viper.GetString("log.format"), "Log format: console or json")
	if err := config.MapFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	}); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		run.Command(ctx),
		serve.Command(ctx),
		fetch.Command(ctx),
		resolve.Command(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Bind only the executing command's flags; commands share settings keys.
		if err := config.BindFlags(ctx.Viper, cmd.Flags()); err != nil {
			return err
		}

		settings, err := config.Load(ctx.Viper, configPath)
		if err != nil {
			return err
		}
		*ctx.Settings = settings

		logger, err := config.NewLogger(settings.Log)
		if err != nil {
			return err
		}
		ctx.Logger = logger
		return nil
	}

	return rootCmd
}
