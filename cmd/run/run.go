package run

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/nvr-ai/parking-occupancy/config"
	"github.com/nvr-ai/parking-occupancy/metrics"
	"github.com/nvr-ai/parking-occupancy/report"
	"github.com/nvr-ai/parking-occupancy/service"
	"github.com/spf13/cobra"
)

// Command creates the command that evaluates one batch of test images.
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate parking occupancy for a batch of test images",
		Long: `Train a background model per camera on its empty-lot frames, evaluate every
test image against it and write a timestamped JSON report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := metrics.New(nil)
			if err != nil {
				return err
			}
			svc, release, err := service.Open(sigCtx, *ctx.Settings, ctx.Logger, m)
			if err != nil {
				return err
			}
			defer release()

			outcome, err := svc.Run(sigCtx, ctx.Settings.Run)
			if outcome != nil && outcome.Report != nil {
				printSummary(cmd.OutOrStdout(), outcome.Report)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "JSON_FILE: %s\n", outcome.ResultPath)
			return nil
		},
	}

	if err := setupFlags(cmd, ctx); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// printSummary writes the run counts, with skip reasons in name order.
func printSummary(out io.Writer, rep *report.BatchReport) {
	fmt.Fprintf(out, "Run %s: found %d test images, evaluated %d, skipped %d\n",
		rep.RunID, rep.Summary.Found, rep.Summary.Evaluated, rep.Summary.SkippedTotal())

	reasons := make([]string, 0, len(rep.Summary.Skipped))
	for reason := range rep.Summary.Skipped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(out, "  skipped %-28s %d\n", reason, rep.Summary.Skipped[reason])
	}
}

// setupFlags configures flags specific to the run command.
func setupFlags(cmd *cobra.Command, ctx *config.Context) error {
	v := ctx.Viper
	flags := cmd.Flags()
	flags.String("project", v.GetString("project_id"), "Project identifier recorded in the report")
	flags.Float64("learning-rate", v.GetFloat64("learning_rate"), "Background model learning rate, 0.0 to 1.0")
	flags.Int("iterations", v.GetInt("iterations"), "Training passes over each camera's training directory")
	flags.Float64("var-threshold", v.GetFloat64("var_threshold"), "Mixture model variance threshold")
	flags.Float64("threshold", v.GetFloat64("occupancy_threshold"), "Foreground fraction at which a space is occupied")
	flags.Int("kernel-size", v.GetInt("kernel_size"), "Morphology kernel size, odd")
	flags.String("training-root", v.GetString("training_root"), "Directory holding one training directory per camera")
	flags.String("training-subpath", v.GetString("training_subpath"), "Camera training directory below the root; {camera} is replaced")
	flags.String("test-root", v.GetString("test_root"), "Directory searched recursively for test images")
	flags.String("catalog", v.GetString("catalog_path"), "Region catalog (JSON or YAML)")
	flags.String("output", v.GetString("output_root"), "Results root; each run writes a timestamped directory")
	flags.Bool("strict-suffix", v.GetBool("strict_suffix"), "Require the snapshot suffix in test image names")
	flags.Bool("visualize", v.GetBool("visualize"), "Write annotated frames, masks and previews")
	flags.String("preview-format", v.GetString("preview_format"), "Preview encoding: jpeg, png or webp")
	flags.Bool("cache-models", v.GetBool("cache_models"), "Reuse each camera's trained model within the run")

	return config.MapFlags(flags, map[string]string{
		"project":          "project_id",
		"learning-rate":    "learning_rate",
		"iterations":       "iterations",
		"var-threshold":    "var_threshold",
		"threshold":        "occupancy_threshold",
		"kernel-size":      "kernel_size",
		"training-root":    "training_root",
		"training-subpath": "training_subpath",
		"test-root":        "test_root",
		"catalog":          "catalog_path",
		"output":           "output_root",
		"strict-suffix":    "strict_suffix",
		"visualize":        "visualize",
		"preview-format":   "preview_format",
		"cache-models":     "cache_models",
	})
}
