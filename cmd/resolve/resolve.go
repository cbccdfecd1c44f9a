package resolve

import (
	"fmt"
	"os"

	"github.com/nvr-ai/parking-occupancy/config"
	"github.com/nvr-ai/parking-occupancy/roi"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Command creates the command that prints the regions of one camera.
func Command(ctx *config.Context) *cobra.Command {
	var camera string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the parking-space regions of a camera",
		Long: `Look up a camera in the region catalog and print each usable region with its
vertices. Without --camera the catalog's camera ids are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			run := ctx.Settings.Run
			catalog, err := roi.Load(run.CatalogPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if camera == "" {
				for _, id := range catalog.CameraIDs(run.Catalog) {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			regions := catalog.Regions(camera, run.Catalog)
			if len(regions) == 0 {
				return errors.Errorf("no regions for camera %s in %s", camera, run.CatalogPath)
			}
			for _, r := range regions {
				fmt.Fprintf(out, "ROI%d center=%v points=%v\n", r.ID, r.Center(), r.Points)
			}
			return nil
		},
	}

	v := ctx.Viper
	cmd.Flags().StringVar(&camera, "camera", "", "Camera identifier, matched exactly")
	cmd.Flags().String("catalog", v.GetString("catalog_path"), "Region catalog (JSON or YAML)")
	cmd.Flags().StringSlice("polygon-fields", v.GetStringSlice("catalog.polygon_fields"), "Polygon field names, highest priority first")
	if err := config.MapFlags(cmd.Flags(), map[string]string{
		"catalog":        "catalog_path",
		"polygon-fields": "catalog.polygon_fields",
	}); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}
