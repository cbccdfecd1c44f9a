package main

import (
	"os"

	"github.com/nvr-ai/parking-occupancy/cmd"
	"github.com/nvr-ai/parking-occupancy/config"
)

func main() {
	ctx := config.NewContext()
	if err := cmd.RootCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
