package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/parbench/internal/telemetry"
	"github.com/psantana5/parbench/pkg/models"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "List the supported features",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if isStructured() {
			return printStructured(stdout(), map[string]interface{}{"features": models.Features})
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Name", "Sequential Program", "Output")
		for _, f := range models.Features {
			table.Append([]string{f.ID, f.Name, f.Program(models.VariantSequential), f.ArtifactExt()})
		}
		table.Render()

		fmt.Printf("Suggested thread count on this host: %d\n", telemetry.Host().SuggestedThreads())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(featuresCmd)
}
