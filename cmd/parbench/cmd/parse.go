package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/parbench/internal/perf"
)

var parseCmd = &cobra.Command{
	Use:   "parse <file|->",
	Short: "Extract metrics from a captured variant run log",
	Long: `Parse the combined output of a variant program and print the metric
record the server would store. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}

	rec := perf.Parse(string(data))
	if isStructured() {
		return printStructured(cmd.OutOrStdout(), rec)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Field", "Value")
	table.Append([]string{"Success", fmt.Sprintf("%t", rec.Success)})
	table.Append([]string{"Execution time (s)", fmtFloat(rec.ExecutionTime, "%.3f")})
	table.Append([]string{"Frames processed", fmtInt(rec.FramesProcessed)})
	table.Append([]string{"FPS", fmtFloat(rec.FPS, "%.2f")})
	if rec.Error != nil {
		table.Append([]string{"Error", *rec.Error})
	}
	table.Render()
	return nil
}
