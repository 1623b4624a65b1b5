package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/parbench/internal/convert"
	"github.com/psantana5/parbench/internal/runner"
	"github.com/psantana5/parbench/pkg/logging"
)

var convertCmd = &cobra.Command{
	Use:   "convert <dir>",
	Short: "Normalize every .avi in a directory to browser-playable MP4",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	srcs, err := filepath.Glob(filepath.Join(args[0], "*.avi"))
	if err != nil {
		return err
	}
	if len(srcs) == 0 {
		return fmt.Errorf("no .avi files in %s", args[0])
	}
	sort.Strings(srcs)

	logger := logging.NewLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format == "json")
	conv := convert.New(runner.New(logger), convert.Config{
		FFmpeg:  cfg.Convert.FFmpeg,
		Timeout: cfg.Convert.Timeout,
		Codecs:  cfg.Convert.FallbackCodecs,
	}, logger)
	results := conv.NormalizeAll(cmd.Context(), srcs)

	type row struct {
		Source string `json:"source"`
		Result string `json:"result"`
		Size   int64  `json:"size"`
	}
	rows := make([]row, len(srcs))
	for i := range srcs {
		rows[i] = row{Source: srcs[i], Result: results[i]}
		if info, err := os.Stat(results[i]); err == nil {
			rows[i].Size = info.Size()
		}
	}
	if isStructured() {
		return printStructured(cmd.OutOrStdout(), rows)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Source", "Result", "Size")
	for _, r := range rows {
		result := filepath.Base(r.Result)
		if r.Result == r.Source {
			result += " (unconverted)"
		}
		table.Append([]string{filepath.Base(r.Source), result, fmt.Sprintf("%d", r.Size)})
	}
	table.Render()
	return nil
}
