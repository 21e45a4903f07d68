package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded transcripts",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum number of transcripts")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output transcripts as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	if app.Transcripts == nil {
		return errors.New("no transcript backend configured (transcript.backend = \"none\")")
	}
	recs, err := app.Transcripts.List(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("list transcripts: %w", err)
	}

	if historyJSON {
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal transcripts: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No transcripts recorded.")
		return nil
	}
	for _, r := range recs {
		mark := " "
		if r.Grounded {
			mark = "*"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %-6s %s\n", mark, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status, r.Question)
	}
	return nil
}
