package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/bookqa/knowledge"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Index books into the knowledge store",
	Long: `Cleans each file, splits it into chapters and overlapping passages, extracts
long quotations, and indexes both into the knowledge store. Files ending in
.html or .htm are converted to text first. Passages already indexed are
skipped, so ingesting the same book twice is harmless.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	if app.Config.Store.Backend == "memory" {
		cmd.PrintErrln("warning: store.backend is memory; the index is discarded when the command exits")
	}

	for _, path := range args {
		report, err := app.Ingest.IngestFile(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chapters, %d passages (%d skipped), %d quotations (%d skipped), %d summaries\n",
			path, report.Chapters,
			report.Indexed[knowledge.Structured], report.Skipped[knowledge.Structured],
			report.Indexed[knowledge.Quotation], report.Skipped[knowledge.Quotation],
			report.Summaries)
	}
	return nil
}
