// Package cli implements the bookqa command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/bookqa/config"
	"github.com/sweetpotato0/bookqa/knowledge"
	"github.com/sweetpotato0/bookqa/pkg/logging"
)

// Version is the bookqa release.
var Version = "dev"

var (
	cfgFile     string
	logLevel    string
	corpusPaths []string

	cfg *config.Config

	// appOptions are applied to every App the commands build.
	appOptions []BuildOption
)

var rootCmd = &cobra.Command{
	Use:   "bookqa",
	Short: "Answer questions about a book",
	Long: `bookqa answers questions about an indexed book by planning retrieval steps,
executing them against passage and quotation collections, revising the plan
as evidence accumulates, and checking that the final answer is grounded in
the retrieved text.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	logging.Configure(loaded.Log.Level, loaded.Log.Format, os.Stderr)
	cfg = loaded
	return nil
}

// openApp builds the App for a command and ingests any --corpus files.
func openApp(cmd *cobra.Command) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	app, err := Build(cmd.Context(), cfg, appOptions...)
	if err != nil {
		return nil, err
	}
	for _, path := range corpusPaths {
		report, err := app.Ingest.IngestFile(cmd.Context(), path)
		if err != nil {
			_ = app.Close(context.Background())
			return nil, fmt.Errorf("load corpus %s: %w", path, err)
		}
		logging.WithComponent("cli").Info("corpus loaded",
			"path", path,
			"passages", report.Indexed[knowledge.Structured],
			"quotations", report.Indexed[knowledge.Quotation])
	}
	return app, nil
}

func addCorpusFlag(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&corpusPaths, "corpus", nil, "text or HTML files to ingest before running")
}
