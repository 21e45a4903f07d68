package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/bookqa/rag/replan"
)

var (
	askJSON  bool
	askTrace bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question",
	Long: `Answers a single question. The answer is marked as grounded only when it is
supported by the passages and quotations retrieved while answering.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full result as JSON")
	askCmd.Flags().BoolVar(&askTrace, "trace", false, "print the executed steps")
	addCorpusFlag(askCmd)
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	res, err := app.Answerer.Answer(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	printResult(cmd, res, askTrace)
	return nil
}

func printResult(cmd *cobra.Command, res *replan.Result, trace bool) {
	fmt.Fprintln(cmd.OutOrStdout(), res.Response)
	if !res.Grounded {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "(not grounded in the retrieved text)")
	}
	if !trace {
		return
	}
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Steps:")
	for _, ps := range res.PastSteps {
		fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s (%s, %d fragments)\n", ps.StepID, ps.Step, ps.Capability, ps.Fragments)
	}
	phases := make([]string, len(res.Phases))
	for i, p := range res.Phases {
		phases[i] = string(p)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Phases: %s\n", strings.Join(phases, " > "))
	fmt.Fprintf(cmd.OutOrStdout(), "Evaluations: %d, budget left: %d\n", res.Evaluations, res.BudgetRemaining)
}
