package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/bookqa/rag/replan"
	"github.com/sweetpotato0/bookqa/runner"
)

var batchConcurrency int

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Answer a file of questions",
	Long: `Answers one question per non-empty line of file ("-" reads stdin) and prints
one JSON object per question in input order. Lines starting with # are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "j", 0, "questions answered in parallel (default from config)")
	addCorpusFlag(batchCmd)
	rootCmd.AddCommand(batchCmd)
}

type batchLine struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Response  string `json:"response,omitempty"`
	Grounded  bool   `json:"grounded"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	questions, err := readQuestions(cmd, args[0])
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return fmt.Errorf("no questions in %s", args[0])
	}

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	concurrency := batchConcurrency
	if concurrency <= 0 {
		concurrency = app.Config.Runner.Concurrency
	}
	results := runner.New(app.Answerer, concurrency).AskAll(cmd.Context(), runner.Questions(questions...))

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range results {
		line := batchLine{ID: r.TaskID, Question: r.Question}
		if r.Result != nil {
			line.Response = r.Result.Response
			line.Grounded = r.Result.Grounded
			line.RequestID = r.Result.RequestID
		}
		if r.Error != nil {
			line.Error = r.Error.Error()
			line.ErrorKind = string(replan.KindOf(r.Error))
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}

	s := runner.Summarize(results)
	cmd.PrintErrf("%d questions, %d grounded, %d failed\n", s.Total, s.Grounded, s.Failed)
	return nil
}

func readQuestions(cmd *cobra.Command, path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open questions: %w", err)
		}
		defer f.Close()
		r = f
	}

	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
