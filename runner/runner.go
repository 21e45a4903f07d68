// Package runner answers many independent questions concurrently, each
// through its own controller run.
package runner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sweetpotato0/bookqa/rag/replan"
)

// Runner executes questions against an Answerer with bounded concurrency.
type Runner struct {
	answerer       replan.Answerer
	maxConcurrency int
	semaphore      chan struct{}
}

// New creates a new runner
func New(answerer replan.Answerer, maxConcurrency int) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 4 // Default concurrency
	}
	return &Runner{
		answerer:       answerer,
		maxConcurrency: maxConcurrency,
		semaphore:      make(chan struct{}, maxConcurrency),
	}
}

// Ask answers one question once a concurrency slot is free.
func (r *Runner) Ask(ctx context.Context, question string) (*replan.Result, error) {
	// Acquire semaphore
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-ctx.Done():
		return nil, &replan.Error{Kind: replan.KindCancelled, Err: ctx.Err()}
	}
	return r.answerer.Answer(ctx, question)
}

// Task represents a question to be answered
type Task struct {
	ID       string
	Question string
}

// Result represents the outcome of one task
type Result struct {
	TaskID   string
	Question string
	Result   *replan.Result
	Error    error
}

// AskAll answers every task and returns one Result per task in input order.
// Tasks share the runner's concurrency slots with Ask. A failing question never stops the others; a panic inside a run is
// reported as that task's error.
func (r *Runner) AskAll(ctx context.Context, tasks []*Task) []*Result {
	results := make([]*Result, len(tasks))
	g, gctx := errgroup.WithContext(ctx)

	for i, task := range tasks {
		g.Go(func() (err error) {
			res := &Result{TaskID: task.ID, Question: task.Question}
			results[i] = res
			defer func() {
				if p := recover(); p != nil {
					res.Error = &replan.Error{Kind: replan.KindInternal, Err: fmt.Errorf("panic in task %s: %v", task.ID, p)}
				}
			}()
			res.Result, res.Error = r.Ask(gctx, task.Question)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Questions turns plain questions into tasks with ids q1, q2, ...
func Questions(questions ...string) []*Task {
	tasks := make([]*Task, len(questions))
	for i, q := range questions {
		tasks[i] = &Task{ID: fmt.Sprintf("q%d", i+1), Question: q}
	}
	return tasks
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Total    int
	Grounded int
	Failed   int
}

// Summarize counts outcomes.
func Summarize(results []*Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r == nil || r.Error != nil:
			s.Failed++
		case r.Result != nil && r.Result.Grounded:
			s.Grounded++
		}
	}
	return s
}
