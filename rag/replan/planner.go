package replan

import (
	"context"
	"log/slog"
)

// Planner turns a question into the initial ordered plan.
type Planner struct {
	synth  *Synthesizer
	refine bool
	logger *slog.Logger
}

// Propose returns the initial plan. When refinement is enabled the coarse
// plan is broken down into executable steps; a failed break-down falls back
// to the coarse plan.
func (p *Planner) Propose(ctx context.Context, question string) ([]string, error) {
	steps, err := p.synth.ProposePlan(ctx, question)
	if err != nil {
		return nil, err
	}
	if !p.refine {
		return steps, nil
	}
	refined, err := p.synth.BreakDown(ctx, question, steps)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		p.logger.Warn("plan break-down failed, using coarse plan", "error", err)
		return steps, nil
	}
	p.logger.Debug("plan refined", "coarse", len(steps), "refined", len(refined))
	return refined, nil
}
