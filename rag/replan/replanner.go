package replan

import "context"

// Replanner decides what happens after each step.
type Replanner interface {
	Replan(ctx context.Context, r Review) (*Decision, error)
}

// ReplannerFunc adapts a function to Replanner.
type ReplannerFunc func(ctx context.Context, r Review) (*Decision, error)

// Replan implements Replanner.
func (f ReplannerFunc) Replan(ctx context.Context, r Review) (*Decision, error) {
	return f(ctx, r)
}

// SufficiencyPolicy is consulted before the replanner on every unforced
// evaluation. A true verdict finalizes immediately.
type SufficiencyPolicy interface {
	Sufficient(ctx context.Context, question string, evidence []Fragment) (bool, error)
}

// SufficiencyFunc adapts a function to SufficiencyPolicy.
type SufficiencyFunc func(ctx context.Context, question string, evidence []Fragment) (bool, error)

// Sufficient implements SufficiencyPolicy.
func (f SufficiencyFunc) Sufficient(ctx context.Context, question string, evidence []Fragment) (bool, error) {
	return f(ctx, question, evidence)
}

// MinEvidence is sufficient once at least n fragments were gathered.
func MinEvidence(n int) SufficiencyPolicy {
	return SufficiencyFunc(func(_ context.Context, _ string, evidence []Fragment) (bool, error) {
		return n > 0 && len(evidence) >= n, nil
	})
}

// LLMSufficiency asks the generation service whether the evidence suffices.
func LLMSufficiency(s *Synthesizer) SufficiencyPolicy {
	return SufficiencyFunc(s.JudgeSufficiency)
}

// llmReplanner combines an optional sufficiency policy with the revise prompt.
type llmReplanner struct {
	synth  *Synthesizer
	policy SufficiencyPolicy
}

// NewLLMReplanner returns the default Replanner. policy may be nil.
func NewLLMReplanner(s *Synthesizer, policy SufficiencyPolicy) Replanner {
	return &llmReplanner{synth: s, policy: policy}
}

func (r *llmReplanner) Replan(ctx context.Context, review Review) (*Decision, error) {
	if !review.Forced && r.policy != nil && len(review.Evidence) > 0 {
		ok, err := r.policy.Sufficient(ctx, review.Question, review.Evidence)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Decision{Action: ActionFinalize, Explanation: "evidence judged sufficient"}, nil
		}
	}

	d, err := r.synth.ProposeRevision(ctx, review)
	if err != nil {
		return nil, err
	}
	if !review.Forced {
		return d, nil
	}
	// A forced review must not finalize on the rejected evidence.
	switch d.Action {
	case ActionContinue:
		return &Decision{Action: ActionRevise, Steps: review.Remaining, Explanation: d.Explanation}, nil
	case ActionFinalize:
		return &Decision{Action: ActionRevise, Explanation: d.Explanation}, nil
	}
	return d, nil
}
