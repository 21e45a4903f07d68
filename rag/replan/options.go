package replan

import (
	"strings"
	"time"
)

// Config controls a Controller. Build it with Options over defaultConfig.
type Config struct {
	Name              string        // Logical name for logs and traces
	MaxPlanSteps      int           // Upper bound for planner emitted steps
	RetryBudget       int           // Replan and regeneration cycles per request
	TopK              int           // Fragments kept per retrieval step
	Overfetch         int           // Candidate multiplier when a reranker is set
	MinScore          float32       // Retrieval hits below this score are dropped
	RefinePlan        bool          // Run the break-down pass after planning
	AdapterTimeout    time.Duration // Per-call deadline for retrieval and generation
	AdapterRetries    int           // Automatic retries for transient adapter failures
	RetryBackoff      time.Duration // Initial backoff between adapter retries
	MaxFragmentTokens int           // Per-fragment prompt budget; 0 disables truncation
	PastStepPreview   int           // Characters of each past step shown to the replanner
	NoAnswerMessage   string        // Answer used when no evidence was gathered
	ClassifierMode    string        // "chain", "rules" or "llm"
	JudgeSufficiency  bool          // Ask the generation service whether evidence suffices
	Prompts           Prompts
}

// Option customises the controller configuration.
type Option func(*Config)

// WithName sets the logical name used in logs.
func WithName(name string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(name) != "" {
			cfg.Name = name
		}
	}
}

// WithMaxPlanSteps caps the number of steps that the planner may emit.
func WithMaxPlanSteps(max int) Option {
	return func(cfg *Config) {
		if max > 0 {
			cfg.MaxPlanSteps = max
		}
	}
}

// WithRetryBudget sets how many replan and regeneration cycles a request may
// spend. Zero allows a single pass with no replanning.
func WithRetryBudget(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.RetryBudget = n
		}
	}
}

// WithTopK sets how many fragments each retrieval step keeps.
func WithTopK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopK = k
		}
	}
}

// WithOverfetch multiplies TopK when fetching candidates for reranking.
func WithOverfetch(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.Overfetch = n
		}
	}
}

// WithMinScore filters retrieval results below the provided score.
func WithMinScore(score float32) Option {
	return func(cfg *Config) {
		if score >= 0 {
			cfg.MinScore = score
		}
	}
}

// WithPlanRefinement toggles the break-down pass.
func WithPlanRefinement(enabled bool) Option {
	return func(cfg *Config) {
		cfg.RefinePlan = enabled
	}
}

// WithAdapterTimeout bounds every single retrieval or generation call.
func WithAdapterTimeout(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.AdapterTimeout = d
		}
	}
}

// WithAdapterRetries sets how often a transient adapter failure is retried.
func WithAdapterRetries(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.AdapterRetries = n
		}
	}
}

// WithRetryBackoff sets the initial backoff between adapter retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.RetryBackoff = d
		}
	}
}

// WithMaxFragmentTokens truncates each evidence fragment inside prompts.
func WithMaxFragmentTokens(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.MaxFragmentTokens = n
		}
	}
}

// WithNoAnswerMessage customises the answer given when nothing was found.
func WithNoAnswerMessage(message string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(message) != "" {
			cfg.NoAnswerMessage = message
		}
	}
}

// WithClassifierMode selects the default classifier: "rules" only, "llm"
// only, or "chain" (rules first, then the generation service).
func WithClassifierMode(mode string) Option {
	return func(cfg *Config) {
		switch mode {
		case "chain", "rules", "llm":
			cfg.ClassifierMode = mode
		}
	}
}

// WithLLMSufficiency installs the can-be-answered judgment as sufficiency
// policy when no explicit policy is injected.
func WithLLMSufficiency(enabled bool) Option {
	return func(cfg *Config) {
		cfg.JudgeSufficiency = enabled
	}
}

// WithPrompts overrides the non-empty prompts in p.
func WithPrompts(p Prompts) Option {
	return func(cfg *Config) {
		cfg.Prompts.merge(p)
	}
}

func defaultConfig() *Config {
	return &Config{
		Name:            "bookqa",
		MaxPlanSteps:    5,
		RetryBudget:     6,
		TopK:            5,
		Overfetch:       2,
		RefinePlan:      true,
		AdapterTimeout:  60 * time.Second,
		AdapterRetries:  1,
		RetryBackoff:    500 * time.Millisecond,
		PastStepPreview: 400,
		NoAnswerMessage: "I could not find anything in the book that answers this question.",
		ClassifierMode:  "chain",
		Prompts:         defaultPrompts(),
	}
}

func applyOptions(cfg *Config, opts []Option) *Config {
	if cfg == nil {
		cfg = defaultConfig()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}
