package replan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/bookqa/graph"
	"github.com/sweetpotato0/bookqa/knowledge"
	"github.com/sweetpotato0/bookqa/llm"
	"github.com/sweetpotato0/bookqa/pkg/logging"
	"github.com/sweetpotato0/bookqa/pkg/telemetry"
	"github.com/sweetpotato0/bookqa/rag/reranker"
	"github.com/sweetpotato0/bookqa/rag/tokenizer"
	"github.com/sweetpotato0/bookqa/vector"
)

const stateKey = "__replan_state"

const (
	routeDispatch = "dispatch"
	routeFinalize = "finalize"
	routeDone     = "done"
	routeEvaluate = "evaluate"
)

// ErrEmptyQuestion is returned by Answer for a blank question.
var ErrEmptyQuestion = errors.New("replan: question cannot be empty")

// Answerer is the caller-facing surface of the controller.
type Answerer interface {
	Answer(ctx context.Context, question string) (*Result, error)
}

// Dependencies are the collaborators injected into a Controller. Either
// Retrieval or both Embedder and Store must be set.
type Dependencies struct {
	Clients  Clients
	Embedder vector.Embedder
	Store    knowledge.Store
	Reranker reranker.Reranker
	// Retrieval replaces the embedder and store based adapter.
	Retrieval Retrieval
	// Classifier defaults to the rule classifier backed by the generation service.
	Classifier Classifier
	// Replanner defaults to the revise prompt guarded by Sufficiency.
	Replanner   Replanner
	Sufficiency SufficiencyPolicy
	Tokenizer   tokenizer.Tokenizer
	Logger      *slog.Logger
}

// Controller runs the plan-execute-replan state machine. It holds no
// per-request state, so one Controller may serve concurrent requests.
type Controller struct {
	cfg        *Config
	synth      *Synthesizer
	planner    *Planner
	classifier Classifier
	retrieval  Retrieval
	replanner  Replanner
	graph      *graph.Graph
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New wires a Controller from deps and options.
func New(deps Dependencies, opts ...Option) (*Controller, error) {
	cfg := applyOptions(nil, opts)

	for _, p := range []llm.Purpose{llm.PurposePlan, llm.PurposeAnswer, llm.PurposeGrounding} {
		if deps.Clients.pick(p) == nil {
			return nil, fmt.Errorf("replan: no generation client for %s", p)
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.WithComponent("replan")
	}
	logger = logger.With("controller", cfg.Name)

	tok := deps.Tokenizer
	if tok == nil && cfg.MaxFragmentTokens > 0 {
		tok = tokenizer.NewWordTokenizer()
	}
	gen := &generator{clients: deps.Clients, logger: logger}
	synth := newSynthesizer(gen, cfg, evidenceFormatter{tok: tok, maxTokens: cfg.MaxFragmentTokens})

	retrieval := deps.Retrieval
	if retrieval == nil {
		if deps.Embedder == nil || deps.Store == nil {
			return nil, errors.New("replan: retrieval requires an embedder and a knowledge store")
		}
		retrieval = NewStoreRetrieval(deps.Embedder, deps.Store, cfg.TopK, cfg.Overfetch, cfg.MinScore,
			WithRetrievalReranker(deps.Reranker), WithRetrievalLogger(logger))
	}

	classifier := deps.Classifier
	if classifier == nil {
		hasLLM := deps.Clients.pick(llm.PurposeClassify) != nil
		llmClassifier := &LLMClassifier{gen: gen, prompt: cfg.Prompts.Classify}
		switch {
		case cfg.ClassifierMode == "llm" && hasLLM:
			classifier = llmClassifier
		case cfg.ClassifierMode == "rules" || !hasLLM:
			classifier = ChainClassifier{RuleClassifier{}}
		default:
			classifier = ChainClassifier{RuleClassifier{}, llmClassifier}
		}
	}

	replanner := deps.Replanner
	if replanner == nil {
		policy := deps.Sufficiency
		if policy == nil && cfg.JudgeSufficiency {
			policy = LLMSufficiency(synth)
		}
		replanner = NewLLMReplanner(synth, policy)
	}

	c := &Controller{
		cfg:        cfg,
		synth:      synth,
		planner:    &Planner{synth: synth, refine: cfg.RefinePlan, logger: logger},
		classifier: classifier,
		retrieval:  retrieval,
		replanner:  replanner,
		tracer:     telemetry.Tracer("github.com/sweetpotato0/bookqa/rag/replan"),
		logger:     logger,
	}

	g, err := graph.NewBuilder().
		AddNode("planning", graph.NodeTypeStart, c.planNode).
		AddNode("dispatch", graph.NodeTypeCustom, c.dispatchNode).
		AddNode("executing", graph.NodeTypeTool, c.executeNode).
		AddNode("evaluating", graph.NodeTypeLLM, c.evaluateNode).
		AddConditionNode("evaluate_route", routeOf, map[string]string{
			routeDispatch: "dispatch",
			routeFinalize: "finalizing",
		}).
		AddNode("finalizing", graph.NodeTypeLLM, c.finalizeNode).
		AddNode("validating", graph.NodeTypeLLM, c.validateNode).
		AddConditionNode("validate_route", routeOf, map[string]string{
			routeDone:     "done",
			routeEvaluate: "evaluating",
		}).
		AddNode("done", graph.NodeTypeEnd, c.doneNode).
		AddEdge("planning", "dispatch").
		AddEdge("dispatch", "executing").
		AddEdge("executing", "evaluating").
		AddEdge("evaluating", "evaluate_route").
		AddEdge("finalizing", "validating").
		AddEdge("validating", "validate_route").
		SetStart("planning").
		SetEnd("done").
		// Every evaluation either spends budget or finalizes, so no node can
		// be entered more than RetryBudget+1 times.
		SetMaxVisits(cfg.RetryBudget + 2).
		OnTransition(func(_ context.Context, from, to string) {
			logger.Debug("transition", "from", from, "to", to)
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("replan: build state machine: %w", err)
	}
	c.graph = g

	logger.Info("controller initialised",
		"retry_budget", cfg.RetryBudget,
		"max_plan_steps", cfg.MaxPlanSteps,
		"top_k", cfg.TopK,
		"refine_plan", cfg.RefinePlan,
	)
	return c, nil
}

// Config returns a copy of the effective configuration.
func (c *Controller) Config() Config { return *c.cfg }

// Answer runs one question to DONE or FAILED. On failure the error is an
// *Error carrying its kind and the phase it occurred in, and the partial
// Result is returned alongside it. A cancelled request returns no Result.
func (c *Controller) Answer(ctx context.Context, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	st := newRunState(uuid.NewString(), question, c.cfg.RetryBudget)
	st.logger = c.logger.With("request_id", st.requestID)

	ctx, span := c.tracer.Start(ctx, "replan.answer", trace.WithAttributes(
		attribute.String("bookqa.request_id", st.requestID),
		attribute.Int("bookqa.retry_budget", c.cfg.RetryBudget),
	))
	started := time.Now()
	st.logger.Info("answer started", "question", trimForLog(question, 120))

	_, err := c.graph.Execute(ctx, graph.State{stateKey: st})
	if err != nil {
		err = c.normalize(ctx, st, err)
		_ = st.enter(PhaseFailed)
	}
	telemetry.End(span, err)

	if err != nil {
		st.logger.Error("answer failed",
			"kind", KindOf(err),
			"phase", st.phase,
			"evaluations", st.evaluations,
			"duration", time.Since(started),
			"error", err,
		)
		if KindOf(err) == KindCancelled {
			return nil, err
		}
		return st.result(), err
	}

	res := st.result()
	st.logger.Info("answer completed",
		"grounded", res.Grounded,
		"steps", len(res.PastSteps),
		"evidence", len(res.Evidence),
		"evaluations", res.Evaluations,
		"attempts", res.Attempts,
		"budget_remaining", res.BudgetRemaining,
		"budget_exhausted", res.BudgetExhausted,
		"duration", time.Since(started),
	)
	return res, nil
}

func (c *Controller) normalize(ctx context.Context, st *runState, err error) error {
	if ctx.Err() != nil {
		return &Error{Kind: KindCancelled, Phase: st.phase, Err: context.Cause(ctx)}
	}
	var e *Error
	if errors.As(err, &e) {
		out := &Error{Kind: e.Kind, Phase: e.Phase, Err: e.Err}
		if out.Phase == "" {
			out.Phase = st.phase
		}
		return out
	}
	return &Error{Kind: KindInternal, Phase: st.phase, Err: err}
}

func getState(state graph.State) (*runState, error) {
	st, ok := state[stateKey].(*runState)
	if !ok || st == nil {
		return nil, errorf(KindInternal, "controller state missing")
	}
	return st, nil
}

func routeOf(_ context.Context, state graph.State) (string, error) {
	st, err := getState(state)
	if err != nil {
		return "", err
	}
	route := st.route
	st.route = ""
	return route, nil
}

// begin enters phase p and opens its span.
func (c *Controller) begin(ctx context.Context, st *runState, p Phase) (context.Context, trace.Span, error) {
	if err := st.enter(p); err != nil {
		return ctx, nil, err
	}
	ctx, span := c.tracer.Start(ctx, "replan."+strings.ToLower(string(p)), trace.WithAttributes(
		attribute.String("bookqa.request_id", st.requestID),
		attribute.Int("bookqa.budget_remaining", st.budget.Remaining()),
	))
	return ctx, span, nil
}

func (c *Controller) planNode(ctx context.Context, state graph.State) (_ graph.State, err error) {
	st, err := getState(state)
	if err != nil {
		return state, err
	}
	ctx, span, err := c.begin(ctx, st, PhasePlanning)
	if err != nil {
		return state, err
	}
	defer func() { telemetry.End(span, err) }()

	steps, err := retryCall(ctx, c, st, KindSynthesisUnavailable, func(ctx context.Context) ([]string, error) {
		return c.planner.Propose(ctx, st.question)
	})
	if err != nil {
		return state, err
	}
	st.plan = NewPlan(steps)
	if st.plan.Empty() {
		return state, errorf(KindPlanGeneration, "planner produced no steps")
	}
	st.logger.Info("plan generated", "steps", st.plan.Len())
	return state, nil
}

func (c *Controller) dispatchNode(ctx context.Context, state graph.State) (_ graph.State, err error) {
	st, err := getState(state)
	if err != nil {
		return state, err
	}
	ctx, span, err := c.begin(ctx, st, PhaseDispatch)
	if err != nil {
		return state, err
	}
	defer func() { telemetry.End(span, err) }()

	step, ok := st.plan.Pop()
	if !ok {
		return state, errorf(KindInternal, "dispatch reached with an empty plan")
	}
	st.current = step

	in := ClassifyInput{
		Question:       st.question,
		Step:           step.Text,
		Evidence:       st.evidence.Fragments(),
		PastSteps:      append([]PastStep(nil), st.past...),
		LastCapability: st.lastCapability,
	}
	cls, err := retryCall(ctx, c, st, KindSynthesisUnavailable, func(ctx context.Context) (Classification, error) {
		out, err := c.classifier.Classify(ctx, in)
		if err == nil && out.Capability == CapabilityUnknown {
			err = errorf(KindClassificationAmbiguous, "classifier returned no capability")
		}
		return out, err
	})
	if err != nil {
		if KindOf(err) != KindClassificationAmbiguous || st.evidence.Empty() {
			return state, err
		}
		st.logger.Warn("classification ambiguous, answering from context", "step", trimForLog(step.Text, 80), "error", err)
		cls = Classification{Capability: CapabilitySynthesis}
		err = nil
	}
	if strings.TrimSpace(cls.Query) == "" {
		cls.Query = step.Text
	}
	st.classification = cls
	st.logger.Debug("step dispatched", "step_id", step.ID, "capability", cls.Capability, "query", trimForLog(cls.Query, 80))
	return state, nil
}

func (c *Controller) executeNode(ctx context.Context, state graph.State) (_ graph.State, err error) {
	st, err := getState(state)
	if err != nil {
		return state, err
	}
	ctx, span, err := c.begin(ctx, st, PhaseExecuting)
	if err != nil {
		return state, err
	}
	defer func() { telemetry.End(span, err) }()

	step, cls := st.current, st.classification
	if step == nil {
		return state, errorf(KindInternal, "no dispatched step to execute")
	}
	span.SetAttributes(attribute.String("bookqa.capability", cls.Capability.String()))
	past := PastStep{StepID: step.ID, Step: step.Text, Capability: cls.Capability, Query: cls.Query}

	switch {
	case cls.Capability.IsRetrieval():
		frags, err := retryCall(ctx, c, st, KindRetrievalUnavailable, func(ctx context.Context) ([]Fragment, error) {
			return c.retrieval.Retrieve(ctx, cls.Capability, cls.Query)
		})
		if err != nil {
			return state, err
		}
		texts := make([]string, 0, len(frags))
		for i := range frags {
			frags[i].StepID = step.ID
			frags[i].Capability = cls.Capability
			if frags[i].Query == "" {
				frags[i].Query = cls.Query
			}
			texts = append(texts, strings.TrimSpace(frags[i].Text))
		}
		st.evidence.Append(frags...)
		past.Fragments = len(frags)
		past.Output = strings.Join(texts, "\n")
		if len(frags) == 0 {
			st.logger.Info("retrieval returned nothing", "step_id", step.ID, "capability", cls.Capability)
		}
	case cls.Capability == CapabilitySynthesis:
		if st.evidence.Empty() {
			past.Output = c.cfg.NoAnswerMessage
			break
		}
		evidence := st.evidence.Fragments()
		out, err := retryCall(ctx, c, st, KindSynthesisUnavailable, func(ctx context.Context) (string, error) {
			return c.synth.AnswerStep(ctx, st.question, cls.Query, evidence)
		})
		if err != nil {
			return state, err
		}
		past.Output = out
	default:
		return state, errorf(KindInternal, "cannot execute capability %s", cls.Capability)
	}

	st.past = append(st.past, past)
	st.lastCapability = cls.Capability
	st.plan.Complete(step)
	st.current = nil
	st.logger.Debug("step executed", "step_id", step.ID, "fragments", past.Fragments, "evidence", st.evidence.Len())
	return state, nil
}

func (c *Controller) evaluateNode(ctx context.Context, state graph.State) (_ graph.State, err error) {
	st, err := getState(state)
	if err != nil {
		return state, err
	}
	ctx, span, err := c.begin(ctx, st, PhaseEvaluating)
	if err != nil {
		return state, err
	}
	defer func() { telemetry.End(span, err) }()
	st.evaluations++

	forced := st.forceRevision
	review := Review{
		Question:       st.question,
		Remaining:      st.plan.Remaining(),
		PastSteps:      append([]PastStep(nil), st.past...),
		Evidence:       st.evidence.Fragments(),
		Forced:         forced,
		RejectedAnswer: st.rejected,
	}
	st.forceRevision, st.rejected = false, ""

	// A forced review was already paid for by the failed validation.
	if !forced && !st.budget.Consume() {
		st.exhausted = true
		st.route = routeFinalize
		st.logger.Warn("retry budget exhausted, finalizing with gathered evidence",
			"kind", KindRetryBudgetExhausted, "evidence", st.evidence.Len())
		return state, nil
	}
	review.BudgetRemaining = st.budget.Remaining()

	decision, err := retryCall(ctx, c, st, KindSynthesisUnavailable, func(ctx context.Context) (*Decision, error) {
		return c.replanner.Replan(ctx, review)
	})
	if err != nil {
		return state, err
	}
	if decision == nil {
		decision = &Decision{Action: ActionContinue}
	}

	switch decision.Action {
	case ActionFinalize:
		if forced {
			st.plan.Replace(nil)
		}
		st.route = routeFinalize
	case ActionRevise:
		st.plan.Replace(cleanSteps(decision.Steps, c.cfg.MaxPlanSteps))
		st.route = routeDispatch
	default:
		st.route = routeDispatch
	}
	// An empty remaining plan means the evidence is treated as sufficient.
	if st.route == routeDispatch && st.plan.Empty() {
		st.route = routeFinalize
	}
	span.SetAttributes(attribute.String("bookqa.action", string(decision.Action)))
	st.logger.Info("replan decision",
		"action", decision.Action,
		"forced", forced,
		"remaining", st.plan.Len(),
		"budget_remaining", st.budget.Remaining(),
		"explanation", trimForLog(decision.Explanation, 160),
	)
	return state, nil
}

func (c *Controller) finalizeNode(ctx context.Context, state graph.State) (_ graph.State, err error) {
	st, err := getState(state)
	if err != nil {
		return state, err
	}
	ctx, span, err := c.begin(ctx, st, PhaseFinalizing)
	if err != nil {
		return state, err
	}
	defer func() { telemetry.End(span, err) }()
	st.attempts++

	if st.evidence.Empty() {
		st.answer = c.cfg.NoAnswerMessage
		st.logger.Warn("no evidence gathered, returning fallback answer")
		return state, nil
	}
	evidence := st.evidence.Fragments()
	past := append([]PastStep(nil), st.past...)
	answer, err := retryCall(ctx, c, st, KindSynthesisUnavailable, func(ctx context.Context) (string, error) {
		return c.synth.SynthesizeAnswer(ctx, st.question, evidence, past)
	})
	if err != nil {
		return state, err
	}
	st.answer = answer
	st.logger.Debug("answer synthesized", "attempt", st.attempts, "chars", len(answer))
	return state, nil
}

func (c *Controller) validateNode(ctx context.Context, state graph.State) (_ graph.State, err error) {
	st, err := getState(state)
	if err != nil {
		return state, err
	}
	ctx, span, err := c.begin(ctx, st, PhaseValidating)
	if err != nil {
		return state, err
	}
	defer func() { telemetry.End(span, err) }()

	evidence := st.evidence.Fragments()
	grounded, err := retryCall(ctx, c, st, KindSynthesisUnavailable, func(ctx context.Context) (bool, error) {
		return c.synth.ValidateGrounded(ctx, st.question, st.answer, evidence)
	})
	if err != nil {
		return state, err
	}
	st.grounded = grounded
	span.SetAttributes(attribute.Bool("bookqa.grounded", grounded))

	switch {
	case grounded:
		st.route = routeDone
	case st.budget.Consume():
		st.forceRevision = true
		st.rejected = st.answer
		st.route = routeEvaluate
		st.logger.Info("answer not grounded, gathering more evidence", "budget_remaining", st.budget.Remaining())
	default:
		st.exhausted = true
		st.route = routeDone
		st.logger.Warn("answer not grounded and retry budget exhausted", "kind", KindRetryBudgetExhausted)
	}
	return state, nil
}

func (c *Controller) doneNode(_ context.Context, state graph.State) (graph.State, error) {
	st, err := getState(state)
	if err != nil {
		return state, err
	}
	return state, st.enter(PhaseDone)
}

// retryCall runs op under a per-call timeout and retries transient failures
// with exponential backoff. Errors without a kind are tagged with kind.
func retryCall[T any](ctx context.Context, c *Controller, st *runState, kind ErrorKind, op func(context.Context) (T, error)) (T, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.RetryBackoff
	attempt := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.AdapterTimeout)
		defer cancel()
		out, err := op(callCtx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return out, backoff.Permanent(newError(KindCancelled, ctx.Err()))
		}
		if KindOf(err) == "" {
			err = newError(kind, err)
		}
		if !Transient(KindOf(err)) {
			return out, backoff.Permanent(err)
		}
		st.logger.Warn("adapter call failed", "phase", st.phase, "kind", KindOf(err), "attempt", attempt, "error", err)
		return out, err
	}, backoff.WithBackOff(exp), backoff.WithMaxTries(uint(c.cfg.AdapterRetries+1)))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return out, err
}
