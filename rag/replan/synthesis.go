package replan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sweetpotato0/bookqa/llm"
	"github.com/sweetpotato0/bookqa/message"
)

// Clients assigns generation clients to roles. Unset roles use Default.
type Clients struct {
	Default    llm.Client
	Planner    llm.Client // plan, break_down, revise
	Classifier llm.Client // classify
	Writer     llm.Client // step answers and final answers
	Judge      llm.Client // sufficiency and grounding
}

func (c Clients) pick(p llm.Purpose) llm.Client {
	var primary llm.Client
	switch p {
	case llm.PurposePlan, llm.PurposeBreakDown, llm.PurposeRevise:
		primary = c.Planner
	case llm.PurposeClassify:
		primary = c.Classifier
	case llm.PurposeStepAnswer, llm.PurposeAnswer:
		primary = c.Writer
	case llm.PurposeSufficiency, llm.PurposeGrounding:
		primary = c.Judge
	}
	if primary != nil {
		return primary
	}
	return c.Default
}

// generator issues one generation call per purpose.
type generator struct {
	clients Clients
	logger  *slog.Logger
}

// generate returns the trimmed reply. Upstream failures are
// SynthesisUnavailable; an empty reply is returned as "" for the caller to judge.
func (g *generator) generate(ctx context.Context, purpose llm.Purpose, system, user string) (string, error) {
	client := g.clients.pick(purpose)
	if client == nil {
		return "", errorf(KindSynthesisUnavailable, "no generation client for %s", purpose)
	}
	resp, err := client.Generate(ctx, &llm.GenerateRequest{
		Purpose:  purpose,
		Messages: []*message.Message{message.System(system), message.User(user)},
	})
	if err != nil {
		return "", newError(KindSynthesisUnavailable, fmt.Errorf("%s generation: %w", purpose, err))
	}
	text := resp.Text()
	g.logger.Debug("generation completed", "purpose", purpose, "reply_chars", len(text))
	return text, nil
}

// Synthesizer wraps the generation service behind fixed-purpose calls.
type Synthesizer struct {
	gen      *generator
	prompts  Prompts
	maxSteps int
	preview  int
	format   evidenceFormatter
}

func newSynthesizer(gen *generator, cfg *Config, format evidenceFormatter) *Synthesizer {
	return &Synthesizer{
		gen:      gen,
		prompts:  cfg.Prompts,
		maxSteps: cfg.MaxPlanSteps,
		preview:  cfg.PastStepPreview,
		format:   format,
	}
}

// stepList decodes a JSON array of steps given either as strings or as
// objects carrying the text under a common key.
type stepList []string

func (s *stepList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			out = append(out, text)
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("step is neither string nor object: %s", item)
		}
		for _, key := range []string{"step", "text", "description", "goal", "task"} {
			if v, ok := obj[key].(string); ok && v != "" {
				text = v
				break
			}
		}
		out = append(out, text)
	}
	*s = out
	return nil
}

func cleanSteps(steps []string, max int) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// flexBool accepts JSON booleans as well as "true"/"yes" strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.ToLower(strings.TrimSpace(s))
	parsed, err := strconv.ParseBool(s)
	if err != nil {
		parsed = s == "yes" || s == "y"
	}
	*b = flexBool(parsed)
	return nil
}

type planReply struct {
	Steps stepList `json:"steps"`
}

// ProposePlan asks for the initial plan. Empty or unparseable output is a
// PlanGenerationError.
func (s *Synthesizer) ProposePlan(ctx context.Context, question string) ([]string, error) {
	system := strings.ReplaceAll(s.prompts.Plan, "{{max_steps}}", strconv.Itoa(s.maxSteps))
	raw, err := s.gen.generate(ctx, llm.PurposePlan, system, fmt.Sprintf("Question: %s\nReturn JSON only.", question))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errorf(KindPlanGeneration, "planner returned empty output")
	}
	reply, err := decodeJSON[planReply](raw)
	if err != nil {
		return nil, newError(KindPlanGeneration, fmt.Errorf("planner output invalid: %w", err))
	}
	steps := cleanSteps(reply.Steps, s.maxSteps)
	if len(steps) == 0 {
		return nil, errorf(KindPlanGeneration, "planner produced no steps")
	}
	return steps, nil
}

// BreakDown rewrites coarse steps into executable ones, keeping their order.
func (s *Synthesizer) BreakDown(ctx context.Context, question string, steps []string) ([]string, error) {
	user := fmt.Sprintf("Question: %s\n\nPlan:\n%s\nReturn JSON only.", question, formatSteps(steps))
	raw, err := s.gen.generate(ctx, llm.PurposeBreakDown, s.prompts.BreakDown, user)
	if err != nil {
		return nil, err
	}
	reply, err := decodeJSON[planReply](raw)
	if err != nil {
		return nil, newError(KindPlanGeneration, fmt.Errorf("break-down output invalid: %w", err))
	}
	out := cleanSteps(reply.Steps, 2*s.maxSteps)
	if len(out) == 0 {
		return nil, errorf(KindPlanGeneration, "break-down produced no steps")
	}
	return out, nil
}

type revisionReply struct {
	Action string   `json:"action"`
	Steps  stepList `json:"steps"`
	Plan   *struct {
		Steps stepList `json:"steps"`
	} `json:"plan"`
	Explanation string `json:"explanation"`
}

// ProposeRevision asks what to do after a step. Output that cannot be parsed
// is read as "continue with the remaining plan".
func (s *Synthesizer) ProposeRevision(ctx context.Context, r Review) (*Decision, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nRemaining plan:\n%s\nExecuted steps:\n%s\nGathered context:\n%s\n",
		r.Question, formatSteps(r.Remaining), formatPastSteps(r.PastSteps, s.preview), s.format.format(r.Evidence))
	fmt.Fprintf(&b, "Replanning budget left: %d\n", r.BudgetRemaining)
	if r.Forced {
		fmt.Fprintf(&b, "\nThe previous answer was rejected because it is not grounded in the context:\n%s\nReturn \"revise\" with steps that gather the missing evidence.\n", r.RejectedAnswer)
	}
	b.WriteString("Return JSON only.")

	raw, err := s.gen.generate(ctx, llm.PurposeRevise, s.prompts.Revise, b.String())
	if err != nil {
		return nil, err
	}
	reply, err := decodeJSON[revisionReply](raw)
	if err != nil {
		s.gen.logger.Warn("revision output invalid, continuing with remaining plan", "error", err)
		return &Decision{Action: ActionContinue, Explanation: "unparseable revision"}, nil
	}

	steps := []string(reply.Steps)
	if len(steps) == 0 && reply.Plan != nil {
		steps = reply.Plan.Steps
	}
	steps = cleanSteps(steps, s.maxSteps)

	d := &Decision{Steps: steps, Explanation: strings.TrimSpace(reply.Explanation)}
	switch Action(strings.ToLower(strings.TrimSpace(reply.Action))) {
	case ActionFinalize:
		d.Action = ActionFinalize
	case ActionContinue:
		d.Action = ActionContinue
	case ActionRevise:
		d.Action = ActionRevise
	default:
		if reply.Plan != nil || len(steps) > 0 {
			d.Action = ActionRevise
		} else {
			d.Action = ActionContinue
		}
	}
	return d, nil
}

type sufficiencyReply struct {
	CanBeAnswered flexBool `json:"can_be_answered"`
}

// JudgeSufficiency asks whether the gathered context can answer the question.
// Empty evidence is never sufficient; unparseable output counts as "no".
func (s *Synthesizer) JudgeSufficiency(ctx context.Context, question string, evidence []Fragment) (bool, error) {
	if len(evidence) == 0 {
		return false, nil
	}
	user := fmt.Sprintf("Question: %s\n\nContext:\n%s\nReturn JSON only.", question, s.format.format(evidence))
	raw, err := s.gen.generate(ctx, llm.PurposeSufficiency, s.prompts.Sufficiency, user)
	if err != nil {
		return false, err
	}
	reply, err := decodeJSON[sufficiencyReply](raw)
	if err != nil {
		return false, nil
	}
	return bool(reply.CanBeAnswered), nil
}

type stepAnswerReply struct {
	Answer string `json:"answer_based_on_content"`
}

// AnswerStep answers one sub-question from the gathered context.
func (s *Synthesizer) AnswerStep(ctx context.Context, question, query string, evidence []Fragment) (string, error) {
	user := fmt.Sprintf("Context:\n%s\nOverall question: %s\nSub-question: %s\nReturn JSON only.", s.format.format(evidence), question, query)
	raw, err := s.gen.generate(ctx, llm.PurposeStepAnswer, s.prompts.StepAnswer, user)
	if err != nil {
		return "", err
	}
	text := raw
	if reply, err := decodeJSON[stepAnswerReply](raw); err == nil && strings.TrimSpace(reply.Answer) != "" {
		text = reply.Answer
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errorf(KindSynthesisUnavailable, "step answer generation returned empty output")
	}
	return text, nil
}

type finalAnswerReply struct {
	FinalAnswer string `json:"final_answer"`
}

// SynthesizeAnswer produces the answer text from the evidence and the log of
// executed steps. Replies that are not JSON are used verbatim.
func (s *Synthesizer) SynthesizeAnswer(ctx context.Context, question string, evidence []Fragment, past []PastStep) (string, error) {
	user := fmt.Sprintf("Question: %s\n\nGathered context:\n%s\nExecuted steps:\n%s\nReturn JSON only.",
		question, s.format.format(evidence), formatPastSteps(past, s.preview))
	raw, err := s.gen.generate(ctx, llm.PurposeAnswer, s.prompts.Answer, user)
	if err != nil {
		return "", err
	}
	text := raw
	if reply, err := decodeJSON[finalAnswerReply](raw); err == nil && strings.TrimSpace(reply.FinalAnswer) != "" {
		text = reply.FinalAnswer
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errorf(KindSynthesisUnavailable, "answer generation returned empty output")
	}
	return text, nil
}

type groundingReply struct {
	Grounded *flexBool `json:"grounded_on_facts"`
}

// ValidateGrounded judges whether answer is supported by evidence. It returns
// false without calling the service when evidence is empty, and false when the
// verdict cannot be parsed.
func (s *Synthesizer) ValidateGrounded(ctx context.Context, question, answer string, evidence []Fragment) (bool, error) {
	if len(evidence) == 0 || strings.TrimSpace(answer) == "" {
		return false, nil
	}
	user := fmt.Sprintf("Question: %s\n\nContext:\n%s\nAnswer: %s\nReturn JSON only.", question, s.format.format(evidence), answer)
	raw, err := s.gen.generate(ctx, llm.PurposeGrounding, s.prompts.Grounding, user)
	if err != nil {
		return false, err
	}
	reply, err := decodeJSON[groundingReply](raw)
	if err != nil || reply.Grounded == nil {
		s.gen.logger.Warn("grounding verdict unparseable, treating as ungrounded", "reply", trimForLog(raw, 120))
		return false, nil
	}
	return bool(*reply.Grounded), nil
}
