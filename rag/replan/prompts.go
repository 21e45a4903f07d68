package replan

import "strings"

// Prompts holds the system prompt of every generation purpose. Templates may
// reference {{max_steps}}; everything else is sent in the user message.
type Prompts struct {
	Plan        string
	BreakDown   string
	Classify    string
	Revise      string
	Sufficiency string
	StepAnswer  string
	Answer      string
	Grounding   string
}

func (p *Prompts) merge(o Prompts) {
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&p.Plan, o.Plan)
	set(&p.BreakDown, o.BreakDown)
	set(&p.Classify, o.Classify)
	set(&p.Revise, o.Revise)
	set(&p.Sufficiency, o.Sufficiency)
	set(&p.StepAnswer, o.StepAnswer)
	set(&p.Answer, o.Answer)
	set(&p.Grounding, o.Grounding)
}

func defaultPrompts() Prompts {
	return Prompts{
		Plan: `You plan research over a single book. Write a short sequential plan of at most {{max_steps}} steps that gathers what is needed to answer the user question.
Rules:
- Each step is one self-contained instruction.
- Only include steps that are necessary; the last step produces the answer.
Reply with JSON only: {"steps":["first step","second step"]}. Every step is a plain string, never an object.`,
		BreakDown: `You refine a research plan so that every step is directly executable with exactly one of these capabilities:
1. retrieve passages from the book chunks collection
2. retrieve quotations from the quotes collection
3. answer from the context gathered so far
Split coarse steps into several executable ones where needed. Keep the original order and do not add unrelated steps.
Reply with JSON only: {"steps":["Retrieve passages about X from the book chunks","Retrieve quotations about Y","Answer Z from the gathered context"]}.`,
		Classify: `You route one plan step to a capability.
Capabilities:
- "retrieve_structured": search the book's passages and chapters
- "retrieve_quotation": search verbatim quotations from the book
- "synthesize_from_context": answer using only the context already gathered
Prefer a different retrieval capability than the last one used when the last retrieval returned nothing.
Write "query" as concise search text for retrieval, or as the sub-question to answer for synthesis.
Reply with JSON only: {"capability":"retrieve_structured","query":"..."}.`,
		Revise: `You supervise a research loop over a book. Given the question, the remaining plan, the steps already executed and the gathered context, choose what happens next:
- "finalize": the gathered context is enough to answer the question.
- "continue": keep executing the remaining plan unchanged.
- "revise": replace the remaining plan with new steps (never repeat completed steps; avoid queries that already returned no results).
When told that a previous answer was rejected as ungrounded, you must return "revise" with steps that gather the missing evidence.
Reply with JSON only: {"action":"finalize|continue|revise","steps":["..."],"explanation":"one sentence"}.`,
		Sufficiency: `Decide whether the question can be answered from the provided context. Answer true when the context holds relevant information that supports a reasonable answer, even if incomplete. Answer false when the context is empty or unrelated.
Reply with JSON only: {"can_be_answered":true,"explanation":"one sentence"}.`,
		StepAnswer: `Answer the sub-question using only the provided context. Reason step by step internally, then give a short answer. If the context does not contain the answer, say that there is not enough context.
Reply with JSON only: {"answer_based_on_content":"..."}.`,
		Answer: `You write the final answer to a question about a book. Use only the gathered context and the results of earlier steps; never add outside knowledge. Combine the supporting pieces into one complete, well-structured answer. Keep it as short as the question allows.
Reply with JSON only: {"final_answer":"..."}.`,
		Grounding: `Judge whether every factual claim in the answer is supported by the context. Claims absent from the context make the answer ungrounded.
Reply with JSON only: {"grounded_on_facts":true} or {"grounded_on_facts":false}.`,
	}
}
