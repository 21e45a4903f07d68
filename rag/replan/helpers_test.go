package replan

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sweetpotato0/bookqa/llm"
	"github.com/sweetpotato0/bookqa/message"
)

// scriptedLLM replies per purpose from a queue; the last reply repeats.
type scriptedLLM struct {
	mu      sync.Mutex
	replies map[llm.Purpose][]string
	errs    map[llm.Purpose][]error
	calls   map[llm.Purpose]int
	inputs  map[llm.Purpose][]string
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		replies: make(map[llm.Purpose][]string),
		errs:    make(map[llm.Purpose][]error),
		calls:   make(map[llm.Purpose]int),
		inputs:  make(map[llm.Purpose][]string),
	}
}

func (s *scriptedLLM) on(p llm.Purpose, replies ...string) *scriptedLLM {
	s.replies[p] = append(s.replies[p], replies...)
	return s
}

func (s *scriptedLLM) failFirst(p llm.Purpose, errs ...error) *scriptedLLM {
	s.errs[p] = append(s.errs[p], errs...)
	return s
}

func (s *scriptedLLM) count(p llm.Purpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[p]
}

func (s *scriptedLLM) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := req.Purpose
	s.calls[p]++
	_, rest := message.Split(req.Messages)
	var user []string
	for _, m := range rest {
		user = append(user, m.Text())
	}
	s.inputs[p] = append(s.inputs[p], strings.Join(user, "\n"))

	if errs := s.errs[p]; len(errs) > 0 {
		s.errs[p] = errs[1:]
		return nil, errs[0]
	}
	replies := s.replies[p]
	if len(replies) == 0 {
		return nil, fmt.Errorf("unexpected %s call", p)
	}
	reply := replies[0]
	if len(replies) > 1 {
		s.replies[p] = replies[1:]
	}
	return &llm.GenerateResponse{Message: message.Assistant(reply), Model: "scripted"}, nil
}

type retrievalCall struct {
	capability Capability
	query      string
}

// recordingRetrieval answers retrieval calls through fn and records them.
type recordingRetrieval struct {
	mu    sync.Mutex
	calls []retrievalCall
	fn    func(call int, c Capability, query string) ([]Fragment, error)
}

func (r *recordingRetrieval) Retrieve(ctx context.Context, c Capability, query string) ([]Fragment, error) {
	r.mu.Lock()
	r.calls = append(r.calls, retrievalCall{capability: c, query: query})
	n := len(r.calls)
	r.mu.Unlock()
	if r.fn == nil {
		return nil, nil
	}
	return r.fn(n, c, query)
}

func (r *recordingRetrieval) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func fragments(texts ...string) []Fragment {
	out := make([]Fragment, len(texts))
	for i, t := range texts {
		out[i] = Fragment{Text: t, Score: 0.9, Provenance: map[string]any{"id": fmt.Sprintf("frag-%d", i)}}
	}
	return out
}

type keywordEmbedder struct{}

var keywordSpace = []string{"prague", "city", "setting", "narrator", "river", "quote"}

func (keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(keywordSpace))
	lower := strings.ToLower(text)
	for idx, kw := range keywordSpace {
		if strings.Contains(lower, kw) {
			vec[idx] = 1
		}
	}
	return vec, nil
}

func (k keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, _ := k.Embed(ctx, text)
		out[i] = vec
	}
	return out, nil
}

func (keywordEmbedder) Dimension() int { return len(keywordSpace) }
