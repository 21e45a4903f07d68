// Package llm defines the generation-service contract shared by every
// provider and by the question-answering core.
package llm

import (
	"context"
	"errors"

	"github.com/sweetpotato0/bookqa/message"
)

// Purpose names the prompt contract a generation call serves. Providers may
// ignore it; routers and logs use it.
type Purpose string

const (
	PurposePlan        Purpose = "plan"
	PurposeBreakDown   Purpose = "break_down"
	PurposeClassify    Purpose = "classify"
	PurposeRevise      Purpose = "revise"
	PurposeSufficiency Purpose = "sufficiency"
	PurposeStepAnswer  Purpose = "step_answer"
	PurposeAnswer      Purpose = "answer"
	PurposeGrounding   Purpose = "grounding"
)

// ErrEmptyResponse is returned when a provider replies without any content.
var ErrEmptyResponse = errors.New("llm: empty response")

// GenerateRequest bundles inputs for a single non-streaming generation call.
type GenerateRequest struct {
	Purpose  Purpose
	Messages []*message.Message
}

// GenerateResponse captures the reply of a generation call.
type GenerateResponse struct {
	Message *message.Message
	Model   string
}

// Text returns the reply content, or "" when absent.
func (r *GenerateResponse) Text() string {
	if r == nil {
		return ""
	}
	return r.Message.Text()
}

// Client is the uniform text-in, text-out generation contract.
type Client interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

// Generate implements Client.
func (f ClientFunc) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}

// Router dispatches requests to a purpose-specific client, falling back to
// Default for purposes without an override.
type Router struct {
	Default  Client
	Override map[Purpose]Client
}

// Generate implements Client.
func (r *Router) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req != nil {
		if c, ok := r.Override[req.Purpose]; ok && c != nil {
			return c.Generate(ctx, req)
		}
	}
	if r.Default == nil {
		return nil, errors.New("llm: router has no default client")
	}
	return r.Default.Generate(ctx, req)
}
