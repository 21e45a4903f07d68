// Package mcp exposes question answering as a Model Context Protocol tool
// server over stdio or streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/bookqa/pkg/logging"
	"github.com/sweetpotato0/bookqa/rag/replan"
	"github.com/sweetpotato0/bookqa/transcript"
)

// Version is the MCP server version.
const Version = "0.1.0"

// ErrMissingAnswerer is returned when a server is built without an Answerer.
var ErrMissingAnswerer = errors.New("mcp: answerer is required")

// Server is the bookqa MCP server.
type Server struct {
	answerer    replan.Answerer
	transcripts transcript.Store
	server      *sdkmcp.Server
	logger      *slog.Logger
}

// NewServer creates a server that answers through answerer. transcripts is
// optional; when set, a tool listing recent transcripts is registered too.
func NewServer(answerer replan.Answerer, transcripts transcript.Store) (*Server, error) {
	if answerer == nil {
		return nil, ErrMissingAnswerer
	}
	s := &Server{
		answerer:    answerer,
		transcripts: transcripts,
		server:      sdkmcp.NewServer(&sdkmcp.Implementation{Name: "bookqa", Version: Version}, nil),
		logger:      logging.WithComponent("mcp_server"),
	}
	s.registerTools()
	return s, nil
}

// SDK returns the underlying go-sdk server.
func (s *Server) SDK() *sdkmcp.Server { return s.server }

// Run starts the MCP server over stdio.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &sdkmcp.StdioTransport{})
}

// RunHTTP starts the MCP server over streamable HTTP on addr.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := sdkmcp.NewStreamableHTTPHandler(func(_ *http.Request) *sdkmcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	s.logger.Info("mcp http server listening", "addr", addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// AnswerInput is the input schema for the answer tool.
type AnswerInput struct {
	Question string `json:"question" jsonschema:"the question to answer about the book corpus"`
}

// AnswerOutput is the output schema for the answer tool.
type AnswerOutput struct {
	RequestID       string   `json:"request_id"`
	Response        string   `json:"response"`
	Grounded        bool     `json:"grounded"`
	Steps           []string `json:"steps,omitempty"`
	Evidence        int      `json:"evidence"`
	Evaluations     int      `json:"evaluations"`
	BudgetExhausted bool     `json:"budget_exhausted"`
}

// TranscriptsInput is the input schema for the transcripts tool.
type TranscriptsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of transcripts to return (default 10)"`
}

// TranscriptsOutput is the output schema for the transcripts tool.
type TranscriptsOutput struct {
	Transcripts []TranscriptSummary `json:"transcripts"`
	Count       int                 `json:"count"`
}

// TranscriptSummary is a compact view of one transcript.
type TranscriptSummary struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Response  string `json:"response"`
	Grounded  bool   `json:"grounded"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "answer",
		Description: "Answer a question about the indexed book using plan, retrieve and replan steps. Reports whether the answer is grounded in retrieved passages.",
	}, s.handleAnswer)

	if s.transcripts != nil {
		sdkmcp.AddTool(s.server, &sdkmcp.Tool{
			Name:        "transcripts",
			Description: "List the most recently answered questions",
		}, s.handleTranscripts)
	}
}

func (s *Server) handleAnswer(
	ctx context.Context,
	_ *sdkmcp.CallToolRequest,
	input AnswerInput,
) (*sdkmcp.CallToolResult, AnswerOutput, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, AnswerOutput{}, replan.ErrEmptyQuestion
	}

	res, err := s.answerer.Answer(ctx, input.Question)
	if err != nil {
		s.logger.Warn("answer tool failed", "kind", string(replan.KindOf(err)), "error", err)
		return nil, AnswerOutput{}, fmt.Errorf("answer failed (%s): %w", replan.KindOf(err), err)
	}

	out := AnswerOutput{
		RequestID:       res.RequestID,
		Response:        res.Response,
		Grounded:        res.Grounded,
		Evidence:        len(res.Evidence),
		Evaluations:     res.Evaluations,
		BudgetExhausted: res.BudgetExhausted,
	}
	for _, step := range res.Plan {
		if step.Status == replan.StepDiscarded {
			continue
		}
		out.Steps = append(out.Steps, step.Text)
	}
	return nil, out, nil
}

func (s *Server) handleTranscripts(
	ctx context.Context,
	_ *sdkmcp.CallToolRequest,
	input TranscriptsInput,
) (*sdkmcp.CallToolResult, TranscriptsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}
	recs, err := s.transcripts.List(ctx, limit)
	if err != nil {
		return nil, TranscriptsOutput{}, err
	}

	out := TranscriptsOutput{
		Transcripts: make([]TranscriptSummary, len(recs)),
		Count:       len(recs),
	}
	for i, r := range recs {
		out.Transcripts[i] = TranscriptSummary{
			ID:        r.ID,
			Question:  r.Question,
			Response:  r.Response,
			Grounded:  r.Grounded,
			Status:    string(r.Status),
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}
