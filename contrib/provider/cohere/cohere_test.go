package cohere

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sweetpotato0/bookqa/llm"
	"github.com/sweetpotato0/bookqa/message"
)

func TestGenerateMapsPreambleAndHistory(t *testing.T) {
	var got cohereRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"text":"Prague.","finish_reason":"COMPLETE"}`))
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "secret", BaseURL: srv.URL})
	resp, err := p.Generate(context.Background(), &llm.GenerateRequest{
		Purpose: llm.PurposeAnswer,
		Messages: []*message.Message{
			message.System("be brief"),
			message.User("where?"),
			message.Assistant("which book?"),
			message.User("the novel"),
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text() != "Prague." {
		t.Fatalf("unexpected reply %q", resp.Text())
	}
	if got.Preamble != "be brief" || got.Message != "the novel" {
		t.Fatalf("unexpected request %#v", got)
	}
	if len(got.ChatHistory) != 2 || got.ChatHistory[1].Role != "CHATBOT" {
		t.Fatalf("unexpected history %#v", got.ChatHistory)
	}
	if got.Model != "command-r" {
		t.Fatalf("expected default model, got %q", got.Model)
	}
}

func TestGenerateSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "secret", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), &llm.GenerateRequest{Messages: []*message.Message{message.User("q")}})
	if err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestGenerateEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "secret", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), &llm.GenerateRequest{Messages: []*message.Message{message.User("q")}})
	if !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGenerateValidatesInput(t *testing.T) {
	if _, err := New(nil).Generate(context.Background(), &llm.GenerateRequest{}); err == nil {
		t.Fatal("expected error without API key")
	}
	p := New(DefaultConfig("secret"))
	if _, err := p.Generate(context.Background(), &llm.GenerateRequest{Messages: []*message.Message{message.System("only")}}); err == nil {
		t.Fatal("expected error without a user message")
	}
}
