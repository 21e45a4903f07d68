package groq

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

func TestGenerateSendsChatRequest(t *testing.T) {
	var got groqRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"llama-3.1-8b-instant","choices":[{"message":{"role":"assistant","content":"Prague."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "secret", BaseURL: srv.URL})
	resp, err := p.Generate(context.Background(), &llm.GenerateRequest{
		Purpose:  llm.PurposeAnswer,
		Messages: []*message.Message{message.System("be brief"), message.User("where?")},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text() != "Prague." {
		t.Fatalf("unexpected reply %q", resp.Text())
	}
	if got.Model != "llama-3.1-8b-instant" {
		t.Fatalf("expected default model, got %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages %#v", got.Messages)
	}
}

func TestGenerateSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "secret", BaseURL: srv.URL})
	if _, err := p.Generate(context.Background(), &llm.GenerateRequest{}); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "secret", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), &llm.GenerateRequest{})
	if !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGenerateRequiresAPIKey(t *testing.T) {
	p := New(nil)
	if _, err := p.Generate(context.Background(), &llm.GenerateRequest{}); err == nil {
		t.Fatal("expected error without API key")
	}
}
