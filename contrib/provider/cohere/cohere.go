package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sweetpotato0/bookqa/llm"
	"github.com/sweetpotato0/bookqa/message"
)

const cohereAPIURL = "https://api.cohere.ai/v1/chat"

// Config holds Cohere provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultConfig returns default Cohere configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     cohereAPIURL,
		Model:       "command-r",
		MaxTokens:   2048,
		Temperature: 0,
		Timeout:     60 * time.Second,
	}
}

var _ llm.Client = (*Provider)(nil)

// Provider implements llm.Client for Cohere's chat endpoint.
type Provider struct {
	config *Config
	client *http.Client
}

// New creates a new Cohere provider
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "command-r"
	}
	if config.BaseURL == "" {
		config.BaseURL = cohereAPIURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &Provider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type cohereMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// cohereRequest carries the system prompt as preamble and the latest user
// turn as message; earlier turns go in chat_history.
type cohereRequest struct {
	Model       string          `json:"model"`
	Message     string          `json:"message"`
	Preamble    string          `json:"preamble,omitempty"`
	ChatHistory []cohereMessage `json:"chat_history,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type cohereResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
	Message      string `json:"message"`
}

// Generate implements llm.Client.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil {
		return nil, errors.New("generate request cannot be nil")
	}
	if p.config.APIKey == "" {
		return nil, errors.New("cohere: API key not configured")
	}

	preamble, turns := message.Split(req.Messages)
	if len(turns) == 0 {
		return nil, errors.New("cohere: request has no user message")
	}
	last := turns[len(turns)-1]
	history := make([]cohereMessage, 0, len(turns)-1)
	for _, msg := range turns[:len(turns)-1] {
		history = append(history, cohereMessage{Role: cohereRole(msg.Role), Message: msg.Content})
	}

	body, err := json.Marshal(cohereRequest{
		Model:       p.config.Model,
		Message:     last.Content,
		Preamble:    preamble,
		ChatHistory: history,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("cohere: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cohere: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cohere: send request (%s): %w", req.Purpose, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("cohere: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cohere: API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp cohereResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("cohere: unmarshal response: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		if resp.Message != "" {
			return nil, fmt.Errorf("cohere: API error: %s", resp.Message)
		}
		return nil, llm.ErrEmptyResponse
	}

	return &llm.GenerateResponse{Message: message.Assistant(resp.Text), Model: p.config.Model}, nil
}

func cohereRole(role message.Role) string {
	if role == message.RoleAssistant {
		return "CHATBOT"
	}
	return "USER"
}
