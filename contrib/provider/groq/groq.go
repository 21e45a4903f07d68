package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sweetpotato0/bookqa/llm"
	"github.com/sweetpotato0/bookqa/message"
)

const groqAPIURL = "https://api.groq.com/openai/v1/chat/completions"

// Config holds Groq provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultConfig returns default Groq configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     groqAPIURL,
		Model:       "llama-3.1-8b-instant",
		MaxTokens:   2048,
		Temperature: 0,
		Timeout:     60 * time.Second,
	}
}

// Provider implements llm.Client for Groq's OpenAI-compatible endpoint.
type Provider struct {
	config *Config
	client *http.Client
}

// New creates a new Groq provider
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "llama-3.1-8b-instant"
	}
	if config.BaseURL == "" {
		config.BaseURL = groqAPIURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &Provider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type groqChoice struct {
	Message      groqMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type groqResponse struct {
	Model   string       `json:"model"`
	Choices []groqChoice `json:"choices"`
	Error   *groqError   `json:"error,omitempty"`
}

type groqError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Generate implements llm.Client.
func (p *Provider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if req == nil {
		return nil, errors.New("generate request cannot be nil")
	}
	if p.config.APIKey == "" {
		return nil, errors.New("groq: API key not configured")
	}

	msgs := make([]groqMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg == nil {
			continue
		}
		msgs = append(msgs, groqMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(groqRequest{
		Model:       p.config.Model,
		Messages:    msgs,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("groq: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("groq: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("groq: send request (%s): %w", req.Purpose, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("groq: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("groq: API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp groqResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("groq: unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("groq: API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("groq: %w", llm.ErrEmptyResponse)
	}

	reply := message.Assistant(resp.Choices[0].Message.Content)
	reply.Metadata["finish_reason"] = resp.Choices[0].FinishReason
	return &llm.GenerateResponse{Message: reply, Model: resp.Model}, nil
}

// SetTemperature updates the temperature setting
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = temp
}

// SetModel updates the model
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}
