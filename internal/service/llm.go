package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ai-workout-scheduler/agent/internal/config"
	"github.com/ai-workout-scheduler/agent/internal/pkg/crypto"
)

// LMClient defines the interface for language model providers.
type LMClient interface {
	// Generate sends a prompt to the model and returns the raw response text.
	// The per-call timeout comes from the model config.
	Generate(ctx context.Context, prompt string, model config.ModelConfig) (string, error)
}

// GetLMClient returns the appropriate LM client based on the provider.
func GetLMClient(provider string) (LMClient, error) {
	switch provider {
	case "openai":
		return &OpenAIClient{}, nil
	case "ollama":
		return &OllamaClient{}, nil
	default:
		return nil, fmt.Errorf("unsupported LM provider: %s", provider)
	}
}

// ResolveAPIKey returns the plaintext API key for a model, decrypting the
// api_key_encrypted value when the plain one is absent.
func ResolveAPIKey(m config.ModelConfig, enc crypto.Encryptor) (string, error) {
	if m.APIKey != "" {
		return m.APIKey, nil
	}
	if m.APIKeyEncrypted == "" {
		return "", nil
	}
	if enc == nil {
		return "", fmt.Errorf("model %s has an encrypted API key but no app secret key is configured", m.Name)
	}
	key, err := enc.Decrypt(m.APIKeyEncrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt API key for model %s: %w", m.Name, err)
	}
	return key, nil
}

// OpenAIClient implements LMClient for OpenAI-compatible chat APIs.
type OpenAIClient struct{}

// OpenAIRequest represents the request structure for the chat completions API
type OpenAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIResponse represents the response structure from the chat completions API
type OpenAIResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Error   *LMError `json:"error,omitempty"`
}

// Choice represents a response choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// LMError represents an API error response
type LMError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Generate sends a chat completion request.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, model config.ModelConfig) (string, error) {
	maxTokens := model.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2000
	}
	temperature := model.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	reqBody := OpenAIRequest{
		Model: model.Name,
		Messages: []Message{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := model.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	url := fmt.Sprintf("%s/chat/completions", endpoint)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", model.APIKey))

	client := &http.Client{Timeout: model.ModelTimeout()}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("chat API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var openAIResp OpenAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if openAIResp.Error != nil {
		return "", fmt.Errorf("chat API error: %s", openAIResp.Error.Message)
	}

	if len(openAIResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat API response")
	}

	return openAIResp.Choices[0].Message.Content, nil
}

// OllamaClient implements LMClient for a local Ollama server.
type OllamaClient struct{}

// OllamaRequest represents the request structure for the Ollama generate API
type OllamaRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// OllamaResponse represents the non-streaming response from Ollama
type OllamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate sends a non-streaming generate request to Ollama.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, model config.ModelConfig) (string, error) {
	options := map[string]interface{}{}
	if model.Temperature != 0 {
		options["temperature"] = model.Temperature
	}
	if model.MaxTokens != 0 {
		options["num_predict"] = model.MaxTokens
	}

	reqBody := OllamaRequest{
		Model:   model.Name,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := model.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	url := fmt.Sprintf("%s/api/generate", endpoint)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: model.ModelTimeout()}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var ollamaResp OllamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if ollamaResp.Error != "" {
		return "", fmt.Errorf("ollama API error: %s", ollamaResp.Error)
	}

	return ollamaResp.Response, nil
}
