// Package llm provides the synchronous LLM completion client the
// prompt assembler invokes: a single, non-streaming chat-completion
// call.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gravitycar/dnd1strag/internal/chunk"
)

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

// ErrLLM wraps any completion failure surfaced to the caller; the
// RAGOutput's errors list receives the message and answer is left
// null.
var ErrLLM = errors.New("llm completion failed")

// Message is one entry in a chat-style prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the LLM's response: content plus self-reported usage.
type Completion struct {
	Content string
	Usage   chunk.Usage
	// UsageReported is false when the upstream response omitted the
	// usage object entirely; callers treat the fields as zero and
	// record a diagnostic rather than failing.
	UsageReported bool
}

// Client is the interface the PromptAssembler depends on.
type Client interface {
	Complete(ctx context.Context, model string, messages []Message, temperature float64, maxTokens int) (Completion, error)
}

// OpenAIClient is a hand-rolled HTTP client for the OpenAI chat
// completions API; no SDK dependency.
type OpenAIClient struct {
	apiKey string
	client *http.Client
}

// NewOpenAIClient constructs a client with a 30s request-level
// timeout.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete calls the OpenAI chat completions API and returns the
// content plus self-reported token usage.
func (c *OpenAIClient) Complete(ctx context.Context, model string, messages []Message, temperature float64, maxTokens int) (Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("%w: encode request: %v", ErrLLM, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("%w: build request: %v", ErrLLM, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("%w: %v", ErrLLM, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("%w: openai returned status %d", ErrLLM, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Completion{}, fmt.Errorf("%w: decode response: %v", ErrLLM, err)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: empty choices in response", ErrLLM)
	}

	out := Completion{Content: parsed.Choices[0].Message.Content}
	if parsed.Usage != nil {
		out.UsageReported = true
		out.Usage = chunk.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}
