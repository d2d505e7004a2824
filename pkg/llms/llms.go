// Package llms talks to an OpenAI-compatible chat completions endpoint.
// One client serves both low-temperature structured calls (query
// classification, SQL generation) and higher-temperature synthesis.
package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/datapilot-io/datapilot/internal/httpclient"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// StructuredOptions suit classification and SQL generation: low
// temperature, short answers.
func StructuredOptions() Options {
	return Options{Temperature: 0.1, MaxTokens: 500, Timeout: 30 * time.Second}
}

// SynthesisOptions suit free-form answer composition.
func SynthesisOptions() Options {
	return Options{Temperature: 0.7, MaxTokens: 1000, Timeout: 60 * time.Second}
}

// Client calls a chat completions API.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	client  *httpclient.Client
}

// New builds a client for baseURL and model. The URL may or may not
// carry the /v1 suffix; both forms work.
func New(baseURL, model, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client: httpclient.New(
			httpclient.WithTimeout(90*time.Second),
			httpclient.WithMaxRetries(3),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
}

func (c *Client) Model() string {
	return c.model
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends messages and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat request returned HTTP %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat request failed: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Complete is the single-prompt convenience over Chat.
func (c *Client) Complete(ctx context.Context, system, user string, opts Options) (string, error) {
	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: user})
	return c.Chat(ctx, messages, opts)
}

func (c *Client) endpoint() string {
	if strings.HasSuffix(c.baseURL, "/v1") {
		return c.baseURL + "/chat/completions"
	}
	return c.baseURL + "/v1/chat/completions"
}
