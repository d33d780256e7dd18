// Package completion_client implements the assistant gateway: a stateless
// adapter to a chat-completions API used for in-session chat assistance.
package completion_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pairprep/collab/clients"
	"github.com/pairprep/collab/internal/collab/events"
)

// Config holds the completion API settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// DefaultConfig returns sensible assistant defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Model:        "gpt-4o-mini",
		SystemPrompt: "You are a helpful assistant supporting a pair of users practicing a coding interview.",
		Timeout:      30 * time.Second,
	}
}

// CompletionClient calls the chat-completions endpoint.
type CompletionClient struct {
	*clients.BaseClient
	config Config
}

// NewCompletionClient creates a client for the configured completion API.
func NewCompletionClient(config Config) *CompletionClient {
	client := &CompletionClient{
		BaseClient: clients.NewBaseClient(config.BaseURL),
		config:     config,
	}

	client.SetHeader(AuthorizationHeader, "Bearer "+config.APIKey)
	client.SetHeader(ContentTypeHeader, "application/json")
	client.SetTimeout(config.Timeout)

	return client
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string       `json:"model"`
	Messages []apiMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message apiMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the room's prior assistant conversation plus the latest
// content and returns the reply text.
func (c *CompletionClient) Complete(ctx context.Context, history []events.ChatMessage, content string) (string, error) {
	messages := make([]apiMessage, 0, len(history)+2)
	messages = append(messages, apiMessage{Role: "system", Content: c.config.SystemPrompt})
	for _, msg := range history {
		role := "user"
		if msg.Username == events.AssistantUsername {
			role = "assistant"
		}
		messages = append(messages, apiMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, apiMessage{Role: "user", Content: content})

	body, err := json.Marshal(completionRequest{
		Model:    c.config.Model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	responseBody, err := c.Post(ctx, ChatCompletionsEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	var response completionResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return "", fmt.Errorf("failed to unmarshal completion response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("completion response contained no choices")
	}

	return response.Choices[0].Message.Content, nil
}
