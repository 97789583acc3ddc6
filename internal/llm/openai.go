package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ChatGPTClient handles interactions with an OpenAI-compatible
// chat-completions endpoint.
type ChatGPTClient struct {
	APIKey      string
	APIURL      string
	Model       string
	Temperature float64
	MaxTokens   int
	httpClient  *http.Client
}

// ChatGPTMessage represents a message in the conversation
type ChatGPTMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatGPTResponseFormat struct {
	Type string `json:"type"`
}

// ChatGPTRequest represents the request to the chat-completions API
type ChatGPTRequest struct {
	Model          string                 `json:"model"`
	Messages       []ChatGPTMessage       `json:"messages"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Temperature    float64                `json:"temperature,omitempty"`
	ResponseFormat *chatGPTResponseFormat `json:"response_format,omitempty"`
}

// ChatGPTResponse represents the response from the chat-completions API
type ChatGPTResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewChatGPTClient creates a new chat-completions client
func NewChatGPTClient(apiKey, apiURL, model string, timeout time.Duration, maxTokens int, temperature float64) *ChatGPTClient {
	return &ChatGPTClient{
		APIKey:      apiKey,
		APIURL:      apiURL,
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// SendMessage sends a conversation and returns the assistant's reply
func (c *ChatGPTClient) SendMessage(ctx context.Context, messages []ChatGPTMessage, jsonMode bool) (Reply, error) {
	if c.APIKey == "" {
		return Reply{}, ErrMissingAPIKey
	}

	reqBody := ChatGPTRequest{
		Model:       c.Model,
		Messages:    messages,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
	if jsonMode {
		reqBody.ResponseFormat = &chatGPTResponseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, bytes.NewReader(jsonData))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Reply{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp ChatGPTResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return Reply{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return Reply{}, ErrEmptyResponse
	}

	return Reply{
		Text: chatResp.Choices[0].Message.Content,
		Usage: Usage{
			Prompt:     chatResp.Usage.PromptTokens,
			Candidates: chatResp.Usage.CompletionTokens,
		}.Normalized(),
	}, nil
}

// NewChat implements Provider.
func (c *ChatGPTClient) NewChat(ctx context.Context, opts ChatOptions) (ChatSession, error) {
	if c.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	chat := &chatGPTChat{client: c}
	if opts.System != "" {
		chat.messages = append(chat.messages, ChatGPTMessage{Role: "system", Content: opts.System})
	}
	for _, m := range opts.History {
		role := "user"
		if m.FromModel {
			role = "assistant"
		}
		chat.messages = append(chat.messages, ChatGPTMessage{Role: role, Content: m.Content})
	}
	chat.temperature = opts.Temperature
	return chat, nil
}

// Generate implements Provider.
func (c *ChatGPTClient) Generate(ctx context.Context, r GenerateRequest) (Reply, error) {
	var messages []ChatGPTMessage
	if r.System != "" {
		messages = append(messages, ChatGPTMessage{Role: "system", Content: r.System})
	}
	messages = append(messages, ChatGPTMessage{Role: "user", Content: r.Prompt})

	client := *c
	if r.Temperature > 0 {
		client.Temperature = r.Temperature
	}
	if r.MaxTokens > 0 {
		client.MaxTokens = r.MaxTokens
	}
	return client.SendMessage(ctx, messages, r.JSON)
}

// chatGPTChat keeps the running transcript; the API itself is stateless.
type chatGPTChat struct {
	client      *ChatGPTClient
	temperature float64

	mu       sync.Mutex
	messages []ChatGPTMessage
}

func (c *chatGPTChat) Send(ctx context.Context, prompt string) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := append(append([]ChatGPTMessage{}, c.messages...), ChatGPTMessage{Role: "user", Content: prompt})

	client := *c.client
	if c.temperature > 0 {
		client.Temperature = c.temperature
	}
	reply, err := client.SendMessage(ctx, pending, false)
	if err != nil {
		return Reply{}, err
	}

	// only commit the exchange once the model answered
	c.messages = append(pending, ChatGPTMessage{Role: "assistant", Content: reply.Text})
	return reply, nil
}
