package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API through the genai SDK.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, maxTokens int) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, maxTokens: maxTokens}, nil
}

func (p *GeminiProvider) NewChat(ctx context.Context, opts ChatOptions) (ChatSession, error) {
	config := p.config(opts.System, opts.Temperature, 0)
	chat, err := p.client.Chats.Create(ctx, p.model, config, geminiHistory(opts.History))
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	return &geminiChat{chat: chat}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, r GenerateRequest) (Reply, error) {
	config := p.config(r.System, r.Temperature, r.MaxTokens)
	if r.JSON {
		config.ResponseMIMEType = "application/json"
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(r.Prompt), config)
	if err != nil {
		return Reply{}, fmt.Errorf("generating content: %w", err)
	}
	return geminiReply(resp)
}

func (p *GeminiProvider) config(system string, temperature float64, maxTokens int) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if temperature > 0 {
		t := float32(temperature)
		config.Temperature = &t
	}
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}
	return config
}

type geminiChat struct {
	chat *genai.Chat
}

func (c *geminiChat) Send(ctx context.Context, prompt string) (Reply, error) {
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return Reply{}, fmt.Errorf("sending chat message: %w", err)
	}
	return geminiReply(resp)
}

func geminiHistory(history []Message) []*genai.Content {
	if len(history) == 0 {
		return nil
	}
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if m.FromModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func geminiReply(resp *genai.GenerateContentResponse) (Reply, error) {
	if resp == nil {
		return Reply{}, ErrEmptyResponse
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyResponse
	}
	return Reply{Text: text, Usage: geminiUsage(resp.UsageMetadata)}, nil
}

func geminiUsage(meta *genai.GenerateContentResponseUsageMetadata) Usage {
	if meta == nil {
		return Usage{}
	}
	return Usage{
		Prompt:     int(meta.PromptTokenCount),
		Candidates: int(meta.CandidatesTokenCount),
	}.Normalized()
}
