// Package llm talks to the hosted generative-language APIs that voice the
// debaters and the judge.
package llm

import (
	"context"
	"errors"
)

var ErrMissingAPIKey = errors.New("API key not configured")
var ErrEmptyResponse = errors.New("empty response from model")
var ErrUnknownProvider = errors.New("unknown llm provider")

// Usage is the token accounting for one or more model calls.
type Usage struct {
	Prompt     int `json:"prompt"`
	Candidates int `json:"candidates"`
	Total      int `json:"total"`
}

// Normalized returns the usage with Total recomputed from its parts. Some
// backends fold thinking or tool tokens into their total; the debate only
// counts prompt and candidate tokens.
func (u Usage) Normalized() Usage {
	u.Total = u.Prompt + u.Candidates
	return u
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		Prompt:     u.Prompt + o.Prompt,
		Candidates: u.Candidates + o.Candidates,
		Total:      u.Total + o.Total,
	}
}

// Reply is the generated text of one call plus what it cost.
type Reply struct {
	Text  string
	Usage Usage
}

// Message is one turn of chat history replayed into a new chat.
type Message struct {
	// FromModel is true for turns the model itself produced.
	FromModel bool
	Content   string
}

// ChatSession is a multi-turn conversation that remembers what was said.
type ChatSession interface {
	Send(ctx context.Context, prompt string) (Reply, error)
}

type ChatOptions struct {
	System      string
	History     []Message
	Temperature float64
}

type GenerateRequest struct {
	System      string
	Prompt      string
	JSON        bool
	Temperature float64
	MaxTokens   int
}

// Provider opens chats and runs one-shot generations against a single backend.
type Provider interface {
	NewChat(ctx context.Context, opts ChatOptions) (ChatSession, error)
	Generate(ctx context.Context, req GenerateRequest) (Reply, error)
}
