package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestGeminiUsage(t *testing.T) {
	u := geminiUsage(&genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     40,
		CandidatesTokenCount: 25,
		TotalTokenCount:      90, // includes thinking tokens
	})
	assert.Equal(t, Usage{Prompt: 40, Candidates: 25, Total: 65}, u)
	assert.Equal(t, Usage{}, geminiUsage(nil))
}

func TestGeminiHistory(t *testing.T) {
	assert.Nil(t, geminiHistory(nil))

	contents := geminiHistory([]Message{
		{Content: "prompt"},
		{FromModel: true, Content: "answer"},
	})
	if assert.Len(t, contents, 2) {
		assert.Equal(t, genai.Role(genai.RoleUser), genai.Role(contents[0].Role))
		assert.Equal(t, genai.Role(genai.RoleModel), genai.Role(contents[1].Role))
		assert.Equal(t, "answer", contents[1].Parts[0].Text)
	}
}

func TestGeminiReply_Empty(t *testing.T) {
	_, err := geminiReply(nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	_, err = geminiReply(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
