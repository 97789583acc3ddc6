// Package judge asks a model to score a finished (or interrupted) debate and
// turns its answer into a model.JudgeOutput.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"debate_simulator/internal/llm"
	"debate_simulator/internal/model"
)

var ErrNothingToJudge = errors.New("no arguments to judge")
var ErrMalformedVerdict = errors.New("malformed judge verdict")

const (
	MinScore = 0
	MaxScore = 10
)

const systemPrompt = `你是一位专业、公正的辩论评委。请根据以下四个维度分别为正方和反方打分（每项 0-10 分，可用小数）：

1. contentAndArgumentation 内容与论证：论点是否清晰有力，论据是否充分，逻辑是否严谨
2. expressionAndTechnique 表达与技巧：语言是否流畅、有说服力，修辞与辩论技巧的运用
3. reactionAndAdaptability 反应与应变：是否有效回应并反驳对方观点
4. presence 气场：整体的自信、感染力与控场能力

请逐轮点评，并给出总体评价。只返回如下 JSON，不要包含其他文字：
{
  "roundSummaries": [{"roundNumber": 1, "summary": "本轮点评"}],
  "overallSummary": "总体评价，包括双方优缺点分析",
  "proScores": {"contentAndArgumentation": 0, "expressionAndTechnique": 0, "reactionAndAdaptability": 0, "presence": 0},
  "conScores": {"contentAndArgumentation": 0, "expressionAndTechnique": 0, "reactionAndAdaptability": 0, "presence": 0}
}`

// Round is one exchange: a PRO turn and the CON turn that answered it.
type Round struct {
	Number int
	Pro    string
	Con    string
}

// Rounds groups the spoken arguments of a log into rounds. A PRO turn always
// opens a new round; SYSTEM and JUDGE entries are skipped.
func Rounds(log []model.Argument) []Round {
	var rounds []Round
	for _, a := range log {
		switch a.Speaker {
		case model.RolePro:
			rounds = append(rounds, Round{Number: len(rounds) + 1, Pro: a.Content})
		case model.RoleCon:
			if len(rounds) == 0 || rounds[len(rounds)-1].Con != "" {
				rounds = append(rounds, Round{Number: len(rounds) + 1})
			}
			rounds[len(rounds)-1].Con = a.Content
		}
	}
	return rounds
}

// BuildPrompt renders the transcript the judge reads.
func BuildPrompt(topic string, log []model.Argument) (string, error) {
	rounds := Rounds(log)
	if len(rounds) == 0 {
		return "", ErrNothingToJudge
	}

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "辩题: %s\n\n", topic)
	transcript.WriteString("辩论过程:\n\n")
	for _, r := range rounds {
		if r.Pro != "" {
			fmt.Fprintf(&transcript, "【第%d轮 - %s】\n%s\n\n", r.Number, model.RolePro.Label(), r.Pro)
		}
		if r.Con != "" {
			fmt.Fprintf(&transcript, "【第%d轮 - %s】\n%s\n\n", r.Number, model.RoleCon.Label(), r.Con)
		}
	}
	return fmt.Sprintf("请评判以下辩论:\n\n%s", transcript.String()), nil
}

// Judge runs evaluations against a provider.
type Judge struct {
	Temperature float64
	MaxTokens   int
}

// Evaluate asks the provider for a verdict. The usage is returned even when
// the answer could not be parsed, since the tokens were spent either way.
func (j Judge) Evaluate(ctx context.Context, p llm.Provider, topic string, log []model.Argument) (*model.JudgeOutput, llm.Usage, error) {
	prompt, err := BuildPrompt(topic, log)
	if err != nil {
		return nil, llm.Usage{}, err
	}

	reply, err := p.Generate(ctx, llm.GenerateRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		JSON:        true,
		Temperature: j.Temperature,
		MaxTokens:   j.MaxTokens,
	})
	if err != nil {
		return nil, llm.Usage{}, fmt.Errorf("failed to get judge response: %w", err)
	}

	out, err := Parse(reply.Text)
	if err != nil {
		return nil, reply.Usage, err
	}
	return out, reply.Usage, nil
}

type rawVerdict struct {
	RoundSummaries []model.RoundSummary `json:"roundSummaries"`
	OverallSummary string               `json:"overallSummary"`
	ProScores      json.RawMessage      `json:"proScores"`
	ConScores      json.RawMessage      `json:"conScores"`
}

// Parse extracts the verdict from the judge's reply. Models sometimes wrap
// the JSON in prose or code fences, so only the outermost object is read.
func Parse(response string) (*model.JudgeOutput, error) {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("%w: no JSON found in response", ErrMalformedVerdict)
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(response[startIdx:endIdx+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedVerdict, err)
	}
	if strings.TrimSpace(raw.OverallSummary) == "" {
		return nil, fmt.Errorf("%w: missing overall summary", ErrMalformedVerdict)
	}

	pro, err := parseDimensions(raw.ProScores)
	if err != nil {
		return nil, fmt.Errorf("%w: proScores: %w", ErrMalformedVerdict, err)
	}
	con, err := parseDimensions(raw.ConScores)
	if err != nil {
		return nil, fmt.Errorf("%w: conScores: %w", ErrMalformedVerdict, err)
	}

	return model.NewJudgeOutput(raw.RoundSummaries, raw.OverallSummary, pro, con), nil
}

// parseDimensions accepts the flat form and the {"dimensions": {...}} form.
func parseDimensions(data json.RawMessage) (model.ScoreDimensions, error) {
	if len(data) == 0 {
		return model.ScoreDimensions{}, errors.New("missing")
	}
	var nested struct {
		Dimensions *model.ScoreDimensions `json:"dimensions"`
	}
	if err := json.Unmarshal(data, &nested); err != nil {
		return model.ScoreDimensions{}, err
	}
	var d model.ScoreDimensions
	if nested.Dimensions != nil {
		d = *nested.Dimensions
	} else if err := json.Unmarshal(data, &d); err != nil {
		return model.ScoreDimensions{}, err
	}
	return model.ScoreDimensions{
		ContentAndArgumentation: clamp(d.ContentAndArgumentation),
		ExpressionAndTechnique:  clamp(d.ExpressionAndTechnique),
		ReactionAndAdaptability: clamp(d.ReactionAndAdaptability),
		Presence:                clamp(d.Presence),
	}, nil
}

func clamp(v float64) float64 {
	return min(max(v, MinScore), MaxScore)
}

// Placeholder is the system message that announces a verdict in the log.
func Placeholder(out *model.JudgeOutput) string {
	result := "双方平分秋色"
	if side, ok := out.Winner(); ok {
		result = fmt.Sprintf("%s胜出", side.Label())
	}
	return fmt.Sprintf("评委已完成评判：%s %.2f 分，%s %.2f 分，%s。",
		model.RolePro.Label(), out.ProScores.Average,
		model.RoleCon.Label(), out.ConScores.Average,
		result)
}
