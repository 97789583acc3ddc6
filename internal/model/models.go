package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

var ErrJudgeDataOnNonSystem = errors.New("judge output can only be attached to a system argument")
var ErrInvalidEntry = errors.New("invalid history entry")

// Argument is one utterance in the debate log. Entries are never modified
// once appended.
type Argument struct {
	ID               string       `json:"id"`
	Speaker          SpeakerRole  `json:"speaker"`
	Content          string       `json:"content"`
	Timestamp        time.Time    `json:"timestamp"`
	IsUserArgument   bool         `json:"isUserArgument,omitempty"`
	JudgeCommentData *JudgeOutput `json:"judgeCommentData,omitempty"`
}

func (a Argument) clone() Argument {
	a.JudgeCommentData = a.JudgeCommentData.Clone()
	return a
}

// CloneLog returns a deep copy of a debate log.
func CloneLog(log []Argument) []Argument {
	if log == nil {
		return nil
	}
	out := make([]Argument, len(log))
	for i, a := range log {
		out[i] = a.clone()
	}
	return out
}

// ScoreDimensions are the four sub-scores the judge gives one side.
type ScoreDimensions struct {
	ContentAndArgumentation float64 `json:"contentAndArgumentation"` // 内容与论证
	ExpressionAndTechnique  float64 `json:"expressionAndTechnique"`  // 表达与技巧
	ReactionAndAdaptability float64 `json:"reactionAndAdaptability"` // 反应与应变
	Presence                float64 `json:"presence"`                // 气场
}

func (d ScoreDimensions) Mean() float64 {
	return (d.ContentAndArgumentation + d.ExpressionAndTechnique + d.ReactionAndAdaptability + d.Presence) / 4
}

// SpeakerScores pairs the dimensions with their mean. Build it with
// NewSpeakerScores; decoding from JSON recomputes Average as well.
type SpeakerScores struct {
	Dimensions ScoreDimensions `json:"dimensions"`
	Average    float64         `json:"average"`
}

func NewSpeakerScores(d ScoreDimensions) SpeakerScores {
	return SpeakerScores{Dimensions: d, Average: d.Mean()}
}

func (s *SpeakerScores) UnmarshalJSON(data []byte) error {
	var raw struct {
		Dimensions ScoreDimensions `json:"dimensions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewSpeakerScores(raw.Dimensions)
	return nil
}

type RoundSummary struct {
	RoundNumber int    `json:"roundNumber"`
	Summary     string `json:"summary"`
}

// JudgeOutput is the judge's full evaluation of a debate.
type JudgeOutput struct {
	RoundSummaries []RoundSummary `json:"roundSummaries"`
	OverallSummary string         `json:"overallSummary"`
	ProScores      SpeakerScores  `json:"proScores"`
	ConScores      SpeakerScores  `json:"conScores"`
}

// NewJudgeOutput orders the round summaries and derives both averages.
func NewJudgeOutput(rounds []RoundSummary, overall string, pro, con ScoreDimensions) *JudgeOutput {
	sorted := slices.Clone(rounds)
	slices.SortStableFunc(sorted, func(a, b RoundSummary) int {
		return a.RoundNumber - b.RoundNumber
	})
	return &JudgeOutput{
		RoundSummaries: sorted,
		OverallSummary: overall,
		ProScores:      NewSpeakerScores(pro),
		ConScores:      NewSpeakerScores(con),
	}
}

func (j *JudgeOutput) Clone() *JudgeOutput {
	if j == nil {
		return nil
	}
	c := *j
	c.RoundSummaries = slices.Clone(j.RoundSummaries)
	return &c
}

// Winner returns the side with the higher average, or false on a tie.
func (j *JudgeOutput) Winner() (Side, bool) {
	switch {
	case j.ProScores.Average > j.ConScores.Average:
		return SidePro, true
	case j.ConScores.Average > j.ProScores.Average:
		return SideCon, true
	default:
		return 0, false
	}
}

// HistoricalDebateEntry is the archived form of a session. Every save of the
// same ID replaces the whole entry.
type HistoricalDebateEntry struct {
	ID                        string       `json:"id"`
	Topic                     string       `json:"topic"`
	GameMode                  GameMode     `json:"gameMode"`
	CreatedAt                 time.Time    `json:"createdAt"`
	LastSavedAt               time.Time    `json:"lastSavedAt"`
	DebateLog                 []Argument   `json:"debateLog"`
	HumanSpeakerRole          *SpeakerRole `json:"humanSpeakerRole"`
	FinalTurnCount            int          `json:"finalTurnCount"`
	FinalPromptTokensUsed     int          `json:"finalPromptTokensUsed"`
	FinalCandidatesTokensUsed int          `json:"finalCandidatesTokensUsed"`
	FinalTotalTokensUsed      int          `json:"finalTotalTokensUsed"`
	JudgeOutputSnapshot       *JudgeOutput `json:"judgeOutputSnapshot"`
	CurrentSpeakerNext        Side         `json:"currentSpeakerNext"`
}

// Clone returns an entry that shares no mutable data with e.
func (e HistoricalDebateEntry) Clone() HistoricalDebateEntry {
	e.DebateLog = CloneLog(e.DebateLog)
	e.JudgeOutputSnapshot = e.JudgeOutputSnapshot.Clone()
	if e.HumanSpeakerRole != nil {
		role := *e.HumanSpeakerRole
		e.HumanSpeakerRole = &role
	}
	return e
}

func (e HistoricalDebateEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	if !e.GameMode.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, e.GameMode)
	}
	if !e.CurrentSpeakerNext.Valid() {
		return fmt.Errorf("%w: next speaker %v", ErrInvalidEntry, e.CurrentSpeakerNext)
	}
	switch {
	case e.GameMode == ModeHumanVsAI && (e.HumanSpeakerRole == nil || *e.HumanSpeakerRole != RolePro):
		return fmt.Errorf("%w: human-vs-ai entry must have the human on %s", ErrInvalidEntry, RolePro)
	case e.GameMode == ModeAIvsAI && e.HumanSpeakerRole != nil:
		return fmt.Errorf("%w: ai-vs-ai entry has a human speaker", ErrInvalidEntry)
	}
	if e.FinalTotalTokensUsed != e.FinalPromptTokensUsed+e.FinalCandidatesTokensUsed {
		return fmt.Errorf("%w: token total %d does not match %d+%d", ErrInvalidEntry,
			e.FinalTotalTokensUsed, e.FinalPromptTokensUsed, e.FinalCandidatesTokensUsed)
	}
	for i, a := range e.DebateLog {
		if a.JudgeCommentData != nil && a.Speaker != RoleSystem {
			return fmt.Errorf("%w: argument %s: %w", ErrInvalidEntry, a.ID, ErrJudgeDataOnNonSystem)
		}
		if i > 0 && a.Timestamp.Before(e.DebateLog[i-1].Timestamp) {
			return fmt.Errorf("%w: argument %s is out of order", ErrInvalidEntry, a.ID)
		}
	}
	return nil
}
