package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeakerScores_AverageIsMean(t *testing.T) {
	cases := []struct {
		name string
		dims ScoreDimensions
		want float64
	}{
		{name: "judge example", dims: ScoreDimensions{10, 8, 7, 9}, want: 8.5},
		{name: "all zero", dims: ScoreDimensions{}, want: 0},
		{name: "fractional", dims: ScoreDimensions{7.5, 8.25, 6, 9.1}, want: 7.7125},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSpeakerScores(tc.dims)
			assert.InDelta(t, tc.want, s.Average, 1e-9)
		})
	}
}

func TestSpeakerScores_DecodeRecomputesAverage(t *testing.T) {
	raw := `{"dimensions":{"contentAndArgumentation":10,"expressionAndTechnique":8,"reactionAndAdaptability":7,"presence":9},"average":3}`
	var s SpeakerScores
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	assert.InDelta(t, 8.5, s.Average, 1e-9)
}

func TestJudgeOutput_Winner(t *testing.T) {
	out := NewJudgeOutput(nil, "", ScoreDimensions{9, 9, 9, 9}, ScoreDimensions{8, 8, 8, 8})
	side, ok := out.Winner()
	require.True(t, ok)
	assert.Equal(t, SidePro, side)

	tie := NewJudgeOutput(nil, "", ScoreDimensions{8, 8, 8, 8}, ScoreDimensions{8, 8, 8, 8})
	_, ok = tie.Winner()
	assert.False(t, ok)
}

func TestRoleText(t *testing.T) {
	for _, role := range []SpeakerRole{RolePro, RoleCon, RoleSystem, RoleJudge} {
		text, err := role.MarshalText()
		require.NoError(t, err)
		var back SpeakerRole
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, role, back)
	}

	role, err := ParseSpeakerRole("反方")
	require.NoError(t, err)
	assert.Equal(t, RoleCon, role)

	_, err = ParseSpeakerRole("moderator")
	assert.ErrorIs(t, err, ErrUnknownRole)

	_, err = SpeakerRole(0).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownRole)

	var side Side
	assert.ErrorIs(t, side.UnmarshalText([]byte("judge")), ErrUnknownSide)
	assert.NoError(t, side.UnmarshalText([]byte("con")))
	assert.Equal(t, SideCon, side)
	assert.Equal(t, SidePro, side.Opponent())
}

func TestGameModeText(t *testing.T) {
	var m GameMode
	require.NoError(t, json.Unmarshal([]byte(`"human-vs-ai"`), &m))
	assert.Equal(t, ModeHumanVsAI, m)
	assert.Error(t, json.Unmarshal([]byte(`"solo"`), &m))
}

func TestUpsertHistory_LaterSaveSupersedes(t *testing.T) {
	s, err := NewDebateState("d1", "topic", ModeAIvsAI, stubChat{}, stubChat{})
	require.NoError(t, err)

	var history []HistoricalDebateEntry
	other := HistoricalDebateEntry{ID: "older", GameMode: ModeAIvsAI, CurrentSpeakerNext: SidePro}
	history = UpsertHistory(history, other)

	s.TurnCount = 4
	history = UpsertHistory(history, s.Snapshot())
	s.TurnCount = 5
	s.JudgeOutput = nil
	history = UpsertHistory(history, s.Snapshot())

	count := 0
	for _, e := range history {
		if e.ID == "d1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, "d1", history[0].ID)
	assert.Len(t, history, 2)

	entry, ok := FindHistory(history, "d1")
	require.True(t, ok)
	assert.Equal(t, 5, entry.FinalTurnCount)

	history = RemoveHistory(history, "d1")
	_, ok = FindHistory(history, "d1")
	assert.False(t, ok)
	assert.Len(t, history, 1)
}

func TestHistoricalEntryJSON(t *testing.T) {
	pro := RolePro
	e := HistoricalDebateEntry{
		ID:                 "d1",
		Topic:              "topic",
		GameMode:           ModeHumanVsAI,
		CreatedAt:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		LastSavedAt:        time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC),
		DebateLog:          []Argument{},
		HumanSpeakerRole:   &pro,
		CurrentSpeakerNext: SideCon,
	}
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"humanSpeakerRole":"pro"`)
	assert.Contains(t, string(data), `"currentSpeakerNext":"con"`)
	assert.Contains(t, string(data), `"judgeOutputSnapshot":null`)
}
