package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"debate_simulator/internal/llm"
)

var ErrEmptyTopic = errors.New("debate topic is empty")
var ErrChatPairing = errors.New("chat sessions do not match the game mode")
var ErrNegativeUsage = errors.New("token usage cannot be negative")
var ErrNotHumanRole = errors.New("only the human's side can submit a user argument")

// Swapped out in tests.
var (
	now   = time.Now
	newID = uuid.NewString
)

// DebateState is the working copy of one live session. It is not safe for
// concurrent use; the owner serialises every mutation.
type DebateState struct {
	Topic          string `json:"topic"`
	IsDebateActive bool   `json:"isDebateActive"`

	// nil when that side is played by the human
	proChat llm.ChatSession
	conChat llm.ChatSession

	DebateLog            []Argument `json:"debateLog"`
	CurrentSpeakerToTalk Side       `json:"currentSpeakerToTalk"`
	TurnCount            int        `json:"turnCount"`
	IsLoading            bool       `json:"isLoading"`
	ErrorMessage         string     `json:"errorMessage,omitempty"`

	IsJudgeModalOpen  bool         `json:"isJudgeModalOpen"`
	JudgeOutput       *JudgeOutput `json:"judgeOutput"`
	IsJudgeLoading    bool         `json:"isJudgeLoading"`
	JudgeErrorMessage string       `json:"judgeErrorMessage,omitempty"`

	gameMode         GameMode
	humanSpeakerRole *SpeakerRole
	IsHumanTurn      bool   `json:"isHumanTurn"`
	HumanInput       string `json:"humanInput"`

	UserAPIKey         string `json:"-"`
	APIKeyInput        string `json:"-"`
	ShowAPIKeySettings bool   `json:"showApiKeySettings"`

	PromptTokensUsed     int `json:"promptTokensUsed"`
	CandidatesTokensUsed int `json:"candidatesTokensUsed"`
	TotalTokensUsed      int `json:"totalTokensUsed"`

	LastCallPromptTokens     int `json:"lastCallPromptTokens"`
	LastCallCandidatesTokens int `json:"lastCallCandidatesTokens"`
	LastCallTotalTokens      int `json:"lastCallTotalTokens"`

	HistoricalDebates         []HistoricalDebateEntry `json:"historicalDebates"`
	ShowHistoryView           bool                    `json:"showHistoryView"`
	CurrentDebateID           string                  `json:"currentDebateId"`
	ViewingHistoricalDebateID string                  `json:"viewingHistoricalDebateId,omitempty"`

	IsTokenDisplayMinimized bool `json:"isTokenDisplayMinimized"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewDebateState starts a session. In human-vs-ai the human always plays PRO,
// so pro must be nil and con must be set; in ai-vs-ai both chats are required.
// An empty id is replaced with a fresh one.
func NewDebateState(id, topic string, mode GameMode, pro, con llm.ChatSession) (*DebateState, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if err := checkChats(mode, pro, con); err != nil {
		return nil, err
	}
	if id == "" {
		id = newID()
	}

	s := &DebateState{
		Topic:                topic,
		IsDebateActive:       true,
		proChat:              pro,
		conChat:              con,
		DebateLog:            []Argument{},
		CurrentSpeakerToTalk: SidePro,
		gameMode:             mode,
		CurrentDebateID:      id,
		CreatedAt:            now(),
	}
	if mode == ModeHumanVsAI {
		role := RolePro
		s.humanSpeakerRole = &role
	}
	s.IsHumanTurn = s.IsHumanSide(s.CurrentSpeakerToTalk)
	return s, nil
}

func checkChats(mode GameMode, pro, con llm.ChatSession) error {
	switch mode {
	case ModeAIvsAI:
		if pro == nil || con == nil {
			return fmt.Errorf("%w: %s needs both chats", ErrChatPairing, mode)
		}
	case ModeHumanVsAI:
		if pro != nil || con == nil {
			return fmt.Errorf("%w: %s needs only the %s chat", ErrChatPairing, mode, RoleCon)
		}
	default:
		return fmt.Errorf("%w: %v", ErrUnknownGameMode, mode)
	}
	return nil
}

func (s *DebateState) GameMode() GameMode { return s.gameMode }

// HumanSpeakerRole reports the human's role; it is always PRO when present.
func (s *DebateState) HumanSpeakerRole() (SpeakerRole, bool) {
	if s.humanSpeakerRole == nil {
		return 0, false
	}
	return *s.humanSpeakerRole, true
}

func (s *DebateState) IsHumanSide(side Side) bool {
	role, ok := s.HumanSpeakerRole()
	return ok && role == side.Role()
}

func (s *DebateState) ProChat() (llm.ChatSession, bool) { return s.proChat, s.proChat != nil }
func (s *DebateState) ConChat() (llm.ChatSession, bool) { return s.conChat, s.conChat != nil }

// Chat returns the AI chat for a side, or false when the human plays it.
func (s *DebateState) Chat(side Side) (llm.ChatSession, bool) {
	if side == SidePro {
		return s.ProChat()
	}
	return s.ConChat()
}

// ReplaceChats swaps the chat handles, e.g. after the API key changed. The
// pairing rules of the game mode still apply.
func (s *DebateState) ReplaceChats(pro, con llm.ChatSession) error {
	if err := checkChats(s.gameMode, pro, con); err != nil {
		return err
	}
	s.proChat, s.conChat = pro, con
	return nil
}

// AppendArgument assigns a fresh ID and a timestamp no earlier than the last
// entry, then appends a to the log.
func (s *DebateState) AppendArgument(a Argument) (Argument, error) {
	if !a.Speaker.Valid() {
		return Argument{}, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(a.Speaker))
	}
	if a.JudgeCommentData != nil && a.Speaker != RoleSystem {
		return Argument{}, ErrJudgeDataOnNonSystem
	}
	if a.IsUserArgument {
		if role, ok := s.HumanSpeakerRole(); !ok || role != a.Speaker {
			return Argument{}, ErrNotHumanRole
		}
	}

	a.ID = newID()
	a.Timestamp = now()
	if n := len(s.DebateLog); n > 0 && a.Timestamp.Before(s.DebateLog[n-1].Timestamp) {
		a.Timestamp = s.DebateLog[n-1].Timestamp
	}
	a.JudgeCommentData = a.JudgeCommentData.Clone()
	s.DebateLog = append(s.DebateLog, a)
	return a.clone(), nil
}

// AttachJudgeOutput stores the verdict for display and appends the system
// placeholder that carries it in the log.
func (s *DebateState) AttachJudgeOutput(out *JudgeOutput, announcement string) (Argument, error) {
	if out == nil {
		return Argument{}, errors.New("nil judge output")
	}
	arg, err := s.AppendArgument(Argument{
		Speaker:          RoleSystem,
		Content:          announcement,
		JudgeCommentData: out,
	})
	if err != nil {
		return Argument{}, err
	}
	s.JudgeOutput = out.Clone()
	s.IsJudgeModalOpen = true
	return arg, nil
}

// RecordUsage adds one call's usage to the running totals. The totals never
// decrease and always equal prompt + candidates.
func (s *DebateState) RecordUsage(u llm.Usage) error {
	if u.Prompt < 0 || u.Candidates < 0 {
		return fmt.Errorf("%w: %+v", ErrNegativeUsage, u)
	}
	u = u.Normalized()
	s.LastCallPromptTokens = u.Prompt
	s.LastCallCandidatesTokens = u.Candidates
	s.LastCallTotalTokens = u.Total
	s.PromptTokensUsed += u.Prompt
	s.CandidatesTokensUsed += u.Candidates
	s.TotalTokensUsed = s.PromptTokensUsed + s.CandidatesTokensUsed
	return nil
}

func (s *DebateState) Usage() llm.Usage {
	return llm.Usage{Prompt: s.PromptTokensUsed, Candidates: s.CandidatesTokensUsed, Total: s.TotalTokensUsed}
}

func (s *DebateState) LastCallUsage() llm.Usage {
	return llm.Usage{Prompt: s.LastCallPromptTokens, Candidates: s.LastCallCandidatesTokens, Total: s.LastCallTotalTokens}
}

// AdvanceSpeaker completes a turn and hands the floor to the other side.
func (s *DebateState) AdvanceSpeaker() {
	s.TurnCount++
	s.CurrentSpeakerToTalk = s.CurrentSpeakerToTalk.Opponent()
	s.IsHumanTurn = s.IsHumanSide(s.CurrentSpeakerToTalk)
}

// LastArgumentBy returns the most recent argument spoken by side.
func (s *DebateState) LastArgumentBy(side Side) (Argument, bool) {
	for i := len(s.DebateLog) - 1; i >= 0; i-- {
		if s.DebateLog[i].Speaker == side.Role() {
			return s.DebateLog[i].clone(), true
		}
	}
	return Argument{}, false
}

// Snapshot archives the session. The entry shares no data with the live state.
func (s *DebateState) Snapshot() HistoricalDebateEntry {
	e := HistoricalDebateEntry{
		ID:                        s.CurrentDebateID,
		Topic:                     s.Topic,
		GameMode:                  s.gameMode,
		CreatedAt:                 s.CreatedAt,
		LastSavedAt:               now(),
		DebateLog:                 CloneLog(s.DebateLog),
		FinalTurnCount:            s.TurnCount,
		FinalPromptTokensUsed:     s.PromptTokensUsed,
		FinalCandidatesTokensUsed: s.CandidatesTokensUsed,
		FinalTotalTokensUsed:      s.TotalTokensUsed,
		JudgeOutputSnapshot:       s.JudgeOutput.Clone(),
		CurrentSpeakerNext:        s.CurrentSpeakerToTalk,
	}
	if e.DebateLog == nil {
		e.DebateLog = []Argument{}
	}
	if role, ok := s.HumanSpeakerRole(); ok {
		e.HumanSpeakerRole = &role
	}
	return e
}

// RestoreState rebuilds a live session from an archived entry so it can be
// continued. The chats must already carry the replayed conversation.
func RestoreState(e HistoricalDebateEntry, pro, con llm.ChatSession) (*DebateState, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := checkChats(e.GameMode, pro, con); err != nil {
		return nil, err
	}
	e = e.Clone()

	s := &DebateState{
		Topic:                     e.Topic,
		IsDebateActive:            true,
		proChat:                   pro,
		conChat:                   con,
		DebateLog:                 e.DebateLog,
		CurrentSpeakerToTalk:      e.CurrentSpeakerNext,
		TurnCount:                 e.FinalTurnCount,
		JudgeOutput:               e.JudgeOutputSnapshot,
		gameMode:                  e.GameMode,
		humanSpeakerRole:          e.HumanSpeakerRole,
		PromptTokensUsed:          e.FinalPromptTokensUsed,
		CandidatesTokensUsed:      e.FinalCandidatesTokensUsed,
		TotalTokensUsed:           e.FinalTotalTokensUsed,
		CurrentDebateID:           e.ID,
		ViewingHistoricalDebateID: e.ID,
		CreatedAt:                 e.CreatedAt,
	}
	if s.DebateLog == nil {
		s.DebateLog = []Argument{}
	}
	s.IsHumanTurn = s.IsHumanSide(s.CurrentSpeakerToTalk)
	return s, nil
}

// Clone copies the state for readers outside the owner. Chat handles are
// shared; everything else is copied.
func (s *DebateState) Clone() *DebateState {
	c := *s
	c.DebateLog = CloneLog(s.DebateLog)
	c.JudgeOutput = s.JudgeOutput.Clone()
	if s.HistoricalDebates != nil {
		c.HistoricalDebates = make([]HistoricalDebateEntry, len(s.HistoricalDebates))
		for i, e := range s.HistoricalDebates {
			c.HistoricalDebates[i] = e.Clone()
		}
	}
	return &c
}

func (s DebateState) MarshalJSON() ([]byte, error) {
	type alias DebateState
	a := alias(s)
	var human *SpeakerRole
	if role, ok := s.HumanSpeakerRole(); ok {
		human = &role
	}
	return json.Marshal(struct {
		*alias
		GameMode         GameMode     `json:"gameMode"`
		HumanSpeakerRole *SpeakerRole `json:"humanSpeakerRole"`
		HasProChat       bool         `json:"hasProChat"`
		HasConChat       bool         `json:"hasConChat"`
		HasUserAPIKey    bool         `json:"hasUserApiKey"`
	}{
		alias:            &a,
		GameMode:         s.gameMode,
		HumanSpeakerRole: human,
		HasProChat:       s.proChat != nil,
		HasConChat:       s.conChat != nil,
		HasUserAPIKey:    s.UserAPIKey != "",
	})
}
