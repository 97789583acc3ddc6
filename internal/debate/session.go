package debate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"debate_simulator/internal/judge"
	"debate_simulator/internal/llm"
	"debate_simulator/internal/model"
)

// Session is one live debate. Every mutation happens under mu; model calls
// run with mu released and write their result back in one step. The
// IsLoading and IsJudgeLoading flags keep a second call out meanwhile.
type Session struct {
	mu       sync.Mutex
	m        *Manager
	state    *model.DebateState
	provider llm.Provider
	log      logrus.FieldLogger

	lastActivity time.Time
}

// ID returns the debate id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentDebateID
}

// State returns a copy of the session state.
func (s *Session) State() *model.DebateState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// TurnsLeft reports how many speeches remain. ok is false when there is no
// turn limit.
func (s *Session) TurnsLeft() (n int, ok bool) {
	limit := s.m.opts.MaxTurns
	if limit <= 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(limit-s.state.TurnCount, 0), true
}

func (s *Session) busyLocked() bool {
	return s.state.IsLoading || s.state.IsJudgeLoading
}

func (s *Session) checkTurnLocked() error {
	st := s.state
	if !st.IsDebateActive {
		return ErrNotActive
	}
	if s.busyLocked() {
		return ErrBusy
	}
	if limit := s.m.opts.MaxTurns; limit > 0 && st.TurnCount >= limit {
		return ErrMaxTurns
	}
	return nil
}

// Advance lets the AI whose turn it is speak and returns its argument.
func (s *Session) Advance(ctx context.Context) (model.Argument, error) {
	s.mu.Lock()
	st := s.state
	if err := s.checkTurnLocked(); err != nil {
		s.mu.Unlock()
		return model.Argument{}, err
	}
	side := st.CurrentSpeakerToTalk
	chat, ok := st.Chat(side)
	if st.IsHumanTurn || !ok {
		s.mu.Unlock()
		return model.Argument{}, ErrHumanTurn
	}
	prompt := turnPrompt(st.Topic, side, st.DebateLog)
	st.IsLoading = true
	st.ErrorMessage = ""
	s.publishLocked()
	s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	reply, err := chat.Send(callCtx, prompt)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	st.IsLoading = false
	if err == nil {
		s.recordUsageLocked(reply.Usage)
		if strings.TrimSpace(reply.Text) == "" {
			err = llm.ErrEmptyResponse
		}
	}
	if err != nil {
		st.ErrorMessage = fmt.Sprintf("%s发言失败：%v", side.Label(), err)
		s.log.WithError(err).WithField("side", side.String()).Error("AI turn failed")
		s.publishLocked()
		return model.Argument{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if !st.IsDebateActive {
		// stopped while the model was thinking; keep the spent tokens
		s.autosaveLocked(ctx)
		s.publishLocked()
		return model.Argument{}, ErrNotActive
	}

	arg, err := st.AppendArgument(model.Argument{Speaker: side.Role(), Content: strings.TrimSpace(reply.Text)})
	if err != nil {
		return model.Argument{}, err
	}
	st.AdvanceSpeaker()
	s.log.WithFields(logrus.Fields{
		"side":        side.String(),
		"turn_count":  st.TurnCount,
		"total_token": st.TotalTokensUsed,
	}).Info("AI turn completed")

	s.autosaveLocked(ctx)
	s.publishLocked()
	return arg, nil
}

// SubmitHuman records the human's argument. Only valid in human-vs-ai while
// PRO is due.
func (s *Session) SubmitHuman(ctx context.Context, text string) (model.Argument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state

	if err := s.checkTurnLocked(); err != nil {
		return model.Argument{}, err
	}
	if st.GameMode() != model.ModeHumanVsAI || !st.IsHumanTurn {
		return model.Argument{}, ErrNotHumanTurn
	}

	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < s.m.opts.MinContentLength {
		return model.Argument{}, fmt.Errorf("%w (minimum %d characters)", ErrContentTooShort, s.m.opts.MinContentLength)
	}
	if limit := s.m.opts.MaxContentLength; limit > 0 && n > limit {
		return model.Argument{}, fmt.Errorf("%w (maximum %d characters)", ErrContentTooLong, limit)
	}

	role, _ := st.HumanSpeakerRole()
	arg, err := st.AppendArgument(model.Argument{Speaker: role, Content: text, IsUserArgument: true})
	if err != nil {
		return model.Argument{}, err
	}
	st.HumanInput = ""
	st.ErrorMessage = ""
	st.AdvanceSpeaker()
	s.log.WithField("turn_count", st.TurnCount).Info("Human turn recorded")

	s.autosaveLocked(ctx)
	s.publishLocked()
	return arg, nil
}

// Judge asks the judge for a verdict on the log so far. It may be called on
// stopped debates too.
func (s *Session) Judge(ctx context.Context) (*model.JudgeOutput, error) {
	s.mu.Lock()
	st := s.state
	if s.busyLocked() {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.provider == nil {
		s.mu.Unlock()
		return nil, llm.ErrMissingAPIKey
	}
	provider := s.provider
	topic := st.Topic
	log := model.CloneLog(st.DebateLog)
	st.IsJudgeLoading = true
	st.JudgeErrorMessage = ""
	s.publishLocked()
	s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	out, usage, err := s.m.opts.Judge.Evaluate(callCtx, provider, topic, log)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	st.IsJudgeLoading = false
	s.recordUsageLocked(usage)
	if err != nil {
		st.JudgeErrorMessage = fmt.Sprintf("评判失败：%v", err)
		s.log.WithError(err).Error("Judge evaluation failed")
		s.publishLocked()
		if errors.Is(err, judge.ErrNothingToJudge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if _, err := st.AttachJudgeOutput(out, judge.Placeholder(out)); err != nil {
		return nil, err
	}
	winner := "tie"
	if side, ok := out.Winner(); ok {
		winner = side.String()
	}
	s.log.WithFields(logrus.Fields{
		"winner":    winner,
		"pro_score": out.ProScores.Average,
		"con_score": out.ConScores.Average,
	}).Info("Judge completed")

	s.autosaveLocked(ctx)
	s.publishLocked()
	return out.Clone(), nil
}

// Stop ends the debate. A reply still in flight is discarded when it lands.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsDebateActive {
		return nil
	}
	s.state.IsDebateActive = false
	s.log.WithField("turn_count", s.state.TurnCount).Info("Debate stopped")
	s.autosaveLocked(ctx)
	s.publishLocked()
	return nil
}

// Save archives the session now, whether or not autosave is enabled.
func (s *Session) Save(ctx context.Context) (model.HistoricalDebateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.saveLocked(ctx)
	if err != nil {
		return e, err
	}
	s.publishLocked()
	return e, nil
}

func (s *Session) autosaveLocked(ctx context.Context) {
	if s.m.opts.DisableAutosave {
		return
	}
	if _, err := s.saveLocked(ctx); err != nil {
		s.log.WithError(err).Warn("Autosave failed")
	}
}

func (s *Session) saveLocked(ctx context.Context) (model.HistoricalDebateEntry, error) {
	e := s.state.Snapshot()
	// a cancelled request must not lose the save
	if err := s.m.history.Save(context.WithoutCancel(ctx), e); err != nil {
		return e, fmt.Errorf("failed to save debate: %w", err)
	}
	s.state.HistoricalDebates = model.UpsertHistory(s.state.HistoricalDebates, e)
	return e, nil
}

func (s *Session) recordUsageLocked(u llm.Usage) {
	if u == (llm.Usage{}) {
		return
	}
	if err := s.state.RecordUsage(u); err != nil {
		s.log.WithError(err).Warn("Ignoring token usage")
	}
}

// publishLocked pushes the state to subscribers. Every mutation ends here,
// so it also marks the session as active.
func (s *Session) publishLocked() {
	s.lastActivity = time.Now()
	s.notifyLocked()
}

// notifyLocked pushes the state without counting as activity.
func (s *Session) notifyLocked() {
	s.m.publish(s.state.Clone())
}

func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := s.m.opts.TurnTimeout; t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

// SetHumanInput stores the human's unsent draft.
func (s *Session) SetHumanInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.HumanInput = text
	s.publishLocked()
}

// ViewUpdate changes display flags; nil fields are left alone.
type ViewUpdate struct {
	ShowHistoryView         *bool   `json:"showHistoryView,omitempty"`
	IsJudgeModalOpen        *bool   `json:"isJudgeModalOpen,omitempty"`
	IsTokenDisplayMinimized *bool   `json:"isTokenDisplayMinimized,omitempty"`
	ShowAPIKeySettings      *bool   `json:"showApiKeySettings,omitempty"`
	APIKeyInput             *string `json:"apiKeyInput,omitempty"`
}

// UpdateView applies the non-nil fields of v.
func (s *Session) UpdateView(v ViewUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if v.ShowHistoryView != nil {
		st.ShowHistoryView = *v.ShowHistoryView
	}
	if v.IsJudgeModalOpen != nil {
		st.IsJudgeModalOpen = *v.IsJudgeModalOpen
	}
	if v.IsTokenDisplayMinimized != nil {
		st.IsTokenDisplayMinimized = *v.IsTokenDisplayMinimized
	}
	if v.ShowAPIKeySettings != nil {
		st.ShowAPIKeySettings = *v.ShowAPIKeySettings
	}
	if v.APIKeyInput != nil {
		st.APIKeyInput = *v.APIKeyInput
	}
	s.publishLocked()
}

// SetAPIKey switches this session to a new key. The AI chats are reopened
// with the log replayed so the debate carries on.
func (s *Session) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return llm.ErrMissingAPIKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if s.busyLocked() {
		return ErrBusy
	}

	provider, err := s.m.newProvider(ctx, key)
	if err != nil {
		return err
	}
	pro, con, err := s.m.openChats(ctx, provider, st.Topic, st.GameMode(), st.DebateLog)
	if err != nil {
		return err
	}
	if err := st.ReplaceChats(pro, con); err != nil {
		return err
	}
	s.provider = provider
	st.UserAPIKey = key
	st.APIKeyInput = ""
	st.ShowAPIKeySettings = false
	st.ErrorMessage = ""
	s.log.Info("Session API key updated")
	s.publishLocked()
	return nil
}
