package debate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debate_simulator/internal/judge"
	"debate_simulator/internal/llm"
	"debate_simulator/internal/logging"
	"debate_simulator/internal/model"
	"debate_simulator/internal/store"
)

const verdictJSON = `{
  "roundSummaries": [{"roundNumber": 1, "summary": "双方交锋激烈"}],
  "overallSummary": "正方论证更完整",
  "proScores": {"contentAndArgumentation": 10, "expressionAndTechnique": 8, "reactionAndAdaptability": 7, "presence": 9},
  "conScores": {"contentAndArgumentation": 6, "expressionAndTechnique": 6, "reactionAndAdaptability": 6, "presence": 6}
}`

type fakeChat struct {
	name string
	opts llm.ChatOptions

	mu      sync.Mutex
	prompts []string
	err     error
	// when set, Send signals entered and blocks until gate is closed
	gate    chan struct{}
	entered chan struct{}
	// slow replies only when ctx ends
	slow bool
}

func (c *fakeChat) Send(ctx context.Context, prompt string) (llm.Reply, error) {
	if c.gate != nil {
		c.entered <- struct{}{}
		<-c.gate
	}
	if c.slow {
		<-ctx.Done()
		return llm.Reply{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return llm.Reply{}, c.err
	}
	c.prompts = append(c.prompts, prompt)
	return llm.Reply{
		Text:  fmt.Sprintf("%s 第%d次发言", c.name, len(c.prompts)),
		Usage: llm.Usage{Prompt: 10, Candidates: 5, Total: 20},
	}, nil
}

type fakeProvider struct {
	mu       sync.Mutex
	chats    []*fakeChat
	verdict  string
	genErr   error
	requests []llm.GenerateRequest
}

func (p *fakeProvider) NewChat(_ context.Context, opts llm.ChatOptions) (llm.ChatSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &fakeChat{name: fmt.Sprintf("chat%d", len(p.chats)+1), opts: opts}
	p.chats = append(p.chats, c)
	return c, nil
}

func (p *fakeProvider) Generate(_ context.Context, req llm.GenerateRequest) (llm.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.genErr != nil {
		return llm.Reply{}, p.genErr
	}
	return llm.Reply{Text: p.verdict, Usage: llm.Usage{Prompt: 100, Candidates: 50, Total: 150}}, nil
}

func (p *fakeProvider) chat(i int) *fakeChat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chats[i]
}

type fixture struct {
	m        *Manager
	provider *fakeProvider
	store    *store.SQLiteStore
	keys     []string
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{provider: &fakeProvider{verdict: verdictJSON}, store: st}
	opts := Options{
		MaxTurns:         6,
		MinContentLength: 2,
		MaxContentLength: 20,
		Temperature:      0.8,
		Judge:            judge.Judge{Temperature: 0.3},
		APIKey:           "test-key",
	}
	if mutate != nil {
		mutate(&opts)
	}
	factory := func(_ context.Context, key string) (llm.Provider, error) {
		if key == "" {
			return nil, llm.ErrMissingAPIKey
		}
		f.keys = append(f.keys, key)
		return f.provider, nil
	}
	f.m = NewManager(factory, st, opts, logging.Discard())
	t.Cleanup(f.m.Close)
	return f
}

func TestStart_HumanVsAI(t *testing.T) {
	f := newFixture(t, nil)
	s, err := f.m.Start(context.Background(), "  远程办公利大于弊 ", model.ModeHumanVsAI)
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, "远程办公利大于弊", st.Topic)
	assert.True(t, st.IsDebateActive)
	assert.True(t, st.IsHumanTurn)
	role, ok := st.HumanSpeakerRole()
	require.True(t, ok)
	assert.Equal(t, model.RolePro, role)
	_, hasPro := st.ProChat()
	_, hasCon := st.ConChat()
	assert.False(t, hasPro)
	assert.True(t, hasCon)

	// only the CON chat was opened
	require.Len(t, f.provider.chats, 1)
	assert.Contains(t, f.provider.chat(0).opts.System, model.SideCon.Label())

	// autosaved on start
	e, err := f.store.Get(context.Background(), st.CurrentDebateID)
	require.NoError(t, err)
	assert.Equal(t, 0, e.FinalTurnCount)
	assert.Len(t, st.HistoricalDebates, 1)
}

func TestStart_Validation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.m.Start(context.Background(), "   ", model.ModeAIvsAI)
	assert.ErrorIs(t, err, model.ErrEmptyTopic)

	_, err = f.m.Start(context.Background(), "topic", model.GameMode(42))
	assert.ErrorIs(t, err, model.ErrUnknownGameMode)

	f = newFixture(t, func(o *Options) { o.APIKey = "" })
	_, err = f.m.Start(context.Background(), "topic", model.ModeAIvsAI)
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
}

func TestAdvance_AIvsAI(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxTurns = 3 })
	ctx := context.Background()
	s, err := f.m.Start(ctx, "人工智能会取代程序员", model.ModeAIvsAI)
	require.NoError(t, err)
	require.Len(t, f.provider.chats, 2)

	arg, err := s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RolePro, arg.Speaker)
	assert.Equal(t, "chat1 第1次发言", arg.Content)
	assert.Contains(t, f.provider.chat(0).prompts[0], "立论")

	arg, err = s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RoleCon, arg.Speaker)
	// CON rebuts what PRO just said
	assert.Contains(t, f.provider.chat(1).prompts[0], "chat1 第1次发言")

	_, err = s.Advance(ctx)
	require.NoError(t, err)
	_, err = s.Advance(ctx)
	assert.ErrorIs(t, err, ErrMaxTurns)

	st := s.State()
	assert.Equal(t, 3, st.TurnCount)
	assert.Equal(t, model.SideCon, st.CurrentSpeakerToTalk)
	assert.Equal(t, 30, st.PromptTokensUsed)
	assert.Equal(t, 15, st.CandidatesTokensUsed)
	assert.Equal(t, st.PromptTokensUsed+st.CandidatesTokensUsed, st.TotalTokensUsed)
	assert.Equal(t, 15, st.LastCallTotalTokens)

	for i := 1; i < len(st.DebateLog); i++ {
		assert.False(t, st.DebateLog[i].Timestamp.Before(st.DebateLog[i-1].Timestamp))
	}

	all, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 3, all[0].FinalTurnCount)
	assert.Len(t, all[0].DebateLog, 3)
}

func TestHumanVsAI_Flow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.m.Start(ctx, "远程办公利大于弊", model.ModeHumanVsAI)
	require.NoError(t, err)

	_, err = s.Advance(ctx)
	assert.ErrorIs(t, err, ErrHumanTurn)

	_, err = s.SubmitHuman(ctx, "短")
	assert.ErrorIs(t, err, ErrContentTooShort)
	_, err = s.SubmitHuman(ctx, "这是一段非常非常非常非常非常非常长的发言内容超过了上限")
	assert.ErrorIs(t, err, ErrContentTooLong)

	s.SetHumanInput("草稿")
	assert.Equal(t, "草稿", s.State().HumanInput)

	arg, err := s.SubmitHuman(ctx, "通勤时间大幅减少")
	require.NoError(t, err)
	assert.True(t, arg.IsUserArgument)
	assert.Equal(t, model.RolePro, arg.Speaker)

	st := s.State()
	assert.False(t, st.IsHumanTurn)
	assert.Empty(t, st.HumanInput)
	assert.Equal(t, model.SideCon, st.CurrentSpeakerToTalk)

	_, err = s.SubmitHuman(ctx, "再说一次")
	assert.ErrorIs(t, err, ErrNotHumanTurn)

	arg, err = s.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RoleCon, arg.Speaker)
	assert.Contains(t, f.provider.chat(0).prompts[0], "通勤时间大幅减少")
	assert.True(t, s.State().IsHumanTurn)
}

func TestSubmitHuman_RejectedInAIvsAI(t *testing.T) {
	f := newFixture(t, nil)
	s, err := f.m.Start(context.Background(), "topic", model.ModeAIvsAI)
	require.NoError(t, err)
	_, err = s.SubmitHuman(context.Background(), "我来发言")
	assert.ErrorIs(t, err, ErrNotHumanTurn)
}

func TestAdvance_ErrorIsRecordedAndCleared(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)

	pro := f.provider.chat(0)
	pro.err = errors.New("quota exceeded")
	_, err = s.Advance(ctx)
	assert.ErrorIs(t, err, ErrUpstream)

	st := s.State()
	assert.False(t, st.IsLoading)
	assert.Contains(t, st.ErrorMessage, "quota exceeded")
	assert.Equal(t, 0, st.TurnCount)
	assert.Empty(t, st.DebateLog)

	pro.err = nil
	_, err = s.Advance(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.State().ErrorMessage)
}

func TestAdvance_BusyWhileInFlight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)

	pro := f.provider.chat(0)
	pro.gate = make(chan struct{})
	pro.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := s.Advance(ctx)
		done <- err
	}()
	<-pro.entered

	assert.True(t, s.State().IsLoading)
	_, err = s.Advance(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Judge(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	close(pro.gate)
	require.NoError(t, <-done)
	assert.False(t, s.State().IsLoading)
	assert.Len(t, s.State().DebateLog, 1)
}

func TestAdvance_StoppedWhileInFlight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)

	pro := f.provider.chat(0)
	pro.gate = make(chan struct{})
	pro.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := s.Advance(ctx)
		done <- err
	}()
	<-pro.entered
	require.NoError(t, s.Stop(ctx))
	close(pro.gate)

	assert.ErrorIs(t, <-done, ErrNotActive)
	st := s.State()
	assert.Empty(t, st.DebateLog)
	// tokens were spent anyway
	assert.Equal(t, 15, st.TotalTokensUsed)

	saved, err := f.store.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, 15, saved.FinalTotalTokensUsed)
	assert.Empty(t, saved.DebateLog)

	_, err = s.Advance(ctx)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestJudge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)

	_, err = s.Judge(ctx)
	assert.ErrorIs(t, err, judge.ErrNothingToJudge)
	assert.NotEmpty(t, s.State().JudgeErrorMessage)

	_, err = s.Advance(ctx)
	require.NoError(t, err)
	_, err = s.Advance(ctx)
	require.NoError(t, err)

	out, err := s.Judge(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 8.5, out.ProScores.Average, 1e-9)
	assert.InDelta(t, 6.0, out.ConScores.Average, 1e-9)

	st := s.State()
	assert.False(t, st.IsJudgeLoading)
	assert.True(t, st.IsJudgeModalOpen)
	assert.Empty(t, st.JudgeErrorMessage)
	require.NotNil(t, st.JudgeOutput)
	last := st.DebateLog[len(st.DebateLog)-1]
	assert.Equal(t, model.RoleSystem, last.Speaker)
	require.NotNil(t, last.JudgeCommentData)
	assert.Equal(t, 30+150, st.TotalTokensUsed)
	assert.Equal(t, 150, st.LastCallTotalTokens)

	e, err := f.store.Get(ctx, st.CurrentDebateID)
	require.NoError(t, err)
	require.NotNil(t, e.JudgeOutputSnapshot)
	assert.Equal(t, "正方论证更完整", e.JudgeOutputSnapshot.OverallSummary)
}

func TestJudge_UpstreamFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)
	_, err = s.Advance(ctx)
	require.NoError(t, err)

	f.provider.verdict = "not json at all"
	_, err = s.Judge(ctx)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, judge.ErrMalformedVerdict)

	st := s.State()
	assert.NotEmpty(t, st.JudgeErrorMessage)
	assert.Nil(t, st.JudgeOutput)
	assert.Empty(t, st.ErrorMessage)
	// the unparseable answer still cost tokens
	assert.Equal(t, 15+150, st.TotalTokensUsed)
}

func TestResume_ReplaysHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.m.Start(ctx, "远程办公利大于弊", model.ModeHumanVsAI)
	require.NoError(t, err)
	_, err = s.SubmitHuman(ctx, "通勤时间大幅减少")
	require.NoError(t, err)
	_, err = s.Advance(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx))
	id := s.ID()

	resumed, err := f.m.Resume(ctx, id)
	require.NoError(t, err)
	st := resumed.State()
	assert.True(t, st.IsDebateActive)
	assert.Equal(t, id, st.ViewingHistoricalDebateID)
	assert.Equal(t, 2, st.TurnCount)
	assert.True(t, st.IsHumanTurn)
	assert.Equal(t, 15, st.TotalTokensUsed)

	got, err := f.m.Get(id)
	require.NoError(t, err)
	assert.Same(t, resumed, got)

	// the rebuilt CON chat remembers its own earlier speech
	rebuilt := f.provider.chat(len(f.provider.chats) - 1)
	require.Len(t, rebuilt.opts.History, 2)
	assert.False(t, rebuilt.opts.History[0].FromModel)
	assert.Contains(t, rebuilt.opts.History[0].Content, "通勤时间大幅减少")
	assert.True(t, rebuilt.opts.History[1].FromModel)
	assert.Equal(t, "chat1 第1次发言", rebuilt.opts.History[1].Content)

	_, err = f.m.Resume(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHistoryManagement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, err := f.m.Start(ctx, "topic a", model.ModeAIvsAI)
	require.NoError(t, err)
	b, err := f.m.Start(ctx, "topic b", model.ModeAIvsAI)
	require.NoError(t, err)

	list, err := f.m.History(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, f.m.DeleteHistory(ctx, a.ID()))
	_, err = f.m.HistoryEntry(ctx, a.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.m.DeleteHistory(ctx, a.ID()), ErrSessionNotFound)
	_, ok := model.FindHistory(b.State().HistoricalDebates, a.ID())
	assert.False(t, ok)

	require.NoError(t, f.m.ClearHistory(ctx))
	list, err = f.m.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, b.State().HistoricalDebates)
}

func TestDisableAutosave(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.DisableAutosave = true })
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)
	_, err = s.Advance(ctx)
	require.NoError(t, err)

	list, err := f.m.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	e, err := s.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.FinalTurnCount)
	list, err = f.m.History(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSetAPIKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, f.m.SetAPIKey(ctx, "  "), llm.ErrMissingAPIKey)
	require.NoError(t, f.m.SetAPIKey(ctx, "new-key"))
	assert.Equal(t, "new-key", f.m.APIKey())

	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)
	assert.Equal(t, "new-key", s.State().UserAPIKey)
	_, err = s.Advance(ctx)
	require.NoError(t, err)

	s.UpdateView(ViewUpdate{ShowAPIKeySettings: boolPtr(true)})
	require.NoError(t, s.SetAPIKey(ctx, "session-key"))
	st := s.State()
	assert.Equal(t, "session-key", st.UserAPIKey)
	assert.False(t, st.ShowAPIKeySettings)

	// PRO's reopened chat carries its first speech
	pro, ok := st.ProChat()
	require.True(t, ok)
	assert.Len(t, pro.(*fakeChat).opts.History, 2)
}

func TestUpdateView(t *testing.T) {
	f := newFixture(t, nil)
	s, err := f.m.Start(context.Background(), "topic", model.ModeAIvsAI)
	require.NoError(t, err)

	input := "sk-typed"
	s.UpdateView(ViewUpdate{
		ShowHistoryView:         boolPtr(true),
		IsTokenDisplayMinimized: boolPtr(true),
		APIKeyInput:             &input,
	})
	st := s.State()
	assert.True(t, st.ShowHistoryView)
	assert.True(t, st.IsTokenDisplayMinimized)
	assert.Equal(t, "sk-typed", st.APIKeyInput)
	assert.False(t, st.IsJudgeModalOpen)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)

	updates, cancel := f.m.Subscribe(s.ID())
	defer cancel()

	_, err = s.Advance(ctx)
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			assert.Equal(t, s.ID(), u.DebateID)
			if len(u.State.DebateLog) == 1 && !u.State.IsLoading {
				return
			}
		case <-deadline:
			t.Fatal("no state update with the new argument")
		}
	}
}

func TestTurnsLeft(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxTurns = 2 })
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)

	for want := 2; want >= 0; want-- {
		left, ok := s.TurnsLeft()
		require.True(t, ok)
		assert.Equal(t, want, left)
		if want > 0 {
			_, err = s.Advance(ctx)
			require.NoError(t, err)
		}
	}

	unlimited := newFixture(t, func(o *Options) { o.MaxTurns = 0 })
	s, err = unlimited.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)
	_, ok := s.TurnsLeft()
	assert.False(t, ok)
}

func TestEvictIdle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)
	_, err = s.Advance(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, f.m.EvictIdle(ctx, time.Now().Add(-time.Hour)))
	_, err = f.m.Get(s.ID())
	require.NoError(t, err)

	assert.Equal(t, 1, f.m.EvictIdle(ctx, time.Now().Add(time.Hour)))
	_, err = f.m.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, s.State().IsDebateActive)

	// still in history and resumable
	resumed, err := f.m.Resume(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed.State().TurnCount)
}

func TestEvictIdle_KeepsReplacement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	logger, hook := logtest.NewNullLogger()
	f.m.log = logger

	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)
	resumed, err := f.m.Resume(ctx, s.ID())
	require.NoError(t, err)

	assert.False(t, f.m.forget(s.ID(), s))
	got, err := f.m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, resumed, got)

	hook.Reset()
	assert.Equal(t, 1, f.m.EvictIdle(ctx, time.Now().Add(time.Hour)))
	evicted := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Idle debate evicted" {
			evicted++
		}
	}
	assert.Equal(t, 1, evicted)
}

func TestAdvance_TurnTimeout(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.TurnTimeout = 20 * time.Millisecond })
	ctx := context.Background()
	s, err := f.m.Start(ctx, "topic", model.ModeAIvsAI)
	require.NoError(t, err)

	f.provider.chat(0).slow = true
	_, err = s.Advance(ctx)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.State().IsLoading)
}

func TestReplayHistory(t *testing.T) {
	log := []model.Argument{
		{Speaker: model.RolePro, Content: "p1"},
		{Speaker: model.RoleCon, Content: "c1"},
		{Speaker: model.RolePro, Content: "p2"},
		{Speaker: model.RoleSystem, Content: "verdict"},
	}
	pro := replayHistory("t", model.SidePro, log)
	require.Len(t, pro, 4)
	assert.Contains(t, pro[0].Content, "立论")
	assert.Equal(t, "p1", pro[1].Content)
	assert.Contains(t, pro[2].Content, "c1")
	assert.Equal(t, "p2", pro[3].Content)

	con := replayHistory("t", model.SideCon, log)
	require.Len(t, con, 2)
	assert.Contains(t, con[0].Content, "p1")
	assert.Contains(t, con[0].Content, "第一次发言")
}

func boolPtr(b bool) *bool { return &b }
