// Package debate runs live debate sessions: AI turns, human turns, the judge,
// autosave into history and resuming archived sessions.
package debate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"debate_simulator/internal/judge"
	"debate_simulator/internal/llm"
	"debate_simulator/internal/model"
	"debate_simulator/internal/store"
)

var (
	ErrSessionNotFound = errors.New("debate session not found")
	ErrBusy            = errors.New("a model call is already in progress")
	ErrHumanTurn       = errors.New("waiting for the human speaker")
	ErrNotHumanTurn    = errors.New("it is not the human speaker's turn")
	ErrNotActive       = errors.New("debate is not active")
	ErrMaxTurns        = errors.New("maximum number of turns reached")
	ErrContentTooShort = errors.New("argument is too short")
	ErrContentTooLong  = errors.New("argument is too long")
	ErrUpstream        = errors.New("language model call failed")
)

type Options struct {
	// MaxTurns caps the number of speeches; zero means unlimited.
	MaxTurns         int
	MinContentLength int
	MaxContentLength int
	Temperature      float64
	Judge            judge.Judge
	// APIKey is used for new sessions until SetAPIKey replaces it.
	APIKey string
	// TurnTimeout bounds each model call; zero leaves it to the caller.
	TurnTimeout time.Duration
	// IdleTimeout evicts sessions nobody touched for that long. They stay
	// in history and can be resumed.
	IdleTimeout     time.Duration
	DisableAutosave bool
}

// Update is one state change pushed to subscribers.
type Update struct {
	DebateID  string
	State     *model.DebateState
	Timestamp time.Time
}

// Manager owns every live session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	apiKey   string

	newProvider llm.Factory
	history     store.HistoryStore
	opts        Options
	log         logrus.FieldLogger

	broadcast chan Update
	subMu     sync.RWMutex
	subs      map[string]map[chan Update]struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewManager(factory llm.Factory, history store.HistoryStore, opts Options, logger logrus.FieldLogger) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		apiKey:      opts.APIKey,
		newProvider: factory,
		history:     history,
		opts:        opts,
		log:         logger,
		broadcast:   make(chan Update, 100),
		subs:        make(map[string]map[chan Update]struct{}),
		done:        make(chan struct{}),
	}
	go m.handleBroadcasts()
	if opts.IdleTimeout > 0 {
		go m.startInactivityTimer(opts.IdleTimeout)
	}
	return m
}

func (m *Manager) startInactivityTimer(timeout time.Duration) {
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case t := <-ticker.C:
			m.EvictIdle(context.Background(), t.Add(-timeout))
		}
	}
}

// EvictIdle stops and forgets every session whose last activity is before
// cutoff. Sessions with a model call in flight are kept.
func (m *Manager) EvictIdle(ctx context.Context, cutoff time.Time) int {
	evicted := 0
	for _, s := range m.Sessions() {
		s.mu.Lock()
		idle := s.lastActivity.Before(cutoff) && !s.busyLocked()
		if idle {
			s.state.IsDebateActive = false
			s.autosaveLocked(ctx)
			s.notifyLocked()
		}
		id := s.state.CurrentDebateID
		s.mu.Unlock()
		if !idle {
			continue
		}

		if m.forget(id, s) {
			evicted++
			s.log.Info("Idle debate evicted")
		}
	}
	return evicted
}

// forget drops s unless a resume already replaced it under the same id.
func (m *Manager) forget(id string, s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] != s {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Close stops the fan-out goroutine. Sessions stay readable.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Manager) handleBroadcasts() {
	for {
		select {
		case <-m.done:
			return
		case u := <-m.broadcast:
			m.subMu.RLock()
			for ch := range m.subs[u.DebateID] {
				select {
				case ch <- u:
				default:
					m.log.WithField("debate_id", u.DebateID).Warn("Subscriber is too slow, dropping state update")
				}
			}
			m.subMu.RUnlock()
		}
	}
}

func (m *Manager) publish(state *model.DebateState) {
	u := Update{DebateID: state.CurrentDebateID, State: state, Timestamp: time.Now()}
	select {
	case m.broadcast <- u:
	case <-m.done:
	default:
		m.log.WithField("debate_id", u.DebateID).Warn("Broadcast queue full, dropping state update")
	}
}

// Subscribe returns a channel receiving every state change of one debate.
// The returned cancel func must be called to release it.
func (m *Manager) Subscribe(debateID string) (<-chan Update, func()) {
	ch := make(chan Update, 16)
	m.subMu.Lock()
	if m.subs[debateID] == nil {
		m.subs[debateID] = make(map[chan Update]struct{})
	}
	m.subs[debateID][ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs[debateID], ch)
			if len(m.subs[debateID]) == 0 {
				delete(m.subs, debateID)
			}
			m.subMu.Unlock()
			close(ch)
		})
	}
}

// APIKey returns the key new sessions start with.
func (m *Manager) APIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.apiKey
}

// SetAPIKey sets the key used for sessions started from now on.
func (m *Manager) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return llm.ErrMissingAPIKey
	}
	if _, err := m.newProvider(ctx, key); err != nil {
		return err
	}
	m.mu.Lock()
	m.apiKey = key
	m.mu.Unlock()
	m.log.Info("API key updated")
	return nil
}

// Start opens a new session. In human-vs-ai the human plays PRO and speaks
// first.
func (m *Manager) Start(ctx context.Context, topic string, mode model.GameMode) (*Session, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, model.ErrEmptyTopic
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %v", model.ErrUnknownGameMode, mode)
	}

	key := m.APIKey()
	provider, err := m.newProvider(ctx, key)
	if err != nil {
		return nil, err
	}
	pro, con, err := m.openChats(ctx, provider, topic, mode, nil)
	if err != nil {
		return nil, err
	}
	state, err := model.NewDebateState("", topic, mode, pro, con)
	if err != nil {
		return nil, err
	}
	state.UserAPIKey = key
	state.HistoricalDebates = m.loadHistory(ctx)

	s := m.register(state, provider)
	s.log.WithFields(logrus.Fields{"topic": topic, "mode": mode.String()}).Info("Debate started")

	s.mu.Lock()
	s.autosaveLocked(ctx)
	s.publishLocked()
	s.mu.Unlock()
	return s, nil
}

// Resume reopens an archived debate. Each AI chat is rebuilt with its side
// of the log replayed as history. A live session with the same id is
// replaced.
func (m *Manager) Resume(ctx context.Context, id string) (*Session, error) {
	entry, err := m.history.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	key := m.APIKey()
	provider, err := m.newProvider(ctx, key)
	if err != nil {
		return nil, err
	}
	pro, con, err := m.openChats(ctx, provider, entry.Topic, entry.GameMode, entry.DebateLog)
	if err != nil {
		return nil, err
	}
	state, err := model.RestoreState(entry, pro, con)
	if err != nil {
		return nil, err
	}
	state.UserAPIKey = key
	state.HistoricalDebates = m.loadHistory(ctx)

	s := m.register(state, provider)
	s.log.WithField("turn_count", state.TurnCount).Info("Debate resumed from history")

	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return s, nil
}

func (m *Manager) register(state *model.DebateState, provider llm.Provider) *Session {
	s := &Session{
		m:            m,
		state:        state,
		provider:     provider,
		log:          m.log.WithField("debate_id", state.CurrentDebateID),
		lastActivity: time.Now(),
	}
	m.mu.Lock()
	m.sessions[state.CurrentDebateID] = s
	m.mu.Unlock()
	return s
}

// openChats opens one chat per AI side; PRO first. The human's side gets no
// chat.
func (m *Manager) openChats(ctx context.Context, p llm.Provider, topic string, mode model.GameMode, log []model.Argument) (pro, con llm.ChatSession, err error) {
	open := func(side model.Side) (llm.ChatSession, error) {
		chat, err := p.NewChat(ctx, llm.ChatOptions{
			System:      speakerSystemPrompt(topic, side),
			History:     replayHistory(topic, side, log),
			Temperature: m.opts.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s chat: %w", side, err)
		}
		return chat, nil
	}

	if mode == model.ModeAIvsAI {
		if pro, err = open(model.SidePro); err != nil {
			return nil, nil, err
		}
	}
	if con, err = open(model.SideCon); err != nil {
		return nil, nil, err
	}
	return pro, con, nil
}

func (m *Manager) loadHistory(ctx context.Context) []model.HistoricalDebateEntry {
	list, err := m.history.List(ctx)
	if err != nil {
		m.log.WithError(err).Warn("Failed to load debate history")
		return []model.HistoricalDebateEntry{}
	}
	return list
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Sessions returns every live session in no particular order.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// History lists archived debates, newest first.
func (m *Manager) History(ctx context.Context) ([]model.HistoricalDebateEntry, error) {
	return m.history.List(ctx)
}

// HistoryEntry returns one archived debate.
func (m *Manager) HistoryEntry(ctx context.Context, id string) (model.HistoricalDebateEntry, error) {
	e, err := m.history.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return e, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, err
}

// DeleteHistory removes one archived debate. Live sessions keep running but
// drop it from their history list.
func (m *Manager) DeleteHistory(ctx context.Context, id string) error {
	err := m.history.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return err
	}
	m.eachSession(func(s *Session) {
		s.state.HistoricalDebates = model.RemoveHistory(s.state.HistoricalDebates, id)
	})
	m.log.WithField("debate_id", id).Info("History entry deleted")
	return nil
}

// ClearHistory removes every archived debate.
func (m *Manager) ClearHistory(ctx context.Context) error {
	if err := m.history.Clear(ctx); err != nil {
		return err
	}
	m.eachSession(func(s *Session) {
		s.state.HistoricalDebates = []model.HistoricalDebateEntry{}
	})
	m.log.Info("History cleared")
	return nil
}

// eachSession applies fn to every live session under its lock and publishes
// the result.
func (m *Manager) eachSession(fn func(*Session)) {
	for _, s := range m.Sessions() {
		s.mu.Lock()
		fn(s)
		s.notifyLocked()
		s.mu.Unlock()
	}
}
