package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"debate_simulator/internal/config"
	"debate_simulator/internal/debate"
	"debate_simulator/internal/judge"
	"debate_simulator/internal/llm"
	"debate_simulator/internal/logging"
	"debate_simulator/internal/store"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	log        *logrus.Logger

	// overrides the configured backend when set
	providerFactory llm.Factory
}

func (a *app) load() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	return nil
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(a.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return st, nil
}

func (a *app) managerOptions() debate.Options {
	return debate.Options{
		MaxTurns:         a.cfg.Debate.MaxTurns,
		MinContentLength: a.cfg.Debate.MinContentLength,
		MaxContentLength: a.cfg.Debate.MaxContentLength,
		Temperature:      a.cfg.LLM.Temperature,
		Judge: judge.Judge{
			Temperature: a.cfg.Judge.Temperature,
			MaxTokens:   a.cfg.Judge.MaxTokens,
		},
		APIKey:          a.cfg.LLM.APIKey,
		TurnTimeout:     time.Duration(a.cfg.Debate.SpeechTimeout) * time.Second,
		IdleTimeout:     time.Duration(a.cfg.Debate.InactivityTimeout) * time.Second,
		DisableAutosave: a.cfg.Debate.DisableAutosave,
	}
}

func (a *app) newManager(history store.HistoryStore, opts debate.Options) *debate.Manager {
	factory := a.providerFactory
	if factory == nil {
		factory = llm.NewFactory(a.cfg.LLMOptions())
	}
	return debate.NewManager(factory, history, opts, a.log)
}
