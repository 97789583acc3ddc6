package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"debate_simulator/internal/model"
)

// SQLiteStore handles all history database operations
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database and creates the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// createTables initializes database schema
func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS debate_history (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		game_mode TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_saved_at DATETIME NOT NULL,
		human_speaker_role TEXT,
		final_turn_count INTEGER NOT NULL DEFAULT 0,
		final_prompt_tokens INTEGER NOT NULL DEFAULT 0,
		final_candidates_tokens INTEGER NOT NULL DEFAULT 0,
		final_total_tokens INTEGER NOT NULL DEFAULT 0,
		current_speaker_next TEXT NOT NULL,
		debate_log TEXT NOT NULL,
		judge_output TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_debate_history_saved ON debate_history(last_saved_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

const selectColumns = `id, topic, game_mode, created_at, last_saved_at, human_speaker_role,
	final_turn_count, final_prompt_tokens, final_candidates_tokens, final_total_tokens,
	current_speaker_next, debate_log, judge_output`

// Save writes the whole entry, replacing an older one with the same id
func (s *SQLiteStore) Save(ctx context.Context, e model.HistoricalDebateEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	logJSON, err := json.Marshal(e.DebateLog)
	if err != nil {
		return fmt.Errorf("encoding debate log: %w", err)
	}
	var judgeJSON sql.NullString
	if e.JudgeOutputSnapshot != nil {
		b, err := json.Marshal(e.JudgeOutputSnapshot)
		if err != nil {
			return fmt.Errorf("encoding judge output: %w", err)
		}
		judgeJSON = sql.NullString{String: string(b), Valid: true}
	}
	var human sql.NullString
	if e.HumanSpeakerRole != nil {
		human = sql.NullString{String: e.HumanSpeakerRole.String(), Valid: true}
	}

	query := `INSERT INTO debate_history (` + selectColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	            topic = excluded.topic,
	            game_mode = excluded.game_mode,
	            created_at = excluded.created_at,
	            last_saved_at = excluded.last_saved_at,
	            human_speaker_role = excluded.human_speaker_role,
	            final_turn_count = excluded.final_turn_count,
	            final_prompt_tokens = excluded.final_prompt_tokens,
	            final_candidates_tokens = excluded.final_candidates_tokens,
	            final_total_tokens = excluded.final_total_tokens,
	            current_speaker_next = excluded.current_speaker_next,
	            debate_log = excluded.debate_log,
	            judge_output = excluded.judge_output`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Topic, e.GameMode.String(), e.CreatedAt.UTC(), e.LastSavedAt.UTC(), human,
		e.FinalTurnCount, e.FinalPromptTokensUsed, e.FinalCandidatesTokensUsed, e.FinalTotalTokensUsed,
		e.CurrentSpeakerNext.String(), string(logJSON), judgeJSON)
	if err != nil {
		return fmt.Errorf("saving history entry %s: %w", e.ID, err)
	}
	return nil
}

// Get retrieves an entry by id
func (s *SQLiteStore) Get(ctx context.Context, id string) (model.HistoricalDebateEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM debate_history WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoricalDebateEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// List retrieves all entries, newest save first
func (s *SQLiteStore) List(ctx context.Context) ([]model.HistoricalDebateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM debate_history ORDER BY last_saved_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.HistoricalDebateEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes one entry
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM debate_history WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Clear removes every entry
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM debate_history`)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (model.HistoricalDebateEntry, error) {
	var (
		e                     model.HistoricalDebateEntry
		mode, next            string
		human, judge          sql.NullString
		logJSON               string
		createdAt, lastSaveAt time.Time
	)
	err := row.Scan(&e.ID, &e.Topic, &mode, &createdAt, &lastSaveAt, &human,
		&e.FinalTurnCount, &e.FinalPromptTokensUsed, &e.FinalCandidatesTokensUsed, &e.FinalTotalTokensUsed,
		&next, &logJSON, &judge)
	if err != nil {
		return model.HistoricalDebateEntry{}, err
	}

	e.CreatedAt, e.LastSavedAt = createdAt, lastSaveAt
	if e.GameMode, err = model.ParseGameMode(mode); err != nil {
		return model.HistoricalDebateEntry{}, err
	}
	if err := e.CurrentSpeakerNext.UnmarshalText([]byte(next)); err != nil {
		return model.HistoricalDebateEntry{}, err
	}
	if human.Valid {
		role, err := model.ParseSpeakerRole(human.String)
		if err != nil {
			return model.HistoricalDebateEntry{}, err
		}
		e.HumanSpeakerRole = &role
	}
	if err := json.Unmarshal([]byte(logJSON), &e.DebateLog); err != nil {
		return model.HistoricalDebateEntry{}, fmt.Errorf("decoding debate log of %s: %w", e.ID, err)
	}
	if judge.Valid {
		e.JudgeOutputSnapshot = &model.JudgeOutput{}
		if err := json.Unmarshal([]byte(judge.String), e.JudgeOutputSnapshot); err != nil {
			return model.HistoricalDebateEntry{}, fmt.Errorf("decoding judge output of %s: %w", e.ID, err)
		}
	}
	return e, nil
}
