// Package store persists archived debate sessions.
package store

import (
	"context"
	"errors"

	"debate_simulator/internal/model"
)

var ErrNotFound = errors.New("history entry not found")

// HistoryStore keeps HistoricalDebateEntry records keyed by ID.
type HistoryStore interface {
	// List returns every entry, most recently saved first.
	List(ctx context.Context) ([]model.HistoricalDebateEntry, error)
	Get(ctx context.Context, id string) (model.HistoricalDebateEntry, error)
	// Save replaces any stored entry with the same ID.
	Save(ctx context.Context, e model.HistoricalDebateEntry) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}
