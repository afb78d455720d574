package storage

import (
	"context"
	"errors"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
)

// ErrNotFound is returned when a requested record has never been saved.
var ErrNotFound = errors.New("not found")

// Storage defines the persistence layer for table configuration, session
// history and administrative timer snapshots.
type Storage interface {
	// LoadTables returns the saved table configuration, or ErrNotFound.
	LoadTables(ctx context.Context) ([]model.TableConfig, error)

	// SaveTables replaces the saved table configuration.
	SaveTables(ctx context.Context, tables []model.TableConfig) error

	// AppendSession persists a single closed session.
	AppendSession(ctx context.Context, record *model.SessionRecord) error

	// ListSessions returns sessions matching filter, most recent first.
	ListSessions(ctx context.Context, filter model.HistoryFilter) ([]model.SessionRecord, error)

	// DeleteSessions removes all session history.
	DeleteSessions(ctx context.Context) error

	// SaveSnapshot stores timer states captured on entering admin mode.
	SaveSnapshot(ctx context.Context, states map[string]model.TimerState) error

	// LoadSnapshot returns the stored timer states, or ErrNotFound.
	LoadSnapshot(ctx context.Context) (map[string]model.TimerState, error)

	// ClearSnapshot removes stored timer states.
	ClearSnapshot(ctx context.Context) error

	// Close releases resources.
	Close() error
}
