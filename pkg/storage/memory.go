package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
)

// Memory is a process-local Storage. Nothing survives a restart.
type Memory struct {
	mu       sync.RWMutex
	tables   []model.TableConfig
	sessions []model.SessionRecord
	snapshot map[string]model.TimerState
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LoadTables(_ context.Context) ([]model.TableConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.tables) == 0 {
		return nil, ErrNotFound
	}
	return append([]model.TableConfig(nil), m.tables...), nil
}

func (m *Memory) SaveTables(_ context.Context, tables []model.TableConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = append([]model.TableConfig(nil), tables...)
	return nil
}

func (m *Memory) AppendSession(_ context.Context, record *model.SessionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, *record)
	return nil
}

func (m *Memory) ListSessions(_ context.Context, filter model.HistoryFilter) ([]model.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.SessionRecord
	for i := len(m.sessions) - 1; i >= 0; i-- {
		if r := m.sessions[i]; filter.Matches(r) {
			out = append(out, r)
		}
	}
	SortByCreatedDesc(out)
	return out, nil
}

func (m *Memory) DeleteSessions(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = nil
	return nil
}

func (m *Memory) SaveSnapshot(_ context.Context, states map[string]model.TimerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = make(map[string]model.TimerState, len(states))
	for id, s := range states {
		m.snapshot[id] = s
	}
	return nil
}

func (m *Memory) LoadSnapshot(_ context.Context) (map[string]model.TimerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.snapshot) == 0 {
		return nil, ErrNotFound
	}
	out := make(map[string]model.TimerState, len(m.snapshot))
	for id, s := range m.snapshot {
		out[id] = s
	}
	return out, nil
}

func (m *Memory) ClearSnapshot(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = nil
	return nil
}

func (m *Memory) Close() error { return nil }

// SortByCreatedDesc orders records most recent first. Ties keep their
// relative order, so callers pass newest-appended records first.
func SortByCreatedDesc(records []model.SessionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
