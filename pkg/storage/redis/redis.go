package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// Config holds connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements storage.Storage using Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// Open connects to Redis and verifies the connection.
func Open(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "cuemeter"
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) key(name string) string {
	return s.prefix + ":" + name
}

func (s *Store) LoadTables(ctx context.Context) ([]model.TableConfig, error) {
	data, err := s.client.Get(ctx, s.key("config")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tables: %w", err)
	}
	var tables []model.TableConfig
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, storage.ErrNotFound
	}
	return tables, nil
}

func (s *Store) SaveTables(ctx context.Context, tables []model.TableConfig) error {
	data, err := json.Marshal(tables)
	if err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}
	if err := s.client.Set(ctx, s.key("config"), data, 0).Err(); err != nil {
		return fmt.Errorf("set tables: %w", err)
	}
	return nil
}

func (s *Store) AppendSession(ctx context.Context, record *model.SessionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.RPush(ctx, s.key("history"), data).Err(); err != nil {
		return fmt.Errorf("push session: %w", err)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, filter model.HistoryFilter) ([]model.SessionRecord, error) {
	items, err := s.client.LRange(ctx, s.key("history"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range history: %w", err)
	}

	records := make([]model.SessionRecord, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var r model.SessionRecord
		if err := json.Unmarshal([]byte(items[i]), &r); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		if filter.Matches(r) {
			records = append(records, r)
		}
	}
	storage.SortByCreatedDesc(records)
	return records, nil
}

func (s *Store) DeleteSessions(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key("history")).Err(); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, states map[string]model.TimerState) error {
	fields := make(map[string]any, len(states))
	for id, state := range states {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode state for table %s: %w", id, err)
		}
		fields[id] = data
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key("states"))
		if len(fields) > 0 {
			pipe.HSet(ctx, s.key("states"), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context) (map[string]model.TimerState, error) {
	raw, err := s.client.HGetAll(ctx, s.key("states")).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if len(raw) == 0 {
		return nil, storage.ErrNotFound
	}
	states := make(map[string]model.TimerState, len(raw))
	for id, data := range raw {
		var state model.TimerState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			return nil, fmt.Errorf("decode state for table %s: %w", id, err)
		}
		states[id] = state
	}
	return states, nil
}

func (s *Store) ClearSnapshot(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key("states")).Err(); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
