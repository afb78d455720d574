package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketConfig    = "config"
	bucketSessions  = "sessions"
	bucketSnapshots = "snapshots"

	keyTables = "tables"
)

// Store implements storage.Storage using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a bbolt-backed store, creating the file and buckets if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketConfig, bucketSessions, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) LoadTables(ctx context.Context) ([]model.TableConfig, error) {
	var tables []model.TableConfig
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		value := tx.Bucket([]byte(bucketConfig)).Get([]byte(keyTables))
		if value == nil {
			return storage.ErrNotFound
		}
		return unmarshal(value, &tables)
	})
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, storage.ErrNotFound
	}
	return tables, nil
}

func (s *Store) SaveTables(ctx context.Context, tables []model.TableConfig) error {
	data, err := marshal(tables)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return tx.Bucket([]byte(bucketConfig)).Put([]byte(keyTables), data)
	})
}

func (s *Store) AppendSession(ctx context.Context, record *model.SessionRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data, err := marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return tx.Bucket([]byte(bucketSessions)).Put([]byte(sessionKey(*record)), data)
	})
}

func (s *Store) ListSessions(ctx context.Context, filter model.HistoryFilter) ([]model.SessionRecord, error) {
	records := make([]model.SessionRecord, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketSessions)).Cursor()
		// Keys sort by creation time, so walking backwards yields newest first.
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var r model.SessionRecord
			if err := unmarshal(v, &r); err != nil {
				return err
			}
			if filter.Matches(r) {
				records = append(records, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) DeleteSessions(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := tx.DeleteBucket([]byte(bucketSessions)); err != nil {
			return fmt.Errorf("delete sessions bucket: %w", err)
		}
		if _, err := tx.CreateBucket([]byte(bucketSessions)); err != nil {
			return fmt.Errorf("recreate sessions bucket: %w", err)
		}
		return nil
	})
}

func (s *Store) SaveSnapshot(ctx context.Context, states map[string]model.TimerState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := resetBucket(tx, bucketSnapshots)
		if err != nil {
			return err
		}
		for id, state := range states {
			data, err := marshal(state)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return fmt.Errorf("put state for table %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *Store) LoadSnapshot(ctx context.Context) (map[string]model.TimerState, error) {
	states := make(map[string]model.TimerState)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSnapshots)).ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var state model.TimerState
			if err := unmarshal(v, &state); err != nil {
				return err
			}
			states[string(k)] = state
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, storage.ErrNotFound
	}
	return states, nil
}

func (s *Store) ClearSnapshot(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := resetBucket(tx, bucketSnapshots)
		return err
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func resetBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
		return nil, fmt.Errorf("delete bucket %s: %w", name, err)
	}
	b, err := tx.CreateBucket([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return b, nil
}

func sessionKey(r model.SessionRecord) string {
	return fmt.Sprintf("%020d-%s", r.CreatedAt.UnixNano(), r.ID)
}

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}
