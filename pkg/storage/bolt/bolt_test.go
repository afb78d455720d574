package bolt_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage/bolt"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *bolt.Store {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "cuemeter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage { return openTestStore(t) })
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cuemeter.db")
	ctx := context.Background()

	first, err := bolt.Open(path)
	require.NoError(t, err)
	require.NoError(t, first.AppendSession(ctx, storagetest.Session("1", time.Now().UTC(), 90, "1")))
	require.NoError(t, first.Close())

	second, err := bolt.Open(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	all, err := second.ListSessions(ctx, model.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_CanceledContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.AppendSession(ctx, storagetest.Session("1", time.Now().UTC(), 10, "0"))
	assert.ErrorIs(t, err, context.Canceled)
}
