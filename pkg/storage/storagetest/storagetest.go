package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/rates"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Session builds a record for table started at start and lasting seconds.
func Session(table string, start time.Time, seconds int64, cost string) *model.SessionRecord {
	end := start.Add(time.Duration(seconds) * time.Second)
	return &model.SessionRecord{
		TableID:        table,
		StartedAt:      start,
		EndedAt:        end,
		ElapsedSeconds: seconds,
		TotalCost:      decimal.RequireFromString(cost),
		CreatedAt:      end,
	}
}

// Run exercises a Storage implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	t.Run("TablesNotFound", func(t *testing.T) {
		_, err := newStore(t).LoadTables(context.Background())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("TablesRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tables := rates.DefaultTables()
		tables[0], tables[2] = tables[2], tables[0]
		require.NoError(t, s.SaveTables(ctx, tables))

		got, err := s.LoadTables(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "3", got[0].ID, "configured order is kept")
		assert.Equal(t, "12:00", got[0].Schedule[1].Start.String())
		assert.True(t, got[0].Schedule[1].Rate.Equal(decimal.NewFromInt(3)))

		require.NoError(t, s.SaveTables(ctx, tables[:1]))
		got, err = s.LoadTables(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 1, "save replaces")
	})

	t.Run("AppendAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

		for i := 0; i < 3; i++ {
			rec := Session(fmt.Sprintf("%d", i%2+1), base.Add(time.Duration(i)*time.Hour), 600, "10.5")
			require.NoError(t, s.AppendSession(ctx, rec))
			assert.NotEmpty(t, rec.ID)
		}

		all, err := s.ListSessions(ctx, model.HistoryFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt), "most recent first")
		assert.True(t, all[0].StartedAt.Equal(base.Add(2*time.Hour)))
		assert.Equal(t, "10.5", all[0].TotalCost.String())
		assert.Equal(t, int64(600), all[0].ElapsedSeconds)

		table1, err := s.ListSessions(ctx, model.HistoryFilter{TableID: "1"})
		require.NoError(t, err)
		assert.Len(t, table1, 2)

		ranged, err := s.ListSessions(ctx, model.HistoryFilter{
			StartTime: base.Add(time.Hour),
			EndTime:   base.Add(2 * time.Hour),
		})
		require.NoError(t, err)
		assert.Len(t, ranged, 2, "bounds are inclusive")
	})

	t.Run("DeleteSessions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.AppendSession(ctx, Session("1", time.Now().UTC(), 60, "1")))
		require.NoError(t, s.DeleteSessions(ctx))

		all, err := s.ListSessions(ctx, model.HistoryFilter{})
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("Snapshot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.LoadSnapshot(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
		states := map[string]model.TimerState{
			"1": {
				TableID:        "1",
				ElapsedSeconds: 125,
				AccruedCost:    decimal.RequireFromString("2"),
				CurrentRate:    decimal.RequireFromString("1"),
				BilledMinutes:  2,
				SessionStart:   &start,
			},
			"2": {TableID: "2"},
		}
		require.NoError(t, s.SaveSnapshot(ctx, states))

		got, err := s.LoadSnapshot(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(125), got["1"].ElapsedSeconds)
		assert.True(t, got["1"].AccruedCost.Equal(decimal.NewFromInt(2)))
		require.NotNil(t, got["1"].SessionStart)
		assert.True(t, got["1"].SessionStart.Equal(start))
		assert.Nil(t, got["2"].SessionStart)

		require.NoError(t, s.ClearSnapshot(ctx))
		_, err = s.LoadSnapshot(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
