package history_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ogulcanaydogan/cuemeter/pkg/history"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func record(id, table string, offset time.Duration, cost string) model.SessionRecord {
	start := base.Add(offset)
	return model.SessionRecord{
		ID:             id,
		TableID:        table,
		StartedAt:      start,
		EndedAt:        start.Add(10 * time.Minute),
		ElapsedSeconds: 600,
		TotalCost:      decimal.RequireFromString(cost),
		CreatedAt:      start.Add(10 * time.Minute),
	}
}

// flakyJournal fails writes while failing is set.
type flakyJournal struct {
	*storage.Memory
	mu      sync.Mutex
	failing bool
	readErr error
}

func (j *flakyJournal) setFailing(v bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failing = v
}

func (j *flakyJournal) AppendSession(ctx context.Context, r *model.SessionRecord) error {
	j.mu.Lock()
	failing := j.failing
	j.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return j.Memory.AppendSession(ctx, r)
}

func (j *flakyJournal) ListSessions(ctx context.Context, f model.HistoryFilter) ([]model.SessionRecord, error) {
	if j.readErr != nil {
		return nil, j.readErr
	}
	return j.Memory.ListSessions(ctx, f)
}

func (j *flakyJournal) DeleteSessions(ctx context.Context) error {
	j.mu.Lock()
	failing := j.failing
	j.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return j.Memory.DeleteSessions(ctx)
}

func newLedger(t *testing.T) (*history.Ledger, *flakyJournal) {
	t.Helper()
	j := &flakyJournal{Memory: storage.NewMemory()}
	return history.NewLedger(j, testLogger()), j
}

func TestLedger_AppendAndQuery(t *testing.T) {
	l, j := newLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, record("a", "1", 0, "1")))
	require.NoError(t, l.Append(ctx, record("b", "2", time.Hour, "2")))
	require.NoError(t, l.Append(ctx, record("c", "1", 2*time.Hour, "3")))

	got := l.Query(model.HistoryFilter{})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})

	stored, err := j.ListSessions(ctx, model.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 3, "writes go through to the journal")
}

func TestLedger_QueryFilters(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, record(fmt.Sprintf("r%d", i), fmt.Sprintf("%d", i%2+1), time.Duration(i)*time.Hour, "1")))
	}

	assert.Len(t, l.Query(model.HistoryFilter{TableID: "1"}), 3)
	assert.Len(t, l.Query(model.HistoryFilter{TableID: "9"}), 0)

	ranged := l.Query(model.HistoryFilter{StartTime: base.Add(time.Hour), EndTime: base.Add(3 * time.Hour)})
	require.Len(t, ranged, 3, "range is inclusive on both ends")
	assert.Equal(t, "r3", ranged[0].ID)
	assert.Equal(t, "r1", ranged[2].ID)
}

func TestLedger_Aggregate(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, record("a", "1", 0, "1.10")))
	require.NoError(t, l.Append(ctx, record("b", "2", time.Hour, "2.20")))
	require.NoError(t, l.Append(ctx, record("c", "1", 2*time.Hour, "0.70")))

	summary := l.Aggregate(model.HistoryFilter{})
	assert.Equal(t, "4", summary.TotalCost.String())
	assert.Equal(t, int64(3), summary.SessionCount)
	assert.Equal(t, int64(1800), summary.TotalSeconds)
	assert.Equal(t, "1.8", summary.ByTable["1"].String())
	assert.Equal(t, "2.2", summary.ByTable["2"].String())

	empty := l.Aggregate(model.HistoryFilter{TableID: "none"})
	assert.True(t, empty.TotalCost.IsZero())
	assert.Equal(t, int64(0), empty.SessionCount)
}

func TestLedger_AggregateMatchesQuery(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		cost := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(3))
		r := record(fmt.Sprintf("r%d", i), "1", time.Duration(i)*time.Minute, "0")
		r.TotalCost = cost
		require.NoError(t, l.Append(ctx, r))
	}

	filter := model.HistoryFilter{StartTime: base.Add(5 * time.Minute), EndTime: base.Add(14 * time.Minute)}
	sum := decimal.Zero
	for _, r := range l.Query(filter) {
		sum = sum.Add(r.TotalCost)
	}
	assert.True(t, sum.Equal(l.Aggregate(filter).TotalCost))
}

func TestLedger_Paginate(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, l.Append(ctx, record(fmt.Sprintf("r%02d", i), "1", time.Duration(i)*time.Minute, "1")))
	}

	first := l.Paginate(model.HistoryFilter{}, model.Page{Number: 1})
	assert.Equal(t, history.DefaultPageSize, first.Size)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, 25, first.TotalRecords)
	require.Len(t, first.Records, 10)
	assert.Equal(t, "r24", first.Records[0].ID)

	last := l.Paginate(model.HistoryFilter{}, model.Page{Number: 3, Size: 10})
	require.Len(t, last.Records, 5)
	assert.Equal(t, "r00", last.Records[4].ID)

	beyond := l.Paginate(model.HistoryFilter{}, model.Page{Number: 4, Size: 10})
	assert.Empty(t, beyond.Records)
	assert.Equal(t, 3, beyond.TotalPages)

	zero := l.Paginate(model.HistoryFilter{}, model.Page{Number: 0, Size: 10})
	assert.Empty(t, zero.Records)
}

func TestLedger_PagesCoverResultOnce(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	const k = 13
	for i := 0; i < k; i++ {
		table := fmt.Sprintf("%d", i%3+1)
		// Pairs share a creation time to exercise tie ordering.
		require.NoError(t, l.Append(ctx, record(fmt.Sprintf("r%02d", i), table, time.Duration(i/2)*time.Minute, "1")))
	}

	for _, filter := range []model.HistoryFilter{{}, {TableID: "2"}} {
		want := l.Query(filter)
		for size := 1; size <= k+1; size++ {
			var joined []model.SessionRecord
			total := l.Paginate(filter, model.Page{Number: 1, Size: size}).TotalPages
			for n := 1; n <= total; n++ {
				page := l.Paginate(filter, model.Page{Number: n, Size: size})
				require.NotEmpty(t, page.Records, "page %d of %d, size %d", n, total, size)
				joined = append(joined, page.Records...)
			}
			require.Equal(t, want, joined, "size %d, filter %+v", size, filter)
		}
	}
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	l, j := newLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for table := 0; table < 4; table++ {
		wg.Add(1)
		go func(table int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id := fmt.Sprintf("t%d-%d", table, i)
				_ = l.Append(ctx, record(id, fmt.Sprintf("%d", table), time.Duration(i)*time.Second, "1"))
			}
		}(table)
	}
	wg.Wait()

	assert.Equal(t, 100, l.Len())
	stored, err := j.ListSessions(ctx, model.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 100)
}

func TestLedger_WriteFailureQueuesAndRetries(t *testing.T) {
	l, j := newLedger(t)
	ctx := context.Background()

	j.setFailing(true)
	err := l.Append(ctx, record("a", "1", 0, "1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, history.ErrPersistenceWrite))
	assert.Len(t, l.Query(model.HistoryFilter{}), 1, "record is kept in memory")
	assert.Equal(t, 1, l.Pending())

	j.setFailing(false)
	require.NoError(t, l.Append(ctx, record("b", "1", time.Hour, "1")))
	assert.Equal(t, 0, l.Pending())

	stored, err := j.ListSessions(ctx, model.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "b", stored[0].ID)
	assert.Equal(t, "a", stored[1].ID)
}

func TestLedger_Flush(t *testing.T) {
	l, j := newLedger(t)
	ctx := context.Background()

	j.setFailing(true)
	_ = l.Append(ctx, record("a", "1", 0, "1"))
	require.Error(t, l.Flush(ctx))

	j.setFailing(false)
	require.NoError(t, l.Flush(ctx))
	assert.Equal(t, 0, l.Pending())
}

func TestLedger_LoadFailureStartsEmpty(t *testing.T) {
	l, j := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, record("a", "1", 0, "1")))

	j.readErr = errors.New("corrupt file")
	err := l.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, history.ErrPersistenceRead))
	assert.Equal(t, 0, l.Len())
}

func TestLedger_LoadRestoresOrder(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	for i, id := range []string{"a", "b", "c"} {
		r := record(id, "1", time.Duration(i)*time.Hour, "1")
		require.NoError(t, mem.AppendSession(ctx, &r))
	}

	l := history.NewLedger(mem, testLogger())
	require.NoError(t, l.Load(ctx))
	got := l.Query(model.HistoryFilter{})
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
}

func TestLedger_Clear(t *testing.T) {
	l, j := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, record("a", "1", 0, "1")))

	j.setFailing(true)
	require.Error(t, l.Clear(ctx))
	assert.Equal(t, 1, l.Len(), "memory survives a failed clear")

	j.setFailing(false)
	require.NoError(t, l.Clear(ctx))
	assert.Equal(t, 0, l.Len())
	stored, err := j.ListSessions(ctx, model.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestLedger_MemoryOnly(t *testing.T) {
	l := history.NewLedger(nil, testLogger())
	ctx := context.Background()
	require.NoError(t, l.Load(ctx))
	require.NoError(t, l.Append(ctx, record("a", "1", 0, "1")))
	assert.Equal(t, 0, l.Pending())
	assert.Equal(t, 1, l.Len())
}
