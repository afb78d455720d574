package billing_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ogulcanaydogan/cuemeter/pkg/billing"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCoordinator(t *testing.T, ids ...string) (*billing.Coordinator, *fakeRecorder, *billing.TestClock) {
	t.Helper()
	clock := &billing.TestClock{CurrentTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &fakeRecorder{}
	c := billing.NewCoordinator(clock, rec, testLogger())

	cfgs := make([]model.TableConfig, 0, len(ids))
	for _, id := range ids {
		cfgs = append(cfgs, testTable(id))
	}
	require.NoError(t, c.Sync(context.Background(), cfgs))
	return c, rec, clock
}

func TestCoordinator_SyncKeepsOrder(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "3", "1", "2")

	var ids []string
	for _, timer := range c.Timers() {
		ids = append(ids, timer.TableID())
	}
	assert.Equal(t, []string{"3", "1", "2"}, ids)
}

func TestCoordinator_SyncPreservesRunningTimers(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "1", "2")
	t1, ok := c.Get("1")
	require.True(t, ok)
	t1.Start()
	t1.Advance(30)

	require.NoError(t, c.Sync(context.Background(), []model.TableConfig{testTable("1"), testTable("2"), testTable("4")}))

	again, ok := c.Get("1")
	require.True(t, ok)
	assert.Same(t, t1, again)
	assert.Equal(t, int64(30), again.State().ElapsedSeconds)
	_, ok = c.Get("4")
	assert.True(t, ok)
}

func TestCoordinator_SyncRemovalClosesSession(t *testing.T) {
	c, rec, _ := newTestCoordinator(t, "1", "2")
	t2, _ := c.Get("2")
	t2.Start()
	t2.Advance(61)

	require.NoError(t, c.Sync(context.Background(), []model.TableConfig{testTable("1")}))

	_, ok := c.Get("2")
	assert.False(t, ok)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "2", rec.records[0].TableID)
	assert.Equal(t, "1", rec.records[0].TotalCost.String())
}

func TestCoordinator_FreezeAndRestoreAll(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "1", "2", "3")
	t1, _ := c.Get("1")
	t2, _ := c.Get("2")
	t1.Start()
	t2.Start()
	c.TickAll(45)
	t2.Pause()

	states := c.FreezeAll()
	require.Len(t, states, 3)
	assert.Equal(t, model.StatusPaused, t1.Status())
	assert.Equal(t, int64(45), states["1"].ElapsedSeconds)
	assert.Equal(t, model.StatusIdle, states["3"].Status())

	c.TickAll(100)
	assert.Equal(t, int64(45), t1.State().ElapsedSeconds, "frozen timers do not advance")

	t1.Start()
	c.TickAll(10)
	c.RestoreAll(map[string]model.TimerState{"1": states["1"], "9": {TableID: "9"}})
	assert.Equal(t, int64(45), t1.State().ElapsedSeconds)
	assert.Equal(t, model.StatusPaused, t1.Status())
}

func TestCoordinator_CheckRates(t *testing.T) {
	c, _, clock := newTestCoordinator(t, "1", "2")
	t1, _ := c.Get("1")
	t1.Start()

	assert.Empty(t, c.CheckRates())
	clock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{"1"}, c.CheckRates())
}

func TestCoordinator_ViewsAndRunningCount(t *testing.T) {
	c, _, _ := newTestCoordinator(t, "1", "2")
	t1, _ := c.Get("1")
	t1.Start()

	views := c.Views()
	require.Len(t, views, 2)
	assert.True(t, views[0].Running)
	assert.False(t, views[1].Running)
	assert.Equal(t, 1, c.RunningCount())
}

func TestCoordinator_ConcurrentStopsAcrossTables(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5", "6"}
	c, rec, _ := newTestCoordinator(t, ids...)
	for _, timer := range c.Timers() {
		timer.Start()
	}
	c.TickAll(60)

	var wg sync.WaitGroup
	for _, timer := range c.Timers() {
		wg.Add(1)
		go func(tm *billing.Timer) {
			defer wg.Done()
			_, _, _ = tm.Stop(context.Background())
		}(timer)
	}
	wg.Wait()
	assert.Equal(t, len(ids), rec.count())
}

type countingDriver struct {
	ticks  atomic.Int64
	checks atomic.Int64
}

func (d *countingDriver) Tick(context.Context, time.Duration) { d.ticks.Add(1) }
func (d *countingDriver) CheckRates(context.Context)          { d.checks.Add(1) }

func TestNewScheduler_RejectsIntervals(t *testing.T) {
	_, err := billing.NewScheduler(&countingDriver{}, 500*time.Millisecond, time.Second, testLogger())
	assert.Error(t, err)

	_, err = billing.NewScheduler(&countingDriver{}, time.Second, 2*time.Minute, testLogger())
	assert.Error(t, err)

	_, err = billing.NewScheduler(&countingDriver{}, time.Second, 10*time.Second, testLogger())
	assert.NoError(t, err)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	d := &countingDriver{}
	s, err := billing.NewScheduler(d, time.Second, time.Second, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	ticks := d.ticks.Load()
	assert.GreaterOrEqual(t, ticks, int64(1))
	assert.GreaterOrEqual(t, d.checks.Load(), int64(1))

	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, ticks, d.ticks.Load(), "no ticks after Run returns")
}
