package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
)

// Coordinator owns one timer per configured table, in configured order.
type Coordinator struct {
	mu       sync.RWMutex
	order    []string
	timers   map[string]*Timer
	clock    Clock
	recorder Recorder
	logger   *slog.Logger
}

// NewCoordinator creates an empty coordinator. Timers created later share
// clock and recorder.
func NewCoordinator(clock Clock, recorder Recorder, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		timers:   make(map[string]*Timer),
		clock:    clock,
		recorder: recorder,
		logger:   logger,
	}
}

// Sync reconciles the timer set with cfgs: new tables get idle timers,
// existing ones receive the new schedule, and timers for removed tables
// are stopped so their accrued cost reaches history before they go.
func (c *Coordinator) Sync(ctx context.Context, cfgs []model.TableConfig) error {
	c.mu.Lock()
	next := make(map[string]*Timer, len(cfgs))
	order := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		t, ok := c.timers[cfg.ID]
		if ok {
			t.SetSchedule(cfg.Schedule)
		} else {
			t = NewTimer(cfg, c.clock, c.recorder)
			c.logger.Debug("timer created", "table", cfg.ID)
		}
		next[cfg.ID] = t
		order = append(order, cfg.ID)
	}

	var removed []*Timer
	for id, t := range c.timers {
		if _, keep := next[id]; !keep {
			removed = append(removed, t)
		}
	}
	c.timers = next
	c.order = order
	c.mu.Unlock()

	var errs []error
	for _, t := range removed {
		rec, stopped, err := t.Stop(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		if stopped {
			c.logger.Info("session closed on table removal", "table", t.TableID(), "cost", rec.TotalCost.String())
		}
		c.logger.Debug("timer removed", "table", t.TableID())
	}
	return errors.Join(errs...)
}

// Get returns the timer for a table.
func (c *Coordinator) Get(id string) (*Timer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.timers[id]
	return t, ok
}

// Timers returns all timers in configured order.
func (c *Coordinator) Timers() []*Timer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Timer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.timers[id])
	}
	return out
}

// FreezeAll pauses every timer and returns a snapshot per table.
func (c *Coordinator) FreezeAll() map[string]model.TimerState {
	timers := c.Timers()
	states := make(map[string]model.TimerState, len(timers))
	for _, t := range timers {
		states[t.TableID()] = t.Freeze()
	}
	return states
}

// RestoreAll restores snapshots onto matching timers. Timers without a
// snapshot and snapshots without a timer are left alone.
func (c *Coordinator) RestoreAll(states map[string]model.TimerState) {
	for _, t := range c.Timers() {
		if state, ok := states[t.TableID()]; ok {
			t.Restore(state)
		}
	}
}

// TickAll advances every running timer by seconds.
func (c *Coordinator) TickAll(seconds int64) {
	for _, t := range c.Timers() {
		t.Advance(seconds)
	}
}

// CheckRates re-resolves the rate of every running timer and returns the
// tables whose rate changed.
func (c *Coordinator) CheckRates() []string {
	var changed []string
	for _, t := range c.Timers() {
		if t.CheckRate() {
			changed = append(changed, t.TableID())
		}
	}
	return changed
}

// Views renders every timer in configured order.
func (c *Coordinator) Views() []model.TableView {
	timers := c.Timers()
	views := make([]model.TableView, 0, len(timers))
	for _, t := range timers {
		views = append(views, t.View())
	}
	return views
}

// RunningCount returns the number of timers with a running session.
func (c *Coordinator) RunningCount() int {
	n := 0
	for _, t := range c.Timers() {
		if t.Status() == model.StatusRunning {
			n++
		}
	}
	return n
}
