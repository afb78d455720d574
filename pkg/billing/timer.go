package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/rates"
	"github.com/shopspring/decimal"
)

const secondsPerMinute = 60

// Recorder receives finalized session records.
type Recorder interface {
	// Append stores a record. A returned error means the record was kept
	// in memory but could not be persisted.
	Append(ctx context.Context, record model.SessionRecord) error
}

// Timer bills one table. All methods are safe for concurrent use and
// invalid transitions are silent no-ops.
type Timer struct {
	mu       sync.Mutex
	tableID  string
	schedule model.RateSchedule
	clock    Clock
	recorder Recorder

	elapsed      int64
	running      bool
	cost         decimal.Decimal
	rate         decimal.Decimal
	billed       int64
	sessionStart *time.Time
	history      []model.SessionRecord
}

// NewTimer creates an idle timer for the given table.
func NewTimer(cfg model.TableConfig, clock Clock, recorder Recorder) *Timer {
	t := &Timer{
		tableID:  cfg.ID,
		schedule: cfg.Schedule,
		clock:    clock,
		recorder: recorder,
	}
	t.rate = rates.Resolve(cfg.Schedule, clock.Now())
	return t
}

// TableID returns the table this timer bills.
func (t *Timer) TableID() string {
	return t.tableID
}

// Start opens a session when idle or resumes a paused one.
// It reports whether the timer changed state.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return false
	}
	now := t.clock.Now()
	if t.sessionStart == nil && t.elapsed == 0 {
		t.sessionStart = &now
		t.cost = decimal.Zero
		t.billed = 0
	}
	t.rate = rates.Resolve(t.schedule, now)
	t.running = true
	return true
}

// Pause suspends a running session without losing time or cost.
func (t *Timer) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return false
	}
	t.running = false
	return true
}

// Stop closes the session and hands the record to the recorder.
// The timer resets to idle even when the recorder reports an error;
// ok is false when there was nothing to stop.
func (t *Timer) Stop(ctx context.Context) (record model.SessionRecord, ok bool, err error) {
	t.mu.Lock()
	if !t.running && t.elapsed == 0 {
		t.mu.Unlock()
		return model.SessionRecord{}, false, nil
	}

	now := t.clock.Now()
	started := now.Add(-time.Duration(t.elapsed) * time.Second)
	if t.sessionStart != nil {
		started = *t.sessionStart
	}
	record = model.SessionRecord{
		ID:             uuid.New().String(),
		TableID:        t.tableID,
		StartedAt:      started,
		EndedAt:        now,
		ElapsedSeconds: t.elapsed,
		TotalCost:      t.cost,
		CreatedAt:      now,
	}
	t.history = append([]model.SessionRecord{record}, t.history...)
	t.reset()
	t.mu.Unlock()

	if t.recorder != nil {
		if err := t.recorder.Append(ctx, record); err != nil {
			return record, true, fmt.Errorf("record session for table %s: %w", t.tableID, err)
		}
	}
	return record, true, nil
}

// Tick advances a running timer by one second.
func (t *Timer) Tick() {
	t.Advance(1)
}

// Advance adds seconds of elapsed time to a running timer and accrues
// cost for every minute boundary crossed.
func (t *Timer) Advance(seconds int64) {
	if seconds <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.elapsed += seconds
	t.accrue()
}

// accrue bills each whole minute exactly once at the cached rate.
func (t *Timer) accrue() {
	crossed := t.elapsed / secondsPerMinute
	if crossed <= t.billed {
		return
	}
	t.cost = t.cost.Add(t.rate.Mul(decimal.NewFromInt(crossed - t.billed)))
	t.billed = crossed
}

// CheckRate re-resolves the rate of a running timer. The new rate applies
// from the next minute boundary on. It reports whether the rate changed.
func (t *Timer) CheckRate() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return false
	}
	next := rates.Resolve(t.schedule, t.clock.Now())
	if next.Equal(t.rate) {
		return false
	}
	t.rate = next
	return true
}

// SetSchedule replaces the rate schedule and re-resolves the cached rate.
func (t *Timer) SetSchedule(schedule model.RateSchedule) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.schedule = schedule
	t.rate = rates.Resolve(schedule, t.clock.Now())
}

// Schedule returns the active rate schedule.
func (t *Timer) Schedule() model.RateSchedule {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.schedule
}

// Status reports whether the timer is idle, running or paused.
func (t *Timer) Status() model.TimerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot().Status()
}

// State captures a snapshot of the timer.
func (t *Timer) State() model.TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// Freeze pauses the timer and captures its state in one step.
func (t *Timer) Freeze() model.TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = false
	return t.snapshot()
}

// Restore overwrites the timer with a snapshot. The restored timer is
// never running; callers resume it with Start.
func (t *Timer) Restore(state model.TimerState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.elapsed = max(state.ElapsedSeconds, 0)
	t.running = false
	t.cost = state.AccruedCost
	t.billed = t.elapsed / secondsPerMinute
	if state.CurrentRate.IsPositive() {
		t.rate = state.CurrentRate
	} else {
		t.rate = rates.Resolve(t.schedule, t.clock.Now())
	}
	t.sessionStart = nil
	if state.SessionStart != nil {
		start := *state.SessionStart
		t.sessionStart = &start
	}
	t.history = append([]model.SessionRecord(nil), state.History...)
}

// History returns the sessions closed on this timer, most recent first.
func (t *Timer) History() []model.SessionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.SessionRecord(nil), t.history...)
}

// ClearHistory drops the local session list.
func (t *Timer) ClearHistory() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
}

// View renders the timer for display. An idle timer shows the rate that
// would apply if a session started now.
func (t *Timer) View() model.TableView {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.snapshot()
	rate := t.rate
	if state.Status() == model.StatusIdle {
		rate = rates.Resolve(t.schedule, t.clock.Now())
	}
	return model.TableView{
		TableID:     t.tableID,
		State:       state.Status(),
		Elapsed:     model.FormatElapsed(t.elapsed),
		Cost:        model.FormatMoney(t.cost),
		Running:     t.running,
		RatePerHour: rate.Mul(decimal.NewFromInt(60)),
	}
}

func (t *Timer) reset() {
	t.elapsed = 0
	t.running = false
	t.cost = decimal.Zero
	t.billed = 0
	t.sessionStart = nil
}

func (t *Timer) snapshot() model.TimerState {
	state := model.TimerState{
		TableID:        t.tableID,
		ElapsedSeconds: t.elapsed,
		Running:        t.running,
		AccruedCost:    t.cost,
		CurrentRate:    t.rate,
		BilledMinutes:  t.billed,
		History:        append([]model.SessionRecord(nil), t.history...),
	}
	if t.sessionStart != nil {
		start := *t.sessionStart
		state.SessionStart = &start
	}
	return state
}
