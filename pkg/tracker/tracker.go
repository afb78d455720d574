package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ogulcanaydogan/cuemeter/internal/metrics"
	"github.com/ogulcanaydogan/cuemeter/pkg/alerts"
	"github.com/ogulcanaydogan/cuemeter/pkg/billing"
	"github.com/ogulcanaydogan/cuemeter/pkg/history"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/rates"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage"
)

const publishQueueSize = 64

// Tracker is the main entry point for operating the tables of a venue. It
// ties the table registry, the billing timers, the session history and
// the persistence layer together.
type Tracker struct {
	registry    *rates.Registry
	coordinator *billing.Coordinator
	ledger      *history.Ledger
	storage     storage.Storage
	alerter     *Alerter
	defaults    []model.TableConfig
	logger      *slog.Logger

	publisher Publisher
	publishMu sync.RWMutex
	publishCh chan func(Publisher) error
	publishWg sync.WaitGroup

	mu     sync.RWMutex
	admin  bool
	frozen map[string]model.TimerState
}

// New creates a tracker backed by store. Call Bootstrap before use.
func New(store storage.Storage, opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = billing.RealClock{}
	}
	defaults := opts.Defaults
	if len(defaults) == 0 {
		defaults = rates.DefaultTables()
	}

	ledger := history.NewLedger(store, logger)
	t := &Tracker{
		registry:    rates.NewRegistry(),
		coordinator: billing.NewCoordinator(clock, ledger, logger),
		ledger:      ledger,
		storage:     store,
		alerter:     NewAlerter(opts.Notifiers, logger),
		defaults:    defaults,
		logger:      logger,
		publisher:   opts.Publisher,
	}
	if t.publisher != nil {
		t.publishCh = make(chan func(Publisher) error, publishQueueSize)
		t.publishWg.Add(1)
		go t.publishLoop(t.publishCh)
	}
	return t
}

// Bootstrap loads tables, history and any leftover admin snapshot.
// Storage failures degrade to defaults or empty history; only an
// unusable table set is fatal.
func (t *Tracker) Bootstrap(ctx context.Context) error {
	cfgs := t.loadTables(ctx)
	if err := t.registry.Replace(cfgs); err != nil {
		return fmt.Errorf("apply table configuration: %w", err)
	}
	if err := t.coordinator.Sync(ctx, cfgs); err != nil {
		return fmt.Errorf("create timers: %w", err)
	}

	if err := t.ledger.Load(ctx); err != nil {
		t.alerter.Dispatch(ctx, alerts.Alert{
			Level:   alerts.AlertWarning,
			Event:   alerts.EventHistoryReadFailed,
			Message: fmt.Sprintf("Session history could not be loaded, starting empty: %v", err),
		})
	}

	if t.storage != nil {
		states, err := t.storage.LoadSnapshot(ctx)
		switch {
		case err == nil:
			t.coordinator.RestoreAll(states)
			if err := t.storage.ClearSnapshot(ctx); err != nil {
				t.logger.Warn("clear timer snapshot", "error", err)
			}
			t.logger.Info("timer snapshot restored", "tables", len(states))
		case !storage.IsNotFound(err):
			t.logger.Warn("load timer snapshot", "error", err)
		}
	}

	metrics.HistoryPending.Set(float64(t.ledger.Pending()))
	t.logger.Info("tracker ready",
		"tables", len(cfgs),
		"sessions", t.ledger.Len(),
	)
	return nil
}

func (t *Tracker) loadTables(ctx context.Context) []model.TableConfig {
	if t.storage == nil {
		return t.defaults
	}
	cfgs, err := t.storage.LoadTables(ctx)
	switch {
	case storage.IsNotFound(err):
		t.logger.Info("no saved table configuration, using defaults", "tables", len(t.defaults))
		if err := t.storage.SaveTables(ctx, t.defaults); err != nil {
			t.logger.Warn("save default tables", "error", err)
		}
		return t.defaults
	case err != nil:
		t.logger.Warn("load table configuration, using defaults", "error", err)
		return t.defaults
	}
	if err := rates.ValidateAll(cfgs); err != nil {
		t.logger.Warn("saved table configuration invalid, using defaults", "error", err)
		return t.defaults
	}
	return cfgs
}

// Start opens or resumes the session of a table.
func (t *Tracker) Start(ctx context.Context, tableID string) (model.TableView, error) {
	var started bool
	timer, err := t.command(tableID, func(timer *billing.Timer) {
		started = timer.Start()
	})
	if err != nil {
		return model.TableView{}, err
	}
	if started {
		t.logger.Info("session started", "table", tableID)
	}
	return t.afterCommand(timer), nil
}

// Pause suspends the session of a table.
func (t *Tracker) Pause(ctx context.Context, tableID string) (model.TableView, error) {
	var paused bool
	timer, err := t.command(tableID, func(timer *billing.Timer) {
		paused = timer.Pause()
	})
	if err != nil {
		return model.TableView{}, err
	}
	if paused {
		t.logger.Info("session paused", "table", tableID, "elapsed", timer.State().ElapsedSeconds)
	}
	return t.afterCommand(timer), nil
}

// Stop closes the session of a table. ok is false when there was nothing
// to stop. A returned error wrapping history.ErrPersistenceWrite means the
// session was closed and is held in memory until storage recovers.
func (t *Tracker) Stop(ctx context.Context, tableID string) (record model.SessionRecord, ok bool, err error) {
	var stopErr error
	timer, err := t.command(tableID, func(timer *billing.Timer) {
		record, ok, stopErr = timer.Stop(ctx)
	})
	if err != nil {
		return model.SessionRecord{}, false, err
	}

	if ok {
		t.sessionClosed(record)
	}
	if stopErr != nil {
		t.recordFailed(ctx, tableID, stopErr)
	}
	t.afterCommand(timer)
	return record, ok, stopErr
}

// command runs fn on a table's timer while holding off admin mode
// transitions, so no control call lands between a freeze and its restore.
func (t *Tracker) command(tableID string, fn func(*billing.Timer)) (*billing.Timer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.admin {
		return nil, ErrAdminMode
	}
	timer, ok := t.coordinator.Get(tableID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, tableID)
	}
	fn(timer)
	return timer, nil
}

func (t *Tracker) afterCommand(timer *billing.Timer) model.TableView {
	view := timer.View()
	metrics.TablesRunning.Set(float64(t.coordinator.RunningCount()))
	t.publish(func(p Publisher) error { return p.PublishTable(view) })
	return view
}

func (t *Tracker) sessionClosed(record model.SessionRecord) {
	t.logger.Info("session closed",
		"table", record.TableID,
		"elapsed", record.ElapsedSeconds,
		"cost", record.TotalCost.StringFixed(2),
	)
	metrics.SessionsCompleted.WithLabelValues(record.TableID).Inc()
	metrics.Revenue.WithLabelValues(record.TableID).Add(record.TotalCost.InexactFloat64())
	metrics.SessionDuration.Observe(float64(record.ElapsedSeconds))
	t.publish(func(p Publisher) error { return p.PublishSession(record) })
}

// recordFailed raises a critical alert for sessions that exist only in memory.
func (t *Tracker) recordFailed(ctx context.Context, tableID string, err error) {
	pending := t.ledger.Pending()
	metrics.HistoryWriteFailures.Inc()
	metrics.HistoryPending.Set(float64(pending))
	t.alerter.Dispatch(ctx, alerts.Alert{
		Level:   alerts.AlertCritical,
		Event:   alerts.EventHistoryWriteFailed,
		TableID: tableID,
		Pending: pending,
		Message: fmt.Sprintf("Session history could not be saved: %v", err),
	})
}

// Tick implements billing.Driver.
func (t *Tracker) Tick(_ context.Context, step time.Duration) {
	t.coordinator.TickAll(int64(step / time.Second))
	if t.publisher == nil {
		return
	}
	for _, timer := range t.coordinator.Timers() {
		if timer.Status() != model.StatusRunning {
			continue
		}
		view := timer.View()
		t.publish(func(p Publisher) error { return p.PublishTable(view) })
	}
}

// CheckRates implements billing.Driver. It also retries history writes
// that are still pending.
func (t *Tracker) CheckRates(ctx context.Context) {
	for _, id := range t.coordinator.CheckRates() {
		metrics.RateChanges.WithLabelValues(id).Inc()
		if timer, ok := t.coordinator.Get(id); ok {
			view := timer.View()
			t.logger.Info("rate changed", "table", id, "rate_per_hour", view.RatePerHour.String())
			t.publish(func(p Publisher) error { return p.PublishTable(view) })
		}
	}

	if t.ledger.Pending() == 0 {
		return
	}
	if err := t.ledger.Flush(ctx); err != nil {
		t.logger.Warn("retry history write", "pending", t.ledger.Pending(), "error", err)
	} else {
		t.logger.Info("pending history written")
	}
	metrics.HistoryPending.Set(float64(t.ledger.Pending()))
}

// EnterAdmin freezes every timer and persists their state so a restart
// during maintenance does not lose open sessions.
func (t *Tracker) EnterAdmin(ctx context.Context) error {
	t.mu.Lock()
	if t.admin {
		t.mu.Unlock()
		return nil
	}
	t.admin = true
	t.frozen = t.coordinator.FreezeAll()
	states := t.frozen
	t.mu.Unlock()

	metrics.TablesRunning.Set(0)
	t.logger.Info("admin mode entered", "tables", len(states))

	if t.storage == nil {
		return nil
	}
	if err := t.storage.SaveSnapshot(ctx, states); err != nil {
		t.alerter.Dispatch(ctx, alerts.Alert{
			Level:   alerts.AlertWarning,
			Event:   alerts.EventSnapshotWriteFailed,
			Message: fmt.Sprintf("Timer state could not be saved on entering admin mode: %v", err),
		})
		return fmt.Errorf("save timer snapshot: %w", err)
	}
	return nil
}

// ExitAdmin restores the frozen timers. They come back paused.
func (t *Tracker) ExitAdmin(ctx context.Context) error {
	t.mu.Lock()
	if !t.admin {
		t.mu.Unlock()
		return nil
	}
	t.coordinator.RestoreAll(t.frozen)
	t.admin = false
	t.frozen = nil
	t.mu.Unlock()

	t.logger.Info("admin mode exited")
	for _, view := range t.coordinator.Views() {
		t.publish(func(p Publisher) error { return p.PublishTable(view) })
	}
	if t.storage == nil {
		return nil
	}
	if err := t.storage.ClearSnapshot(ctx); err != nil {
		return fmt.Errorf("clear timer snapshot: %w", err)
	}
	return nil
}

// Admin reports whether admin mode is active.
func (t *Tracker) Admin() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.admin
}

// Tables returns the active configuration in configured order.
func (t *Tracker) Tables() []model.TableConfig {
	return t.registry.All()
}

// UpdateTables validates and applies a new table set. A rejected set
// leaves the previous configuration active. Tables that disappear have
// their open session closed into history.
func (t *Tracker) UpdateTables(ctx context.Context, specs []rates.TableSpec) ([]model.TableConfig, error) {
	cfgs, err := rates.BuildAll(specs)
	if err != nil {
		var cfgErr *rates.ConfigurationError
		if errors.As(err, &cfgErr) {
			t.alerter.Dispatch(ctx, alerts.Alert{
				Level:   alerts.AlertWarning,
				Event:   alerts.EventConfigRejected,
				TableID: cfgErr.TableID,
				Message: fmt.Sprintf("Table configuration rejected: %v", err),
			})
		}
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.storage != nil {
		if err := t.storage.SaveTables(ctx, cfgs); err != nil {
			return nil, fmt.Errorf("save tables: %w", err)
		}
	}
	if err := t.registry.Replace(cfgs); err != nil {
		return nil, err
	}
	if err := t.coordinator.Sync(ctx, cfgs); err != nil {
		t.recordFailed(ctx, "", err)
	}
	if t.admin {
		t.dropFrozen(ctx, cfgs)
	}
	metrics.TablesRunning.Set(float64(t.coordinator.RunningCount()))
	t.logger.Info("table configuration applied", "tables", len(cfgs))
	return cfgs, nil
}

// dropFrozen forgets frozen states of tables that are no longer
// configured. Sync already closed their sessions into history, so a
// table added back under the same id must start idle. Callers hold t.mu.
func (t *Tracker) dropFrozen(ctx context.Context, cfgs []model.TableConfig) {
	keep := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		keep[cfg.ID] = true
	}
	dropped := 0
	for id := range t.frozen {
		if !keep[id] {
			delete(t.frozen, id)
			dropped++
		}
	}
	if dropped == 0 || t.storage == nil {
		return
	}
	if err := t.storage.SaveSnapshot(ctx, t.frozen); err != nil {
		t.alerter.Dispatch(ctx, alerts.Alert{
			Level:   alerts.AlertWarning,
			Event:   alerts.EventSnapshotWriteFailed,
			Message: fmt.Sprintf("Timer state could not be saved after removing tables: %v", err),
		})
	}
}

// Views renders every table in configured order.
func (t *Tracker) Views() []model.TableView {
	return t.coordinator.Views()
}

// View renders a single table.
func (t *Tracker) View(tableID string) (model.TableView, error) {
	timer, ok := t.coordinator.Get(tableID)
	if !ok {
		return model.TableView{}, fmt.Errorf("%w: %q", ErrUnknownTable, tableID)
	}
	return timer.View(), nil
}

// State returns the full snapshot of a table's timer.
func (t *Tracker) State(tableID string) (model.TimerState, error) {
	timer, ok := t.coordinator.Get(tableID)
	if !ok {
		return model.TimerState{}, fmt.Errorf("%w: %q", ErrUnknownTable, tableID)
	}
	return timer.State(), nil
}

// TableHistory returns the sessions of one table, most recent first.
func (t *Tracker) TableHistory(tableID string) ([]model.SessionRecord, error) {
	if _, ok := t.coordinator.Get(tableID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, tableID)
	}
	return t.ledger.Query(model.HistoryFilter{TableID: tableID}), nil
}

// History returns one page of matching sessions.
func (t *Tracker) History(filter model.HistoryFilter, page model.Page) model.HistoryPage {
	return t.ledger.Paginate(filter, page)
}

// Records returns every matching session, most recent first.
func (t *Tracker) Records(filter model.HistoryFilter) []model.SessionRecord {
	return t.ledger.Query(filter)
}

// Summary totals the matching sessions.
func (t *Tracker) Summary(filter model.HistoryFilter) model.HistorySummary {
	return t.ledger.Aggregate(filter)
}

// ClearHistory deletes all session history.
func (t *Tracker) ClearHistory(ctx context.Context) error {
	if err := t.ledger.Clear(ctx); err != nil {
		return err
	}
	for _, timer := range t.coordinator.Timers() {
		timer.ClearHistory()
	}
	metrics.HistoryPending.Set(0)
	t.logger.Info("history cleared")
	return nil
}

// PendingWrites returns the number of sessions not yet persisted.
func (t *Tracker) PendingWrites() int {
	return t.ledger.Pending()
}

// Shutdown freezes open sessions into a snapshot, makes a last attempt at
// pending history writes and stops publishing.
func (t *Tracker) Shutdown(ctx context.Context) error {
	var errs []error

	t.mu.Lock()
	if !t.admin && t.storage != nil && t.hasOpenSessions() {
		if err := t.storage.SaveSnapshot(ctx, t.coordinator.FreezeAll()); err != nil {
			errs = append(errs, fmt.Errorf("save timer snapshot: %w", err))
		} else {
			t.logger.Info("open sessions saved for restart")
		}
	}
	t.mu.Unlock()

	if err := t.ledger.Flush(ctx); err != nil {
		errs = append(errs, err)
	}

	t.publishMu.Lock()
	ch := t.publishCh
	t.publishCh = nil
	t.publishMu.Unlock()
	if ch != nil {
		close(ch)
		t.publishWg.Wait()
	}
	return errors.Join(errs...)
}

func (t *Tracker) hasOpenSessions() bool {
	for _, timer := range t.coordinator.Timers() {
		if timer.Status() != model.StatusIdle {
			return true
		}
	}
	return false
}

// publish queues a delivery without blocking the caller. Deliveries are
// dropped when the queue is full.
func (t *Tracker) publish(fn func(Publisher) error) {
	t.publishMu.RLock()
	defer t.publishMu.RUnlock()
	if t.publishCh == nil {
		return
	}
	select {
	case t.publishCh <- fn:
	default:
		t.logger.Warn("publish queue full, update dropped")
	}
}

func (t *Tracker) publishLoop(ch <-chan func(Publisher) error) {
	defer t.publishWg.Done()
	for fn := range ch {
		if err := fn(t.publisher); err != nil {
			t.logger.Warn("publish failed", "error", err)
		}
	}
}
