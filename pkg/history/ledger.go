package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// DefaultPageSize is used when a page request carries no size.
const DefaultPageSize = 10

var (
	// ErrPersistenceRead means stored history could not be loaded.
	ErrPersistenceRead = errors.New("history read failed")
	// ErrPersistenceWrite means a record is held in memory but not yet stored.
	ErrPersistenceWrite = errors.New("history write failed")
)

// Journal is the durable side of the ledger.
type Journal interface {
	AppendSession(ctx context.Context, record *model.SessionRecord) error
	ListSessions(ctx context.Context, filter model.HistoryFilter) ([]model.SessionRecord, error)
	DeleteSessions(ctx context.Context) error
}

// Ledger is the in-memory session history with write-through to a
// journal. Records that fail to persist are queued and retried on the
// next append or flush.
type Ledger struct {
	mu      sync.RWMutex
	records []model.SessionRecord
	pending []model.SessionRecord

	flushMu sync.Mutex
	journal Journal
	logger  *slog.Logger
}

// NewLedger creates an empty ledger. A nil journal keeps history in
// memory only.
func NewLedger(journal Journal, logger *slog.Logger) *Ledger {
	return &Ledger{journal: journal, logger: logger}
}

// Load replaces the in-memory history with the journal's contents. On
// failure the ledger is left empty and the error wraps ErrPersistenceRead.
func (l *Ledger) Load(ctx context.Context) error {
	if l.journal == nil {
		return nil
	}
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	records, err := l.journal.ListSessions(ctx, model.HistoryFilter{})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = nil
	if err != nil {
		l.records = nil
		return fmt.Errorf("%w: %w", ErrPersistenceRead, err)
	}
	// Journal order is newest first; keep append order internally.
	l.records = lo.Reverse(records)
	l.logger.Debug("history loaded", "records", len(records))
	return nil
}

// Append adds a record and writes it through to the journal.
func (l *Ledger) Append(ctx context.Context, record model.SessionRecord) error {
	l.mu.Lock()
	l.records = append(l.records, record)
	if l.journal != nil {
		l.pending = append(l.pending, record)
	}
	l.mu.Unlock()

	return l.Flush(ctx)
}

// Flush retries every queued write in append order. It stops at the first
// failure so the journal never sees records out of order.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.journal == nil {
		return nil
	}
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.RLock()
	queue := append([]model.SessionRecord(nil), l.pending...)
	l.mu.RUnlock()

	written := 0
	var writeErr error
	for _, rec := range queue {
		if err := l.journal.AppendSession(ctx, &rec); err != nil {
			writeErr = err
			break
		}
		written++
	}

	l.mu.Lock()
	l.pending = l.pending[written:]
	remaining := len(l.pending)
	l.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("%w: %d record(s) queued: %w", ErrPersistenceWrite, remaining, writeErr)
	}
	return nil
}

// Pending returns the number of records not yet persisted.
func (l *Ledger) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Len returns the total number of records held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Query returns the records matching filter, most recent first.
func (l *Ledger) Query(filter model.HistoryFilter) []model.SessionRecord {
	l.mu.RLock()
	matched := lo.Filter(l.records, func(r model.SessionRecord, _ int) bool {
		return filter.Matches(r)
	})
	l.mu.RUnlock()

	// Reverse first so ties list the later append first.
	matched = lo.Reverse(matched)
	storage.SortByCreatedDesc(matched)
	return matched
}

// Aggregate totals the records matching filter.
func (l *Ledger) Aggregate(filter model.HistoryFilter) model.HistorySummary {
	matched := l.Query(filter)

	summary := model.HistorySummary{
		SessionCount: int64(len(matched)),
		ByTable:      make(map[string]decimal.Decimal),
	}
	summary.TotalCost = lo.Reduce(matched, func(acc decimal.Decimal, r model.SessionRecord, _ int) decimal.Decimal {
		return acc.Add(r.TotalCost)
	}, decimal.Zero)
	summary.TotalSeconds = lo.SumBy(matched, func(r model.SessionRecord) int64 {
		return r.ElapsedSeconds
	})
	for _, r := range matched {
		summary.ByTable[r.TableID] = summary.ByTable[r.TableID].Add(r.TotalCost)
	}
	return summary
}

// Paginate returns one page of the filtered, sorted history. Pages outside
// the available range come back empty.
func (l *Ledger) Paginate(filter model.HistoryFilter, page model.Page) model.HistoryPage {
	if page.Size <= 0 {
		page.Size = DefaultPageSize
	}
	matched := l.Query(filter)

	result := model.HistoryPage{
		Records:      []model.SessionRecord{},
		Number:       page.Number,
		Size:         page.Size,
		TotalRecords: len(matched),
		TotalPages:   (len(matched) + page.Size - 1) / page.Size,
	}
	if page.Number < 1 || page.Number > result.TotalPages {
		return result
	}
	start := (page.Number - 1) * page.Size
	end := min(start+page.Size, len(matched))
	result.Records = matched[start:end]
	return result
}

// Clear removes all history from the journal and memory. Memory is only
// cleared once the journal succeeded.
func (l *Ledger) Clear(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	if l.journal != nil {
		if err := l.journal.DeleteSessions(ctx); err != nil {
			return fmt.Errorf("%w: clear: %w", ErrPersistenceWrite, err)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.pending = nil
	return nil
}
