package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MinutesPerDay is the number of distinct TimeOfDay values.
const MinutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("malformed time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed time of day %q: hour out of range", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed time of day %q: minute out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// MustParseTimeOfDay is like ParseTimeOfDay but panics on error.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// OfTime reduces t to its time of day in t's location. Seconds are dropped.
func OfTime(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(d)/60, int(d)%60)
}

func (d TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RateEntry is one row of a rate schedule: Rate applies from Start onwards.
type RateEntry struct {
	Start TimeOfDay       `json:"time"`
	Rate  decimal.Decimal `json:"rate"`
}

// RateSchedule holds exactly two entries in ascending Start order.
// Rates are currency units per minute.
type RateSchedule [2]RateEntry

// TableConfig binds a table identifier to its rate schedule.
type TableConfig struct {
	ID       string       `json:"id"`
	Schedule RateSchedule `json:"schedule"`
}

// SessionRecord is the immutable result of closing a billing session.
type SessionRecord struct {
	ID             string          `json:"id" db:"id"`
	TableID        string          `json:"table_id" db:"table_id"`
	StartedAt      time.Time       `json:"started_at" db:"started_at"`
	EndedAt        time.Time       `json:"ended_at" db:"ended_at"`
	ElapsedSeconds int64           `json:"elapsed_seconds" db:"elapsed_seconds"`
	TotalCost      decimal.Decimal `json:"total_cost" db:"total_cost"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Duration returns the billed elapsed time of the session.
func (r SessionRecord) Duration() time.Duration {
	return time.Duration(r.ElapsedSeconds) * time.Second
}

// TimerStatus is the externally visible state of a billing timer.
type TimerStatus string

const (
	StatusIdle    TimerStatus = "idle"
	StatusRunning TimerStatus = "running"
	StatusPaused  TimerStatus = "paused"
)

// TimerState is a point-in-time snapshot of a billing timer.
// SessionStart is non-nil exactly when a session is open.
type TimerState struct {
	TableID        string          `json:"table_id"`
	ElapsedSeconds int64           `json:"elapsed_seconds"`
	Running        bool            `json:"running"`
	AccruedCost    decimal.Decimal `json:"accrued_cost"`
	CurrentRate    decimal.Decimal `json:"current_rate"`
	BilledMinutes  int64           `json:"billed_minutes"`
	SessionStart   *time.Time      `json:"session_start,omitempty"`
	History        []SessionRecord `json:"history,omitempty"`
}

// Status derives the timer status from the snapshot.
func (s TimerState) Status() TimerStatus {
	switch {
	case s.Running:
		return StatusRunning
	case s.SessionStart != nil || s.ElapsedSeconds > 0:
		return StatusPaused
	default:
		return StatusIdle
	}
}

// TableView is the presentation form of a timer.
type TableView struct {
	TableID     string          `json:"table_id"`
	State       TimerStatus     `json:"state"`
	Elapsed     string          `json:"elapsed"`
	Cost        string          `json:"cost"`
	Running     bool            `json:"running"`
	RatePerHour decimal.Decimal `json:"rate_per_hour"`
}

// HistoryFilter restricts history queries. Zero values impose no restriction.
// Time bounds are inclusive and apply to SessionRecord.StartedAt.
type HistoryFilter struct {
	TableID   string    `json:"table_id,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// Matches reports whether r passes the filter.
func (f HistoryFilter) Matches(r SessionRecord) bool {
	if f.TableID != "" && r.TableID != f.TableID {
		return false
	}
	if !f.StartTime.IsZero() && r.StartedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && r.StartedAt.After(f.EndTime) {
		return false
	}
	return true
}

// Page selects a 1-based page of Size records.
type Page struct {
	Number int `json:"number"`
	Size   int `json:"size"`
}

// HistoryPage is one page of a filtered, sorted history result.
type HistoryPage struct {
	Records      []SessionRecord `json:"records"`
	Number       int             `json:"number"`
	Size         int             `json:"size"`
	TotalPages   int             `json:"total_pages"`
	TotalRecords int             `json:"total_records"`
}

// HistorySummary holds aggregated history statistics.
type HistorySummary struct {
	TotalCost    decimal.Decimal            `json:"total_cost"`
	SessionCount int64                      `json:"session_count"`
	TotalSeconds int64                      `json:"total_seconds"`
	ByTable      map[string]decimal.Decimal `json:"by_table,omitempty"`
}

// FormatElapsed renders seconds as M:SS with an unbounded minute field.
func FormatElapsed(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// FormatMoney renders an amount with two decimals. Rounding happens here only.
func FormatMoney(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}

// ReportPeriod names a reporting window relative to now.
type ReportPeriod string

const (
	PeriodDaily   ReportPeriod = "daily"
	PeriodWeekly  ReportPeriod = "weekly"
	PeriodMonthly ReportPeriod = "monthly"
)

// PeriodBounds returns the start and end of the period containing now,
// in now's location. The end is the last instant before the next period.
func PeriodBounds(period ReportPeriod, now time.Time) (start, end time.Time) {
	loc := now.Location()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch period {
	case PeriodWeekly:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = day.AddDate(0, 0, -weekday+1)
		end = start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	default:
		start = day
		end = start.AddDate(0, 0, 1)
	}
	return start, end.Add(-time.Nanosecond)
}

// ParsePeriod validates a report period name.
func ParsePeriod(s string) (ReportPeriod, error) {
	switch p := ReportPeriod(s); p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q: want daily, weekly or monthly", s)
	}
}

// ParseTimeBound accepts an RFC 3339 timestamp or a YYYY-MM-DD date in
// loc. A date used as an upper bound covers the whole day.
func ParseTimeBound(value string, loc *time.Location, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", value)
	}
	if upper {
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return day, nil
}
