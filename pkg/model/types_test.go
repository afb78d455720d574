package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	d, err := model.ParseTimeOfDay("12:30")
	require.NoError(t, err)
	assert.Equal(t, model.TimeOfDay(750), d)
	assert.Equal(t, "12:30", d.String())

	d, err = model.ParseTimeOfDay("7:05")
	require.NoError(t, err)
	assert.Equal(t, "07:05", d.String())
}

func TestParseTimeOfDay_Invalid(t *testing.T) {
	for _, in := range []string{"", "12", "24:00", "12:60", "ab:cd", "12:5", "-1:00"} {
		_, err := model.ParseTimeOfDay(in)
		assert.Error(t, err, in)
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	entry := model.RateEntry{Start: model.MustParseTimeOfDay("18:00"), Rate: decimal.RequireFromString("1.5")}
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":"18:00","rate":"1.5"}`, string(data))

	var back model.RateEntry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, entry.Start, back.Start)
	assert.True(t, entry.Rate.Equal(back.Rate))
}

func TestOfTime_DropsSeconds(t *testing.T) {
	ts := time.Date(2024, 3, 1, 11, 59, 59, 0, time.UTC)
	assert.Equal(t, model.MustParseTimeOfDay("11:59"), model.OfTime(ts))
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0:00", model.FormatElapsed(0))
	assert.Equal(t, "1:05", model.FormatElapsed(65))
	assert.Equal(t, "125:00", model.FormatElapsed(7500))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$0.00", model.FormatMoney(decimal.Zero))
	assert.Equal(t, "$2.50", model.FormatMoney(decimal.RequireFromString("2.5")))
	assert.Equal(t, "$0.34", model.FormatMoney(decimal.RequireFromString("0.335")))
}

func TestTimerState_Status(t *testing.T) {
	now := time.Now()
	assert.Equal(t, model.StatusIdle, model.TimerState{}.Status())
	assert.Equal(t, model.StatusRunning, model.TimerState{Running: true, SessionStart: &now}.Status())
	assert.Equal(t, model.StatusPaused, model.TimerState{SessionStart: &now, ElapsedSeconds: 3}.Status())
}

func TestHistoryFilter_Matches(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := model.SessionRecord{TableID: "1", StartedAt: start}

	assert.True(t, model.HistoryFilter{}.Matches(r))
	assert.True(t, model.HistoryFilter{TableID: "1"}.Matches(r))
	assert.False(t, model.HistoryFilter{TableID: "2"}.Matches(r))
	assert.True(t, model.HistoryFilter{StartTime: start, EndTime: start}.Matches(r))
	assert.False(t, model.HistoryFilter{StartTime: start.Add(time.Second)}.Matches(r))
	assert.False(t, model.HistoryFilter{EndTime: start.Add(-time.Second)}.Matches(r))
}

func TestPeriodBounds_Daily(t *testing.T) {
	now := time.Date(2024, 3, 6, 15, 4, 5, 0, time.UTC)
	start, end := model.PeriodBounds(model.PeriodDaily, now)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour-time.Nanosecond, end.Sub(start))
}

func TestPeriodBounds_Weekly(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) // Sunday
	start, end := model.PeriodBounds(model.PeriodWeekly, now)
	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, 4, start.Day())
	assert.Equal(t, 7*24*time.Hour-time.Nanosecond, end.Sub(start))
}

func TestPeriodBounds_Monthly(t *testing.T) {
	now := time.Date(2024, 2, 20, 9, 0, 0, 0, time.UTC)
	start, end := model.PeriodBounds(model.PeriodMonthly, now)
	assert.Equal(t, 1, start.Day())
	assert.Equal(t, 29, end.Day())
}

func TestPeriodBounds_Default(t *testing.T) {
	now := time.Now().UTC()
	start, end := model.PeriodBounds("unknown", now)
	assert.False(t, start.IsZero())
	assert.Equal(t, 24*time.Hour-time.Nanosecond, end.Sub(start))
}

func TestParsePeriod(t *testing.T) {
	p, err := model.ParsePeriod("weekly")
	require.NoError(t, err)
	assert.Equal(t, model.PeriodWeekly, p)

	_, err = model.ParsePeriod("yearly")
	assert.Error(t, err)
}

func TestParseTimeBound(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)

	from, err := model.ParseTimeBound("2024-03-01", loc, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, loc), from)

	to, err := model.ParseTimeBound("2024-03-01", loc, true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 23, 59, 59, 999999999, loc), to)

	exact, err := model.ParseTimeBound("2024-03-01T10:15:00Z", loc, true)
	require.NoError(t, err)
	assert.True(t, exact.Equal(time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)))

	_, err = model.ParseTimeBound("01/03/2024", loc, false)
	assert.Error(t, err)
}
