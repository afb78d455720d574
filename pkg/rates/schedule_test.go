package rates_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/rates"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schedule(t1 string, r1 string, t2 string, r2 string) model.RateSchedule {
	return model.RateSchedule{
		{Start: model.MustParseTimeOfDay(t1), Rate: decimal.RequireFromString(r1)},
		{Start: model.MustParseTimeOfDay(t2), Rate: decimal.RequireFromString(r2)},
	}
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2024, 3, 1, hh, mm, ss, 0, time.UTC)
}

func TestResolve_Intervals(t *testing.T) {
	s := schedule("09:00", "1.00", "18:00", "2.50")

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"start of first interval", at(9, 0, 0), "1"},
		{"inside first interval", at(12, 30, 0), "1"},
		{"last second of first interval", at(17, 59, 59), "1"},
		{"boundary belongs to later interval", at(18, 0, 0), "2.5"},
		{"evening", at(23, 59, 59), "2.5"},
		{"wraps past midnight", at(0, 0, 0), "2.5"},
		{"early morning", at(8, 59, 0), "2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rates.Resolve(s, tt.now).String())
		})
	}
}

func TestResolve_TotalOverDay(t *testing.T) {
	s := schedule("06:15", "1", "21:40", "2")
	for minute := model.TimeOfDay(0); minute < model.MinutesPerDay; minute++ {
		got := rates.ResolveAt(s, minute)
		want := s[1].Rate
		if minute >= s[0].Start && minute < s[1].Start {
			want = s[0].Rate
		}
		require.True(t, want.Equal(got), "minute %s", minute)
	}
}

func TestResolve_UsesClockLocation(t *testing.T) {
	s := schedule("00:00", "1", "12:00", "3")
	loc := time.FixedZone("UTC+3", 3*3600)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).In(loc) // 13:00 local
	assert.Equal(t, "3", rates.Resolve(s, now).String())
}

func TestValidate_Accepts(t *testing.T) {
	err := rates.Validate(model.TableConfig{ID: "1", Schedule: schedule("00:00", "1", "12:00", "2")})
	assert.NoError(t, err)
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name string
		cfg  model.TableConfig
		rule string
	}{
		{"empty id", model.TableConfig{Schedule: schedule("00:00", "1", "12:00", "2")}, rates.RuleEmptyID},
		{"zero rate", model.TableConfig{ID: "1", Schedule: schedule("00:00", "0", "12:00", "2")}, rates.RuleNonPositive},
		{"negative rate", model.TableConfig{ID: "1", Schedule: schedule("00:00", "1", "12:00", "-2")}, rates.RuleNonPositive},
		{"equal times", model.TableConfig{ID: "1", Schedule: schedule("12:00", "1", "12:00", "2")}, rates.RuleDuplicateTime},
		{"descending times", model.TableConfig{ID: "1", Schedule: schedule("18:00", "1", "09:00", "2")}, rates.RuleUnorderedTimes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rates.Validate(tt.cfg)
			require.Error(t, err)
			var cerr *rates.ConfigurationError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.rule, cerr.Rule)
			assert.Equal(t, tt.cfg.ID, cerr.TableID)
		})
	}
}

func TestValidateAll_DuplicateID(t *testing.T) {
	cfg := model.TableConfig{ID: "1", Schedule: schedule("00:00", "1", "12:00", "2")}
	err := rates.ValidateAll([]model.TableConfig{cfg, cfg})
	var cerr *rates.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, rates.RuleDuplicateID, cerr.Rule)
}

func TestValidateAll_Empty(t *testing.T) {
	err := rates.ValidateAll(nil)
	var cerr *rates.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, rates.RuleNoTables, cerr.Rule)
}

func TestBuild_SortsEntries(t *testing.T) {
	cfg, err := rates.Build(rates.TableSpec{
		ID: "snooker",
		Schedule: []rates.EntrySpec{
			{Time: "18:00", Rate: 2.5},
			{Time: "09:00", Rate: 1.25},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "09:00", cfg.Schedule[0].Start.String())
	assert.Equal(t, "1.25", cfg.Schedule[0].Rate.String())
	assert.Equal(t, "18:00", cfg.Schedule[1].Start.String())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec rates.TableSpec
		rule string
	}{
		{"one entry", rates.TableSpec{ID: "1", Schedule: []rates.EntrySpec{{Time: "00:00", Rate: 1}}}, rates.RuleEntryCount},
		{"bad time", rates.TableSpec{ID: "1", Schedule: []rates.EntrySpec{{Time: "25:00", Rate: 1}, {Time: "12:00", Rate: 1}}}, rates.RuleMalformedTime},
		{"nan rate", rates.TableSpec{ID: "1", Schedule: []rates.EntrySpec{{Time: "00:00", Rate: math.NaN()}, {Time: "12:00", Rate: 1}}}, rates.RuleNonPositive},
		{"same time", rates.TableSpec{ID: "1", Schedule: []rates.EntrySpec{{Time: "10:00", Rate: 1}, {Time: "10:00", Rate: 2}}}, rates.RuleDuplicateTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rates.Build(tt.spec)
			var cerr *rates.ConfigurationError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.rule, cerr.Rule)
		})
	}
}

func TestSpec_RoundTrip(t *testing.T) {
	cfg := model.TableConfig{ID: "7", Schedule: schedule("08:30", "1.5", "20:00", "2")}
	back, err := rates.Build(rates.Spec(cfg))
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, back.ID)
	assert.Equal(t, cfg.Schedule[0].Start, back.Schedule[0].Start)
	assert.True(t, cfg.Schedule[0].Rate.Equal(back.Schedule[0].Rate))
}

func TestConfigurationError_Message(t *testing.T) {
	err := &rates.ConfigurationError{TableID: "2", Rule: rates.RuleNonPositive, Detail: "entry 1 has rate 0"}
	assert.Equal(t, `table "2": non-positive rate: entry 1 has rate 0`, err.Error())
}
