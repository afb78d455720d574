package rates

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/shopspring/decimal"
)

// Resolve returns the per-minute rate in effect at now.
// The first entry applies on [first.Start, second.Start); the second entry
// covers the rest of the day, wrapping past midnight.
func Resolve(schedule model.RateSchedule, now time.Time) decimal.Decimal {
	return ResolveAt(schedule, model.OfTime(now))
}

// ResolveAt is Resolve for an already reduced time of day.
func ResolveAt(schedule model.RateSchedule, at model.TimeOfDay) decimal.Decimal {
	first, second := schedule[0], schedule[1]
	if first.Start <= at && at < second.Start {
		return first.Rate
	}
	return second.Rate
}

// Validate checks a single table configuration.
func Validate(cfg model.TableConfig) error {
	if cfg.ID == "" {
		return &ConfigurationError{Rule: RuleEmptyID}
	}
	for i, e := range cfg.Schedule {
		if !e.Rate.IsPositive() {
			return &ConfigurationError{
				TableID: cfg.ID,
				Rule:    RuleNonPositive,
				Detail:  fmt.Sprintf("entry %d has rate %s", i+1, e.Rate),
			}
		}
		if e.Start < 0 || e.Start >= model.MinutesPerDay {
			return &ConfigurationError{TableID: cfg.ID, Rule: RuleMalformedTime, Detail: fmt.Sprintf("entry %d", i+1)}
		}
	}
	first, second := cfg.Schedule[0].Start, cfg.Schedule[1].Start
	if first == second {
		return &ConfigurationError{TableID: cfg.ID, Rule: RuleDuplicateTime, Detail: first.String()}
	}
	if first > second {
		return &ConfigurationError{
			TableID: cfg.ID,
			Rule:    RuleUnorderedTimes,
			Detail:  fmt.Sprintf("%s after %s", first, second),
		}
	}
	return nil
}

// ValidateAll checks every table and that identifiers are unique.
func ValidateAll(cfgs []model.TableConfig) error {
	if len(cfgs) == 0 {
		return &ConfigurationError{Rule: RuleNoTables}
	}
	seen := make(map[string]struct{}, len(cfgs))
	for _, cfg := range cfgs {
		if err := Validate(cfg); err != nil {
			return err
		}
		if _, dup := seen[cfg.ID]; dup {
			return &ConfigurationError{TableID: cfg.ID, Rule: RuleDuplicateID}
		}
		seen[cfg.ID] = struct{}{}
	}
	return nil
}

// Build converts a table spec into a validated configuration.
// Entries are sorted by time of day before validation.
func Build(spec TableSpec) (model.TableConfig, error) {
	cfg := model.TableConfig{ID: spec.ID}
	if len(spec.Schedule) != len(cfg.Schedule) {
		return cfg, &ConfigurationError{
			TableID: spec.ID,
			Rule:    RuleEntryCount,
			Detail:  fmt.Sprintf("want %d entries, got %d", len(cfg.Schedule), len(spec.Schedule)),
		}
	}

	entries := make([]model.RateEntry, 0, len(spec.Schedule))
	for i, e := range spec.Schedule {
		start, err := model.ParseTimeOfDay(e.Time)
		if err != nil {
			return cfg, &ConfigurationError{TableID: spec.ID, Rule: RuleMalformedTime, Detail: err.Error()}
		}
		if math.IsNaN(e.Rate) || math.IsInf(e.Rate, 0) {
			return cfg, &ConfigurationError{
				TableID: spec.ID,
				Rule:    RuleNonPositive,
				Detail:  fmt.Sprintf("entry %d has rate %v", i+1, e.Rate),
			}
		}
		entries = append(entries, model.RateEntry{Start: start, Rate: decimal.NewFromFloat(e.Rate)})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start < entries[j].Start })
	copy(cfg.Schedule[:], entries)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BuildAll converts and validates a full table set. Nothing is returned
// unless every table is accepted.
func BuildAll(specs []TableSpec) ([]model.TableConfig, error) {
	cfgs := make([]model.TableConfig, 0, len(specs))
	for _, spec := range specs {
		cfg, err := Build(spec)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	if err := ValidateAll(cfgs); err != nil {
		return nil, err
	}
	return cfgs, nil
}

// Spec converts a configuration back into its file form.
func Spec(cfg model.TableConfig) TableSpec {
	spec := TableSpec{ID: cfg.ID, Schedule: make([]EntrySpec, 0, len(cfg.Schedule))}
	for _, e := range cfg.Schedule {
		rate, _ := e.Rate.Float64()
		spec.Schedule = append(spec.Schedule, EntrySpec{Time: e.Start.String(), Rate: rate})
	}
	return spec
}
