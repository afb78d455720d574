package rates

import (
	"fmt"
	"os"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML schedule file and returns the validated tables.
func LoadFile(path string) ([]model.TableConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file %s: %w", path, err)
	}
	cfgs, err := LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("schedule file %s: %w", path, err)
	}
	return cfgs, nil
}

// LoadBytes parses YAML schedule data.
func LoadBytes(data []byte) ([]model.TableConfig, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schedule data: %w", err)
	}
	if len(f.Tables) == 0 {
		return nil, &ConfigurationError{Rule: RuleNoTables}
	}
	return BuildAll(f.Tables)
}

// MarshalFile renders tables in the schedule file layout.
func MarshalFile(cfgs []model.TableConfig) ([]byte, error) {
	f := File{Tables: make([]TableSpec, 0, len(cfgs))}
	for _, cfg := range cfgs {
		f.Tables = append(f.Tables, Spec(cfg))
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule data: %w", err)
	}
	return data, nil
}

// DefaultTables returns the factory configuration: three tables switching
// rate at midnight and noon.
func DefaultTables() []model.TableConfig {
	midnight := model.MustParseTimeOfDay("00:00")
	noon := model.MustParseTimeOfDay("12:00")

	cfgs := make([]model.TableConfig, 0, 3)
	for i := 1; i <= 3; i++ {
		rate := decimal.NewFromInt(int64(i))
		cfgs = append(cfgs, model.TableConfig{
			ID: fmt.Sprintf("%d", i),
			Schedule: model.RateSchedule{
				{Start: midnight, Rate: rate},
				{Start: noon, Rate: rate},
			},
		})
	}
	return cfgs
}
