package rates

import "fmt"

// Validation rules reported by ConfigurationError.
const (
	RuleEmptyID        = "empty table id"
	RuleDuplicateID    = "duplicate table id"
	RuleNoTables       = "no tables"
	RuleEntryCount     = "entry count"
	RuleMalformedTime  = "malformed time of day"
	RuleNonPositive    = "non-positive rate"
	RuleDuplicateTime  = "duplicate time of day"
	RuleUnorderedTimes = "unordered schedule"
)

// EntrySpec is the file and API form of one schedule entry.
type EntrySpec struct {
	Time string  `yaml:"time" json:"time" mapstructure:"time"`
	Rate float64 `yaml:"rate" json:"rate" mapstructure:"rate"`
}

// TableSpec is the file and API form of a table configuration.
type TableSpec struct {
	ID       string      `yaml:"id" json:"id" mapstructure:"id"`
	Schedule []EntrySpec `yaml:"schedule" json:"schedule" mapstructure:"schedule"`
}

// File is the top-level layout of a schedule file.
type File struct {
	Tables []TableSpec `yaml:"tables" json:"tables"`
}

// ConfigurationError reports a table configuration that was rejected.
type ConfigurationError struct {
	TableID string
	Rule    string
	Detail  string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("table %q: %s", e.TableID, e.Rule)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
