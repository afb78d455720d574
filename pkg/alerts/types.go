package alerts

import (
	"context"
	"fmt"
	"strings"
)

// AlertLevel indicates how urgently an operator should react.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"  // Degraded, no data lost yet
	AlertCritical AlertLevel = "critical" // Data held only in memory
)

// Event names the condition that raised an alert.
type Event string

const (
	EventHistoryWriteFailed  Event = "history_write_failed"
	EventHistoryReadFailed   Event = "history_read_failed"
	EventSnapshotWriteFailed Event = "snapshot_write_failed"
	EventConfigRejected      Event = "config_rejected"
)

// Alert is an operator notification about the billing system.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Event   Event      `json:"event"`
	TableID string     `json:"table_id,omitempty"`
	Pending int        `json:"pending,omitempty"`
	Message string     `json:"message"`
}

// Summary is a one-line headline such as "table 3: history write failed".
func (a Alert) Summary() string {
	what := strings.ReplaceAll(string(a.Event), "_", " ")
	if a.TableID == "" {
		return what
	}
	return fmt.Sprintf("table %s: %s", a.TableID, what)
}

// Notifier sends alerts to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert Alert) error
}
