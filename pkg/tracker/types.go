package tracker

import (
	"errors"
	"log/slog"

	"github.com/ogulcanaydogan/cuemeter/pkg/alerts"
	"github.com/ogulcanaydogan/cuemeter/pkg/billing"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
)

var (
	// ErrUnknownTable is returned for a table identifier that is not configured.
	ErrUnknownTable = errors.New("unknown table")
	// ErrAdminMode is returned for timer commands while admin mode is active.
	ErrAdminMode = errors.New("admin mode active")
)

// Publisher pushes live state to an external channel.
type Publisher interface {
	PublishTable(view model.TableView) error
	PublishSession(record model.SessionRecord) error
}

// Options configure a Tracker. Zero values fall back to sensible defaults.
type Options struct {
	Clock     billing.Clock
	Defaults  []model.TableConfig
	Notifiers []alerts.Notifier
	Publisher Publisher
	Logger    *slog.Logger
}
