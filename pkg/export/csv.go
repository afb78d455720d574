package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
)

// Options control the rendering of exported rows.
type Options struct {
	// Location converts timestamps before formatting. Nil keeps the
	// location stored on each record.
	Location *time.Location
	// Comma is the field delimiter. Zero means ','.
	Comma rune
}

// Sessions writes one header-less row per record in the order
// table, start, end, elapsed (M:SS), cost.
func Sessions(w io.Writer, records []model.SessionRecord, opts Options) error {
	cw := newWriter(w, opts)
	for _, r := range records {
		row := []string{
			r.TableID,
			formatTime(r.StartedAt, opts.Location),
			formatTime(r.EndedAt, opts.Location),
			model.FormatElapsed(r.ElapsedSeconds),
			r.TotalCost.StringFixed(2),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write session %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Tables writes one header-less row per table in the order
// id, first time, first rate, second time, second rate.
func Tables(w io.Writer, cfgs []model.TableConfig, opts Options) error {
	cw := newWriter(w, opts)
	for _, cfg := range cfgs {
		row := []string{cfg.ID}
		for _, e := range cfg.Schedule {
			row = append(row, e.Start.String(), e.Rate.String())
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write table %s: %w", cfg.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func newWriter(w io.Writer, opts Options) *csv.Writer {
	cw := csv.NewWriter(w)
	if opts.Comma != 0 {
		cw.Comma = opts.Comma
	}
	return cw
}

func formatTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(time.RFC3339)
}
