package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/cuemeter/internal/metrics"
	"github.com/ogulcanaydogan/cuemeter/pkg/export"
	"github.com/ogulcanaydogan/cuemeter/pkg/history"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/rates"
	"github.com/ogulcanaydogan/cuemeter/pkg/tracker"
)

// Options tune request handling.
type Options struct {
	// PageSize is used when a history request carries no page_size.
	PageSize int
	// Location interprets date-only query bounds and export timestamps.
	Location *time.Location
}

// Server exposes table control, history and configuration over HTTP.
type Server struct {
	tracker *tracker.Tracker
	opts    Options
	mux     *http.ServeMux
	logger  *slog.Logger
}

// NewServer creates an API server.
func NewServer(t *tracker.Tracker, opts Options, logger *slog.Logger) *Server {
	if opts.PageSize <= 0 {
		opts.PageSize = history.DefaultPageSize
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Server{
		tracker: t,
		opts:    opts,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("GET /api/v1/tables", s.handleTables)
	s.mux.HandleFunc("GET /api/v1/tables/{id}", s.handleTable)
	s.mux.HandleFunc("POST /api/v1/tables/{id}/{action}", s.handleTableAction)
	s.mux.HandleFunc("GET /api/v1/tables/{id}/history", s.handleTableHistory)

	s.mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/v1/history/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/v1/history/export", s.handleExport)
	s.mux.HandleFunc("DELETE /api/v1/history", s.handleClearHistory)

	s.mux.HandleFunc("POST /api/v1/admin/{action}", s.handleAdmin)
	s.mux.HandleFunc("GET /api/v1/config", s.handleGetConfig)
	s.mux.HandleFunc("PUT /api/v1/config", s.handlePutConfig)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	pending := s.tracker.PendingWrites()
	if pending > 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"admin":          s.tracker.Admin(),
		"pending_writes": pending,
	})
}

func (s *Server) handleTables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Views())
}

type tableResponse struct {
	model.TableView
	SessionStart *time.Time        `json:"session_start,omitempty"`
	Schedule     []rates.EntrySpec `json:"schedule"`
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := s.tracker.View(id)
	if err != nil {
		s.writeTrackerError(w, err)
		return
	}
	state, err := s.tracker.State(id)
	if err != nil {
		s.writeTrackerError(w, err)
		return
	}
	resp := tableResponse{TableView: view, SessionStart: state.SessionStart}
	for _, cfg := range s.tracker.Tables() {
		if cfg.ID == id {
			resp.Schedule = rates.Spec(cfg).Schedule
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type stopResponse struct {
	Stopped bool                 `json:"stopped"`
	Session *model.SessionRecord `json:"session,omitempty"`
	Table   model.TableView      `json:"table"`
	Warning string               `json:"warning,omitempty"`
}

func (s *Server) handleTableAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := r.PathValue("id")
	switch action := r.PathValue("action"); action {
	case "start", "pause":
		op := s.tracker.Start
		if action == "pause" {
			op = s.tracker.Pause
		}
		view, err := op(ctx, id)
		if err != nil {
			s.writeTrackerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case "stop":
		record, ok, err := s.tracker.Stop(ctx, id)
		resp := stopResponse{Stopped: ok}
		switch {
		case err == nil:
		case errors.Is(err, history.ErrPersistenceWrite):
			resp.Warning = "session closed but not yet saved; it will be retried"
		default:
			s.writeTrackerError(w, err)
			return
		}
		if ok {
			resp.Session = &record
		}
		resp.Table, _ = s.tracker.View(id)
		writeJSON(w, http.StatusOK, resp)

	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
	}
}

func (s *Server) handleTableHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.tracker.TableHistory(r.PathValue("id"))
	if err != nil {
		s.writeTrackerError(w, err)
		return
	}
	if records == nil {
		records = []model.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := model.Page{Number: 1, Size: s.opts.PageSize}
	if page.Number, err = intParam(r, "page", 1); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if page.Size, err = intParam(r, "page_size", s.opts.PageSize); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.History(filter, page))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Summary(filter))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := s.parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="timer_records.csv"`)
	if err := export.Sessions(w, s.tracker.Records(filter), export.Options{Location: s.opts.Location}); err != nil {
		s.logger.Error("export history", "error", err)
	}
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if !s.tracker.Admin() {
		writeError(w, http.StatusConflict, "history can only be cleared in admin mode")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.tracker.ClearHistory(ctx); err != nil {
		s.logger.Error("clear history", "error", err)
		writeError(w, http.StatusInternalServerError, "history could not be cleared")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var err error
	switch action := r.PathValue("action"); action {
	case "enter":
		err = s.tracker.EnterAdmin(ctx)
	case "exit":
		err = s.tracker.ExitAdmin(ctx)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		s.logger.Error("admin mode change", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"admin": s.tracker.Admin(),
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admin": s.tracker.Admin()})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	tables := s.tracker.Tables()
	specs := make([]rates.TableSpec, 0, len(tables))
	for _, cfg := range tables {
		specs = append(specs, rates.Spec(cfg))
	}
	writeJSON(w, http.StatusOK, rates.File{Tables: specs})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if !s.tracker.Admin() {
		writeError(w, http.StatusConflict, "configuration can only be changed in admin mode")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var body rates.File
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode configuration: %v", err))
		return
	}
	if len(body.Tables) == 0 {
		writeError(w, http.StatusUnprocessableEntity, rates.RuleNoTables)
		return
	}

	cfgs, err := s.tracker.UpdateTables(ctx, body.Tables)
	if err != nil {
		var cfgErr *rates.ConfigurationError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": cfgErr.Error(),
				"table": cfgErr.TableID,
				"rule":  cfgErr.Rule,
			})
			return
		}
		s.logger.Error("update tables", "error", err)
		writeError(w, http.StatusInternalServerError, "configuration could not be saved")
		return
	}

	specs := make([]rates.TableSpec, 0, len(cfgs))
	for _, cfg := range cfgs {
		specs = append(specs, rates.Spec(cfg))
	}
	writeJSON(w, http.StatusOK, rates.File{Tables: specs})
}

// parseFilter reads table, period, from and to. An explicit bound
// overrides the matching end of a period.
func (s *Server) parseFilter(r *http.Request) (model.HistoryFilter, error) {
	q := r.URL.Query()
	filter := model.HistoryFilter{TableID: q.Get("table")}

	if period := q.Get("period"); period != "" {
		p, err := model.ParsePeriod(period)
		if err != nil {
			return filter, err
		}
		filter.StartTime, filter.EndTime = model.PeriodBounds(p, time.Now().In(s.opts.Location))
	}

	if from := q.Get("from"); from != "" {
		t, err := model.ParseTimeBound(from, s.opts.Location, false)
		if err != nil {
			return filter, err
		}
		filter.StartTime = t
	}
	if to := q.Get("to"); to != "" {
		t, err := model.ParseTimeBound(to, s.opts.Location, true)
		if err != nil {
			return filter, err
		}
		filter.EndTime = t
	}
	return filter, nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

func (s *Server) writeTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrUnknownTable):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tracker.ErrAdminMode):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("table request", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
