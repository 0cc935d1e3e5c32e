// Package web provides an HTTP status server for the filament-sensor daemon.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/sweeney/filament-sensor/internal/feed"
	"github.com/sweeney/filament-sensor/internal/history"
	"github.com/sweeney/filament-sensor/internal/status"
)

// History is the subset of history.Store the server reads.
type History interface {
	RecentTransitions(channel, limit int) ([]history.Transition, error)
	LatestCalibration(channel int) (history.Calibration, bool, error)
}

// Commander accepts operator commands. *feed.Dispatcher satisfies it.
type Commander interface {
	Dispatch(m feed.Message) error
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	history    History   // nil when history is disabled
	commands   Commander // nil makes the server read-only
}

// New creates a Server that reads state from the given tracker. hist and
// commands may be nil.
func New(addr string, tracker *status.Tracker, hist History, commands Commander) *Server {
	s := &Server{tracker: tracker, history: hist, commands: commands}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("GET /channels/{n}", s.handleChannel)
	mux.HandleFunc("POST /channels/{n}/clear", s.handleClear)
	mux.HandleFunc("GET /history.json", s.handleHistory)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.Error(w, "bad channel", http.StatusBadRequest)
		return
	}
	ch, ok := s.tracker.Snapshot().Channel(n)
	if !ok {
		http.NotFound(w, r)
		return
	}

	out := channelDetail{ChannelJSON: status.BuildChannel(ch)}
	if s.history != nil {
		if c, ok, err := s.history.LatestCalibration(n); err == nil && ok {
			cj := calibrationJSON(c)
			out.LastCalibration = &cj
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		http.Error(w, "commands disabled", http.StatusForbidden)
		return
	}
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.Error(w, "bad channel", http.StatusBadRequest)
		return
	}

	err = s.commands.Dispatch(feed.Message{
		Kind:    feed.KindCommand,
		Command: feed.Command{Name: feed.CommandClear, Channel: n},
	})
	switch {
	case errors.Is(err, feed.ErrUnknownChannel):
		http.NotFound(w, r)
	case errors.Is(err, feed.ErrCommandQueueFull):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}

	channel, limit := -1, defaultHistoryLimit
	q := r.URL.Query()
	if v := q.Get("channel"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "bad channel", http.StatusBadRequest)
			return
		}
		channel = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	trs, err := s.history.RecentTransitions(channel, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, formatHistory(trs))
}
