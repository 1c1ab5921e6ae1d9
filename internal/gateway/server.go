// Package gateway exposes the HTTP and WebSocket surface of tasktalk.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pmorel/tasktalk/internal/events"
	"github.com/pmorel/tasktalk/internal/gateway/ws"
	"github.com/pmorel/tasktalk/internal/storage"
	"github.com/pmorel/tasktalk/internal/threads"
)

// Server is the tasktalk gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	store      threads.Store
	eventLog   *storage.EventLogger
	host       string
	port       int
}

// NewServer creates a new gateway server. eventLog may be nil; the
// per-thread event history endpoint then reports no history.
func NewServer(engine ws.Dispatcher, store threads.Store, bus *events.Bus, eventLog *storage.EventLogger, host string, port int) *Server {
	hub := ws.NewHub(engine, store, bus)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:      hub,
		bus:      bus,
		store:    store,
		eventLog: eventLog,
		host:     host,
		port:     port,
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/threads", s.handleThreads)
	r.Get("/api/threads/{id}/messages", s.handleThreadMessages)
	r.Get("/api/threads/{id}/events", s.handleThreadEvents)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("tasktalk gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// caller returns the upstream-verified user identity, or fails the
// request with 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(ws.UserHeader)
	if userID == "" {
		http.Error(w, "missing "+ws.UserHeader, http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func queryLimit(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	history := s.bus.History(queryLimit(r, 50))

	type eventJSON struct {
		ID        string             `json:"id"`
		ThreadID  string             `json:"thread_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			ThreadID:  e.ThreadID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	list, err := s.store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	mine := make([]*threads.Thread, 0, len(list))
	for _, th := range list {
		if th.UserID == userID {
			mine = append(mine, th)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mine)
}

// ownedThread loads the thread and enforces ownership, writing the HTTP
// error itself when the thread is unavailable to the caller.
func (s *Server) ownedThread(w http.ResponseWriter, r *http.Request) (*threads.Thread, bool) {
	userID, ok := caller(w, r)
	if !ok {
		return nil, false
	}

	th, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "thread not found", http.StatusNotFound)
		return nil, false
	}
	if th.UserID != userID {
		http.Error(w, "thread owned by another user", http.StatusForbidden)
		return nil, false
	}
	return th, true
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	th, ok := s.ownedThread(w, r)
	if !ok {
		return
	}

	msgs, err := s.store.Tail(th.ID, queryLimit(r, 0))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func (s *Server) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
	th, ok := s.ownedThread(w, r)
	if !ok {
		return
	}

	var history []events.Event
	if s.eventLog != nil {
		var err error
		history, err = s.eventLog.ReadThread(th.ID, queryLimit(r, 0))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if history == nil {
		history = []events.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}
