package statsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shadowcheck/core/engine"
)

// Server is the HTTP+WebSocket front door onto a running engine: a health
// check, a one-shot JSON summary endpoint, and a streaming WebSocket feed
// of the events published to its Broadcaster.
type Server struct {
	eng         *engine.Engine
	broadcaster *Broadcaster
	mux         *http.ServeMux
	server      *http.Server
	port        int
}

// NewServer builds a Server bound to eng, listening on port once Start is
// called.
func NewServer(eng *engine.Engine, port int) *Server {
	s := &Server{
		eng:         eng,
		broadcaster: NewBroadcaster(),
		mux:         http.NewServeMux(),
		port:        port,
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler with CORS applied, exposed mainly for
// tests that want to exercise routes without binding a real port.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Broadcaster returns the server's event fan-out, so the engine's track
// callbacks (or a polling loop) can publish into it.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/summary", s.handleSummary)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	lines := s.eng.Recorder.Summary()
	out := make([]map[string]interface{}, 0, len(lines))
	for _, l := range lines {
		out = append(out, map[string]interface{}{"kind": string(l.Kind), "count": l.Count})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Start runs the HTTP server, blocking until Shutdown or a listen error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and disconnects every WebSocket
// client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// PublishSummary broadcasts the recorder's current summary as an
// EventSummary message; callers decide how often to call this (cmd/core
// does not start a Server).
func (s *Server) PublishSummary() {
	lines := s.eng.Recorder.Summary()
	data := make(map[string]interface{}, len(lines))
	for _, l := range lines {
		data[string(l.Kind)] = l.Count
	}
	s.broadcaster.Broadcast(Event{Type: EventSummary, Data: data})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "file://") {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://127.0.0.1")
}
