package statusfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/roach88/tablesync/internal/syncer"
)

// Source is the orchestrator surface the feed publishes.
type Source interface {
	State() syncer.State
	SyncNow(ctx context.Context) (*syncer.Outcome, error)
	Subscribe(fn func(syncer.State)) (cancel func())
}

// SyncResponse is the body returned by POST /sync.
type SyncResponse struct {
	State  syncer.State        `json:"state"`
	Joined bool                `json:"joined"`
	Pass   *syncer.PassSummary `json:"pass,omitempty"`
	Failed []string            `json:"refreshFailed,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Server serves GET /status, POST /sync and GET /ws.
type Server struct {
	source   Source
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
	cancel   func()
}

// NewServer creates a server and subscribes its hub to source.
// Call Close to unsubscribe and disconnect clients.
func NewServer(source Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		source: source,
		hub:    NewHub(logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.cancel = source.Subscribe(func(st syncer.State) {
		s.hub.Broadcast(EventState, st)
	})
	return s
}

// Hub returns the server's broadcast hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Close unsubscribes from the source and disconnects all clients.
func (s *Server) Close() {
	s.cancel()
	s.hub.Close()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.State())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	out, err := s.source.SyncNow(r.Context())
	resp := SyncResponse{State: s.source.State()}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	if out != nil {
		resp.Joined = out.Joined
		if out.Replay != nil {
			resp.Pass = syncer.Summarize(out.Replay)
		}
		if out.Refresh != nil {
			resp.Failed = out.Refresh.Failed()
		}
	}
	s.hub.Broadcast(EventCompleted, resp)
	writeJSON(w, status, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("statusfeed: upgrade failed", "error", err)
		return
	}
	greeting, err := s.hub.encode(EventState, s.source.State())
	if err != nil {
		s.logger.Error("statusfeed: encode greeting", "error", err)
	}
	s.hub.attach(conn, greeting)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
