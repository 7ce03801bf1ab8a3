package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/config"
	"github.com/matheus3301/roomsync/internal/presence"
	"github.com/matheus3301/roomsync/internal/profile"
	"github.com/matheus3301/roomsync/internal/room"
	"github.com/matheus3301/roomsync/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultPageLimit = 50

// Server exposes the room's sync status, cached history and metrics over
// HTTP, on the profile's Unix socket or on metrics.addr when configured.
type Server struct {
	http       *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// Health is the body of GET /healthz.
type Health struct {
	Profile    string `json:"profile"`
	RoomID     int64  `json:"room_id"`
	Status     string `json:"status"`
	PushActive bool   `json:"push_active"`
	Messages   int    `json:"messages"`
}

// PresenceView is the body of GET /presence.
type PresenceView struct {
	Typing    []Member `json:"typing"`
	Recording []Member `json:"recording"`
}

// Member is one active presence entry.
type Member struct {
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewServer creates the status server and binds its listener.
func NewServer(p Params, cfg *config.Profile, r *room.Room, db *store.DB, reg *prometheus.Registry, logger *zap.Logger) (*Server, error) {
	s := &Server{
		http: &http.Server{
			Handler:           NewRouter(p.Profile, r, db, reg),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("http"),
	}

	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		s.listener = ln
		return s, nil
	}

	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln
	s.socketPath = socketPath
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("status server starting", zap.Stringer("addr", s.listener.Addr()))
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("status server stopping")
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("status server shutdown", zap.Error(err))
	}
	if s.socketPath != "" {
		_ = os.Remove(s.socketPath)
	}
}

// NewRouter builds the status routes for one room.
func NewRouter(profileName string, r *room.Room, db *store.DB, reg *prometheus.Registry) http.Handler {
	h := &handlers{profile: profileName, room: r, db: db}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Get("/healthz", h.health)
	mux.Get("/timeline", h.timeline)
	mux.Get("/presence", h.presence)
	mux.Get("/search", h.search)
	return mux
}

type handlers struct {
	profile string
	room    *room.Room
	db      *store.DB
}

func respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respond(w, code, map[string]string{"error": msg})
}

func limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultPageLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, Health{
		Profile:    h.profile,
		RoomID:     h.room.ID(),
		Status:     string(h.room.Status()),
		PushActive: h.room.PushActive(),
		Messages:   h.room.Timeline().Len(),
	})
}

// timeline returns the newest displayed messages, optimistic entries included.
func (h *handlers) timeline(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs := h.room.Timeline().Messages()
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	respond(w, http.StatusOK, map[string]any{"data": msgs})
}

func (h *handlers) presence(w http.ResponseWriter, _ *http.Request) {
	members := func(entries []chat.PresenceEntry) []Member {
		out := make([]Member, 0, len(entries))
		for _, e := range entries {
			out = append(out, Member{UserID: e.UserID, UserName: e.DisplayName, ExpiresAt: e.ExpiresAt})
		}
		return out
	}
	respond(w, http.StatusOK, PresenceView{
		Typing:    members(h.room.Presence().Active(presence.Typing)),
		Recording: members(h.room.Presence().Active(presence.Recording)),
	})
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respondError(w, http.StatusServiceUnavailable, "no message cache")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := h.db.SearchMessages(h.room.ID(), q, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]any{"data": msgs})
}
