package net

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"RoomBoard/internal/export"
	"RoomBoard/internal/metrics"
	"RoomBoard/internal/state"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Hub        *Hub
	Rooms      *state.Manager
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	StaticDir  string   // served at / when set
	CORSAllow  []string // origins for /api
	SendBuffer int      // outbound queue per connection
}

// Server exposes the WebSocket endpoint and the read-only HTTP API.
type Server struct {
	hub      *Hub
	rooms    *state.Manager
	log      *slog.Logger
	queue    int
	upgrader websocket.Upgrader
	handler  http.Handler
}

// NewServer wires every route.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	s := &Server{
		hub:   cfg.Hub,
		rooms: cfg.Rooms,
		log:   cfg.Logger,
		queue: cfg.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Any page may open the socket; rooms carry their own password.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	api := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}
	mux.HandleFunc("/ws", s.serveWS)
	mux.Handle("/api/rooms", api.Handler(http.HandlerFunc(s.listRooms)))
	mux.Handle("/api/rooms/{name}/export.pdf", api.Handler(http.HandlerFunc(s.exportRoom)))
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}
	s.handler = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws.upgrade", "err", err, "remote", r.RemoteAddr)
		return
	}

	p := NewPeer(conn, s.queue, s.log)
	if !s.hub.Register(p) {
		_ = conn.Close()
		return
	}
	go p.WritePump()
	p.ReadPump(s.hub)
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.rooms.ListRooms())
}

// exportRoom renders a room's canvas as a PDF. A protected room requires
// its password in the password query parameter.
func (s *Server) exportRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.PathValue("name")

	switch err := s.rooms.CheckPassword(name, r.URL.Query().Get("password")); {
	case errors.Is(err, state.ErrRoomNotFound):
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "Incorrect password", http.StatusForbidden)
		return
	}
	canvas, err := s.rooms.Canvas(name)
	if err != nil {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := export.PDF(&buf, name, canvas); err != nil {
		s.log.Error("export.pdf", "room", name, "err", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+safeFilename(name)+`.pdf"`)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// safeFilename keeps letters, digits, dash and underscore.
func safeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "canvas"
	}
	return string(out)
}
