package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/browsercast/internal/browser"
	"github.com/bryanchriswhite/browsercast/internal/logger"
	"github.com/bryanchriswhite/browsercast/internal/session"
	"github.com/bryanchriswhite/browsercast/internal/stream"
)

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	sessions *session.Manager
	gateway  *stream.Gateway
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(sessions *session.Manager, gateway *stream.Gateway) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		sessions: sessions,
		gateway:  gateway,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Control surface
	api.HandleFunc("/navigate", s.handleNavigate).Methods("POST")
	api.HandleFunc("/click", s.handleClick).Methods("POST")
	api.HandleFunc("/type", s.handleType).Methods("POST")
	api.HandleFunc("/key", s.handleKey).Methods("POST")
	api.HandleFunc("/scroll", s.handleScroll).Methods("POST")
	api.HandleFunc("/back", s.handleHistory(session.OpBack)).Methods("POST")
	api.HandleFunc("/forward", s.handleHistory(session.OpForward)).Methods("POST")
	api.HandleFunc("/refresh", s.handleHistory(session.OpRefresh)).Methods("POST")
	api.HandleFunc("/url", s.handleURL).Methods("GET")

	// Frame stream
	api.HandleFunc("/stream", s.handleStream)

	// Operational
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Viewer page
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler for tests
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("Starting server")
	return http.ListenAndServe(addr, s.enableCORS(s.router))
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// runCommand executes a control command and maps its failure to a status code
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, cmd session.Command) (session.Result, bool) {
	res, err := s.sessions.Run(r.Context(), cmd)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, browser.ErrNoHistory) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return session.Result{}, false
	}
	return res, true
}

// HTTP Handlers

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	res, ok := s.runCommand(w, r, session.Command{Op: session.OpNavigate, URL: req.URL})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": res.URL})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, ok := s.runCommand(w, r, session.Command{Op: session.OpClick, X: req.X, Y: req.Y}); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, ok := s.runCommand(w, r, session.Command{Op: session.OpType, Text: req.Text}); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, errors.New("key is required"))
		return
	}

	if _, ok := s.runCommand(w, r, session.Command{Op: session.OpKey, Key: req.Key}); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeltaY float64 `json:"delta_y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, ok := s.runCommand(w, r, session.Command{Op: session.OpScroll, DeltaY: req.DeltaY}); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(op session.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.runCommand(w, r, session.Command{Op: op}); !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleURL(w http.ResponseWriter, r *http.Request) {
	res, ok := s.runCommand(w, r, session.Command{Op: session.OpURL})
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": res.URL})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := s.gateway.Attach(conn)

	// Viewers send nothing during basic playback; the read loop exists to
	// notice the transport closing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.gateway.Detach(sub)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.sessions.Health()
	status := http.StatusOK
	state := "healthy"
	if s.sessions.Degraded() {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":  state,
		"session": health,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.GetStats())
}
