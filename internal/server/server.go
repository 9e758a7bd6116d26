// Package server is the Quanta reference backend: the research REST API and
// the per-client workflow socket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/UkemeSkywalker/Quanta/internal/config"
	"github.com/UkemeSkywalker/Quanta/internal/mock"
	"github.com/UkemeSkywalker/Quanta/internal/protocol"
)

const (
	ServiceName = "quanta-api"
	Version     = "1.0.0"

	maxFrameSize = 64 << 10
)

type Server struct {
	cfg      config.ServerConfig
	hub      *Hub
	sim      *mock.Simulator
	validate *queryValidator
	log      zerolog.Logger
	started  time.Time

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool

	// ctx bounds simulator streams; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg config.ServerConfig, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger)
	s := &Server{
		cfg:            cfg,
		hub:            hub,
		sim:            mock.NewSimulator(hub, cfg.UpdateInterval, logger),
		validate:       newQueryValidator(),
		log:            logger.With().Str("component", "server").Logger(),
		started:        time.Now(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		ctx:            ctx,
		cancel:         cancel,
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// Hub exposes the socket registry.
func (s *Server) Hub() *Hub { return s.hub }

// Simulator exposes the workflow simulator.
func (s *Server) Simulator() *mock.Simulator { return s.sim }

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("POST /api/research/submit", s.handleSubmit)
	mux.HandleFunc("GET /api/workflow/{id}/status", s.handleWorkflowStatus)
	mux.HandleFunc("GET /api/websocket/status", s.handleSocketStatus)
	mux.HandleFunc("GET /ws/{client_id}", s.handleWS)
}

// Handler returns the routed mux wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return s.requestLog(s.cors(mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked sockets are not tracked by Shutdown; close them first.
	s.Close()
	err := srv.Shutdown(shutdownCtx)
	if e := <-errc; !errors.Is(e, http.ErrServerClosed) && err == nil {
		err = e
	}
	s.log.Info().Msg("server stopped")
	return err
}

// Close stops every workflow stream and closes every socket with 1001.
func (s *Server) Close() {
	s.cancel()
	s.hub.CloseAll(websocket.CloseGoingAway, "server shutting down")
	s.sim.Wait()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Quanta AI Scientist API is running"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.InfoResponse{
		Service:     "Quanta AI Scientist API",
		Version:     Version,
		Description: "Multi-agent research system",
		Endpoints: map[string]string{
			"health":           "GET /health - Health check",
			"submit_research":  "POST /api/research/submit - Submit research query",
			"workflow_status":  "GET /api/workflow/{workflow_id}/status - Get workflow status",
			"websocket":        "WS /ws/{client_id} - Real-time updates",
			"websocket_status": "GET /api/websocket/status - Connected clients",
			"api_info":         "GET /api/info - This endpoint",
		},
		Agents: mock.Agents,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	q := protocol.ResearchQuery{Priority: 1}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameSize))
	if err := dec.Decode(&q); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, protocol.ValidationErrorResponse{
			Detail: []protocol.FieldError{{Field: "body", Rule: "json", Message: err.Error()}},
		})
		return
	}
	if fields := s.validate.check(q); len(fields) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, protocol.ValidationErrorResponse{Detail: fields})
		return
	}
	writeJSON(w, http.StatusOK, s.sim.Create(q))
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := s.sim.Status(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "workflow not found"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSocketStatus(w http.ResponseWriter, r *http.Request) {
	ids := s.hub.IDs()
	writeJSON(w, http.StatusOK, protocol.SocketStatusResponse{
		ActiveConnections: len(ids),
		Clients:           ids,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if strings.TrimSpace(clientID) == "" {
		http.Error(w, "client id required", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameSize)

	s.log.Info().Str("client_id", clientID).Str("remote", r.RemoteAddr).Msg("client connected")
	c := s.hub.Add(clientID, conn)
	defer func() {
		s.hub.Remove(c)
		s.log.Info().Str("client_id", clientID).Msg("client disconnected")
	}()

	s.hub.SendJSON(c, protocol.ConnectionFrame{
		Type:      protocol.MsgConnection,
		ClientID:  clientID,
		Message:   "Connected to Quanta workflow updates",
		Timestamp: time.Now().UnixMilli(),
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(c, data)
	}
}

// handleFrame answers ping and subscribe frames. Anything else is echoed back
// as plain text.
func (s *Server) handleFrame(c *client, data []byte) {
	var f struct {
		Type       protocol.MessageType `json:"type"`
		WorkflowID string               `json:"workflow_id"`
	}
	if json.Unmarshal(data, &f) == nil {
		switch {
		case f.Type == protocol.MsgPing:
			s.hub.SendJSON(c, protocol.Pong(time.Now()))
			return
		case f.Type == protocol.MsgSubscribe && f.WorkflowID != "":
			s.hub.Subscribe(c, f.WorkflowID)
			s.hub.SendJSON(c, protocol.SubscriptionConfirmedFrame{
				Type:       protocol.MsgSubscriptionConfirmed,
				WorkflowID: f.WorkflowID,
				Message:    "Subscribed to workflow " + f.WorkflowID,
				Timestamp:  time.Now().UnixMilli(),
			})
			if cur, ok := s.sim.Current(f.WorkflowID); ok {
				s.hub.SendJSON(c, cur)
			}
			s.sim.Start(s.ctx, f.WorkflowID)
			s.log.Debug().Str("client_id", c.id).Str("workflow_id", f.WorkflowID).Msg("subscribed")
			return
		}
	}
	s.hub.SendTo(c, []byte("Received: "+string(data)))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.originAllowed(origin, r.Host)
}

func (s *Server) originAllowed(origin, requestHost string) bool {
	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == requestHost {
		return true
	}
	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin, r.Host) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
