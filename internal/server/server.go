// Package server wires the HTTP surface of SignalChat: session
// creation, channel and conversation REST endpoints, Prometheus
// metrics, and the WebSocket chat endpoint.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/garagebot/signalchat/internal/channel"
	"github.com/garagebot/signalchat/internal/config"
	"github.com/garagebot/signalchat/internal/message"
	"github.com/garagebot/signalchat/internal/ratelimit"
	"github.com/garagebot/signalchat/internal/user"
	"github.com/garagebot/signalchat/internal/ws"
)

// defaultHistoryFetch is the message count returned by the history
// endpoint when no limit is given.
const defaultHistoryFetch = 50

// Server is the SignalChat HTTP server.
type Server struct {
	cfg      config.Config
	mux      *http.ServeMux
	httpSrv  *http.Server
	hub      *ws.Hub
	sessions *user.SessionStore
	channels *channel.Manager
	messages message.Store
	convos   *message.ConversationStore
	limiter  *ratelimit.IPLimiter
	upgrades *ratelimit.IPLimiter
	log      *zap.Logger

	stopPrune context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithMessageStore overrides the default in-memory message store.
func WithMessageStore(store message.Store) Option {
	return func(s *Server) {
		s.messages = store
	}
}

// New creates a Server from the configuration. A nil logger discards
// all output.
func New(cfg config.Config, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		sessions: user.NewSessionStore(),
		channels: channel.NewManager(),
		convos:   message.NewConversationStore(),
		limiter:  ratelimit.NewIPLimiter(cfg.SessionRateLimit, cfg.SessionRateWindow.Std()),
		upgrades: ratelimit.NewIPLimiter(cfg.SessionRateLimit, cfg.SessionRateWindow.Std()),
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.messages == nil {
		s.messages = message.NewMemoryStore(cfg.HistorySize)
	}

	for i, seed := range cfg.Channels {
		ch := s.channels.Create(seed.Name, seed.Description, i)
		if seed.Locked {
			s.channels.SetLocked(ch.ID, true)
		}
	}

	s.hub = ws.NewHub(log,
		ws.WithMaxConns(cfg.MaxConns),
		ws.WithHeartbeat(cfg.Heartbeat.Std()))

	s.routes()
	s.httpSrv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.mux,
	}
	return s
}

// Hub returns the WebSocket hub, exposed for tests.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Handler returns the root HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	pruneCtx, cancel := context.WithCancel(context.Background())
	s.stopPrune = cancel
	go s.pruneLoop(pruneCtx)

	s.log.Info("server listening", zap.String("addr", s.cfg.ListenAddr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes all WebSocket
// connections, and waits for in-flight requests up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopPrune != nil {
		s.stopPrune()
	}
	s.hub.ConnMgr().Shutdown()
	return s.httpSrv.Shutdown(ctx)
}

// pruneLoop periodically drops stale rate-limiter entries.
func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune()
			s.upgrades.Prune()
		}
	}
}

func (s *Server) routes() {
	wsHandler := ws.NewHandler(s.hub, s.sessions, s.channels, s.messages, s.convos, s.log)
	s.mux.Handle("GET /ws/chat", s.limitUpgrades(wsHandler))

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("POST /api/session", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/channels", s.handleListChannels)
	s.mux.HandleFunc("GET /api/channels/{id}/messages", s.handleChannelHistory)
	s.mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.mux.HandleFunc("GET /api/conversations", s.handleListConversations)
}

// limitUpgrades applies the per-IP limiter to WebSocket upgrades
// before the handshake starts.
func (s *Server) limitUpgrades(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.upgrades.Allow(remoteIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.hub.ConnMgr().Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"activeConnections": stats.Active,
		"maxConnections":    stats.MaxConns,
		"rejected":          stats.Rejected,
		"droppedFrames":     stats.DroppedFrames,
		"reaped":            stats.Reaped,
		"sessions":          s.sessions.Count(),
	})
}

// sessionResponse is returned by POST /api/session.
type sessionResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(remoteIP(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if r.Body != nil {
		// An empty or absent body yields an anonymous username.
		json.NewDecoder(r.Body).Decode(&req)
	}

	sess := s.sessions.Create(req.Username)
	s.log.Info("session created",
		zap.String("user_id", sess.UserID), zap.String("username", sess.Username))

	http.SetCookie(w, &http.Cookie{
		Name:     ws.TokenCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:    sess.Token,
		UserID:   sess.UserID,
		Username: sess.Username,
	})
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.channels.List())
}

func (s *Server) handleChannelHistory(w http.ResponseWriter, r *http.Request) {
	if s.authenticate(r) == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.PathValue("id")
	if s.channels.Get(id) == nil {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	n := defaultHistoryFetch
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	msgs := s.messages.Recent(id, n)
	if msgs == nil {
		msgs = []*message.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	sess := s.authenticate(r)
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if req.UserID == sess.UserID {
		http.Error(w, "cannot start a conversation with yourself", http.StatusBadRequest)
		return
	}

	convo := s.convos.GetOrCreate(sess.UserID, sess.Username, req.UserID, req.Username)
	writeJSON(w, http.StatusOK, convo)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	sess := s.authenticate(r)
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convos := s.convos.ListByUser(sess.UserID)
	if convos == nil {
		convos = []*message.Conversation{}
	}
	writeJSON(w, http.StatusOK, convos)
}

// authenticate resolves the request's session from the token query
// parameter or the session cookie. Returns nil when unauthenticated.
func (s *Server) authenticate(r *http.Request) *user.Session {
	token := r.URL.Query().Get("token")
	if token == "" {
		if c, err := r.Cookie(ws.TokenCookie); err == nil {
			token = c.Value
		}
	}
	return s.sessions.Get(token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
