package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat/internal/chat"
)

// PresenceReader reads the roster mirror kept for other processes.
type PresenceReader interface {
	Lookup(ctx context.Context, id string) (chat.RosterEntry, bool, error)
	Count(ctx context.Context) (int64, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithPresence reports the mirrored roster on /health and serves user
// lookups from it.
func WithPresence(p PresenceReader) Option {
	return func(s *Server) { s.presence = p }
}

// Server serves the chat hub over HTTP and WebSocket.
type Server struct {
	cfg      Config
	hub      *chat.Hub
	store    chat.Store
	presence PresenceReader
	log      *zap.Logger
	origins  originPolicy
	upgrader websocket.Upgrader
	engine   *gin.Engine
}

// New builds the HTTP surface for hub. store backs the health check and the
// history API; it should be the same store the hub writes to.
func New(cfg Config, hub *chat.Hub, store chat.Store, log *zap.Logger, options ...Option) *Server {
	cfg = cfg.Sanitize()
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		store:   store,
		log:     log,
		origins: newOriginPolicy(cfg.AllowedOrigins, log),
	}
	for _, o := range options {
		o(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.engine = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// CreateServer creates and configures the HTTP server with security settings.
// WriteTimeout is left unset because hijacked WebSocket connections manage
// their own deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits. A server
// stopped by ShutdownServer returns nil.
func StartServer(server *http.Server, log *zap.Logger) error {
	log.Info("server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting
// active requests. It waits for them to finish or until the timeout is
// reached.
func ShutdownServer(server *http.Server, timeout time.Duration, log *zap.Logger) error {
	log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}
