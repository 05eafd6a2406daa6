// Package server exposes map generation over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RumyantsevMichael/triangular-tiler/internal/config"
	"github.com/RumyantsevMichael/triangular-tiler/internal/database"
	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/wfc"
)

// RunRecorder stores the outcome of each generation request.
// *database.Database satisfies it.
type RunRecorder interface {
	RecordRun(run database.Run) (int64, error)
}

type Server struct {
	cfg         *config.Config
	generator   *wfc.Generator
	recorder    RunRecorder
	sessions    *SessionLimiter
	rateLimiter *RateLimiter
	trusted     []netip.Prefix
	httpServer  *http.Server
	mux         *http.ServeMux
	mu          sync.RWMutex
	conns       map[*websocket.Conn]struct{}

	// baseCtx outlives single requests and ends at Shutdown
	baseCtx    context.Context
	cancelBase context.CancelFunc

	shutdownOnce sync.Once
	StartTime    time.Time
}

// NewServer builds a server for the palette. The palette is shared by every
// request; each request gets its own solver.
func NewServer(cfg *config.Config, palette tiles.Palette) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	generator, err := wfc.NewGenerator(palette)
	if err != nil {
		return nil, err
	}
	trusted, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         cfg,
		generator:   generator,
		sessions:    NewSessionLimiter(cfg.Connections),
		rateLimiter: NewRateLimiter(cfg.RateLimit),
		trusted:     trusted,
		mux:         http.NewServeMux(),
		conns:       make(map[*websocket.Conn]struct{}),
		baseCtx:     baseCtx,
		cancelBase:  cancel,
		StartTime:   time.Now(),
	}
	s.routes()
	return s, nil
}

// SetRecorder enables run history. nil disables it.
func (s *Server) SetRecorder(r RunRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

func (s *Server) getRecorder() RunRecorder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder
}

// trackConn registers an upgraded connection so Shutdown can close it. It
// refuses once shutdown has begun; the caller then owns closing c.
func (s *Server) trackConn(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrackConn(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) connContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(s.baseCtx)
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/render.png", s.handleRender)
	s.mux.HandleFunc("GET /api/tiles", s.handleTiles)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.handleWebSocketUpgrade)
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StdLogger(slog.LevelError),
	}
	srv := s.httpServer
	s.mu.Unlock()

	logger.Info("HTTP server listening", "address", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires. Calling it more than once is safe.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		s.cancelBase()

		s.mu.RLock()
		srv := s.httpServer
		s.mu.RUnlock()
		if srv != nil {
			err = srv.Shutdown(ctx)
		}

		// Hijacked connections are not closed by http.Server.Shutdown
		s.mu.Lock()
		for c := range s.conns {
			c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			c.Close()
		}
		s.mu.Unlock()

		stats := s.sessions.Stats()
		logger.Info("Server shutdown complete",
			"open_websockets", stats.Open,
			"rejected_sessions", stats.Rejected,
			"uptime", time.Since(s.StartTime).Round(time.Second))
	})
	return err
}

// clientIP returns the address limits apply to for r.
func (s *Server) clientIP(r *http.Request) string {
	return clientIP(r, s.trusted)
}
