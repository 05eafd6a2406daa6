package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
	"github.com/RumyantsevMichael/triangular-tiler/internal/mapfile"
)

const wsWriteTimeout = 10 * time.Second

// wsResponse is sent once per request message. Type is "map" or "error".
type wsResponse struct {
	Type  string            `json:"type"`
	Map   *mapfile.Document `json:"map,omitempty"`
	Error string            `json:"error,omitempty"`
}

// handleWebSocketUpgrade upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	clientIP := s.clientIP(r)

	session, err := s.sessions.Acquire(clientIP)
	if err != nil {
		logger.Warning("WebSocket connection rejected - limit exceeded",
			"remote_addr", r.RemoteAddr,
			"client_ip", clientIP,
			"error", err)
		http.Error(w, "Too many connections: "+err.Error()+". Please try again later.", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			allowed := s.cfg.Server.IsOriginAllowed(origin, r.Host)
			if !allowed {
				logger.Warning("WebSocket connection rejected - origin not allowed",
					"origin", origin,
					"host", r.Host,
					"remote_addr", r.RemoteAddr)
			}
			return allowed
		},
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", "error", err)
		session.Release()
		return
	}

	if !s.trackConn(wsConn) {
		wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		wsConn.Close()
		session.Release()
		return
	}
	go s.handleWebSocketConnection(wsConn, session)
}

// handleWebSocketConnection answers generation requests until the client
// disconnects or the server shuts down.
func (s *Server) handleWebSocketConnection(wsConn *websocket.Conn, session *Session) {
	defer func() {
		s.untrackConn(wsConn)
		session.Release()
		wsConn.Close()
	}()

	wsConn.SetReadLimit(s.cfg.Server.MaxMessageSize)
	log := logger.With("client_ip", session.Client, "session", session.ID)
	if log != nil {
		log.Debug("WebSocket session opened")
	}

	for {
		_, message, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if log != nil {
					log.Debug("WebSocket read failed", "error", err)
				}
			}
			if log != nil {
				log.Debug("WebSocket session closed", "duration", time.Since(session.Opened).Round(time.Millisecond))
			}
			return
		}

		resp := s.answer(session.Client, message)
		wsConn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := wsConn.WriteJSON(resp); err != nil {
			if log != nil {
				log.Debug("WebSocket write failed", "error", err)
			}
			return
		}
	}
}

// answer turns one request message into a response.
func (s *Server) answer(clientIP string, message []byte) wsResponse {
	if ok, retry := s.rateLimiter.Allow(clientIP); !ok {
		return wsResponse{Type: "error", Error: "too many requests, retry in " + retry.Round(time.Second).String()}
	}

	var req generateRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return wsResponse{Type: "error", Error: errors.Join(errBadRequest, err).Error()}
	}

	// Connections have no request context of their own once upgraded.
	ctx, cancel := s.connContext()
	defer cancel()

	m, err := s.generate(ctx, req)
	if err != nil {
		return wsResponse{Type: "error", Error: err.Error()}
	}
	return wsResponse{Type: "map", Map: mapfile.FromMap(m)}
}
