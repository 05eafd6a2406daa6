package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RumyantsevMichael/triangular-tiler/internal/config"
)

func dialTestServer(t *testing.T, s *Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return websocket.DefaultDialer.Dial(url, header)
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) wsResponse {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var resp wsResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestWebSocket_Generate(t *testing.T) {
	s := newTestServer(t, nil)
	conn, _, err := dialTestServer(t, s, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := roundTrip(t, conn, `{"width":3,"height":2,"seed":11}`)
	if resp.Type != "map" || resp.Map == nil {
		t.Fatalf("response = %+v, want a map", resp)
	}
	if resp.Map.Seed != 11 || len(resp.Map.Tiles) != 12 {
		t.Errorf("map seed=%d tiles=%d, want 11/12", resp.Map.Seed, len(resp.Map.Tiles))
	}

	// The connection keeps serving requests
	again := roundTrip(t, conn, `{"width":3,"height":2,"seed":11}`)
	if again.Type != "map" {
		t.Fatalf("second response = %+v", again)
	}
	for i := range resp.Map.Tiles {
		if resp.Map.Tiles[i].Tile != again.Map.Tiles[i].Tile {
			t.Fatalf("tile %d differs between requests with the same seed", i)
		}
	}
}

func TestWebSocket_BadRequest(t *testing.T) {
	s := newTestServer(t, nil)
	conn, _, err := dialTestServer(t, s, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, msg := range []string{`not json`, `{"width":-1}`} {
		resp := roundTrip(t, conn, msg)
		if resp.Type != "error" || resp.Error == "" {
			t.Errorf("%s: response = %+v, want an error", msg, resp)
		}
	}
}

func TestWebSocket_RateLimited(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerWindow = 1
	})
	conn, _, err := dialTestServer(t, s, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if resp := roundTrip(t, conn, `{"seed":1}`); resp.Type != "map" {
		t.Fatalf("first response = %+v", resp)
	}
	resp := roundTrip(t, conn, `{"seed":1}`)
	if resp.Type != "error" || !strings.Contains(resp.Error, "too many requests") {
		t.Errorf("second response = %+v, want rate limit error", resp)
	}
}

func TestWebSocket_ConnectionLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Connections.MaxPerIP = 1
	})

	first, _, err := dialTestServer(t, s, nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer first.Close()

	_, resp, err := dialTestServer(t, s, nil)
	if err == nil {
		t.Fatal("second connection from the same address should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("rejection response = %v, want 429", resp)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "client limit of 1") {
		t.Errorf("rejection body = %q, want the tripped limit", body)
	}
	if got := s.sessions.Stats().Rejected; got != 1 {
		t.Errorf("Rejected = %d, want 1", got)
	}
}

func TestWebSocket_OriginRejected(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{"https://maps.example.com"}
	})

	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err := dialTestServer(t, s, header)
	if err == nil {
		t.Fatal("connection from a foreign origin should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("rejection response = %v, want 403", resp)
	}

	// The failed upgrade gives its slot back
	deadline := time.Now().Add(2 * time.Second)
	for {
		total := s.sessions.Stats().Open
		if total == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("open connections = %d after failed upgrade, want 0", total)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_ShutdownClosesConnections(t *testing.T) {
	s := newTestServer(t, nil)
	conn, _, err := dialTestServer(t, s, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Make sure the connection is registered before shutting down
	roundTrip(t, conn, `{"width":1,"height":1,"seed":1}`)

	if err := s.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("read should fail after shutdown")
	}
}

func TestWebSocket_UpgradeAfterShutdown(t *testing.T) {
	s := newTestServer(t, nil)
	if err := s.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// httptest keeps accepting, so the upgrade itself still completes
	conn, _, err := dialTestServer(t, s, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after shutdown = %v, want a going away close", err)
	}

	if got := s.sessions.Stats().Open; got != 0 {
		t.Errorf("open sessions = %d after refused connection, want 0", got)
	}
	s.mu.RLock()
	tracked := len(s.conns)
	s.mu.RUnlock()
	if tracked != 0 {
		t.Errorf("tracked connections = %d, want 0", tracked)
	}
}
