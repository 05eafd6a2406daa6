package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/RumyantsevMichael/triangular-tiler/internal/config"
	"github.com/RumyantsevMichael/triangular-tiler/internal/database"
	"github.com/RumyantsevMichael/triangular-tiler/internal/mapfile"
	"github.com/RumyantsevMichael/triangular-tiler/internal/tiles"
	"github.com/RumyantsevMichael/triangular-tiler/internal/trigrid"
	"github.com/RumyantsevMichael/triangular-tiler/internal/wfc"
)

type fakeRecorder struct {
	mu   sync.Mutex
	runs []database.Run
	err  error
}

func (f *fakeRecorder) RecordRun(run database.Run) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return int64(len(f.runs)), f.err
}

func (f *fakeRecorder) recorded() []database.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]database.Run(nil), f.runs...)
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Generation.Width = 4
	cfg.Generation.Height = 3
	cfg.Server.MaxGridWidth = 8
	cfg.Server.MaxGridHeight = 8
	if mutate != nil {
		mutate(cfg)
	}

	s, err := NewServer(cfg, tiles.BuildPalette(tiles.DefaultBaseTiles()))
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) *mapfile.Document {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var doc mapfile.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decoding map: %v", err)
	}
	return &doc
}

func TestNewServer_EmptyPalette(t *testing.T) {
	if _, err := NewServer(nil, nil); !errors.Is(err, wfc.ErrEmptyPalette) {
		t.Errorf("NewServer(empty) error = %v, want ErrEmptyPalette", err)
	}
}

func TestHandleGenerate_Defaults(t *testing.T) {
	s := newTestServer(t, nil)

	doc := decodeMap(t, get(t, s, "/api/generate?seed=42"))
	if doc.Width != 4 || doc.Height != 3 {
		t.Errorf("size = %dx%d, want 4x3", doc.Width, doc.Height)
	}
	if doc.Seed != 42 {
		t.Errorf("Seed = %d, want 42", doc.Seed)
	}
	if len(doc.Tiles) != 2*4*3 {
		t.Errorf("got %d tiles, want %d", len(doc.Tiles), 2*4*3)
	}

	placed, err := doc.Placed(s.generator.Palette())
	if err != nil {
		t.Fatalf("Placed() failed: %v", err)
	}
	if err := wfc.CheckCoverage(trigrid.EnumerateGrid(4, 3), placed); err != nil {
		t.Error(err)
	}
	if err := wfc.CheckEdgeConsistency(placed); err != nil {
		t.Error(err)
	}
}

func TestHandleGenerate_SameSeedSameMap(t *testing.T) {
	s := newTestServer(t, nil)

	a := decodeMap(t, get(t, s, "/api/generate?width=5&height=5&seed=7"))
	b := decodeMap(t, get(t, s, "/api/generate?width=5&height=5&seed=7"))
	for i := range a.Tiles {
		if a.Tiles[i].Tile != b.Tiles[i].Tile {
			t.Fatalf("tile %d differs between requests with the same seed", i)
		}
	}
}

func TestHandleGenerate_RandomSeedReported(t *testing.T) {
	s := newTestServer(t, nil)

	doc := decodeMap(t, get(t, s, "/api/generate?width=2&height=2"))
	if doc.Seed == 0 {
		t.Error("a seed should be reported when none is requested")
	}
}

func TestHandleGenerate_ClampsToLimits(t *testing.T) {
	s := newTestServer(t, nil)

	doc := decodeMap(t, get(t, s, "/api/generate?width=500&height=100&seed=1"))
	if doc.Width != 8 || doc.Height != 8 {
		t.Errorf("size = %dx%d, want clamp to 8x8", doc.Width, doc.Height)
	}
}

func TestHandleGenerate_InvalidParams(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []string{
		"/api/generate?width=abc",
		"/api/generate?height=1.5",
		"/api/generate?seed=x",
		"/api/generate?width=-3",
		"/api/generate?attempts=-1",
	}
	for _, target := range tests {
		rec := get(t, s, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
			continue
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
			t.Errorf("%s: body %q has no error message", target, rec.Body.String())
		}
	}
}

func TestHandleGenerate_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestHandleGenerate_RateLimited(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerWindow = 1
		cfg.RateLimit.WindowSeconds = 60
	})

	if rec := get(t, s, "/api/generate?seed=1"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec := get(t, s, "/api/generate?seed=1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response should carry Retry-After")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestHandleGenerate_RateLimitRemaining(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerWindow = 3
	})

	for _, want := range []string{"2", "1", "0"} {
		rec := get(t, s, "/api/generate?width=1&height=1&seed=1")
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Errorf("X-RateLimit-Remaining = %q, want %q", got, want)
		}
	}

	unlimited := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerWindow = 0
	})
	if got := get(t, unlimited, "/api/generate?seed=1").Header().Values("X-RateLimit-Remaining"); len(got) != 0 {
		t.Errorf("unlimited server sent X-RateLimit-Remaining %v", got)
	}
}

func TestHandleGenerate_ForwardedHeaders(t *testing.T) {
	limited := func(trusted ...string) *Server {
		return newTestServer(t, func(cfg *config.Config) {
			cfg.RateLimit.RequestsPerWindow = 1
			cfg.Server.TrustedProxies = trusted
		})
	}
	request := func(s *Server, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/generate?width=1&height=1&seed=1", nil)
		req.RemoteAddr = "192.0.2.10:40000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	// Without trusted proxies a rotating header does not buy new windows
	s := limited()
	if code := request(s, "198.51.100.1"); code != http.StatusOK {
		t.Fatalf("first request status = %d", code)
	}
	if code := request(s, "198.51.100.2"); code != http.StatusTooManyRequests {
		t.Errorf("spoofed client status = %d, want 429", code)
	}

	// Behind a trusted proxy each forwarded client has its own window
	s = limited("192.0.2.0/24")
	for _, client := range []string{"198.51.100.1", "198.51.100.2"} {
		if code := request(s, client); code != http.StatusOK {
			t.Errorf("client %s status = %d, want 200", client, code)
		}
	}
	if code := request(s, "198.51.100.1"); code != http.StatusTooManyRequests {
		t.Errorf("repeat client status = %d, want 429", code)
	}
}

func TestNewServer_InvalidTrustedProxy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.TrustedProxies = []string{"not-an-ip"}
	if _, err := NewServer(cfg, tiles.BuildPalette(tiles.DefaultBaseTiles())); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("NewServer() error = %v, want ErrInvalidConfig", err)
	}
}

func TestHandleGenerate_RecordsRuns(t *testing.T) {
	s := newTestServer(t, nil)
	rec := &fakeRecorder{}
	s.SetRecorder(rec)

	decodeMap(t, get(t, s, "/api/generate?width=3&height=2&seed=99"))
	// Recording failures never fail the request
	rec.err = errors.New("disk full")
	decodeMap(t, get(t, s, "/api/generate?width=3&height=2&seed=100"))

	runs := rec.recorded()
	if len(runs) != 2 {
		t.Fatalf("recorded %d runs, want 2", len(runs))
	}
	run := runs[0]
	if run.Seed != 99 || run.Width != 3 || run.Height != 2 {
		t.Errorf("run = seed %d size %dx%d, want seed 99 size 3x2", run.Seed, run.Width, run.Height)
	}
	if !run.Succeeded || run.TileCount != 12 {
		t.Errorf("run succeeded=%v tiles=%d, want true/12", run.Succeeded, run.TileCount)
	}
	if run.PaletteFingerprint != s.generator.Fingerprint() {
		t.Error("run fingerprint does not match the palette")
	}

	s.SetRecorder(nil)
	decodeMap(t, get(t, s, "/api/generate?seed=5"))
	if got := len(rec.recorded()); got != 2 {
		t.Errorf("recorded %d runs after disabling, want 2", got)
	}
}

func TestHandleRender(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s, "/api/render.png?width=2&height=2&seed=3&tile_size=16")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if seed := rec.Header().Get("X-Tiler-Seed"); seed != "3" {
		t.Errorf("X-Tiler-Seed = %q, want 3", seed)
	}

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("png.Decode() failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		t.Errorf("empty image %v", b)
	}
}

func TestHandleRender_BadTileSize(t *testing.T) {
	s := newTestServer(t, nil)

	for _, size := range []string{"abc", "1", "1000"} {
		rec := get(t, s, "/api/render.png?tile_size="+size)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("tile_size=%s: status = %d, want 400", size, rec.Code)
		}
	}
}

func TestHandleTiles(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s, "/api/tiles")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp paletteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding palette: %v", err)
	}
	if resp.Fingerprint != s.generator.Fingerprint() {
		t.Error("fingerprint mismatch")
	}
	if len(resp.Tiles) != len(s.generator.Palette()) {
		t.Fatalf("got %d tiles, want %d", len(resp.Tiles), len(s.generator.Palette()))
	}
	if len(resp.EdgeTypes) != 2 || resp.EdgeTypes[0] != "grass" || resp.EdgeTypes[1] != "road" {
		t.Errorf("edge_types = %v, want [grass road]", resp.EdgeTypes)
	}
	// Symmetric tiles contribute one variant, not three
	grassVariants := 0
	for _, tile := range resp.Tiles {
		if tile.Base == "grass" {
			grassVariants++
		}
	}
	if grassVariants != 1 {
		t.Errorf("grass listed %d times, want 1", grassVariants)
	}
	for _, tile := range resp.Tiles {
		if len(tile.Edges) != 3 {
			t.Errorf("%s has %d edges", tile.ID, len(tile.Edges))
		}
		if len(tile.Color) != 7 || tile.Color[0] != '#' {
			t.Errorf("%s color = %q", tile.ID, tile.Color)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	for _, key := range []string{"open_websockets", "websocket_clients", "rejected_sessions"} {
		if _, ok := body[key]; !ok {
			t.Errorf("health body is missing %s", key)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", errBadRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: 0x0", wfc.ErrInvalidSize), http.StatusBadRequest},
		{&wfc.GenerationFailedError{Attempts: 3}, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestServeAndShutdown(t *testing.T) {
	s := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve() returned %v after shutdown", err)
	}
}

// TestServer_Shutdown_Concurrent tests that concurrent Shutdown() calls are safe
func TestServer_Shutdown_Concurrent(t *testing.T) {
	s := newTestServer(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Shutdown(context.Background())
		}()
	}
	wg.Wait()
}
