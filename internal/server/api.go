package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/RumyantsevMichael/triangular-tiler/internal/database"
	"github.com/RumyantsevMichael/triangular-tiler/internal/logger"
	"github.com/RumyantsevMichael/triangular-tiler/internal/mapfile"
	"github.com/RumyantsevMichael/triangular-tiler/internal/render"
	"github.com/RumyantsevMichael/triangular-tiler/internal/wfc"
)

// generateTimeout bounds a single generation request.
const generateTimeout = 30 * time.Second

var errBadRequest = errors.New("bad request")

// generateRequest is the body of a WebSocket message and the query of the
// HTTP endpoints. Zero values take the configured defaults.
type generateRequest struct {
	Width       int   `json:"width"`
	Height      int   `json:"height"`
	Seed        int64 `json:"seed"`
	MaxAttempts int   `json:"max_attempts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type tileInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Base        string   `json:"base"`
	Rotation    int      `json:"rotation"`
	Edges       []string `json:"edges"`
	Color       string   `json:"color"`
	Description string   `json:"description,omitempty"`
}

// paletteResponse describes the tiles the generator chooses from. Tiles holds
// one entry per distinct rotation: a rotation whose edges repeat an earlier
// rotation of the same base tile is not a separate variant, so symmetric
// tiles list fewer than three entries.
type paletteResponse struct {
	Fingerprint string     `json:"fingerprint"`
	EdgeTypes   []string   `json:"edge_types"`
	Tiles       []tileInfo `json:"tiles"`
}

// parseQuery reads width, height, seed and attempts from URL parameters.
func parseQuery(values url.Values) (generateRequest, error) {
	var req generateRequest
	ints := []struct {
		name string
		dst  *int
	}{
		{"width", &req.Width},
		{"height", &req.Height},
		{"attempts", &req.MaxAttempts},
	}
	for _, p := range ints {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, fmt.Errorf("%w: %s=%q is not an integer", errBadRequest, p.name, raw)
		}
		*p.dst = n
	}

	if raw := values.Get("seed"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, fmt.Errorf("%w: seed=%q is not an integer", errBadRequest, raw)
		}
		req.Seed = seed
	}
	return req, nil
}

// mapConfig applies defaults and the server's limits to a request.
func (s *Server) mapConfig(req generateRequest) (wfc.MapConfig, error) {
	gen := s.cfg.Generation
	limits := s.cfg.Server

	if req.Width < 0 || req.Height < 0 {
		return wfc.MapConfig{}, fmt.Errorf("%w: size %dx%d is negative", errBadRequest, req.Width, req.Height)
	}
	if req.MaxAttempts < 0 {
		return wfc.MapConfig{}, fmt.Errorf("%w: attempts %d is negative", errBadRequest, req.MaxAttempts)
	}

	cfg := wfc.MapConfig{
		Width:       req.Width,
		Height:      req.Height,
		Seed:        req.Seed,
		MaxAttempts: req.MaxAttempts,
	}
	if cfg.Width == 0 {
		cfg.Width = gen.Width
	}
	if cfg.Height == 0 {
		cfg.Height = gen.Height
	}
	if cfg.MaxAttempts == 0 || cfg.MaxAttempts > gen.MaxAttempts {
		cfg.MaxAttempts = gen.MaxAttempts
	}
	cfg.Width = min(cfg.Width, limits.MaxGridWidth)
	cfg.Height = min(cfg.Height, limits.MaxGridHeight)

	if cfg.Seed == 0 {
		cfg.Seed = gen.Seed
	}
	if cfg.Seed == 0 {
		cfg.Seed = wfc.NewSeed()
	}
	return cfg, nil
}

// generate runs one request and records it when history is enabled.
func (s *Server) generate(ctx context.Context, req generateRequest) (*wfc.GeneratedMap, error) {
	cfg, err := s.mapConfig(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	start := time.Now()
	m, genErr := s.generator.Generate(ctx, &cfg)

	if rec := s.getRecorder(); rec != nil {
		run := database.NewRun(cfg, s.generator.Fingerprint(), len(s.generator.Palette()), m, genErr, time.Since(start))
		if _, err := rec.RecordRun(run); err != nil {
			logger.Warning("Failed to record generation run", "seed", cfg.Seed, "error", err)
		}
	}
	return m, genErr
}

// statusFor maps generation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, wfc.ErrInvalidSize), errors.Is(err, wfc.ErrInvalidAttempts):
		return http.StatusBadRequest
	case errors.Is(err, wfc.ErrGenerationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// allow applies the rate limit and writes the 429 response when it trips.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	ip := s.clientIP(r)
	ok, retry := s.rateLimiter.Allow(ip)
	if remaining := s.rateLimiter.Remaining(ip); remaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if ok {
		return true
	}

	logger.Warning("Generation request rate limited", "client_ip", ip, "retry_after", retry)
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
	return false
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	req, err := parseQuery(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	m, err := s.generate(r.Context(), req)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, mapfile.FromMap(m))
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	query := r.URL.Query()
	req, err := parseQuery(query)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	opts := render.DefaultOptions(s.cfg.Render.TileSize)
	if raw := query.Get("tile_size"); raw != "" {
		size, err := strconv.ParseFloat(raw, 64)
		if err != nil || size < 4 || size > 128 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "tile_size must be a number between 4 and 128"})
			return
		}
		opts.TileSize = size
	}
	opts.Labels = query.Get("labels") == "true"

	m, err := s.generate(r.Context(), req)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	img, err := render.Image(m.Tiles, opts)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Tiler-Seed", strconv.FormatInt(m.Seed, 10))
	if err := png.Encode(w, img); err != nil {
		logger.Warning("Failed to write PNG response", "error", err)
	}
}

func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	palette := s.generator.Palette()
	resp := paletteResponse{
		Fingerprint: s.generator.Fingerprint(),
		Tiles:       make([]tileInfo, 0, len(palette)),
	}
	for _, e := range palette.EdgeTypes() {
		resp.EdgeTypes = append(resp.EdgeTypes, string(e))
	}

	for _, t := range palette {
		edges := make([]string, len(t.Edges))
		for i, e := range t.Edges {
			edges[i] = string(e)
		}
		c := render.TileColor(t)
		resp.Tiles = append(resp.Tiles, tileInfo{
			ID:          t.ID,
			Name:        t.Name,
			Base:        t.Base(),
			Rotation:    t.Rotation,
			Edges:       edges,
			Color:       fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B),
			Description: t.Description(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"uptime_seconds":    int(time.Since(s.StartTime).Seconds()),
		"open_websockets":   sessions.Open,
		"websocket_clients": sessions.Clients,
		"rejected_sessions": sessions.Rejected,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warning("Failed to write JSON response", "error", err)
	}
}
