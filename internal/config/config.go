// Package config loads the tiler's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RumyantsevMichael/triangular-tiler/internal/database"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the root of a tiler configuration file.
type Config struct {
	Generation  GenerationConfig  `yaml:"generation"`
	Render      RenderConfig      `yaml:"render"`
	Server      ServerConfig      `yaml:"server"`
	Connections ConnectionsConfig `yaml:"connections"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Database    DatabaseConfig    `yaml:"database"`
}

// GenerationConfig holds the defaults for a generation request.
type GenerationConfig struct {
	Width       int `yaml:"width"`
	Height      int `yaml:"height"`
	MaxAttempts int `yaml:"max_attempts"`

	// Seed 0 picks a fresh seed per run.
	Seed int64 `yaml:"seed"`

	// TilesFile is a YAML tile catalog. Empty uses the built-in grass/road set.
	TilesFile string `yaml:"tiles_file"`
}

// RenderConfig holds image output settings.
type RenderConfig struct {
	// TileSize is the edge length of one triangle in pixels.
	TileSize float64 `yaml:"tile_size"`
}

// ServerConfig holds HTTP and WebSocket settings for tilerd.
type ServerConfig struct {
	Address string `yaml:"address"`

	// AllowedOrigins is a list of origins allowed to connect via WebSocket.
	// Empty list enforces same-origin policy.
	// Use "*" to allow all origins.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageSize is the maximum WebSocket message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// Requests larger than these are clamped.
	MaxGridWidth  int `yaml:"max_grid_width"`
	MaxGridHeight int `yaml:"max_grid_height"`

	// TrustedProxies lists proxy addresses or CIDR ranges whose
	// X-Forwarded-For and X-Real-IP headers name the client. Empty means the
	// headers are ignored and limits key on the peer address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a
// single-host prefix.
func (c *ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// ConnectionsConfig holds connection limit settings.
type ConnectionsConfig struct {
	// MaxPerIP is the maximum concurrent WebSocket connections from one address.
	// 0 means unlimited.
	MaxPerIP int `yaml:"max_per_ip"`

	// MaxTotal is the maximum total concurrent WebSocket connections.
	// 0 means unlimited.
	MaxTotal int `yaml:"max_total"`
}

// RateLimitConfig bounds generation requests per client address.
type RateLimitConfig struct {
	// RequestsPerWindow of 0 disables rate limiting.
	RequestsPerWindow int `yaml:"requests_per_window"`
	WindowSeconds     int `yaml:"window_seconds"`
}

// Window returns the rate limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// DatabaseConfig selects where run history is recorded.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver     string         `yaml:"driver"`
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether run history should be recorded at all.
// SQLite without a path disables it.
func (d DatabaseConfig) Enabled() bool {
	switch d.Driver {
	case "postgres":
		return true
	case "sqlite", "":
		return d.SQLitePath != ""
	}
	return false
}

// DatabaseConfig converts the settings to a database.Config.
func (d DatabaseConfig) DatabaseConfig() database.Config {
	if d.Driver != "postgres" {
		return database.DefaultConfig(d.SQLitePath)
	}

	pg := database.DefaultPostgresConfig()
	if d.Postgres.Host != "" {
		pg.Host = d.Postgres.Host
	}
	if d.Postgres.Port != 0 {
		pg.Port = d.Postgres.Port
	}
	if d.Postgres.SSLMode != "" {
		pg.SSLMode = d.Postgres.SSLMode
	}
	pg.User = d.Postgres.User
	pg.Password = d.Postgres.Password
	pg.Database = d.Postgres.Database

	return database.Config{Driver: "postgres", Postgres: pg}
}

// DefaultConfig returns a Config with working defaults.
func DefaultConfig() *Config {
	return &Config{
		Generation: GenerationConfig{
			Width:       10,
			Height:      10,
			MaxAttempts: 100,
		},
		Render: RenderConfig{
			TileSize: 32,
		},
		Server: ServerConfig{
			Address:        ":8080",
			AllowedOrigins: []string{}, // Same-origin only by default
			MaxMessageSize: 4096,
			MaxGridWidth:   64,
			MaxGridHeight:  64,
		},
		Connections: ConnectionsConfig{
			MaxPerIP: 3,
			MaxTotal: 100,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 30,
			WindowSeconds:     60,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
	}
}

// LoadConfig loads configuration from a YAML file over the defaults.
// A missing file returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return config, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}

	return config, nil
}

// Validate rejects settings the tiler cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Generation.Width <= 0 || c.Generation.Height <= 0 {
		problems = append(problems, fmt.Sprintf("generation size %dx%d must be positive", c.Generation.Width, c.Generation.Height))
	}
	if c.Generation.MaxAttempts <= 0 {
		problems = append(problems, fmt.Sprintf("generation.max_attempts %d must be positive", c.Generation.MaxAttempts))
	}
	if !(c.Render.TileSize > 0) || math.IsInf(c.Render.TileSize, 0) {
		problems = append(problems, fmt.Sprintf("render.tile_size %g must be a positive number", c.Render.TileSize))
	}
	if c.Server.MaxGridWidth <= 0 || c.Server.MaxGridHeight <= 0 {
		problems = append(problems, fmt.Sprintf("server max grid %dx%d must be positive", c.Server.MaxGridWidth, c.Server.MaxGridHeight))
	}
	if c.Server.MaxMessageSize <= 0 {
		problems = append(problems, "server.max_message_size must be positive")
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		problems = append(problems, "server.trusted_proxies: "+err.Error())
	}
	if c.Connections.MaxPerIP < 0 || c.Connections.MaxTotal < 0 {
		problems = append(problems, "connection limits must not be negative")
	}
	if c.RateLimit.RequestsPerWindow < 0 {
		problems = append(problems, "rate_limit.requests_per_window must not be negative")
	}
	if c.RateLimit.RequestsPerWindow > 0 && c.RateLimit.WindowSeconds <= 0 {
		problems = append(problems, "rate_limit.window_seconds must be positive when rate limiting is on")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not sqlite or postgres", c.Database.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// IsOriginAllowed checks if the given origin is allowed based on the config.
// Returns true if:
// - AllowedOrigins contains "*" (allow all)
// - AllowedOrigins contains the exact origin
// - AllowedOrigins is empty and origin matches the request host (same-origin)
func (c *ServerConfig) IsOriginAllowed(origin, requestHost string) bool {
	if len(c.AllowedOrigins) == 0 {
		return isSameOrigin(origin, requestHost)
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// isSameOrigin checks if the origin matches the request host.
func isSameOrigin(origin, requestHost string) bool {
	if origin == "" {
		return true // Non-browser clients send no Origin header
	}

	originHost := origin
	if idx := strings.Index(origin, "://"); idx != -1 {
		originHost = origin[idx+3:]
	}
	originHost = strings.TrimSuffix(originHost, "/")

	return originHost == requestHost
}
