package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the matching setting is empty.
const (
	EnvOverpassEndpoint = "ROADSPEED_OVERPASS_ENDPOINT"
	EnvDBPath           = "ROADSPEED_DB_PATH"
)

// Config holds the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Request  RequestConfig  `yaml:"request"`
	Overpass OverpassConfig `yaml:"overpass"`
	Cache    CacheConfig    `yaml:"cache"`
	Speed    SpeedConfig    `yaml:"speed"`
	Route    RouteConfig    `yaml:"route"`
	Server   ServerConfig   `yaml:"server"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds the response cache database settings.
type DBConfig struct {
	Path     string   `yaml:"path"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// OverpassConfig holds settings for the road graph source.
type OverpassConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"` // server-side query timeout
	// Offline is an Overpass JSON dump used instead of the API when set.
	Offline string `yaml:"offline"`
}

// CacheConfig holds settings for the in-memory graph window.
type CacheConfig struct {
	Radius Distance `yaml:"radius"`
	// EvictBeyond drops nodes farther than this multiple of Radius from the
	// window center after each load. Zero keeps everything.
	EvictBeyond float64 `yaml:"evict_beyond"`
}

// SpeedConfig holds maxspeed normalization settings.
type SpeedConfig struct {
	StrictLists bool `yaml:"strict_lists"`
}

// RouteConfig holds batch route processing defaults.
type RouteConfig struct {
	Step   Distance `yaml:"step"` // 0 disables densification
	Format string   `yaml:"format"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	// SessionTTL drops per-client speed sessions after this much inactivity.
	SessionTTL  Duration `yaml:"session_ttl"`
	MaxSessions int      `yaml:"max_sessions"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path:     "./data/roadspeed.db",
			CacheTTL: Duration(7 * Day),
		},
		Request: RequestConfig{
			Retries: 5,
			Timeout: Duration(120 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(60 * time.Second),
			},
		},
		Overpass: OverpassConfig{
			Endpoint: "https://overpass-api.de/api/interpreter",
			Timeout:  Duration(180 * time.Second),
		},
		Cache: CacheConfig{
			Radius: Distance(500),
		},
		Route: RouteConfig{
			Format: "csv",
		},
		Server: ServerConfig{
			Address:     "localhost:1921",
			SessionTTL:  Duration(30 * time.Minute),
			MaxSessions: 64,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// An existing file is merged over the defaults but never written back.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Env fallbacks are applied after saving so they never end up on disk
	if cfg.Overpass.Endpoint == "" {
		cfg.Overpass.Endpoint = os.Getenv(EnvOverpassEndpoint)
	}
	if cfg.DB.Path == "" {
		cfg.DB.Path = os.Getenv(EnvDBPath)
	}

	cfg.Log.Server.Path = ExpandPath(cfg.Log.Server.Path)
	cfg.Log.Requests.Path = ExpandPath(cfg.Log.Requests.Path)
	cfg.DB.Path = ExpandPath(cfg.DB.Path)
	cfg.Overpass.Offline = ExpandPath(cfg.Overpass.Offline)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the resolver cannot work with.
func (c *Config) Validate() error {
	if c.Cache.Radius <= 0 {
		return fmt.Errorf("cache.radius must be positive, got %v", float64(c.Cache.Radius))
	}
	if c.Cache.EvictBeyond != 0 && c.Cache.EvictBeyond < 1 {
		return fmt.Errorf("cache.evict_beyond must be 0 or at least 1, got %v", c.Cache.EvictBeyond)
	}
	if c.Route.Step < 0 {
		return fmt.Errorf("route.step must not be negative, got %v", float64(c.Route.Step))
	}
	switch c.Route.Format {
	case "csv", "geojson":
	default:
		return fmt.Errorf("invalid route.format '%s': must be 'csv' or 'geojson'", c.Route.Format)
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server.max_sessions must not be negative, got %d", c.Server.MaxSessions)
	}
	if c.Overpass.Endpoint == "" && c.Overpass.Offline == "" {
		return fmt.Errorf("overpass.endpoint is empty and %s is not set", EnvOverpassEndpoint)
	}
	return nil
}

var winEnvRe = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// ExpandPath expands $VAR, ${VAR} and %VAR% references and a leading ~.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = winEnvRe.ReplaceAllStringFunc(p, func(m string) string {
		return os.Getenv(strings.Trim(m, "%"))
	})
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# roadspeed configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)

`)
	data = append(header, data...)

	reFormat := regexp.MustCompile(`(?m)^(\s+)format:`)
	data = reFormat.ReplaceAll(data, []byte("${1}# Options: csv, geojson\n${1}format:"))

	reEvict := regexp.MustCompile(`(?m)^(\s+)evict_beyond:`)
	data = reEvict.ReplaceAll(data, []byte("${1}# Multiple of radius; 0 never evicts\n${1}evict_beyond:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return Save(path, DefaultConfig())
}
