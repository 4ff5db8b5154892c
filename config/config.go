package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RealtimeConfig struct {
	URL              string        `yaml:"url"` // empty disables the realtime path
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	ReconnectMax     time.Duration `yaml:"reconnect_delay_max"`
	Jitter           float64       `yaml:"jitter"`
	TokenTemplate    string        `yaml:"token_template"`
	TokenTimeout     time.Duration `yaml:"token_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	ViewComfyEndpoint string        `yaml:"viewcomfy_endpoint"`
	Timeout           time.Duration `yaml:"timeout"`
}

type ComfyUIConfig struct {
	URL    string `yaml:"url"` // host:port, no scheme
	Secure bool   `yaml:"secure"`
}

type AuthConfig struct {
	Secret  string        `yaml:"secret"` // HMAC secret for minted tokens
	Token   string        `yaml:"token"`  // static token, used when no secret is set
	Subject string        `yaml:"subject"`
	TTL     time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level    string `yaml:"level"`  // trace|debug|info|warn|error
	Format   string `yaml:"format"` // json|console
	Sampling bool   `yaml:"sampling"`
}

type ArchiveConfig struct {
	Driver        string        `yaml:"driver"` // ""|sqlite|redis
	Path          string        `yaml:"path"`
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	API      APIConfig      `yaml:"api"`
	ComfyUI  ComfyUIConfig  `yaml:"comfyui"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Server   ServerConfig   `yaml:"server"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// Load reads the YAML file at path, applies environment overrides and defaults, and
// validates the result. A missing file is not an error: the defaults apply.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("NEXT_PUBLIC_CLOUD_WS_URL"); v != "" {
		cfg.Realtime.URL = v
	}
	if v := getenv("VIEWCOMFY_WS_URL"); v != "" {
		cfg.Realtime.URL = v
	}
	if v := getenv("VIEWCOMFY_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := getenv("COMFYUI_API_URL"); v != "" {
		cfg.ComfyUI.URL = v
	}
	if v := getenv("COMFYUI_SECURE"); v != "" {
		cfg.ComfyUI.Secure, _ = strconv.ParseBool(v)
	}
	if v := getenv("VIEWCOMFY_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := getenv("VIEWCOMFY_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
}

func applyDefaults(cfg *Config) {
	cfg.Realtime.URL = strings.TrimSpace(cfg.Realtime.URL)
	if cfg.Realtime.ReconnectDelay == 0 {
		cfg.Realtime.ReconnectDelay = time.Second
	}
	if cfg.Realtime.ReconnectMax == 0 {
		cfg.Realtime.ReconnectMax = 30 * time.Second
	}
	if cfg.Realtime.Jitter == 0 {
		cfg.Realtime.Jitter = 0.5
	}
	if cfg.Realtime.TokenTemplate == "" {
		cfg.Realtime.TokenTemplate = "long_token"
	}
	if cfg.Realtime.TokenTimeout == 0 {
		cfg.Realtime.TokenTimeout = 10 * time.Second
	}
	if cfg.Realtime.HandshakeTimeout == 0 {
		cfg.Realtime.HandshakeTimeout = 20 * time.Second
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://127.0.0.1:3000"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 5 * time.Minute
	}
	if cfg.ComfyUI.URL == "" {
		cfg.ComfyUI.URL = "127.0.0.1:8188"
	}
	if cfg.Auth.Subject == "" {
		cfg.Auth.Subject = "viewcomfy"
	}
	if cfg.Auth.TTL == 0 {
		cfg.Auth.TTL = time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Archive.Driver == "sqlite" && cfg.Archive.Path == "" {
		cfg.Archive.Path = "viewcomfy.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8089"
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	r := c.Realtime
	if r.ReconnectDelay < 0 || r.ReconnectMax < 0 {
		return errors.New("realtime: reconnect delays must not be negative")
	}
	if r.ReconnectMax < r.ReconnectDelay {
		return fmt.Errorf("realtime: reconnect_delay_max (%v) is below reconnect_delay (%v)", r.ReconnectMax, r.ReconnectDelay)
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("realtime: jitter %v out of range [0,1]", r.Jitter)
	}
	switch c.Archive.Driver {
	case "", "sqlite":
	case "redis":
		if c.Archive.RedisURL == "" {
			return errors.New("archive: redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("archive: unknown driver %q", c.Archive.Driver)
	}
	return nil
}

// RealtimeEnabled reports whether a realtime endpoint is configured.
func (c *Config) RealtimeEnabled() bool {
	return c.Realtime.URL != ""
}
