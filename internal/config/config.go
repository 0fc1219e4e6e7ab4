package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8090"
	DefaultStorePath      = "data/onebot.db"
	DefaultAgent          = "main"
	DefaultBackendTimeout = 120
	DefaultTokenTTLHours  = 24
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Backend BackendConfig `toml:"backend"`
	Routing RoutingConfig `toml:"routing"`
	OneBot  OneBotConfig  `toml:"onebot"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"ONEBOT_LOG_LEVEL"`
	Format string `toml:"format" env:"ONEBOT_LOG_FORMAT"`
}

type ServerConfig struct {
	Addr string `toml:"addr" env:"ONEBOT_SERVER_ADDR"`
	// JWTSecret signs admin API tokens. Empty leaves the API unauthenticated.
	JWTSecret     string `toml:"jwt_secret" env:"ONEBOT_JWT_SECRET"`
	TokenTTLHours int    `toml:"token_ttl_hours" env:"ONEBOT_TOKEN_TTL_HOURS"`
}

type StoreConfig struct {
	Path string `toml:"path" env:"ONEBOT_STORE_PATH"`
}

type BackendConfig struct {
	URL            string `toml:"url" env:"ONEBOT_BACKEND_URL"`
	Token          string `toml:"token" env:"ONEBOT_BACKEND_TOKEN"`
	TimeoutSeconds int    `toml:"timeout_seconds" env:"ONEBOT_BACKEND_TIMEOUT_SECONDS"`
}

type RoutingConfig struct {
	DefaultAgent string `toml:"default_agent" env:"ONEBOT_ROUTING_DEFAULT_AGENT"`
	// Agents maps an account id to the agent that serves it.
	Agents map[string]string `toml:"agents"`
}

// OneBotConfig holds the account-group defaults plus per-account overrides.
// Account-level values win over the group values.
type OneBotConfig struct {
	AccountConfig
	Accounts map[string]AccountConfig `toml:"accounts"`
}

// AccountConfig is the per-account configuration surface. Zero values mean
// "inherit from the group".
type AccountConfig struct {
	Enabled        *bool               `toml:"enabled"`
	Name           string              `toml:"name"`
	WSURL          string              `toml:"ws_url" env:"ONEBOT_WS_URL"`
	HTTPURL        string              `toml:"http_url" env:"ONEBOT_HTTP_URL"`
	AccessToken    string              `toml:"access_token" env:"ONEBOT_ACCESS_TOKEN"`
	DMPolicy       string              `toml:"dm_policy" env:"ONEBOT_DM_POLICY"`
	AllowFrom      FlexibleStringSlice `toml:"allow_from" env:"ONEBOT_ALLOW_FROM"`
	TextChunkLimit int                 `toml:"text_chunk_limit" env:"ONEBOT_TEXT_CHUNK_LIMIT"`
	ChunkMode      string              `toml:"chunk_mode" env:"ONEBOT_CHUNK_MODE"`
	MediaMaxMB     int                 `toml:"media_max_mb" env:"ONEBOT_MEDIA_MAX_MB"`
}

// FlexibleStringSlice is a []string that also accepts numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

// UnmarshalTOML implements toml.Unmarshaler.
func (f *FlexibleStringSlice) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		*f = splitList(v)
		return nil
	case int64:
		*f = []string{fmt.Sprint(v)}
		return nil
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			switch val := item.(type) {
			case string:
				result = append(result, val)
			case int64:
				result = append(result, fmt.Sprint(val))
			case float64:
				result = append(result, fmt.Sprintf("%.0f", val))
			default:
				result = append(result, fmt.Sprintf("%v", val))
			}
		}
		*f = result
		return nil
	default:
		return fmt.Errorf("allow_from: unsupported value %T", data)
	}
}

func splitList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:          DefaultHTTPAddr,
			TokenTTLHours: DefaultTokenTTLHours,
		},
		Store: StoreConfig{
			Path: DefaultStorePath,
		},
		Backend: BackendConfig{
			TimeoutSeconds: DefaultBackendTimeout,
		},
		Routing: RoutingConfig{
			DefaultAgent: DefaultAgent,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Provider holds the live configuration. Readers call Current on every
// operation so that Reload takes effect without restarting connections.
type Provider struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

// NewProvider loads the file at path and returns a provider for it.
func NewProvider(path string) (*Provider, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Provider{path: path, cfg: cfg}, nil
}

// NewStaticProvider wraps an in-memory config. Reload is a no-op.
func NewStaticProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Current returns a snapshot of the live configuration.
func (p *Provider) Current() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Set replaces the live configuration.
func (p *Provider) Set(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

// Reload re-reads the backing file. On failure the previous config stays live.
func (p *Provider) Reload() (Config, error) {
	if p.path == "" {
		return p.Current(), nil
	}
	cfg, err := Load(p.path)
	if err != nil {
		return p.Current(), err
	}
	p.Set(cfg)
	return cfg, nil
}
