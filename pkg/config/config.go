package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultConfigFileName = "ctobridge.toml"

// ModelMapping binds a public OpenAI-style model name to the upstream
// adapter identifier the engine service expects.
type ModelMapping struct {
	Name    string `toml:"name" json:"name"`
	Adapter string `toml:"adapter" json:"adapter"`
}

type UpstreamConfig struct {
	ClerkBaseURL   string `toml:"clerk_base_url"`
	APIBaseURL     string `toml:"api_base_url"`
	WSBaseURL      string `toml:"ws_base_url"`
	Origin         string `toml:"origin"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
}

type StreamConfig struct {
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds,omitempty"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Domain   string `toml:"domain"`
	Email    string `toml:"email"`
	CacheDir string `toml:"cache_dir"`
}

type ServerConfig struct {
	ListenAddr     string         `toml:"listen_addr"`
	LogLevel       string         `toml:"log_level,omitempty"`
	CookiesFile    string         `toml:"cookies_file"`
	DefaultAdapter string         `toml:"default_adapter"`
	Models         []ModelMapping `toml:"models"`
	Upstream       UpstreamConfig `toml:"upstream"`
	Stream         StreamConfig   `toml:"stream"`
	TLS            TLSConfig      `toml:"tls"`
}

func DefaultServerConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "ctobridge", defaultConfigFileName)
}

func DefaultCookiesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cookies.txt"
	}
	return filepath.Join(home, ".config", "ctobridge", "cookies.txt")
}

func DefaultChatCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.json"
	}
	return filepath.Join(home, ".cache", "ctobridge", "chat.json")
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", "ctobridge", "tls-autocert")
}

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:     "127.0.0.1:8000",
		LogLevel:       "info",
		CookiesFile:    DefaultCookiesPath(),
		DefaultAdapter: "ClaudeSonnet4_5",
		Models: []ModelMapping{
			{Name: "gpt-5", Adapter: "GPT5"},
			{Name: "claude-sonnet-4-5", Adapter: "ClaudeSonnet4_5"},
		},
		Upstream: UpstreamConfig{
			ClerkBaseURL:   "https://clerk.cto.new",
			APIBaseURL:     "https://api.enginelabs.ai",
			WSBaseURL:      "wss://api.enginelabs.ai",
			Origin:         "https://cto.new",
			TimeoutSeconds: 60,
		},
		Stream: StreamConfig{
			IdleTimeoutSeconds: 120,
		},
		TLS: TLSConfig{
			Enabled:  false,
			CacheDir: DefaultTLSCacheDir(),
		},
	}
}

func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadOrCreateServerConfig(path string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse toml: %w", err)
	}
	return nil
}

func loadOrCreate(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeAtomic(path, v); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	return load(path, v)
}

func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return writeAtomic(path, v)
}

func writeAtomic(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ApplyEnvOverrides lets operational knobs be set without editing the file.
// A .env in the working directory is honored when present (loaded by the
// command entry points before this is called).
func (c *ServerConfig) ApplyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("CTOBRIDGE_LISTEN_ADDR")); v != "" {
		c.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CTOBRIDGE_COOKIES_FILE")); v != "" {
		c.CookiesFile = v
	}
	if v := strings.TrimSpace(os.Getenv("CTOBRIDGE_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}

func (c *ServerConfig) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8000"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.CookiesFile = strings.TrimSpace(c.CookiesFile)
	if c.CookiesFile == "" {
		c.CookiesFile = DefaultCookiesPath()
	}
	c.DefaultAdapter = strings.TrimSpace(c.DefaultAdapter)
	if c.DefaultAdapter == "" {
		c.DefaultAdapter = "ClaudeSonnet4_5"
	}

	models := make([]ModelMapping, 0, len(c.Models))
	seen := map[string]struct{}{}
	for _, m := range c.Models {
		m.Name = strings.TrimSpace(m.Name)
		m.Adapter = strings.TrimSpace(m.Adapter)
		if m.Name == "" || m.Adapter == "" {
			continue
		}
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		models = append(models, m)
	}
	c.Models = models

	c.Upstream.ClerkBaseURL = trimBaseURL(c.Upstream.ClerkBaseURL, "https://clerk.cto.new")
	c.Upstream.APIBaseURL = trimBaseURL(c.Upstream.APIBaseURL, "https://api.enginelabs.ai")
	c.Upstream.WSBaseURL = trimBaseURL(c.Upstream.WSBaseURL, "wss://api.enginelabs.ai")
	c.Upstream.Origin = trimBaseURL(c.Upstream.Origin, "https://cto.new")
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Stream.IdleTimeoutSeconds <= 0 {
		c.Stream.IdleTimeoutSeconds = 120
	}

	c.TLS.Domain = strings.TrimSpace(c.TLS.Domain)
	c.TLS.Email = strings.TrimSpace(c.TLS.Email)
	c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir)
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = DefaultTLSCacheDir()
	}
}

func (c *ServerConfig) Validate() error {
	if len(c.Models) == 0 {
		return errors.New("at least one model mapping is required")
	}
	if c.TLS.Enabled && c.TLS.Domain == "" {
		return errors.New("tls.domain is required when tls is enabled")
	}
	return nil
}

// AdapterFor resolves a public model name to its upstream adapter. Unknown
// names fall back to the default adapter instead of being rejected.
func (c *ServerConfig) AdapterFor(model string) string {
	model = strings.TrimSpace(model)
	for _, m := range c.Models {
		if m.Name == model {
			return m.Adapter
		}
	}
	return c.DefaultAdapter
}

func trimBaseURL(raw, fallback string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return fallback
	}
	return raw
}
