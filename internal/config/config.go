package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file.
const (
	EnvWSURL    = "QUANTA_WS_URL"
	EnvAPIURL   = "QUANTA_API_URL"
	EnvClientID = "QUANTA_CLIENT_ID"
)

var ErrMissingClientID = errors.New("client id is required")

type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

type ClientConfig struct {
	// URL is the socket base; the endpoint is {url}/ws/{client_id}. Empty
	// derives it from APIURL.
	URL                  string        `yaml:"url"`
	APIURL               string        `yaml:"api_url"`
	ClientID             string        `yaml:"client_id"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	PingInterval         time.Duration `yaml:"ping_interval"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			APIURL:               "http://localhost:8000",
			ReconnectInterval:    3 * time.Second,
			MaxReconnectAttempts: 5,
			PingInterval:         30 * time.Second,
		},
		Server: ServerConfig{
			Port:           8000,
			Host:           "0.0.0.0",
			UpdateInterval: time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyEnv()
	return cfg
}

// Load reads path over the defaults, then applies environment overrides. An
// empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.Client.APIURL = v
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		c.Client.URL = v
	}
	if v := os.Getenv(EnvClientID); v != "" {
		c.Client.ClientID = v
	}
}

// Validate rejects settings the session manager cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Client.ClientID) == "" {
		errs = append(errs, ErrMissingClientID)
	}
	if c.Client.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("reconnect_interval must be positive, got %s", c.Client.ReconnectInterval))
	}
	if c.Client.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("ping_interval must be positive, got %s", c.Client.PingInterval))
	}
	if c.Client.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("max_reconnect_attempts must not be negative, got %d", c.Client.MaxReconnectAttempts))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// EnsureClientID fills in a random client id when none is configured and
// returns the id in use.
func (c *Config) EnsureClientID() string {
	if c.Client.ClientID == "" {
		c.Client.ClientID = NewClientID()
	}
	return c.Client.ClientID
}

// NewClientID returns a fresh client id.
func NewClientID() string {
	return "client_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SocketBase returns the socket base URL, derived from the API URL when not
// set explicitly.
func (c *Config) SocketBase() string {
	if c.Client.URL != "" {
		return strings.TrimRight(c.Client.URL, "/")
	}
	return DeriveSocketBase(c.Client.APIURL)
}

// DeriveSocketBase maps http to ws and https to wss. Other inputs are
// returned unchanged.
func DeriveSocketBase(apiURL string) string {
	u, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return apiURL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}

// Addr returns the server listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
