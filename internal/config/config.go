package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/samber/lo"

	dbconfig "pairchat/pkg/database"
)

const (
	// ConfigFileVar names the JSON file that overrides the environment.
	ConfigFileVar = "PAIRCHAT_CONFIG_FILE"
	// EnvFileVar names the .env file loaded before the environment is read.
	EnvFileVar = "ENV_FILE"
)

type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	CORS      *CORSConfig      `json:"cors"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	Log       *LogConfig       `json:"log"`
}

type DatabaseConfig struct {
	Path            string        `json:"path"`
	Timeout         time.Duration `json:"timeout"`
	MaxConnections  int           `json:"max_connections"`
	WriteRetryDelay time.Duration `json:"write_retry_delay"`
}

type HTTPConfig struct {
	Port            int           `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

type AuthConfig struct {
	Secret   string        `json:"-"`
	TokenTTL time.Duration `json:"token_ttl"`
}

type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

type RateLimitConfig struct {
	Messages int           `json:"messages"`
	Window   time.Duration `json:"window"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:            "./data/pairchat.db",
			Timeout:         5 * time.Second,
			MaxConnections:  10,
			WriteRetryDelay: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:            5000,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{
			TokenTTL: time.Hour,
		},
		CORS: &CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		RateLimit: &RateLimitConfig{
			Messages: 100,
			Window:   time.Minute,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Auth == nil ||
		c.CORS == nil || c.RateLimit == nil || c.Log == nil {
		return errors.New("every configuration section is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}
	if c.Database.WriteRetryDelay < 0 {
		return errors.New("database write retry delay cannot be negative")
	}

	// Port 0 binds an ephemeral port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}

	if c.Auth.Secret == "" {
		return errors.New("auth secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("token TTL must be positive")
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		return errors.New("at least one CORS origin is required")
	}

	if c.RateLimit.Messages <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit messages and window must be positive")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if !lo.Contains([]string{"text", "json"}, strings.ToLower(c.Log.Format)) {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Address is the listen address of the HTTP server.
func (c *Config) Address() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// StoreConfig converts the database section for the store.
func (c *Config) StoreConfig() *dbconfig.Config {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = c.Database.Path
	cfg.BusyTimeout = c.Database.Timeout
	cfg.MaxConnections = c.Database.MaxConnections
	cfg.WriteRetryDelay = c.Database.WriteRetryDelay
	return cfg
}

// CORSOptions returns the cross-origin policy for the HTTP API.
func (c *Config) CORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: c.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		// a wildcard origin cannot be combined with credentials
		AllowCredentials: !lo.Contains(c.CORS.AllowedOrigins, "*"),
	}
}

// envOverrides lists every environment variable the service reads. Unset
// variables leave the current value alone.
type envOverrides struct {
	DatabasePath            *string        `env:"PAIRCHAT_DATABASE_PATH"`
	DatabaseTimeout         *time.Duration `env:"PAIRCHAT_DATABASE_TIMEOUT"`
	DatabaseMaxConnections  *int           `env:"PAIRCHAT_DATABASE_MAX_CONNECTIONS"`
	DatabaseWriteRetryDelay *time.Duration `env:"PAIRCHAT_DATABASE_WRITE_RETRY_DELAY"`

	HTTPPort            *int           `env:"PAIRCHAT_HTTP_PORT"`
	LegacyPort          *int           `env:"PORT"`
	HTTPHost            *string        `env:"PAIRCHAT_HTTP_HOST"`
	HTTPReadTimeout     *time.Duration `env:"PAIRCHAT_HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout    *time.Duration `env:"PAIRCHAT_HTTP_WRITE_TIMEOUT"`
	HTTPShutdownTimeout *time.Duration `env:"PAIRCHAT_HTTP_SHUTDOWN_TIMEOUT"`

	WebSocketPingInterval *time.Duration `env:"PAIRCHAT_WEBSOCKET_PING_INTERVAL"`
	WebSocketReadTimeout  *time.Duration `env:"PAIRCHAT_WEBSOCKET_READ_TIMEOUT"`
	WebSocketWriteTimeout *time.Duration `env:"PAIRCHAT_WEBSOCKET_WRITE_TIMEOUT"`
	WebSocketBufferSize   *int           `env:"PAIRCHAT_WEBSOCKET_BUFFER_SIZE"`

	AuthSecret   *string        `env:"PAIRCHAT_AUTH_SECRET"`
	LegacySecret *string        `env:"ACCESS_TOKEN"`
	TokenTTL     *time.Duration `env:"PAIRCHAT_AUTH_TOKEN_TTL"`

	CORSAllowedOrigins *string `env:"PAIRCHAT_CORS_ALLOWED_ORIGINS"`

	RateLimitMessages *int           `env:"PAIRCHAT_RATE_LIMIT_MESSAGES"`
	RateLimitWindow   *time.Duration `env:"PAIRCHAT_RATE_LIMIT_WINDOW"`

	LogLevel  *string `env:"LOG_LEVEL"`
	LogFormat *string `env:"LOG_FORMAT"`
}

// LoadFromEnv overlays environment variables on the defaults.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	set(&c.Database.Path, o.DatabasePath)
	set(&c.Database.Timeout, o.DatabaseTimeout)
	set(&c.Database.MaxConnections, o.DatabaseMaxConnections)
	set(&c.Database.WriteRetryDelay, o.DatabaseWriteRetryDelay)

	set(&c.HTTP.Port, o.LegacyPort)
	set(&c.HTTP.Port, o.HTTPPort)
	set(&c.HTTP.Host, o.HTTPHost)
	set(&c.HTTP.ReadTimeout, o.HTTPReadTimeout)
	set(&c.HTTP.WriteTimeout, o.HTTPWriteTimeout)
	set(&c.HTTP.ShutdownTimeout, o.HTTPShutdownTimeout)

	set(&c.WebSocket.PingInterval, o.WebSocketPingInterval)
	set(&c.WebSocket.ReadTimeout, o.WebSocketReadTimeout)
	set(&c.WebSocket.WriteTimeout, o.WebSocketWriteTimeout)
	set(&c.WebSocket.BufferSize, o.WebSocketBufferSize)

	set(&c.Auth.Secret, o.LegacySecret)
	set(&c.Auth.Secret, o.AuthSecret)
	set(&c.Auth.TokenTTL, o.TokenTTL)

	if o.CORSAllowedOrigins != nil {
		c.CORS.AllowedOrigins = splitList(*o.CORSAllowedOrigins)
	}

	set(&c.RateLimit.Messages, o.RateLimitMessages)
	set(&c.RateLimit.Window, o.RateLimitWindow)

	set(&c.Log.Level, o.LogLevel)
	set(&c.Log.Format, o.LogFormat)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func splitList(raw string) []string {
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
}

// ConfigFile is the JSON layout of the config file. Durations are strings
// such as "30s".
type ConfigFile struct {
	Database *struct {
		Path            string `json:"path"`
		Timeout         string `json:"timeout"`
		MaxConnections  int    `json:"max_connections"`
		WriteRetryDelay string `json:"write_retry_delay"`
	} `json:"database"`
	HTTP *struct {
		Port            int    `json:"port"`
		Host            string `json:"host"`
		ReadTimeout     string `json:"read_timeout"`
		WriteTimeout    string `json:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Auth *struct {
		TokenTTL string `json:"token_ttl"`
	} `json:"auth"`
	CORS *struct {
		AllowedOrigins []string `json:"allowed_origins"`
	} `json:"cors"`
	RateLimit *struct {
		Messages int    `json:"messages"`
		Window   string `json:"window"`
	} `json:"rate_limit"`
	Log *struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// LoadFromFile overlays the JSON file on the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var f ConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	p := durationParser{file: path}
	if d := f.Database; d != nil {
		setString(&c.Database.Path, d.Path)
		setInt(&c.Database.MaxConnections, d.MaxConnections)
		p.parse(&c.Database.Timeout, "database.timeout", d.Timeout)
		p.parse(&c.Database.WriteRetryDelay, "database.write_retry_delay", d.WriteRetryDelay)
	}
	if h := f.HTTP; h != nil {
		setInt(&c.HTTP.Port, h.Port)
		setString(&c.HTTP.Host, h.Host)
		p.parse(&c.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout)
		p.parse(&c.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout)
		p.parse(&c.HTTP.ShutdownTimeout, "http.shutdown_timeout", h.ShutdownTimeout)
	}
	if ws := f.WebSocket; ws != nil {
		setInt(&c.WebSocket.BufferSize, ws.BufferSize)
		p.parse(&c.WebSocket.PingInterval, "websocket.ping_interval", ws.PingInterval)
		p.parse(&c.WebSocket.ReadTimeout, "websocket.read_timeout", ws.ReadTimeout)
		p.parse(&c.WebSocket.WriteTimeout, "websocket.write_timeout", ws.WriteTimeout)
	}
	if a := f.Auth; a != nil {
		p.parse(&c.Auth.TokenTTL, "auth.token_ttl", a.TokenTTL)
	}
	if cors := f.CORS; cors != nil && len(cors.AllowedOrigins) > 0 {
		c.CORS.AllowedOrigins = cors.AllowedOrigins
	}
	if rl := f.RateLimit; rl != nil {
		setInt(&c.RateLimit.Messages, rl.Messages)
		p.parse(&c.RateLimit.Window, "rate_limit.window", rl.Window)
	}
	if l := f.Log; l != nil {
		setString(&c.Log.Level, l.Level)
		setString(&c.Log.Format, l.Format)
	}
	return p.err
}

type durationParser struct {
	file string
	err  error
}

func (p *durationParser) parse(dst *time.Duration, field, raw string) {
	if raw == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("%s: invalid %s %q: %w", p.file, field, raw, err)
		return
	}
	*dst = d
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// LoadConfigWithPrecedence builds the configuration from defaults, then the
// environment, then the file at path when path is not empty, and validates
// the result.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads the .env file named by ENV_FILE (default ".env") when it
// exists, then applies LoadConfigWithPrecedence with PAIRCHAT_CONFIG_FILE.
// Variables already set in the process environment win over the .env file.
func Load() (*Config, error) {
	envFile := os.Getenv(EnvFileVar)
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return LoadConfigWithPrecedence(os.Getenv(ConfigFileVar))
}
