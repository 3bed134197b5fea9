package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "CHATRELAY"

// Run modes. Development exposes internal error text in HTTP responses.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// ServerConfig holds settings for the relay process.
type ServerConfig struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":3001"`
	Mode            string        `envconfig:"MODE" default:"production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	Database        DatabaseConfig
	JWT             JWTConfig
	Socket          SocketConfig
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Path string `envconfig:"DB_PATH" default:"chatrelay.db"`
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string        `envconfig:"JWT_SECRET" default:"replace-me"`
	Issuer     string        `envconfig:"JWT_ISSUER" default:"chatrelay"`
	Expiration time.Duration `envconfig:"JWT_EXPIRATION" default:"24h"`
}

// SocketConfig tunes the WebSocket transport.
type SocketConfig struct {
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173"`
	RequireToken    bool          `envconfig:"REQUIRE_TOKEN" default:"false"`
	MaxMessageBytes int64         `envconfig:"MAX_MESSAGE_BYTES" default:"65536"`
	SendBuffer      int           `envconfig:"SEND_BUFFER" default:"256"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"60s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

// Development reports whether internal error details may be exposed.
func (c ServerConfig) Development() bool {
	return c.Mode == ModeDevelopment
}

// LoadServerConfig builds the server configuration from an optional .env file
// and CHATRELAY_* environment variables.
func LoadServerConfig() (ServerConfig, error) {
	_ = godotenv.Load()

	var cfg ServerConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("load config: %w", err)
	}
	return sanitize(cfg)
}

func sanitize(cfg ServerConfig) (ServerConfig, error) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch cfg.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return ServerConfig{}, fmt.Errorf("unsupported mode %q", cfg.Mode)
	}

	origins := cfg.Socket.AllowedOrigins[:0]
	for _, origin := range cfg.Socket.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.Socket.AllowedOrigins = origins

	if cfg.Socket.MaxMessageBytes <= 0 {
		cfg.Socket.MaxMessageBytes = 64 << 10
	}
	if cfg.Socket.SendBuffer <= 0 {
		cfg.Socket.SendBuffer = 256
	}
	if cfg.Socket.ReadTimeout <= 0 {
		cfg.Socket.ReadTimeout = 60 * time.Second
	}
	if cfg.Socket.WriteTimeout <= 0 {
		cfg.Socket.WriteTimeout = 10 * time.Second
	}
	if cfg.JWT.Expiration <= 0 {
		cfg.JWT.Expiration = 24 * time.Hour
	}
	return cfg, nil
}
