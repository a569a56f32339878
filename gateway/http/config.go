package http

import (
	"time"

	"github.com/domody/syris/errors"
)

// Defaults for Config.
const (
	DefaultAddr            = "127.0.0.1:8090"
	DefaultMaxRequestSize  = 64 * 1024
	DefaultMessagesLimit   = 200
	DefaultShutdownTimeout = 5 * time.Second
	DefaultCommandRate     = 5
	DefaultCommandBurst    = 10
)

// Config holds the HTTP API settings.
type Config struct {
	// Addr is the listen address. Empty disables the API.
	Addr string `json:"addr" yaml:"addr"`

	// EnableCORS enables CORS headers (requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors" yaml:"enable_cors"`

	// CORSOrigins lists allowed CORS origins. Use ["*"] for development only.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes
	MaxRequestSize int64 `json:"max_request_size,omitempty" yaml:"max_request_size,omitempty"`

	// CommandRate limits POST /api/commands per second; 0 disables the limit.
	CommandRate  float64 `json:"command_rate" yaml:"command_rate"`
	CommandBurst int     `json:"command_burst" yaml:"command_burst"`
}

// DefaultConfig returns a loopback-only API.
func DefaultConfig() Config {
	return Config{
		Addr:           DefaultAddr,
		MaxRequestSize: DefaultMaxRequestSize,
		CommandRate:    DefaultCommandRate,
		CommandBurst:   DefaultCommandBurst,
	}
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"cors_origins required when enable_cors is true")
	}
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	return nil
}
