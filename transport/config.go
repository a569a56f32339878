package transport

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/domody/syris/errors"
	"github.com/domody/syris/pkg/retry"
	"github.com/domody/syris/pkg/tlsutil"
	"github.com/domody/syris/protocol"
)

// Connection defaults.
const (
	DefaultHost             = "localhost"
	DefaultPort             = 42315
	DefaultPath             = "/ws"
	DefaultClientName       = "syris-dashboard"
	DefaultRecentLimit      = 200
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

// Capabilities announced in hello.
var Capabilities = []string{"events", "commands"}

// Config holds the connection settings.
type Config struct {
	// URL overrides Host, Port, Path and Secure when set.
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
	Path   string `json:"path" yaml:"path"`
	Secure bool   `json:"secure" yaml:"secure"`
	// TLS applies to wss targets.
	TLS tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls,omitempty"`

	Client    string `json:"client" yaml:"client"`
	AuthToken string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`

	IncludeRecent bool `json:"include_recent" yaml:"include_recent"`
	RecentLimit   int  `json:"recent_limit" yaml:"recent_limit"`

	Reconnect retry.BackoffConfig `json:"reconnect" yaml:"reconnect"`

	// PingInterval enables keepalive pings while connected; 0 disables.
	PingInterval     time.Duration `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns the settings for a local feed server.
func DefaultConfig() Config {
	return Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		Path:             DefaultPath,
		Client:           DefaultClientName,
		IncludeRecent:    true,
		RecentLimit:      DefaultRecentLimit,
		Reconnect:        retry.DefaultBackoffConfig(),
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.URL == "" {
		if c.Host == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "transport", "Validate", "check host")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: port %d", errors.ErrInvalidConfig, c.Port),
				"transport", "Validate", "check port")
		}
	}
	if c.PingInterval < 0 || c.HandshakeTimeout < 0 || c.WriteTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "transport", "Validate", "check timeouts")
	}
	if c.Reconnect.MaxRetries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "transport", "Validate", "check max_retries")
	}
	if err := c.TLS.Validate(); err != nil {
		return errors.Wrap(err, "transport", "Validate", "check tls")
	}
	return nil
}

// Target resolves the websocket URL to dial.
func (c Config) Target() string {
	if c.URL != "" {
		return c.URL
	}
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	path := c.Path
	if path == "" {
		path = DefaultPath
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
}

// hello builds the first frame sent on every connection.
func (c Config) hello() protocol.Hello {
	return protocol.Hello{
		Protocol:  protocol.ProtocolVersion,
		Client:    c.Client,
		Cap:       append([]string(nil), Capabilities...),
		AuthToken: c.AuthToken,
	}
}

// subscribe builds the frame sent right after hello.
func (c Config) subscribe() protocol.Subscribe {
	return protocol.Subscribe{
		Streams: []protocol.StreamSubscription{{Name: "all"}},
		Filters: protocol.TransportFilters{},
		Options: &protocol.SubscribeOptions{
			IncludeRecent: c.IncludeRecent,
			RecentLimit:   protocol.ClampRecentLimit(c.RecentLimit),
		},
	}
}
