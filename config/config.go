package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/domody/syris/dispatch"
	"github.com/domody/syris/errors"
	"github.com/domody/syris/feed"
	gatewayhttp "github.com/domody/syris/gateway/http"
	"github.com/domody/syris/mirror"
	"github.com/domody/syris/requests"
	"github.com/domody/syris/store"
	"github.com/domody/syris/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SYRIS"

// Log levels and formats accepted by LogConfig.
var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Config is the complete feed client configuration.
type Config struct {
	Transport       transport.Config   `json:"transport" yaml:"transport"`
	Store           store.Config       `json:"store" yaml:"store"`
	Requests        requests.Config    `json:"requests" yaml:"requests"`
	Dispatch        dispatch.Config    `json:"dispatch" yaml:"dispatch"`
	HTTP            gatewayhttp.Config `json:"http" yaml:"http"`
	Mirror          mirror.Config      `json:"mirror" yaml:"mirror"`
	Log             LogConfig          `json:"log" yaml:"log"`
	PreferencesPath string             `json:"preferences_path,omitempty" yaml:"preferences_path,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	fc := feed.DefaultConfig()
	return &Config{
		Transport: fc.Transport,
		Store:     fc.Store,
		Requests:  fc.Requests,
		Dispatch:  fc.Dispatch,
		HTTP:      gatewayhttp.DefaultConfig(),
		Mirror:    mirror.Config{SubjectPrefix: mirror.DefaultSubjectPrefix},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// Feed returns the sections the feed client consumes.
func (c *Config) Feed() feed.Config {
	return feed.Config{
		Transport:       c.Transport,
		Store:           c.Store,
		Requests:        c.Requests,
		Dispatch:        c.Dispatch,
		PreferencesPath: c.PreferencesPath,
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	checks := []struct {
		section string
		fn      func() error
	}{
		{"transport", c.Transport.Validate},
		{"store", c.Store.Validate},
		{"dispatch", c.Dispatch.Validate},
		{"http", c.HTTP.Validate},
		{"mirror", c.Mirror.Validate},
	}
	for _, chk := range checks {
		if err := chk.fn(); err != nil {
			return errors.Wrap(err, "config", "Validate", "check "+chk.section)
		}
	}

	if !oneOf(logLevels, c.Log.Level) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: log level %q", errors.ErrInvalidConfig, c.Log.Level),
			"config", "Validate", "check log")
	}
	if !oneOf(logFormats, c.Log.Format) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: log format %q", errors.ErrInvalidConfig, c.Log.Format),
			"config", "Validate", "check log")
	}
	return nil
}

func oneOf(allowed []string, v string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, v) {
			return true
		}
	}
	return false
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers    []string
	envPrefix string
	getenv    func(string) string
}

// NewLoader creates a loader reading SYRIS_* overrides from the
// environment.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		getenv:    os.Getenv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// Load applies defaults, every layer in order, then environment overrides.
// JSON layers are parsed as YAML, which accepts them and decodes duration
// strings such as "250ms". The result is not validated; callers apply their
// own overrides first and then call Validate.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read "+path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"config", "Load", "parse "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		key   string
		apply func(string)
	}{
		{"WS_URL", func(v string) { cfg.Transport.URL = v }},
		{"AUTH_TOKEN", func(v string) { cfg.Transport.AuthToken = v }},
		{"HTTP_ADDR", func(v string) { cfg.HTTP.Addr = v }},
		{"NATS_URL", func(v string) { cfg.Mirror.NATSURL = v }},
		{"LOG_LEVEL", func(v string) { cfg.Log.Level = strings.ToLower(v) }},
		{"LOG_FORMAT", func(v string) { cfg.Log.Format = strings.ToLower(v) }},
	}
	for _, o := range overrides {
		key := l.envPrefix + "_" + o.key
		val := l.getenv(key)
		if val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"config", "Load", "apply "+key)
		}
		o.apply(val)
	}
	return nil
}

// YAML renders the configuration in the file format Load reads.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "config", "YAML", "marshal")
	}
	return data, nil
}

// SaveToFile writes the configuration as YAML with owner-only permissions.
func (c *Config) SaveToFile(path string) error {
	if err := validateConfigPath(path); err != nil {
		return errors.WrapInvalid(err, "config", "SaveToFile", "check path")
	}
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "SaveToFile", "check size")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "config", "SaveToFile", "write")
	}
	return nil
}
