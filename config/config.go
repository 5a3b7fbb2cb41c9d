// Package config loads the plugin host configuration.
//
// Configuration comes from a single YAML file named by the --config flag
// or the PLUGHOST_CONFIG environment variable. Without a file the defaults
// apply. Values of plugins_dir may reference environment variables as
// ${VAR} or ${VAR:-default}.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/machinefabric/plughost-go/ipc"
	"github.com/machinefabric/plughost-go/plugin"
)

// EnvConfig names the environment variable holding the config file path
const EnvConfig = "PLUGHOST_CONFIG"

// Stderr handling for plugin processes
const (
	StderrInherit = "inherit"
	StderrDiscard = "discard"
	StderrLog     = "log"
)

// Config is the plugin host configuration.
type Config struct {
	// PluginsDir holds one subdirectory per plugin.
	PluginsDir string `yaml:"plugins_dir"`

	// Codec is the wire codec spoken with every plugin: json or cbor.
	Codec string `yaml:"codec"`

	// RequestTimeout bounds every service call between host and plugins.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	ReadBufferSize int `yaml:"read_buffer_size"`
	MaxMessageSize int `yaml:"max_message_size"`

	Launcher LauncherConfig `yaml:"launcher"`
	Log      LogConfig      `yaml:"log"`
}

// LauncherConfig controls how plugin processes are started.
type LauncherConfig struct {
	// Command is prepended to every plugin entry path, e.g. [deno, run].
	// Empty executes the entry directly.
	Command []string `yaml:"command"`

	// Stderr is inherit, discard or log.
	Stderr string `yaml:"stderr"`

	// ShutdownGrace is how long a plugin may take to exit after its stdin
	// is closed.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// PermissionFlags overrides the launch flag of individual permissions.
	PermissionFlags map[string]string `yaml:"permission_flags"`
}

// LogConfig configures the host logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		PluginsDir:     "plugins",
		Codec:          ipc.CodecNameJSON,
		RequestTimeout: 2 * time.Second,
		ReadBufferSize: ipc.DefaultReadBufferSize,
		MaxMessageSize: ipc.DefaultMaxMessageSize,
		Launcher: LauncherConfig{
			Stderr:        StderrInherit,
			ShutdownGrace: plugin.DefaultShutdownGrace,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file named by PLUGHOST_CONFIG, or returns the defaults
// when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults and validates the result
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.PluginsDir = expandVars(cfg.PluginsDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field
func (c *Config) Validate() error {
	var errs []error
	if c.PluginsDir == "" {
		errs = append(errs, errors.New("plugins_dir must be set"))
	}
	if _, err := ipc.CodecByName(c.Codec); err != nil {
		errs = append(errs, fmt.Errorf("codec: %w", err))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize))
	}
	if c.MaxMessageSize < c.ReadBufferSize {
		errs = append(errs, fmt.Errorf("max_message_size %d is smaller than read_buffer_size %d", c.MaxMessageSize, c.ReadBufferSize))
	}
	switch c.Launcher.Stderr {
	case StderrInherit, StderrDiscard, StderrLog:
	default:
		errs = append(errs, fmt.Errorf("launcher.stderr must be inherit, discard or log, got %q", c.Launcher.Stderr))
	}
	for name := range c.Launcher.PermissionFlags {
		if !slices.Contains(plugin.AllPermissions, plugin.Permission(name)) {
			errs = append(errs, fmt.Errorf("launcher.permission_flags: unknown permission %q", name))
		}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Limits returns the channel limits
func (c *Config) Limits() ipc.Limits {
	return ipc.Limits{ReadBufferSize: c.ReadBufferSize, MaxMessageSize: c.MaxMessageSize}
}

// WireCodec resolves the configured codec
func (c *Config) WireCodec() (ipc.Codec, error) {
	return ipc.CodecByName(c.Codec)
}

// Permissions converts the flag overrides to plugin permissions
func (l LauncherConfig) Permissions() map[plugin.Permission]string {
	if len(l.PermissionFlags) == 0 {
		return nil
	}
	out := make(map[plugin.Permission]string, len(l.PermissionFlags))
	for name, flag := range l.PermissionFlags {
		out[plugin.Permission(name)] = flag
	}
	return out
}

// SlogLevel parses Level
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} from the environment
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(parts[1]); ok && value != "" {
			return value
		}
		return parts[2]
	})
}
