// Package config resolves daemon configuration from defaults, an optional
// YAML config file, TRL_* environment variables and command-line flags, in
// ascending precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/termlayer/trl/pkg/protocol"
)

// Option keys. Each maps to the environment variable TRL_<KEY uppercased>.
const (
	KeySocketPath         = "socket_path"
	KeyMaxSessions        = "max_sessions"
	KeyDefaultTimeoutS    = "default_timeout_s"
	KeyMaxOutputBytes     = "max_output_bytes"
	KeyMaxIdleSec         = "max_idle_sec"
	KeySessionTTLSec      = "session_ttl_sec"
	KeySessionMaxCommands = "session_max_commands"
	KeyFDWarningThreshold = "fd_warning_threshold"
	KeyMemoryPressureMB   = "memory_pressure_mb"
	KeyChildCPUSec        = "child_cpu_sec"
	KeyChildMemoryBytes   = "child_memory_bytes"
	KeyChildNproc         = "child_nproc"
	KeyAllowRoot          = "allow_root"
	KeyEnvFile            = "env_file"
	KeyLogLevel           = "log_level"
	KeyLogFormat          = "log_format"
)

// Option describes one configurable value.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// Options drives default registration, flag creation and viper binding.
var Options = []Option{
	{Key: KeySocketPath, Flag: flag(KeySocketPath), Default: protocol.DefaultSocketPath, Description: "Listening socket path"},
	{Key: KeyMaxSessions, Flag: flag(KeyMaxSessions), Default: 64, Description: "Session pool capacity ceiling"},
	{Key: KeyDefaultTimeoutS, Flag: flag(KeyDefaultTimeoutS), Default: 60, Description: "Default per-command timeout in seconds"},
	{Key: KeyMaxOutputBytes, Flag: flag(KeyMaxOutputBytes), Default: 4 * 1024 * 1024, Description: "Output cap per stream per command"},
	{Key: KeyMaxIdleSec, Flag: flag(KeyMaxIdleSec), Default: 3600, Description: "Idle seconds before a session is collected"},
	{Key: KeySessionTTLSec, Flag: flag(KeySessionTTLSec), Default: 86400, Description: "Hard session lifetime in seconds"},
	{Key: KeySessionMaxCommands, Flag: flag(KeySessionMaxCommands), Default: 1000, Description: "Per-session command ceiling"},
	{Key: KeyFDWarningThreshold, Flag: flag(KeyFDWarningThreshold), Default: 5000, Description: "Open file descriptor pressure trigger"},
	{Key: KeyMemoryPressureMB, Flag: flag(KeyMemoryPressureMB), Default: 500, Description: "Resident memory pressure trigger in MiB"},
	{Key: KeyChildCPUSec, Flag: flag(KeyChildCPUSec), Default: 300, Description: "Per-child CPU limit in seconds"},
	{Key: KeyChildMemoryBytes, Flag: flag(KeyChildMemoryBytes), Default: 512 * 1024 * 1024, Description: "Per-child address space limit in bytes"},
	{Key: KeyChildNproc, Flag: flag(KeyChildNproc), Default: 64, Description: "Per-child process count limit"},
	{Key: KeyAllowRoot, Flag: flag(KeyAllowRoot), Default: false, Description: "Permit running with effective UID 0"},
	{Key: KeyEnvFile, Flag: flag(KeyEnvFile), Default: "", Description: "Dotenv file sourced into the daemon environment"},
	{Key: KeyLogLevel, Flag: flag(KeyLogLevel), Default: "info", Description: "Log level (debug, info, warn, error)"},
	{Key: KeyLogFormat, Flag: flag(KeyLogFormat), Default: "text", Description: "Log format (json, text)"},
}

// Config resolves option values at read time, so flags parsed after New are
// still honoured.
type Config struct {
	v          *viper.Viper
	runtimeEnv map[string]string
}

// New builds a Config with defaults and TRL_* environment wiring in place.
// An optional YAML config file is read when configFile is non-empty.
func New(configFile string) (*Config, error) {
	v := viper.New()

	for _, o := range Options {
		v.SetDefault(o.Key, o.Default)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("TRL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// ReadFile merges a YAML config file into the resolution chain. Flags and
// TRL_* environment variables still take precedence over file values.
func (c *Config) ReadFile(path string) error {
	c.v.SetConfigFile(path)
	c.v.SetConfigType("yaml")
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// BindFlags registers one flag per option on fs and binds it into the
// resolution chain.
func (c *Config) BindFlags(fs *pflag.FlagSet) error {
	for _, o := range Options {
		switch d := o.Default.(type) {
		case string:
			fs.String(o.Flag, d, o.Description)
		case int:
			fs.Int(o.Flag, d, o.Description)
		case bool:
			fs.Bool(o.Flag, d, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}
		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", o.Flag, err)
		}
	}
	return nil
}

// CaptureEnv sources the configured env_file into the process environment
// and snapshots the full environment for later command execution. Call it
// after flags are parsed; a missing env file is not an error.
func (c *Config) CaptureEnv() {
	if path := c.EnvFile(); path != "" {
		_ = gotenv.Load(path)
	} else {
		_ = gotenv.Load()
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	c.runtimeEnv = env
}

// Validate rejects option values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.SocketPath() == "" {
		return errors.New("socket_path must not be empty")
	}
	if c.MaxSessions() <= 0 {
		return errors.New("max_sessions must be positive")
	}
	if c.MaxOutputBytes() <= 0 {
		return errors.New("max_output_bytes must be positive")
	}
	if c.ChildCPUSec() <= 0 || c.ChildMemoryBytes() <= 0 || c.ChildNproc() <= 0 {
		return errors.New("child limits must be positive")
	}
	return nil
}

// Set overrides a single option at the highest precedence. Used by tests and
// by wiring code that must pin a value.
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

func (c *Config) SocketPath() string {
	return c.v.GetString(KeySocketPath) // TRL_SOCKET_PATH
}

func (c *Config) MaxSessions() int {
	return c.v.GetInt(KeyMaxSessions) // TRL_MAX_SESSIONS
}

func (c *Config) DefaultTimeoutS() int64 {
	return c.v.GetInt64(KeyDefaultTimeoutS) // TRL_DEFAULT_TIMEOUT_S
}

func (c *Config) MaxOutputBytes() int {
	return c.v.GetInt(KeyMaxOutputBytes) // TRL_MAX_OUTPUT_BYTES
}

func (c *Config) MaxIdleSec() int64 {
	return c.v.GetInt64(KeyMaxIdleSec) // TRL_MAX_IDLE_SEC
}

func (c *Config) SessionTTLSec() int64 {
	return c.v.GetInt64(KeySessionTTLSec) // TRL_SESSION_TTL_SEC
}

func (c *Config) SessionMaxCommands() int64 {
	return c.v.GetInt64(KeySessionMaxCommands) // TRL_SESSION_MAX_COMMANDS
}

func (c *Config) FDWarningThreshold() int {
	return c.v.GetInt(KeyFDWarningThreshold) // TRL_FD_WARNING_THRESHOLD
}

func (c *Config) MemoryPressureMB() int64 {
	return c.v.GetInt64(KeyMemoryPressureMB) // TRL_MEMORY_PRESSURE_MB
}

func (c *Config) ChildCPUSec() int64 {
	return c.v.GetInt64(KeyChildCPUSec) // TRL_CHILD_CPU_SEC
}

func (c *Config) ChildMemoryBytes() int64 {
	return c.v.GetInt64(KeyChildMemoryBytes) // TRL_CHILD_MEMORY_BYTES
}

func (c *Config) ChildNproc() int64 {
	return c.v.GetInt64(KeyChildNproc) // TRL_CHILD_NPROC
}

func (c *Config) AllowRoot() bool {
	return c.v.GetBool(KeyAllowRoot) // TRL_ALLOW_ROOT
}

func (c *Config) EnvFile() string {
	return c.v.GetString(KeyEnvFile) // TRL_ENV_FILE
}

func (c *Config) LogLevel() string {
	return c.v.GetString(KeyLogLevel) // TRL_LOG_LEVEL
}

func (c *Config) LogFormat() string {
	return c.v.GetString(KeyLogFormat) // TRL_LOG_FORMAT
}

// RuntimeEnv returns the daemon process environment snapshot taken by
// CaptureEnv. It is the base layer of the per-command environment merge.
func (c *Config) RuntimeEnv() map[string]string {
	return c.runtimeEnv
}

// flag converts an option key to its command-line flag name.
func flag(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "-")
}
