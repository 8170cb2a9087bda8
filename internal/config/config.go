// Package config resolves mcp-device settings from flags, environment variables and an optional
// config file, all funnelled through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	mcp "github.com/MegaGrindStone/go-mcp-device"
)

// Keys of every setting. Flags carry the same names and environment variables are the key
// upper-cased with EnvPrefix, dashes replaced by underscores.
const (
	KeyConfig            = "config"
	KeyPort              = "port"
	KeyBaud              = "baud"
	KeyReadTimeout       = "read-timeout"
	KeyBufferSize        = "buffer-size"
	KeyPollInterval      = "poll-interval"
	KeyInstructions      = "instructions"
	KeyServerName        = "server-name"
	KeyServerVersion     = "server-version"
	KeyResourceScheme    = "resource-scheme"
	KeyUnknownMethod     = "unknown-method"
	KeyParseErrors       = "parse-errors"
	KeyValidateArguments = "validate-arguments"
	KeySimulate          = "simulate"
	KeyCatalog           = "catalog"
	KeyWatchCatalog      = "watch-catalog"
	KeyHTTPListen        = "http-listen"
	KeyLogLevel          = "log-level"
	KeyLogFormat         = "log-format"
)

// EnvPrefix prefixes the environment variable of every key.
const EnvPrefix = "MCP_DEVICE"

// Port values with a special meaning.
const (
	PortAuto  = "auto"
	PortStdio = "stdio"
)

// Defaults.
const (
	DefaultBaud          = 115200
	DefaultReadTimeout   = 50 * time.Millisecond
	DefaultBufferSize    = "4KiB"
	DefaultServerName    = "BBC micro:bit"
	DefaultServerVersion = "1.0.0"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Config is the resolved configuration of mcp-device serve.
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration

	BufferSize     int
	PollInterval   time.Duration
	Instructions   string
	ServerName     string
	ServerVersion  string
	ResourceScheme string

	UnknownMethod     mcp.UnknownMethodPolicy
	ParseErrors       mcp.ParseErrorPolicy
	ValidateArguments bool

	Simulate     bool
	Catalog      string
	WatchCatalog bool
	HTTPListen   string

	LogLevel  string
	LogFormat string
}

// New returns a viper instance with the defaults set and environment lookup enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyPort, PortAuto)
	v.SetDefault(KeyBaud, DefaultBaud)
	v.SetDefault(KeyReadTimeout, DefaultReadTimeout)
	v.SetDefault(KeyBufferSize, DefaultBufferSize)
	v.SetDefault(KeyPollInterval, mcp.DefaultPollInterval)
	v.SetDefault(KeyServerName, DefaultServerName)
	v.SetDefault(KeyServerVersion, DefaultServerVersion)
	v.SetDefault(KeyResourceScheme, mcp.DefaultResourceScheme)
	v.SetDefault(KeyUnknownMethod, "reply")
	v.SetDefault(KeyParseErrors, "drop")
	v.SetDefault(KeySimulate, true)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFormat, DefaultLogFormat)
	return v
}

// ReadFile loads the config file named by the config key, if any. A file that does not exist is
// an error only when explicit is set.
func ReadFile(v *viper.Viper, explicit bool) (string, error) {
	path := strings.TrimSpace(v.GetString(KeyConfig))
	if path == "" {
		return "", nil
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", path, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

// FromViper resolves a Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:              strings.TrimSpace(v.GetString(KeyPort)),
		Baud:              v.GetInt(KeyBaud),
		ReadTimeout:       v.GetDuration(KeyReadTimeout),
		PollInterval:      v.GetDuration(KeyPollInterval),
		Instructions:      v.GetString(KeyInstructions),
		ServerName:        v.GetString(KeyServerName),
		ServerVersion:     v.GetString(KeyServerVersion),
		ResourceScheme:    v.GetString(KeyResourceScheme),
		ValidateArguments: v.GetBool(KeyValidateArguments),
		Simulate:          v.GetBool(KeySimulate),
		Catalog:           v.GetString(KeyCatalog),
		WatchCatalog:      v.GetBool(KeyWatchCatalog),
		HTTPListen:        v.GetString(KeyHTTPListen),
		LogLevel:          v.GetString(KeyLogLevel),
		LogFormat:         v.GetString(KeyLogFormat),
	}

	var errs []error

	size, err := humanize.ParseBytes(v.GetString(KeyBufferSize))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyBufferSize, err))
	}
	cfg.BufferSize = int(size)

	switch policy := strings.ToLower(v.GetString(KeyUnknownMethod)); policy {
	case "reply":
		cfg.UnknownMethod = mcp.ReplyMethodNotFound
	case "ignore":
		cfg.UnknownMethod = mcp.IgnoreUnknownMethod
	default:
		errs = append(errs, fmt.Errorf("%s: unknown policy %q, want reply or ignore", KeyUnknownMethod, policy))
	}

	switch policy := strings.ToLower(v.GetString(KeyParseErrors)); policy {
	case "drop":
		cfg.ParseErrors = mcp.DropParseError
	case "reply":
		cfg.ParseErrors = mcp.ReplyParseError
	default:
		errs = append(errs, fmt.Errorf("%s: unknown policy %q, want reply or drop", KeyParseErrors, policy))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the ranges of the numeric settings and the combinations of the others.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyPort))
	}
	if c.Baud <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyBaud, c.Baud))
	}
	if c.BufferSize < 64 {
		errs = append(errs, fmt.Errorf("%s must be at least 64 B, got %s", KeyBufferSize, humanize.IBytes(uint64(c.BufferSize))))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyPollInterval, c.PollInterval))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %s", KeyReadTimeout, c.ReadTimeout))
	}
	if c.ServerName == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyServerName))
	}
	if c.WatchCatalog && c.Catalog == "" {
		errs = append(errs, fmt.Errorf("%s requires %s", KeyWatchCatalog, KeyCatalog))
	}
	return errors.Join(errs...)
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}
