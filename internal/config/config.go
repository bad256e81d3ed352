package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/lysine/internal/contingency"
	"github.com/loykin/lysine/internal/logger"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. LYSINE_MAX_AGE.
	EnvPrefix = "LYSINE"

	DefaultMaxAge       = 60 * time.Second
	DefaultPollInterval = 100 * time.Millisecond

	// MaxSeconds is the largest max_age or grace_time a time.Duration holds.
	MaxSeconds = math.MaxInt64 / int64(time.Second)
)

// ErrInvalid marks configuration and usage errors.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved, immutable supervisor configuration.
type Config struct {
	MaxAge       time.Duration
	GraceTime    time.Duration
	PollInterval time.Duration // fixed; never derived from MaxAge
	Source       string        // watched path, or contingency.StdinSource
	Command      []string
	KillTree     bool
	Log          logger.Config
	Metrics      MetricsConfig
	History      HistoryConfig
}

// FileConfig represents the TOML file layout. max_age and grace_time are
// whole seconds, matching the command line.
type FileConfig struct {
	MaxAge       int64         `toml:"max_age" mapstructure:"max_age"`
	GraceTime    int64         `toml:"grace_time" mapstructure:"grace_time"`
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	KillTree     bool          `toml:"kill_tree" mapstructure:"kill_tree"`
	Log          logger.Config `toml:"log" mapstructure:"log"`
	Metrics      MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History      HistoryConfig `toml:"history" mapstructure:"history"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"` // status and /metrics server address
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"` // run event sink, see history/factory
}

// NewViper returns a viper instance with defaults for every key and
// LYSINE_* environment overrides enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("max_age", int64(DefaultMaxAge/time.Second))
	v.SetDefault("grace_time", 0)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("kill_tree", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.dsn", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges the TOML file at path into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// FromViper resolves v and the positional arguments (source followed by the
// command and its arguments) into a validated Config.
func FromViper(v *viper.Viper, args []string) (*Config, error) {
	source, command, err := ParseArgs(args)
	if err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if fc.MaxAge < 0 {
		return nil, fmt.Errorf("%w: max_age must not be negative", ErrInvalid)
	}
	if fc.GraceTime < 0 {
		return nil, fmt.Errorf("%w: grace_time must not be negative", ErrInvalid)
	}
	if fc.MaxAge > MaxSeconds {
		return nil, fmt.Errorf("%w: max_age must not exceed %d seconds", ErrInvalid, MaxSeconds)
	}
	if fc.GraceTime > MaxSeconds {
		return nil, fmt.Errorf("%w: grace_time must not exceed %d seconds", ErrInvalid, MaxSeconds)
	}
	if fc.PollInterval <= 0 {
		return nil, fmt.Errorf("%w: poll_interval must be positive", ErrInvalid)
	}
	if _, err := logger.ParseLevel(fc.Log.Level); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &Config{
		MaxAge:       time.Duration(fc.MaxAge) * time.Second,
		GraceTime:    time.Duration(fc.GraceTime) * time.Second,
		PollInterval: fc.PollInterval,
		Source:       source,
		Command:      command,
		KillTree:     fc.KillTree,
		Log:          fc.Log,
		Metrics:      fc.Metrics,
		History:      fc.History,
	}, nil
}

// ParseArgs splits the positional arguments into the liveness source and the
// command to supervise.
func ParseArgs(args []string) (string, []string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", nil, fmt.Errorf("%w: a file to watch or %q for stdin is required", ErrInvalid, contingency.StdinSource)
	}
	if len(args) < 2 {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalid, contingency.ErrEmptyCommand)
	}
	command := append([]string(nil), args[1:]...)
	return args[0], command, nil
}

// IsStdin reports whether the stdin relay is the liveness source.
func (c *Config) IsStdin() bool { return c.Source == contingency.StdinSource }
