package hotpatch

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config configures an Engine from a file.
type Config struct {
	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is json or console.
	LogFormat string `yaml:"log_format"`
	// ArenaSize is the initial size in bytes of the arena holding the copied
	// prologues of hooked functions.
	ArenaSize int `yaml:"arena_size"`
}

// DefaultConfig returns the configuration NewEngine uses when given no
// options, apart from logging, which it enables at warn level.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "warn",
		LogFormat: "json",
		ArenaSize: defaultArenaSize,
	}
}

// LoadConfig reads a YAML config file. Missing keys keep their defaults and
// environment variables override the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides replaces values that are set in the environment.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HOTPATCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) Validate() error {
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log_format: must be json or console, got %q", c.LogFormat)
	}
	if c.ArenaSize <= 0 {
		return fmt.Errorf("arena_size: must be positive, got %d", c.ArenaSize)
	}
	return nil
}

// Logger builds the logger described by the config.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.Encoding = c.LogFormat
	if c.LogFormat == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zc.Build()
}

// NewEngineFromConfig returns an engine set up according to cfg. More
// options can be passed to override it.
func NewEngineFromConfig(cfg *Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}

	all := append([]Option{WithLogger(logger), WithArenaSize(cfg.ArenaSize)}, opts...)
	return NewEngine(all...), nil
}
