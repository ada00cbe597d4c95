/*
 * Package config resolves the monitor's runtime configuration.
 *
 * Values are taken, in order of precedence, from command-line flags, the
 * process environment, a .env file and built-in defaults. The .env file
 * never overrides a variable that is already set in the environment.
 */
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ZerkerEOD/gpuguard/internal/settings"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
	"github.com/ZerkerEOD/gpuguard/pkg/env"
)

const (
	// DefaultDataDir holds lifetime stats and settings, relative to the
	// working directory.
	DefaultDataDir = "data"
	// DefaultListen is the HTTP/WebSocket control surface address.
	DefaultListen = "127.0.0.1:8787"
	// DefaultFlushDebounce delays persistence after a change.
	DefaultFlushDebounce = 2 * time.Second
	// DefaultMaxParallel bounds concurrent device sampling.
	DefaultMaxParallel = 4
	// MaxParallelLimit is the largest supported device fan-out.
	MaxParallelLimit = 16
)

// Config holds the monitor's runtime configuration
type Config struct {
	DataDir       string        // Directory for lifetime stats and settings.yaml
	Listen        string        // HTTP listen address, empty disables the server
	Threshold     float64       // Initial temperature threshold in °C
	Floor         int           // Minimum throttle intensity
	MaxParallel   int           // Concurrent device samples per tick
	FlushDebounce time.Duration // Delay between a change and its persistence
	NoAuth        bool          // Serve mutating endpoints without an API key
	Debug         bool          // Enable debug logging
	LogLevel      string        // DEBUG, INFO, WARNING or ERROR
}

// Load builds the configuration from args (without the program name), the
// environment and an optional .env file named by GPUGUARD_ENV_FILE
// (default ".env").
func Load(args []string) (*Config, error) {
	envFile := os.Getenv("GPUGUARD_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:       env.GetOrDefault("GPUGUARD_DATA_DIR", DefaultDataDir),
		Listen:        os.Getenv("GPUGUARD_LISTEN"),
		Threshold:     env.GetFloatOrDefault("GPUGUARD_THRESHOLD", settings.DefaultThreshold),
		Floor:         env.GetIntOrDefault("GPUGUARD_THROTTLE_FLOOR", settings.DefaultFloor),
		MaxParallel:   env.GetIntOrDefault("GPUGUARD_MAX_PARALLEL", DefaultMaxParallel),
		FlushDebounce: env.GetDurationOrDefault("GPUGUARD_FLUSH_DEBOUNCE", DefaultFlushDebounce),
		NoAuth:        env.GetBool("GPUGUARD_NO_AUTH"),
		Debug:         env.GetBool("DEBUG"),
		LogLevel:      env.GetOrDefault("LOG_LEVEL", "INFO"),
	}
	if _, set := os.LookupEnv("GPUGUARD_LISTEN"); !set {
		cfg.Listen = DefaultListen
	}

	flags := pflag.NewFlagSet("gpuguard", pflag.ContinueOnError)
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for lifetime stats and settings")
	flags.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP/WebSocket listen address (empty to disable)")
	flags.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "temperature threshold in °C (60-95)")
	flags.IntVar(&cfg.Floor, "throttle-floor", cfg.Floor, "minimum throttle intensity (1-90)")
	flags.IntVar(&cfg.MaxParallel, "max-parallel", cfg.MaxParallel, "devices sampled concurrently")
	flags.DurationVar(&cfg.FlushDebounce, "flush-debounce", cfg.FlushDebounce, "delay before persisting lifetime stats")
	flags.BoolVar(&cfg.NoAuth, "no-auth", cfg.NoAuth, "do not require an API key for control requests")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (DEBUG, INFO, WARNING, ERROR)")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if err := settings.ValidateThreshold(c.Threshold); err != nil {
		return err
	}
	if err := settings.ValidateFloor(c.Floor); err != nil {
		return err
	}
	if c.MaxParallel < 1 || c.MaxParallel > MaxParallelLimit {
		return fmt.Errorf("max parallel %d out of range [1, %d]", c.MaxParallel, MaxParallelLimit)
	}
	if c.FlushDebounce < 0 {
		return fmt.Errorf("flush debounce must not be negative")
	}
	if _, ok := debug.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// ResolveDataDir makes dir absolute and creates it if needed
func ResolveDataDir(dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		debug.Debug("Data directory path is relative, resolving from current directory")
		absPath, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve data directory: %w", err)
		}
		dir = absPath
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		debug.Error("Failed to create data directory %s: %v", dir, err)
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	debug.Info("Using data directory: %s", dir)
	return dir, nil
}
