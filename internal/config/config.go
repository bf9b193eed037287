package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// KernelConfig holds the boot parameters of a simulated kernel.
type KernelConfig struct {
	MLFQS     bool  `yaml:"mlfqs"`      // Multi-level feedback queue scheduler instead of priority donation
	TimerFreq int   `yaml:"timer_freq"` // Timer interrupts per second (19..1000)
	TimeSlice int   `yaml:"time_slice"` // Ticks before a running thread is preempted
	Pages     int   `yaml:"pages"`      // Thread pages available (one per thread)
	MaxTicks  int64 `yaml:"max_ticks"`  // Halt once this many ticks have passed, 0 for no limit
}

// DefaultKernelConfig returns sensible defaults.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		TimerFreq: 100,
		TimeSlice: 4,
		Pages:     256,
		MaxTicks:  100000,
	}
}

// Validate checks that the configuration can boot.
func (c KernelConfig) Validate() error {
	if c.TimerFreq < 19 || c.TimerFreq > 1000 {
		return fmt.Errorf("timer_freq %d out of range 19..1000", c.TimerFreq)
	}
	if c.TimeSlice < 1 {
		return fmt.Errorf("time_slice must be positive, got %d", c.TimeSlice)
	}
	if c.Pages < 1 {
		return fmt.Errorf("pages must be positive, got %d", c.Pages)
	}
	if c.MaxTicks < 0 {
		return fmt.Errorf("max_ticks must not be negative, got %d", c.MaxTicks)
	}
	return nil
}

// ServerConfig holds configuration for the trace server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json
	DBPath    string `yaml:"db_path"`    // SQLite database path (default ~/.kthreads/runs.db, ":memory:" for testing)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// File is the on-disk configuration.
type File struct {
	Kernel KernelConfig `yaml:"kernel"`
	Server ServerConfig `yaml:"server"`
}

// Load reads a YAML configuration file. Fields missing from the file keep
// their defaults.
func Load(path string) (File, error) {
	f := File{Kernel: DefaultKernelConfig(), Server: DefaultServerConfig()}
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.Kernel.Validate(); err != nil {
		return f, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// ResolveDBPath returns path, or ~/.kthreads/runs.db when path is empty,
// creating the directory if needed.
func ResolveDBPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kthreads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "runs.db"), nil
}
