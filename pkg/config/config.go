// Package config holds kernelswitch run configuration.
//
// Configuration can be loaded from:
//   - Environment variables
//   - YAML configuration file
//   - Programmatic defaults
//
// Environment variables take precedence over the file, which takes
// precedence over defaults.
//
// Environment Variables:
//
//	KERNELSWITCH_MODEL             - Prediction module path (.so plugin or .yaml tree)
//	KERNELSWITCH_LOG               - Property log file path
//	KERNELSWITCH_WARP              - Warp size for warp kernels (default: 32)
//	KERNELSWITCH_CHUNK             - Chunk size for warp kernels (default: 32)
//	KERNELSWITCH_STAT_CACHE        - Directory of the degree statistics cache
//	KERNELSWITCH_WORKERS           - Host backend worker goroutines (default: NumCPU)
//	KERNELSWITCH_THREADS_PER_BLOCK - Host backend block size limit (default: 256)
//	KERNELSWITCH_DEVICE_MEMORY     - Host backend memory limit in bytes (default: unlimited)
//	KERNELSWITCH_POOLING           - Reuse shared-memory and count buffers (default: true)
//
// Example:
//
//	cfg := config.LoadFromEnvOrFile("./kernelswitch.yaml")
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvModel           = "KERNELSWITCH_MODEL"
	EnvLog             = "KERNELSWITCH_LOG"
	EnvWarp            = "KERNELSWITCH_WARP"
	EnvChunk           = "KERNELSWITCH_CHUNK"
	EnvStatCache       = "KERNELSWITCH_STAT_CACHE"
	EnvWorkers         = "KERNELSWITCH_WORKERS"
	EnvThreadsPerBlock = "KERNELSWITCH_THREADS_PER_BLOCK"
	EnvDeviceMemory    = "KERNELSWITCH_DEVICE_MEMORY"
	EnvPooling         = "KERNELSWITCH_POOLING"
)

// Config is the configuration of one harness run.
type Config struct {
	// Model is the prediction module path. Empty runs the default kernel.
	Model string `yaml:"model"`

	// LogFile receives prediction and property log lines. Empty disables it.
	LogFile string `yaml:"log_file"`

	// WarpSize and ChunkSize tune warp kernels run without a model.
	WarpSize  int `yaml:"warp_size"`
	ChunkSize int `yaml:"chunk_size"`

	// StatCacheDir enables the degree statistics cache.
	StatCacheDir string `yaml:"stat_cache_dir"`

	// Pooling reuses kernel scratch and graph loading buffers.
	Pooling bool `yaml:"pooling"`

	// Backend configures the host accelerator backend.
	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig holds host backend settings.
type BackendConfig struct {
	Workers            int   `yaml:"workers"`
	MaxThreadsPerBlock int   `yaml:"max_threads_per_block"`
	MaxDeviceMemory    int64 `yaml:"max_device_memory"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		WarpSize:  32,
		ChunkSize: 32,
		Pooling:   true,
		Backend: BackendConfig{
			Workers:            runtime.NumCPU(),
			MaxThreadsPerBlock: 256,
		},
	}
}

// LoadFromEnv loads configuration from environment variables over defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg
}

// LoadConfig loads configuration from a YAML file. Keys missing from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigOrDefault loads config from file, or returns defaults if the
// file cannot be read.
func LoadConfigOrDefault(path string) *Config {
	cfg, err := LoadConfig(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// LoadFromEnvOrFile loads the file (or defaults) and applies environment
// overrides on top.
func LoadFromEnvOrFile(path string) *Config {
	cfg := LoadConfigOrDefault(path)
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides c with every environment variable that is set.
func (c *Config) ApplyEnv() {
	c.Model = getEnv(EnvModel, c.Model)
	c.LogFile = getEnv(EnvLog, c.LogFile)
	c.WarpSize = getEnvInt(EnvWarp, c.WarpSize)
	c.ChunkSize = getEnvInt(EnvChunk, c.ChunkSize)
	c.StatCacheDir = getEnv(EnvStatCache, c.StatCacheDir)
	c.Backend.Workers = getEnvInt(EnvWorkers, c.Backend.Workers)
	c.Backend.MaxThreadsPerBlock = getEnvInt(EnvThreadsPerBlock, c.Backend.MaxThreadsPerBlock)
	c.Backend.MaxDeviceMemory = getEnvInt64(EnvDeviceMemory, c.Backend.MaxDeviceMemory)
	c.Pooling = getEnvBool(EnvPooling, c.Pooling)
}

// Validate checks the configuration for values no run can use.
func (c *Config) Validate() error {
	if c.WarpSize <= 0 {
		return fmt.Errorf("invalid warp size: %d", c.WarpSize)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size: %d", c.ChunkSize)
	}
	if c.Backend.Workers < 0 {
		return fmt.Errorf("invalid worker count: %d", c.Backend.Workers)
	}
	if c.Backend.MaxThreadsPerBlock < 0 {
		return fmt.Errorf("invalid threads per block: %d", c.Backend.MaxThreadsPerBlock)
	}
	if c.Backend.MaxDeviceMemory < 0 {
		return fmt.Errorf("invalid device memory limit: %d", c.Backend.MaxDeviceMemory)
	}
	return nil
}

// String returns a one-line summary for logs.
func (c *Config) String() string {
	model := c.Model
	if model == "" {
		model = "none"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "model=%s warp=%d chunk=%d workers=%d threads=%d",
		model, c.WarpSize, c.ChunkSize, c.Backend.Workers, c.Backend.MaxThreadsPerBlock)
	if c.LogFile != "" {
		fmt.Fprintf(&b, " log=%s", c.LogFile)
	}
	if c.StatCacheDir != "" {
		fmt.Fprintf(&b, " stat-cache=%s", c.StatCacheDir)
	}
	if !c.Pooling {
		b.WriteString(" pooling=off")
	}
	return b.String()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defaultVal
}
