// Package config loads the AIO engine's tunables from a YAML file with
// environment-variable overrides, the way the rest of this corpus keeps
// its ambient configuration out of code: gopkg.in/yaml.v3 for the file
// format, github.com/joho/godotenv to optionally source a .env file
// before the environment is read.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is every knob SPEC_FULL.md's EXTERNAL INTERFACES section names.
// Field names intentionally mirror the postgres GUCs they replace
// (io_method, io_max_concurrency, ...) so a reader already familiar with
// those can map straight across.
type Config struct {
	IOMethod                 string `yaml:"io_method"`
	IOMaxConcurrency         int    `yaml:"io_max_concurrency"`
	IOBounceBuffers          int    `yaml:"io_bounce_buffers"`
	EffectiveIOConcurrency   int    `yaml:"effective_io_concurrency"`
	MaintenanceIOConcurrency int    `yaml:"maintenance_io_concurrency"`
	BufferIOSize             int    `yaml:"buffer_io_size"`
	IODirect                 bool   `yaml:"io_direct"`
	WorkerPoolSize           int    `yaml:"worker_pool_size"`
	WorkerQueueSize          int    `yaml:"worker_queue_size"`
	URingEntries             int    `yaml:"uring_entries"`
	LogLevel                 string `yaml:"log_level"`
	MetricsAddr              string `yaml:"metrics_addr"`
}

// Default returns the configuration this module falls back to when no
// file or environment override is present.
func Default() Config {
	return Config{
		IOMethod:                 "sync",
		IOMaxConcurrency:         64,
		IOBounceBuffers:          64,
		EffectiveIOConcurrency:   16,
		MaintenanceIOConcurrency: 10,
		BufferIOSize:             16,
		IODirect:                 false,
		WorkerPoolSize:           4,
		WorkerQueueSize:          1024,
		URingEntries:             128,
		LogLevel:                 "info",
		MetricsAddr:              ":9100",
	}
}

// envOverrides lists the environment variables that, when set, override
// the corresponding field after the YAML file (if any) has been applied.
// Keys match the YAML tag uppercased with an AIO_ prefix, e.g. io_method
// -> AIO_IO_METHOD.
var envOverrides = map[string]func(*Config, string) error{
	"AIO_IO_METHOD":                  func(c *Config, v string) error { c.IOMethod = v; return nil },
	"AIO_IO_MAX_CONCURRENCY":         intSetter(func(c *Config) *int { return &c.IOMaxConcurrency }),
	"AIO_IO_BOUNCE_BUFFERS":          intSetter(func(c *Config) *int { return &c.IOBounceBuffers }),
	"AIO_EFFECTIVE_IO_CONCURRENCY":   intSetter(func(c *Config) *int { return &c.EffectiveIOConcurrency }),
	"AIO_MAINTENANCE_IO_CONCURRENCY": intSetter(func(c *Config) *int { return &c.MaintenanceIOConcurrency }),
	"AIO_BUFFER_IO_SIZE":             intSetter(func(c *Config) *int { return &c.BufferIOSize }),
	"AIO_WORKER_POOL_SIZE":           intSetter(func(c *Config) *int { return &c.WorkerPoolSize }),
	"AIO_WORKER_QUEUE_SIZE":          intSetter(func(c *Config) *int { return &c.WorkerQueueSize }),
	"AIO_URING_ENTRIES":              intSetter(func(c *Config) *int { return &c.URingEntries }),
	"AIO_LOG_LEVEL":                  func(c *Config, v string) error { c.LogLevel = v; return nil },
	"AIO_METRICS_ADDR":               func(c *Config, v string) error { c.MetricsAddr = v; return nil },
	"AIO_IO_DIRECT": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AIO_IO_DIRECT: %w", err)
		}
		c.IODirect = b
		return nil
	},
}

func intSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("expected integer, got %q: %w", v, err)
		}
		*field(c) = n
		return nil
	}
}

// Load reads yamlPath (if non-empty and present) over Default(), then
// applies a .env file at envPath (if non-empty and present) into the
// process environment, then applies any AIO_* environment variables on
// top, and finally validates the result.
func Load(yamlPath, envPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", yamlPath, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", yamlPath, err)
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading %s: %w", envPath, err)
		}
	}

	for key, setter := range envOverrides {
		if v, ok := os.LookupEnv(key); ok {
			if err := setter(&cfg, v); err != nil {
				return Config{}, fmt.Errorf("config: %s: %w", key, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces a recognized io_method, positive io_max_concurrency,
// io_bounce_buffers and buffer_io_size, and non-negative io_concurrency
// settings. It does not check direct I/O against advice: there is no
// advice setting here, and the read stream turns advice off itself when
// its DirectIO option is set.
func (c Config) Validate() error {
	switch c.IOMethod {
	case "sync", "worker", "io_uring", "posix_aio":
	default:
		return fmt.Errorf("config: unrecognized io_method %q", c.IOMethod)
	}
	if c.IOMaxConcurrency <= 0 {
		return fmt.Errorf("config: io_max_concurrency must be positive")
	}
	if c.IOBounceBuffers <= 0 {
		return fmt.Errorf("config: io_bounce_buffers must be positive")
	}
	if c.BufferIOSize <= 0 {
		return fmt.Errorf("config: buffer_io_size must be positive")
	}
	if c.EffectiveIOConcurrency < 0 || c.MaintenanceIOConcurrency < 0 {
		return fmt.Errorf("config: io_concurrency settings cannot be negative")
	}
	return nil
}
