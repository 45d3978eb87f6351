// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all commtrace configuration.
type Config struct {
	Version int `yaml:"version"`

	Parser    ParserConfig    `yaml:"parser"`
	Output    OutputConfig    `yaml:"output"`
	Cache     CacheConfig     `yaml:"cache"`
	S3        S3Config        `yaml:"s3"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ParserConfig controls trace reading.
type ParserConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// OutputConfig controls default output behavior.
type OutputConfig struct {
	Formats      []string `yaml:"formats"`     // csv | parquet | xlsx | duckdb | sqlite
	Dir          string   `yaml:"dir"`         // batch output directory
	Suffix       string   `yaml:"suffix"`      // appended to the trace base name
	Compression  string   `yaml:"compression"` // parquet: snappy | zstd | gzip | lz4 | none
	WithDuration bool     `yaml:"with_duration"`
	PreviewRows  int      `yaml:"preview_rows"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend string        `yaml:"backend"` // none | file | redis
	Dir     string        `yaml:"dir"`
	Redis   RedisConfig   `yaml:"redis"`
	TTL     time.Duration `yaml:"ttl"`
}

// RedisConfig for the redis cache backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	Prefix   string `yaml:"prefix"`
}

// S3Config for s3:// inputs and outputs.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// TelemetryConfig for optional OTLP tracing.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	ServiceName   string  `yaml:"service_name"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Version: 1,
		Parser: ParserConfig{
			BufferSize: 64 * 1024,
		},
		Output: OutputConfig{
			Formats:     []string{"csv"},
			Dir:         ".",
			Suffix:      "_completo",
			Compression: "snappy",
			PreviewRows: 15,
		},
		Cache: CacheConfig{
			Backend: "none",
			Dir:     filepath.Join(homeDir, ".commtrace", "cache"),
			TTL:     7 * 24 * time.Hour,
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "commtrace:results:",
			},
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			ServiceName:   "commtrace",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
	getenv func(string) string
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
		getenv: os.Getenv,
	}
}

// Load loads configuration from all sources in priority order. extra is
// an optional explicit file (--config) that must exist when given.
func (m *Manager) Load(extra string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()
	m.paths = nil

	// Load from paths in order (later overrides earlier)
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but report errors for existing files
			if !os.IsNotExist(err) {
				return fmt.Errorf("config %s: %w", path, err)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if extra != "" {
		if err := m.loadFile(extra); err != nil {
			return fmt.Errorf("config %s: %w", extra, err)
		}
		m.paths = append(m.paths, extra)
	}

	// Override with environment variables
	return m.loadEnv()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/commtrace/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".commtrace", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".commtrace.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Parser
	if src.Parser.BufferSize != 0 {
		m.config.Parser.BufferSize = src.Parser.BufferSize
	}

	// Output
	if len(src.Output.Formats) > 0 {
		m.config.Output.Formats = src.Output.Formats
	}
	if src.Output.Dir != "" {
		m.config.Output.Dir = src.Output.Dir
	}
	if src.Output.Suffix != "" {
		m.config.Output.Suffix = src.Output.Suffix
	}
	if src.Output.Compression != "" {
		m.config.Output.Compression = src.Output.Compression
	}
	if src.Output.WithDuration {
		m.config.Output.WithDuration = true
	}
	if src.Output.PreviewRows != 0 {
		m.config.Output.PreviewRows = src.Output.PreviewRows
	}

	// Cache
	if src.Cache.Backend != "" {
		m.config.Cache.Backend = src.Cache.Backend
	}
	if src.Cache.Dir != "" {
		m.config.Cache.Dir = src.Cache.Dir
	}
	if src.Cache.TTL != 0 {
		m.config.Cache.TTL = src.Cache.TTL
	}
	if src.Cache.Redis.Address != "" {
		m.config.Cache.Redis.Address = src.Cache.Redis.Address
	}
	if src.Cache.Redis.Password != "" {
		m.config.Cache.Redis.Password = src.Cache.Redis.Password
	}
	if src.Cache.Redis.Database != 0 {
		m.config.Cache.Redis.Database = src.Cache.Redis.Database
	}
	if src.Cache.Redis.Prefix != "" {
		m.config.Cache.Redis.Prefix = src.Cache.Redis.Prefix
	}

	// S3
	if src.S3.Region != "" {
		m.config.S3.Region = src.S3.Region
	}
	if src.S3.Endpoint != "" {
		m.config.S3.Endpoint = src.S3.Endpoint
	}
	if src.S3.UsePathStyle {
		m.config.S3.UsePathStyle = true
	}
	if src.S3.AccessKeyID != "" {
		m.config.S3.AccessKeyID = src.S3.AccessKeyID
	}
	if src.S3.SecretAccessKey != "" {
		m.config.S3.SecretAccessKey = src.S3.SecretAccessKey
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.ServiceName != "" {
		m.config.Telemetry.ServiceName = src.Telemetry.ServiceName
	}
	if src.Telemetry.SamplingRatio != 0 {
		m.config.Telemetry.SamplingRatio = src.Telemetry.SamplingRatio
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() error {
	// COMMTRACE_FORMATS (comma separated)
	if v := m.getenv("COMMTRACE_FORMATS"); v != "" {
		m.config.Output.Formats = splitList(v)
	}

	// COMMTRACE_OUTPUT_DIR
	if v := m.getenv("COMMTRACE_OUTPUT_DIR"); v != "" {
		m.config.Output.Dir = v
	}

	// COMMTRACE_COMPRESSION
	if v := m.getenv("COMMTRACE_COMPRESSION"); v != "" {
		m.config.Output.Compression = v
	}

	// COMMTRACE_BUFFER_SIZE
	if v := m.getenv("COMMTRACE_BUFFER_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COMMTRACE_BUFFER_SIZE: %w", err)
		}
		m.config.Parser.BufferSize = n
	}

	// COMMTRACE_CACHE (none | file | redis)
	if v := m.getenv("COMMTRACE_CACHE"); v != "" {
		m.config.Cache.Backend = v
	}

	// COMMTRACE_REDIS_ADDR
	if v := m.getenv("COMMTRACE_REDIS_ADDR"); v != "" {
		m.config.Cache.Redis.Address = v
	}

	// COMMTRACE_S3_ENDPOINT
	if v := m.getenv("COMMTRACE_S3_ENDPOINT"); v != "" {
		m.config.S3.Endpoint = v
		m.config.S3.UsePathStyle = true
	}

	// OTEL_EXPORTER_OTLP_ENDPOINT enables telemetry
	if v := m.getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = strings.TrimPrefix(strings.TrimPrefix(v, "http://"), "https://")
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
