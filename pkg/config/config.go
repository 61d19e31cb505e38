// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < .env < env < flags
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

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	svcerr "github.com/logflow/svctools/pkg/errors"
	"github.com/logflow/svctools/pkg/normalize"
	"github.com/logflow/svctools/pkg/storage"
	"github.com/logflow/svctools/pkg/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SVCTOOLS_"

// Config holds all svctools configuration.
type Config struct {
	Version int `yaml:"version"`

	Analysis  AnalysisConfig  `yaml:"analysis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Watch     WatchConfig     `yaml:"watch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Presets   PresetsConfig   `yaml:"presets"`
}

// AnalysisConfig holds run defaults; flags override them.
type AnalysisConfig struct {
	Preset     string `yaml:"preset"`
	WindowDays int    `yaml:"window_days"` // 0 = preset default
	DateOrder  string `yaml:"date_order"`  // dmy | mdy | auto
	Timezone   string `yaml:"timezone"`    // IANA name, empty = local
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// ServerConfig for the HTTP upload service.
type ServerConfig struct {
	Port          int           `yaml:"port"`
	Host          string        `yaml:"host"`
	MaxUploadSize string        `yaml:"max_upload_size"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig for input and output locations.
type StorageConfig struct {
	OutputDir string           `yaml:"output_dir"`
	S3        storage.S3Config `yaml:"s3"`
}

// WatchConfig for drop-folder mode.
type WatchConfig struct {
	Dir       string        `yaml:"dir"`
	OutputDir string        `yaml:"output_dir"`
	Debounce  time.Duration `yaml:"debounce"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled bool                 `yaml:"enabled"`
	OTLP    telemetry.OTLPConfig `yaml:"otlp"`
}

// PresetsConfig lists YAML files with custom presets.
type PresetsConfig struct {
	Files []string `yaml:"files"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	svcDir := filepath.Join(homeDir, ".svctools")

	return &Config{
		Version: 1,
		Analysis: AnalysisConfig{
			Preset:    "repeat-calls",
			DateOrder: string(normalize.DayFirst),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Port:          8080,
			Host:          "localhost",
			MaxUploadSize: "100MB",
			CORSOrigins:   []string{"*"},
			RunTimeout:    2 * time.Minute,
		},
		Storage: StorageConfig{
			OutputDir: filepath.Join(svcDir, "reports"),
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			OTLP: telemetry.DefaultOTLPConfig("svctools"),
		},
	}
}

// Validate checks values that flags and files cannot be trusted with.
func (c *Config) Validate() error {
	if _, err := normalize.ParseDateOrder(c.Analysis.DateOrder); err != nil {
		return svcerr.InvalidParams(fmt.Sprintf("invalid analysis.date_order: %s", c.Analysis.DateOrder))
	}
	if c.Analysis.WindowDays < 0 {
		return svcerr.InvalidParams("analysis.window_days must not be negative")
	}
	if _, err := c.Analysis.Location(); err != nil {
		return svcerr.Wrap(err, svcerr.CodeInvalidParams, "invalid analysis.timezone")
	}
	if _, err := ParseSize(c.Server.MaxUploadSize); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return svcerr.InvalidParams(fmt.Sprintf("invalid server.port: %d", c.Server.Port))
	}
	return nil
}

// Location returns the configured time zone, local time when unset.
func (a AnalysisConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(a.Timezone)
}

// ParseSize parses sizes like "100MB", "1.5GB" or "4096" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n <= 0 {
		return 0, svcerr.InvalidParams(fmt.Sprintf("invalid size: %q", s))
	}
	return int64(n * float64(mult)), nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu      sync.RWMutex
	config  *Config
	paths   []string // Paths that were loaded
	search  []string
	envFile string
}

// Option configures a Manager.
type Option func(*Manager)

// WithPaths replaces the config file search path.
func WithPaths(paths ...string) Option {
	return func(m *Manager) { m.search = paths }
}

// WithEnvFile sets the dotenv file read before the environment. Empty
// disables it.
func WithEnvFile(path string) Option {
	return func(m *Manager) { m.envFile = path }
}

// NewManager creates a new configuration manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		config:  Default(),
		search:  defaultPaths(),
		envFile: ".env",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	// Later files override earlier ones
	for _, path := range m.search {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}

	// .env never overrides variables already set
	if m.envFile != "" {
		if err := godotenv.Load(m.envFile); err != nil && !os.IsNotExist(err) {
			return svcerr.Wrap(err, svcerr.CodeParseFailed, "failed to read env file").
				WithContext("path", m.envFile)
		}
	}
	if err := m.loadEnv(); err != nil {
		return err
	}
	return m.config.Validate()
}

// defaultPaths returns config file paths in priority order.
func defaultPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/svctools/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".svctools", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".svctools.yaml"))
	}

	return paths
}

// loadFile decodes a config file over the current values, so keys absent
// from the file keep their earlier value.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, m.config); err != nil {
		return svcerr.Wrap(err, svcerr.CodeParseFailed, "failed to parse config").
			WithContext("path", path)
	}
	return nil
}

// loadEnv applies SVCTOOLS_* environment variables.
func (m *Manager) loadEnv() error {
	c := m.config
	str := map[string]*string{
		"PRESET":        &c.Analysis.Preset,
		"DATE_ORDER":    &c.Analysis.DateOrder,
		"TIMEZONE":      &c.Analysis.Timezone,
		"LOG_LEVEL":     &c.Logging.Level,
		"LOG_FORMAT":    &c.Logging.Format,
		"HOST":          &c.Server.Host,
		"MAX_UPLOAD":    &c.Server.MaxUploadSize,
		"OUTPUT_DIR":    &c.Storage.OutputDir,
		"S3_REGION":     &c.Storage.S3.Region,
		"S3_ENDPOINT":   &c.Storage.S3.Endpoint,
		"S3_PROFILE":    &c.Storage.S3.Profile,
		"WATCH_DIR":     &c.Watch.Dir,
		"OTLP_ENDPOINT": &c.Telemetry.OTLP.Endpoint,
	}
	for key, dst := range str {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WINDOW_DAYS": &c.Analysis.WindowDays,
		"PORT":        &c.Server.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return svcerr.InvalidParams(fmt.Sprintf("invalid %s%s: %q", EnvPrefix, key, v))
		}
		*dst = n
	}

	if v := os.Getenv(EnvPrefix + "TELEMETRY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return svcerr.InvalidParams(fmt.Sprintf("invalid %sTELEMETRY: %q", EnvPrefix, v))
		}
		c.Telemetry.Enabled = b
	}
	if v := os.Getenv(EnvPrefix + "PRESET_FILES"); v != "" {
		c.Presets.Files = strings.Split(v, string(os.PathListSeparator))
	}
	return nil
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

// Save writes the current config to path, or to the user config file when
// path is empty.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".svctools", "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return svcerr.Wrap(err, svcerr.CodeFilePermission, "failed to create config directory")
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return svcerr.Wrap(err, svcerr.CodeWriteFailed, "failed to encode config")
	}
	return os.WriteFile(path, data, 0644)
}
