package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	Dashboard DashboardConfig `json:"dashboard" yaml:"dashboard"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	MaxBatch int `json:"max_batch" yaml:"max_batch"`
}

type DetectionConfig struct {
	Threshold int           `json:"threshold" yaml:"threshold"`
	Window    time.Duration `json:"window" yaml:"window"`
	Capacity  int           `json:"capacity" yaml:"capacity"`
}

type DispatchConfig struct {
	Enabled bool              `json:"enabled" yaml:"enabled"`
	Brokers []string          `json:"brokers" yaml:"brokers"`
	Topics  map[string]string `json:"topics" yaml:"topics"`
}

type DashboardConfig struct {
	TopN int `json:"top_n" yaml:"top_n"`
}

type RetentionConfig struct {
	Days int `json:"days" yaml:"days"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		API:      APIConfig{Enabled: true, Addr: ":8080"},
		Storage:  StorageConfig{Driver: "sqlite", DSN: "file:sentra.db?_pragma=busy_timeout(5000)"},
		Ingest:   IngestConfig{MaxBatch: 1000},
		Detection: DetectionConfig{
			Threshold: 5,
			Window:    5 * time.Minute,
			Capacity:  10,
		},
		Dispatch: DispatchConfig{
			Enabled: false,
			Topics: map[string]string{
				"api":         "raw.api",
				"m365":        "raw.m365",
				"crowdstrike": "raw.crowdstrike",
				"aws":         "raw.aws",
				"ad":          "raw.ad",
			},
		},
		Dashboard: DashboardConfig{TopN: 5},
		Retention: RetentionConfig{Days: 7},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Ingest.MaxBatch <= 0 {
		cfg.Ingest.MaxBatch = def.Ingest.MaxBatch
	}
	if cfg.Detection.Threshold <= 0 {
		cfg.Detection.Threshold = def.Detection.Threshold
	}
	if cfg.Detection.Window <= 0 {
		cfg.Detection.Window = def.Detection.Window
	}
	if cfg.Detection.Capacity <= 0 {
		cfg.Detection.Capacity = def.Detection.Capacity
	}
	if len(cfg.Dispatch.Topics) == 0 {
		cfg.Dispatch.Topics = def.Dispatch.Topics
	}
	if cfg.Dashboard.TopN <= 0 {
		cfg.Dashboard.TopN = def.Dashboard.TopN
	}
	if cfg.Retention.Days <= 0 {
		cfg.Retention.Days = def.Retention.Days
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
	}
	if cfg.Dispatch.Enabled && len(cfg.Dispatch.Brokers) == 0 {
		return errors.New("dispatch.brokers required when dispatch.enabled is true")
	}
	if cfg.Detection.Capacity < cfg.Detection.Threshold {
		return fmt.Errorf("detection.capacity %d must not be below detection.threshold %d",
			cfg.Detection.Capacity, cfg.Detection.Threshold)
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	return m, nil
}

// NewStaticManager wraps an in-memory config, for embedding and tests.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return cfg, nil
}
