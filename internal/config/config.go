package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL      = "http://127.0.0.1:5000"
	DefaultGatewayAddress = "127.0.0.1:8090"
	DefaultRequestTimeout = 120 // seconds
	DefaultMaxAttachments = 10
	DefaultMaxSizeBytes   = 50 << 20
	DefaultHistoryTTL     = 30 // minutes
)

// Config represents runtime configuration for the client.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Attachments AttachmentConfig          `json:"attachments" yaml:"attachments"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
}

type BasicConfig struct {
	ServerURL      string   `json:"server_url" yaml:"server_url"`
	GatewayAddress string   `json:"gateway_address" yaml:"gateway_address"`
	RequestTimeout int      `json:"request_timeout" yaml:"request_timeout"` // seconds
	LogLevel       string   `json:"log_level" yaml:"log_level"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	Database       string   `json:"database" yaml:"database"`
}

type AttachmentConfig struct {
	MaxCount     int   `json:"max_count" yaml:"max_count"`
	MaxSizeBytes int64 `json:"max_size_bytes" yaml:"max_size_bytes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	HistoryTTL int    `json:"history_ttl" yaml:"history_ttl"` // minutes
}

// Default returns a configuration usable without any file: sqlite session store
// next to the working directory and no redis cache.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(absPath))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	b := &c.BasicConfig
	if b.ServerURL == "" {
		b.ServerURL = DefaultServerURL
	}
	b.ServerURL = strings.TrimRight(b.ServerURL, "/")
	if b.GatewayAddress == "" {
		b.GatewayAddress = DefaultGatewayAddress
	}
	if b.RequestTimeout <= 0 {
		b.RequestTimeout = DefaultRequestTimeout
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if len(b.AllowedOrigins) == 0 {
		b.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if b.Database == "" {
		b.Database = "sqlite3"
	}
	if c.Attachments.MaxCount <= 0 {
		c.Attachments.MaxCount = DefaultMaxAttachments
	}
	if c.Attachments.MaxSizeBytes <= 0 {
		c.Attachments.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "filechat.db"}
	}
	if sqlite := c.Databases["sqlite3"]; baseDir != "" && sqlite.DSN != "" && !isSpecialDSN(sqlite.DSN) && !filepath.IsAbs(sqlite.DSN) {
		sqlite.DSN = filepath.Join(baseDir, sqlite.DSN)
		c.Databases["sqlite3"] = sqlite
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "127.0.0.1"
	}
	if c.Redis.HistoryTTL <= 0 {
		c.Redis.HistoryTTL = DefaultHistoryTTL
	}
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.BasicConfig.ServerURL, "http://") && !strings.HasPrefix(c.BasicConfig.ServerURL, "https://") {
		return fmt.Errorf("server_url must be an http(s) url, got %q", c.BasicConfig.ServerURL)
	}
	if _, ok := c.Databases[c.BasicConfig.Database]; !ok {
		return fmt.Errorf("database config for %s not found", c.BasicConfig.Database)
	}
	return nil
}

// sqlite DSNs such as ":memory:" or "file::memory:?cache=shared" must not be joined with a directory.
func isSpecialDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":") || strings.HasPrefix(dsn, "file:")
}
