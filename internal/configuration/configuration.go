package configuration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "REPSCORE"

// AppConfig represents the complete application configuration.
type AppConfig struct {
	// Logger: logger component configuration
	Logger LoggerConfig `mapstructure:"logger"`
	// Server: HTTP server configuration
	Server ServerConfig `mapstructure:"server"`
	// Catalog: exercise, rule and achievement definitions
	Catalog CatalogConfig `mapstructure:"catalog"`
	// Score: calculation engine settings
	Score ScoreConfig `mapstructure:"score"`
	// Cache: remote and in-memory cache settings
	Cache CacheConfig `mapstructure:"cache"`
	// Audit: calculation audit trail
	Audit AuditConfig `mapstructure:"audit"`
	// History: recent results kept per user
	History HistoryConfig `mapstructure:"history"`
}

// LoggerConfig defines logging settings.
type LoggerConfig struct {
	// Level is one of debug, info, warn, warning, error (case-insensitive).
	Level string `mapstructure:"level"`
	// File: optional log file, rotated; stdout is always written.
	File string `mapstructure:"file"`
}

// ServerConfig contains HTTP server parameters.
type ServerConfig struct {
	// Address: address and port where the server will listen (e.g., ":8080").
	Address string `mapstructure:"address"`
	// AdminToken: value of the X-Admin-Token header required by admin
	// endpoints. Empty disables them.
	AdminToken string `mapstructure:"admin_token"`
}

type CatalogConfig struct {
	// File: YAML definitions file.
	File string `mapstructure:"file"`
	// Watch: reload automatically when the file changes.
	Watch bool `mapstructure:"watch"`
	// Debounce: quiet period before a change triggers a reload.
	Debounce time.Duration `mapstructure:"debounce"`
}

type ScoreConfig struct {
	// Precision: decimal places of total points (0..6).
	Precision int `mapstructure:"precision"`
	// BulkParallelism: concurrent calculations of a bulk request.
	BulkParallelism int `mapstructure:"bulk_parallelism"`
}

// CacheConfig configures the cache layer. Without RedisAddr only the
// in-memory cache is used.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MemorySizeMB  int           `mapstructure:"memory_size_mb"`
	ContextTTL    time.Duration `mapstructure:"context_ttl"`
}

// AuditConfig defines the audit trail file.
type AuditConfig struct {
	// File: audit file path (optional, disabled when empty)
	File string `mapstructure:"file"`
	// Size: maximal audit file size in MB before rotation
	Size int `mapstructure:"size"`
	// Amount: number of rotated files kept
	Amount int `mapstructure:"amount"`
}

type HistoryConfig struct {
	// Length: results kept per user.
	Length int `mapstructure:"length"`
	// TTL: inactivity after which a user's history is dropped.
	TTL time.Duration `mapstructure:"ttl"`
}

// Validate checks every section and returns the first error found.
func (c *AppConfig) Validate() error {
	validators := []interface{ Validate() error }{
		&c.Logger, &c.Server, &c.Catalog, &c.Score, &c.Cache, &c.Audit, &c.History,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the log level is one of the supported values.
func (l *LoggerConfig) Validate() error {
	if l.Level == "" {
		return errors.New("logger.level: must be specified")
	}

	valid := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !valid[strings.ToLower(l.Level)] {
		return fmt.Errorf("logger.level: unsupported level '%s'", l.Level)
	}

	return nil
}

func (n *ServerConfig) Validate() error {
	if n.Address == "" {
		return errors.New("server.address: must be specified")
	}

	return nil
}

func (c *CatalogConfig) Validate() error {
	if c.File == "" {
		return errors.New("catalog.file: must be specified")
	}
	if c.Debounce < 0 {
		return errors.New("catalog.debounce: must not be negative")
	}

	return nil
}

func (s *ScoreConfig) Validate() error {
	if s.Precision < 0 || s.Precision > 6 {
		return fmt.Errorf("score.precision: %d is out of range 0..6", s.Precision)
	}
	if s.BulkParallelism <= 0 {
		return errors.New("score.bulk_parallelism: must be positive")
	}

	return nil
}

func (c *CacheConfig) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("cache.timeout: must be positive")
	}
	if c.MemorySizeMB <= 0 {
		return errors.New("cache.memory_size_mb: must be positive")
	}

	return nil
}

// Validate fills defaults for rotation parameters.
func (a *AuditConfig) Validate() error {
	if a.Amount == 0 {
		a.Amount = 20
	}

	if a.Size == 0 {
		a.Size = 100
	}

	return nil
}

func (h *HistoryConfig) Validate() error {
	if h.Length <= 0 {
		return errors.New("history.length: must be positive")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.file", "")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("catalog.file", "")
	v.SetDefault("catalog.watch", true)
	v.SetDefault("catalog.debounce", 500*time.Millisecond)
	v.SetDefault("score.precision", 0)
	v.SetDefault("score.bulk_parallelism", 8)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.timeout", 50*time.Millisecond)
	v.SetDefault("cache.memory_size_mb", 16)
	v.SetDefault("cache.context_ttl", 30*time.Second)
	v.SetDefault("audit.file", "")
	v.SetDefault("audit.size", 100)
	v.SetDefault("audit.amount", 20)
	v.SetDefault("history.length", 50)
	v.SetDefault("history.ttl", 24*time.Hour)
}

// LoadConfig loads the YAML configuration file. Environment variables
// prefixed with REPSCORE_ override file values, with dots in keys replaced
// by underscores (REPSCORE_CACHE_REDIS_ADDR).
func LoadConfig(configPath string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}
