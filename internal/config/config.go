// Package config loads application configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	v *viper.Viper
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig selects and locates the store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path   string `mapstructure:"path"`   // SQLite file
	URL    string `mapstructure:"url"`    // PostgreSQL connection string
}

// RedisConfig holds the optional Redis connection. An empty URL disables
// event publishing and the shared run lock.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// StorageConfig locates downloaded video files
type StorageConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
}

// QueueConfig locates the download request queue
type QueueConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"` // empty logs to stderr
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "tubevore.db",
		},
		Storage: StorageConfig{
			DownloadDir: "downloads",
		},
		Queue: QueueConfig{
			Path: "queue.db",
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "tubevore")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "tubevore")
	}
}

// Load reads configuration from file and environment. An explicit file
// must exist; otherwise config.yaml is looked up in the user config
// directory and the working directory, and a missing file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// Environment variable overrides, e.g. TUBEVORE_DATABASE_DRIVER
	v.SetEnvPrefix("TUBEVORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.v = v
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("redis.url", cfg.Redis.URL)
	v.SetDefault("storage.download_dir", cfg.Storage.DownloadDir)
	v.SetDefault("queue.path", cfg.Queue.Path)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// Options returns the configuration tier consulted by the option resolver.
func (c *Config) Options() *OptionSource {
	if c.v == nil {
		c.v = viper.New()
	}
	return &OptionSource{v: c.v}
}

// OptionSource exposes configuration keys to the option resolver.
type OptionSource struct {
	v *viper.Viper
}

// NewOptionSource wraps an existing viper instance.
func NewOptionSource(v *viper.Viper) *OptionSource {
	return &OptionSource{v: v}
}

// Lookup decodes the value at key into out and reports whether it was set.
func (s *OptionSource) Lookup(key string, out any) (bool, error) {
	if !s.v.IsSet(key) {
		return false, nil
	}
	if err := s.v.UnmarshalKey(key, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
