// Package config loads application settings from YAML files and environment
// variables.
package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
}

// DatabaseConfig selects and parameterizes the storage backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"`
}

// SMTPConfig parameterizes the outbound transport.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	UseTLS   bool   `mapstructure:"use_tls"`
}

// FetchConfig tunes the mailbox polling cycle.
type FetchConfig struct {
	// RecentLimit caps how many of the newest messages each cycle reads per
	// mailbox. Zero disables the cap.
	RecentLimit int           `mapstructure:"recent_limit"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// Schedule is a cron expression; empty means run once and exit.
	Schedule string `mapstructure:"schedule"`
	// Blacklist lists sender addresses dropped without record.
	Blacklist []string `mapstructure:"blacklist"`
}

var (
	cfg *Config
	mu  sync.RWMutex
)

// Load reads configuration from the optional file and the environment
// (UVHELP_ prefix, dots replaced by underscores) and keeps watching the file
// for changes.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("fetch.recent_limit", 10)
	v.SetDefault("fetch.dial_timeout", 10*time.Second)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config %s: %w", configFile, err)
			}
		}
	}

	v.SetEnvPrefix("UVHELP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	mu.Lock()
	cfg = loaded
	mu.Unlock()

	if configFile != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			next := &Config{}
			if err := v.Unmarshal(next); err != nil {
				log.Printf("config reload failed: %v", err)
				return
			}
			mu.Lock()
			cfg = next
			mu.Unlock()
			log.Printf("config reloaded from %s", e.Name)
		})
	}

	return loaded, nil
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}
