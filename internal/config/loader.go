package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "STOREFRONT"

var (
	// GlobalConfig holds the global configuration instance
	GlobalConfig *Config

	loaded   *viper.Viper
	loadedMu sync.Mutex
)

// secrets are read from the environment even when no config file names them
var secretKeys = []string{
	"database.password",
	"redis.password",
	"security.jwt.secret",
	"payment.api_key",
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
		v.AddConfigPath("/etc/storefront")
		v.AddConfigPath("$HOME/.storefront")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Printf("Config file not found, using defaults and environment variables\n")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())

		// config.<env>.yaml next to the base file overrides it
		basePath := v.ConfigFileUsed()
		envConfigPath := filepath.Join(filepath.Dir(basePath), fmt.Sprintf("config.%s.yaml", Env()))
		if _, err := os.Stat(envConfigPath); err == nil {
			v.SetConfigFile(envConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to merge env config: %w", err)
			}
			v.SetConfigFile(basePath)
			fmt.Printf("Loaded environment config: %s\n", envConfigPath)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	loadedMu.Lock()
	loaded = v
	GlobalConfig = config
	loadedMu.Unlock()

	return config, nil
}

// MustLoadConfig loads configuration and panics on error
func MustLoadConfig(configPath string) *Config {
	config, err := LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	return config
}

// GetConfig returns the global configuration instance
func GetConfig() *Config {
	if GlobalConfig == nil {
		panic("Config not loaded. Call LoadConfig first.")
	}
	return GlobalConfig
}

// ReloadConfig re-reads the file the last LoadConfig used
func ReloadConfig() (*Config, error) {
	loadedMu.Lock()
	v := loaded
	loadedMu.Unlock()
	if v == nil {
		return nil, fmt.Errorf("config not initialized")
	}

	newConfig, err := LoadConfig(v.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("failed to reload config: %w", err)
	}
	return newConfig, nil
}

// WatchConfig calls back with the new configuration whenever the
// loaded config file changes on disk
func WatchConfig(callback func(*Config)) {
	loadedMu.Lock()
	v := loaded
	loadedMu.Unlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		fmt.Printf("Config file changed: %s\n", e.Name)
		newConfig, err := ReloadConfig()
		if err != nil {
			fmt.Printf("Failed to reload config: %v\n", err)
			return
		}
		if callback != nil {
			callback(newConfig)
		}
	})
	v.WatchConfig()
}

// Env returns the deployment environment name
func Env() string {
	return GetEnv(envPrefix+"_ENV", "dev")
}

// GetEnv returns environment variable value with fallback
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvBool returns environment variable as boolean with fallback
func GetEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return fallback
}

// GetEnvInt returns environment variable as integer with fallback
func GetEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

// IsDevelopment returns true if running in development mode
func IsDevelopment() bool {
	env := Env()
	return env == "dev" || env == "development"
}

// IsProduction returns true if running in production mode
func IsProduction() bool {
	env := Env()
	return env == "prod" || env == "production"
}
