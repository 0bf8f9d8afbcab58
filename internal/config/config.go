// Package config wraps a viper singleton for configuration management.
// Precedence: command-line flags > environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config search paths, in order of precedence:
	// 1. ./.mbmove/ in the current directory
	if cwd, err := os.Getwd(); err == nil {
		v.AddConfigPath(filepath.Join(cwd, ".mbmove"))
	}

	// 2. User config directory (~/.config/mbmove/)
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "mbmove"))
	}

	// 3. Home directory (~/.mbmove/)
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".mbmove"))
	}

	// Environment variables take precedence over the config file.
	// E.g. MBMOVE_SOURCE_URL, MBMOVE_TARGET_URL, MBMOVE_LOG_LEVEL.
	v.SetEnvPrefix("MBMOVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
	v.SetDefault("export-dir", "./metabase_export")
	v.SetDefault("conflict-strategy", "skip")
	v.SetDefault("source-url", "")
	v.SetDefault("source-username", "")
	v.SetDefault("target-url", "")
	v.SetDefault("target-username", "")
	v.SetDefault("db-map", "db_map.json")

	// Read config file if it exists; absence is not an error.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetIntSlice retrieves an integer-slice configuration value.
func GetIntSlice(key string) []int {
	if v == nil {
		return nil
	}
	return v.GetIntSlice(key)
}

// Set overrides a configuration value. Used in tests.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}
