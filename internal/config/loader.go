package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Config file is optional if environment variables are set
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Warning: Could not read config file %s: %v. Using defaults and environment variables.\n", configPath, err)
	} else {
		if err := viper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	if host := os.Getenv("BLOBMUX_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("BLOBMUX_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if min := os.Getenv("BLOBMUX_MIN_SUCCESSFUL_WRITES"); min != "" {
		if n, err := strconv.Atoi(min); err == nil {
			cfg.Multiplex.MinSuccessfulWrites = n
		}
	}
	if quorum := os.Getenv("BLOBMUX_NOT_PRESENT_READ_QUORUM"); quorum != "" {
		if n, err := strconv.Atoi(quorum); err == nil {
			cfg.Multiplex.NotPresentReadQuorum = n
		}
	}

	if dbHost := os.Getenv("BLOBMUX_DATABASE_HOST"); dbHost != "" {
		cfg.Queue.Database.Host = dbHost
	}
	if dbPort := os.Getenv("BLOBMUX_DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Queue.Database.Port = p
		}
	}
	if dbName := os.Getenv("BLOBMUX_DATABASE_NAME"); dbName != "" {
		cfg.Queue.Database.Database = dbName
	}
	if dbUser := os.Getenv("BLOBMUX_DATABASE_USER"); dbUser != "" {
		cfg.Queue.Database.User = dbUser
	}
	if dbPassword := os.Getenv("BLOBMUX_DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Queue.Database.Password = dbPassword
	}

	if logLevel := os.Getenv("BLOBMUX_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}
