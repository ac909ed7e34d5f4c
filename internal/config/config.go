package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents the full service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Multiplex MultiplexConfig `mapstructure:"multiplex"`
	Stores    []StoreConfig   `mapstructure:"stores"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scrub     ScrubConfig     `mapstructure:"scrub"`
	Healer    HealerConfig    `mapstructure:"healer"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	MaxBlobSize     int64         `mapstructure:"max_blob_size"`
}

// MultiplexConfig represents quorum configuration
type MultiplexConfig struct {
	ID                   int `mapstructure:"id"`
	MinSuccessfulWrites  int `mapstructure:"min_successful_writes"`
	NotPresentReadQuorum int `mapstructure:"not_present_read_quorum"`
}

// StoreConfig represents one backing store
type StoreConfig struct {
	ID   int    `mapstructure:"id"`
	Tier string `mapstructure:"tier"` // main or write_mostly
	Kind string `mapstructure:"kind"` // memory, leveldb or redis

	// LevelDB
	Path string `mapstructure:"path"`

	// Redis
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig represents the sync queue backend
type QueueConfig struct {
	Kind     string         `mapstructure:"kind"` // memory or postgres
	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig represents PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN renders the pgx connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// ScrubConfig represents scrubbing read configuration
type ScrubConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Action         string        `mapstructure:"action"`       // report_only or repair
	WriteMostly    string        `mapstructure:"write_mostly"` // scrub, scrub_if_absent, skip_missing or populate_if_absent
	QueuePeekBound time.Duration `mapstructure:"queue_peek_bound"`
	// SampleRate scrubs one in every N reads; 0 or 1 scrubs every read.
	SampleRate uint64 `mapstructure:"sample_rate"`
}

// HealerConfig represents the background repair loop configuration
type HealerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	Workers       int           `mapstructure:"workers"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	EntryTTL      time.Duration `mapstructure:"entry_ttl"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}

	mains := 0
	seen := make(map[int]bool)
	for i, store := range c.Stores {
		if seen[store.ID] {
			return fmt.Errorf("stores[%d]: duplicate store id %d", i, store.ID)
		}
		seen[store.ID] = true

		switch store.Tier {
		case "", "main":
			mains++
		case "write_mostly":
		default:
			return fmt.Errorf("stores[%d]: tier must be main or write_mostly", i)
		}

		switch store.Kind {
		case "memory":
		case "leveldb":
			if store.Path == "" {
				return fmt.Errorf("stores[%d]: leveldb store requires a path", i)
			}
		case "redis":
			if store.Host == "" {
				return fmt.Errorf("stores[%d]: redis store requires a host", i)
			}
		default:
			return fmt.Errorf("stores[%d]: kind must be memory, leveldb or redis", i)
		}
	}
	if mains == 0 {
		return errors.New("at least one main store is required")
	}

	if c.Multiplex.MinSuccessfulWrites < 1 || c.Multiplex.MinSuccessfulWrites > mains {
		return fmt.Errorf("multiplex.min_successful_writes must be between 1 and %d", mains)
	}
	if c.Multiplex.NotPresentReadQuorum < 1 || c.Multiplex.NotPresentReadQuorum > mains {
		return fmt.Errorf("multiplex.not_present_read_quorum must be between 1 and %d", mains)
	}

	switch c.Queue.Kind {
	case "memory":
	case "postgres":
		if c.Queue.Database.Host == "" {
			return errors.New("queue.database.host is required")
		}
		if c.Queue.Database.Database == "" {
			return errors.New("queue.database.database is required")
		}
		if c.Queue.Database.User == "" {
			return errors.New("queue.database.user is required")
		}
	default:
		return errors.New("queue.kind must be memory or postgres")
	}

	if c.Scrub.Enabled {
		switch c.Scrub.Action {
		case "report_only", "repair":
		default:
			return errors.New("scrub.action must be report_only or repair")
		}
		switch c.Scrub.WriteMostly {
		case "scrub", "scrub_if_absent", "skip_missing", "populate_if_absent":
		default:
			return errors.New("scrub.write_mostly must be one of: scrub, scrub_if_absent, skip_missing, populate_if_absent")
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       1000,
			RateBurst:       2000,
			MaxBlobSize:     64 << 20,
		},
		Multiplex: MultiplexConfig{
			ID:                   1,
			MinSuccessfulWrites:  1,
			NotPresentReadQuorum: 1,
		},
		Stores: []StoreConfig{
			{ID: 0, Tier: "main", Kind: "memory"},
		},
		Queue: QueueConfig{
			Kind: "memory",
			Database: DatabaseConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "blobmux",
				User:            "blobmux",
				MaxConnections:  50,
				MinConnections:  10,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Scrub: ScrubConfig{
			Enabled:        false,
			Action:         "report_only",
			WriteMostly:    "skip_missing",
			QueuePeekBound: 5 * time.Minute,
		},
		Healer: HealerConfig{
			Enabled:       true,
			Interval:      10 * time.Second,
			BatchSize:     100,
			Workers:       4,
			RatePerSecond: 100,
			EntryTTL:      7 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
