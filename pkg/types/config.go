package types

import (
	"errors"
	"path/filepath"
)

// Config holds the queue location and the primary store connection used by
// the casebuf tool.
type Config struct {
	DataDir     string      `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	QueueFile   string      `json:"queue_file" yaml:"queue_file" mapstructure:"queue_file"`
	Store       StoreConfig `json:"store" yaml:"store" mapstructure:"store"`
	Log         LogConfig   `json:"log" yaml:"log" mapstructure:"log"`
	MetricsFile string      `json:"metrics_file" yaml:"metrics_file,omitempty" mapstructure:"metrics_file"`
}

// StoreConfig selects and parameterizes the primary store.
type StoreConfig struct {
	Driver        string `json:"driver" yaml:"driver" mapstructure:"driver"`
	Path          string `json:"path" yaml:"path,omitempty" mapstructure:"path"`
	DSN           string `json:"dsn" yaml:"dsn,omitempty" mapstructure:"dsn"`
	BusyTimeoutMS int    `json:"busy_timeout_ms" yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Defaults applied by the CLI when the config file is silent.
const (
	DefaultQueueFile     = "buffer_queue.json"
	DefaultSQLitePath    = "app.db"
	DefaultBusyTimeoutMS = 5000
)

// Config validation errors.
var (
	ErrDriverEmpty        = errors.New("store driver must not be empty")
	ErrDriverUnknown      = errors.New("unknown store driver")
	ErrStorePathEmpty     = errors.New("sqlite store path must not be empty")
	ErrStoreDSNEmpty      = errors.New("postgres store dsn must not be empty")
	ErrBusyTimeoutInvalid = errors.New("busy timeout must not be negative")
)

// knownDrivers lists the drivers that Validate accepts.
var knownDrivers = map[string]bool{
	DriverSQLite:   true,
	DriverPostgres: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	return c.Store.Validate()
}

// Validate checks the store section.
func (s StoreConfig) Validate() error {
	if s.Driver == "" {
		return ErrDriverEmpty
	}
	if !knownDrivers[s.Driver] {
		return ErrDriverUnknown
	}
	if s.Driver == DriverSQLite && s.Path == "" {
		return ErrStorePathEmpty
	}
	if s.Driver == DriverPostgres && s.DSN == "" {
		return ErrStoreDSNEmpty
	}
	if s.BusyTimeoutMS < 0 {
		return ErrBusyTimeoutInvalid
	}
	return nil
}

// QueuePath returns the queue file location. A relative QueueFile is
// resolved against DataDir.
func (c Config) QueuePath() string {
	return resolve(c.DataDir, c.QueueFile, DefaultQueueFile)
}

// SQLitePath returns the SQLite database location. A relative Store.Path is
// resolved against DataDir.
func (c Config) SQLitePath() string {
	return resolve(c.DataDir, c.Store.Path, DefaultSQLitePath)
}

func resolve(dir, name, fallback string) string {
	if name == "" {
		name = fallback
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
