package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/casebuffer/internal/logging"
	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	envPrefix = "CASEBUF"
)

// Config keys bound to CASEBUF_* environment variables. data_dir is absent:
// its environment override is applied by paths.ResolveDataDir, below the
// config file.
var envKeys = []string{
	"queue_file",
	"store.driver",
	"store.path",
	"store.dsn",
	"store.busy_timeout_ms",
	"log.level",
	"log.format",
	"metrics_file",
}

// defaultConfig is written to config.yaml by init.
func defaultConfig(dataDir string) types.Config {
	return types.Config{
		DataDir:   dataDir,
		QueueFile: types.DefaultQueueFile,
		Store: types.StoreConfig{
			Driver:        types.DriverSQLite,
			Path:          types.DefaultSQLitePath,
			BusyTimeoutMS: types.DefaultBusyTimeoutMS,
		},
		Log: types.LogConfig{Level: "info", Format: logging.FormatText},
	}
}

// newViper returns a Viper instance with defaults and environment bindings.
func newViper(configDir string) *viper.Viper {
	def := defaultConfig("")

	v := viper.New()
	v.SetDefault("queue_file", def.QueueFile)
	v.SetDefault("store.driver", def.Store.Driver)
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("store.busy_timeout_ms", def.Store.BusyTimeoutMS)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	for _, key := range envKeys {
		// BindEnv only fails for an empty key.
		_ = v.BindEnv(key, envName(key))
	}

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	return v
}

var envReplacer = strings.NewReplacer(".", "_")

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(envReplacer.Replace(key))
}

// loadConfig reads config.yaml from configDir. A missing config.yaml is not
// an error; defaults and environment variables still apply.
func loadConfig(configDir string) (types.Config, error) {
	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// writeConfigIfMissing creates config.yaml with default values if the file
// does not exist. It reports whether a file was written.
func writeConfigIfMissing(configDir, dataDir string) (bool, error) {
	path := filepath.Join(configDir, configFileExt)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(defaultConfig(dataDir))
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# casebuf configuration\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
