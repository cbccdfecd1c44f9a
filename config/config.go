// Package config loads the parking occupancy settings from a YAML file, the environment and CLI flags.
package config

import (
	"strings"

	"github.com/nvr-ai/parking-occupancy/controller"
	"github.com/nvr-ai/parking-occupancy/fetch"
	"github.com/nvr-ai/parking-occupancy/notify"
	"github.com/nvr-ai/parking-occupancy/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. PARKING_LEARNING_RATE or PARKING_STORE_DSN.
const EnvPrefix = "PARKING"

// LogSettings selects the log level and output format ("console" or "json").
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Addr string `mapstructure:"addr"`
}

// Settings is the complete application configuration.
type Settings struct {
	Run    controller.Config `mapstructure:",squash"`
	Log    LogSettings       `mapstructure:"log"`
	Server ServerSettings    `mapstructure:"server"`
	Store  store.Config      `mapstructure:"store"`
	Fetch  fetch.Config      `mapstructure:"fetch"`
	Notify notify.Config     `mapstructure:"notify"`
}

// Context carries the loaded settings and logger to the commands.
type Context struct {
	Viper    *viper.Viper
	Settings *Settings
	Logger   zerolog.Logger
}

// NewContext creates a context with a fresh viper instance holding the defaults.
func NewContext() *Context {
	v := viper.New()
	Defaults(v)
	return &Context{Viper: v, Settings: &Settings{}, Logger: zerolog.Nop()}
}

// Defaults registers the default value of every setting on v.
func Defaults(v *viper.Viper) {
	run := controller.DefaultConfig()
	v.SetDefault("project_id", run.ProjectID)
	v.SetDefault("learning_rate", run.LearningRate)
	v.SetDefault("iterations", run.Iterations)
	v.SetDefault("var_threshold", run.VarThreshold)
	v.SetDefault("history", run.History)
	v.SetDefault("detect_shadows", run.DetectShadows)
	v.SetDefault("kernel_size", run.KernelSize)
	v.SetDefault("occupancy_threshold", run.OccupancyThreshold)
	v.SetDefault("training_root", run.TrainingRoot)
	v.SetDefault("training_subpath", run.TrainingSubpath)
	v.SetDefault("test_root", run.TestRoot)
	v.SetDefault("catalog_path", run.CatalogPath)
	v.SetDefault("output_root", run.OutputRoot)
	v.SetDefault("snapshot_suffix", run.SnapshotSuffix)
	v.SetDefault("strict_suffix", run.StrictSuffix)
	v.SetDefault("catalog.polygon_fields", run.Catalog.PolygonFields)
	v.SetDefault("catalog.camera_field", run.Catalog.CameraField)
	v.SetDefault("catalog.matches_field", run.Catalog.MatchesField)
	v.SetDefault("catalog.id_field", run.Catalog.IDField)
	v.SetDefault("visualize", run.Visualize)
	v.SetDefault("preview_width", run.PreviewWidth)
	v.SetDefault("preview_format", run.PreviewFormat)
	v.SetDefault("cache_models", run.CacheModels)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("store.driver", "")
	v.SetDefault("store.dsn", "")

	f := fetch.DefaultConfig()
	v.SetDefault("fetch.hosts", f.Hosts)
	v.SetDefault("fetch.port", f.Port)
	v.SetDefault("fetch.user", f.User)
	v.SetDefault("fetch.password", f.Password)
	v.SetDefault("fetch.key_file", f.KeyFile)
	v.SetDefault("fetch.remote_dir", f.RemoteDir)
	v.SetDefault("fetch.dest", f.Dest)
	v.SetDefault("fetch.timeout", f.Timeout)
	v.SetDefault("fetch.concurrency", f.Concurrency)

	n := notify.DefaultConfig()
	v.SetDefault("notify.broker", n.Broker)
	v.SetDefault("notify.client_id", n.ClientID)
	v.SetDefault("notify.username", n.Username)
	v.SetDefault("notify.password", n.Password)
	v.SetDefault("notify.topic", n.Topic)
	v.SetDefault("notify.qos", n.QoS)
	v.SetDefault("notify.retain", n.Retain)
	v.SetDefault("notify.timeout", n.Timeout)
}

// Load reads the settings from v.
//
// When path is empty, parking.yaml is looked up in the working directory and
// is optional. Environment variables override the file and bound flags
// override both.
//
// Arguments:
//   - v: A viper instance with defaults registered and flags bound.
//   - path: Explicit config file, or "".
//
// Returns:
//   - Settings: The validated settings.
//   - error: An error if the file cannot be read or a value is invalid.
func Load(v *viper.Viper, path string) (Settings, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, errors.Wrapf(err, "failed to read config %s", path)
		}
	} else {
		v.SetConfigName("parking")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, errors.Wrap(err, "failed to read config")
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, errors.Wrap(err, "failed to decode config")
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Validate checks the run parameters and the selected formats.
func (s Settings) Validate() error {
	if err := s.Run.Validate(); err != nil {
		return errors.Wrap(err, "invalid run settings")
	}
	if _, err := zerolog.ParseLevel(s.Log.Level); err != nil {
		return errors.Wrapf(err, "invalid log level %q", s.Log.Level)
	}
	switch s.Log.Format {
	case "console", "json", "":
	default:
		return errors.Errorf("invalid log format %q", s.Log.Format)
	}
	switch s.Store.Driver {
	case "", store.DriverSQLite, store.DriverMySQL, store.DriverPostgres:
	default:
		return errors.Errorf("invalid store driver %q", s.Store.Driver)
	}
	return nil
}
