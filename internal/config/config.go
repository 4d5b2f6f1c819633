package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultAddress           = "127.0.0.1:5000"
	DefaultIterations        = 50
	DefaultInterval          = 2 * time.Second
	DefaultBackend           = "auto"
	DefaultMaxFragment       = 64 * 1024
	DefaultReadBuffer        = 1024
	DefaultLogLevel          = string(LogLevelInfo)
	DefaultStorePath         = "/var/lib/sensorstream/records.db"
	DefaultStoreBatchSize    = 10
	DefaultStoreBatchTimeout = 5 * time.Second

	defaultEnvPrefix = "SENSORSTREAM"
	configName       = "sensorstream"
	configType       = "toml"
)

var validBackends = map[string]bool{
	"auto":      true,
	"vcgencmd":  true,
	"nvml":      true,
	"simulated": true,
}

type Config struct {
	Address        string        `mapstructure:"address"`
	Iterations     int           `mapstructure:"iterations"`
	Interval       time.Duration `mapstructure:"interval"`
	Backend        string        `mapstructure:"backend"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxFragment    int           `mapstructure:"max_fragment"`
	ReadBuffer     int           `mapstructure:"read_buffer"`
	Display        bool          `mapstructure:"display"`

	Store             bool          `mapstructure:"store"`
	StorePath         string        `mapstructure:"store_path"`
	StoreBatchSize    int           `mapstructure:"store_batch_size"`
	StoreBatchTimeout time.Duration `mapstructure:"store_batch_timeout"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// Load reads configuration for the given role from defaults, an optional
// TOML file, SENSORSTREAM_* environment variables and command line args,
// in increasing order of precedence.
func Load(role Role, args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet(role)
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	// Flag names use dashes, keys use underscores
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr == nil {
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		}
	})
	if bindErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", DefaultAddress)
	v.SetDefault("iterations", DefaultIterations)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("backend", DefaultBackend)
	v.SetDefault("connect_timeout", time.Duration(0))
	v.SetDefault("write_timeout", time.Duration(0))
	v.SetDefault("read_timeout", time.Duration(0))
	v.SetDefault("max_fragment", DefaultMaxFragment)
	v.SetDefault("read_buffer", DefaultReadBuffer)
	v.SetDefault("display", true)
	v.SetDefault("store", false)
	v.SetDefault("store_path", DefaultStorePath)
	v.SetDefault("store_batch_size", DefaultStoreBatchSize)
	v.SetDefault("store_batch_timeout", DefaultStoreBatchTimeout)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", "")
}

func newFlagSet(role Role) *pflag.FlagSet {
	fs := pflag.NewFlagSet(string(role), pflag.ContinueOnError)

	fs.String("address", DefaultAddress, "host:port to connect to (sampler) or listen on (collector)")
	fs.Bool("display", true, "Render the terminal status panel")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("log-file", "", "Also write logs to this rotating file")

	switch role {
	case RoleSampler:
		fs.Int("iterations", DefaultIterations, "Number of records to send before closing")
		fs.Duration("interval", DefaultInterval, "Interval between samples")
		fs.String("backend", DefaultBackend, "Sensor backend (auto, vcgencmd, nvml, simulated)")
		fs.Duration("connect-timeout", 0, "Connect timeout, 0 waits indefinitely")
		fs.Duration("write-timeout", 0, "Per-record write timeout, 0 waits indefinitely")
	case RoleCollector:
		fs.Duration("read-timeout", 0, "Per-read timeout, 0 waits indefinitely")
		fs.Int("max-fragment", DefaultMaxFragment, "Maximum record length in bytes")
		fs.Int("read-buffer", DefaultReadBuffer, "Read chunk size in bytes")
		fs.Bool("store", false, "Archive received records in SQLite")
		fs.String("store-path", DefaultStorePath, "Record archive path")
	}

	return fs
}

func readConfigFile(v *viper.Viper, o *options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath("/etc/sensorstream")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Address == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "address must not be empty")
	}
	if c.Iterations <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "iterations must be positive")
	}
	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	if !validBackends[c.Backend] {
		return errFactory.WithData(errors.ErrInvalidConfig, "unknown backend "+c.Backend)
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 || c.ReadTimeout < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "timeouts must not be negative")
	}
	if c.MaxFragment <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "max_fragment must be positive")
	}
	if c.ReadBuffer <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "read_buffer must be positive")
	}
	if c.Store && c.StorePath == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "store_path must be set when store is enabled")
	}

	return nil
}
