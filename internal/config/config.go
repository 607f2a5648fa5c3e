// Package config loads ebooklet's runtime configuration: local store
// defaults, remote connection parameters, and sync tuning knobs. Grounded on
// the teacher's internal/config/config.go (viper.New, bindFlags, env-prefix
// pattern), rewritten for this module's own fields.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is ebooklet's full runtime configuration.
type Config struct {
	LocalPath   string        `mapstructure:"local_path"`
	Engine      string        `mapstructure:"engine"` // "pebble" or "badger"
	NBuckets    uint32        `mapstructure:"n_buckets"`
	NumGroups   uint32        `mapstructure:"num_groups"`
	BufferSize  int           `mapstructure:"buffer_size"`
	Workers     int           `mapstructure:"workers"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	Retries     int           `mapstructure:"retries"`

	Remote RemoteConfig `mapstructure:"remote"`

	LogLevel       string `mapstructure:"log_level"`
	ConsoleListen  string `mapstructure:"console_listen"`
	ConsoleEnabled bool   `mapstructure:"console_enabled"`
}

// RemoteConfig describes how to reach the remote bucket or HTTP endpoint.
type RemoteConfig struct {
	Kind            string `mapstructure:"kind"` // "s3", "http", or "" for local-only
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	DBKey           string `mapstructure:"db_key"`
	URL             string `mapstructure:"url"` // for kind=http
}

// Load builds a Config from defaults, an optional config file, environment
// variables prefixed EBOOKLET_, and any flags bound on cmd.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindFlags(v, cmd); err != nil {
		return nil, fmt.Errorf("config: binding flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("EBOOKLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("local_path", "./ebooklet-data")
	v.SetDefault("engine", "pebble")
	v.SetDefault("n_buckets", 1<<20)
	v.SetDefault("num_groups", 256)
	v.SetDefault("buffer_size", 64<<10)
	v.SetDefault("workers", 8)
	v.SetDefault("read_timeout", 60*time.Second)
	v.SetDefault("retries", 3)
	v.SetDefault("log_level", "info")
	v.SetDefault("console_listen", "127.0.0.1:8778")
	v.SetDefault("console_enabled", false)
	v.SetDefault("remote.use_path_style", true)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}
	return v.BindPFlags(cmd.Flags())
}

func validate(cfg *Config) error {
	if cfg.LocalPath == "" {
		return fmt.Errorf("config: local_path must be set")
	}
	switch cfg.Engine {
	case "pebble", "badger":
	default:
		return fmt.Errorf("config: engine must be \"pebble\" or \"badger\", got %q", cfg.Engine)
	}
	switch cfg.Remote.Kind {
	case "", "s3", "http":
	default:
		return fmt.Errorf("config: remote.kind must be \"s3\", \"http\", or empty, got %q", cfg.Remote.Kind)
	}
	if cfg.Remote.Kind == "s3" && cfg.Remote.Bucket == "" {
		return fmt.Errorf("config: remote.bucket is required when remote.kind is \"s3\"")
	}
	if cfg.Remote.Kind == "http" && cfg.Remote.URL == "" {
		return fmt.Errorf("config: remote.url is required when remote.kind is \"http\"")
	}
	return nil
}
