// Package config implements C9: flag/env/file config loading for both
// driftfs binaries, mirroring the teacher's cfg package (cobra + pflag +
// viper + mapstructure) scaled down to this system's handful of settings.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment variable overrides, e.g.
// DRIFTFS_CACHE_STRATEGY, DRIFTFS_LOG_LEVEL.
const envPrefix = "DRIFTFS"

// ClientConfig is driftfs-mount's config, per spec.md §6's CLI table.
type ClientConfig struct {
	MountPoint       string `mapstructure:"mount-point"`
	ServerURL        string `mapstructure:"server-url"`
	CacheStrategy    string `mapstructure:"cache-strategy"`
	CacheTTLSeconds  uint64 `mapstructure:"cache-ttl-seconds"`
	CacheLRUCapacity uint64 `mapstructure:"cache-lru-capacity"`
	LogLevel         string `mapstructure:"log-level"`
	LogFormat        string `mapstructure:"log-format"`
}

// ServerConfig is driftfs-serve's config.
type ServerConfig struct {
	Root      string `mapstructure:"root"`
	Listen    string `mapstructure:"listen"`
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// BindClientFlags registers driftfs-mount's flags on fs and returns the
// viper instance they are bound into, mirroring the teacher's
// cfg.BindFlags (one viper per flag set, merged with any config file at
// load time).
func BindClientFlags(fs *pflag.FlagSet) (*viper.Viper, error) {
	fs.String("server-url", "http://127.0.0.1:8080", "driftfs server base URL")
	fs.String("cache-strategy", "ttl", "attribute cache strategy: ttl or lru")
	fs.Uint64("cache-ttl-seconds", 2, "attribute cache TTL in seconds (cache-strategy=ttl)")
	fs.Uint64("cache-lru-capacity", 1024, "attribute cache entry capacity (cache-strategy=lru)")
	fs.String("log-level", "INFO", "log level: DEBUG, INFO, WARNING, ERROR")
	fs.String("log-format", "text", "log format: text or json")
	return bind(fs)
}

// BindServerFlags registers driftfs-serve's flags.
func BindServerFlags(fs *pflag.FlagSet) (*viper.Viper, error) {
	fs.String("root", "./data", "directory served over HTTP")
	fs.String("listen", "127.0.0.1:8080", "HTTP listen address")
	fs.String("log-level", "INFO", "log level: DEBUG, INFO, WARNING, ERROR")
	fs.String("log-format", "text", "log format: text or json")
	return bind(fs)
}

func bind(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	return v, nil
}

// LoadConfigFile merges path (a driftfs.yaml document) into v, if path is
// non-empty. Values already set on the command line take precedence,
// since viper resolves flag > env > config file > default in that order
// once the config file is registered this way.
func LoadConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// DecodeClient unmarshals v into a ClientConfig.
func DecodeClient(v *viper.Viper) (ClientConfig, error) {
	var c ClientConfig
	if err := v.Unmarshal(&c, decodeHook()); err != nil {
		return c, fmt.Errorf("decoding client config: %w", err)
	}
	return c, nil
}

// DecodeServer unmarshals v into a ServerConfig.
func DecodeServer(v *viper.Viper) (ServerConfig, error) {
	var c ServerConfig
	if err := v.Unmarshal(&c, decodeHook()); err != nil {
		return c, fmt.Errorf("decoding server config: %w", err)
	}
	return c, nil
}

// Validate checks invariants BindClientFlags' defaults alone can't express
// (spec.md §6's CLI table: invalid arguments exit 2).
func (c ClientConfig) Validate() error {
	if c.MountPoint == "" {
		return fmt.Errorf("mount point is required")
	}
	switch c.CacheStrategy {
	case "ttl", "lru":
	default:
		return fmt.Errorf("invalid cache-strategy %q: must be ttl or lru", c.CacheStrategy)
	}
	return nil
}

// Validate checks ServerConfig invariants.
func (c ServerConfig) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	return nil
}
