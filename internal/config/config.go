// Package config loads settings for the tracker and the DHT proxy daemon.
//
// Sources are applied in increasing precedence: built-in defaults, an
// optional JSON file given with -config, environment variables named
// <PREFIX>_<KEY> and finally flags set on the command line.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dhtracker/internal/common"
	"dhtracker/internal/dht"
)

// Logging selects the logger built by Logger.
type Logging struct {
	LogLevel string `mapstructure:"log_level"`
	Dev      bool   `mapstructure:"dev"`
}

// Logger builds a zap logger: colored console output in dev mode, JSON
// otherwise.
func (l Logging) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", l.LogLevel, err)
	}

	var cfg zap.Config
	if l.Dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = level
	return cfg.Build()
}

// Config is the tracker's configuration.
type Config struct {
	Listen      []string      `mapstructure:"listen"`
	HTTP3Listen string        `mapstructure:"http3_listen"`
	PathPrefix  string        `mapstructure:"path_prefix"`
	Interval    time.Duration `mapstructure:"interval"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxPeers    int           `mapstructure:"max_peers"`
	PeerTTL     time.Duration `mapstructure:"peer_ttl"`
	MDNS        bool          `mapstructure:"mdns"`
	Instance    string        `mapstructure:"instance"`

	DHT     dht.Config `mapstructure:",squash"`
	Logging `mapstructure:",squash"`
}

func trackerDefaults() map[string]any {
	return map[string]any{
		"listen":       []string{fmt.Sprintf(":%d", common.DefaultTrackerPort)},
		"http3_listen": "",
		"path_prefix":  "",
		"interval":     "30m",
		"min_interval": "1m",
		"max_peers":    50,
		"peer_ttl":     "45m",
		"mdns":         false,
		"instance":     "dhtracker",
		"dht_backend":  dht.BackendMemory,
		"dht_address":  "",
		"dht_port":     0,
		"dht_timeout":  "10s",
		"dht_ttl":      "45m",
		"log_level":    "info",
		"dev":          false,
	}
}

// Load reads the tracker configuration. lookupEnv is normally os.LookupEnv.
func Load(args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	var cfg Config
	if err := load("dhtracker", "DHTRACKER", trackerDefaults(), args, lookupEnv, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate reports the first setting the tracker cannot run with.
func (c Config) Validate() error {
	if len(c.Listen) == 0 && c.HTTP3Listen == "" {
		return errors.New("at least one of listen or http3_listen is required")
	}
	if c.Interval <= 0 || c.MinInterval <= 0 {
		return errors.New("interval and min_interval must be positive")
	}
	if c.MinInterval > c.Interval {
		return fmt.Errorf("min_interval %v exceeds interval %v", c.MinInterval, c.Interval)
	}
	if c.MaxPeers <= 0 {
		return errors.New("max_peers must be positive")
	}
	if c.PeerTTL <= 0 {
		return errors.New("peer_ttl must be positive")
	}
	if c.PathPrefix != "" && !strings.HasPrefix(c.PathPrefix, "/") {
		return fmt.Errorf("path_prefix %q must start with /", c.PathPrefix)
	}
	if err := c.DHT.Validate(); err != nil {
		return err
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// ProxyConfig is the DHT proxy daemon's configuration.
type ProxyConfig struct {
	Listen      []string      `mapstructure:"listen"`
	HTTP3Listen string        `mapstructure:"http3_listen"`
	TTL         time.Duration `mapstructure:"dht_ttl"`
	MDNS        bool          `mapstructure:"mdns"`
	Instance    string        `mapstructure:"instance"`

	Logging `mapstructure:",squash"`
}

func proxyDefaults() map[string]any {
	return map[string]any{
		"listen":       []string{fmt.Sprintf(":%d", common.DefaultProxyPort)},
		"http3_listen": "",
		"dht_ttl":      "45m",
		"mdns":         false,
		"instance":     "dhtproxy",
		"log_level":    "info",
		"dev":          false,
	}
}

// LoadProxy reads the proxy daemon configuration.
func LoadProxy(args []string, lookupEnv func(string) (string, bool)) (ProxyConfig, error) {
	var cfg ProxyConfig
	if err := load("dhtproxy", "DHTPROXY", proxyDefaults(), args, lookupEnv, &cfg); err != nil {
		return cfg, err
	}
	if len(cfg.Listen) == 0 && cfg.HTTP3Listen == "" {
		return cfg, errors.New("at least one of listen or http3_listen is required")
	}
	if cfg.TTL < 0 {
		return cfg, errors.New("dht_ttl must not be negative")
	}
	if _, err := zap.ParseAtomicLevel(cfg.LogLevel); err != nil {
		return cfg, fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	return cfg, nil
}

func load(name, envPrefix string, defaults map[string]any, args []string, lookupEnv func(string) (string, bool), out any) error {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	file := fs.String("config", "", "path to a JSON configuration file")
	flags := make(map[string]*flagValue, len(keys))
	for _, k := range keys {
		_, isBool := defaults[k].(bool)
		flags[k] = &flagValue{isBool: isBool}
		fs.Var(flags[k], k, fmt.Sprintf("overrides %s_%s (default %v)", envPrefix, strings.ToUpper(k), defaults[k]))
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	merged := make(map[string]any, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}

	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		var fromFile map[string]any
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return fmt.Errorf("parse config file %s: %w", *file, err)
		}
		for k, v := range fromFile {
			merged[k] = v
		}
	}

	if lookupEnv != nil {
		for _, k := range keys {
			if v, ok := lookupEnv(envPrefix + "_" + strings.ToUpper(k)); ok {
				merged[k] = v
			}
		}
	}

	fs.Visit(func(f *flag.Flag) {
		if v, ok := flags[f.Name]; ok {
			merged[f.Name] = v.value
		}
	})

	return decode(merged, out)
}

// flagValue keeps the raw flag text; decoding happens with the other sources.
type flagValue struct {
	value  string
	isBool bool
}

func (f *flagValue) String() string { return f.value }
func (f *flagValue) Set(s string) error { f.value = s; return nil }
func (f *flagValue) IsBoolFlag() bool { return f.isBool }

func decode(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
