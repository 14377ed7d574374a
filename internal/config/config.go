// Package config loads worldcache settings from the config file, the
// environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/worldx-ucra/worldcache/internal/analysis"
	"github.com/worldx-ucra/worldcache/internal/cache"
	"github.com/worldx-ucra/worldcache/internal/format"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config contains all worldcache options.
type Config struct {
	// Cache file settings
	Compress     bool   `yaml:"compress" env:"WORLDCACHE_COMPRESS"`
	Codec        string `yaml:"codec" env:"WORLDCACHE_CODEC"`
	AtomicWrites bool   `yaml:"atomic_writes" env:"WORLDCACHE_ATOMIC_WRITES"`
	Suffix       string `yaml:"suffix" env:"WORLDCACHE_SUFFIX"`

	// Logging
	LogLevel string `yaml:"log_level" env:"WORLDCACHE_LOG_LEVEL"`
	LogFile  string `yaml:"log_file" env:"WORLDCACHE_LOG_FILE"`

	// Placeholder analyzer
	FramePeriodMs float64 `yaml:"frame_period_ms" env:"WORLDCACHE_FRAME_PERIOD_MS"`
	F0Floor       float64 `yaml:"f0_floor" env:"WORLDCACHE_F0_FLOOR"`

	// warm
	Workers int `yaml:"workers" env:"WORLDCACHE_WORKERS"`

	// watch
	WatchInterval time.Duration `yaml:"watch_interval" env:"WORLDCACHE_WATCH_INTERVAL"`
	WatchBurst    int           `yaml:"watch_burst" env:"WORLDCACHE_WATCH_BURST"`
	WatchExts     []string      `yaml:"watch_exts" env:"WORLDCACHE_WATCH_EXTS" envSeparator:","`
}

// DefaultConfig returns a Config with the stock settings.
func DefaultConfig() Config {
	return Config{
		Compress:      true,
		Codec:         format.CodecZstd.String(),
		AtomicWrites:  true,
		Suffix:        cache.DefaultSuffix,
		LogLevel:      "info",
		FramePeriodMs: analysis.DefaultFramePeriodMs,
		F0Floor:       analysis.DefaultF0Floor,
		Workers:       4,
		WatchInterval: 250 * time.Millisecond,
		WatchBurst:    8,
		WatchExts:     []string{".wav"},
	}
}

// SetDefaults registers the defaults with v so they show up in config dumps
// and flag bindings.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("compress", d.Compress)
	v.SetDefault("codec", d.Codec)
	v.SetDefault("atomic_writes", d.AtomicWrites)
	v.SetDefault("suffix", d.Suffix)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("frame_period_ms", d.FramePeriodMs)
	v.SetDefault("f0_floor", d.F0Floor)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("watch_interval", d.WatchInterval.String())
	v.SetDefault("watch_burst", d.WatchBurst)
	v.SetDefault("watch_exts", d.WatchExts)
}

// Load builds a Config from the defaults, then v (config file and bound
// flags), then the WORLDCACHE_* environment, then any flag in flags that was
// set on the command line. Flag names must match config keys. Either
// argument may be nil. The result is validated.
func Load(v *viper.Viper, flags *pflag.FlagSet) (Config, error) {
	cfg := DefaultConfig()
	if v != nil {
		fromViper(v, &cfg, func(string) bool { return true })
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if v != nil && flags != nil {
		changed := make(map[string]bool)
		flags.Visit(func(f *pflag.Flag) { changed[f.Name] = true })
		fromViper(v, &cfg, func(key string) bool { return changed[key] })
	}

	if cfg.LogFile != "" {
		p, err := homedir.Expand(cfg.LogFile)
		if err != nil {
			return cfg, fmt.Errorf("expand log_file: %w", err)
		}
		cfg.LogFile = p
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// fromViper copies the keys accepted by want that v has a value for.
func fromViper(v *viper.Viper, cfg *Config, want func(key string) bool) {
	set := func(key string) bool { return want(key) && v.IsSet(key) }

	if set("compress") {
		cfg.Compress = v.GetBool("compress")
	}
	if set("codec") {
		cfg.Codec = v.GetString("codec")
	}
	if set("atomic_writes") {
		cfg.AtomicWrites = v.GetBool("atomic_writes")
	}
	if set("suffix") {
		cfg.Suffix = v.GetString("suffix")
	}
	if set("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
	if set("log_file") {
		cfg.LogFile = v.GetString("log_file")
	}
	if set("frame_period_ms") {
		cfg.FramePeriodMs = v.GetFloat64("frame_period_ms")
	}
	if set("f0_floor") {
		cfg.F0Floor = v.GetFloat64("f0_floor")
	}
	if set("workers") {
		cfg.Workers = v.GetInt("workers")
	}
	if set("watch_interval") {
		if d, err := time.ParseDuration(v.GetString("watch_interval")); err == nil {
			cfg.WatchInterval = d
		}
	}
	if set("watch_burst") {
		cfg.WatchBurst = v.GetInt("watch_burst")
	}
	if set("watch_exts") {
		cfg.WatchExts = v.GetStringSlice("watch_exts")
	}
}

// Validate checks the configuration and normalizes case-insensitive fields.
func (c *Config) Validate() error {
	codec, err := format.ParseCodec(strings.ToLower(c.Codec))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c.Codec = codec.String()

	if _, err := log.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	if c.Suffix == "" || strings.ContainsAny(c.Suffix, `/\`) {
		return fmt.Errorf("%w: suffix %q must be a non-empty file name suffix", ErrInvalid, c.Suffix)
	}
	if c.FramePeriodMs <= 0 {
		return fmt.Errorf("%w: frame_period_ms must be positive, got %g", ErrInvalid, c.FramePeriodMs)
	}
	if !(c.F0Floor >= analysis.MinF0Floor && c.F0Floor <= analysis.MaxF0Floor) {
		return fmt.Errorf("%w: f0_floor must be between %g and %g Hz, got %g",
			ErrInvalid, analysis.MinF0Floor, analysis.MaxF0Floor, c.F0Floor)
	}
	if c.Workers < 1 || c.Workers > 256 {
		return fmt.Errorf("%w: workers must be between 1 and 256, got %d", ErrInvalid, c.Workers)
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("%w: watch_interval must be positive, got %s", ErrInvalid, c.WatchInterval)
	}
	if c.WatchBurst < 1 {
		return fmt.Errorf("%w: watch_burst must be at least 1, got %d", ErrInvalid, c.WatchBurst)
	}

	for i, ext := range c.WatchExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.WatchExts[i] = ext
	}
	return nil
}

// Level returns the parsed log level. Call after Validate.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// CacheConfig converts c into the cache manager's configuration.
func (c Config) CacheConfig(logger *log.Logger) *cache.Config {
	cc := cache.DefaultConfig()
	cc.Compression = c.Compress
	if codec, err := format.ParseCodec(strings.ToLower(c.Codec)); err == nil {
		cc.Codec = codec
	}
	cc.AtomicWrites = c.AtomicWrites
	cc.Suffix = c.Suffix
	cc.Logger = logger
	return cc
}

// Analyzer returns the placeholder analyzer configured by c.
func (c Config) Analyzer() *analysis.Placeholder {
	p := analysis.NewPlaceholder()
	p.FramePeriodMs = c.FramePeriodMs
	p.F0Floor = c.F0Floor
	return p
}
