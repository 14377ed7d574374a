package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldx-ucra/worldcache/internal/analysis"
	"github.com/worldx-ucra/worldcache/internal/format"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Compress)
	assert.Equal(t, "zstd", cfg.Codec)
	assert.True(t, cfg.AtomicWrites)
	assert.Equal(t, ".worldcache", cfg.Suffix)
	assert.Equal(t, log.InfoLevel, cfg.Level())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{name: "valid config", modify: func(*Config) {}},
		{name: "upper-case codec", modify: func(c *Config) { c.Codec = "LZ4" }},
		{name: "empty codec means zstd", modify: func(c *Config) { c.Codec = "" }},
		{
			name:    "unknown codec",
			modify:  func(c *Config) { c.Codec = "brotli" },
			wantErr: true,
			errMsg:  "unknown codec",
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: true,
			errMsg:  "log_level",
		},
		{
			name:    "empty suffix",
			modify:  func(c *Config) { c.Suffix = "" },
			wantErr: true,
			errMsg:  "suffix",
		},
		{
			name:    "suffix with separator",
			modify:  func(c *Config) { c.Suffix = "/x" },
			wantErr: true,
			errMsg:  "suffix",
		},
		{
			name:    "zero frame period",
			modify:  func(c *Config) { c.FramePeriodMs = 0 },
			wantErr: true,
			errMsg:  "frame_period_ms",
		},
		{
			name:    "negative f0 floor",
			modify:  func(c *Config) { c.F0Floor = -1 },
			wantErr: true,
			errMsg:  "f0_floor",
		},
		{
			name:    "f0 floor above the lowest sample rate",
			modify:  func(c *Config) { c.F0Floor = 1e6 },
			wantErr: true,
			errMsg:  "f0_floor",
		},
		{
			name:    "f0 floor too low",
			modify:  func(c *Config) { c.F0Floor = analysis.MinF0Floor / 2 },
			wantErr: true,
			errMsg:  "f0_floor",
		},
		{name: "f0 floor at upper bound", modify: func(c *Config) { c.F0Floor = analysis.MaxF0Floor }},
		{
			name:    "no workers",
			modify:  func(c *Config) { c.Workers = 0 },
			wantErr: true,
			errMsg:  "workers",
		},
		{
			name:    "zero watch interval",
			modify:  func(c *Config) { c.WatchInterval = 0 },
			wantErr: true,
			errMsg:  "watch_interval",
		},
		{
			name:    "zero watch burst",
			modify:  func(c *Config) { c.WatchBurst = 0 },
			wantErr: true,
			errMsg:  "watch_burst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalid)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Codec = "LZ4"
	cfg.LogLevel = "DEBUG"
	cfg.WatchExts = []string{"WAV", " .Aiff "}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "lz4", cfg.Codec)
	assert.Equal(t, log.DebugLevel, cfg.Level())
	assert.Equal(t, []string{".wav", ".aiff"}, cfg.WatchExts)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worldcache.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
compress: false
codec: lz4
log_level: debug
workers: 9
watch_interval: 2s
watch_exts: [wav, flac]
`), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v, nil)
	require.NoError(t, err)

	assert.False(t, cfg.Compress)
	assert.Equal(t, "lz4", cfg.Codec)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.WatchInterval)
	assert.Equal(t, []string{".wav", ".flac"}, cfg.WatchExts)
	assert.True(t, cfg.AtomicWrites, "unset keys keep defaults")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("WORLDCACHE_COMPRESS", "false")
	t.Setenv("WORLDCACHE_CODEC", "lz4")
	t.Setenv("WORLDCACHE_LOG_LEVEL", "warn")

	v := viper.New()
	v.Set("codec", "zstd")
	v.Set("log_level", "debug")

	cfg, err := Load(v, nil)
	require.NoError(t, err)
	assert.False(t, cfg.Compress)
	assert.Equal(t, "lz4", cfg.Codec)
	assert.Equal(t, log.WarnLevel, cfg.Level())
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("WORLDCACHE_CODEC", "zstd")
	t.Setenv("WORLDCACHE_COMPRESS", "false")

	flags := pflag.NewFlagSet("worldcache", pflag.ContinueOnError)
	flags.Bool("compress", true, "")
	flags.String("codec", "zstd", "")
	require.NoError(t, flags.Parse([]string{"--codec", "lz4"}))

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("worldcache")
	v.AutomaticEnv()
	require.NoError(t, v.BindPFlag("compress", flags.Lookup("compress")))
	require.NoError(t, v.BindPFlag("codec", flags.Lookup("codec")))

	cfg, err := Load(v, flags)
	require.NoError(t, err)
	assert.Equal(t, "lz4", cfg.Codec, "explicit flag wins over the environment")
	assert.False(t, cfg.Compress, "environment wins over an unset flag's default")
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("WORLDCACHE_CODEC", "snappy")
	_, err := Load(nil, nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadExpandsLogFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	t.Setenv("WORLDCACHE_LOG_FILE", "~/logs/worldcache.log")

	cfg, err := Load(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs", "worldcache.log"), cfg.LogFile)
}

func TestCacheConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Compress = false
	cfg.Codec = "lz4"
	cfg.Suffix = ".wc"
	logger := log.New(os.Stderr)

	cc := cfg.CacheConfig(logger)
	assert.False(t, cc.Compression)
	assert.Equal(t, format.CodecLZ4, cc.Codec)
	assert.Equal(t, ".wc", cc.Suffix)
	assert.True(t, cc.AtomicWrites)
	assert.Same(t, logger, cc.Logger)

	a := cfg.Analyzer()
	assert.Equal(t, cfg.FramePeriodMs, a.FramePeriodMs)
	assert.Equal(t, cfg.F0Floor, a.F0Floor)
}
