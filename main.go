// Package main provides the entry point for the worldcache CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/worldx-ucra/worldcache/internal/cache"
	"github.com/worldx-ucra/worldcache/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	verbose    bool

	cfg       config.Config
	logCloser = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "worldcache",
		Short: "Cache vocoder analysis next to your audio",
		Long: paragraph(
			fmt.Sprintf("\nAnalyze audio once, %s.\n\nResults are stored in a %s file beside each source and reused until the source changes.",
				keyword("reuse it forever"), keyword(cache.DefaultSuffix)),
		),
		SilenceUsage:      true,
		TraverseChildren:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return loadConfig(cmd.Flags()) },
	}
)

// loadConfig reads the config file named by --config, if any, and builds cfg.
// Flags set on the command line take precedence over the environment.
func loadConfig(flags *pflag.FlagSet) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	var err error
	cfg, err = config.Load(viper.GetViper(), flags)
	if err != nil {
		return err
	}

	closer, err := setupLog(cfg.LogFile, cfg.Level(), verbose)
	if err != nil {
		return err
	}
	logCloser = closer
	log.Debug("configuration loaded", "file", viper.ConfigFileUsed(), "codec", cfg.Codec, "compress", cfg.Compress)
	return nil
}

// newManager builds a cache manager from cfg using the placeholder analyzer.
func newManager() (*cache.Manager, error) {
	return cache.NewManager(cfg.Analyzer(), cfg.CacheConfig(log.Default()))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logCloser()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().Bool("compress", true, "compress new cache files")
	rootCmd.PersistentFlags().String("codec", "zstd", "compression codec for new cache files (zstd, lz4)")

	// Config bindings
	_ = viper.BindPFlag("compress", rootCmd.PersistentFlags().Lookup("compress"))
	_ = viper.BindPFlag("codec", rootCmd.PersistentFlags().Lookup("codec"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(getCmd, invalidateCmd, inspectCmd, warmCmd, watchCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "worldcache")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "worldcache")}, dirs...)
	}

	if c := os.Getenv("WORLDCACHE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("worldcache")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("worldcache")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	if len(dirs) > 0 {
		defaultConfigFile = filepath.Join(dirs[0], "worldcache.yml")
	}
}
