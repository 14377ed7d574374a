package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// defaultConfigFile is where `config` creates a file when none was found.
var defaultConfigFile string

const defaultConfig = `# compress new cache files
compress: true
# compression codec: zstd or lz4
codec: "zstd"
# write cache files to a temp file and rename them into place
atomic_writes: true
# appended to the source path to name its cache file
suffix: ".worldcache"

# debug, info, warn or error
log_level: "info"
# log file (default: user cache dir)
# log_file: "~/.cache/worldcache/worldcache.log"

# placeholder analyzer
frame_period_ms: 5.0
f0_floor: 71.0

# parallel analyses for warm
workers: 4

# watch: minimum spacing between invalidation checks, and burst allowance
watch_interval: "250ms"
watch_burst: 8
watch_exts: [".wav"]
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the worldcache config file",
	Long:    paragraph(fmt.Sprintf("\n%s the worldcache config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("worldcache config\nworldcache config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	// The file may not parse yet; that's what the editor is for.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, err := ensureConfigFile(configFilePath())
		if err != nil {
			return err
		}

		c, err := editor.Cmd("worldcache", file)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Wrote config file to:", file)
		return nil
	},
}

func configFilePath() string {
	switch {
	case configFile != "":
		return configFile
	case viper.ConfigFileUsed() != "":
		return viper.ConfigFileUsed()
	default:
		return defaultConfigFile
	}
}

// ensureConfigFile writes the default config to file unless it exists, and
// returns the expanded path.
func ensureConfigFile(file string) (string, error) {
	if file == "" {
		return "", errors.New("no configuration path available")
	}
	file, err := homedir.Expand(file)
	if err != nil {
		return "", fmt.Errorf("unable to expand config path: %w", err)
	}

	if ext := path.Ext(file); ext != ".yaml" && ext != ".yml" {
		return "", fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
			return "", fmt.Errorf("unable create directory: %w", err)
		}

		if err := os.WriteFile(file, []byte(defaultConfig), 0o600); err != nil {
			return "", fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return "", fmt.Errorf("unable to stat config file: %w", err)
	}
	return file, nil
}
