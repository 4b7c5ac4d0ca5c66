package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xtxerr/kepsync/internal/errors"
	"github.com/xtxerr/kepsync/internal/loader"
	"github.com/xtxerr/kepsync/internal/logging"
)

var (
	// Global flags
	cfgFile     string
	serverURL   string
	sourcePath  string
	logLevel    string
	logJSON     bool
	askPassword bool

	// Set during PersistentPreRunE
	cfg *loader.Config
)

var rootCmd = &cobra.Command{
	Use:   "kepsync",
	Short: "Reconcile a Kepware server configuration with a source project",
	Long: `kepsync reads a project (channels, devices, tag groups and tags) from a
YAML, JSON or JSONC file and makes the configuration of a Kepware server
match it through the configuration REST API. Only differences are written:
missing entities are inserted, changed ones updated and surplus ones deleted.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}

		logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)

		if askPassword {
			password, err := readPassword(cfg.Server.Username)
			if err != nil {
				return err
			}
			cfg.Server.Password = password
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "kepsync.yaml", "config file path")
	flags.StringVar(&serverURL, "server", "", "server URL (overrides config)")
	flags.StringVar(&sourcePath, "source", "", "source project file (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.BoolVar(&logJSON, "log-json", false, "log in JSON format")
	flags.BoolVar(&askPassword, "ask-password", false, "prompt for the server password")

	rootCmd.AddCommand(newSyncCmd(), newDiffCmd(), newWatchCmd(), newCheckCmd())
}

// loadConfig loads the config file and applies flag overrides. A missing
// file is only accepted when --config was not given explicitly.
func loadConfig(cmd *cobra.Command) (*loader.Config, error) {
	c, err := loader.Load(cfgFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, fmt.Errorf("load config: %w", err)
		}
		c = loader.DefaultConfig()
	}

	if serverURL != "" {
		c.Server.URL = serverURL
	}
	if sourcePath != "" {
		c.Source.Path = sourcePath
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logJSON {
		c.Logging.JSON = true
	}
	if c.Server.Password == "" {
		c.Server.Password = os.Getenv("KEPSYNC_PASSWORD")
	}
	return c, nil
}
