package main

import (
	"fmt"
	"os"

	"reddel/internal/config"
	"reddel/internal/logging"
	"reddel/internal/pipeline"
	"reddel/internal/plugin"
	"reddel/internal/provider"
	"reddel/internal/python"
	"reddel/internal/region"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE
	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reddel",
	Short: "reddel - Python refactoring server",
	Long: `reddel serves inspections and refactorings of Python source over JSON-RPC.

A client sends source text, optionally a region of it, and the name of an
operation. Operations that transform source return the full text with only
the selected region changed; formatting and comments elsewhere are kept.

Run without a subcommand to start the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.FindConfigFile(".")
		}
		c, err := config.Load(path)
		if err != nil {
			return err
		}
		if verbose {
			c.Logging.Level = "debug"
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger, err = logging.Initialize(c.Logging.Options())
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = c
		logger.Debug("configuration loaded", zap.String("path", path))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the reddel version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), provider.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: nearest reddel.yaml)")

	addServeFlags(rootCmd)
	addServeFlags(serveCmd)
	addCallFlags(callCmd)
	addListFlags(listCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRegistry builds the provider chain: core, python, the configured
// providers, then the scripts already in the plugin directory. Configured
// providers that fail to load are logged and skipped.
func newRegistry(c *config.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry(pipeline.Options{
		Region:         region.Options{Strict: c.Pipeline.StrictRegions},
		MaxSourceBytes: c.Pipeline.MaxSourceBytes,
	})
	reg.RegisterFactory(provider.CoreName, provider.Core)
	reg.RegisterFactory(python.Name, python.New)
	reg.SetLoader(plugin.NewLoader(c.Plugins.AllowedImports, c.GetPluginTimeout()))

	for _, h := range []string{provider.CoreName, python.Name} {
		if _, err := reg.RegisterHandle(h); err != nil {
			return nil, fmt.Errorf("failed to register built-in provider %s: %w", h, err)
		}
	}
	for _, h := range c.Providers {
		if _, err := reg.RegisterHandle(h); err != nil {
			logger.Error("Unable to load provider, skipping", zap.String("handle", h), zap.Error(err))
		}
	}
	if c.Plugins.Dir != "" {
		n, err := plugin.LoadDir(c.Plugins.Dir, reg)
		if err != nil {
			logger.Error("Some plugin scripts failed to load", zap.String("dir", c.Plugins.Dir), zap.Error(err))
		}
		logger.Debug("plugin scripts loaded", zap.String("dir", c.Plugins.Dir), zap.Int("count", n))
	}
	logging.Boot("Registered %d providers", len(reg.Providers()))
	return reg, nil
}
