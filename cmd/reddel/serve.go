package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"reddel/internal/plugin"
	"reddel/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	serveAddress   string
	servePort      int
	serveProviders []string
	serveStdio     bool
	serveDebug     bool
	servePluginDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON-RPC server (default command)",
	Long: `Starts the JSON-RPC 2.0 server.

Over TCP the bound host:port is printed on stdout before serving, so a client
that spawned the server can connect. With --stdio requests are read from stdin
and answered on stdout.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serveAddress, "address", "localhost", "Address to bind the server to")
	cmd.Flags().IntVar(&servePort, "port", 0, "Port to bind the server to (0 picks a free port)")
	cmd.Flags().StringArrayVarP(&serveProviders, "provider", "p", nil, "Provider factory name or script path (repeatable)")
	cmd.Flags().BoolVar(&serveStdio, "stdio", false, "Serve a single client over stdin/stdout")
	cmd.Flags().BoolVar(&serveDebug, "debug", false, "Include stack traces in error responses")
	cmd.Flags().StringVar(&servePluginDir, "plugin-dir", "", "Directory of script providers to load and watch")
}

// applyServeFlags copies explicitly set flags over the loaded config.
func applyServeFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Server.Address = serveAddress
	}
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("stdio") {
		cfg.Server.Stdio = serveStdio
	}
	if flags.Changed("debug") {
		cfg.Server.Debug = serveDebug
	}
	if flags.Changed("plugin-dir") {
		cfg.Plugins.Dir = servePluginDir
	}
	cfg.Providers = append(cfg.Providers, serveProviders...)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if cfg.Server.Stdio && cfg.Logging.Output == "stdout" {
		return fmt.Errorf("logging to stdout is not possible in stdio mode")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := applyServeFlags(cmd); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	srv := server.New(reg, server.Options{Debug: cfg.Server.Debug})

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Server.Stdio {
		g.Go(func() error {
			// the client hanging up ends the server
			defer stop()
			return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
		})
	} else {
		ln, err := server.Listen(cfg.Server.Address, cfg.Server.Port)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ln.Addr().String())
		logger.Info("Server listening", zap.String("addr", ln.Addr().String()))
		g.Go(func() error {
			return srv.Serve(ctx, ln)
		})
	}

	if cfg.Plugins.Dir != "" && cfg.Plugins.Watch {
		w, err := plugin.NewWatcher(cfg.Plugins.Dir, reg, cfg.GetPluginDebounce())
		if err != nil {
			logger.Error("Plugin watcher unavailable", zap.Error(err))
		} else {
			g.Go(func() error {
				return w.Run(ctx)
			})
		}
	}

	err = g.Wait()
	logger.Info("Server shutdown")
	return err
}
