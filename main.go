package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fileexchange/internal/config"
	"fileexchange/internal/console"
	"fileexchange/internal/logger"
	"fileexchange/internal/server"
	"fileexchange/internal/store"
)

type options struct {
	configFile   string
	port         int
	dir          string
	maxClients   int
	writeTimeout int
	logLevel     string
	logFile      string
	ui           bool
}

type runFunc func(ctx context.Context, cfg config.Config) error

func newRootCmd(run runFunc) *cobra.Command {
	opts := &options{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "fileexchange [port]",
		Short: "Multi-client file exchange and chat server",
		Long: `fileexchange shares one directory with every connected client.

Clients register an alias, upload and download files with /store and /get,
list the directory with /dir, and talk to each other with /chat and /chatuni.

The port may be given as the only argument, as with --port.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return errors.New("[USAGE]: fileexchange [port]")
			}
			return nil
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "Configuration file (JSON)")
	f.IntVar(&opts.port, "port", defaults.Port, "Port to listen on")
	f.StringVar(&opts.dir, "dir", defaults.Dir, "Shared directory")
	f.IntVar(&opts.maxClients, "max-clients", defaults.MaxClients, "Maximum connected clients, 0 for no limit")
	f.IntVar(&opts.writeTimeout, "write-timeout", defaults.WriteTimeoutSeconds, "Seconds a write to a client may block, 0 for no limit")
	f.StringVar(&opts.logLevel, "log-level", defaults.LogLevel, "Log level: debug, info, warn, error, none")
	f.StringVar(&opts.logFile, "log-file", defaults.LogPath, "Log file, empty for stderr")
	f.BoolVar(&opts.ui, "ui", false, "Run the operator console")
	return cmd
}

// resolveConfig layers the config file, then explicitly set flags, then the
// positional port.
func resolveConfig(cmd *cobra.Command, opts *options, args []string) (config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Port = opts.port
	}
	if f.Changed("dir") {
		cfg.Dir = opts.dir
	}
	if f.Changed("max-clients") {
		cfg.MaxClients = opts.maxClients
	}
	if f.Changed("write-timeout") {
		cfg.WriteTimeoutSeconds = opts.writeTimeout
	}
	if f.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if f.Changed("log-file") {
		cfg.LogPath = opts.logFile
	}
	if f.Changed("ui") {
		cfg.UI = opts.ui
	}

	if len(args) == 1 {
		port, err := config.ParsePort(args[0])
		if err != nil {
			return cfg, err
		}
		cfg.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	log, err := logger.Open(logger.ParseLevel(cfg.LogLevel), cfg.LogPath)
	if err != nil {
		return err
	}
	defer log.Close()

	dir, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("shared directory: %w", err)
	}

	srv := server.New(cfg, dir, log.WithPrefix("server"))
	if err := srv.Listen(); err != nil {
		return err
	}
	if !cfg.UI {
		fmt.Printf("Listening on the port %s\n", srv.Addr())
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ctx)
	})

	if cfg.UI {
		ui, err := console.New(srv, log.WithPrefix("console"), cfg.MaxClients)
		if err != nil {
			srv.Shutdown()
			g.Wait()
			return err
		}
		g.Go(func() error {
			defer srv.Shutdown()
			return ui.Run(ctx)
		})
	}

	return g.Wait()
}

// openStore opens the shared directory with the log file kept out of reach of
// clients.
func openStore(cfg config.Config) (*store.Dir, error) {
	if cfg.LogPath == "" {
		return store.Open(cfg.Dir)
	}
	return store.Open(cfg.Dir, cfg.LogPath)
}

func main() {
	if err := newRootCmd(run).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
