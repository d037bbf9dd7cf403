package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/davidahmann/wpcd/internal/api"
	"github.com/davidahmann/wpcd/internal/auth"
	"github.com/davidahmann/wpcd/internal/bundle"
	"github.com/davidahmann/wpcd/internal/codec"
	"github.com/davidahmann/wpcd/internal/config"
	"github.com/davidahmann/wpcd/internal/content"
	"github.com/davidahmann/wpcd/internal/exporter"
	"github.com/davidahmann/wpcd/internal/logging"
	"github.com/davidahmann/wpcd/internal/refresh"
	"github.com/davidahmann/wpcd/internal/settings"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFn(1)
	}
}

var exitFn = os.Exit

func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	root := newRootCommand(getenv, stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(getenv func(string) string, stdout, stderr io.Writer) *cobra.Command {
	var configPath string

	load := func() (*app, error) {
		cfg, err := config.Load(configPath, getenv)
		if err != nil {
			return nil, err
		}
		logger, err := logging.New(cfg.Log.Format, cfg.Log.Level, stderr)
		if err != nil {
			return nil, err
		}
		return newApp(cfg, logger)
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bundle API and the export root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", a.server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", a.server.Addr, err)
			}
			return a.serve(cmd.Context(), ln)
		},
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild every plugin archive once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			report, err := a.orchestrator.RefreshAll(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d of %d archives failed", len(report.Failed), report.Requested)
			}
			return nil
		},
	}

	root := &cobra.Command{
		Use:           "wpcd-gateway",
		Short:         "Content packaging gateway for remote site deployments",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $WPCD_CONFIG)")
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(serveCmd, refreshCmd)
	return root
}

type app struct {
	cfg          config.Config
	logger       *slog.Logger
	server       *http.Server
	orchestrator *refresh.Orchestrator
	scheduler    *refresh.Scheduler
	trigger      *refresh.Trigger
}

// newApp wires every component. It fails when the export root cannot be
// provisioned, so a misconfigured host never starts serving dangling URLs.
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	exports := exporter.NewProvisioner(osfs.New(cfg.Paths.UploadsDir), cfg.Paths.ExportDirName)
	if _, err := exports.Ensure(); err != nil {
		return nil, fmt.Errorf("export root unavailable: %w", err)
	}
	exportURL := cfg.ResolvedExportURL()

	level := exporter.DefaultCompressionLevel
	if cfg.Archive.CompressionLevel != nil {
		level = *cfg.Archive.CompressionLevel
	}
	builder := exporter.NewBuilder(osfs.New(cfg.Paths.PluginDir), exports, exportURL,
		exporter.WithCompressionLevel(level),
		exporter.WithLogger(logger),
	)

	store := content.NewMemoryStore()
	if cfg.Paths.ContentPath != "" {
		loaded, err := content.LoadFile(cfg.Paths.ContentPath)
		if err != nil {
			return nil, err
		}
		store = loaded
	} else {
		logger.Warn("no content snapshot configured, serving an empty catalog")
	}

	repo := settings.NewFileRepository(
		osfs.New(filepath.Dir(cfg.Paths.SettingsPath)),
		filepath.Base(cfg.Paths.SettingsPath),
	)
	mgr := settings.NewManager(repo, logger)

	orchestrator := refresh.NewOrchestrator(mgr, store, builder, logger)
	trigger := refresh.NewTrigger(orchestrator, logger)
	if cfg.Refresh.OnSettingsChange {
		mgr.OnChange(trigger.SettingsChanged)
	}

	optionCodec, err := codec.Lookup(cfg.Bundle.OptionCodec)
	if err != nil {
		return nil, err
	}

	h := &api.Handler{
		Auth:    newAuthenticator(cfg.Auth),
		Catalog: bundle.NewCatalog(store),
		Bundles: bundle.NewAggregator(store, exportURL,
			bundle.WithCodec(optionCodec),
			bundle.WithEntryLimit(cfg.Bundle.EntryLimit),
			bundle.WithLogger(logger),
		),
		Defaults:    bundle.NewDefaultsProvider(mgr, exportURL, logger),
		Refresh:     orchestrator,
		Settings:    mgr,
		Namespace:   cfg.Namespace,
		Exports:     exporter.NewFileServer(exports),
		ExportsPath: cfg.ExportsPath,
		Logger:      logger,
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		// No write timeout: a manual refresh holds its request open until the
		// whole cycle finishes.
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.NewRouter(h),
			ReadHeaderTimeout: 5 * time.Second,
		},
		orchestrator: orchestrator,
		scheduler:    refresh.NewScheduler(orchestrator, cfg.Refresh.Interval, cfg.Refresh.OnStart, logger),
		trigger:      trigger,
	}, nil
}

func newAuthenticator(cfg config.AuthConfig) *auth.MultiAuthenticator {
	a := &auth.MultiAuthenticator{DevToken: cfg.DevToken}
	if cfg.JWTSecret != "" {
		tokens := auth.NewTokenAuthenticator([]byte(cfg.JWTSecret))
		tokens.Issuer = cfg.Issuer
		a.Tokens = tokens
	}
	if len(cfg.Users) > 0 {
		a.Passwords = auth.NewPasswordAuthenticator(cfg.Users)
	}
	return a
}

// serve runs the HTTP server and the weekly schedule until ctx ends, then
// drains requests and waits for background refreshes.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		a.scheduler.Run(schedCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(ln)
	}()
	a.logger.Info("wpcd-gateway listening", "addr", ln.Addr().String(), "namespace", a.cfg.Namespace)

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	cancel()
	<-schedDone
	a.trigger.Wait()
	a.logger.Info("wpcd-gateway stopped")
	return serveErr
}
