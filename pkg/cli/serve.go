package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kothbackend/kothd/pkg/admin"
	"github.com/kothbackend/kothd/pkg/config"
	"github.com/kothbackend/kothd/pkg/logging"
	"github.com/kothbackend/kothd/pkg/metrics"
	"github.com/kothbackend/kothd/pkg/proxy"
	"github.com/kothbackend/kothd/pkg/requestlog"
)

type serveFlags struct {
	configFile string
	addr       string
	upstream   string
	capacity   int
	logLevel   string
	logFormat  string
}

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the instrumented front in the foreground",
	Long: `Run the HTTP front. Every request outside the excluded prefixes is
recorded, then handed to the upstream game backend (or answered with a 404
when no upstream is configured). The viewer API is served under the admin
prefix (default /logs).`,
	Example: `  # Defaults: listen on :8000, no upstream
  kothd serve

  # Front an upstream backend with a bigger history
  kothd serve --upstream http://localhost:5000 --capacity 5000

  # Use a configuration file
  kothd serve --config kothd.yaml --log-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveServeConfig(cmd, &serveFlagVals, os.LookupEnv)
		if err != nil {
			return err
		}

		log, closer, err := logging.NewWithFile(cfg.LoggingConfig(), cfg.Log.File)
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()

		ln, err := net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServer(ctx, cfg, log, ln)
	},
}

func initServeCmd() {
	rootCmd.AddCommand(serveCmd)
	bindServeFlags(serveCmd, &serveFlagVals)
}

func bindServeFlags(cmd *cobra.Command, f *serveFlags) {
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address (default :8000)")
	cmd.Flags().StringVar(&f.upstream, "upstream", "", "Upstream game backend URL")
	cmd.Flags().IntVar(&f.capacity, "capacity", 0, "Maximum request log entries (default 1000)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")
}

// resolveServeConfig layers file, environment and explicitly set flags,
// then validates the result.
func resolveServeConfig(cmd *cobra.Command, f *serveFlags, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if flags.Changed("upstream") {
		cfg.Server.Upstream = f.upstream
	}
	if flags.Changed("capacity") {
		cfg.Traffic.Capacity = f.capacity
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// server is the assembled front: shared store and broadcaster, the
// capturing middleware around the backend, and the viewer API.
type server struct {
	store   *requestlog.Store
	hub     *requestlog.Broadcaster
	api     *admin.API
	handler http.Handler
}

func newServer(cfg *config.Config, log *slog.Logger) (*server, error) {
	registry := metrics.Init()

	store := requestlog.NewStore(cfg.Traffic.Capacity)
	hub := requestlog.NewBroadcaster(cfg.Traffic.SubscriberBuffer)

	var backend http.Handler = proxy.NotFound()
	if cfg.Server.Upstream != "" {
		p, err := proxy.New(cfg.Server.Upstream, proxy.Options{
			Transport: proxy.DefaultTransport(),
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		backend = p
	}

	api := admin.NewAPI(store, hub,
		admin.WithPrefix(cfg.Admin.Prefix),
		admin.WithKeepalive(cfg.Admin.KeepaliveInterval),
		admin.WithWriteTimeout(cfg.Admin.StreamWriteTimeout),
		admin.WithMetrics(registry),
		admin.WithLogger(log),
	)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("/", backend)

	opts := cfg.MiddlewareOptions()
	opts.Logger = log
	if !cfg.ViewerExcluded() {
		log.Warn("admin prefix is not excluded from capture; viewer traffic will be recorded", "prefix", cfg.Admin.Prefix)
	}

	return &server{
		store:   store,
		hub:     hub,
		api:     api,
		handler: requestlog.NewMiddleware(mux, store, hub, opts),
	}, nil
}

// runServer serves on ln until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, cfg *config.Config, log *slog.Logger, ln net.Listener) error {
	srv, err := newServer(cfg, log)
	if err != nil {
		_ = ln.Close()
		return err
	}

	httpServer := &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}
	httpServer.RegisterOnShutdown(srv.api.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", ln.Addr().String(), "upstream", cfg.Server.Upstream, "viewer", cfg.Admin.Prefix, "capacity", cfg.Traffic.Capacity)
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	delivered, dropped := srv.hub.Stats()
	log.Info("server stopped", "entries", srv.store.Len(), "delivered", delivered, "dropped_subscribers", dropped)
	return err
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
