package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/preroll/internal/config"
	"github.com/jmylchreest/preroll/internal/engine/httpmedia"
	internalhttp "github.com/jmylchreest/preroll/internal/http"
	"github.com/jmylchreest/preroll/internal/http/handlers"
	"github.com/jmylchreest/preroll/internal/httpclient"
	"github.com/jmylchreest/preroll/internal/prefetch"
	"github.com/jmylchreest/preroll/internal/urlutil"
	"github.com/jmylchreest/preroll/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the preroll server",
	Long: `Start the preroll HTTP server and API.

The server provides:
- REST API for starting, inspecting, and canceling prefetches
- /stream endpoint handing buffered media to a player
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8390, "Port to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// CLI flags beat everything else, but only when explicitly set.
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	logger := slog.Default()

	userAgent := cfg.Fetch.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	upstreamCfg := httpclient.StreamingConfig()
	upstreamCfg.RetryAttempts = cfg.Fetch.RetryAttempts
	upstreamCfg.RetryDelay = cfg.Fetch.RetryDelay
	upstreamCfg.UserAgent = userAgent
	upstreamCfg.Logger = logger
	upstream := httpclient.New(upstreamCfg)

	engine := httpmedia.New(httpmedia.Config{
		Client:          upstream,
		Logger:          logger,
		PlaylistTimeout: cfg.Fetch.Timeout,
	})

	cache := prefetch.New(prefetch.Config{
		Engine:               engine,
		Logger:               logger,
		PollInterval:         cfg.Prefetch.PollInterval.Duration(),
		DefaultMaxBytes:      cfg.Prefetch.DefaultMaxBytes.Bytes(),
		DefaultReadaheadSecs: cfg.Prefetch.DefaultReadahead.Seconds(),
	})
	cache.SetNotifier(func(url string, info *prefetch.Info) {
		logger.Info("prefetch status changed",
			slog.String("url", urlutil.Obfuscate(url)),
			slog.String("status", info.Status.String()),
			slog.Int64("forward_bytes", info.ForwardBytes),
			slog.Bool("fully_cached", info.FullyCached),
		)
	})

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithCache(cache).
		WithUpstreamClient(upstream)
	healthHandler.Register(server.API())

	prefetchHandler := handlers.NewPrefetchHandler(cache, logger)
	prefetchHandler.Register(server.API())

	streamHandler := handlers.NewStreamHandler(cache, logger)
	streamHandler.Register(server.Router())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting preroll server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(ctx)

	// Abort all in-flight downloads before exiting.
	cache.ClearAll()
	return err
}
