package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamview/video-listener/internal/config"
	"github.com/streamview/video-listener/internal/metrics"
	"github.com/streamview/video-listener/internal/server"
	"github.com/streamview/video-listener/internal/stream"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "video-listener"
	serviceVersion    = "1.0.0"
)

var (
	showVersion bool
	configPath  string
	bindAddr    string
	port        int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "version of video-listener")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&bindAddr, "bind_addr", "b", "", "override the configured bind address")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "override the configured listen port")
}

var rootCmd = &cobra.Command{
	Use:   "listener",
	Short: "listener receives a video frame stream over TCP and serves it to a local display",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("%s %s\n", serviceName, serviceVersion)
			return nil
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}

		run(cfg)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: the config file when
// present (required when --config was given explicitly), built-in defaults
// otherwise, with flag overrides applied last.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config

	explicit := cmd.Flags().Changed("config")
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s not found", configPath)
	} else {
		cfg = config.Default()
	}

	if bindAddr != "" {
		cfg.Server.BindAddress = bindAddr
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config) {
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
	)
	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("port", cfg.Server.Port),
		slog.Int("read_timeout", cfg.Server.ReadTimeout),
		slog.Float64("fps_window", cfg.Stream.FPSWindow),
		slog.Float64("stale_timeout", cfg.Stream.StaleTimeout),
		slog.String("log_level", cfg.Logging.Level),
	)
	logger.Info("Local addresses",
		slog.String("addresses", strings.Join(server.LocalAddresses(), ", ")),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.New()

	// Frame hand-off queue and stream health tracker
	queue := stream.NewQueue()
	tracker := stream.NewTracker(cfg.Stream.GetFPSWindow(), cfg.Stream.GetStaleTimeout())

	// Frame server
	frameServer := server.New(&cfg.Server, logger, queue, tracker, appMetrics)
	if err := frameServer.Start(); err != nil {
		logger.Error("Failed to start frame server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, frameServer, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Publish stream health to metrics and log state transitions
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	go monitorStream(monitorCtx, logger, frameServer, appMetrics)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for producer",
		slog.String("address", frameServer.Addr()),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")
	monitorCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	// Stop the frame server (disconnects the producer, stops accepting)
	if err := frameServer.Stop(); err != nil {
		logger.Error("Error stopping frame server", slog.String("error", err.Error()))
	}

	stats := frameServer.Statistics()
	logger.Info("Final server statistics",
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("bytes_received", stats.BytesReceived),
		slog.Uint64("frames_dropped", stats.FramesDropped),
		slog.Uint64("malformed_headers", stats.MalformedHeaders),
		slog.Uint64("connections", stats.Connections),
		slog.Uint64("commands_sent", stats.CommandsSent),
	)

	logger.Info("Service stopped")
}

// monitorStream periodically publishes stream health gauges and logs
// active/idle transitions.
func monitorStream(ctx context.Context, logger *slog.Logger, frameServer *server.Server, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	wasActive := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := frameServer.Stats()
			m.PublishStreamHealth(stats.FPS, stats.LatencyMS/1000.0, stats.Active)

			if stats.Active && !wasActive {
				logger.Info("Stream active", slog.Float64("fps", stats.FPS))
			} else if !stats.Active && wasActive {
				logger.Info("Stream idle, waiting for frames")
			}
			wasActive = stats.Active
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
