package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yegors/squitter/internal/api"
	"github.com/yegors/squitter/internal/config"
	"github.com/yegors/squitter/internal/pipeline"
	"github.com/yegors/squitter/internal/simulation"
	"github.com/yegors/squitter/internal/source"
	"github.com/yegors/squitter/internal/storage/clickhouse"
	"github.com/yegors/squitter/internal/storage/natsbus"
	"github.com/yegors/squitter/internal/storage/postgres"
	"github.com/yegors/squitter/internal/storage/sqlite"
	"github.com/yegors/squitter/internal/sysmetrics"
	"github.com/yegors/squitter/internal/track"
	"github.com/yegors/squitter/internal/websocket"
	"github.com/yegors/squitter/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

type namedCloser struct {
	name  string
	close func() error
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting squitter",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("source", cfg.Source.Type),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open sinks
	sinks, sqliteStorage, closers, err := openSinks(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open storage", logger.Error(err))
		closeAll(closers, log)
		os.Exit(1)
	}

	// Create WebSocket server
	var wsServer *websocket.Server
	var broadcaster pipeline.WebSocketServer
	if cfg.Server.Enabled && cfg.Server.WebSocketUpdates {
		wsServer = websocket.NewServer(log)
		go wsServer.Run()
		broadcaster = wsServer
	}

	var station *pipeline.Station
	if cfg.HasStation() {
		station = &pipeline.Station{
			Latitude:      cfg.Station.Latitude,
			Longitude:     cfg.Station.Longitude,
			ElevationFeet: cfg.Station.ElevationFeet,
		}
	}

	exporter := pipeline.NewExporter(sinks, pipeline.ExporterConfig{
		Attempts:    cfg.Pipeline.ExportAttempts,
		Backoff:     cfg.Pipeline.RetryBackoff(),
		RegistryTTL: cfg.Pipeline.RegistryCacheTTL(),
	}, log)

	service := pipeline.NewService(pipeline.Config{
		Shards:          cfg.Pipeline.Shards,
		ShardQueueSize:  cfg.Pipeline.ShardQueueSize,
		ExportQueueSize: cfg.Pipeline.ExportQueueSize,
		Gate:            cfg.Pipeline.Gate(),
		TrackTTL:        cfg.Pipeline.TrackTTL(),
		JanitorInterval: cfg.Pipeline.JanitorInterval(),
		Station:         station,
	}, track.NewStore(), exporter, broadcaster, log)

	if wsServer != nil {
		wsServer.SetMessageHandler(pipeline.NewWebSocketHandler(service, log))
	}

	if err := service.Start(ctx); err != nil {
		log.Error("Failed to start pipeline", logger.Error(err))
		os.Exit(1)
	}

	// Sample process resources next to the stored tracks
	var recorder *sysmetrics.Recorder
	if sqliteStorage != nil && cfg.Storage.SQLite.MetricsIntervalSecs > 0 {
		recorder = sysmetrics.NewRecorder(sqliteStorage, time.Duration(cfg.Storage.SQLite.MetricsIntervalSecs)*time.Second, log)
		recorder.Start(ctx)
	}

	// Start the HTTP server
	var server *http.Server
	if cfg.Server.Enabled {
		var history api.HistoryStore
		if sqliteStorage != nil {
			history = sqliteStorage
		}
		handler := api.NewHandler(service, history, wsServer, recorder, Version, log)
		router := api.NewRouter(handler, time.Duration(cfg.Server.RequestTimeout)*time.Second, log)

		server = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router.Routes(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		go func() {
			log.Info("Starting HTTP server", logger.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server error", logger.String("addr", server.Addr), logger.Error(err))
			}
		}()
	}

	// Start the frame source
	src, err := newSource(cfg, os.Stdin, log)
	if err != nil {
		log.Error("Failed to create frame source", logger.Error(err))
		os.Exit(1)
	}
	sourceCtx, sourceCancel := context.WithCancel(ctx)
	sourceDone := make(chan error, 1)
	go func() {
		sourceDone <- src.Run(sourceCtx, service.Emit)
	}()

	// Wait for interrupt signal or the end of a finite source
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal", logger.String("signal", sig.String()))
		sourceCancel()
		if err := <-sourceDone; err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Frame source error", logger.Error(err))
		}
	case err := <-sourceDone:
		sourceCancel()
		if err != nil {
			log.Error("Frame source stopped with error", logger.String("source", src.Name()), logger.Error(err))
		} else {
			log.Info("Frame source finished", logger.String("source", src.Name()))
		}
	}

	log.Info("Shutting down...")

	log.Info("Stopping pipeline...")
	service.Stop()
	stats := service.GetStats()
	log.Info("Pipeline stopped",
		logger.Uint64("received", stats.Received),
		logger.Uint64("processed", stats.Processed),
		logger.Uint64("exported", stats.Exported),
		logger.Int("tracks", stats.Tracks))

	if server != nil {
		log.Info("Shutting down HTTP server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", logger.Error(err))
		}
		shutdownCancel()
	}
	if wsServer != nil {
		wsServer.Close()
	}
	if recorder != nil {
		recorder.Stop()
	}

	cancel()
	closeAll(closers, log)
	log.Info("Shutdown complete")
}

// openSinks opens every enabled sink. The SQLite store is returned separately
// because it also serves history queries and resource samples.
func openSinks(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]pipeline.Sink, *sqlite.TrackStorage, []namedCloser, error) {
	var (
		sinks   []pipeline.Sink
		closers []namedCloser
		sqlDB   *sqlite.TrackStorage
	)
	collectorKey := cfg.CollectorKey()

	if cfg.Storage.SQLite.Enabled {
		if err := os.MkdirAll(cfg.Storage.SQLite.BasePath, 0755); err != nil {
			return nil, nil, closers, fmt.Errorf("create database directory: %w", err)
		}
		dbPath := cfg.SQLitePath(time.Now())
		log.Info("Using daily database", logger.String("path", dbPath))

		s, err := sqlite.NewTrackStorage(dbPath, collectorKey, log)
		if err != nil {
			return nil, nil, closers, err
		}
		sqlDB = s
		sinks = append(sinks, s)
		closers = append(closers, namedCloser{"sqlite", s.Close})
	}

	if pc := cfg.Storage.Postgres; pc.Enabled {
		s, err := postgres.Open(ctx, postgres.Config{
			Host:         pc.Host,
			Port:         pc.Port,
			Database:     pc.Database,
			User:         pc.User,
			Password:     pc.Password,
			CollectorKey: collectorKey,
		}, log)
		if err != nil {
			return nil, nil, closers, err
		}
		sinks = append(sinks, s)
		closers = append(closers, namedCloser{"postgres", s.Close})
	}

	if cc := cfg.Storage.ClickHouse; cc.Enabled {
		s, err := clickhouse.Open(ctx, clickhouse.Config{
			Host:          cc.Host,
			Port:          cc.Port,
			Database:      cc.Database,
			User:          cc.User,
			Password:      cc.Password,
			CollectorKey:  collectorKey,
			BatchSize:     cc.BatchSize,
			FlushInterval: time.Duration(cc.FlushIntervalSecs) * time.Second,
		}, log)
		if err != nil {
			return nil, nil, closers, err
		}
		s.Start(ctx)
		sinks = append(sinks, s)
		closers = append(closers, namedCloser{"clickhouse", s.Close})
	}

	if nc := cfg.Storage.NATS; nc.Enabled {
		p, err := natsbus.Connect(natsbus.Config{URL: nc.URL, Subject: nc.Subject}, log)
		if err != nil {
			return nil, nil, closers, err
		}
		sinks = append(sinks, p)
		closers = append(closers, namedCloser{"nats", p.Close})
	}

	if len(sinks) == 0 {
		log.Warn("No storage sinks enabled, complete tracks are only logged")
	}
	return sinks, sqlDB, closers, nil
}

func newSource(cfg *config.Config, stdin io.Reader, log *logger.Logger) (source.Source, error) {
	switch cfg.Source.Type {
	case config.SourceStdin:
		return source.NewReaderSource("stdin", stdin, log), nil
	case config.SourceTCP:
		return source.NewTCPSource(cfg.Source.Address, cfg.Source.ReconnectInterval(), log), nil
	case config.SourceNATS:
		return source.NewNATSSource(cfg.Source.NATSURL, cfg.Source.NATSSubject, log), nil
	case config.SourceReplay:
		return simulation.NewReplay(cfg.Source.ReplayPath, cfg.Source.ReplaySpeed, log), nil
	default:
		return nil, fmt.Errorf("unknown source type: %s", cfg.Source.Type)
	}
}

func closeAll(closers []namedCloser, log *logger.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.close(); err != nil {
			log.Error("Failed to close sink", logger.String("sink", c.name), logger.Error(err))
		}
	}
}
