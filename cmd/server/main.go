package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "torrentplay/internal/api/http"
	"torrentplay/internal/app"
	"torrentplay/internal/metrics"
	mongorepo "torrentplay/internal/repository/mongo"
	"torrentplay/internal/services/playback"
	"torrentplay/internal/services/torrent/engine/anacrolix"
	"torrentplay/internal/telemetry"
	"torrentplay/internal/usecase"
)

const serviceName = "torrentplay"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.String("chunkSize", humanize.IBytes(uint64(cfg.PlayerChunkSize))),
		slog.Int("priorityWindow", cfg.PlayerPriorityWindow),
		slog.Int("priorityCeiling", cfg.PlayerPriorityCeiling),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo := mongorepo.NewRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
	historyRepo := mongorepo.NewWatchHistoryRepository(mongoClient, cfg.MongoDatabase, cfg.MongoHistoryCollection)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	if err := historyRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("watch history ensure indexes failed", slog.String("error", err.Error()))
	}

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:         cfg.TorrentDataDir,
		AddTimeout:      cfg.TorrentAddTimeout,
		ChunkSize:       cfg.PlayerChunkSize,
		MaterializePoll: cfg.PlayerMaterializePoll,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Restore saved torrents in the background so HTTP starts immediately.
	go func() {
		restoreUC := usecase.RestoreTorrents{Engine: engine, Repo: repo, Logger: logger}
		restored, err := restoreUC.Execute(rootCtx)
		if err != nil {
			logger.Warn("restore failed", slog.String("error", err.Error()))
			return
		}
		if restored > 0 {
			logger.Info("torrents restored", slog.Int("count", restored))
		}
	}()

	hub := apihttp.NewEventHub(logger)
	manager := playback.NewManager(cfg.Playback(), hub, historyRepo, logger)

	syncUC := usecase.SyncState{
		Engine:   engine,
		Repo:     repo,
		Logger:   logger,
		Interval: cfg.StateSyncInterval,
		OnStates: hub.BroadcastStates,
	}
	go syncUC.Run(rootCtx)

	addUC := usecase.AddTorrent{Engine: engine, Repo: repo, Now: time.Now}
	seedUC := usecase.SeedFiles{Engine: engine, Repo: repo, Trackers: cfg.SeedTrackers, Now: time.Now, Logger: logger}
	listUC := usecase.ListTorrents{Engine: engine}
	getUC := usecase.GetTorrent{Engine: engine}
	removeUC := usecase.RemoveTorrent{Engine: engine, Repo: repo, Player: manager, Logger: logger}
	playUC := usecase.PlayFile{Engine: engine, Repo: repo, Player: manager, SetupTimeout: cfg.PlayerSetupTimeout}
	streamUC := usecase.StreamFile{Engine: engine, Repo: repo, ReadaheadBytes: 2 << 20, SetupTimeout: cfg.PlayerSetupTimeout}
	downloadUC := usecase.DownloadFile{Engine: engine, Repo: repo, SetupTimeout: cfg.PlayerSetupTimeout}

	handler := apihttp.NewServer(addUC,
		apihttp.WithLogger(logger),
		apihttp.WithEventHub(hub),
		apihttp.WithSeedFiles(seedUC),
		apihttp.WithListTorrents(listUC),
		apihttp.WithGetTorrent(getUC),
		apihttp.WithRemoveTorrent(removeUC),
		apihttp.WithPlayFile(playUC),
		apihttp.WithStreamFile(streamUC),
		apihttp.WithDownloadFile(downloadUC),
		apihttp.WithPlayback(manager),
		apihttp.WithWatchHistory(historyRepo),
		apihttp.WithUploadDir(cfg.TorrentDataDir),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	manager.Shutdown(shutdownCtx)
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
