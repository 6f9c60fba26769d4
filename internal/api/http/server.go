package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
	"torrentplay/internal/services/playback"
	"torrentplay/internal/usecase"
)

type AddTorrentUseCase interface {
	Execute(ctx context.Context, input usecase.AddTorrentInput) (domain.TorrentState, error)
}

type SeedFilesUseCase interface {
	Execute(ctx context.Context, input usecase.SeedFilesInput) (domain.SeedResult, error)
}

type ListTorrentsUseCase interface {
	Execute(ctx context.Context) ([]domain.TorrentState, error)
}

type GetTorrentUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error)
}

type RemoveTorrentUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID) error
}

type PlayFileUseCase interface {
	Execute(ctx context.Context, input usecase.PlayFileInput) (usecase.PlayResult, error)
}

type StreamFileUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID, fileIndex int) (usecase.StreamResult, error)
}

type DownloadFileUseCase interface {
	Execute(ctx context.Context, id domain.TorrentID, fileIndex int) (domain.MaterializedHandle, error)
}

// PlaybackController exposes the running session. *playback.Manager
// implements it.
type PlaybackController interface {
	Current() (*playback.Session, bool)
	Stop(outcome domain.PlaybackOutcome) bool
}

const (
	defaultRateLimitRPS   = 100
	defaultRateLimitBurst = 200
)

type Server struct {
	addTorrent     AddTorrentUseCase
	seedFiles      SeedFilesUseCase
	listTorrents   ListTorrentsUseCase
	getTorrent     GetTorrentUseCase
	removeTorrent  RemoveTorrentUseCase
	playFile       PlayFileUseCase
	streamFile     StreamFileUseCase
	downloadFile   DownloadFileUseCase
	playback       PlaybackController
	watchHistory   ports.WatchHistoryStore
	uploadDir      string
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	hub            *EventHub
	players        *playerRegistry
	sources        *sourceRegistry
}

type ServerOption func(*Server)

func WithSeedFiles(uc SeedFilesUseCase) ServerOption {
	return func(s *Server) { s.seedFiles = uc }
}

func WithListTorrents(uc ListTorrentsUseCase) ServerOption {
	return func(s *Server) { s.listTorrents = uc }
}

func WithGetTorrent(uc GetTorrentUseCase) ServerOption {
	return func(s *Server) { s.getTorrent = uc }
}

func WithRemoveTorrent(uc RemoveTorrentUseCase) ServerOption {
	return func(s *Server) { s.removeTorrent = uc }
}

func WithPlayFile(uc PlayFileUseCase) ServerOption {
	return func(s *Server) { s.playFile = uc }
}

func WithStreamFile(uc StreamFileUseCase) ServerOption {
	return func(s *Server) { s.streamFile = uc }
}

func WithDownloadFile(uc DownloadFileUseCase) ServerOption {
	return func(s *Server) { s.downloadFile = uc }
}

func WithPlayback(ctrl PlaybackController) ServerOption {
	return func(s *Server) { s.playback = ctrl }
}

func WithWatchHistory(store ports.WatchHistoryStore) ServerOption {
	return func(s *Server) { s.watchHistory = store }
}

// WithUploadDir sets where uploaded .torrent files are kept.
func WithUploadDir(dir string) ServerOption {
	return func(s *Server) { s.uploadDir = dir }
}

func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

func WithRateLimit(rps, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.rateRPS = float64(rps)
		}
		if burst > 0 {
			s.rateBurst = burst
		}
	}
}

// WithEventHub shares a hub created before the server, typically because the
// playback manager reports into it.
func WithEventHub(hub *EventHub) ServerOption {
	return func(s *Server) { s.hub = hub }
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(add AddTorrentUseCase, opts ...ServerOption) *Server {
	s := &Server{
		addTorrent: add,
		rateRPS:    defaultRateLimitRPS,
		rateBurst:  defaultRateLimitBurst,
		players:    newPlayerRegistry(),
		sources:    newSourceRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.hub == nil {
		s.hub = NewEventHub(s.logger)
	}
	go s.hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/torrents", s.handleTorrents)
	mux.HandleFunc("/torrents/seed", s.handleSeed)
	mux.HandleFunc("/torrents/", s.handleTorrentByID)
	mux.HandleFunc("/player", s.handlePlayer)
	mux.HandleFunc("/player/stop", s.handlePlayerStop)
	mux.HandleFunc("/players", s.handlePlayers)
	mux.HandleFunc("/sources/", s.handleSource)
	mux.HandleFunc("/watch-history", s.handleWatchHistory)
	mux.HandleFunc("/watch-history/", s.handleWatchHistoryByID)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/ws/player", s.handlePlayerWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "torrentplay",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && !strings.HasPrefix(p, "/ws")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Reporter is where playback sessions send their events.
func (s *Server) Reporter() ports.EventReporter {
	return s.hub
}

// BroadcastStates pushes the torrent list to every /ws client.
func (s *Server) BroadcastStates(states []domain.TorrentState) {
	s.hub.BroadcastStates(states)
}

// Close disconnects every player and event client.
func (s *Server) Close() {
	s.players.closeAll()
	s.hub.Close()
}

type healthResponse struct {
	Status  string `json:"status"`
	Players int    `json:"players"`
	Session string `json:"session,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Players: len(s.players.ids())}
	if s.playback != nil {
		if session, ok := s.playback.Current(); ok {
			resp.Session = session.ID()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
