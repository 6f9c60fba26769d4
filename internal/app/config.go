package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"

	"torrentplay/internal/domain"
	"torrentplay/internal/services/playback"
)

type Config struct {
	HTTPAddr               string
	MongoURI               string
	MongoDatabase          string
	MongoCollection        string
	MongoHistoryCollection string
	LogLevel               string
	LogFormat              string
	TorrentDataDir         string
	CORSAllowedOrigins     []string
	SeedTrackers           []string // announce list for torrents created from uploads
	HTTPRateLimitRPS       int
	HTTPRateLimitBurst     int
	StateSyncInterval      time.Duration
	TorrentAddTimeout      time.Duration
	PlayerSetupTimeout     time.Duration // wait for torrent metadata before play
	PlayerPriorityWindow   int
	PlayerPriorityCeiling  int
	PlayerPriorityInterval time.Duration
	PlayerHealthInterval   time.Duration
	PlayerSettleDelay      time.Duration
	PlayerStatsInterval    time.Duration
	PlayerMaxAppendRetries int
	PlayerStaleAppendAfter time.Duration
	PlayerMaxQueuedChunks  int
	PlayerChunkSize        int64
	PlayerMaterializePoll  time.Duration
	OTLPEndpoint           string
	TraceSampleRate        float64
}

// defaultSeedTrackers are WebSocket trackers so browser peers can join.
var defaultSeedTrackers = []string{
	"wss://tracker.openwebtorrent.com",
	"wss://tracker.btorrent.xyz",
	"wss://tracker.fastcast.nz",
}

// LoadConfig reads the environment. Values from an optional .env file in the
// working directory fill in variables that are not already set.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		MongoURI:               getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:          getEnv("MONGO_DB", "torrentplay"),
		MongoCollection:        getEnv("MONGO_COLLECTION", "torrents"),
		MongoHistoryCollection: getEnv("MONGO_HISTORY_COLLECTION", "watch_history"),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:              strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TorrentDataDir:         getEnv("TORRENT_DATA_DIR", "data"),
		CORSAllowedOrigins:     parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		SeedTrackers:           getEnvCSV("SEED_TRACKERS", defaultSeedTrackers),
		HTTPRateLimitRPS:       int(getEnvInt64("HTTP_RATE_LIMIT_RPS", 100)),
		HTTPRateLimitBurst:     int(getEnvInt64("HTTP_RATE_LIMIT_BURST", 200)),
		StateSyncInterval:      getEnvDuration("STATE_SYNC_INTERVAL", 10*time.Second),
		TorrentAddTimeout:      getEnvDuration("TORRENT_ADD_TIMEOUT", 10*time.Second),
		PlayerSetupTimeout:     getEnvDuration("PLAYER_SETUP_TIMEOUT", 10*time.Second),
		PlayerPriorityWindow:   int(getEnvInt64("PLAYER_PRIORITY_WINDOW", 10)),
		PlayerPriorityCeiling:  int(getEnvInt64("PLAYER_PRIORITY_CEILING", int64(domain.PriorityCeiling))),
		PlayerPriorityInterval: getEnvDuration("PLAYER_PRIORITY_INTERVAL", 5*time.Second),
		PlayerHealthInterval:   getEnvDuration("PLAYER_HEALTH_INTERVAL", 500*time.Millisecond),
		PlayerSettleDelay:      getEnvDuration("PLAYER_SETTLE_DELAY", 300*time.Millisecond),
		PlayerStatsInterval:    getEnvDuration("PLAYER_STATS_INTERVAL", time.Second),
		PlayerMaxAppendRetries: int(getEnvInt64("PLAYER_MAX_APPEND_RETRIES", 5)),
		PlayerStaleAppendAfter: getEnvDuration("PLAYER_STALE_APPEND_AFTER", 5*time.Second),
		PlayerMaxQueuedChunks:  int(getEnvInt64("PLAYER_MAX_QUEUED_CHUNKS", 32)),
		PlayerChunkSize:        getEnvSize("PLAYER_CHUNK_SIZE", 64*datasize.KB),
		PlayerMaterializePoll:  getEnvDuration("PLAYER_MATERIALIZE_POLL", time.Second),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRate:        getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

// Playback maps the player settings onto the session tunables.
func (c Config) Playback() playback.Config {
	cfg := playback.DefaultConfig()
	cfg.Scheduler = playback.SchedulerConfig{
		Window:  c.PlayerPriorityWindow,
		Ceiling: domain.Priority(c.PlayerPriorityCeiling),
	}
	cfg.Appender = playback.AppenderConfig{
		SettleDelay:      c.PlayerSettleDelay,
		MaxAppendRetries: c.PlayerMaxAppendRetries,
		StaleAppendAfter: c.PlayerStaleAppendAfter,
		MaxQueuedChunks:  c.PlayerMaxQueuedChunks,
	}
	cfg.PriorityInterval = c.PlayerPriorityInterval
	cfg.HealthInterval = c.PlayerHealthInterval
	cfg.StatsInterval = c.PlayerStatsInterval
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return fallback
	}
	return parsed
}

// getEnvSize accepts sizes like "64KB" or "1MB" as well as plain byte counts.
func getEnvSize(key string, fallback datasize.ByteSize) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return int64(fallback.Bytes())
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(value)); err != nil || size == 0 {
		return int64(fallback.Bytes())
	}
	return int64(size.Bytes())
}

func getEnvCSV(key string, fallback []string) []string {
	if v := parseCSV(os.Getenv(key)); len(v) > 0 {
		return v
	}
	return append([]string(nil), fallback...)
}

func parseCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
