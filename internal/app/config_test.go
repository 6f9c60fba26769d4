package app

import (
	"os"
	"testing"
	"time"

	"torrentplay/internal/domain"
)

var configEnvVars = []string{
	"HTTP_ADDR", "MONGO_URI", "MONGO_DB", "MONGO_COLLECTION", "MONGO_HISTORY_COLLECTION",
	"LOG_LEVEL", "LOG_FORMAT", "TORRENT_DATA_DIR", "CORS_ALLOWED_ORIGINS", "SEED_TRACKERS",
	"HTTP_RATE_LIMIT_RPS", "HTTP_RATE_LIMIT_BURST", "STATE_SYNC_INTERVAL", "TORRENT_ADD_TIMEOUT",
	"PLAYER_SETUP_TIMEOUT", "PLAYER_PRIORITY_WINDOW", "PLAYER_PRIORITY_CEILING",
	"PLAYER_PRIORITY_INTERVAL", "PLAYER_HEALTH_INTERVAL", "PLAYER_SETTLE_DELAY",
	"PLAYER_STATS_INTERVAL", "PLAYER_MAX_APPEND_RETRIES", "PLAYER_STALE_APPEND_AFTER",
	"PLAYER_MAX_QUEUED_CHUNKS", "PLAYER_CHUNK_SIZE", "PLAYER_MATERIALIZE_POLL", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_TRACE_SAMPLE_RATE",
}

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"MongoURI", cfg.MongoURI, "mongodb://localhost:27017"},
		{"MongoDatabase", cfg.MongoDatabase, "torrentplay"},
		{"MongoCollection", cfg.MongoCollection, "torrents"},
		{"MongoHistoryCollection", cfg.MongoHistoryCollection, "watch_history"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"TorrentDataDir", cfg.TorrentDataDir, "data"},
		{"HTTPRateLimitRPS", cfg.HTTPRateLimitRPS, 100},
		{"HTTPRateLimitBurst", cfg.HTTPRateLimitBurst, 200},
		{"StateSyncInterval", cfg.StateSyncInterval, 10 * time.Second},
		{"TorrentAddTimeout", cfg.TorrentAddTimeout, 10 * time.Second},
		{"PlayerSetupTimeout", cfg.PlayerSetupTimeout, 10 * time.Second},
		{"PlayerPriorityWindow", cfg.PlayerPriorityWindow, 10},
		{"PlayerPriorityCeiling", cfg.PlayerPriorityCeiling, 5},
		{"PlayerPriorityInterval", cfg.PlayerPriorityInterval, 5 * time.Second},
		{"PlayerHealthInterval", cfg.PlayerHealthInterval, 500 * time.Millisecond},
		{"PlayerSettleDelay", cfg.PlayerSettleDelay, 300 * time.Millisecond},
		{"PlayerStatsInterval", cfg.PlayerStatsInterval, time.Second},
		{"PlayerMaxAppendRetries", cfg.PlayerMaxAppendRetries, 5},
		{"PlayerStaleAppendAfter", cfg.PlayerStaleAppendAfter, 5 * time.Second},
		{"PlayerMaxQueuedChunks", cfg.PlayerMaxQueuedChunks, 32},
		{"PlayerChunkSize", cfg.PlayerChunkSize, int64(64 << 10)},
		{"PlayerMaterializePoll", cfg.PlayerMaterializePoll, time.Second},
		{"OTLPEndpoint", cfg.OTLPEndpoint, ""},
		{"TraceSampleRate", cfg.TraceSampleRate, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("CORSAllowedOrigins: got %v, want nil/empty", cfg.CORSAllowedOrigins)
	}
	if len(cfg.SeedTrackers) != 3 || cfg.SeedTrackers[0] != "wss://tracker.openwebtorrent.com" {
		t.Errorf("SeedTrackers: got %v", cfg.SeedTrackers)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearConfigEnv(t)
	setEnvs(t, map[string]string{
		"HTTP_ADDR":                 ":9090",
		"MONGO_URI":                 "mongodb://remote:27017",
		"MONGO_DB":                  "mydb",
		"LOG_LEVEL":                 "DEBUG",
		"LOG_FORMAT":                "JSON",
		"TORRENT_DATA_DIR":          "/mnt/data",
		"CORS_ALLOWED_ORIGINS":      "http://localhost:3000, https://example.com",
		"STATE_SYNC_INTERVAL":       "30s",
		"PLAYER_PRIORITY_WINDOW":    "16",
		"PLAYER_PRIORITY_CEILING":   "4",
		"PLAYER_HEALTH_INTERVAL":    "250ms",
		"PLAYER_MAX_APPEND_RETRIES": "8",
		"PLAYER_CHUNK_SIZE":         "1MB",
		"SEED_TRACKERS":             "udp://tracker.example:6969,",
	})

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":9090"},
		{"MongoURI", cfg.MongoURI, "mongodb://remote:27017"},
		{"MongoDatabase", cfg.MongoDatabase, "mydb"},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"LogFormat", cfg.LogFormat, "json"},
		{"TorrentDataDir", cfg.TorrentDataDir, "/mnt/data"},
		{"StateSyncInterval", cfg.StateSyncInterval, 30 * time.Second},
		{"PlayerPriorityWindow", cfg.PlayerPriorityWindow, 16},
		{"PlayerPriorityCeiling", cfg.PlayerPriorityCeiling, 4},
		{"PlayerHealthInterval", cfg.PlayerHealthInterval, 250 * time.Millisecond},
		{"PlayerMaxAppendRetries", cfg.PlayerMaxAppendRetries, 8},
		{"PlayerChunkSize", cfg.PlayerChunkSize, int64(1 << 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	wantOrigins := []string{"http://localhost:3000", "https://example.com"}
	if len(cfg.CORSAllowedOrigins) != len(wantOrigins) {
		t.Fatalf("CORSAllowedOrigins: got %d entries, want %d", len(cfg.CORSAllowedOrigins), len(wantOrigins))
	}
	for i, got := range cfg.CORSAllowedOrigins {
		if got != wantOrigins[i] {
			t.Errorf("CORSAllowedOrigins[%d]: got %q, want %q", i, got, wantOrigins[i])
		}
	}
	if len(cfg.SeedTrackers) != 1 || cfg.SeedTrackers[0] != "udp://tracker.example:6969" {
		t.Errorf("SeedTrackers: got %v", cfg.SeedTrackers)
	}
}

func TestConfigPlayback(t *testing.T) {
	clearConfigEnv(t)
	setEnvs(t, map[string]string{
		"PLAYER_PRIORITY_WINDOW":    "12",
		"PLAYER_SETTLE_DELAY":       "1s",
		"PLAYER_STALE_APPEND_AFTER": "9s",
		"PLAYER_MAX_QUEUED_CHUNKS":  "4",
	})

	pc := LoadConfig().Playback()
	if pc.Scheduler.Window != 12 || pc.Scheduler.Ceiling != domain.PriorityCeiling {
		t.Fatalf("unexpected scheduler config %+v", pc.Scheduler)
	}
	if pc.Appender.SettleDelay != time.Second || pc.Appender.StaleAppendAfter != 9*time.Second || pc.Appender.MaxAppendRetries != 5 || pc.Appender.MaxQueuedChunks != 4 {
		t.Fatalf("unexpected appender config %+v", pc.Appender)
	}
	if pc.PriorityInterval != 5*time.Second || pc.HealthInterval != 500*time.Millisecond {
		t.Fatalf("unexpected intervals %+v", pc)
	}
}

func TestGetEnvInt64InvalidFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		envVal   string
		fallback int64
		want     int64
	}{
		{"empty string", "", 42, 42},
		{"not a number", "abc", 42, 42},
		{"negative number", "-5", 42, 42},
		{"zero", "0", 42, 0},
		{"valid positive", "100", 42, 100},
		{"whitespace around number", "  50  ", 42, 50},
		{"float", "3.14", 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_VAR", tt.envVal)
			got := getEnvInt64("TEST_INT_VAR", tt.fallback)
			if got != tt.want {
				t.Errorf("getEnvInt64(%q, %d) = %d, want %d", tt.envVal, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name   string
		envVal string
		want   time.Duration
	}{
		{"empty string", "", time.Minute},
		{"valid", "1500ms", 1500 * time.Millisecond},
		{"bare number", "15", time.Minute},
		{"negative", "-1s", time.Minute},
		{"zero", "0s", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION_VAR", tt.envVal)
			if got := getEnvDuration("TEST_DURATION_VAR", time.Minute); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", tt.envVal, got, tt.want)
			}
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name   string
		envVal string
		want   float64
	}{
		{"empty string", "", 0.1},
		{"valid", "0.5", 0.5},
		{"above one", "2", 0.1},
		{"garbage", "half", 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_FLOAT_VAR", tt.envVal)
			if got := getEnvFloat("TEST_FLOAT_VAR", 0.1); got != tt.want {
				t.Errorf("getEnvFloat(%q) = %v, want %v", tt.envVal, got, tt.want)
			}
		})
	}
}

func TestGetEnvSize(t *testing.T) {
	tests := []struct {
		name   string
		envVal string
		want   int64
	}{
		{"empty string", "", 64 << 10},
		{"kilobytes", "128KB", 128 << 10},
		{"megabytes", "2MB", 2 << 20},
		{"garbage", "lots", 64 << 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_SIZE_VAR", tt.envVal)
			if got := getEnvSize("TEST_SIZE_VAR", 64<<10); got != tt.want {
				t.Errorf("getEnvSize(%q) = %d, want %d", tt.envVal, got, tt.want)
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty string", "", nil},
		{"whitespace only", "   ", nil},
		{"single value", "http://localhost:3000", []string{"http://localhost:3000"}},
		{"multiple values", "a,b,c", []string{"a", "b", "c"}},
		{"values with spaces", " a , b , c ", []string{"a", "b", "c"}},
		{"trailing comma", "a,b,", []string{"a", "b"}},
		{"empty entries filtered", "a,,b,,c", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCSV(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("parseCSV(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseCSV(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGetEnvFallback(t *testing.T) {
	t.Setenv("TEST_EXISTING", "hello")
	if got := getEnv("TEST_EXISTING", "default"); got != "hello" {
		t.Errorf("getEnv(existing) = %q, want %q", got, "hello")
	}
	if got := getEnv("TEST_MISSING_XYZ", "default"); got != "default" {
		t.Errorf("getEnv(missing) = %q, want %q", got, "default")
	}
}
