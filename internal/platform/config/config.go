package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// Config is the typed gateway configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	HLSOutputDir  string
	FFmpegBinary  string
	FFprobeBinary string

	ConnectionTimeout time.Duration
	// Reconnect settings are read and reported but sessions are not
	// reconnected automatically.
	MaxReconnectAttempts int
	ReconnectDelays      []time.Duration

	SegmentDuration int
	PlaylistSize    int
	CleanupInterval time.Duration
	SessionTimeout  time.Duration
	HWAccel         bool
	MaxSessions     int
	GracePeriod     time.Duration

	RateLimitConnect    int
	RateLimitDisconnect int
	CORSOrigins         []string
}

// FromEnv assembles Config from the environment, falling back to defaults.
func FromEnv() Config {
	delays := GetEnvIntList("RTSP_RECONNECT_DELAYS", []int{2, 4, 8})
	reconnectDelays := make([]time.Duration, len(delays))
	for i, d := range delays {
		reconnectDelays[i] = time.Duration(d) * time.Second
	}

	return Config{
		Port:      GetEnv("PORT", "8000"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		HLSOutputDir:  GetEnv("HLS_OUTPUT_DIR", "/tmp/hls_streams"),
		FFmpegBinary:  GetEnv("FFMPEG_BINARY", "ffmpeg"),
		FFprobeBinary: GetEnv("FFPROBE_BINARY", "ffprobe"),

		ConnectionTimeout:    GetEnvSeconds("RTSP_CONNECTION_TIMEOUT", 10*time.Second),
		MaxReconnectAttempts: GetEnvInt("RTSP_MAX_RECONNECT_ATTEMPTS", 3),
		ReconnectDelays:      reconnectDelays,

		SegmentDuration: GetEnvInt("HLS_SEGMENT_DURATION", 2),
		PlaylistSize:    GetEnvInt("HLS_PLAYLIST_SIZE", 5),
		CleanupInterval: GetEnvSeconds("HLS_CLEANUP_INTERVAL", time.Hour),
		SessionTimeout:  GetEnvSeconds("SESSION_TIMEOUT", time.Hour),
		HWAccel:         GetEnvBool("FFMPEG_HWACCEL", true),
		MaxSessions:     GetEnvInt("MAX_CONCURRENT_CONNECTIONS", 1),
		GracePeriod:     GetEnvSeconds("TRANSCODER_GRACE_PERIOD", 5*time.Second),

		RateLimitConnect:    GetEnvInt("RATE_LIMIT_CONNECT", 10),
		RateLimitDisconnect: GetEnvInt("RATE_LIMIT_DISCONNECT", 20),
		CORSOrigins:         GetEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "https://timelapser.local"}),
	}
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvBool accepts the forms strconv.ParseBool does.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvSeconds reads a whole number of seconds. Non-positive values fall
// back.
func GetEnvSeconds(key string, fallback time.Duration) time.Duration {
	if n := GetEnvInt(key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// GetEnvList splits a comma-separated variable, dropping empty items.
func GetEnvList(key string, fallback []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// GetEnvIntList is GetEnvList for integers. Any malformed item makes the
// whole value fall back.
func GetEnvIntList(key string, fallback []int) []int {
	items := GetEnvList(key, nil)
	if items == nil {
		return fallback
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(item)
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	return out
}
