package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LogLevel          string
	LogFormat         string
	TorrentDataDir    string
	SessionConfigPath string // optional YAML file with session settings
	MetricsAddr       string // empty disables the metrics listener
	AlertPollInterval time.Duration
	AlertBuffer       int
	StatsInterval     time.Duration
	OTELEndpoint      string
	OTELSampleRate    string
}

func LoadConfig() Config {
	return Config{
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TorrentDataDir:    getEnv("TORRENT_DATA_DIR", "data"),
		SessionConfigPath: getEnv("TORRENT_SESSION_CONFIG", ""),
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),
		AlertPollInterval: time.Duration(getEnvInt64("ALERT_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		AlertBuffer:       int(getEnvInt64("ALERT_BUFFER", 64)),
		StatsInterval:     time.Duration(getEnvInt64("STATS_INTERVAL_SECONDS", 5)) * time.Second,
		OTELEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELSampleRate:    getEnv("OTEL_TRACES_SAMPLER_ARG", ""),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt64 falls back on empty, unparsable, or non-positive values.
func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed <= 0 {
		return fallback
	}
	return parsed
}
