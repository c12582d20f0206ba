package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the daemon's runtime configuration, loaded once at startup.
type Config struct {
	ListenAddr     string
	CredsPath      string
	SampleInterval time.Duration
	HistoryMax     int
	TrackedMax     int
	MaxClients     int
	OTLPEndpoint   string
	ServiceName    string
}

// Load reads config from the process environment. A .env file, if
// present, supplies only variables the environment does not already set;
// unset or invalid values fall back to built-in defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	return &Config{
		ListenAddr:     getEnv("RPM_LISTEN_ADDR", ":8080"),
		CredsPath:      getEnv("RPM_CREDS_PATH", "/etc/rpm/passwd"),
		SampleInterval: getEnvDuration("RPM_SAMPLE_INTERVAL_MS", time.Second),
		HistoryMax:     getEnvInt("RPM_HISTORY_MAX", 60),
		TrackedMax:     getEnvInt("RPM_TRACKED_MAX", 100),
		MaxClients:     getEnvInt("RPM_MAX_CLIENTS", 30),
		OTLPEndpoint:   getEnv("RPM_OTLP_ENDPOINT", ""),
		ServiceName:    getEnv("RPM_SERVICE_NAME", "qnx-rpm-server"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 1 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
