package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath     string
	InputDir   string
	OutputDir  string
	TablesPath string

	TablesURL          string
	TablesToken        string
	TablesRateLimitRPS int
	TablesTimeoutMs    int

	Workers        int
	FileTimeoutSec int

	BandTolerance float64
	CellGap       float64
	HeaderFuzz    float64

	LogLevel  string
	LogFormat string

	MetricsFile string

	ListenerSchedule   string
	ListenerAutoExport bool
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "aala.db")),
		InputDir:   getEnv("INPUT_DIR", filepath.Join(cwd, "data", "reports")),
		OutputDir:  getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		TablesPath: getEnv("TABLES_PATH", ""),

		TablesURL:          getEnv("TABLES_URL", ""),
		TablesToken:        getEnv("TABLES_TOKEN", ""),
		TablesRateLimitRPS: getEnvInt("TABLES_RATE_LIMIT_RPS", 2),
		TablesTimeoutMs:    getEnvInt("TABLES_TIMEOUT_MS", 15000),

		Workers:        getEnvInt("WORKERS", runtime.NumCPU()),
		FileTimeoutSec: getEnvInt("FILE_TIMEOUT_SEC", 120),

		BandTolerance: getEnvFloat("BAND_TOLERANCE", 2.5),
		CellGap:       getEnvFloat("CELL_GAP", 6.0),
		HeaderFuzz:    getEnvFloat("HEADER_FUZZ", 0.2),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		MetricsFile: getEnv("METRICS_FILE", ""),

		ListenerSchedule:   getEnv("LISTENER_SCHEDULE", "@every 5m"),
		ListenerAutoExport: getEnvBool("LISTENER_AUTO_EXPORT", true),
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func (c Config) FileTimeout() time.Duration {
	if c.FileTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.FileTimeoutSec) * time.Second
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}
