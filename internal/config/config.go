package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the audit coordinator.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP bind settings. BindAddr is the host; PortCandidates are tried
	// in order until one binds.
	BindAddr       string
	PortCandidates []int

	// Storage
	DBPath string

	// Screenshot encoding
	BlobMaxDimension int
	BlobJPEGQuality  int

	// Behavior
	EvalTimeoutMS int
	TabURLFilter  string
	NotifyURL     string
	LaunchBrowser bool

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("AUDITD_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("AUDITD_CDP_PORT", 9222),
		BindAddr:         getEnvOrDefault("AUDITD_BIND_ADDR", "127.0.0.1"),
		PortCandidates:   getEnvIntsOrDefault("AUDITD_PORT_CANDIDATES", []int{8787, 8788, 8789}),
		DBPath:           getEnvOrDefault("AUDITD_DB_PATH", "./audit.db"),
		BlobMaxDimension: getEnvIntOrDefault("AUDITD_BLOB_MAX_DIMENSION", 1600),
		BlobJPEGQuality:  getEnvIntOrDefault("AUDITD_BLOB_JPEG_QUALITY", 80),
		EvalTimeoutMS:    getEnvIntOrDefault("AUDITD_EVAL_TIMEOUT_MS", 5000),
		TabURLFilter:     getEnvOrDefault("AUDITD_TAB_URL_FILTER", ""),
		NotifyURL:        getEnvOrDefault("AUDITD_NOTIFY_URL", ""),
		LaunchBrowser:    getEnvBoolOrDefault("AUDITD_LAUNCH_BROWSER", false),
		LogLevel:         strings.ToLower(getEnvOrDefault("AUDITD_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("AUDITD_LOG_FILE", "logs/audit_coordinator.log"),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.BlobJPEGQuality < 1 || cfg.BlobJPEGQuality > 100 {
		cfg.BlobJPEGQuality = 80
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvIntsOrDefault parses a comma-separated list of ints. Malformed
// entries invalidate the whole value.
func getEnvIntsOrDefault(key string, defaultVal []int) []int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			slog.Warn("invalid port candidate list", "key", key, "value", val)
			return defaultVal
		}
		out = append(out, i)
	}
	return out
}
