/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// defaultJWTSigningKey is only acceptable outside production.
const defaultJWTSigningKey = "hermod-insecure-dev-key"

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	BaseURL       string // Public base URL (e.g., http://192.168.10.40:8080)
	DBBackend     DatabaseBackend
	DBDSN         string
	MetricsBind   string
	JWTSigningKey string
	InstanceID    string
	DeviceName    string // Name reported by the device presence loop (default: pi-main)

	// Zone routing
	ZoneConfigPath  string
	FallbackDevice  int    // Sound card used when a zone name resolves nowhere
	FallbackChannel string // "" means full stereo on the fallback card

	// Media and TTS
	MediaRoot       string
	SystemSoundsDir string
	PiperBin        string
	PiperVoicesDir  string
	EspeakBin       string
	TTSWorkDir      string // "" means the OS temp dir

	// Playback toolchain
	PlayBin       string
	AmixerBin     string
	WorkerStagger time.Duration // Delay between starting per-device playback workers
	StopGrace     time.Duration // SIGTERM to SIGKILL window for playback processes

	// Liveness supervision
	HeartbeatTimeout     time.Duration // Session task with no heartbeat for this long is stale
	ZombieTimeout        time.Duration // Background task that never heartbeated is reaped after this
	DeviceOnlineInterval time.Duration

	// Scheduler loop
	SchedulerTick     time.Duration
	CleanupInterval   time.Duration
	LogRetention      time.Duration
	CleanupBatchLimit int

	AdminUsers        []string
	MaxUploadSizeMB   int // Optional global multipart upload limit override for audio uploads (MB)
	LogBufferCapacity int

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// State mirror (Redis)
	StateMirrorEnabled bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	// Event bus. Empty URL keeps events on the in-process bus.
	NATSURL string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"HERMOD_ENV", "PA_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"HERMOD_HTTP_BIND", "PA_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"HERMOD_HTTP_PORT", "PA_HTTP_PORT"}, 8080),
		BaseURL:       getEnvAny([]string{"HERMOD_BASE_URL", "PA_BASE_URL"}, ""),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"HERMOD_DB_BACKEND", "PA_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"HERMOD_DB_DSN", "PA_DB_DSN"}, "hermod_pa.db"),
		MetricsBind:   getEnvAny([]string{"HERMOD_METRICS_BIND", "PA_METRICS_BIND"}, "127.0.0.1:9000"),
		JWTSigningKey: getEnvAny([]string{"HERMOD_JWT_SIGNING_KEY", "PA_JWT_SIGNING_KEY"}, defaultJWTSigningKey),
		InstanceID:    getEnvAny([]string{"HERMOD_INSTANCE_ID", "PA_INSTANCE_ID"}, ""),
		DeviceName:    getEnvAny([]string{"HERMOD_DEVICE_NAME", "PA_DEVICE_NAME"}, "pi-main"),

		// Zone routing
		ZoneConfigPath:  getEnvAny([]string{"HERMOD_ZONE_CONFIG", "PA_ZONE_CONFIG"}, "./zone_config.json"),
		FallbackDevice:  getEnvIntAny([]string{"HERMOD_FALLBACK_DEVICE", "PA_FALLBACK_DEVICE"}, 2),
		FallbackChannel: getEnvAny([]string{"HERMOD_FALLBACK_CHANNEL", "PA_FALLBACK_CHANNEL"}, ""),

		// Media and TTS
		MediaRoot:       getEnvAny([]string{"HERMOD_MEDIA_ROOT", "PA_MEDIA_ROOT"}, "./media"),
		SystemSoundsDir: getEnvAny([]string{"HERMOD_SYSTEM_SOUNDS_DIR", "PA_SYSTEM_SOUNDS_DIR"}, "./system_sounds"),
		PiperBin:        getEnvAny([]string{"HERMOD_PIPER_BIN", "PA_PIPER_BIN"}, "piper"),
		PiperVoicesDir:  getEnvAny([]string{"HERMOD_PIPER_VOICES_DIR", "PA_PIPER_VOICES_DIR"}, "/usr/share/piper/voices"),
		EspeakBin:       getEnvAny([]string{"HERMOD_ESPEAK_BIN", "PA_ESPEAK_BIN"}, "espeak"),
		TTSWorkDir:      getEnvAny([]string{"HERMOD_TTS_WORK_DIR", "PA_TTS_WORK_DIR"}, ""),

		// Playback toolchain
		PlayBin:       getEnvAny([]string{"HERMOD_PLAY_BIN", "PA_PLAY_BIN"}, "play"),
		AmixerBin:     getEnvAny([]string{"HERMOD_AMIXER_BIN", "PA_AMIXER_BIN"}, "amixer"),
		WorkerStagger: time.Duration(getEnvIntAny([]string{"HERMOD_WORKER_STAGGER_MS", "PA_WORKER_STAGGER_MS"}, 50)) * time.Millisecond,
		StopGrace:     time.Duration(getEnvIntAny([]string{"HERMOD_STOP_GRACE_SECONDS", "PA_STOP_GRACE_SECONDS"}, 5)) * time.Second,

		// Liveness supervision
		HeartbeatTimeout:     time.Duration(getEnvIntAny([]string{"HERMOD_HEARTBEAT_TIMEOUT_SECONDS", "PA_HEARTBEAT_TIMEOUT_SECONDS"}, 15)) * time.Second,
		ZombieTimeout:        time.Duration(getEnvIntAny([]string{"HERMOD_ZOMBIE_TIMEOUT_SECONDS", "PA_ZOMBIE_TIMEOUT_SECONDS"}, 25)) * time.Second,
		DeviceOnlineInterval: time.Duration(getEnvIntAny([]string{"HERMOD_DEVICE_ONLINE_SECONDS", "PA_DEVICE_ONLINE_SECONDS"}, 30)) * time.Second,

		// Scheduler loop
		SchedulerTick:     time.Duration(getEnvIntAny([]string{"HERMOD_SCHEDULER_TICK_SECONDS", "PA_SCHEDULER_TICK_SECONDS"}, 1)) * time.Second,
		CleanupInterval:   time.Duration(getEnvIntAny([]string{"HERMOD_CLEANUP_INTERVAL_HOURS", "PA_CLEANUP_INTERVAL_HOURS"}, 24)) * time.Hour,
		LogRetention:      time.Duration(getEnvIntAny([]string{"HERMOD_LOG_RETENTION_DAYS", "PA_LOG_RETENTION_DAYS"}, 7)) * 24 * time.Hour,
		CleanupBatchLimit: getEnvIntAny([]string{"HERMOD_CLEANUP_BATCH_LIMIT", "PA_CLEANUP_BATCH_LIMIT"}, 100),

		AdminUsers:        splitCSV(getEnvAny([]string{"HERMOD_ADMIN_USERS", "PA_ADMIN_USERS"}, "admin")),
		MaxUploadSizeMB:   getEnvIntAny([]string{"HERMOD_MAX_UPLOAD_SIZE_MB", "PA_MAX_UPLOAD_SIZE_MB"}, 0),
		LogBufferCapacity: getEnvIntAny([]string{"HERMOD_LOG_BUFFER_CAPACITY", "PA_LOG_BUFFER_CAPACITY"}, 512),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"HERMOD_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"HERMOD_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"HERMOD_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"HERMOD_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"HERMOD_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"HERMOD_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"HERMOD_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"HERMOD_TRACING_ENABLED", "PA_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"HERMOD_OTLP_ENDPOINT", "PA_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"HERMOD_TRACING_SAMPLE_RATE", "PA_TRACING_SAMPLE_RATE"}, 1.0),

		// State mirror (Redis)
		StateMirrorEnabled: getEnvBoolAny([]string{"HERMOD_STATE_MIRROR_ENABLED", "PA_STATE_MIRROR_ENABLED"}, false),
		RedisAddr:          getEnvAny([]string{"HERMOD_REDIS_ADDR", "PA_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:      getEnvAny([]string{"HERMOD_REDIS_PASSWORD", "PA_REDIS_PASSWORD"}, ""),
		RedisDB:            getEnvIntAny([]string{"HERMOD_REDIS_DB", "PA_REDIS_DB"}, 0),

		// Event bus
		NATSURL: getEnvAny([]string{"HERMOD_NATS_URL", "PA_NATS_URL"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("HERMOD_DB_DSN or PA_DB_DSN must be provided")
	}

	if cfg.FallbackDevice < 0 {
		return nil, fmt.Errorf("HERMOD_FALLBACK_DEVICE must not be negative, got %d", cfg.FallbackDevice)
	}

	if cfg.ZombieTimeout <= cfg.HeartbeatTimeout {
		return nil, fmt.Errorf("HERMOD_ZOMBIE_TIMEOUT_SECONDS (%s) must exceed HERMOD_HEARTBEAT_TIMEOUT_SECONDS (%s)", cfg.ZombieTimeout, cfg.HeartbeatTimeout)
	}

	if cfg.CleanupBatchLimit <= 0 {
		return nil, fmt.Errorf("HERMOD_CLEANUP_BATCH_LIMIT must be positive, got %d", cfg.CleanupBatchLimit)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.JWTSigningKey == "" || strings.EqualFold(cfg.JWTSigningKey, defaultJWTSigningKey) {
			return nil, fmt.Errorf("HERMOD_JWT_SIGNING_KEY or PA_JWT_SIGNING_KEY must be set to a non-default value in production")
		}

		if cfg.StateMirrorEnabled && cfg.RedisAddr == "" {
			return nil, fmt.Errorf("HERMOD_REDIS_ADDR is required when the state mirror is enabled in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ZONE_CONFIG":         "use HERMOD_ZONE_CONFIG (or PA_ZONE_CONFIG)",
		"PIPER_PATH":          "use HERMOD_PIPER_BIN (or PA_PIPER_BIN)",
		"ADMIN_USERS":         "use HERMOD_ADMIN_USERS (or PA_ADMIN_USERS)",
		"JWT_SIGNING_KEY":     "use HERMOD_JWT_SIGNING_KEY (or PA_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":     "use HERMOD_TRACING_ENABLED (or PA_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use HERMOD_OTLP_ENDPOINT (or PA_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use HERMOD_TRACING_SAMPLE_RATE (or PA_TRACING_SAMPLE_RATE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
// A value of 0 means "not configured" and callers should use endpoint defaults.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// ChimePath returns the announcement intro chime location under the system sounds dir.
func (c *Config) ChimePath() string {
	return filepath.Join(c.SystemSoundsDir, "intro.mp3")
}

// IsAdmin reports whether name is in the configured administrator list.
// The comparison is case-insensitive.
func (c *Config) IsAdmin(name string) bool {
	if c == nil || name == "" {
		return false
	}
	for _, admin := range c.AdminUsers {
		if strings.EqualFold(admin, name) {
			return true
		}
	}
	return false
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
