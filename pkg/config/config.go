// Package config loads dispatcher configuration from 12-factor environment
// variables, optionally overlaid by a YAML file named in DISPATCHER_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ledger backends.
const (
	LedgerSQL    = "sql"
	LedgerRedis  = "redis"
	LedgerFile   = "file"
	LedgerMemory = "memory"
)

// Config holds server configuration.
type Config struct {
	Port       string
	HealthPort string
	LogLevel   string
	LogFormat  string

	// DatabaseURL selects postgres. Empty runs SQLite under DataDir.
	DatabaseURL string
	DataDir     string

	LedgerBackend string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// VerifierRef is applied with Initialize at startup when set.
	VerifierRef             string
	AllowVerifierRotation   bool
	RequireUserVerification bool
	AllowedOrigins          []string
	VerifierTimeout         time.Duration
	ClockSkew               uint64

	AdminJWTSecret string
	RateLimitRPS   float64
	RateLimitBurst int

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool

	ArtifactStorageType string
	ArtifactS3Bucket    string
	ArtifactS3Region    string
	ArtifactS3Endpoint  string
	ArtifactS3Prefix    string
	ArtifactGCSBucket   string
	ArtifactGCSPrefix   string

	// ReceiptSigningKey is a hex Ed25519 seed. Empty loads or creates
	// DataDir/receipt.key.
	ReceiptSigningKey string

	// ConfigFile is the YAML overlay path, if any.
	ConfigFile string
	File       *File
}

// Load reads the environment. It never fails: malformed numbers fall back to
// their defaults. Call LoadFile and Apply for the YAML overlay.
func Load() *Config {
	return &Config{
		Port:       env("PORT", "8080"),
		HealthPort: env("HEALTH_PORT", "8081"),
		LogLevel:   strings.ToUpper(env("LOG_LEVEL", "INFO")),
		LogFormat:  strings.ToLower(env("LOG_FORMAT", "text")),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DataDir:     env("DATA_DIR", "data"),

		LedgerBackend: strings.ToLower(env("LEDGER_BACKEND", LedgerSQL)),
		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		VerifierRef:             os.Getenv("VERIFIER_REF"),
		AllowVerifierRotation:   envBool("ALLOW_VERIFIER_ROTATION", false),
		RequireUserVerification: envBool("REQUIRE_USER_VERIFICATION", false),
		AllowedOrigins:          envList("ALLOWED_ORIGINS"),
		VerifierTimeout:         envDuration("VERIFIER_TIMEOUT", 10*time.Second),
		ClockSkew:               uint64(envInt("DISPATCH_CLOCK_SKEW", 60)),

		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 40),

		OTelEnabled:  envBool("OTEL_ENABLED", false),
		OTelEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),

		ArtifactStorageType: strings.ToLower(env("ARTIFACT_STORAGE_TYPE", "fs")),
		ArtifactS3Bucket:    os.Getenv("ARTIFACT_S3_BUCKET"),
		ArtifactS3Region:    env("ARTIFACT_S3_REGION", os.Getenv("AWS_REGION")),
		ArtifactS3Endpoint:  os.Getenv("ARTIFACT_S3_ENDPOINT"),
		ArtifactS3Prefix:    os.Getenv("ARTIFACT_S3_PREFIX"),
		ArtifactGCSBucket:   os.Getenv("ARTIFACT_GCS_BUCKET"),
		ArtifactGCSPrefix:   os.Getenv("ARTIFACT_GCS_PREFIX"),

		ReceiptSigningKey: os.Getenv("RECEIPT_SIGNING_KEY"),
		ConfigFile:        os.Getenv("DISPATCHER_CONFIG"),
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerSQL, LedgerRedis, LedgerFile, LedgerMemory:
	default:
		return fmt.Errorf("LEDGER_BACKEND %q: want sql, redis, file or memory", c.LedgerBackend)
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("LOG_LEVEL %q: want DEBUG, INFO, WARN or ERROR", c.LogLevel)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
