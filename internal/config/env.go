package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays Config with values from the process environment. A .env
// file in the working directory is loaded first if present; real environment
// variables win over .env entries (godotenv does not override).
func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	cfg.DatabaseDSN = getEnv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.LocalDBPath = getEnv("LOCAL_DB_PATH", cfg.LocalDBPath)
	cfg.CouchURL = getEnv("COUCH_URL", cfg.CouchURL)
	cfg.CouchDatabase = getEnv("COUCH_DB", cfg.CouchDatabase)
	cfg.IdentityBaseURL = getEnv("IDENTITY_API_URL", cfg.IdentityBaseURL)
	cfg.IdentityAPIKey = getEnv("IDENTITY_API_KEY", cfg.IdentityAPIKey)
	cfg.IdentityPageSize = getEnvAsInt("IDENTITY_PAGE_SIZE", cfg.IdentityPageSize)
	cfg.CloudSessionToken = getEnv("CLOUD_SESSION_TOKEN", cfg.CloudSessionToken)
	cfg.BackendBaseURL = getEnv("BACKEND_URL", cfg.BackendBaseURL)
	cfg.ProbeTTL = getEnvAsDuration("PROBE_TTL", cfg.ProbeTTL)
	cfg.ProbeTimeout = getEnvAsDuration("PROBE_TIMEOUT", cfg.ProbeTimeout)
	cfg.CallTimeout = getEnvAsDuration("CALL_TIMEOUT", cfg.CallTimeout)
	cfg.S3RootUser = getEnv("S3_ROOT_USER", cfg.S3RootUser)
	cfg.S3RootPassword = getEnv("S3_ROOT_PASSWORD", cfg.S3RootPassword)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Region = getEnv("S3_REGION", cfg.S3Region)
	cfg.S3BaseEndpoint = getEnv("S3_BASE_ENDPOINT", cfg.S3BaseEndpoint)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.FullSyncInterval = getEnvAsDuration("FULL_SYNC_INTERVAL", cfg.FullSyncInterval)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
