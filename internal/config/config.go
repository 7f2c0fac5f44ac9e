// Package config loads street-kams server configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultAppID scopes every record and export path.
const DefaultAppID = "street-kams-v2"

// Config holds server configuration.
type Config struct {
	AppID       string
	AdminEmails []string
	DevMode     bool
	BaseURL     string // e.g. http://localhost:8080
	Port        int

	DBPath      string // SQLite database file
	DatabaseURL string // Postgres DSN; when set, visits are stored in Postgres

	FormSchema string // "blocks" or "campaigns"

	BlobBucket    string // S3 bucket for exports
	AWSRegion     string
	BlobDir       string // local export directory when no bucket is configured
	SigningSecret string // signs local blob download links

	ServiceName string
}

// Load reads a .env file if one exists, then builds a Config from the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return FromEnv()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		AppID:         envOrDefault("KAMS_APP_ID", DefaultAppID),
		AdminEmails:   splitList(os.Getenv("KAMS_ADMIN_EMAILS")),
		DevMode:       os.Getenv("KAMS_DEV_MODE") == "true",
		BaseURL:       envOrDefault("KAMS_BASE_URL", "http://localhost:8080"),
		Port:          envInt("KAMS_PORT", 8080),
		DBPath:        os.Getenv("KAMS_DB"),
		DatabaseURL:   os.Getenv("KAMS_DATABASE_URL"),
		FormSchema:    envOrDefault("KAMS_FORM_SCHEMA", "blocks"),
		BlobBucket:    os.Getenv("KAMS_BLOB_BUCKET"),
		AWSRegion:     envOrDefault("AWS_REGION", "us-east-1"),
		BlobDir:       os.Getenv("KAMS_BLOB_DIR"),
		SigningSecret: os.Getenv("KAMS_SIGNING_SECRET"),
		ServiceName:   envOrDefault("OTEL_SERVICE_NAME", "street-kams"),
	}
}

// ResolveBlobDir returns BlobDir, or a directory next to the database.
func (c Config) ResolveBlobDir() string {
	if c.BlobDir != "" {
		return c.BlobDir
	}
	if c.DBPath != "" {
		return filepath.Join(filepath.Dir(c.DBPath), "exports")
	}
	return filepath.Join(os.TempDir(), "street-kams-exports")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
