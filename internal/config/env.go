package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IMAGED_"

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored and variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from IMAGED_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("ADDR", &c.Addr)
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	str("MODELS_DIR", &c.ModelsDir)
	str("IMAGES_DIR", &c.ImagesDir)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("RENDERER", &c.Renderer.Kind)
	str("RENDER_COMMAND", &c.Renderer.Command)
	str("WORKER_MODE", &c.Worker.Mode)
	str("WORKER_BIN", &c.Worker.Bin)
	str("MINIO_ENDPOINT", &c.MinIO.Endpoint)
	str("MINIO_ACCESS_KEY", &c.MinIO.AccessKey)
	str("MINIO_SECRET_KEY", &c.MinIO.SecretKey)
	str("MINIO_BUCKET", &c.MinIO.Bucket)

	if v, ok := lookup(EnvPrefix + "SHUTDOWN_TIMEOUT_SECONDS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSHUTDOWN_TIMEOUT_SECONDS: %w", EnvPrefix, err)
		}
		c.ShutdownTimeoutSeconds = n
	}
	if v, ok := lookup(EnvPrefix + "MAX_BODY_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_BODY_BYTES: %w", EnvPrefix, err)
		}
		c.MaxBodyBytes = n
	}
	if v, ok := lookup(EnvPrefix + "MINIO_USE_SSL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMINIO_USE_SSL: %w", EnvPrefix, err)
		}
		c.MinIO.UseSSL = b
	}
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok && v != "" {
		c.CORS.Enabled = true
		c.CORS.Origins = SplitCSV(v)
	}
	return nil
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empties.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
