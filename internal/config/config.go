package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL       string
	DatabaseName      string
	NATSURL           string
	FingerprintBucket string
	CarriersFile      string
	TransitlandURL    string
	TransitlandAPIKey string
	DownloadDir       string
	DownloadTimeout   time.Duration
	BatchTimeout      time.Duration
	CutoverTimeout    time.Duration
	BatchSize         int
	Workers           int
	ProjectionTimeout time.Duration
	MetricsAddr       string
	PushgatewayURL    string
	LogLevel          string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database: DATABASE_URL / PG_DSN (a sqlite: DSN selects SQLite), else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}
	// Optional database override on the same cluster
	cfg.DatabaseName = os.Getenv("GTFS_DATABASE")

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.FingerprintBucket = getenvDefault("FINGERPRINT_BUCKET", "gtfs_fingerprints")

	cfg.CarriersFile = getenvDefault("CARRIERS_FILE", "carriers.yaml")
	cfg.TransitlandURL = os.Getenv("TRANSITLAND_URL")
	cfg.TransitlandAPIKey = firstNonEmpty(os.Getenv("TRANSITLAND_API_KEY"), os.Getenv("TRANSITLAND_KEY"))
	cfg.DownloadDir = getenvDefault("DOWNLOAD_DIR", os.TempDir())

	var err error
	if cfg.DownloadTimeout, err = seconds("DOWNLOAD_TIMEOUT_SEC", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BatchTimeout, err = seconds("BATCH_TIMEOUT_SEC", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CutoverTimeout, err = seconds("CUTOVER_TIMEOUT_SEC", time.Minute); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = positiveInt("BATCH_SIZE", 500_000); err != nil {
		return nil, err
	}

	// Realtime consumer pool
	if cfg.Workers, err = positiveInt("PROJECTOR_WORKERS", 8); err != nil {
		return nil, err
	}
	if v := os.Getenv("PROJECTION_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid PROJECTION_TIMEOUT_MS: %q", v)
		}
		cfg.ProjectionTimeout = time.Duration(ms) * time.Millisecond
	} else {
		cfg.ProjectionTimeout = 2 * time.Second
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	// Pushgateway for the one-shot importer. Empty disables the push.
	cfg.PushgatewayURL = os.Getenv("PUSHGATEWAY_URL")

	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))

	return cfg, nil
}

func seconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func positiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
