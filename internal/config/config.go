package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// DBDriver selects the SQL driver: "mysql" in production, "sqlite"
	// for local runs and tests.
	DBDriver string
	DSN      string
	RedisURL string

	ListenAddr string

	// CanonicalTZ is the single IANA zone all dates are bucketed in.
	CanonicalTZ string

	// FreezeSweepInterval is how often past-date summaries are frozen.
	FreezeSweepInterval time.Duration
}

func Load() *Config {
	return &Config{
		DBDriver:            getEnv("DB_DRIVER", "mysql"),
		DSN:                 getEnv("DSN", "vocabsync:vocabsync@tcp(localhost:3306)/vocabsync?parseTime=true"),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379"),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		CanonicalTZ:         getEnv("CANONICAL_TZ", "Asia/Shanghai"),
		FreezeSweepInterval: getDuration("FREEZE_SWEEP_INTERVAL", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
